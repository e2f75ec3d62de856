package transcode

import (
	"testing"

	"github.com/BleedingXiko/GhostStream/internal/config"
	"github.com/BleedingXiko/GhostStream/internal/hardware"
	"github.com/BleedingXiko/GhostStream/internal/jobs"
)

func TestSelectABRRungsCapsAtSourceHeightAndMaxVariants(t *testing.T) {
	rungs := selectABRRungs(1080, 3)
	if len(rungs) != 3 {
		t.Fatalf("expected 3 rungs, got %d", len(rungs))
	}
	for _, r := range rungs {
		if r.height > 1080 {
			t.Fatalf("rung %s exceeds source height", r.name)
		}
	}
}

func TestSelectABRRungsNeverEmpty(t *testing.T) {
	rungs := selectABRRungs(240, 5)
	if len(rungs) == 0 {
		t.Fatal("expected one rung at the source's own height below the ladder's floor")
	}
}

func TestTargetHeightForNeverUpscales(t *testing.T) {
	if h := targetHeightFor("1080p", 720); h != 720 {
		t.Fatalf("expected clamp to source height 720, got %d", h)
	}
	if h := targetHeightFor("480p", 1080); h != 480 {
		t.Fatalf("expected requested height 480, got %d", h)
	}
	if h := targetHeightFor("auto", 900); h != 900 {
		t.Fatalf("expected source height passthrough, got %d", h)
	}
}

func TestPlanBatchModeBuildsSingleRendition(t *testing.T) {
	p := &Planner{Registry: hardware.NewRegistry(), Cfg: config.DefaultConfig()}
	job := &jobs.Job{
		Request:    jobs.Request{Source: "http://h/v.mkv", Mode: jobs.ModeBatch, VideoCodec: "hevc", Container: "mp4"},
		WorkingDir: "/tmp/job1",
	}
	src := &SourceInfo{Width: 1920, Height: 1080, VideoCodec: "h264", DurationS: 60}

	inv, err := p.Plan(job, src, 1.0, "", false)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(inv.Renditions) != 1 {
		t.Fatalf("expected exactly one rendition for batch mode, got %d", len(inv.Renditions))
	}
	if inv.Renditions[0].OutputPath == "" {
		t.Fatal("expected batch rendition to carry an output path")
	}
	if inv.MasterPlaylist != "" {
		t.Fatal("batch mode should not produce a master playlist")
	}
}

func TestPlanABRModeBuildsMultipleRenditionsWithMasterPlaylist(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Transcoding.ABRMaxVariants = 4
	p := &Planner{Registry: hardware.NewRegistry(), Cfg: cfg}
	job := &jobs.Job{
		Request:    jobs.Request{Source: "http://h/v.mkv", Mode: jobs.ModeABR, VideoCodec: "hevc"},
		WorkingDir: "/tmp/job2",
	}
	src := &SourceInfo{Width: 1920, Height: 1080, VideoCodec: "h264", DurationS: 120}

	inv, err := p.Plan(job, src, 1.0, "", false)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(inv.Renditions) < 2 {
		t.Fatalf("expected multiple ABR renditions, got %d", len(inv.Renditions))
	}
	if inv.MasterPlaylist == "" {
		t.Fatal("expected ABR mode to produce a master playlist path")
	}
}

func TestPlanSelectsSoftwareWhenNoHardwareAvailable(t *testing.T) {
	p := &Planner{Registry: hardware.NewRegistry(), Cfg: config.DefaultConfig()}
	job := &jobs.Job{
		Request:    jobs.Request{Source: "http://h/v.mkv", Mode: jobs.ModeStream, HWAccel: "auto", VideoCodec: "hevc"},
		WorkingDir: "/tmp/job3",
	}
	src := &SourceInfo{Width: 1280, Height: 720, VideoCodec: "h264", DurationS: 30}

	inv, err := p.Plan(job, src, 1.0, "", false)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if inv.Accel != hardware.AccelNone {
		t.Fatalf("expected software fallback with an undetected registry, got %v", inv.Accel)
	}
}

func TestPlanClampsStreamResolutionAndBitrateToTier(t *testing.T) {
	caps := &hardware.Capabilities{Limits: hardware.Limits(hardware.TierLow)} // 720p / 4000kbps
	p := &Planner{Registry: hardware.NewRegistry(), Cfg: config.DefaultConfig(), Caps: caps}
	job := &jobs.Job{
		Request:    jobs.Request{Source: "http://h/v.mkv", Mode: jobs.ModeStream, VideoCodec: "hevc"},
		WorkingDir: "/tmp/job5",
	}
	src := &SourceInfo{Width: 3840, Height: 2160, VideoCodec: "h264", DurationS: 30}

	inv, err := p.Plan(job, src, 1.0, "", false)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if inv.Renditions[0].Height > 720 {
		t.Fatalf("expected stream rendition clamped to the low tier's 720p ceiling, got %d", inv.Renditions[0].Height)
	}
}

func TestPlanClampsABRRungsToTierCeiling(t *testing.T) {
	caps := &hardware.Capabilities{Limits: hardware.Limits(hardware.TierLow)} // 720p ceiling
	cfg := config.DefaultConfig()
	cfg.Transcoding.ABRMaxVariants = 4
	p := &Planner{Registry: hardware.NewRegistry(), Cfg: cfg, Caps: caps}
	job := &jobs.Job{
		Request:    jobs.Request{Source: "http://h/v.mkv", Mode: jobs.ModeABR, VideoCodec: "hevc"},
		WorkingDir: "/tmp/job6",
	}
	src := &SourceInfo{Width: 3840, Height: 2160, VideoCodec: "h264", DurationS: 120}

	inv, err := p.Plan(job, src, 1.0, "", false)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	for _, r := range inv.Renditions {
		if r.Height > 720 {
			t.Fatalf("expected every ABR rung capped at the low tier's 720p ceiling, got %d for %s", r.Height, r.Name)
		}
	}
}

func TestPlanHonorsExplicitEncoderRequestWhenAvailable(t *testing.T) {
	reg := hardware.NewRegistry()
	p := &Planner{Registry: reg, Cfg: config.DefaultConfig()}
	job := &jobs.Job{
		Request:    jobs.Request{Source: "http://h/v.mkv", Mode: jobs.ModeStream, HWAccel: "software", VideoCodec: "hevc"},
		WorkingDir: "/tmp/job4",
	}
	src := &SourceInfo{Width: 1280, Height: 720, VideoCodec: "h264", DurationS: 30}

	inv, err := p.Plan(job, src, 1.0, "", false)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if inv.Accel != hardware.AccelNone {
		t.Fatalf("expected explicit software request honored, got %v", inv.Accel)
	}
}
