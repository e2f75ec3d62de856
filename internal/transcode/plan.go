package transcode

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/BleedingXiko/GhostStream/internal/config"
	"github.com/BleedingXiko/GhostStream/internal/hardware"
	"github.com/BleedingXiko/GhostStream/internal/jobs"
)

// abrRung is one fixed rung in the quality ladder named in §4.5.2.
type abrRung struct {
	name        string
	height      int
	bitrateKbps int
}

var abrLadder = []abrRung{
	{"2160p", 2160, 20000},
	{"1080p", 1080, 8000},
	{"720p", 720, 4000},
	{"480p", 480, 1500},
	{"360p", 360, 800},
}

// Rendition is one output stream of a plan: one HLS media playlist (stream
// and abr modes) or the single output file (batch mode).
type Rendition struct {
	Name           string
	Height         int
	InputArgs      []string
	OutputArgs     []string
	PlaylistPath   string // stream/abr
	SegmentPattern string // stream/abr
	OutputPath     string // batch
}

// Invocation is the fully-built, ready-to-spawn plan for one attempt of one
// job (§4.5.2). Rebuilt from scratch on every retry/fallback per the design
// note in §9 ("each retry reuses the original request and a fresh plan").
type Invocation struct {
	Source         string
	StartTimeS     float64
	Accel          hardware.Accel
	Codec          hardware.Codec
	SoftwareDecode bool
	Renditions     []Rendition
	MasterPlaylist string // stream/abr only
	TwoPassEnabled bool   // batch only; disabled after a software fallback (Open Question b)
	WorkingDir     string
	Subtitles      []FetchedSubtitle // stream/abr only, fetched once before the first attempt
}

// Planner builds Invocations from a Job and the current hardware/quality
// context, keeping "what arguments does ffmpeg need" (this file plus
// encoderargs.go) separate from "run and supervise the subprocess"
// (supervisor.go).
type Planner struct {
	Registry *hardware.Registry
	Cfg      *config.Config
	Caps     *hardware.Capabilities // nil only in tests that don't exercise tier limits
}

// Plan builds the Invocation for job's current attempt. qualityFactor comes
// from the admission controller (§4.3) and scales the ABR ladder's bitrate
// targets; forceAccel/forceSoftwareDecode let the retry/fallback path in
// dispatcher.go replan onto a different encoder without re-deriving
// everything else.
func (p *Planner) Plan(job *jobs.Job, src *SourceInfo, qualityFactor float64, forceAccel hardware.Accel, forceSoftwareDecode bool) (*Invocation, error) {
	codec := codecFor(job.Request.VideoCodec)

	accel := forceAccel
	if accel == "" {
		accel = p.selectEncoder(job.Request.HWAccel, codec)
	}

	softwareDecode := forceSoftwareDecode || hardware.RequiresSoftwareDecode(src.VideoCodec, src.Profile, src.BitDepth, accel)

	// The empty device string lets vaapiHWAccelArgs fall back to the default
	// render node; auto-detection of a specific /dev/dri/renderD* happens in
	// hardware.Registry.Detect and isn't threaded through per-invocation.
	vaapiDevice := ""

	hdrFilters := p.hdrFilters(src, accel, codec)

	inv := &Invocation{
		Source:         job.Request.Source,
		StartTimeS:     job.Request.StartTimeS,
		Accel:          accel,
		Codec:          codec,
		SoftwareDecode: softwareDecode,
		WorkingDir:     job.WorkingDir,
	}

	tierHeight := tierHeightLimit(p.Caps)
	tierBitrate := tierBitrateLimit(p.Caps)

	switch job.Request.Mode {
	case jobs.ModeBatch:
		outPath := filepath.Join(job.WorkingDir, "output."+containerOrDefault(job.Request.Container))
		in, out := buildEncodeArgs(accel, codec, vaapiDevice, softwareDecode, targetHeightFor(job.Request.Resolution, src.Height), src.Height, hdrFilters)
		out = appendMuxArgs(out, job.Request.Container)
		inv.Renditions = []Rendition{{Name: "output", OutputArgs: append(out, outPath), InputArgs: in, OutputPath: outPath}}
		inv.TwoPassEnabled = job.Request.TwoPass && accel == hardware.AccelNone && forceAccel == ""

	case jobs.ModeStream:
		// §4.5.2: stream resolution is capped by tier.max_resolution scaled by
		// the admission controller's quality_factor, and by the source's own
		// dimensions — whichever is smaller.
		streamCap := src.Height
		if tierHeight > 0 {
			if scaled := int(float64(tierHeight) * qualityFactor); scaled < streamCap {
				streamCap = scaled
			}
		}
		height := targetHeightFor(job.Request.Resolution, streamCap)
		bitrate := scaledBitrate(tierBitrate, qualityFactor)
		rendition, err := p.buildHLSRendition("stream", height, bitrate, accel, codec, vaapiDevice, softwareDecode, hdrFilters, job.WorkingDir)
		if err != nil {
			return nil, err
		}
		inv.Renditions = []Rendition{rendition}
		inv.MasterPlaylist = filepath.Join(job.WorkingDir, "master.m3u8")

	case jobs.ModeABR:
		// §4.5.2: ABR keeps only rungs whose height is <= min(source height,
		// tier cap) — the tier ceiling applies unscaled here; quality_factor
		// instead scales each surviving rung's bitrate (also capped by the
		// tier's max bitrate).
		abrCap := src.Height
		if tierHeight > 0 && tierHeight < abrCap {
			abrCap = tierHeight
		}
		rungs := selectABRRungs(abrCap, p.Cfg.Transcoding.ABRMaxVariants)
		for _, r := range rungs {
			bitrate := int(float64(r.bitrateKbps) * qualityFactor)
			if tierBitrate > 0 && bitrate > tierBitrate {
				bitrate = tierBitrate
			}
			rendition, err := p.buildHLSRendition(r.name, r.height, bitrate, accel, codec, vaapiDevice, softwareDecode, hdrFilters, job.WorkingDir)
			if err != nil {
				return nil, err
			}
			inv.Renditions = append(inv.Renditions, rendition)
		}
		inv.MasterPlaylist = filepath.Join(job.WorkingDir, "master.m3u8")

	default:
		return nil, fmt.Errorf("transcode: unknown mode %q", job.Request.Mode)
	}

	return inv, nil
}

func (p *Planner) buildHLSRendition(name string, height, bitrateKbps int, accel hardware.Accel, codec hardware.Codec, vaapiDevice string, softwareDecode bool, hdrFilters []string, workingDir string) (Rendition, error) {
	in, out := buildEncodeArgs(accel, codec, vaapiDevice, softwareDecode, height, height+1, hdrFilters)
	if bitrateKbps > 0 {
		out = append(out, "-maxrate", fmt.Sprintf("%dk", bitrateKbps), "-bufsize", fmt.Sprintf("%dk", bitrateKbps*2))
	}
	out = append(out, "-map", "0:v:0", "-map", "0:a?", "-c:a", "aac", "-b:a", "128k")

	dir := filepath.Join(workingDir, name)
	playlist := filepath.Join(dir, "playlist.m3u8")
	segPattern := filepath.Join(dir, "segment_%05d.ts")

	segDuration := p.Cfg.Transcoding.SegmentDurationS
	if segDuration <= 0 {
		segDuration = 4
	}

	out = append(out,
		"-f", "hls",
		"-hls_time", strconv.Itoa(segDuration),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", segPattern,
		playlist,
	)

	return Rendition{
		Name:           name,
		Height:         height,
		InputArgs:      in,
		OutputArgs:     out,
		PlaylistPath:   playlist,
		SegmentPattern: segPattern,
	}, nil
}

// codecFor resolves the request's video_codec field to an encoder family,
// defaulting to HEVC (§3 data model default) when unset or unrecognized.
func codecFor(requested string) hardware.Codec {
	switch requested {
	case "h264":
		return hardware.CodecH264
	case "av1":
		return hardware.CodecAV1
	default:
		return hardware.CodecHEVC
	}
}

// selectEncoder implements §4.5.3: an explicit request wins if available,
// "auto" walks the preference order.
func (p *Planner) selectEncoder(requested string, codec hardware.Codec) hardware.Accel {
	if requested != "" && requested != "auto" {
		accel := hardware.Accel(requested)
		if p.Registry != nil && p.Registry.Available(accel, codec) {
			return accel
		}
	}
	if p.Registry == nil {
		return hardware.AccelNone
	}
	return p.Registry.Best(codec).Accel
}

// hdrFilters returns the tonemap filter stage when the source is HDR and
// the target codec is H.264 or HEVC, whose output here is 8-bit (§4.5.2).
func (p *Planner) hdrFilters(src *SourceInfo, accel hardware.Accel, codec hardware.Codec) []string {
	if !src.IsHDR || !p.Cfg.Transcoding.ToneMapHDR {
		return nil
	}
	if codec != hardware.CodecH264 && codec != hardware.CodecHEVC {
		return nil
	}
	algo := config.ValidateTonemapAlgorithm(config.DefaultTonemapAlgorithm)
	return []string{fmt.Sprintf("zscale=t=linear:npl=100,format=gbrpf32le,zscale=p=bt709,tonemap=%s:desat=0,zscale=t=bt709:m=bt709:r=tv,format=yuv420p", algo)}
}

// selectABRRungs keeps rungs whose height is <= source height, capped at
// maxVariants, per §4.5.2's "retaining only rungs whose height <= source".
// A source below the smallest rung never upscales to any fixed rung; it
// gets exactly one rendition at its own height instead (§8 boundary
// behavior: "original or nearest lower").
func selectABRRungs(sourceHeight, maxVariants int) []abrRung {
	var out []abrRung
	for _, r := range abrLadder {
		if r.height > sourceHeight {
			continue
		}
		out = append(out, r)
		if maxVariants > 0 && len(out) >= maxVariants {
			break
		}
	}
	if len(out) == 0 {
		smallest := abrLadder[len(abrLadder)-1]
		out = append(out, abrRung{name: fmt.Sprintf("%dp", sourceHeight), height: sourceHeight, bitrateKbps: smallest.bitrateKbps})
	}
	return out
}

// tierHeightLimit returns the pixel-height ceiling of caps' tier, or 0 when
// caps is nil (tests that plan without a hardware profile) — callers treat 0
// as uncapped.
func tierHeightLimit(caps *hardware.Capabilities) int {
	if caps == nil {
		return 0
	}
	return parseResolutionHeight(caps.Limits.MaxResolution)
}

// tierBitrateLimit returns the kbps ceiling of caps' tier, or 0 (uncapped)
// when caps is nil.
func tierBitrateLimit(caps *hardware.Capabilities) int {
	if caps == nil {
		return 0
	}
	return caps.Limits.MaxBitrateKbps
}

// scaledBitrate applies quality_factor to a tier bitrate ceiling, returning
// 0 (meaning "no -maxrate cap") when tierBitrate is itself uncapped.
func scaledBitrate(tierBitrate int, qualityFactor float64) int {
	if tierBitrate <= 0 {
		return 0
	}
	return int(float64(tierBitrate) * qualityFactor)
}

// targetHeightFor resolves the requested resolution string against the
// source height, never upscaling (§3 boundary behavior, §4.5.2).
func targetHeightFor(requested string, sourceHeight int) int {
	if requested == "" || requested == "auto" {
		return sourceHeight
	}
	h := parseResolutionHeight(requested)
	if h <= 0 || h > sourceHeight {
		return sourceHeight
	}
	return h
}

func parseResolutionHeight(res string) int {
	n := 0
	for _, c := range res {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func containerOrDefault(container string) string {
	if container == "" {
		return "mp4"
	}
	return container
}

func appendMuxArgs(out []string, container string) []string {
	if container == "mkv" {
		return append(out, "-map", "0:s?", "-c:s", "copy", "-c:a", "copy")
	}
	return append(out, "-c:a", "aac", "-b:a", "192k", "-sn")
}
