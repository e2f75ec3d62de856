package hardware

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// ErrEncoderToolMissing is returned by Profile only when the encoder tool
// itself cannot be executed at all — the one startup condition this system
// treats as fatal (§4.1, §6 exit code 2).
var ErrEncoderToolMissing = errors.New("hardware: encoder tool not found")

// Tier is a coarse classification of encoding capability, used to derive
// default concurrency and quality ceilings (§4.1).
type Tier string

const (
	TierUltra    Tier = "ultra"
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
	TierLow      Tier = "low"
	TierMinimal  Tier = "minimal"
)

// TierLimits is the fixed (max_resolution, max_bitrate, suggested_max_jobs)
// table keyed by Tier.
type TierLimits struct {
	MaxResolution    string
	MaxBitrateKbps   int
	SuggestedMaxJobs int
}

var tierTable = map[Tier]TierLimits{
	TierUltra:   {"2160p", 25000, 4},
	TierHigh:    {"1440p", 15000, 3},
	TierMedium:  {"1080p", 8000, 2},
	TierLow:     {"720p", 4000, 1},
	TierMinimal: {"480p", 2000, 1},
}

// Limits returns the (resolution, bitrate, job-count) ceiling for a tier.
func Limits(t Tier) TierLimits {
	if l, ok := tierTable[t]; ok {
		return l
	}
	return tierTable[TierMinimal]
}

// Capabilities is the immutable-after-startup snapshot served at
// /api/capabilities (§3, §6).
type Capabilities struct {
	Tier             Tier      `json:"tier"`
	Limits           TierLimits `json:"limits"`
	Encoders         []Encoder `json:"encoders"`
	SoftwareOnly     bool      `json:"software_only"`
	VRAMMB           int       `json:"vram_mb"`
	HasBattery       bool      `json:"has_battery"`
	OnACPower        bool      `json:"on_ac_power"`
	OS               string    `json:"os"`
	FFmpegPath       string    `json:"-"`
}

// Profile runs the full startup probe: encoder detection, VRAM query,
// battery/chassis detection, and tier classification. The only fatal
// failure is the encoder tool itself being unexecutable; everything else
// degrades to a lesser tier or false/zero values.
func Profile(ffmpegPath string) (*Capabilities, error) {
	_, caps, err := ProfileWithRegistry(ffmpegPath)
	return caps, err
}

// ProfileWithRegistry runs the same startup probe as Profile but returns the
// backing Registry too, so callers that need to walk the encoder-fallback
// chain later (the transcode dispatcher, via Planner) share the same
// detection result instead of re-probing ffmpeg a second time.
func ProfileWithRegistry(ffmpegPath string) (*Registry, *Capabilities, error) {
	if _, err := exec.LookPath(ffmpegPath); err != nil {
		if !strings.Contains(ffmpegPath, string(os.PathSeparator)) {
			return nil, nil, ErrEncoderToolMissing
		}
		if _, statErr := os.Stat(ffmpegPath); statErr != nil {
			return nil, nil, ErrEncoderToolMissing
		}
	}

	reg := NewRegistry()
	encoders := reg.Detect(ffmpegPath)

	hasHW := false
	for _, e := range encoders {
		if e.Accel != AccelNone && e.Available {
			hasHW = true
			break
		}
	}

	vram := probeVRAM()
	hasBattery, onAC := probePower()

	tier := classify(hasHW, vram)

	return reg, &Capabilities{
		Tier:         tier,
		Limits:       Limits(tier),
		Encoders:     encoders,
		SoftwareOnly: !hasHW,
		VRAMMB:       vram,
		HasBattery:   hasBattery,
		OnACPower:    onAC,
		OS:           runtime.GOOS,
		FFmpegPath:   ffmpegPath,
	}, nil
}

func classify(hasHW bool, vramMB int) Tier {
	switch {
	case !hasHW:
		return TierMinimal
	case vramMB >= 8192:
		return TierUltra
	case vramMB >= 6144:
		return TierHigh
	case vramMB >= 4096:
		return TierMedium
	default:
		return TierLow
	}
}

// probeVRAM shells out to the vendor tool a discrete GPU exposes, following
// the same "missing tool => that family reports unavailable, never fatal"
// discipline the encoder probe uses. Returns 0 when no discrete GPU tool is
// found (integrated or software-only machines).
func probeVRAM() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if out, err := exec.CommandContext(ctx, "nvidia-smi", "--query-gpu=memory.total", "--format=csv,noheader,nounits").Output(); err == nil {
		line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
		if mb, convErr := strconv.Atoi(line); convErr == nil {
			return mb
		}
	}
	return 0
}

// probePower reports whether the host has a battery and whether it is
// currently on AC power, via /sys/class/power_supply on Linux and pmset on
// Darwin. Windows and unrecognized hosts report (false, true) — treated as
// always-AC, which never triggers the battery admission rule.
func probePower() (hasBattery, onAC bool) {
	switch runtime.GOOS {
	case "linux":
		entries, err := os.ReadDir("/sys/class/power_supply")
		if err != nil {
			return false, true
		}
		onAC = true
		for _, e := range entries {
			name := e.Name()
			if strings.HasPrefix(name, "BAT") {
				hasBattery = true
				if statusBytes, rerr := os.ReadFile("/sys/class/power_supply/" + name + "/status"); rerr == nil {
					status := strings.TrimSpace(string(statusBytes))
					onAC = status != "Discharging"
				}
			}
			if strings.HasPrefix(name, "AC") || strings.HasPrefix(name, "ADP") {
				if onlineBytes, rerr := os.ReadFile("/sys/class/power_supply/" + name + "/online"); rerr == nil {
					onAC = strings.TrimSpace(string(onlineBytes)) == "1"
				}
			}
		}
		return hasBattery, onAC
	case "darwin":
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		out, err := exec.CommandContext(ctx, "pmset", "-g", "batt").Output()
		if err != nil {
			return false, true
		}
		s := string(out)
		hasBattery = strings.Contains(s, "InternalBattery")
		onAC = strings.Contains(s, "AC Power")
		return hasBattery, onAC
	default:
		return false, true
	}
}
