// Package hardware implements the startup-only hardware profiler: encoder
// family detection, tier classification, and the capabilities snapshot
// served at /api/capabilities.
//
// Encoder probing works by test-encoding a blank frame with each candidate
// encoder and checking whether ffmpeg accepts it, covering NVENC, QSV, AMD
// AMF, and VideoToolbox alongside the software x264 fallback, preferring
// NVENC first among available hardware encoders.
package hardware

import (
	"context"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Accel identifies a hardware acceleration family.
type Accel string

const (
	AccelNone         Accel = "software"
	AccelNVENC        Accel = "nvenc"
	AccelQSV          Accel = "qsv"
	AccelVAAPI        Accel = "vaapi"
	AccelAMF          Accel = "amf"
	AccelVideoToolbox Accel = "videotoolbox"
)

// Codec identifies a target video codec family.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecHEVC Codec = "hevc"
	CodecAV1  Codec = "av1"
)

// Preference is the fixed encoder-selection priority order named in the
// transcode engine's encoder-selection rule: NVENC, QSV, VAAPI, AMF,
// VideoToolbox, software.
var Preference = []Accel{AccelNVENC, AccelQSV, AccelVAAPI, AccelAMF, AccelVideoToolbox, AccelNone}

// Encoder describes one (accel, codec) combination and whether it actually
// produced a frame during startup probing.
type Encoder struct {
	Accel     Accel  `json:"accel"`
	Codec     Codec  `json:"codec"`
	Name      string `json:"name"`
	FFName    string `json:"ffmpeg_name"`
	Available bool   `json:"available"`
}

type encoderKey struct {
	Accel Accel
	Codec Codec
}

var encoderDefs = []Encoder{
	{AccelNVENC, CodecH264, "NVENC H.264", "h264_nvenc", false},
	{AccelNVENC, CodecHEVC, "NVENC HEVC", "hevc_nvenc", false},
	{AccelNVENC, CodecAV1, "NVENC AV1", "av1_nvenc", false},
	{AccelQSV, CodecH264, "Quick Sync H.264", "h264_qsv", false},
	{AccelQSV, CodecHEVC, "Quick Sync HEVC", "hevc_qsv", false},
	{AccelQSV, CodecAV1, "Quick Sync AV1", "av1_qsv", false},
	{AccelVAAPI, CodecH264, "VAAPI H.264", "h264_vaapi", false},
	{AccelVAAPI, CodecHEVC, "VAAPI HEVC", "hevc_vaapi", false},
	{AccelVAAPI, CodecAV1, "VAAPI AV1", "av1_vaapi", false},
	{AccelAMF, CodecH264, "AMD AMF H.264", "h264_amf", false},
	{AccelAMF, CodecHEVC, "AMD AMF HEVC", "hevc_amf", false},
	{AccelAMF, CodecAV1, "AMD AMF AV1", "av1_amf", false},
	{AccelVideoToolbox, CodecH264, "VideoToolbox H.264", "h264_videotoolbox", false},
	{AccelVideoToolbox, CodecHEVC, "VideoToolbox HEVC", "hevc_videotoolbox", false},
	{AccelVideoToolbox, CodecAV1, "VideoToolbox AV1", "av1_videotoolbox", false},
	{AccelNone, CodecH264, "Software H.264", "libx264", true},
	{AccelNone, CodecHEVC, "Software HEVC", "libx265", true},
	{AccelNone, CodecAV1, "Software AV1", "libsvtav1", true},
}

// Registry caches the detection result for process lifetime; detection runs
// once at startup (§4.1: "At startup only").
type Registry struct {
	mu          sync.RWMutex
	encoders    map[encoderKey]Encoder
	detected    bool
	vaapiDevice string
}

// NewRegistry returns an empty, undetected registry.
func NewRegistry() *Registry {
	return &Registry{encoders: make(map[encoderKey]Encoder)}
}

// Detect probes ffmpegPath's advertised encoder list, then test-encodes each
// hardware family. Software encoders are always reported available. Safe to
// call more than once; only the first call does work.
func (r *Registry) Detect(ffmpegPath string) []Encoder {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.detected {
		return r.snapshotLocked()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, ffmpegPath, "-encoders", "-hide_banner").Output()
	listed := string(out)
	if err != nil {
		listed = ""
	}

	for _, def := range encoderDefs {
		key := encoderKey{def.Accel, def.Codec}
		if def.Accel == AccelNone {
			r.encoders[key] = def
			continue
		}
		if !strings.Contains(listed, def.FFName) {
			def.Available = false
			r.encoders[key] = def
			continue
		}
		def.Available = r.testEncoder(ffmpegPath, def.FFName)
		r.encoders[key] = def
	}
	r.detected = true
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []Encoder {
	out := make([]Encoder, 0, len(r.encoders))
	for _, accel := range Preference {
		for _, codec := range []Codec{CodecH264, CodecHEVC, CodecAV1} {
			if e, ok := r.encoders[encoderKey{accel, codec}]; ok {
				out = append(out, e)
			}
		}
	}
	return out
}

// testEncoder attempts a single-frame test encode against a synthetic color
// source, using a per-family init strategy: direct QSV init falling back to
// VAAPI-derived init, explicit CUDA device init for NVENC, and AMF probed
// the same way VAAPI is since both take a D3D/DRM hardware context rather
// than accepting software frames directly.
func (r *Registry) testEncoder(ffmpegPath, encoder string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run := func(args []string) bool {
		return exec.CommandContext(ctx, ffmpegPath, args...).Run() == nil
	}

	testSrc := []string{"-f", "lavfi", "-i", "color=c=black:s=256x256:d=0.1"}

	switch {
	case strings.Contains(encoder, "qsv") && runtime.GOOS == "linux":
		direct := append([]string{"-init_hw_device", "qsv=qsv", "-filter_hw_device", "qsv"}, testSrc...)
		direct = append(direct, "-vf", "format=nv12,hwupload=extra_hw_frames=64", "-frames:v", "1", "-c:v", encoder, "-f", "null", "-")
		if run(direct) {
			return true
		}
		device := r.detectVAAPIDeviceLocked()
		if device == "" {
			return false
		}
		viaVAAPI := append([]string{"-init_hw_device", "vaapi=va:" + device, "-init_hw_device", "qsv=qs@va", "-filter_hw_device", "qs"}, testSrc...)
		viaVAAPI = append(viaVAAPI, "-vf", "format=nv12,hwupload=extra_hw_frames=64", "-frames:v", "1", "-c:v", encoder, "-f", "null", "-")
		return run(viaVAAPI)

	case strings.Contains(encoder, "vaapi"), strings.Contains(encoder, "amf") && runtime.GOOS == "linux":
		device := r.detectVAAPIDeviceLocked()
		if device == "" {
			return false
		}
		args := append([]string{"-init_hw_device", "vaapi=va:" + device, "-filter_hw_device", "va"}, testSrc...)
		args = append(args, "-vf", "format=nv12,hwupload", "-frames:v", "1", "-c:v", encoder, "-f", "null", "-")
		return run(args)

	case strings.Contains(encoder, "nvenc"):
		simple := append([]string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"}, testSrc...)
		simple = append(simple, "-frames:v", "1", "-c:v", encoder, "-f", "null", "-")
		if run(simple) {
			return true
		}
		explicit := append([]string{"-init_hw_device", "cuda=cu:0", "-filter_hw_device", "cu", "-hwaccel", "cuda", "-hwaccel_output_format", "cuda"}, testSrc...)
		explicit = append(explicit, "-frames:v", "1", "-c:v", encoder, "-f", "null", "-")
		return run(explicit)

	default:
		args := append(append([]string{}, testSrc...), "-frames:v", "1", "-c:v", encoder, "-f", "null", "-")
		return run(args)
	}
}

func (r *Registry) detectVAAPIDeviceLocked() string {
	if r.vaapiDevice != "" {
		return r.vaapiDevice
	}
	entries, err := filepath.Glob("/dev/dri/renderD*")
	if err != nil || len(entries) == 0 {
		return ""
	}
	sort.Strings(entries)
	r.vaapiDevice = entries[0]
	return r.vaapiDevice
}

// ValidAccel reports whether name is one of the known acceleration family
// names (the hw_accel request field's fixed enum range, §3), returning the
// typed Accel on success.
func ValidAccel(name string) (Accel, bool) {
	for _, a := range Preference {
		if string(a) == name {
			return a, true
		}
	}
	return "", false
}

// HasFamily reports whether accel produced a frame for at least one codec
// during Detect, used to reject an explicit hw_accel request for hardware
// this host doesn't actually have (§8 boundary behavior).
func (r *Registry) HasFamily(accel Accel) bool {
	if accel == AccelNone {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, codec := range []Codec{CodecH264, CodecHEVC, CodecAV1} {
		if e, ok := r.encoders[encoderKey{accel, codec}]; ok && e.Available {
			return true
		}
	}
	return false
}

// Available reports whether family/codec produced a frame during Detect.
func (r *Registry) Available(accel Accel, codec Codec) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.encoders[encoderKey{accel, codec}]
	return ok && e.Available
}

// Best returns the highest-priority available encoder for codec, following
// Preference. Always succeeds: software is always available.
func (r *Registry) Best(codec Codec) Encoder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, accel := range Preference {
		if e, ok := r.encoders[encoderKey{accel, codec}]; ok && e.Available {
			return e
		}
	}
	if e, ok := r.encoders[encoderKey{AccelNone, codec}]; ok {
		return e
	}
	for _, def := range encoderDefs {
		if def.Accel == AccelNone && def.Codec == codec {
			return def
		}
	}
	return Encoder{Accel: AccelNone, Codec: codec}
}

// Fallback returns the next-lower-priority available encoder after current,
// or false if current is already software. Grounds the transcode engine's
// hardware-failure recovery path (§4.5.5).
func (r *Registry) Fallback(current Accel, codec Codec) (Encoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := -1
	for i, a := range Preference {
		if a == current {
			idx = i
			break
		}
	}
	if idx == -1 || current == AccelNone {
		return Encoder{}, false
	}
	for i := idx + 1; i < len(Preference); i++ {
		if e, ok := r.encoders[encoderKey{Preference[i], codec}]; ok && e.Available {
			return e, true
		}
	}
	return Encoder{}, false
}

// List returns every known encoder combination in preference order.
func (r *Registry) List() []Encoder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// RequiresSoftwareDecode flags source/codec/profile combinations no hardware
// decoder handles reliably, per a fixed per-family limitation table.
func RequiresSoftwareDecode(sourceCodec, profile string, bitDepth int, encoder Accel) bool {
	if encoder == AccelNone {
		return false
	}
	sourceCodec = strings.ToLower(sourceCodec)
	profile = strings.ToLower(profile)

	if (sourceCodec == "h264" || sourceCodec == "avc") && bitDepth >= 10 && encoder != AccelNVENC {
		return true
	}
	switch encoder {
	case AccelQSV:
		if sourceCodec == "vc1" || sourceCodec == "wmv3" {
			return true
		}
		if sourceCodec == "mpeg4" && !strings.HasPrefix(profile, "simple") {
			return true
		}
	case AccelVAAPI, AccelAMF:
		if sourceCodec == "vc1" || sourceCodec == "wmv3" {
			return true
		}
	case AccelNVENC:
		if sourceCodec == "vc1" {
			return true
		}
	}
	return false
}
