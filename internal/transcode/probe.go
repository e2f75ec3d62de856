package transcode

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// SourceInfo is what the planner needs to know about the source before it
// can build an Invocation. Probing works against any URL ffprobe can open,
// not just a local filesystem path.
type SourceInfo struct {
	DurationS      float64
	Width, Height  int
	VideoCodec     string
	Profile        string
	BitDepth       int
	ColorTransfer  string
	ColorPrimaries string
	IsHDR          bool
	BitrateBps     int64
	Subtitles      []SubtitleStreamInfo
}

// SubtitleStreamInfo describes one subtitle stream found in the source
// container, used to decide whether MKV-only subtitle filtering applies.
type SubtitleStreamInfo struct {
	Index     int
	CodecName string
}

type ffprobeStream struct {
	Index          int    `json:"index"`
	CodecType      string `json:"codec_type"`
	CodecName      string `json:"codec_name"`
	Profile        string `json:"profile"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	ColorTransfer  string `json:"color_transfer"`
	ColorPrimaries string `json:"color_primaries"`
	ColorSpace     string `json:"color_space"`
	PixFmt         string `json:"pix_fmt"`
	BitRate        string `json:"bit_rate"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

// Prober runs ffprobe against a source URL.
type Prober struct {
	FFprobePath string
}

// Probe inspects source and returns a SourceInfo. Any ffprobe failure is
// returned verbatim; the caller decides whether that's a validation error.
func (p *Prober) Probe(ctx context.Context, source string) (*SourceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.FFprobePath,
		"-v", "quiet", "-print_format", "json",
		"-show_format", "-show_streams", source)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &SourceInfo{}
	if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
		info.DurationS = d
	}
	if b, err := strconv.ParseInt(parsed.Format.BitRate, 10, 64); err == nil {
		info.BitrateBps = b
	}

	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
				info.Profile = s.Profile
				info.Width = s.Width
				info.Height = s.Height
				info.ColorTransfer = s.ColorTransfer
				info.ColorPrimaries = s.ColorPrimaries
				info.BitDepth = inferBitDepth(s.PixFmt, s.Profile)
			}
		case "subtitle":
			info.Subtitles = append(info.Subtitles, SubtitleStreamInfo{Index: s.Index, CodecName: s.CodecName})
		}
	}

	info.IsHDR = detectHDR(info.ColorTransfer, info.ColorPrimaries, info.BitDepth)
	return info, nil
}

// detectHDR: an explicit PQ/HLG transfer function is authoritative; missing transfer
// metadata with BT.2020 primaries and 10-bit depth is treated as a
// heuristic HDR signal (some encoders omit color_transfer for HDR sources).
func detectHDR(colorTransfer, colorPrimaries string, bitDepth int) bool {
	switch strings.ToLower(colorTransfer) {
	case "smpte2084", "arib-std-b67":
		return true
	}
	if colorTransfer == "" && strings.Contains(strings.ToLower(colorPrimaries), "bt2020") && bitDepth >= 10 {
		return true
	}
	return false
}

// inferBitDepth reads bit depth off the pixel format name (the common
// "yuv420p10le"-style suffix), falling back to profile hints, then 8.
func inferBitDepth(pixFmt, profile string) int {
	switch {
	case strings.Contains(pixFmt, "p10"), strings.Contains(pixFmt, "10le"), strings.Contains(pixFmt, "10be"):
		return 10
	case strings.Contains(pixFmt, "p12"):
		return 12
	}
	if strings.Contains(strings.ToLower(profile), "10") {
		return 10
	}
	return 8
}
