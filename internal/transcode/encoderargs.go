// Package transcode implements the Transcode Engine (C5, §4.5): invocation
// planning, encoder selection, subprocess supervision, progress parsing, and
// the retry/fallback decision tree.
//
// Argument-building maps a per-encoder quality flag, hwaccel init args, and
// scale filter to arbitrary resolution/bitrate targets driven by a request
// or an ABR rung, rather than a fixed preset list.
package transcode

import (
	"fmt"
	"strings"

	"github.com/BleedingXiko/GhostStream/internal/hardware"
)

// encoderSettings is a per-(accel,codec) FFmpeg parameter table: which
// encoder binary name, which quality flag, and what filter
// chain scaffolding it needs.
type encoderSettings struct {
	ffName      string
	qualityFlag string
	quality     string
	extraArgs   []string
	scaleFilter string
	baseFilter  string
	hwaccelArgs func(vaapiDevice string, softwareDecode bool) []string
}

var encoderTable = map[hardware.Accel]map[hardware.Codec]encoderSettings{
	hardware.AccelNone: {
		hardware.CodecH264: {ffName: "libx264", qualityFlag: "-crf", quality: "23", extraArgs: []string{"-preset", "medium"}, scaleFilter: "scale"},
		hardware.CodecHEVC: {ffName: "libx265", qualityFlag: "-crf", quality: "26", extraArgs: []string{"-preset", "medium"}, scaleFilter: "scale"},
		hardware.CodecAV1:  {ffName: "libsvtav1", qualityFlag: "-crf", quality: "35", extraArgs: []string{"-preset", "6"}, scaleFilter: "scale"},
	},
	hardware.AccelNVENC: {
		hardware.CodecH264: {
			ffName: "h264_nvenc", qualityFlag: "-cq", quality: "23",
			extraArgs: []string{"-preset", "p4", "-tune", "hq", "-rc", "vbr"},
			scaleFilter: "scale_cuda", baseFilter: "scale_cuda=format=nv12",
			hwaccelArgs: func(_ string, sw bool) []string {
				if sw {
					return nil
				}
				return []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"}
			},
		},
		hardware.CodecHEVC: {
			ffName: "hevc_nvenc", qualityFlag: "-cq", quality: "28",
			extraArgs: []string{"-preset", "p4", "-tune", "hq", "-rc", "vbr"},
			scaleFilter: "scale_cuda", baseFilter: "scale_cuda=format=nv12",
			hwaccelArgs: func(_ string, sw bool) []string {
				if sw {
					return nil
				}
				return []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"}
			},
		},
		hardware.CodecAV1: {
			ffName: "av1_nvenc", qualityFlag: "-cq", quality: "32",
			extraArgs: []string{"-preset", "p4", "-tune", "hq", "-rc", "vbr"},
			scaleFilter: "scale_cuda", baseFilter: "scale_cuda=format=nv12",
			hwaccelArgs: func(_ string, sw bool) []string {
				if sw {
					return nil
				}
				return []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"}
			},
		},
	},
	hardware.AccelQSV: {
		hardware.CodecH264: {
			ffName: "h264_qsv", qualityFlag: "-global_quality", quality: "23",
			extraArgs: []string{"-preset", "medium"},
			scaleFilter: "scale_qsv", baseFilter: "format=nv12|qsv,hwupload=extra_hw_frames=64,scale_qsv=format=nv12",
			hwaccelArgs: func(_ string, sw bool) []string {
				args := []string{"-init_hw_device", "qsv=qsv", "-filter_hw_device", "qsv"}
				if !sw {
					args = append(args, "-hwaccel", "qsv", "-hwaccel_output_format", "qsv")
				}
				return args
			},
		},
		hardware.CodecHEVC: {
			ffName: "hevc_qsv", qualityFlag: "-global_quality", quality: "27",
			extraArgs: []string{"-preset", "medium"},
			scaleFilter: "scale_qsv", baseFilter: "format=nv12|qsv,hwupload=extra_hw_frames=64,scale_qsv=format=nv12",
			hwaccelArgs: func(_ string, sw bool) []string {
				args := []string{"-init_hw_device", "qsv=qsv", "-filter_hw_device", "qsv"}
				if !sw {
					args = append(args, "-hwaccel", "qsv", "-hwaccel_output_format", "qsv")
				}
				return args
			},
		},
		hardware.CodecAV1: {
			ffName: "av1_qsv", qualityFlag: "-global_quality", quality: "32",
			extraArgs: []string{"-preset", "medium"},
			scaleFilter: "scale_qsv", baseFilter: "format=nv12|qsv,hwupload=extra_hw_frames=64,scale_qsv=format=nv12",
			hwaccelArgs: func(_ string, sw bool) []string {
				args := []string{"-init_hw_device", "qsv=qsv", "-filter_hw_device", "qsv"}
				if !sw {
					args = append(args, "-hwaccel", "qsv", "-hwaccel_output_format", "qsv")
				}
				return args
			},
		},
	},
	hardware.AccelVAAPI: {
		hardware.CodecH264: {
			ffName: "h264_vaapi", qualityFlag: "-qp", quality: "23",
			scaleFilter: "scale_vaapi", baseFilter: "format=nv12|vaapi,hwupload,scale_vaapi=format=nv12",
			hwaccelArgs: vaapiHWAccelArgs,
		},
		hardware.CodecHEVC: {
			ffName: "hevc_vaapi", qualityFlag: "-qp", quality: "27",
			scaleFilter: "scale_vaapi", baseFilter: "format=nv12|vaapi,hwupload,scale_vaapi=format=nv12",
			hwaccelArgs: vaapiHWAccelArgs,
		},
		hardware.CodecAV1: {
			ffName: "av1_vaapi", qualityFlag: "-qp", quality: "32",
			scaleFilter: "scale_vaapi", baseFilter: "format=nv12|vaapi,hwupload,scale_vaapi=format=nv12",
			hwaccelArgs: vaapiHWAccelArgs,
		},
	},
	hardware.AccelAMF: {
		hardware.CodecH264: {
			ffName: "h264_amf", qualityFlag: "-qp_i", quality: "20",
			extraArgs: []string{"-quality", "balanced", "-rc", "cqp"},
			scaleFilter: "scale_vaapi", baseFilter: "format=nv12|vaapi,hwupload,scale_vaapi=format=nv12",
			hwaccelArgs: vaapiHWAccelArgs,
		},
		hardware.CodecHEVC: {
			ffName: "hevc_amf", qualityFlag: "-qp_i", quality: "24",
			extraArgs: []string{"-quality", "balanced", "-rc", "cqp"},
			scaleFilter: "scale_vaapi", baseFilter: "format=nv12|vaapi,hwupload,scale_vaapi=format=nv12",
			hwaccelArgs: vaapiHWAccelArgs,
		},
		hardware.CodecAV1: {
			ffName: "av1_amf", qualityFlag: "-qp_i", quality: "28",
			extraArgs: []string{"-quality", "balanced", "-rc", "cqp"},
			scaleFilter: "scale_vaapi", baseFilter: "format=nv12|vaapi,hwupload,scale_vaapi=format=nv12",
			hwaccelArgs: vaapiHWAccelArgs,
		},
	},
	hardware.AccelVideoToolbox: {
		hardware.CodecH264: {
			ffName: "h264_videotoolbox", qualityFlag: "-b:v", quality: "4000k",
			extraArgs: []string{"-allow_sw", "1"}, scaleFilter: "scale",
			hwaccelArgs: func(_ string, sw bool) []string {
				if sw {
					return nil
				}
				return []string{"-hwaccel", "videotoolbox"}
			},
		},
		hardware.CodecHEVC: {
			ffName: "hevc_videotoolbox", qualityFlag: "-b:v", quality: "4000k",
			extraArgs: []string{"-allow_sw", "1"}, scaleFilter: "scale",
			hwaccelArgs: func(_ string, sw bool) []string {
				if sw {
					return nil
				}
				return []string{"-hwaccel", "videotoolbox"}
			},
		},
		hardware.CodecAV1: {
			ffName: "av1_videotoolbox", qualityFlag: "-b:v", quality: "3000k",
			extraArgs: []string{"-allow_sw", "1"}, scaleFilter: "scale",
			hwaccelArgs: func(_ string, sw bool) []string {
				if sw {
					return nil
				}
				return []string{"-hwaccel", "videotoolbox"}
			},
		},
	},
}

func vaapiHWAccelArgs(device string, sw bool) []string {
	if device == "" {
		device = "/dev/dri/renderD128"
	}
	args := []string{"-init_hw_device", "vaapi=va:" + device, "-filter_hw_device", "va"}
	if !sw {
		args = append(args, "-hwaccel", "vaapi", "-hwaccel_output_format", "vaapi")
	}
	return args
}

func settingsFor(accel hardware.Accel, codec hardware.Codec) (encoderSettings, bool) {
	byCodec, ok := encoderTable[accel]
	if !ok {
		return encoderSettings{}, false
	}
	s, ok := byCodec[codec]
	return s, ok
}

// softwareDecodeFilter returns the simplified filter chain used when the
// source must be software-decoded but the target encoder is still hardware.
func softwareDecodeFilter(accel hardware.Accel) string {
	switch accel {
	case hardware.AccelQSV:
		return "format=nv12,hwupload=extra_hw_frames=64"
	case hardware.AccelVAAPI, hardware.AccelAMF:
		return "format=nv12,hwupload"
	default:
		return ""
	}
}

// buildEncodeArgs returns (inputArgs, outputArgs) for one rung's encode:
// input args go before -i, output args after.
func buildEncodeArgs(accel hardware.Accel, codec hardware.Codec, vaapiDevice string, softwareDecode bool, targetHeight int, sourceHeight int, extraVideoFilters []string) (inputArgs, outputArgs []string) {
	settings, ok := settingsFor(accel, codec)
	if !ok {
		settings, _ = settingsFor(hardware.AccelNone, codec)
	}

	if settings.hwaccelArgs != nil {
		inputArgs = settings.hwaccelArgs(vaapiDevice, softwareDecode)
	}

	var filterParts []string
	filterParts = append(filterParts, extraVideoFilters...)
	if softwareDecode {
		if f := softwareDecodeFilter(accel); f != "" {
			filterParts = append(filterParts, f)
		}
	} else if settings.baseFilter != "" {
		filterParts = append(filterParts, settings.baseFilter)
	}

	if targetHeight > 0 && sourceHeight > targetHeight {
		scaleFilter := settings.scaleFilter
		if scaleFilter == "" {
			scaleFilter = "scale"
		}
		filterParts = append(filterParts, fmt.Sprintf("%s=-2:'min(ih,%d)'", scaleFilter, targetHeight))
	}

	if len(filterParts) > 0 {
		outputArgs = append(outputArgs, "-vf", strings.Join(filterParts, ","))
	}

	outputArgs = append(outputArgs, "-c:v", settings.ffName, settings.qualityFlag, settings.quality)
	outputArgs = append(outputArgs, settings.extraArgs...)
	return inputArgs, outputArgs
}
