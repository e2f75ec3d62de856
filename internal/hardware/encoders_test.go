package hardware

import "testing"

func TestRequiresSoftwareDecode(t *testing.T) {
	tests := []struct {
		name     string
		codec    string
		profile  string
		bitDepth int
		encoder  Accel
		expected bool
	}{
		{"H264_10bit_QSV", "h264", "High 10", 10, AccelQSV, true},
		{"H264_10bit_NVENC", "h264", "High 10", 10, AccelNVENC, false},
		{"H264_8bit_QSV", "h264", "High", 8, AccelQSV, false},
		{"HEVC_10bit_QSV", "hevc", "Main 10", 10, AccelQSV, false},
		{"VC1_QSV", "vc1", "", 8, AccelQSV, true},
		{"VC1_AMF", "vc1", "", 8, AccelAMF, true},
		{"MPEG4_ASP_QSV", "mpeg4", "Advanced Simple", 8, AccelQSV, true},
		{"MPEG4_Simple_QSV", "mpeg4", "Simple Profile", 8, AccelQSV, false},
		{"Software_never", "h264", "High 10", 10, AccelNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RequiresSoftwareDecode(tt.codec, tt.profile, tt.bitDepth, tt.encoder)
			if got != tt.expected {
				t.Errorf("RequiresSoftwareDecode(%q,%q,%d,%q) = %v, want %v",
					tt.codec, tt.profile, tt.bitDepth, tt.encoder, got, tt.expected)
			}
		})
	}
}

func TestRegistryFallbackOrder(t *testing.T) {
	r := NewRegistry()
	r.detected = true
	r.encoders[encoderKey{AccelNVENC, CodecHEVC}] = Encoder{Accel: AccelNVENC, Codec: CodecHEVC, Available: true}
	r.encoders[encoderKey{AccelVAAPI, CodecHEVC}] = Encoder{Accel: AccelVAAPI, Codec: CodecHEVC, Available: true}
	r.encoders[encoderKey{AccelNone, CodecHEVC}] = Encoder{Accel: AccelNone, Codec: CodecHEVC, Available: true}

	fb, ok := r.Fallback(AccelNVENC, CodecHEVC)
	if !ok || fb.Accel != AccelVAAPI {
		t.Fatalf("expected fallback from nvenc to vaapi (qsv/amf/videotoolbox unavailable), got %+v ok=%v", fb, ok)
	}

	fb2, ok := r.Fallback(AccelVAAPI, CodecHEVC)
	if !ok || fb2.Accel != AccelNone {
		t.Fatalf("expected fallback from vaapi to software, got %+v ok=%v", fb2, ok)
	}

	_, ok = r.Fallback(AccelNone, CodecHEVC)
	if ok {
		t.Fatal("expected no fallback from software")
	}
}

func TestBestPrefersHighestPriorityAvailable(t *testing.T) {
	r := NewRegistry()
	r.detected = true
	r.encoders[encoderKey{AccelQSV, CodecAV1}] = Encoder{Accel: AccelQSV, Codec: CodecAV1, Available: true}
	r.encoders[encoderKey{AccelNone, CodecAV1}] = Encoder{Accel: AccelNone, Codec: CodecAV1, Available: true}

	best := r.Best(CodecAV1)
	if best.Accel != AccelQSV {
		t.Fatalf("expected qsv preferred over software, got %v", best.Accel)
	}
}

func TestClassifyTier(t *testing.T) {
	tests := []struct {
		hasHW bool
		vram  int
		want  Tier
	}{
		{false, 0, TierMinimal},
		{true, 512, TierLow},
		{true, 4096, TierMedium},
		{true, 6144, TierHigh},
		{true, 8192, TierUltra},
	}
	for _, tt := range tests {
		if got := classify(tt.hasHW, tt.vram); got != tt.want {
			t.Errorf("classify(%v,%d) = %v, want %v", tt.hasHW, tt.vram, got, tt.want)
		}
	}
}
