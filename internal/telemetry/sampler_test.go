package telemetry

import "testing"

func TestComputeTrend(t *testing.T) {
	tests := []struct {
		name   string
		window []float64
		want   Trend
	}{
		{"too_short", []float64{0.1, 0.2}, TrendStable},
		{"flat", []float64{0.5, 0.5, 0.5, 0.5, 0.5}, TrendStable},
		{"rising", []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}, TrendRising},
		{"falling", []float64{0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2, 0.1}, TrendFalling},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := computeTrend(tt.window); got != tt.want {
				t.Errorf("computeTrend(%v) = %v, want %v", tt.window, got, tt.want)
			}
		})
	}
}

func TestSamplerLatestBeforeStart(t *testing.T) {
	s := New("", false)
	if s.Latest().SampledAt.IsZero() == false {
		t.Fatal("expected zero-value sample before any collection")
	}
}

func TestSamplerCollectOnce(t *testing.T) {
	s := New("", false)
	s.collectOnce()
	latest := s.Latest()
	if latest.SampledAt.IsZero() {
		t.Fatal("expected SampledAt to be set after collectOnce")
	}
	if latest.LoadFactor < 0 || latest.LoadFactor > 1 {
		t.Fatalf("load factor out of [0,1]: %v", latest.LoadFactor)
	}
}

func TestReadPowerStateNoBattery(t *testing.T) {
	onBattery, onAC := readPowerState(false)
	if onBattery {
		t.Error("expected onBattery=false when hasBattery=false")
	}
	if !onAC {
		t.Error("expected onAC=true when hasBattery=false")
	}
}
