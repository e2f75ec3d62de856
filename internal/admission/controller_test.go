package admission

import (
	"testing"

	"github.com/BleedingXiko/GhostStream/internal/hardware"
	"github.com/BleedingXiko/GhostStream/internal/telemetry"
)

func caps(maxJobs int) *hardware.Capabilities {
	return &hardware.Capabilities{
		Tier:   hardware.TierHigh,
		Limits: hardware.TierLimits{SuggestedMaxJobs: maxJobs},
	}
}

func TestDecideNominal(t *testing.T) {
	d := Decide(caps(3), telemetry.Sample{LoadFactor: 0.1}, 0, 0)
	if !d.Allow || d.EffectiveMaxJobs != 3 || d.QualityFactor != 1.0 {
		t.Fatalf("expected nominal allow with full ceiling, got %+v", d)
	}
}

func TestDecideOnBatteryCapsToOne(t *testing.T) {
	d := Decide(caps(4), telemetry.Sample{OnBattery: true, LoadFactor: 0.1}, 0, 0)
	if d.EffectiveMaxJobs != 1 || d.QualityFactor > 0.6 {
		t.Fatalf("expected battery rule to cap jobs=1, quality<=0.6, got %+v", d)
	}
}

func TestDecideHighTempReducesCeiling(t *testing.T) {
	d := Decide(caps(3), telemetry.Sample{GPUTempC: 85, LoadFactor: 0.1}, 0, 0)
	if d.EffectiveMaxJobs != 2 || d.QualityFactor > 0.75 {
		t.Fatalf("expected thermal rule to reduce ceiling by one, got %+v", d)
	}
}

func TestDecideLoadCeilingRefusesWhenActive(t *testing.T) {
	d := Decide(caps(3), telemetry.Sample{LoadFactor: 0.9}, 1, 0)
	if d.Allow {
		t.Fatalf("expected refusal at load ceiling with active jobs, got %+v", d)
	}
}

func TestDecideLoadCeilingAllowsWhenIdle(t *testing.T) {
	d := Decide(caps(3), telemetry.Sample{LoadFactor: 0.95}, 0, 0)
	if !d.Allow {
		t.Fatalf("expected allow at load ceiling when zero active jobs, got %+v", d)
	}
}

func TestDecideRisingTrendFreezesCeiling(t *testing.T) {
	d := Decide(caps(3), telemetry.Sample{LoadFactor: 0.75, Trend: telemetry.TrendRising}, 2, 0)
	if d.EffectiveMaxJobs != 2 {
		t.Fatalf("expected ceiling frozen at active count 2, got %+v", d)
	}
}

func TestDecideConfiguredCeilingCanOnlyTighten(t *testing.T) {
	d := Decide(caps(4), telemetry.Sample{LoadFactor: 0.1}, 0, 2)
	if d.EffectiveMaxJobs != 2 {
		t.Fatalf("expected configured ceiling of 2 to win over tier's 4, got %+v", d)
	}
	d2 := Decide(caps(2), telemetry.Sample{LoadFactor: 0.1}, 0, 10)
	if d2.EffectiveMaxJobs != 2 {
		t.Fatalf("expected tier ceiling of 2 to win when configured ceiling is looser, got %+v", d2)
	}
}

func TestDecideAtCapacityRefuses(t *testing.T) {
	d := Decide(caps(2), telemetry.Sample{LoadFactor: 0.1}, 2, 0)
	if d.Allow {
		t.Fatalf("expected refusal at capacity, got %+v", d)
	}
}
