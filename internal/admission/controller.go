// Package admission implements the Adaptive Admission Controller (§4.3): a
// pure function of hardware capabilities and the current load sample that
// decides whether a new job may start and how much quality headroom is
// available. Every tick it re-clamps the effective job ceiling against the
// current load sample rather than applying a single static bound.
package admission

import (
	"fmt"

	"github.com/BleedingXiko/GhostStream/internal/hardware"
	"github.com/BleedingXiko/GhostStream/internal/telemetry"
)

// Decision is the result of one admission evaluation (§4.3).
type Decision struct {
	Allow             bool    `json:"allow"`
	EffectiveMaxJobs  int     `json:"effective_max_jobs"`
	QualityFactor     float64 `json:"quality_factor"`
	Reason            string  `json:"reason"`
}

const (
	highTempC        = 80.0
	loadCeiling      = 0.85
	risingFreezeLoad = 0.7
)

// Decide evaluates the five ordered rules from §4.3 against the current
// capabilities and sample, given how many jobs are active right now and the
// operator-configured ceiling override (0 = use the tier's suggestion).
func Decide(caps *hardware.Capabilities, sample telemetry.Sample, activeJobs int, configuredCeiling int) Decision {
	base := caps.Limits.SuggestedMaxJobs
	if configuredCeiling > 0 && configuredCeiling < base {
		base = configuredCeiling
	}

	d := Decision{
		Allow:            true,
		EffectiveMaxJobs: base,
		QualityFactor:    1.0,
		Reason:           "nominal",
	}

	// Rule 1: on battery.
	if sample.OnBattery {
		if d.EffectiveMaxJobs > 1 {
			d.EffectiveMaxJobs = 1
		}
		if d.QualityFactor > 0.6 {
			d.QualityFactor = 0.6
		}
		d.Reason = "on_battery"
	}

	// Rule 2: GPU thermal pressure.
	if sample.GPUTempC >= highTempC {
		d.EffectiveMaxJobs--
		if d.EffectiveMaxJobs < 1 {
			d.EffectiveMaxJobs = 1
		}
		if d.QualityFactor > 0.75 {
			d.QualityFactor = 0.75
		}
		d.Reason = fmt.Sprintf("gpu_thermal_%.0fc", sample.GPUTempC)
	}

	// Rule 3: overall load ceiling — refuses new admission outright unless
	// nothing is running (so a stuck load sample can't wedge the queue).
	if sample.LoadFactor >= loadCeiling && activeJobs > 0 {
		d.Allow = false
		d.Reason = "load_ceiling"
		return d
	}

	// Rule 4: rising trend under sustained load freezes the ceiling at the
	// current active count rather than admitting more.
	if sample.Trend == telemetry.TrendRising && sample.LoadFactor >= risingFreezeLoad {
		d.EffectiveMaxJobs = activeJobs
		d.Reason = "load_rising"
		if activeJobs == 0 {
			// Nothing running yet to freeze against; allow exactly one so
			// the system doesn't starve itself on a cold, noisy sample.
			d.EffectiveMaxJobs = 1
		}
	}

	if activeJobs >= d.EffectiveMaxJobs {
		d.Allow = false
		if d.Reason == "nominal" {
			d.Reason = "at_capacity"
		}
	}

	return d
}
