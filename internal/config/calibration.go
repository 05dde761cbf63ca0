// internal/config/calibration.go
package config

import (
	"errors"
	"fmt"

	"github.com/tamzrod/hexapod/internal/position"
)

// Calibration is the immutable per-actuator configuration.
// The store is authoritative for it; an Actuator owns its copy exclusively.
type Calibration struct {
	Serial string `yaml:"serial"`

	// ---- geometry ----
	StepsPerRev int     `yaml:"steps_per_rev"` // N
	MMPerStep   float64 `yaml:"mm_per_step"`
	HomeLength  float64 `yaml:"home_length"`

	// Calibrated sensor voltage for each angle in [0, N).
	Voltages []float64 `yaml:"voltages"`

	// ---- stepping ----
	RecordingInterval  int     `yaml:"recording_interval"` // max verified chunk
	HysteresisSteps    int     `yaml:"hysteresis_steps"`   // signed; sign is the loading direction
	MissedStepFraction float64 `yaml:"missed_step_fraction"`
	MinMissedSteps     int     `yaml:"min_missed_steps"`

	// Software travel limits in revolutions: [ExtendLimit, RetractLimit).
	ExtendLimit  int `yaml:"extend_limit"`
	RetractLimit int `yaml:"retract_limit"`

	// ---- recovery ----
	QuickSearchRadius int `yaml:"quick_search_radius"`
	FlaggedDeviation  int `yaml:"flagged_deviation"`
	MaxDeviation      int `yaml:"max_deviation"`
	EndstopDeviation  int `yaml:"endstop_deviation"`

	// ---- measurement ----
	SamplesPerMeasurement int     `yaml:"samples_per_measurement"`
	RemeasureStdDev       float64 `yaml:"remeasure_stddev"`
	MaxStdDev             float64 `yaml:"max_stddev"`
	MaxMeasureAttempts    int     `yaml:"max_measure_attempts"`

	// ---- endstops / homing ----
	ExtendEndstop  position.Position `yaml:"extend_endstop"`
	RetractEndstop position.Position `yaml:"retract_endstop"`
	SearchSteps    int               `yaml:"search_steps"`
	StallFraction  float64           `yaml:"stall_fraction"`
	MaxSearchSteps int               `yaml:"max_search_steps"`
	HomeWraps      int               `yaml:"home_wraps"`
	// Expected sensor voltage range when resting on the extend endstop.
	ExtendStopVoltageMin float64 `yaml:"extend_stop_voltage_min"`
	ExtendStopVoltageMax float64 `yaml:"extend_stop_voltage_max"`
}

// ApplyDefaults fills zero-valued tuning knobs. Geometry and the voltage
// table have no defaults.
func (c *Calibration) ApplyDefaults() {
	if c.QuickSearchRadius == 0 {
		c.QuickSearchRadius = 5
	}
	if c.MissedStepFraction == 0 {
		c.MissedStepFraction = 0.1
	}
	if c.MinMissedSteps == 0 {
		c.MinMissedSteps = 3
	}
	if c.SamplesPerMeasurement == 0 {
		c.SamplesPerMeasurement = 8
	}
	if c.MaxMeasureAttempts == 0 {
		c.MaxMeasureAttempts = 5
	}
	if c.SearchSteps == 0 {
		c.SearchSteps = 10
	}
	if c.StallFraction == 0 {
		c.StallFraction = 0.25
	}
	if c.HomeWraps == 0 {
		c.HomeWraps = 1
	}
	if c.MaxSearchSteps == 0 && c.StepsPerRev > 0 {
		span := c.RetractLimit - c.ExtendLimit
		if span < 1 {
			span = 1
		}
		c.MaxSearchSteps = (span + 2) * c.StepsPerRev
	}
}

// Validate checks calibration consistency. It MUST NOT mutate.
func (c *Calibration) Validate() error {
	if c == nil {
		return errors.New("calibration: nil")
	}
	if c.StepsPerRev <= 1 {
		return fmt.Errorf("calibration %q: steps_per_rev must be > 1", c.Serial)
	}
	if len(c.Voltages) != c.StepsPerRev {
		return fmt.Errorf(
			"calibration %q: voltage table has %d entries, want %d",
			c.Serial,
			len(c.Voltages),
			c.StepsPerRev,
		)
	}
	if c.RecordingInterval <= 0 {
		return fmt.Errorf("calibration %q: recording_interval must be > 0", c.Serial)
	}
	if c.ExtendLimit >= c.RetractLimit {
		return fmt.Errorf(
			"calibration %q: extend_limit %d must be below retract_limit %d",
			c.Serial,
			c.ExtendLimit,
			c.RetractLimit,
		)
	}
	if c.FlaggedDeviation <= 0 || c.MaxDeviation <= c.FlaggedDeviation {
		return fmt.Errorf(
			"calibration %q: need 0 < flagged_deviation (%d) < max_deviation (%d)",
			c.Serial,
			c.FlaggedDeviation,
			c.MaxDeviation,
		)
	}
	if c.EndstopDeviation <= 0 {
		return fmt.Errorf("calibration %q: endstop_deviation must be > 0", c.Serial)
	}
	if c.MaxStdDev < c.RemeasureStdDev || c.RemeasureStdDev < 0 {
		return fmt.Errorf(
			"calibration %q: need 0 <= remeasure_stddev (%g) <= max_stddev (%g)",
			c.Serial,
			c.RemeasureStdDev,
			c.MaxStdDev,
		)
	}
	if c.SamplesPerMeasurement < 2 {
		return fmt.Errorf("calibration %q: samples_per_measurement must be >= 2", c.Serial)
	}
	if c.MaxMeasureAttempts < 1 {
		return fmt.Errorf("calibration %q: max_measure_attempts must be >= 1", c.Serial)
	}
	for _, p := range []position.Position{c.ExtendEndstop, c.RetractEndstop} {
		if p.Angle < 0 || p.Angle >= c.StepsPerRev {
			return fmt.Errorf("calibration %q: endstop angle %d out of range", c.Serial, p.Angle)
		}
	}
	if c.VoltageSwing() <= 0 {
		return fmt.Errorf("calibration %q: voltage table is flat", c.Serial)
	}
	return nil
}

// VoltageSwing is the total swing (max - min) of the voltage table.
func (c *Calibration) VoltageSwing() float64 {
	if len(c.Voltages) == 0 {
		return 0
	}
	lo, hi := c.Voltages[0], c.Voltages[0]
	for _, v := range c.Voltages[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi - lo
}

// VoltsPerStep is the nominal voltage change of one step.
func (c *Calibration) VoltsPerStep() float64 {
	return c.VoltageSwing() / float64(c.StepsPerRev)
}

// Length converts an absolute step count into leg length in mm.
// Positive steps retract (shorten) the leg.
func (c *Calibration) Length(steps int64) float64 {
	return c.HomeLength - float64(steps)*c.MMPerStep
}
