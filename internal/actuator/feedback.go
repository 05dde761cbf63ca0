// internal/actuator/feedback.go
package actuator

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/tamzrod/hexapod/internal/position"
	"github.com/tamzrod/hexapod/internal/status"
)

// Measurement is an averaged sensor reading.
type Measurement struct {
	Volts    float64
	StdDev   float64
	Reliable bool
}

// Check is the outcome of comparing a measurement against an expected angle.
// Deviation is measured minus expected, in steps.
type Check struct {
	Deviation int
	Reliable  bool
}

// ReadVoltage samples the sensor, averaging, and re-measures while the
// sample standard deviation exceeds the remeasure threshold, up to
// MaxMeasureAttempts. If the best attempt still exceeds MaxStdDev the
// Fatal unreliable-measurement flag is raised and the best estimate is
// returned with Reliable=false.
func (a *Actuator) ReadVoltage() (Measurement, error) {
	n := a.cal.SamplesPerMeasurement
	samples := make([]float64, n)
	best := Measurement{StdDev: math.Inf(1)}

	for attempt := 0; attempt < a.cal.MaxMeasureAttempts; attempt++ {
		for i := range samples {
			v, err := a.drv.ReadVoltage()
			if err != nil {
				return Measurement{}, a.busFault("read voltage", err)
			}
			samples[i] = v
		}

		mean, sd := stat.MeanStdDev(samples, nil)
		if sd < best.StdDev {
			best = Measurement{Volts: mean, StdDev: sd}
		}
		if sd <= a.cal.RemeasureStdDev {
			break
		}
	}

	best.Reliable = best.StdDev <= a.cal.MaxStdDev
	if !best.Reliable {
		a.logger.Printf("unreliable measurement (actuator=%s stddev=%.5f max=%.5f)", a.serial, best.StdDev, a.cal.MaxStdDev)
		a.raise(status.FlagUnreliableMeasurement)
	}
	return best, nil
}

// CheckAngleQuick measures and searches outward from the expected angle,
// radius 0, +1, -1, +2, -2 ... up to QuickSearchRadius, for a table entry
// within half a step of voltage. Without a local match it falls back to
// the global search.
func (a *Actuator) CheckAngleQuick(expected position.Position) (Check, error) {
	m, err := a.ReadVoltage()
	if err != nil {
		return Check{}, err
	}
	if !m.Reliable {
		return Check{}, nil
	}

	if d, ok := a.searchQuick(m.Volts, expected.Angle); ok {
		return Check{Deviation: d, Reliable: true}, nil
	}
	return Check{Deviation: a.searchSlow(m.Volts, expected.Angle), Reliable: true}, nil
}

// CheckAngleSlow measures and finds the globally closest table entry,
// with no locality assumption, returning the wrap-adjusted deviation.
func (a *Actuator) CheckAngleSlow(expected position.Position) (Check, error) {
	m, err := a.ReadVoltage()
	if err != nil {
		return Check{}, err
	}
	if !m.Reliable {
		return Check{}, nil
	}
	return Check{Deviation: a.searchSlow(m.Volts, expected.Angle), Reliable: true}, nil
}

func (a *Actuator) searchQuick(v float64, expected int) (int, bool) {
	n := a.cal.StepsPerRev
	tol := 0.5 * a.cal.VoltsPerStep()

	for r := 0; r <= a.cal.QuickSearchRadius; r++ {
		for _, d := range [2]int{r, -r} {
			if math.Abs(a.cal.Voltages[position.Wrap(expected+d, n)]-v) <= tol {
				return d, true
			}
			if r == 0 {
				break
			}
		}
	}
	return 0, false
}

func (a *Actuator) searchSlow(v float64, expected int) int {
	best := 0
	bestErr := math.Inf(1)
	for angle, cv := range a.cal.Voltages {
		if e := math.Abs(cv - v); e < bestErr {
			best, bestErr = angle, e
		}
	}
	return position.Nearest(best-expected, a.cal.StepsPerRev)
}

// RecoverPosition reconciles the believed position with the sensor.
//
//	|d| == 0                 no-op
//	0 < |d| < flagged        apply and persist
//	flagged <= |d| < max     raise LargeDeviation, apply and persist
//	|d| >= max               raise HomeLost, position left untouched
//
// An unreliable measurement changes nothing.
func (a *Actuator) RecoverPosition() (int, error) {
	g, err := a.Acquire()
	if err != nil {
		return 0, err
	}
	defer g.Release()
	return a.recoverPosition(false)
}

// ForceRecover applies the quick-check deviation unconditionally.
//
// This is an UNCHECKED override: it skips the HomeLost threshold and will
// happily adopt a deviation of any size, including one caused by a lost
// revolution. It exists for operators who have verified the position by
// other means. It does not clear any flag.
func (a *Actuator) ForceRecover() (int, error) {
	g, err := a.Acquire()
	if err != nil {
		return 0, err
	}
	defer g.Release()
	return a.recoverPosition(true)
}

// Recover runs recovery under a guard the caller already holds.
func (a *Actuator) Recover(g *Guard) (int, error) {
	if err := a.held(g); err != nil {
		return 0, err
	}
	return a.recoverPosition(false)
}

func (a *Actuator) recoverPosition(force bool) (int, error) {
	chk, err := a.recoverChecked(force)
	return chk.Deviation, err
}

// recoverChecked is recoverPosition reporting whether the measurement it
// acted on was reliable. An unreliable check carries no deviation.
func (a *Actuator) recoverChecked(force bool) (Check, error) {
	cur := a.Position()

	chk, err := a.CheckAngleQuick(cur)
	if err != nil {
		return Check{}, err
	}
	if !chk.Reliable {
		return Check{}, nil
	}

	d := chk.Deviation
	mag := abs(d)

	switch {
	case d == 0:
		return chk, nil

	case force:
		a.logger.Printf("forced recovery (actuator=%s deviation=%d)", a.serial, d)

	case mag >= a.cal.MaxDeviation:
		a.logger.Printf("home lost (actuator=%s deviation=%d max=%d)", a.serial, d, a.cal.MaxDeviation)
		a.raise(status.FlagHomeLost)
		a.raise(status.FlagHomeNotCalibrated)
		return chk, nil

	case mag >= a.cal.FlaggedDeviation:
		a.logger.Printf("large recovered deviation (actuator=%s deviation=%d)", a.serial, d)
		a.raise(status.FlagLargeDeviation)
	}

	a.setPosition(position.Predict(cur, int64(d), a.cal.StepsPerRev))
	return chk, nil
}
