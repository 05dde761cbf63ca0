// internal/actuator/stepping.go
package actuator

import (
	"fmt"
	"math"

	"github.com/tamzrod/hexapod/internal/position"
	"github.com/tamzrod/hexapod/internal/status"
)

// Step moves by steps micro-steps in verified chunks followed by the
// hysteresis pass. It returns 0 on full success; on abort it returns the
// outstanding steps, which are never retried automatically.
func (a *Actuator) Step(steps int) (int, error) {
	g, err := a.Acquire()
	if err != nil {
		return steps, err
	}
	defer g.Release()
	return a.StepGuarded(g, steps)
}

// StepGuarded is Step under a guard the caller already holds.
func (a *Actuator) StepGuarded(g *Guard, steps int) (int, error) {
	if err := a.held(g); err != nil {
		return steps, err
	}
	if err := a.motionAllowed(); err != nil {
		return steps, err
	}
	if err := a.CheckRange(steps); err != nil {
		return steps, err
	}

	if _, err := a.recoverPosition(false); err != nil {
		return steps, err
	}
	if err := a.motionAllowed(); err != nil {
		return steps, err
	}

	remaining, err := a.move(steps, true)
	if err != nil || remaining != 0 || a.Flags().Fatal() || steps == 0 {
		return remaining, err
	}
	return a.hysteresis(true)
}

// Move issues steps as verified chunks without recovery or hysteresis.
// The platform coordinator uses it to interleave legs; stop requests are
// left to the coordinator's tick boundaries.
func (a *Actuator) Move(g *Guard, steps int) (int, error) {
	if err := a.held(g); err != nil {
		return steps, err
	}
	if err := a.motionAllowed(); err != nil {
		return steps, err
	}
	return a.move(steps, false)
}

// Hysteresis runs the hysteresis pass under a held guard.
func (a *Actuator) Hysteresis(g *Guard) (int, error) {
	if err := a.held(g); err != nil {
		return 0, err
	}
	if err := a.motionAllowed(); err != nil {
		return 0, err
	}
	return a.hysteresis(false)
}

// CheckRange raises the out-of-range flag and fails if moving delta steps,
// or the hysteresis overshoot beyond them, would leave the software travel
// limits.
func (a *Actuator) CheckRange(delta int) error {
	if a.InRange(delta) {
		return nil
	}
	a.raise(status.FlagOutOfRange)
	return fmt.Errorf("%w: %s delta=%d", ErrOutOfRange, a.serial, delta)
}

func (a *Actuator) motionAllowed() error {
	if a.Flags().Fatal() {
		return fmt.Errorf("%w: %s (%s)", ErrFatal, a.serial, a.Flags())
	}
	return a.powered()
}

func (a *Actuator) powered() error {
	if !a.drv.IsOn() {
		return fmt.Errorf("%w: %s", ErrNotPowered, a.serial)
	}
	return nil
}

// move is the chunk loop. Each chunk is at most RecordingInterval steps,
// verified against the sensor, and the position is updated from the
// measured outcome. Too many missed steps raise Fatal and abort. A
// stoppable move returns ErrStopped at the first chunk boundary after Stop.
func (a *Actuator) move(steps int, stoppable bool) (int, error) {
	n := a.cal.StepsPerRev
	remaining := steps

	for remaining != 0 {
		if stoppable && a.stopping.Load() {
			a.logger.Printf("stop observed (actuator=%s remaining=%d)", a.serial, remaining)
			return remaining, fmt.Errorf("%w: %s", ErrStopped, a.serial)
		}

		chunk := remaining
		if chunk > a.cal.RecordingInterval {
			chunk = a.cal.RecordingInterval
		}
		if chunk < -a.cal.RecordingInterval {
			chunk = -a.cal.RecordingInterval
		}

		cur := a.Position()
		predicted := position.Predict(cur, int64(chunk), n)

		if err := a.drv.Step(chunk); err != nil {
			return remaining, a.busFault("step", err)
		}

		chk, err := a.CheckAngleQuick(predicted)
		if err != nil {
			return remaining, err
		}
		if !chk.Reliable {
			// Best effort: assume the chunk ran. The actuator is Fatal now.
			a.setPosition(predicted)
			return remaining - chunk, nil
		}

		missed := -chk.Deviation
		achieved := chunk - missed
		a.setPosition(position.Predict(cur, int64(achieved), n))
		remaining -= achieved

		limit := math.Max(a.cal.MissedStepFraction*math.Abs(float64(chunk)), float64(a.cal.MinMissedSteps))
		stalled := achieved == 0 || (achieved > 0) != (chunk > 0)
		if math.Abs(float64(missed)) > limit || stalled {
			a.logger.Printf(
				"missed too many steps (actuator=%s chunk=%d missed=%d limit=%.1f remaining=%d)",
				a.serial, chunk, missed, limit, remaining,
			)
			a.raise(status.FlagMissedSteps)
			return remaining, nil
		}
	}

	return 0, nil
}

// hysteresis steps HysteresisSteps past the target and back, so the final
// approach always comes from the same mechanical side. It returns the
// offset from the pre-pass target if the pass aborts.
func (a *Actuator) hysteresis(stoppable bool) (int, error) {
	h := a.cal.HysteresisSteps
	if h == 0 {
		return 0, nil
	}

	target := a.Steps()

	if rem, err := a.move(h, stoppable); err != nil || rem != 0 {
		return int(target - a.Steps()), err
	}
	if rem, err := a.move(-h, stoppable); err != nil || rem != 0 {
		return int(target - a.Steps()), err
	}
	return 0, nil
}
