// internal/actuator/homing.go
package actuator

import (
	"fmt"
	"math"

	"github.com/tamzrod/hexapod/internal/position"
	"github.com/tamzrod/hexapod/internal/status"
)

// EndstopSearch drives an actuator toward a hard stop one search step at a
// time until the sensor stops changing. It lets a coordinator interleave
// the searches of several legs.
type EndstopSearch struct {
	a         *Actuator
	g         *Guard
	dir       Direction
	last      float64
	travelled int
	done      bool
}

// BeginEndstopSearch starts a search under a held guard. Homing is allowed
// while Fatal: it is how position-loss faults are cleared.
func (a *Actuator) BeginEndstopSearch(g *Guard, dir Direction) (*EndstopSearch, error) {
	if err := a.held(g); err != nil {
		return nil, err
	}
	if err := a.powered(); err != nil {
		return nil, err
	}

	a.raise(status.FlagHomeNotCalibrated)

	m, err := a.ReadVoltage()
	if err != nil {
		return nil, err
	}
	if !m.Reliable {
		return nil, fmt.Errorf("%w: %s", ErrUnreliable, a.serial)
	}

	a.logger.Printf("endstop search started (actuator=%s direction=%s)", a.serial, dir)
	return &EndstopSearch{a: a, g: g, dir: dir, last: m.Volts}, nil
}

// Done reports whether the endstop was reached.
func (s *EndstopSearch) Done() bool { return s.done }

// Actuator returns the actuator being searched.
func (s *EndstopSearch) Actuator() *Actuator { return s.a }

// Advance issues one search step and reports whether the motor has stalled.
// Exceeding MaxSearchSteps raises the endstop-not-found flag.
func (s *EndstopSearch) Advance() (bool, error) {
	if s.done {
		return true, nil
	}
	a := s.a
	if err := a.held(s.g); err != nil {
		return false, err
	}

	steps := int(s.dir) * a.cal.SearchSteps
	if err := a.drv.Step(steps); err != nil {
		return false, a.busFault("search step", err)
	}
	a.setPosition(position.Predict(a.Position(), int64(steps), a.cal.StepsPerRev))
	s.travelled += a.cal.SearchSteps

	m, err := a.ReadVoltage()
	if err != nil {
		return false, err
	}
	if !m.Reliable {
		return false, fmt.Errorf("%w: %s", ErrUnreliable, a.serial)
	}

	delta := math.Abs(m.Volts - s.last)
	swing := a.cal.VoltageSwing()
	if delta > swing/2 {
		// Crossed the sensor discontinuity: the motor moved.
		delta = swing - delta
	}
	s.last = m.Volts

	if delta < a.cal.StallFraction*a.cal.VoltsPerStep()*float64(a.cal.SearchSteps) {
		s.done = true
		a.logger.Printf("endstop reached (actuator=%s direction=%s travelled=%d)", a.serial, s.dir, s.travelled)
		return true, nil
	}

	if s.travelled >= a.cal.MaxSearchSteps {
		a.raise(status.FlagEndstopNotFound)
		return false, fmt.Errorf("%w: %s after %d steps", ErrNoEndstop, a.serial, s.travelled)
	}
	return false, nil
}

// ProbeEndStop drives toward the endstop in dir until the motor stalls.
func (a *Actuator) ProbeEndStop(dir Direction) error {
	g, err := a.Acquire()
	if err != nil {
		return err
	}
	defer g.Release()
	return a.probeEndStop(g, dir)
}

func (a *Actuator) probeEndStop(g *Guard, dir Direction) error {
	s, err := a.BeginEndstopSearch(g, dir)
	if err != nil {
		return err
	}
	for {
		if a.stopping.Load() {
			return fmt.Errorf("%w: %s", ErrStopped, a.serial)
		}
		done, err := s.Advance()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// FindHomeFromEndStop probes the endstop in dir and re-establishes the
// absolute position from its recorded reference.
func (a *Actuator) FindHomeFromEndStop(dir Direction) error {
	g, err := a.Acquire()
	if err != nil {
		return err
	}
	defer g.Release()

	if err := a.probeEndStop(g, dir); err != nil {
		return err
	}
	return a.HomeFromStall(g, dir)
}

// HomeFromStall takes the actuator, resting on the endstop in dir, and
// adopts the recorded reference position corrected by a global sensor
// check. A large correction is accepted but flagged as a possible cycle
// ambiguity. One reverse chunk then proves the leg can leave the stop.
func (a *Actuator) HomeFromStall(g *Guard, dir Direction) error {
	if err := a.held(g); err != nil {
		return err
	}
	if err := a.powered(); err != nil {
		return err
	}

	ref := a.cal.ExtendEndstop
	if dir == Retract {
		ref = a.cal.RetractEndstop
	}

	chk, err := a.CheckAngleSlow(ref)
	if err != nil {
		return err
	}
	if !chk.Reliable {
		return fmt.Errorf("%w: %s", ErrUnreliable, a.serial)
	}
	if abs(chk.Deviation) > a.cal.EndstopDeviation {
		a.logger.Printf(
			"endstop deviation above threshold (actuator=%s deviation=%d threshold=%d)",
			a.serial, chk.Deviation, a.cal.EndstopDeviation,
		)
		a.raise(status.FlagCycleAmbiguity)
	}
	a.setPosition(position.Predict(ref, int64(chk.Deviation), a.cal.StepsPerRev))

	chunk := -int(dir) * a.cal.RecordingInterval
	cur := a.Position()
	predicted := position.Predict(cur, int64(chunk), a.cal.StepsPerRev)

	if err := a.drv.Step(chunk); err != nil {
		return a.busFault("leave endstop", err)
	}

	chk, err = a.CheckAngleQuick(predicted)
	if err != nil {
		return err
	}
	if !chk.Reliable {
		return fmt.Errorf("%w: %s", ErrUnreliable, a.serial)
	}

	missed := -chk.Deviation
	a.setPosition(position.Predict(cur, int64(chunk-missed), a.cal.StepsPerRev))

	if abs(missed) > a.cal.RecordingInterval/2 {
		a.logger.Printf("stuck at endstop (actuator=%s chunk=%d missed=%d)", a.serial, chunk, missed)
		a.raise(status.FlagStuckAtEndstop)
		return fmt.Errorf("%w: %s at %s endstop", ErrStuck, a.serial, dir)
	}

	a.clear(positionLossFlags...)
	a.logger.Printf("home found from endstop (actuator=%s direction=%s position=%v)", a.serial, dir, a.Position())
	return nil
}

// ProbeHome is the commissioning procedure. It rests the leg on the extend
// endstop, then single-steps toward retract counting sensor wraps. The
// point just past the HomeWraps-th wrap becomes Position(0,0).
func (a *Actuator) ProbeHome() error {
	g, err := a.Acquire()
	if err != nil {
		return err
	}
	defer g.Release()
	return a.ProbeHomeGuarded(g)
}

// ProbeHomeGuarded is ProbeHome under a guard the caller already holds.
func (a *Actuator) ProbeHomeGuarded(g *Guard) error {
	if err := a.probeEndStop(g, Extend); err != nil {
		return err
	}
	return a.WalkToHome(g)
}

// WalkToHome runs the wrap-counting phase of ProbeHome on a leg already
// resting on its extend endstop.
func (a *Actuator) WalkToHome(g *Guard) error {
	if err := a.held(g); err != nil {
		return err
	}

	m, err := a.ReadVoltage()
	if err != nil {
		return err
	}
	if !m.Reliable {
		return fmt.Errorf("%w: %s", ErrUnreliable, a.serial)
	}
	if a.cal.ExtendStopVoltageMax > a.cal.ExtendStopVoltageMin &&
		(m.Volts < a.cal.ExtendStopVoltageMin || m.Volts > a.cal.ExtendStopVoltageMax) {
		a.logger.Printf(
			"extend endstop voltage outside expected range (actuator=%s volts=%.4f range=[%.4f, %.4f])",
			a.serial, m.Volts, a.cal.ExtendStopVoltageMin, a.cal.ExtendStopVoltageMax,
		)
		a.raise(status.FlagOneCycleUncertainty)
	}

	n := a.cal.StepsPerRev
	swing := a.cal.VoltageSwing()
	stall := a.cal.StallFraction * a.cal.VoltsPerStep() * float64(a.cal.SearchSteps)
	dir := int(Retract)

	last := m.Volts
	checkpoint := m.Volts
	sinceWrap := 0
	sinceCheckpoint := 0
	wrapped := false
	wraps := 0

	for wraps < a.cal.HomeWraps {
		if sinceWrap > n+n/2 {
			return a.stuckHome(fmt.Sprintf("no wrap within %d steps", sinceWrap))
		}

		if err := a.drv.Step(dir); err != nil {
			return a.busFault("home step", err)
		}
		a.setPosition(position.Predict(a.Position(), int64(dir), n))

		m, err := a.ReadVoltage()
		if err != nil {
			return err
		}
		if !m.Reliable {
			return fmt.Errorf("%w: %s", ErrUnreliable, a.serial)
		}

		sinceWrap++
		sinceCheckpoint++
		if math.Abs(m.Volts-last) > swing/2 {
			wraps++
			wrapped = true
			sinceWrap = 0
		}
		last = m.Volts

		if sinceCheckpoint == a.cal.SearchSteps {
			if !wrapped && math.Abs(m.Volts-checkpoint) < stall {
				return a.stuckHome(fmt.Sprintf("sensor static over %d steps", sinceCheckpoint))
			}
			checkpoint = m.Volts
			sinceCheckpoint = 0
			wrapped = false
		}
	}

	chk, err := a.CheckAngleSlow(position.Home)
	if err != nil {
		return err
	}
	if !chk.Reliable {
		return fmt.Errorf("%w: %s", ErrUnreliable, a.serial)
	}
	a.setPosition(position.Predict(position.Home, int64(chk.Deviation), n))
	a.clear(positionLossFlags...)

	a.logger.Printf("home set (actuator=%s position=%v wraps=%d)", a.serial, a.Position(), wraps)
	return nil
}

func (a *Actuator) stuckHome(why string) error {
	a.logger.Printf("stuck while homing (actuator=%s): %s", a.serial, why)
	a.raise(status.FlagStuckHomeNotSet)
	return fmt.Errorf("%w: %s: %s", ErrStuck, a.serial, why)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
