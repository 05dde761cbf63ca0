// internal/platform/platform.go
package platform

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync/atomic"

	"github.com/tamzrod/hexapod/internal/actuator"
	"github.com/tamzrod/hexapod/internal/config"
	"github.com/tamzrod/hexapod/internal/position"
	"github.com/tamzrod/hexapod/internal/status"
)

const Legs = config.LegCount

var (
	ErrStopped    = errors.New("platform: emergency stop")
	ErrFatal      = errors.New("platform: leg in fatal state")
	ErrOutOfRange = errors.New("platform: command out of software range")
)

// Platform exclusively owns the six actuators of the hexapod.
type Platform struct {
	legs   [Legs]*actuator.Actuator
	logger *log.Logger

	stopped atomic.Bool
}

// New builds a platform over six actuators. Every slot must be filled.
func New(legs [Legs]*actuator.Actuator, logger *log.Logger) (*Platform, error) {
	for i, a := range legs {
		if a == nil {
			return nil, fmt.Errorf("platform: leg %d missing", i)
		}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Platform{legs: legs, logger: logger}, nil
}

// ---- queries ----

// Leg returns actuator i.
func (p *Platform) Leg(i int) *actuator.Actuator { return p.legs[i] }

func (p *Platform) Positions() [Legs]position.Position {
	var out [Legs]position.Position
	for i, a := range p.legs {
		out[i] = a.Position()
	}
	return out
}

// Lengths returns the believed leg lengths in mm.
func (p *Platform) Lengths() [Legs]float64 {
	var out [Legs]float64
	for i, a := range p.legs {
		out[i] = a.Length()
	}
	return out
}

// State folds the leg states into one device state. An emergency stop
// reads as Off until PowerOn.
func (p *Platform) State() status.DeviceState {
	if p.stopped.Load() {
		return status.StateOff
	}

	var states [Legs]status.DeviceState
	for i, a := range p.legs {
		states[i] = a.State()
	}

	for _, want := range []status.DeviceState{status.StateFatal, status.StateOperable, status.StateBusy} {
		for _, s := range states {
			if s == want {
				return want
			}
		}
	}
	for _, s := range states {
		if s == status.StateOff {
			return status.StateOff
		}
	}
	return status.StateOn
}

// ---- power ----

// Initialize brings up every leg. Each leg is attempted even if an earlier
// one fails.
func (p *Platform) Initialize() error {
	var errs []string
	for _, a := range p.legs {
		if err := a.Initialize(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.New("platform: initialize: " + strings.Join(errs, " | "))
	}
	p.logger.Printf("platform initialized (state=%s)", p.State())
	return nil
}

// EmergencyStop requests a stop. Idle legs de-energize now. A leg held by a
// running operation, from the platform or a direct actuator call, finishes
// its in-flight chunk and de-energizes when its guard is released; platform
// commands observe the stop at their next tick.
func (p *Platform) EmergencyStop() {
	if p.stopped.Swap(true) {
		return
	}
	p.logger.Printf("emergency stop requested")
	for _, a := range p.legs {
		a.Stop()
	}
}

// PowerOn clears an emergency stop and re-energizes every leg.
func (p *Platform) PowerOn() error {
	p.stopped.Store(false)

	var errs []string
	for _, a := range p.legs {
		if err := a.Enable(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.New("platform: power on: " + strings.Join(errs, " | "))
	}
	return nil
}

// ClearOperable acknowledges Operable flags on every leg.
func (p *Platform) ClearOperable() {
	for _, a := range p.legs {
		a.ClearOperable()
	}
}

// ---- guards ----

type guards [Legs]*actuator.Guard

// acquire takes every leg's guard or none of them.
func (p *Platform) acquire() (*guards, error) {
	var gs guards
	for i, a := range p.legs {
		g, err := a.Acquire()
		if err != nil {
			gs.release()
			return nil, err
		}
		gs[i] = g
	}
	return &gs, nil
}

func (gs *guards) release() {
	for _, g := range gs {
		g.Release()
	}
}

// halted reports why a command must stop issuing chunks, if it must.
func (p *Platform) halted() error {
	if p.stopped.Load() {
		return ErrStopped
	}
	for _, a := range p.legs {
		if a.Flags().Fatal() {
			return fmt.Errorf("%w: %s", ErrFatal, a.Serial())
		}
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func ceilDiv(n, d int) int {
	return int(math.Ceil(float64(n) / float64(d)))
}
