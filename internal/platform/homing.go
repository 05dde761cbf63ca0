// internal/platform/homing.go
package platform

import (
	"context"
	"errors"
	"strings"

	"github.com/tamzrod/hexapod/internal/actuator"
)

// ProbeEndStopAll drives all six legs toward their endstops in dir. Each
// leg stops on its own stall criterion; the call returns once every leg
// has stopped, failed, or an emergency stop is observed.
func (p *Platform) ProbeEndStopAll(ctx context.Context, dir actuator.Direction) error {
	gs, err := p.acquire()
	if err != nil {
		return err
	}
	defer gs.release()

	return p.searchAll(ctx, gs, dir)
}

// ProbeHome re-establishes every leg's absolute position from the endstop
// in dir.
func (p *Platform) ProbeHome(ctx context.Context, dir actuator.Direction) error {
	gs, err := p.acquire()
	if err != nil {
		return err
	}
	defer gs.release()

	if err := p.searchAll(ctx, gs, dir); err != nil {
		return err
	}
	return p.eachLeg(func(i int, a *actuator.Actuator) error {
		return a.HomeFromStall(gs[i], dir)
	})
}

// Commission runs the full wrap-counting home procedure on every leg. The
// extend searches are interleaved; the wrap walks run leg by leg.
func (p *Platform) Commission(ctx context.Context) error {
	gs, err := p.acquire()
	if err != nil {
		return err
	}
	defer gs.release()

	if err := p.searchAll(ctx, gs, actuator.Extend); err != nil {
		return err
	}
	return p.eachLeg(func(i int, a *actuator.Actuator) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return a.WalkToHome(gs[i])
	})
}

func (p *Platform) searchAll(ctx context.Context, gs *guards, dir actuator.Direction) error {
	var (
		searches [Legs]*actuator.EndstopSearch
		errs     []string
	)
	for i, a := range p.legs {
		s, err := a.BeginEndstopSearch(gs[i], dir)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		searches[i] = s
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.stopped.Load() {
			return ErrStopped
		}

		active := false
		for i, s := range searches {
			if s == nil || s.Done() {
				continue
			}
			active = true

			if _, err := s.Advance(); err != nil {
				errs = append(errs, err.Error())
				searches[i] = nil
			}
		}
		if !active {
			break
		}
	}

	if len(errs) > 0 {
		return errors.New("platform: endstop search: " + strings.Join(errs, " | "))
	}
	return nil
}

// eachLeg runs fn on every leg, stopping at an emergency stop. Failures
// are collected; one leg failing does not skip the others.
func (p *Platform) eachLeg(fn func(i int, a *actuator.Actuator) error) error {
	var errs []string
	for i, a := range p.legs {
		if p.stopped.Load() {
			return ErrStopped
		}
		if err := fn(i, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.New("platform: " + strings.Join(errs, " | "))
	}
	return nil
}
