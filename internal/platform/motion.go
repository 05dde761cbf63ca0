// internal/platform/motion.go
package platform

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/tamzrod/hexapod/internal/actuator"
)

// Step moves every leg by its delta in an interleaved round-robin so the
// legs progress together. The whole command is refused, with no motion on
// any leg, if one leg would leave its travel limits.
//
// The returned array holds each leg's outstanding steps: all zero on
// success, the original deltas if nothing moved, partial counts if the run
// stopped early. Partial motion is never rolled back.
func (p *Platform) Step(ctx context.Context, deltas [Legs]int) ([Legs]int, error) {
	gs, err := p.acquire()
	if err != nil {
		return deltas, err
	}
	defer gs.release()

	return p.step(ctx, gs, deltas)
}

// MoveToLengths moves every leg to a target length in mm.
func (p *Platform) MoveToLengths(ctx context.Context, target [Legs]float64) ([Legs]int, error) {
	var deltas [Legs]int
	for i, a := range p.legs {
		cal := a.Calibration()
		// Positive steps shorten the leg.
		deltas[i] = int(math.Round((a.Length() - target[i]) / cal.MMPerStep))
	}
	return p.Step(ctx, deltas)
}

func (p *Platform) step(ctx context.Context, gs *guards, deltas [Legs]int) ([Legs]int, error) {
	if err := p.halted(); err != nil {
		return deltas, err
	}

	var bad []string
	for i, a := range p.legs {
		if err := a.CheckRange(deltas[i]); err != nil {
			bad = append(bad, err.Error())
		}
	}
	if len(bad) > 0 {
		p.logger.Printf("platform step refused: %s", strings.Join(bad, " | "))
		return deltas, fmt.Errorf("%w: %s", ErrOutOfRange, strings.Join(bad, " | "))
	}

	for i, a := range p.legs {
		if _, err := a.Recover(gs[i]); err != nil {
			return deltas, err
		}
	}
	if err := p.halted(); err != nil {
		return deltas, err
	}

	var (
		pending    = deltas // not yet handed to the accumulator
		acc        [Legs]int
		iterations [Legs]int
		remaining  = deltas
	)
	for i, a := range p.legs {
		iterations[i] = ceilDiv(abs(deltas[i]), a.Calibration().RecordingInterval)
	}

	for tick := 0; ; tick++ {
		active := false
		for _, it := range iterations {
			if it > 0 {
				active = true
			}
		}
		if !active {
			break
		}

		if err := ctx.Err(); err != nil {
			return remaining, err
		}
		if err := p.halted(); err != nil {
			p.logger.Printf("platform step halted (tick=%d remaining=%v): %v", tick, remaining, err)
			return remaining, err
		}

		for i, a := range p.legs {
			if iterations[i] == 0 {
				continue
			}

			share := pending[i] / iterations[i]
			acc[i] += share
			pending[i] -= share
			iterations[i]--

			if abs(acc[i]) < a.Calibration().RecordingInterval && iterations[i] > 0 {
				continue
			}

			rem, err := a.Move(gs[i], acc[i])
			remaining[i] = pending[i] + rem
			acc[i] = 0

			if err != nil || rem != 0 {
				// This leg is done; the others keep their own accounting.
				iterations[i] = 0
				if err != nil {
					p.logger.Printf("leg aborted (actuator=%s remaining=%d): %v", a.Serial(), remaining[i], err)
					if !errors.Is(err, actuator.ErrFatal) && !errors.Is(err, actuator.ErrBus) {
						return remaining, err
					}
				}
			}
		}
	}

	for _, r := range remaining {
		if r != 0 {
			return remaining, p.halted()
		}
	}

	for i, a := range p.legs {
		if deltas[i] == 0 {
			continue
		}
		if err := p.halted(); err != nil {
			return remaining, err
		}
		rem, err := a.Hysteresis(gs[i])
		remaining[i] = rem
		if err != nil {
			return remaining, err
		}
	}

	return remaining, p.halted()
}
