// internal/bus/sim/sim.go
package sim

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tamzrod/hexapod/internal/bus"
)

// Leadscrew is the simulated mechanics of one channel: a stepper-driven
// leadscrew between two hard endstops and a rotary sensor repeating every
// len(Table) steps.
type Leadscrew struct {
	Table       []float64
	ExtendStop  int64
	RetractStop int64
	Steps       int64 // true absolute position
	NoiseVolts  float64

	on     bool
	miss   int  // steps dropped from the next move
	jammed bool // motor never moves
	moves  []int
}

// Sim is an in-memory bus.Bus.
type Sim struct {
	mu     sync.Mutex
	rng    *rand.Rand
	legs   map[uint8]*Leadscrew
	onStep func(ch uint8, steps int)
}

var _ bus.Bus = (*Sim)(nil)

// New creates an empty simulator. The seed makes sensor noise reproducible.
func New(seed int64) *Sim {
	return &Sim{
		rng:  rand.New(rand.NewSource(seed)),
		legs: make(map[uint8]*Leadscrew),
	}
}

// Attach installs the mechanics for channel ch. The channel starts disabled.
func (s *Sim) Attach(ch uint8, l Leadscrew) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := l
	cp.Table = append([]float64(nil), l.Table...)
	s.legs[ch] = &cp
}

// SawtoothTable is an ideal sensor response: a linear ramp from lo to hi
// over n steps that wraps back to lo at angle 0.
func SawtoothTable(n int, lo, hi float64) []float64 {
	t := make([]float64, n)
	for a := range t {
		t[a] = lo + (hi-lo)*float64(a)/float64(n)
	}
	return t
}

// ---- fault injection and inspection ----

// InjectMiss makes the next move on ch lose n steps.
func (s *Sim) InjectMiss(ch uint8, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.legs[ch]; l != nil {
		l.miss = n
	}
}

// Jam stops the motor on ch from moving at all.
func (s *Sim) Jam(ch uint8, jammed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.legs[ch]; l != nil {
		l.jammed = jammed
	}
}

// SetNoise sets the Gaussian sensor noise (standard deviation, volts) on ch.
func (s *Sim) SetNoise(ch uint8, volts float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.legs[ch]; l != nil {
		l.NoiseVolts = volts
	}
}

// SetSteps teleports the true position of ch.
func (s *Sim) SetSteps(ch uint8, steps int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.legs[ch]; l != nil {
		l.Steps = steps
	}
}

// Steps returns the true absolute position of ch.
func (s *Sim) Steps(ch uint8) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.legs[ch]; l != nil {
		return l.Steps
	}
	return 0
}

// Moves returns the requested step counts issued to ch, in order.
func (s *Sim) Moves(ch uint8) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.legs[ch]; l != nil {
		return append([]int(nil), l.moves...)
	}
	return nil
}

// ResetMoves clears the move history of every channel.
func (s *Sim) ResetMoves() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.legs {
		l.moves = nil
	}
}

// OnStep registers a hook called after every executed move, outside the lock.
func (s *Sim) OnStep(fn func(ch uint8, steps int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStep = fn
}

// ---- bus.Bus ----

func (s *Sim) StepMotor(ch uint8, steps int) error {
	s.mu.Lock()
	l, err := s.leg(ch)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !l.on {
		s.mu.Unlock()
		return fmt.Errorf("%w: ch=%d", bus.ErrDisabled, ch)
	}

	l.moves = append(l.moves, steps)

	actual := steps
	if l.jammed {
		actual = 0
	}
	if l.miss > 0 && actual != 0 {
		drop := l.miss
		if drop > abs(actual) {
			drop = abs(actual)
		}
		if actual > 0 {
			actual -= drop
		} else {
			actual += drop
		}
		l.miss = 0
	}

	next := l.Steps + int64(actual)
	if next < l.ExtendStop {
		next = l.ExtendStop
	}
	if next > l.RetractStop {
		next = l.RetractStop
	}
	l.Steps = next

	hook := s.onStep
	s.mu.Unlock()

	if hook != nil {
		hook(ch, steps)
	}
	return nil
}

func (s *Sim) ReadEncoderVoltage(ch uint8) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.leg(ch)
	if err != nil {
		return 0, err
	}

	n := int64(len(l.Table))
	a := l.Steps % n
	if a < 0 {
		a += n
	}
	v := l.Table[a]
	if l.NoiseVolts > 0 {
		v += s.rng.NormFloat64() * l.NoiseVolts
	}
	return v, nil
}

func (s *Sim) Enable(ch uint8) error  { return s.setOn(ch, true) }
func (s *Sim) Disable(ch uint8) error { return s.setOn(ch, false) }

func (s *Sim) IsOn(ch uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.leg(ch)
	return err == nil && l.on
}

func (s *Sim) setOn(ch uint8, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.leg(ch)
	if err != nil {
		return err
	}
	l.on = on
	return nil
}

func (s *Sim) leg(ch uint8) (*Leadscrew, error) {
	l := s.legs[ch]
	if l == nil {
		return nil, fmt.Errorf("%w: ch=%d", bus.ErrUnknownChannel, ch)
	}
	return l, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
