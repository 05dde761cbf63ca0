// internal/actuator/actuator.go
package actuator

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tamzrod/hexapod/internal/config"
	"github.com/tamzrod/hexapod/internal/persist"
	"github.com/tamzrod/hexapod/internal/position"
	"github.com/tamzrod/hexapod/internal/status"
)

var (
	ErrBusy       = errors.New("actuator: busy")
	ErrFatal      = errors.New("actuator: fatal state, motion refused")
	ErrGuard      = errors.New("actuator: busy guard not held")
	ErrOutOfRange = errors.New("actuator: move out of software range")
	ErrUnreliable = errors.New("actuator: unreliable measurement")
	ErrStuck      = errors.New("actuator: stuck, home not set")
	ErrNoEndstop  = errors.New("actuator: endstop not found")
	ErrBus        = errors.New("actuator: bus failure")
	ErrNotPowered = errors.New("actuator: channel not powered")
	ErrStopped    = errors.New("actuator: stop requested")
)

// Driver is the hardware capability an actuator needs. bus.Channel
// implements it for every bus variant.
type Driver interface {
	Step(steps int) error
	ReadVoltage() (float64, error)
	Enable() error
	Disable() error
	IsOn() bool
}

// Recorder persists status records. persist.Recorder implements it.
type Recorder interface {
	Save(r status.Record) error
	Load() (status.Record, error)
}

// Direction of travel. Extend lengthens the leg (negative steps).
type Direction int

const (
	Extend  Direction = -1
	Retract Direction = 1
)

func (d Direction) String() string {
	if d == Extend {
		return "extend"
	}
	return "retract"
}

// Actuator is one stepper-driven leadscrew with a rotary position sensor.
// Position and flags are guarded by mu so queries are safe while a motion
// runs on another goroutine; motion itself requires the busy guard.
type Actuator struct {
	serial string
	drv    Driver
	cal    config.Calibration
	rec    Recorder
	logger *log.Logger
	now    func() time.Time

	busy     atomic.Bool
	stopping atomic.Bool

	mu    sync.Mutex
	pos   position.Position
	flags status.Flags
}

// New builds an actuator that exclusively owns cal. rec may be nil, which
// disables persistence. Tuning defaults are applied before validation.
func New(serial string, drv Driver, cal config.Calibration, rec Recorder, logger *log.Logger) (*Actuator, error) {
	if drv == nil {
		return nil, fmt.Errorf("actuator %s: driver required", serial)
	}
	cal.Voltages = append([]float64(nil), cal.Voltages...)
	cal.ApplyDefaults()
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("actuator %s: %w", serial, err)
	}
	if logger == nil {
		logger = log.Default()
	}

	a := &Actuator{
		serial: serial,
		drv:    drv,
		cal:    cal,
		rec:    rec,
		logger: logger,
		now:    time.Now,
	}
	a.flags[status.FlagHomeNotCalibrated] = true
	return a, nil
}

// ---- queries ----

func (a *Actuator) Serial() string { return a.serial }

// Calibration returns the actuator's calibration. The voltage table is
// shared and must not be modified.
func (a *Actuator) Calibration() config.Calibration { return a.cal }

func (a *Actuator) Position() position.Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos
}

func (a *Actuator) Flags() status.Flags {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flags
}

// Steps returns the absolute step count of the believed position.
func (a *Actuator) Steps() int64 {
	return position.ToSteps(a.Position(), a.cal.StepsPerRev)
}

// Length returns the believed leg length in mm.
func (a *Actuator) Length() float64 {
	return a.cal.Length(a.Steps())
}

// State derives the device state from flags and activity.
func (a *Actuator) State() status.DeviceState {
	return status.Derive(a.Flags(), a.drv.IsOn(), a.busy.Load())
}

// Busy reports whether a motion or homing operation holds the guard.
func (a *Actuator) Busy() bool { return a.busy.Load() }

// InRange reports whether moving delta steps keeps the revolution inside
// [ExtendLimit, RetractLimit). A nonzero move also checks the hysteresis
// overshoot past the target.
func (a *Actuator) InRange(delta int) bool {
	if !a.revInRange(delta) {
		return false
	}
	h := a.cal.HysteresisSteps
	return delta == 0 || h == 0 || a.revInRange(delta+h)
}

func (a *Actuator) revInRange(delta int) bool {
	p := position.Predict(a.Position(), int64(delta), a.cal.StepsPerRev)
	return p.Revolution >= a.cal.ExtendLimit && p.Revolution < a.cal.RetractLimit
}

// ---- power ----

// Enable powers the channel and withdraws any pending stop request.
func (a *Actuator) Enable() error {
	a.stopping.Store(false)
	if err := a.drv.Enable(); err != nil {
		return a.busFault("enable", err)
	}
	return nil
}

// Disable de-energizes the channel. It needs no guard: it is the
// emergency path.
func (a *Actuator) Disable() error {
	if err := a.drv.Disable(); err != nil {
		return a.busFault("disable", err)
	}
	return nil
}

// Stop requests a de-energize. An idle actuator is disabled now. A running
// operation finishes its current chunk, observes the request at the next
// chunk boundary, and the channel is disabled when its guard is released.
// Enable withdraws the request.
func (a *Actuator) Stop() {
	a.stopping.Store(true)
	a.disableIfIdle()
}

// Stopping reports whether a stop request is pending.
func (a *Actuator) Stopping() bool { return a.stopping.Load() }

func (a *Actuator) disableIfIdle() {
	if !a.stopping.Load() || !a.busy.CompareAndSwap(false, true) {
		return
	}
	defer a.busy.Store(false)
	if err := a.Disable(); err != nil {
		a.logger.Printf("stop: disable failed (actuator=%s): %v", a.serial, err)
		return
	}
	a.logger.Printf("stopped (actuator=%s)", a.serial)
}

// ---- busy guard ----

// Guard is the token proving exclusive use of an actuator for one
// motion or homing operation.
type Guard struct {
	a    *Actuator
	once sync.Once
	done atomic.Bool
}

// Acquire takes the busy guard. A busy actuator rejects immediately;
// requests are never queued.
func (a *Actuator) Acquire() (*Guard, error) {
	if !a.busy.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: %s", ErrBusy, a.serial)
	}
	return &Guard{a: a}, nil
}

// Release returns the actuator to idle. It is safe to call more than once.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		g.done.Store(true)
		g.a.busy.Store(false)
		g.a.disableIfIdle()
	})
}

func (a *Actuator) held(g *Guard) error {
	if g == nil || g.a != a || g.done.Load() {
		return fmt.Errorf("%w: %s", ErrGuard, a.serial)
	}
	return nil
}

// ---- flags and persistence ----

// raise sets f, logging and persisting on transition.
func (a *Actuator) raise(f status.Flag) {
	a.mu.Lock()
	if a.flags[f] {
		a.mu.Unlock()
		return
	}
	a.flags[f] = true
	a.mu.Unlock()

	a.logger.Printf("flag raised (actuator=%s flag=%q severity=%s)", a.serial, f, f.Definition().Severity)
	a.persist()
}

// clear unsets the given flags, persisting once if any changed.
func (a *Actuator) clear(fs ...status.Flag) {
	var cleared []status.Flag

	a.mu.Lock()
	for _, f := range fs {
		if a.flags[f] {
			a.flags[f] = false
			cleared = append(cleared, f)
		}
	}
	a.mu.Unlock()

	if len(cleared) == 0 {
		return
	}
	for _, f := range cleared {
		a.logger.Printf("flag cleared (actuator=%s flag=%q)", a.serial, f)
	}
	a.persist()
}

// ClearFlag acknowledges one flag.
func (a *Actuator) ClearFlag(f status.Flag) {
	if f < 0 || f >= status.NumFlags {
		return
	}
	a.clear(f)
}

// ClearOperable acknowledges every Operable flag except the home
// calibration flag, which only homing clears.
func (a *Actuator) ClearOperable() {
	var fs []status.Flag
	for _, f := range a.Flags().Set() {
		if f.Definition().Severity == status.Operable && f != status.FlagHomeNotCalibrated {
			fs = append(fs, f)
		}
	}
	a.clear(fs...)
}

// positionLossFlags are cleared by a successful homing.
var positionLossFlags = []status.Flag{
	status.FlagHomeNotCalibrated,
	status.FlagHomeLost,
	status.FlagMissedSteps,
	status.FlagStuckAtEndstop,
	status.FlagStuckHomeNotSet,
	status.FlagUnreliableMeasurement,
	status.FlagEndstopNotFound,
}

func (a *Actuator) setPosition(p position.Position) {
	a.mu.Lock()
	a.pos = p
	a.mu.Unlock()
	a.persist()
}

func (a *Actuator) record() status.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return status.Record{Time: a.now(), Position: a.pos, Flags: a.flags}
}

// persist writes the current record. Failures are logged: motion state is
// already committed in memory and stays queryable.
func (a *Actuator) persist() {
	if a.rec == nil {
		return
	}
	if err := a.rec.Save(a.record()); err != nil {
		a.logger.Printf("status persist failed (actuator=%s): %v", a.serial, err)
	}
}

func (a *Actuator) busFault(op string, err error) error {
	a.raise(status.FlagBusFault)
	return fmt.Errorf("%w: %s %s: %v", ErrBus, a.serial, op, err)
}

// ---- lifecycle ----

// Initialize powers the channel, restores the last status record and
// recovers the position against the live sensor. The home calibration
// flag ends up set unless a calibrated record was restored and recovered.
func (a *Actuator) Initialize() error {
	g, err := a.Acquire()
	if err != nil {
		return err
	}
	defer g.Release()

	if err := a.Enable(); err != nil {
		return err
	}

	var rec status.Record
	if a.rec != nil {
		rec, err = a.rec.Load()
	} else {
		err = persist.ErrNoRecord
	}

	switch {
	case errors.Is(err, persist.ErrNoRecord):
		a.logger.Printf("no status record, home unknown (actuator=%s)", a.serial)
		a.restore(position.Home, status.Flags{})
		a.raise(status.FlagHomeNotCalibrated)
		a.persist()
		return nil

	case err != nil:
		a.logger.Printf("status record unreadable, home unknown (actuator=%s): %v", a.serial, err)
		a.restore(position.Home, status.Flags{})
		a.raise(status.FlagHomeNotCalibrated)
		a.persist()
		return nil
	}

	if rec.Position.Angle < 0 || rec.Position.Angle >= a.cal.StepsPerRev {
		a.logger.Printf("status record angle %d out of range (actuator=%s)", rec.Position.Angle, a.serial)
		a.restore(position.Home, rec.Flags)
		a.raise(status.FlagHomeNotCalibrated)
		return nil
	}

	// Bus faults belong to the previous process.
	rec.Flags[status.FlagBusFault] = false
	a.restore(rec.Position, rec.Flags)
	calibrated := !rec.Flags.Has(status.FlagHomeNotCalibrated)

	chk, err := a.recoverChecked(false)
	if err != nil {
		return err
	}

	// Only a reliable check can confirm the recorded home.
	if calibrated && chk.Reliable && !a.Flags().Has(status.FlagHomeLost) {
		a.clear(status.FlagHomeNotCalibrated)
	} else {
		a.raise(status.FlagHomeNotCalibrated)
	}
	a.persist()

	a.logger.Printf("initialized (actuator=%s position=%v state=%s flags=%s)", a.serial, a.Position(), a.State(), a.Flags())
	return nil
}

func (a *Actuator) restore(p position.Position, fs status.Flags) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pos = p
	a.flags = fs
}
