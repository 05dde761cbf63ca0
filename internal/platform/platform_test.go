// internal/platform/platform_test.go
package platform

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/tamzrod/hexapod/internal/actuator"
	"github.com/tamzrod/hexapod/internal/bus"
	"github.com/tamzrod/hexapod/internal/bus/sim"
	"github.com/tamzrod/hexapod/internal/config"
	"github.com/tamzrod/hexapod/internal/persist"
	"github.com/tamzrod/hexapod/internal/position"
	"github.com/tamzrod/hexapod/internal/status"
	"github.com/tamzrod/hexapod/internal/store/memory"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func legCalibration(serial string) config.Calibration {
	return config.Calibration{
		Serial:            serial,
		StepsPerRev:       200,
		MMPerStep:         0.001,
		HomeLength:        500,
		Voltages:          sim.SawtoothTable(200, 0.5, 4.5),
		RecordingInterval: 80,
		HysteresisSteps:   10,
		ExtendLimit:       -100,
		RetractLimit:      100,
		FlaggedDeviation:  10,
		MaxDeviation:      50,
		EndstopDeviation:  20,
		RemeasureStdDev:   0.001,
		MaxStdDev:         0.01,
		ExtendEndstop:     position.Position{Revolution: -25, Angle: 37},
		RetractEndstop:    position.Position{Revolution: 40, Angle: 0},
	}
}

type rig struct {
	sim   *sim.Sim
	store *memory.Store
	p     *Platform
}

func channel(i int) uint8 { return uint8(10 + i) }

// newRig builds a platform of six simulated legs resting at Home with a
// calibrated status record on disk.
func newRig(t *testing.T) *rig {
	t.Helper()

	s := sim.New(7)
	st := memory.New()
	dir := t.TempDir()

	var legs [Legs]*actuator.Actuator
	for i := range legs {
		serial := "LEG-" + string(rune('A'+i))
		cal := legCalibration(serial)

		s.Attach(channel(i), sim.Leadscrew{
			Table:       cal.Voltages,
			ExtendStop:  -4963,
			RetractStop: 8000,
		})

		f, err := persist.OpenFile(dir, serial)
		if err != nil {
			t.Fatalf("OpenFile err=%v", err)
		}
		t.Cleanup(func() { f.Close() })

		if err := f.Save(status.Record{Time: time.Now(), Position: position.Home}); err != nil {
			t.Fatal(err)
		}

		rec := persist.NewRecorder(f, serial, st, quietLogger())
		a, err := actuator.New(serial, bus.Bind(s, channel(i)), cal, rec, quietLogger())
		if err != nil {
			t.Fatalf("actuator.New err=%v", err)
		}
		legs[i] = a
	}

	p, err := New(legs, quietLogger())
	if err != nil {
		t.Fatalf("New err=%v", err)
	}
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize err=%v", err)
	}
	if p.State() != status.StateOn {
		t.Fatalf("state after init got=%s", p.State())
	}
	s.ResetMoves()
	return &rig{sim: s, store: st, p: p}
}

func TestNew_RequiresSixLegs(t *testing.T) {
	var legs [Legs]*actuator.Actuator
	if _, err := New(legs, nil); err == nil {
		t.Fatalf("expected error for missing legs")
	}
}

func TestStep_AllLegsReachTarget(t *testing.T) {
	r := newRig(t)
	deltas := [Legs]int{240, -240, 100, 0, 30, -81}

	rem, err := r.p.Step(context.Background(), deltas)
	if err != nil {
		t.Fatalf("Step err=%v", err)
	}
	if rem != ([Legs]int{}) {
		t.Fatalf("remaining got=%v", rem)
	}

	for i := 0; i < Legs; i++ {
		if got := r.sim.Steps(channel(i)); got != int64(deltas[i]) {
			t.Fatalf("leg %d true steps got=%d want=%d", i, got, deltas[i])
		}
		if got := r.p.Leg(i).Steps(); got != int64(deltas[i]) {
			t.Fatalf("leg %d believed steps got=%d want=%d", i, got, deltas[i])
		}
	}

	if moves := r.sim.Moves(channel(3)); len(moves) != 0 {
		t.Fatalf("idle leg moved: %v", moves)
	}
	// hysteresis closes every moving leg's run
	moves := r.sim.Moves(channel(0))
	if n := len(moves); n < 2 || moves[n-2] != 10 || moves[n-1] != -10 {
		t.Fatalf("leg 0 moves got=%v", moves)
	}
	if r.p.State() != status.StateOn {
		t.Fatalf("state got=%s", r.p.State())
	}

	if h := r.store.History("LEG-A"); len(h) == 0 {
		t.Fatalf("expected mirrored status history")
	}
}

func TestStep_Interleaves(t *testing.T) {
	r := newRig(t)

	var order []uint8
	r.sim.OnStep(func(ch uint8, steps int) { order = append(order, ch) })

	if _, err := r.p.Step(context.Background(), [Legs]int{160, 160, 160, 160, 160, 160}); err != nil {
		t.Fatal(err)
	}

	// first round touches every leg before any leg gets a second chunk
	seen := make(map[uint8]bool)
	for _, ch := range order[:Legs] {
		seen[ch] = true
	}
	if len(seen) != Legs {
		t.Fatalf("first round order=%v", order[:Legs])
	}
}

func TestStep_OutOfRangeMovesNothing(t *testing.T) {
	r := newRig(t)
	deltas := [Legs]int{10, 10, 200 * 100, 10, 10, 10}

	rem, err := r.p.Step(context.Background(), deltas)
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if rem != deltas {
		t.Fatalf("remaining got=%v want=%v", rem, deltas)
	}
	for i := 0; i < Legs; i++ {
		if len(r.sim.Moves(channel(i))) != 0 {
			t.Fatalf("leg %d moved", i)
		}
	}
	if !r.p.Leg(2).Flags().Has(status.FlagOutOfRange) {
		t.Fatalf("offending leg not flagged")
	}
	if r.p.Leg(0).Flags().Has(status.FlagOutOfRange) {
		t.Fatalf("valid leg flagged")
	}
	if r.p.State() != status.StateOperable {
		t.Fatalf("state got=%s", r.p.State())
	}
}

func TestStep_EmergencyStopAfterFirstChunk(t *testing.T) {
	r := newRig(t)

	first := true
	r.sim.OnStep(func(ch uint8, steps int) {
		if first {
			first = false
			r.p.EmergencyStop()
		}
	})

	rem, err := r.p.Step(context.Background(), [Legs]int{240, 240, 240, 240, 240, -240})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	for i, v := range rem {
		if v == 0 {
			t.Fatalf("leg %d remaining is zero: %v", i, rem)
		}
		if abs(v) != 160 {
			t.Fatalf("leg %d remaining got=%d want=±160", i, v)
		}
	}
	if r.p.State() != status.StateOff {
		t.Fatalf("state got=%s", r.p.State())
	}
	for i := 0; i < Legs; i++ {
		if r.p.Leg(i).Busy() {
			t.Fatalf("leg %d still busy", i)
		}
		if r.sim.IsOn(channel(i)) {
			t.Fatalf("leg %d still energized", i)
		}
		// partial motion is kept
		if got := r.p.Leg(i).Steps(); abs(int(got)) != 80 {
			t.Fatalf("leg %d believed steps got=%d", i, got)
		}
	}

	r.sim.OnStep(nil)
	if err := r.p.PowerOn(); err != nil {
		t.Fatal(err)
	}
	rem, err = r.p.Step(context.Background(), rem)
	if err != nil || rem != ([Legs]int{}) {
		t.Fatalf("resume rem=%v err=%v", rem, err)
	}
	if got := r.sim.Steps(channel(5)); got != -240 {
		t.Fatalf("leg 5 true steps got=%d", got)
	}
}

func TestStep_FatalLegStopsPlatform(t *testing.T) {
	r := newRig(t)
	r.sim.InjectMiss(channel(1), 30)

	rem, err := r.p.Step(context.Background(), [Legs]int{240, 240, 240, 240, 240, 240})
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("expected ErrFatal, got %v", err)
	}
	if rem[1] != 190 {
		t.Fatalf("leg 1 remaining got=%d want=190", rem[1])
	}
	if rem[0] != 160 || rem[5] != 160 {
		t.Fatalf("remaining got=%v", rem)
	}
	if r.p.State() != status.StateFatal {
		t.Fatalf("state got=%s", r.p.State())
	}

	if _, err := r.p.Step(context.Background(), [Legs]int{10}); !errors.Is(err, ErrFatal) {
		t.Fatalf("expected ErrFatal on new command, got %v", err)
	}
}

func TestStep_BusyLegRejectsCommand(t *testing.T) {
	r := newRig(t)

	g, err := r.p.Leg(3).Acquire()
	if err != nil {
		t.Fatal(err)
	}
	defer g.Release()

	deltas := [Legs]int{10, 10, 10, 10, 10, 10}
	rem, err := r.p.Step(context.Background(), deltas)
	if !errors.Is(err, actuator.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if rem != deltas {
		t.Fatalf("remaining got=%v", rem)
	}
	for i := 0; i < Legs; i++ {
		if i != 3 && r.p.Leg(i).Busy() {
			t.Fatalf("leg %d left busy", i)
		}
	}
}

func TestStep_ContextCancelled(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	deltas := [Legs]int{100, 100, 100, 100, 100, 100}
	rem, err := r.p.Step(ctx, deltas)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if rem != deltas {
		t.Fatalf("remaining got=%v", rem)
	}
}

func TestMoveToLengths(t *testing.T) {
	r := newRig(t)

	var target [Legs]float64
	for i := range target {
		target[i] = 500 - 0.05*float64(i+1)
	}

	if _, err := r.p.MoveToLengths(context.Background(), target); err != nil {
		t.Fatalf("MoveToLengths err=%v", err)
	}
	got := r.p.Lengths()
	for i := range target {
		if math.Abs(got[i]-target[i]) > 1e-6 {
			t.Fatalf("leg %d length got=%v want=%v", i, got[i], target[i])
		}
	}
	if r.sim.Steps(channel(0)) != 50 {
		t.Fatalf("shortening must be positive steps, got=%d", r.sim.Steps(channel(0)))
	}
}

func TestEmergencyStop_Idle(t *testing.T) {
	r := newRig(t)

	r.p.EmergencyStop()
	if r.p.State() != status.StateOff {
		t.Fatalf("state got=%s", r.p.State())
	}
	for i := 0; i < Legs; i++ {
		if r.sim.IsOn(channel(i)) {
			t.Fatalf("leg %d still energized", i)
		}
	}

	if _, err := r.p.Step(context.Background(), [Legs]int{10}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestEmergencyStop_LegBusyOutsidePlatform(t *testing.T) {
	r := newRig(t)
	leg := r.p.Leg(2)

	var stopErr error
	n := 0
	r.sim.OnStep(func(ch uint8, steps int) {
		if ch != channel(2) {
			return
		}
		n++
		if n == 1 {
			r.p.EmergencyStop()
			if !r.sim.IsOn(channel(2)) {
				stopErr = errors.New("leg de-energized mid-chunk")
			}
		}
	})

	rem, err := leg.Step(240)
	if stopErr != nil {
		t.Fatal(stopErr)
	}
	if !errors.Is(err, actuator.ErrStopped) || rem != 160 {
		t.Fatalf("rem=%d err=%v", rem, err)
	}
	for i := 0; i < Legs; i++ {
		if r.sim.IsOn(channel(i)) {
			t.Fatalf("leg %d still energized", i)
		}
	}
	if r.p.State() != status.StateOff {
		t.Fatalf("state got=%s", r.p.State())
	}
}

func TestState_OperableVisibleWhileBusy(t *testing.T) {
	r := newRig(t)

	if err := r.p.Leg(0).CheckRange(1_000_000); !errors.Is(err, actuator.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	g, err := r.p.Leg(1).Acquire()
	if err != nil {
		t.Fatal(err)
	}
	defer g.Release()

	if got := r.p.State(); got != status.StateOperable {
		t.Fatalf("state got=%s want=%s", got, status.StateOperable)
	}

	r.p.ClearOperable()
	if got := r.p.State(); got != status.StateBusy {
		t.Fatalf("state after clear got=%s", got)
	}
}

func TestProbeHome_Extend(t *testing.T) {
	r := newRig(t)
	r.sim.SetSteps(channel(4), 300)

	if err := r.p.ProbeHome(context.Background(), actuator.Extend); err != nil {
		t.Fatalf("ProbeHome err=%v", err)
	}
	for i := 0; i < Legs; i++ {
		a := r.p.Leg(i)
		if a.Steps() != r.sim.Steps(channel(i)) {
			t.Fatalf("leg %d believed=%d true=%d", i, a.Steps(), r.sim.Steps(channel(i)))
		}
		if len(a.Flags().Set()) != 0 {
			t.Fatalf("leg %d flags=%s", i, a.Flags())
		}
	}
	if r.p.State() != status.StateOn {
		t.Fatalf("state got=%s", r.p.State())
	}
}

func TestProbeEndStopAll_StopsOnEmergency(t *testing.T) {
	r := newRig(t)

	n := 0
	r.sim.OnStep(func(ch uint8, steps int) {
		n++
		if n == 20 {
			r.p.EmergencyStop()
		}
	})

	if err := r.p.ProbeEndStopAll(context.Background(), actuator.Extend); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if r.p.State() != status.StateOff {
		t.Fatalf("state got=%s", r.p.State())
	}
}

func TestCommission(t *testing.T) {
	r := newRig(t)

	if err := r.p.Commission(context.Background()); err != nil {
		t.Fatalf("Commission err=%v", err)
	}
	for i := 0; i < Legs; i++ {
		if r.p.Leg(i).Position() != position.Home {
			t.Fatalf("leg %d position=%v", i, r.p.Leg(i).Position())
		}
		// -4963 sits at angle 37; the first wrap toward retract is -4800.
		if got := r.sim.Steps(channel(i)); got != -4800 {
			t.Fatalf("leg %d true steps got=%d", i, got)
		}
	}
}

func TestBuild_Sim(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{Hexapod: config.HexapodConfig{
		Bus:       config.BusConfig{Kind: config.BusSim, Sim: &config.SimConfig{Seed: 3}},
		Store:     config.StoreConfig{MirrorStatus: true},
		StatusDir: filepath.Join(dir, "status"),
	}}
	st := memory.New()
	for i := 0; i < Legs; i++ {
		serial := "SIM-" + string(rune('0'+i))
		leg := config.LegConfig{Serial: serial, Channel: uint8(i)}
		cal := legCalibration(serial)
		if i%2 == 0 {
			leg.Calibration = &cal
		} else if err := st.SaveCalibration(cal); err != nil {
			t.Fatal(err)
		}
		cfg.Hexapod.Legs = append(cfg.Hexapod.Legs, leg)
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate err=%v", err)
	}
	config.Normalize(cfg)

	p, closer, err := Build(cfg, st, quietLogger())
	if err != nil {
		t.Fatalf("Build err=%v", err)
	}
	defer closer()

	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize err=%v", err)
	}
	// no record yet: home is unknown
	if p.State() != status.StateOperable {
		t.Fatalf("state got=%s", p.State())
	}
	if err := p.ProbeHome(context.Background(), actuator.Extend); err != nil {
		t.Fatalf("ProbeHome err=%v", err)
	}
	if p.State() != status.StateOn {
		t.Fatalf("state after homing got=%s", p.State())
	}
	if _, err := p.Step(context.Background(), [Legs]int{50, 50, 50, 50, 50, 50}); err != nil {
		t.Fatalf("Step err=%v", err)
	}
	if h := st.History("SIM-0"); len(h) == 0 {
		t.Fatalf("expected mirrored history")
	}
}

func TestBuild_MissingCalibration(t *testing.T) {
	cfg := &config.Config{Hexapod: config.HexapodConfig{
		Bus:       config.BusConfig{Kind: config.BusSim},
		StatusDir: t.TempDir(),
	}}
	for i := 0; i < Legs; i++ {
		cfg.Hexapod.Legs = append(cfg.Hexapod.Legs, config.LegConfig{Serial: "X" + string(rune('0'+i)), Channel: uint8(i)})
	}

	if _, _, err := Build(cfg, memory.New(), quietLogger()); err == nil {
		t.Fatalf("expected calibration error")
	}
}
