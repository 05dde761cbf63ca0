// internal/platform/builder.go
package platform

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tamzrod/hexapod/internal/actuator"
	"github.com/tamzrod/hexapod/internal/bus"
	busmodbus "github.com/tamzrod/hexapod/internal/bus/modbus"
	"github.com/tamzrod/hexapod/internal/bus/serialline"
	"github.com/tamzrod/hexapod/internal/bus/sim"
	"github.com/tamzrod/hexapod/internal/config"
	"github.com/tamzrod/hexapod/internal/persist"
	"github.com/tamzrod/hexapod/internal/position"
	"github.com/tamzrod/hexapod/internal/store"
)

// Build wires the bus, status files and six actuators described by cfg.
// Calibration comes from the store unless the leg carries it inline.
// The returned closer releases the status files and the bus.
func Build(cfg *config.Config, st store.Store, logger *log.Logger) (*Platform, func() error, error) {
	if cfg == nil {
		return nil, nil, config.ErrNoConfig
	}
	if logger == nil {
		logger = log.Default()
	}
	h := cfg.Hexapod

	// calibrations first: the sim bus is shaped by them
	cals := make([]config.Calibration, len(h.Legs))
	for i, l := range h.Legs {
		if l.Calibration != nil {
			cals[i] = *l.Calibration
			continue
		}
		if st == nil {
			return nil, nil, fmt.Errorf("leg %s: no store for calibration", l.Serial)
		}
		c, err := st.LoadCalibration(l.Serial)
		if err != nil {
			return nil, nil, fmt.Errorf("leg %s: load calibration: %w", l.Serial, err)
		}
		cals[i] = c
	}

	b, closeBus, err := openBus(h, cals)
	if err != nil {
		return nil, nil, err
	}

	var (
		legs    [Legs]*actuator.Actuator
		closers []func() error
	)
	closeAll := func() error {
		var errs []string
		for _, c := range closers {
			if err := c(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := closeBus(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("platform close: %s", strings.Join(errs, " | "))
		}
		return nil
	}

	var mirror store.Store
	if h.Store.MirrorStatus {
		mirror = st
	}

	for i, l := range h.Legs {
		f, err := persist.OpenFile(h.StatusDir, l.Serial)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		rec := persist.NewRecorder(f, l.Serial, mirror, logger)
		closers = append(closers, rec.Close)

		a, err := actuator.New(l.Serial, bus.Bind(b, l.Channel), cals[i], rec, logger)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		legs[i] = a
	}

	p, err := New(legs, logger)
	if err != nil {
		_ = closeAll()
		return nil, nil, err
	}
	return p, closeAll, nil
}

func openBus(h config.HexapodConfig, cals []config.Calibration) (bus.Bus, func() error, error) {
	timeout := time.Duration(h.Bus.TimeoutMs) * time.Millisecond

	switch h.Bus.Kind {
	case config.BusModbusTCP, config.BusModbusRTU:
		mc := busmodbus.Config{
			UnitID:        h.Bus.UnitID,
			Timeout:       timeout,
			ChannelStride: h.Bus.ChannelStride,
			VoltageScale:  h.Bus.VoltageScale,
		}
		if h.Bus.Kind == config.BusModbusTCP {
			mc.Endpoint = h.Bus.Endpoint
		} else {
			mc.Device = h.Bus.Device
			mc.Baud = h.Bus.Baud
		}
		c, err := busmodbus.New(mc)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil

	case config.BusSerial:
		c, err := serialline.Open(serialline.Config{
			Device:      h.Bus.Device,
			Baud:        h.Bus.Baud,
			ReadTimeout: timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil

	case config.BusSim:
		sc := config.SimConfig{}
		if h.Bus.Sim != nil {
			sc = *h.Bus.Sim
		}
		s := sim.New(sc.Seed)
		for i, l := range h.Legs {
			c := cals[i]
			ext, ret := sc.ExtendStop, sc.RetractStop
			if ext == 0 && ret == 0 {
				ext = position.ToSteps(c.ExtendEndstop, c.StepsPerRev)
				ret = position.ToSteps(c.RetractEndstop, c.StepsPerRev)
			}
			s.Attach(l.Channel, sim.Leadscrew{
				Table:       c.Voltages,
				ExtendStop:  ext,
				RetractStop: ret,
				Steps:       sc.StartSteps,
				NoiseVolts:  sc.NoiseVolts,
			})
		}
		return s, func() error { return nil }, nil
	}

	return nil, nil, fmt.Errorf("bus: unknown kind %q", h.Bus.Kind)
}
