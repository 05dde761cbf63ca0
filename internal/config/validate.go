// internal/config/validate.go
package config

import (
	"fmt"

	"github.com/tamzrod/hexapod/internal/status"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return ErrNoConfig
	}
	h := cfg.Hexapod

	// ------------------------------------------------------------
	// BUS
	// ------------------------------------------------------------

	switch h.Bus.Kind {
	case BusModbusTCP:
		if h.Bus.Endpoint == "" {
			return fmt.Errorf("bus %s: endpoint required", h.Bus.Kind)
		}
	case BusModbusRTU, BusSerial:
		if h.Bus.Device == "" {
			return fmt.Errorf("bus %s: device required", h.Bus.Kind)
		}
		if h.Bus.Baud < 0 {
			return fmt.Errorf("bus %s: baud must be >= 0", h.Bus.Kind)
		}
	case BusSim:
		if s := h.Bus.Sim; s != nil && s.ExtendStop >= s.RetractStop && (s.ExtendStop != 0 || s.RetractStop != 0) {
			return fmt.Errorf("bus sim: extend_stop %d must be below retract_stop %d", s.ExtendStop, s.RetractStop)
		}
	default:
		return fmt.Errorf("bus: unknown kind %q", h.Bus.Kind)
	}

	if h.Bus.VoltageScale < 0 {
		return fmt.Errorf("bus: voltage_scale must be >= 0")
	}

	if h.StatusDir == "" {
		return fmt.Errorf("status_dir required")
	}

	// ------------------------------------------------------------
	// LEGS (exactly six, unique serial and channel)
	// ------------------------------------------------------------

	if len(h.Legs) != LegCount {
		return fmt.Errorf("legs: got %d, want exactly %d", len(h.Legs), LegCount)
	}

	serials := make(map[string]int)
	channels := make(map[uint8]int)

	for i, l := range h.Legs {
		if l.Serial == "" {
			return fmt.Errorf("leg %d: serial required", i)
		}
		if prev, ok := serials[l.Serial]; ok {
			return fmt.Errorf("leg %d: serial %q already used by leg %d", i, l.Serial, prev)
		}
		serials[l.Serial] = i

		if prev, ok := channels[l.Channel]; ok {
			return fmt.Errorf("leg %d: channel %d already used by leg %d", i, l.Channel, prev)
		}
		channels[l.Channel] = i

		if l.Calibration != nil {
			if h.Bus.Kind != BusSim {
				return fmt.Errorf("leg %d: inline calibration is only allowed on the sim bus", i)
			}
			// Tuning defaults are applied by Normalize; check only the
			// fields that have none.
			c := *l.Calibration
			c.ApplyDefaults()
			if err := c.Validate(); err != nil {
				return fmt.Errorf("leg %d: %w", i, err)
			}
		}
	}

	// ------------------------------------------------------------
	// MIRROR (opt-in)
	// ------------------------------------------------------------

	if m := h.Mirror; m != nil {
		if m.Endpoint == "" {
			return fmt.Errorf("mirror: endpoint required")
		}
		if (int(m.BaseSlot)+LegCount)*status.SlotsPerDevice > 0x10000 {
			return fmt.Errorf("mirror: base_slot %d leaves no room for %d status blocks", m.BaseSlot, LegCount)
		}
	}

	if h.Monitor.IntervalMs < 0 {
		return fmt.Errorf("monitor: interval_ms must be >= 0")
	}

	return nil
}
