// internal/monitor/monitor.go
package monitor

import (
	"errors"
	"time"

	"github.com/tamzrod/hexapod/internal/position"
	"github.com/tamzrod/hexapod/internal/status"
)

// Source is one observable actuator. Reads are safe during motion.
type Source interface {
	Serial() string
	Position() position.Position
	Flags() status.Flags
	State() status.DeviceState
}

// Config is the minimal runtime config the monitor needs.
type Config struct {
	Interval time.Duration
}

// Monitor is a clock-driven observer. It never commands motion.
type Monitor struct {
	cfg     Config
	sources []Source
	now     func() time.Time
}

// New creates a monitor over a fixed set of sources.
func New(cfg Config, sources ...Source) (*Monitor, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("monitor: interval must be > 0")
	}
	if len(sources) == 0 {
		return nil, errors.New("monitor: at least one source required")
	}
	for _, s := range sources {
		if s == nil {
			return nil, errors.New("monitor: nil source")
		}
	}
	return &Monitor{cfg: cfg, sources: sources, now: time.Now}, nil
}

// SampleOnce reads every source exactly once.
func (m *Monitor) SampleOnce() Result {
	res := Result{
		At:      m.now(),
		Samples: make([]Sample, 0, len(m.sources)),
	}
	for _, s := range m.sources {
		res.Samples = append(res.Samples, Sample{
			Serial:   s.Serial(),
			State:    s.State(),
			Position: s.Position(),
			Flags:    s.Flags(),
		})
	}
	return res
}
