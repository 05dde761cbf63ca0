// internal/mirror/mirror.go
package mirror

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tamzrod/hexapod/internal/monitor"
	"github.com/tamzrod/hexapod/internal/status"
)

// Mirror publishes every actuator's status block into Modbus status
// memory. It owns the seconds-in-error counters; everything else is
// copied from monitor samples.
type Mirror struct {
	writers map[string]StatusWriter
	order   []string
	snaps   map[string]status.Snapshot
	logger  *log.Logger
}

// New lays out one block per serial, in order, starting at baseSlot.
func New(cli endpointClient, unitID uint8, baseSlot uint16, serials []string, logger *log.Logger) (*Mirror, error) {
	if cli == nil {
		return nil, fmt.Errorf("mirror: client required")
	}
	if logger == nil {
		logger = log.Default()
	}

	m := &Mirror{
		writers: make(map[string]StatusWriter, len(serials)),
		snaps:   make(map[string]status.Snapshot, len(serials)),
		logger:  logger,
	}
	for i, serial := range serials {
		if _, dup := m.writers[serial]; dup {
			return nil, fmt.Errorf("mirror: duplicate serial %q", serial)
		}
		m.writers[serial] = newDeviceStatusWriter(StatusPlan{
			UnitID:     unitID,
			BaseSlot:   baseSlot + uint16(i),
			DeviceName: serial,
		}, cli)
		m.snaps[serial] = status.Snapshot{Health: status.HealthUnknown}
		m.order = append(m.order, serial)
	}
	return m, nil
}

// Start writes every block once so identities are asserted before the
// first sample arrives.
func (m *Mirror) Start() {
	for _, serial := range m.order {
		m.write(serial, "on start")
	}
}

// Deliver applies one monitor result. Only changed blocks are written.
func (m *Mirror) Deliver(res monitor.Result) {
	for _, s := range res.Samples {
		prev, ok := m.snaps[s.Serial]
		if !ok {
			continue
		}

		next := s.Snapshot()
		if unhealthy(next.Health) {
			next.SecondsInError = prev.SecondsInError
		}
		if next == prev {
			continue
		}
		m.snaps[s.Serial] = next
		m.write(s.Serial, "")
	}
}

// Tick advances seconds-in-error for every unhealthy actuator. It is
// driven by a 1 Hz ticker; the counter saturates instead of wrapping.
func (m *Mirror) Tick() {
	for _, serial := range m.order {
		snap := m.snaps[serial]
		if !unhealthy(snap.Health) || snap.SecondsInError == 65535 {
			continue
		}
		snap.SecondsInError++
		m.snaps[serial] = snap
		m.write(serial, "seconds tick")
	}
}

// Snapshot returns the last snapshot held for serial.
func (m *Mirror) Snapshot(serial string) (status.Snapshot, bool) {
	s, ok := m.snaps[serial]
	return s, ok
}

// Run consumes monitor results until ctx is done.
func (m *Mirror) Run(ctx context.Context, in <-chan monitor.Result) {
	secTicker := time.NewTicker(time.Second)
	defer secTicker.Stop()

	m.Start()

	for {
		select {
		case <-ctx.Done():
			return
		case res := <-in:
			m.Deliver(res)
		case <-secTicker.C:
			m.Tick()
		}
	}
}

func (m *Mirror) write(serial, when string) {
	if err := m.writers[serial].WriteStatus(m.snaps[serial]); err != nil {
		if when != "" {
			m.logger.Printf("status write failed %s (actuator=%s): %v", when, serial, err)
			return
		}
		m.logger.Printf("status write failed (actuator=%s): %v", serial, err)
	}
}

func unhealthy(h uint16) bool {
	return h == status.HealthError || h == status.HealthWarning
}
