// internal/mirror/builder.go
package mirror

import (
	"log"
	"time"

	"github.com/tamzrod/hexapod/internal/config"
	mmodbus "github.com/tamzrod/hexapod/internal/mirror/modbus"
)

// Build connects the status endpoint and lays out one block per serial.
// A nil cfg means the mirror is disabled: (nil, no-op closer, nil).
func Build(cfg *config.MirrorConfig, serials []string, logger *log.Logger) (*Mirror, func() error, error) {
	noop := func() error { return nil }
	if cfg == nil {
		return nil, noop, nil
	}

	cli, err := mmodbus.NewEndpointClient(mmodbus.Config{
		Endpoint: cfg.Endpoint,
		Timeout:  time.Duration(cfg.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return nil, noop, err
	}

	m, err := New(cli, cfg.UnitID, cfg.BaseSlot, serials, logger)
	if err != nil {
		_ = cli.Close()
		return nil, noop, err
	}
	return m, cli.Close, nil
}
