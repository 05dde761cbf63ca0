// internal/monitor/runner.go
package monitor

import (
	"context"
	"time"
)

// Run starts the ticker loop and emits a Result on out every interval.
// One goroutine. No overlap. A slow consumer delays the next sample.
func (m *Monitor) Run(ctx context.Context, out chan<- Result) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case out <- m.SampleOnce():
			case <-ctx.Done():
				return
			}
		}
	}
}
