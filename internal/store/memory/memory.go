// internal/store/memory/memory.go
package memory

import (
	"fmt"
	"sync"

	"github.com/tamzrod/hexapod/internal/config"
	"github.com/tamzrod/hexapod/internal/status"
	"github.com/tamzrod/hexapod/internal/store"
)

// Store keeps calibration and status history in process memory.
type Store struct {
	mu           sync.RWMutex
	calibrations map[string]config.Calibration
	history      map[string][]status.Record
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		calibrations: make(map[string]config.Calibration),
		history:      make(map[string][]status.Record),
	}
}

// SaveCalibration stores a deep copy of c under c.Serial.
func (s *Store) SaveCalibration(c config.Calibration) error {
	if c.Serial == "" {
		return fmt.Errorf("store memory: calibration serial required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c.Voltages = append([]float64(nil), c.Voltages...)
	s.calibrations[c.Serial] = c
	return nil
}

func (s *Store) LoadCalibration(serial string) (config.Calibration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.calibrations[serial]
	if !ok {
		return config.Calibration{}, fmt.Errorf("%w: calibration %q", store.ErrNotFound, serial)
	}
	c.Voltages = append([]float64(nil), c.Voltages...)
	return c, nil
}

func (s *Store) LoadLastStatus(serial string) (status.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.history[serial]
	if len(h) == 0 {
		return status.Record{}, fmt.Errorf("%w: status %q", store.ErrNotFound, serial)
	}
	return h[len(h)-1], nil
}

func (s *Store) SaveStatus(serial string, r status.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[serial] = append(s.history[serial], r)
	return nil
}

// History returns every status record saved for serial, oldest first.
func (s *Store) History(serial string) []status.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]status.Record(nil), s.history[serial]...)
}
