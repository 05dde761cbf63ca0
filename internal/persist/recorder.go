// internal/persist/recorder.go
package persist

import (
	"errors"
	"fmt"
	"log"

	"github.com/tamzrod/hexapod/internal/status"
	"github.com/tamzrod/hexapod/internal/store"
)

// Recorder persists an actuator's status: the local file first, then an
// optional best-effort mirror into the store for audit.
type Recorder struct {
	file   *File
	mirror store.Store
	serial string
	logger *log.Logger
}

// NewRecorder builds a recorder. mirror may be nil.
func NewRecorder(file *File, serial string, mirror store.Store, logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.Default()
	}
	return &Recorder{file: file, mirror: mirror, serial: serial, logger: logger}
}

// Save writes r locally. A mirror failure is logged, never returned:
// the local record is authoritative.
func (r *Recorder) Save(rec status.Record) error {
	if err := r.file.Save(rec); err != nil {
		return err
	}
	if r.mirror != nil {
		if err := r.mirror.SaveStatus(r.serial, rec); err != nil {
			r.logger.Printf("status mirror failed (actuator=%s): %v", r.serial, err)
		}
	}
	return nil
}

// Load returns the local record, falling back to the store's last record
// when no local file exists yet.
func (r *Recorder) Load() (status.Record, error) {
	rec, err := r.file.Load()
	if err == nil || !errors.Is(err, ErrNoRecord) || r.mirror == nil {
		return rec, err
	}

	rec, err = r.mirror.LoadLastStatus(r.serial)
	if errors.Is(err, store.ErrNotFound) {
		return status.Record{}, ErrNoRecord
	}
	if err != nil {
		return status.Record{}, fmt.Errorf("persist: store fallback: %w", err)
	}
	r.logger.Printf("status restored from store (actuator=%s)", r.serial)
	return rec, nil
}

func (r *Recorder) Close() error {
	return r.file.Close()
}
