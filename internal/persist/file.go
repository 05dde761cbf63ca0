// internal/persist/file.go
package persist

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tamzrod/hexapod/internal/status"
)

var ErrNoRecord = errors.New("persist: no status record")

// File is the local, authoritative status record of one actuator.
// Writes go to a temporary file that is renamed over the original, so a
// crash mid-write leaves the previous record readable.
type File struct {
	path string
	lock *os.File
}

// OpenFile prepares <dir>/<serial>.status and takes an exclusive advisory
// lock so two processes never drive the same actuator record.
func OpenFile(dir, serial string) (*File, error) {
	if serial == "" {
		return nil, errors.New("persist: serial required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: status dir: %w", err)
	}

	path := filepath.Join(dir, serial+".status")

	lf, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("persist: lock file: %w", err)
	}
	if err := lockExclusive(lf); err != nil {
		lf.Close()
		return nil, fmt.Errorf("persist: %s is in use: %w", path, err)
	}

	return &File{path: path, lock: lf}, nil
}

func (f *File) Path() string { return f.path }

// Close releases the advisory lock.
func (f *File) Close() error {
	if f == nil || f.lock == nil {
		return nil
	}
	_ = unlock(f.lock)
	err := f.lock.Close()
	f.lock = nil
	return err
}

// Save atomically replaces the record.
func (f *File) Save(r status.Record) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("persist: create temp: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(status.EncodeLine(r)); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persist: write record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persist: sync record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persist: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persist: rename record: %w", err)
	}
	return nil
}

// Load reads the last record. ErrNoRecord means none was ever written.
func (f *File) Load() (status.Record, error) {
	fh, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return status.Record{}, ErrNoRecord
	}
	if err != nil {
		return status.Record{}, fmt.Errorf("persist: open record: %w", err)
	}
	defer fh.Close()

	sc := bufio.NewScanner(fh)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return status.Record{}, fmt.Errorf("persist: read record: %w", err)
		}
		return status.Record{}, ErrNoRecord
	}

	r, err := status.DecodeLine(sc.Text())
	if err != nil {
		return status.Record{}, fmt.Errorf("persist: %s: %w", f.path, err)
	}
	return r, nil
}
