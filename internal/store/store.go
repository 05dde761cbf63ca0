// internal/store/store.go
package store

import (
	"errors"

	"github.com/tamzrod/hexapod/internal/config"
	"github.com/tamzrod/hexapod/internal/status"
)

var ErrNotFound = errors.New("store: not found")

// Store is the configuration/status collaborator.
// It is authoritative for calibration constants; status records are an
// audit mirror of the local record file.
type Store interface {
	LoadCalibration(serial string) (config.Calibration, error)
	LoadLastStatus(serial string) (status.Record, error)
	SaveStatus(serial string, r status.Record) error
}
