// internal/store/sqlite/sqlite.go
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/tamzrod/hexapod/internal/config"
	"github.com/tamzrod/hexapod/internal/status"
	"github.com/tamzrod/hexapod/internal/store"
)

const createActuatorsSQL = `
CREATE TABLE IF NOT EXISTS actuators (
    serial TEXT PRIMARY KEY,
    params TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

const createSensorTableSQL = `
CREATE TABLE IF NOT EXISTS sensor_table (
    serial TEXT NOT NULL,
    angle INTEGER NOT NULL,
    voltage REAL NOT NULL,
    PRIMARY KEY (serial, angle),
    FOREIGN KEY (serial) REFERENCES actuators (serial)
);`

const createStatusHistorySQL = `
CREATE TABLE IF NOT EXISTS status_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    serial TEXT NOT NULL,
    recorded_at TEXT NOT NULL,
    revolution INTEGER NOT NULL,
    angle INTEGER NOT NULL,
    flags INTEGER NOT NULL,
    line TEXT NOT NULL
);`

const createStatusIndexSQL = `
CREATE INDEX IF NOT EXISTS status_history_serial ON status_history (serial, id);`

// Store is the SQLite-backed configuration/status store.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database at path and ensures the schema.
// An empty path opens a private in-memory database.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store sqlite: open %s: %w", dsn, err)
	}
	// One connection: in-memory databases are per-connection.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{createActuatorsSQL, createSensorTableSQL, createStatusHistorySQL, createStatusIndexSQL} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("store sqlite: schema: %w", err)
		}
	}

	logger.Printf("store: opened %s", dsn)
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCalibration inserts or replaces the calibration for c.Serial.
// Scalars are kept as a YAML document; the voltage table is one row per angle.
func (s *Store) SaveCalibration(c config.Calibration) error {
	if c.Serial == "" {
		return errors.New("store sqlite: calibration serial required")
	}

	params := c
	params.Voltages = nil
	doc, err := yaml.Marshal(&params)
	if err != nil {
		return fmt.Errorf("store sqlite: encode calibration %q: %w", c.Serial, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec(
		`INSERT INTO actuators(serial, params, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(serial) DO UPDATE SET params = excluded.params, updated_at = excluded.updated_at`,
		c.Serial, string(doc), time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("store sqlite: save calibration %q: %w", c.Serial, err)
	}

	if _, err := tx.Exec(`DELETE FROM sensor_table WHERE serial = ?`, c.Serial); err != nil {
		tx.Rollback()
		return fmt.Errorf("store sqlite: clear sensor table %q: %w", c.Serial, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO sensor_table(serial, angle, voltage) VALUES(?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for angle, v := range c.Voltages {
		if _, err := stmt.Exec(c.Serial, angle, v); err != nil {
			tx.Rollback()
			return fmt.Errorf("store sqlite: sensor table %q angle=%d: %w", c.Serial, angle, err)
		}
	}

	return tx.Commit()
}

func (s *Store) LoadCalibration(serial string) (config.Calibration, error) {
	var doc string
	err := s.db.QueryRow(`SELECT params FROM actuators WHERE serial = ?`, serial).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return config.Calibration{}, fmt.Errorf("%w: calibration %q", store.ErrNotFound, serial)
	}
	if err != nil {
		return config.Calibration{}, fmt.Errorf("store sqlite: load calibration %q: %w", serial, err)
	}

	var c config.Calibration
	if err := yaml.Unmarshal([]byte(doc), &c); err != nil {
		return config.Calibration{}, fmt.Errorf("store sqlite: decode calibration %q: %w", serial, err)
	}
	c.Serial = serial

	rows, err := s.db.Query(`SELECT angle, voltage FROM sensor_table WHERE serial = ? ORDER BY angle`, serial)
	if err != nil {
		return config.Calibration{}, fmt.Errorf("store sqlite: load sensor table %q: %w", serial, err)
	}
	defer rows.Close()

	for rows.Next() {
		var angle int
		var v float64
		if err := rows.Scan(&angle, &v); err != nil {
			return config.Calibration{}, err
		}
		if angle != len(c.Voltages) {
			return config.Calibration{}, fmt.Errorf("store sqlite: sensor table %q has a gap at angle %d", serial, len(c.Voltages))
		}
		c.Voltages = append(c.Voltages, v)
	}
	if err := rows.Err(); err != nil {
		return config.Calibration{}, err
	}

	return c, nil
}

func (s *Store) LoadLastStatus(serial string) (status.Record, error) {
	var line string
	err := s.db.QueryRow(
		`SELECT line FROM status_history WHERE serial = ? ORDER BY id DESC LIMIT 1`,
		serial,
	).Scan(&line)
	if errors.Is(err, sql.ErrNoRows) {
		return status.Record{}, fmt.Errorf("%w: status %q", store.ErrNotFound, serial)
	}
	if err != nil {
		return status.Record{}, fmt.Errorf("store sqlite: load status %q: %w", serial, err)
	}
	return status.DecodeLine(line)
}

// SaveStatus appends r to the audit history.
func (s *Store) SaveStatus(serial string, r status.Record) error {
	_, err := s.db.Exec(
		`INSERT INTO status_history(serial, recorded_at, revolution, angle, flags, line) VALUES(?, ?, ?, ?, ?, ?)`,
		serial,
		r.Time.UTC().Format("2006-01-02 15:04:05"),
		r.Position.Revolution,
		r.Position.Angle,
		int(r.Flags.Bits()),
		status.EncodeLine(r),
	)
	if err != nil {
		return fmt.Errorf("store sqlite: save status %q: %w", serial, err)
	}
	return nil
}
