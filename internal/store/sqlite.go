package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Schema for the sunwatch detection archive.
const schema = `
CREATE TABLE IF NOT EXISTS detections (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    device              TEXT NOT NULL,
    started_ns          INTEGER NOT NULL,
    confirmed_ns        INTEGER NOT NULL,
    confidence          REAL NOT NULL,
    temp_deviation      REAL NOT NULL,
    humidity_deviation  REAL NOT NULL,
    correlation         REAL NOT NULL,
    window_points       INTEGER NOT NULL,
    largest_gap_ms      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_detections_confirmed ON detections(confirmed_ns);
CREATE INDEX IF NOT EXISTS idx_detections_device ON detections(device, confirmed_ns);
`

// Store represents the SQLite detection archive.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and applies
// the schema.
func Open(path string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InsertDetection inserts a confirmed detection and returns its ID.
func (s *Store) InsertDetection(d *Detection) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO detections (device, started_ns, confirmed_ns, confidence, temp_deviation, humidity_deviation, correlation, window_points, largest_gap_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Device, d.StartedAt.UnixNano(), d.ConfirmedAt.UnixNano(), d.Confidence,
		d.TempDeviation, d.HumidityDeviation, d.Correlation, d.WindowPoints,
		d.LargestGap.Milliseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert detection: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	return id, nil
}

// GetDetection retrieves a detection by ID.
func (s *Store) GetDetection(id int64) (*Detection, error) {
	row := s.db.QueryRow(`
		SELECT id, device, started_ns, confirmed_ns, confidence, temp_deviation, humidity_deviation, correlation, window_points, largest_gap_ms
		FROM detections WHERE id = ?`, id,
	)

	d, err := scanDetection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get detection: %w", err)
	}
	return d, nil
}

// RecentDetections retrieves the most recent detections, newest first.
func (s *Store) RecentDetections(limit int) ([]Detection, error) {
	rows, err := s.db.Query(`
		SELECT id, device, started_ns, confirmed_ns, confidence, temp_deviation, humidity_deviation, correlation, window_points, largest_gap_ms
		FROM detections
		ORDER BY confirmed_ns DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent detections: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// DetectionsBetween retrieves detections confirmed in [start, end], oldest
// first.
func (s *Store) DetectionsBetween(start, end time.Time) ([]Detection, error) {
	rows, err := s.db.Query(`
		SELECT id, device, started_ns, confirmed_ns, confidence, temp_deviation, humidity_deviation, correlation, window_points, largest_gap_ms
		FROM detections
		WHERE confirmed_ns >= ? AND confirmed_ns <= ?
		ORDER BY confirmed_ns ASC`, start.UnixNano(), end.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query detections by range: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// DetectionsForDevice retrieves detections for one device, newest first.
func (s *Store) DetectionsForDevice(device string, limit int) ([]Detection, error) {
	rows, err := s.db.Query(`
		SELECT id, device, started_ns, confirmed_ns, confidence, temp_deviation, humidity_deviation, correlation, window_points, largest_gap_ms
		FROM detections
		WHERE device = ?
		ORDER BY confirmed_ns DESC
		LIMIT ?`, device, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query detections by device: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// LatestDetection returns the most recently confirmed detection, or nil when
// the archive is empty.
func (s *Store) LatestDetection() (*Detection, error) {
	row := s.db.QueryRow(`
		SELECT id, device, started_ns, confirmed_ns, confidence, temp_deviation, humidity_deviation, correlation, window_points, largest_gap_ms
		FROM detections
		ORDER BY confirmed_ns DESC
		LIMIT 1`,
	)

	d, err := scanDetection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest detection: %w", err)
	}
	return d, nil
}

// CountDetections returns the number of archived detections.
func (s *Store) CountDetections() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM detections`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count detections: %w", err)
	}
	return n, nil
}

// PruneBefore deletes detections confirmed before the cutoff and returns the
// number removed.
func (s *Store) PruneBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM detections WHERE confirmed_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune detections: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDetection(row rowScanner) (*Detection, error) {
	var d Detection
	var startedNs, confirmedNs, gapMs int64

	if err := row.Scan(&d.ID, &d.Device, &startedNs, &confirmedNs, &d.Confidence,
		&d.TempDeviation, &d.HumidityDeviation, &d.Correlation, &d.WindowPoints, &gapMs); err != nil {
		return nil, err
	}

	d.StartedAt = time.Unix(0, startedNs).UTC()
	d.ConfirmedAt = time.Unix(0, confirmedNs).UTC()
	d.LargestGap = time.Duration(gapMs) * time.Millisecond

	return &d, nil
}

// scanDetections is a helper to scan detection rows into a slice.
func scanDetections(rows *sql.Rows) ([]Detection, error) {
	var detections []Detection

	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		detections = append(detections, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detections: %w", err)
	}

	return detections, nil
}
