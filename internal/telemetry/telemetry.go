// Package telemetry persists frame/solve latency history and calibration
// run records to a local sqlite database, replacing the donor pipeline's
// job-record store (internal/storage) with Cedar's own two tables. It
// keeps the donor's ensureSchema-on-open and nil-receiver-safe-method
// idiom (a nil *Store is a valid no-op sink, so callers needn't special
// case telemetry being disabled) and its modernc.org/sqlite driver, a
// cgo-free choice the donor already preferred over mattn/go-sqlite3 (see
// DESIGN.md).
package telemetry

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"cedar/internal/cedarerr"
)

// Store persists Cedar's operational history. A nil *Store is valid and
// every method becomes a no-op, so telemetry can be optional without
// sprinkling nil checks through the pipeline.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, cedarerr.Wrap(err, "open telemetry database")
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS frame_history (
	frame_id INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL,
	star_count INTEGER NOT NULL,
	acquire_latency_ms REAL NOT NULL,
	detect_latency_ms REAL NOT NULL,
	solve_latency_ms REAL NOT NULL,
	solved INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_frame_history_recorded_at ON frame_history(recorded_at);

CREATE TABLE IF NOT EXISTS calibration_runs (
	id TEXT PRIMARY KEY,
	target_mode TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER,
	succeeded INTEGER NOT NULL DEFAULT 0,
	error TEXT
);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return cedarerr.Wrap(err, "create telemetry schema")
	}
	return nil
}

// FrameRecord is one detect/solve iteration's latency history.
type FrameRecord struct {
	FrameID          uint64
	RecordedAt       time.Time
	StarCount        int
	AcquireLatencyMs float64
	DetectLatencyMs  float64
	SolveLatencyMs   float64
	Solved           bool
}

// RecordFrame appends one frame's latency history. Safe to call on a nil
// *Store.
func (s *Store) RecordFrame(r FrameRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO frame_history (frame_id, recorded_at, star_count, acquire_latency_ms, detect_latency_ms, solve_latency_ms, solved)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.FrameID, r.RecordedAt.Unix(), r.StarCount, r.AcquireLatencyMs, r.DetectLatencyMs, r.SolveLatencyMs, boolToInt(r.Solved),
	)
	if err != nil {
		return cedarerr.Wrap(err, "record frame telemetry")
	}
	return nil
}

// PruneFrameHistory deletes frame history rows older than cutoff. Safe to
// call on a nil *Store.
func (s *Store) PruneFrameHistory(cutoff time.Time) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(`DELETE FROM frame_history WHERE recorded_at < ?`, cutoff.Unix())
	if err != nil {
		return cedarerr.Wrap(err, "prune frame telemetry")
	}
	return nil
}

// StartCalibrationRun records the start of a calibration attempt and
// returns its generated run ID. Returns an empty ID on a nil *Store.
func (s *Store) StartCalibrationRun(targetMode string) (string, error) {
	if s == nil {
		return "", nil
	}
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO calibration_runs (id, target_mode, started_at) VALUES (?, ?, ?)`,
		id, targetMode, time.Now().Unix(),
	)
	if err != nil {
		return "", cedarerr.Wrap(err, "start calibration run")
	}
	return id, nil
}

// FinishCalibrationRun records a calibration attempt's outcome. Safe to
// call on a nil *Store or with an empty id.
func (s *Store) FinishCalibrationRun(id string, runErr error) error {
	if s == nil || id == "" {
		return nil
	}
	errMsg := ""
	succeeded := true
	if runErr != nil {
		errMsg = runErr.Error()
		succeeded = false
	}
	_, err := s.db.Exec(
		`UPDATE calibration_runs SET finished_at = ?, succeeded = ?, error = ? WHERE id = ?`,
		time.Now().Unix(), boolToInt(succeeded), errMsg, id,
	)
	if err != nil {
		return cedarerr.Wrap(err, "finish calibration run")
	}
	return nil
}

// RecentFrameHistory returns up to limit of the most recently recorded
// frame history rows, newest first.
func (s *Store) RecentFrameHistory(limit int) ([]FrameRecord, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT frame_id, recorded_at, star_count, acquire_latency_ms, detect_latency_ms, solve_latency_ms, solved
		 FROM frame_history ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, cedarerr.Wrap(err, "query frame telemetry")
	}
	defer rows.Close()

	var out []FrameRecord
	for rows.Next() {
		var r FrameRecord
		var recordedAt int64
		var solved int
		if err := rows.Scan(&r.FrameID, &recordedAt, &r.StarCount, &r.AcquireLatencyMs, &r.DetectLatencyMs, &r.SolveLatencyMs, &solved); err != nil {
			return nil, cedarerr.Wrap(err, "scan frame telemetry")
		}
		r.RecordedAt = time.Unix(recordedAt, 0)
		r.Solved = solved != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle. Safe to call on a nil
// *Store.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
