package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jgoulah/airquality/pkg/models"
)

// timeFormat has fixed-width fractions so stored timestamps sort as text
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the database connection
type DB struct {
	conn *sql.DB
}

// busyTimeout is how long a statement waits on a lock held by another
// process, such as 'serve' writing while 'cycles' reads.
const busyTimeout = "_pragma=busy_timeout(5000)"

// New creates a new database connection and initializes the schema
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Serializes statements within this process. Other processes are
	// handled by the busy timeout.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

func dsn(dbPath string) string {
	if strings.Contains(dbPath, "?") {
		return dbPath + "&" + busyTimeout
	}
	return dbPath + "?" + busyTimeout
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		status TEXT NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		download_url TEXT NOT NULL DEFAULT '',
		records INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_cycles_started_at ON cycles(started_at);
	CREATE TABLE IF NOT EXISTS latest_snapshot (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		date TEXT NOT NULL,
		payload TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// RecordCycle inserts the outcome of one cycle
func (db *DB) RecordCycle(ctx context.Context, c models.Cycle) error {
	query := `
	INSERT INTO cycles (id, started_at, finished_at, status, error_kind, error, download_url, records)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.conn.ExecContext(ctx, query,
		c.ID,
		c.StartedAt.UTC().Format(timeFormat),
		c.FinishedAt.UTC().Format(timeFormat),
		c.Status,
		c.ErrorKind,
		c.Error,
		c.DownloadURL,
		c.Records,
	)
	if err != nil {
		return fmt.Errorf("inserting cycle: %w", err)
	}

	return nil
}

// ListCycles retrieves the most recent cycles, newest first
func (db *DB) ListCycles(ctx context.Context, limit int) ([]models.Cycle, error) {
	query := `
	SELECT id, started_at, finished_at, status, error_kind, error, download_url, records
	FROM cycles
	ORDER BY started_at DESC
	LIMIT ?
	`

	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying cycles: %w", err)
	}
	defer rows.Close()

	var results []models.Cycle
	for rows.Next() {
		var c models.Cycle
		var startedStr, finishedStr string

		if err := rows.Scan(&c.ID, &startedStr, &finishedStr, &c.Status, &c.ErrorKind, &c.Error, &c.DownloadURL, &c.Records); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		c.StartedAt, err = time.Parse(timeFormat, startedStr)
		if err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		c.FinishedAt, err = time.Parse(timeFormat, finishedStr)
		if err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}

		results = append(results, c)
	}

	return results, rows.Err()
}

// Publish caches the snapshot as the last known good one. It satisfies the
// scheduler's sink interface.
func (db *DB) Publish(ctx context.Context, snap models.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	query := `
	INSERT INTO latest_snapshot (id, date, payload, updated_at)
	VALUES (1, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET date = excluded.date, payload = excluded.payload, updated_at = excluded.updated_at
	`

	_, err = db.conn.ExecContext(ctx, query, snap.Date(), string(payload), time.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the cached snapshot, or false if none was saved
func (db *DB) LatestSnapshot(ctx context.Context) (models.Snapshot, time.Time, bool, error) {
	var payload, updatedStr string
	err := db.conn.QueryRowContext(ctx, `SELECT payload, updated_at FROM latest_snapshot WHERE id = 1`).Scan(&payload, &updatedStr)
	if err == sql.ErrNoRows {
		return models.Snapshot{}, time.Time{}, false, nil
	}
	if err != nil {
		return models.Snapshot{}, time.Time{}, false, fmt.Errorf("querying snapshot: %w", err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return models.Snapshot{}, time.Time{}, false, fmt.Errorf("decoding snapshot: %w", err)
	}
	updated, err := time.Parse(timeFormat, updatedStr)
	if err != nil {
		return models.Snapshot{}, time.Time{}, false, fmt.Errorf("parsing updated_at: %w", err)
	}

	return snap, updated, true, nil
}

// PruneCycles deletes cycle log entries older than the cutoff
func (db *DB) PruneCycles(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM cycles WHERE started_at < ?`, before.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("pruning cycles: %w", err)
	}
	return res.RowsAffected()
}
