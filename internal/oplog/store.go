// Package oplog persists trading operation records to SQLite so the
// operation feed survives restarts. Records older than the retention
// window are swept out; the table is additionally capped by row count.
package oplog

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"silvermon/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultRetention = 90 * time.Minute
	defaultMaxRows   = 300
	sweepInterval    = 5 * time.Minute
)

// Config configures the operation log store.
type Config struct {
	DBPath    string
	Retention time.Duration // drop records older than this; default 90m
	MaxRows   int           // hard row cap after age sweep; default 300
}

// Store is a single-writer SQLite store for operation records.
type Store struct {
	db        *sql.DB
	retention time.Duration
	maxRows   int
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens (or creates) the database with WAL mode and the schema.
func Open(cfg Config) (*Store, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("oplog open: %w", err)
	}

	// Single-writer pool
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("oplog schema: %w", err)
	}

	log.Printf("[oplog] opened database at %s", cfg.DBPath)
	return &Store{db: db, retention: cfg.Retention, maxRows: cfg.MaxRows}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS operations (
			id        TEXT    PRIMARY KEY,
			model     TEXT    NOT NULL,
			ts        INTEGER NOT NULL,
			action    TEXT    NOT NULL,
			price     REAL    NOT NULL,
			rationale TEXT,
			pnl       REAL
		);

		CREATE INDEX IF NOT EXISTS idx_operations_ts ON operations (ts);
		CREATE INDEX IF NOT EXISTS idx_operations_model ON operations (model, ts);
	`)
	return err
}

// Append inserts one operation record. Duplicate ids are replaced.
func (s *Store) Append(op model.Operation) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO operations (id, model, ts, action, price, rationale, pnl)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Model, op.Timestamp.UnixMilli(), op.Action, op.Price, op.Rationale, op.PnL,
	)
	if err != nil {
		return fmt.Errorf("oplog insert: %w", err)
	}
	return nil
}

// Recent returns operations inside the retention window, newest first.
// A model filter of "" returns all models.
func (s *Store) Recent(modelID string, now time.Time) ([]model.Operation, error) {
	cutoff := now.Add(-s.retention).UnixMilli()

	var rows *sql.Rows
	var err error
	if modelID == "" {
		rows, err = s.db.Query(
			`SELECT id, model, ts, action, price, rationale, pnl
			 FROM operations WHERE ts >= ? ORDER BY ts DESC LIMIT ?`,
			cutoff, s.maxRows,
		)
	} else {
		rows, err = s.db.Query(
			`SELECT id, model, ts, action, price, rationale, pnl
			 FROM operations WHERE model = ? AND ts >= ? ORDER BY ts DESC LIMIT ?`,
			modelID, cutoff, s.maxRows,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("oplog query: %w", err)
	}
	defer rows.Close()

	var out []model.Operation
	for rows.Next() {
		var op model.Operation
		var ts int64
		var rationale sql.NullString
		var pnl sql.NullFloat64
		if err := rows.Scan(&op.ID, &op.Model, &ts, &op.Action, &op.Price, &rationale, &pnl); err != nil {
			return nil, fmt.Errorf("oplog scan: %w", err)
		}
		op.Timestamp = time.UnixMilli(ts)
		op.Rationale = rationale.String
		op.PnL = pnl.Float64
		out = append(out, op)
	}
	return out, rows.Err()
}

// Sweep removes records past the retention window, then enforces the row
// cap by dropping the oldest rows. Returns rows removed.
func (s *Store) Sweep(now time.Time) (int64, error) {
	cutoff := now.Add(-s.retention).UnixMilli()

	res, err := s.db.Exec(`DELETE FROM operations WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("oplog age sweep: %w", err)
	}
	aged, _ := res.RowsAffected()

	res, err = s.db.Exec(
		`DELETE FROM operations WHERE id NOT IN
		 (SELECT id FROM operations ORDER BY ts DESC LIMIT ?)`,
		s.maxRows,
	)
	if err != nil {
		return aged, fmt.Errorf("oplog cap sweep: %w", err)
	}
	capped, _ := res.RowsAffected()

	return aged + capped, nil
}

// RunSweeper sweeps periodically until ctx is cancelled.
func (s *Store) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Sweep(time.Now()); err != nil {
				log.Printf("[oplog] sweep error: %v", err)
			} else if n > 0 {
				log.Printf("[oplog] swept %d operations", n)
			}
		}
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
