package compose

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"
)

// SQLiteAuditStore persists stage events in SQLite.
type SQLiteAuditStore struct {
	db *sql.DB
}

// OpenSQLiteAuditStore opens dsn with the pure-Go sqlite driver.
func OpenSQLiteAuditStore(dsn string) (*SQLiteAuditStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	store, err := NewSQLiteAuditStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteAuditStore creates a SQLite-backed audit store and ensures schema.
func NewSQLiteAuditStore(db *sql.DB) (*SQLiteAuditStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureStageAuditSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteAuditStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteAuditStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteAuditStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Record stores a single event.
func (s *SQLiteAuditStore) Record(ctx context.Context, event StageEvent) error {
	keys, err := encodeKeys(event.Keys)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stage_audit_events (
			run_id, stage, status, keys_json, error_text, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		event.RunID,
		event.Stage,
		string(event.Status),
		keys,
		event.Error,
		normalizeAuditTime(event.StartedAt),
		normalizeAuditTime(event.FinishedAt),
	)
	return err
}

// List returns events matching the filter in recording order.
func (s *SQLiteAuditStore) List(ctx context.Context, filter AuditFilter) ([]StageEvent, error) {
	query := `
		SELECT run_id, stage, status, keys_json, error_text, started_at, finished_at
		FROM stage_audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.RunID != "" {
		addFilter("run_id = ?", filter.RunID)
	}
	if filter.Stage != "" {
		addFilter("stage = ?", filter.Stage)
	}
	if filter.Status != "" {
		addFilter("status = ?", string(filter.Status))
	}
	query += where + " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StageEvent
	for rows.Next() {
		var (
			event    StageEvent
			status   string
			keys     sql.NullString
			errText  sql.NullString
			started  sql.NullTime
			finished sql.NullTime
		)
		if err := rows.Scan(&event.RunID, &event.Stage, &status, &keys, &errText, &started, &finished); err != nil {
			return nil, err
		}
		event.Status = StageStatus(status)
		event.Keys = decodeKeys(keys.String)
		event.Error = errText.String
		if started.Valid {
			event.StartedAt = started.Time
		}
		if finished.Valid {
			event.FinishedAt = finished.Time
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func ensureStageAuditSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS stage_audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			keys_json TEXT,
			error_text TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_stage_audit_run ON stage_audit_events(run_id);
		CREATE INDEX IF NOT EXISTS idx_stage_audit_stage ON stage_audit_events(stage);
		CREATE INDEX IF NOT EXISTS idx_stage_audit_status ON stage_audit_events(status);
	`)
	return err
}
