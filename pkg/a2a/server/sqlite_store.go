package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const taskTable = "a2a_tasks"

// SQLiteTaskStore persists tasks in a SQLite database so they survive a
// restart. Tasks that were pending or running when the process stopped are
// failed by MarkInterrupted; they are never resumed.
type SQLiteTaskStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// OpenSQLiteTaskStore opens dsn with the pure-Go sqlite driver.
func OpenSQLiteTaskStore(dsn string) (*SQLiteTaskStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	store, err := NewSQLiteTaskStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteTaskStore creates a SQLite-backed task store and ensures schema.
func NewSQLiteTaskStore(db *sql.DB) (*SQLiteTaskStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSQLiteSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteTaskStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func ensureSQLiteSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			skill_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			task_json BLOB NOT NULL
		);`, taskTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_status ON %s(status);`, taskTable, taskTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s(created_at);`, taskTable, taskTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteTaskStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteTaskStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create persists a pending task.
func (s *SQLiteTaskStore) Create(ctx context.Context, skillID string, input map[string]any) (*Task, error) {
	if skillID == "" {
		return nil, NewInvalidParamsError("skill_id is required")
	}
	now := s.now()
	task := &Task{
		ID:        NewTaskID(),
		SkillID:   skillID,
		Input:     maps.Clone(input),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if task.Input == nil {
		task.Input = map[string]any{}
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, skill_id, status, created_at, updated_at, task_json) VALUES (?, ?, ?, ?, ?, ?)", taskTable),
		task.ID, task.SkillID, string(task.Status), now.UnixNano(), now.UnixNano(), payload)
	if err != nil {
		return nil, WrapStoreError(err, "create", task.ID)
	}
	return task, nil
}

// Get loads one task.
func (s *SQLiteTaskStore) Get(ctx context.Context, taskID string) (*Task, error) {
	return s.getTask(ctx, s.db, taskID)
}

// List filters by status and pages in created_at descending order.
func (s *SQLiteTaskStore) List(ctx context.Context, filter TaskFilter) ([]*Task, int, error) {
	filter = filter.normalized()
	where, args := "", []any{}
	if filter.Status != "" {
		where = " WHERE status = ?"
		args = append(args, string(filter.Status))
	}
	var total int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s%s", taskTable, where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if filter.Offset >= total {
		return []*Task{}, total, nil
	}

	query := fmt.Sprintf("SELECT task_json FROM %s%s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?", taskTable, where)
	rows, err := s.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]*Task, 0, filter.Limit)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, 0, err
		}
		task, err := unmarshalTask(payload)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Transition applies update when the edge is legal. Transitions are
// serialized so a check and its write are never interleaved.
func (s *SQLiteTaskStore) Transition(ctx context.Context, taskID string, update Update) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	task, err := s.getTask(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(task.Status, update.Status) {
		return task, NewInvalidTransitionError(taskID, task.Status, update.Status)
	}
	task.apply(update, s.now())
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET status = ?, updated_at = ?, task_json = ? WHERE id = ?", taskTable),
		string(task.Status), task.UpdatedAt.UnixNano(), payload, taskID)
	if err != nil {
		return nil, WrapStoreError(err, "transition", taskID)
	}
	if err := tx.Commit(); err != nil {
		return nil, WrapStoreError(err, "transition", taskID)
	}
	return task, nil
}

// Count returns the number of stored tasks.
func (s *SQLiteTaskStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", taskTable)).Scan(&n)
	return n, err
}

// MarkInterrupted fails every pending or in-progress task. It is meant to
// run once at startup, before any new task is scheduled.
func (s *SQLiteTaskStore) MarkInterrupted(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id FROM %s WHERE status IN (?, ?)", taskTable),
		string(StatusPending), string(StatusInProgress))
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	marked := 0
	for _, id := range ids {
		task, err := s.Get(ctx, id)
		if err != nil {
			return marked, err
		}
		// pending has no edge to failed; go through in_progress.
		if task.Status == StatusPending {
			if _, err := s.Transition(ctx, id, Update{Status: StatusInProgress}); err != nil {
				return marked, err
			}
		}
		if _, err := s.Transition(ctx, id, Update{Status: StatusFailed, Error: "interrupted by restart"}); err != nil {
			return marked, err
		}
		marked++
	}
	return marked, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteTaskStore) getTask(ctx context.Context, q queryer, taskID string) (*Task, error) {
	var payload []byte
	err := q.QueryRowContext(ctx, fmt.Sprintf("SELECT task_json FROM %s WHERE id = ?", taskTable), taskID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewTaskNotFoundError(taskID)
		}
		return nil, err
	}
	return unmarshalTask(payload)
}

func unmarshalTask(payload []byte) (*Task, error) {
	var task Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, err
	}
	return &task, nil
}
