package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/resumeflow/pkg/errors"
)

func stores(t *testing.T) map[string]TaskStore {
	t.Helper()
	sqlite, err := OpenSQLiteTaskStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]TaskStore{
		"memory": NewMemoryTaskStore(),
		"sqlite": sqlite,
	}
}

// tick returns a clock that advances one millisecond per call.
func tick() func() time.Time {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Millisecond)
	}
}

func TestTaskJSONFields(t *testing.T) {
	task, err := NewMemoryTaskStore().Create(context.Background(), "calculate-ats-score", map[string]any{"resume_text": "Go"})
	require.NoError(t, err)

	raw, err := json.Marshal(task)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, task.ID, doc["id"])
	assert.NotContains(t, doc, "task_id")
	assert.Equal(t, "pending", doc["status"])
	assert.NotContains(t, doc, "completed_at")
}

func TestTransitionsFollowLifecycle(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		ok       bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusInProgress, StatusPending, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusFailed, StatusInProgress, false},
		{StatusCancelled, StatusInProgress, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
	for _, st := range []TaskStatus{StatusCompleted, StatusFailed, StatusCancelled} {
		assert.True(t, st.IsTerminal(), st)
	}
	assert.False(t, StatusInProgress.IsTerminal())
}

func TestStoreLifecycle(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			task, err := store.Create(ctx, "optimize-resume", map[string]any{"resume_content": "x"})
			require.NoError(t, err)
			assert.Equal(t, StatusPending, task.Status)
			assert.Nil(t, task.CompletedAt)

			_, err = store.Transition(ctx, task.ID, Update{Status: StatusInProgress})
			require.NoError(t, err)
			done, err := store.Transition(ctx, task.ID, Update{Status: StatusCompleted, Output: map[string]any{"ats_score": 80.0}})
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, done.Status)
			require.NotNil(t, done.CompletedAt)

			got, err := store.Get(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, 80.0, got.Output["ats_score"])
			assert.Equal(t, "x", got.Input["resume_content"])

			cur, err := store.Transition(ctx, task.ID, Update{Status: StatusCancelled})
			require.Error(t, err)
			te := errors.As(err)
			assert.Equal(t, errors.CodeInvalidTransition, te.Code)
			assert.Equal(t, string(StatusCompleted), te.Context["status"])
			assert.Equal(t, StatusCompleted, cur.Status)

			got, err = store.Get(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, got.Status)

			_, err = store.Get(ctx, "task-missing")
			assert.True(t, errors.HasCode(err, errors.CodeNotFound))
			_, err = store.Transition(ctx, "task-missing", Update{Status: StatusCancelled})
			assert.True(t, errors.HasCode(err, errors.CodeNotFound))

			n, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestStoreListFiltersSortsAndPaginates(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			switch s := store.(type) {
			case *MemoryTaskStore:
				s.now = tick()
			case *SQLiteTaskStore:
				s.now = tick()
			}
			ctx := context.Background()
			var failed []string
			for i := range 6 {
				task, err := store.Create(ctx, "calculate-ats-score", nil)
				require.NoError(t, err)
				if i%2 == 0 {
					_, err = store.Transition(ctx, task.ID, Update{Status: StatusInProgress})
					require.NoError(t, err)
					_, err = store.Transition(ctx, task.ID, Update{Status: StatusFailed, Error: "boom"})
					require.NoError(t, err)
					failed = append([]string{task.ID}, failed...)
				}
			}

			page, total, err := store.List(ctx, TaskFilter{Status: StatusFailed})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			ids := make([]string, 0, len(page))
			for _, task := range page {
				assert.Equal(t, StatusFailed, task.Status)
				ids = append(ids, task.ID)
			}
			assert.Equal(t, failed, ids)

			page, total, err = store.List(ctx, TaskFilter{Status: StatusFailed, Limit: 1, Offset: 1})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			require.Len(t, page, 1)
			assert.Equal(t, failed[1], page[0].ID)

			page, total, err = store.List(ctx, TaskFilter{Offset: 10})
			require.NoError(t, err)
			assert.Equal(t, 6, total)
			assert.Empty(t, page)
		})
	}
}

func TestSQLiteMarkInterrupted(t *testing.T) {
	store, err := OpenSQLiteTaskStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	pending, err := store.Create(ctx, "optimize-resume", nil)
	require.NoError(t, err)
	running, err := store.Create(ctx, "optimize-resume", nil)
	require.NoError(t, err)
	_, err = store.Transition(ctx, running.ID, Update{Status: StatusInProgress})
	require.NoError(t, err)
	done, err := store.Create(ctx, "optimize-resume", nil)
	require.NoError(t, err)
	_, err = store.Transition(ctx, done.ID, Update{Status: StatusCancelled})
	require.NoError(t, err)

	n, err := store.MarkInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{pending.ID, running.ID} {
		task, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, task.Status)
		assert.Equal(t, "interrupted by restart", task.Error)
	}
	task, err := store.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, task.Status)
	require.NoError(t, store.Ping(ctx))
}
