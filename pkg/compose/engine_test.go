package compose

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/resumeflow/pkg/agent"
	"github.com/jllopis/resumeflow/pkg/errors"
	"github.com/jllopis/resumeflow/pkg/state"
)

// recorder captures the snapshot each stage received.
type recorder struct {
	mu    sync.Mutex
	seen  map[string]map[string]any
	order []string
}

func newRecorder() *recorder {
	return &recorder{seen: make(map[string]map[string]any)}
}

func (r *recorder) stage(t *testing.T, name string, reads []string, writes map[string]any) agent.Agent {
	t.Helper()
	keys := make([]string, 0, len(writes))
	for k := range writes {
		keys = append(keys, k)
	}
	return agent.MustNew(name,
		agent.WithReads(reads...),
		agent.WithWrites(keys...),
		agent.WithRun(func(_ context.Context, snap state.Snapshot) agent.Result {
			r.mu.Lock()
			r.seen[name] = snap.ToMap()
			r.order = append(r.order, name)
			r.mu.Unlock()
			delta := state.Delta{}
			for k, v := range writes {
				delta[k] = v
			}
			return agent.OK(delta)
		}),
	)
}

func failing(name, reason string, writes ...string) agent.Agent {
	return agent.MustNew(name,
		agent.WithWrites(writes...),
		agent.WithRun(func(context.Context, state.Snapshot) agent.Result {
			return agent.Failed(reason)
		}),
	)
}

func TestParallelMembersSeeIdenticalSnapshots(t *testing.T) {
	rec := newRecorder()
	root := Parallel("analysis",
		Stage(rec.stage(t, "a1", []string{"x"}, map[string]any{"k1": "one"})),
		Stage(rec.stage(t, "a2", []string{"x"}, map[string]any{"k2": "two"})),
	)
	e, err := NewEngine(root)
	require.NoError(t, err)

	st := state.New()
	require.NoError(t, st.Set("x", map[string]any{"n": 1}))
	require.NoError(t, e.Run(context.Background(), st))

	assert.Equal(t, rec.seen["a1"], rec.seen["a2"])
	assert.NotContains(t, rec.seen["a1"], "k2")
	assert.NotContains(t, rec.seen["a2"], "k1")
	assert.Equal(t, "one", st.Get("k1", nil))
	assert.Equal(t, "two", st.Get("k2", nil))
}

func TestParallelSnapshotMutationDoesNotLeak(t *testing.T) {
	var got any
	mutator := agent.MustNew("mutator",
		agent.WithWrites("m"),
		agent.WithRun(func(_ context.Context, snap state.Snapshot) agent.Result {
			snap.Map("shared")["n"] = 99
			return agent.OK(state.Delta{"m": true})
		}),
	)
	reader := agent.MustNew("reader",
		agent.WithWrites("r"),
		agent.WithRun(func(_ context.Context, snap state.Snapshot) agent.Result {
			got = snap.Map("shared")["n"]
			return agent.OK(state.Delta{"r": true})
		}),
	)
	e, err := NewEngine(Parallel("p", Stage(mutator), Stage(reader)))
	require.NoError(t, err)

	st := state.New()
	require.NoError(t, st.Set("shared", map[string]any{"n": 1}))
	require.NoError(t, e.Run(context.Background(), st))

	assert.Equal(t, 1, got)
	assert.Equal(t, 1, st.Get("shared", nil).(map[string]any)["n"])
}

func TestSequenceThreadsState(t *testing.T) {
	rec := newRecorder()
	root := Sequence("flow",
		Stage(rec.stage(t, "first", nil, map[string]any{"a": 1})),
		Parallel("fan",
			Stage(rec.stage(t, "left", []string{"a"}, map[string]any{"b": 2})),
			Stage(rec.stage(t, "right", []string{"a"}, map[string]any{"c": 3})),
		),
		Stage(rec.stage(t, "last", []string{"b", "c"}, map[string]any{"d": 4})),
	)
	e, err := NewEngine(root)
	require.NoError(t, err)

	st := state.New()
	require.NoError(t, e.Run(context.Background(), st))

	assert.Equal(t, "first", rec.order[0])
	assert.Equal(t, "last", rec.order[3])
	assert.Equal(t, 1, rec.seen["left"]["a"])
	assert.Equal(t, 2, rec.seen["last"]["b"])
	assert.Equal(t, 3, rec.seen["last"]["c"])
	assert.Equal(t, []string{"a", "b", "c", "d"}, st.Snapshot().Keys())

	owner, _ := st.Owner("c")
	assert.Equal(t, "right", owner)
}

func TestFailedAgentWritesMarkersAndRunContinues(t *testing.T) {
	rec := newRecorder()
	root := Sequence("flow",
		Parallel("qa",
			Stage(failing("validator", "tool unavailable", "quality_report")),
			Stage(rec.stage(t, "checker", nil, map[string]any{"formatting_report": "ok"})),
			Stage(rec.stage(t, "scorer", nil, map[string]any{"ats_score": 72})),
		),
		Stage(rec.stage(t, "after", []string{"quality_report", "formatting_report", "ats_score"}, map[string]any{"summary": "done"})),
	)
	e, err := NewEngine(root)
	require.NoError(t, err)

	st := state.New()
	require.NoError(t, e.Run(context.Background(), st))

	f, ok := state.AsFailure(st.Get("quality_report", nil))
	require.True(t, ok)
	assert.Equal(t, "validator", f.Stage)
	assert.Equal(t, "tool unavailable", f.Reason)
	assert.Equal(t, "ok", st.Get("formatting_report", nil))
	assert.Equal(t, 72, st.Get("ats_score", nil))
	assert.Equal(t, "done", st.Get("summary", nil))

	seen := rec.seen["after"]
	assert.True(t, state.IsFailure(seen["quality_report"]))
	assert.Equal(t, "ok", seen["formatting_report"])
	assert.Equal(t, 72, seen["ats_score"])
	var failures int
	for _, key := range []string{"quality_report", "formatting_report", "ats_score"} {
		if state.IsFailure(seen[key]) {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestEveryDeclaredKeyExistsAfterRun(t *testing.T) {
	partial := agent.MustNew("partial",
		agent.WithWrites("x", "y"),
		agent.WithRun(func(context.Context, state.Snapshot) agent.Result {
			return agent.OK(state.Delta{"x": 1})
		}),
	)
	audit := NewMemoryAuditStore()
	e, err := NewEngine(Sequence("s", Stage(partial), Stage(failing("f", "", "z"))), WithAuditStore(audit))
	require.NoError(t, err)

	st := state.New()
	require.NoError(t, e.Run(context.Background(), st))

	for _, key := range e.OutputKeys() {
		_, present := st.Snapshot().Lookup(key)
		assert.True(t, present, "key %s missing", key)
	}
	assert.True(t, state.IsFailure(st.Get("y", nil)))

	events, err := audit.List(context.Background(), AuditFilter{Stage: "partial"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, StagePartial, events[0].Status)
}

func TestOverlappingParallelWritesRejectedAtBuild(t *testing.T) {
	rec := newRecorder()
	_, err := NewEngine(Parallel("p",
		Stage(rec.stage(t, "a", nil, map[string]any{"k": 1})),
		Stage(rec.stage(t, "b", nil, map[string]any{"k": 2})),
	))
	assert.ErrorIs(t, err, ErrOverlappingWrites)

	_, err = NewEngine(Sequence("s",
		Stage(rec.stage(t, "a", nil, map[string]any{"k": 1})),
		Stage(rec.stage(t, "b", nil, map[string]any{"k": 2})),
	))
	assert.ErrorIs(t, err, ErrDuplicateWriter)

	_, err = NewEngine(Sequence("empty"))
	assert.ErrorIs(t, err, ErrInvalidTree)
}

func TestPanicPropagatesAsRunFailure(t *testing.T) {
	boom := agent.MustNew("boom",
		agent.WithWrites("x"),
		agent.WithRun(func(context.Context, state.Snapshot) agent.Result {
			panic("nil map")
		}),
	)
	rec := newRecorder()
	e, err := NewEngine(Parallel("p", Stage(boom), Stage(rec.stage(t, "ok", nil, map[string]any{"y": 1}))))
	require.NoError(t, err)

	err = e.Run(context.Background(), state.New())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeOrchestration))
	// the sibling still ran to completion
	assert.Contains(t, rec.order, "ok")
}

func TestUndeclaredWriteIsDefect(t *testing.T) {
	sneaky := agent.MustNew("sneaky",
		agent.WithWrites("x"),
		agent.WithRun(func(context.Context, state.Snapshot) agent.Result {
			return agent.OK(state.Delta{"x": 1, "other": 2})
		}),
	)
	e, err := NewEngine(Stage(sneaky))
	require.NoError(t, err)

	err = e.Run(context.Background(), state.New())
	assert.True(t, errors.HasCode(err, errors.CodeOrchestration))
}

func TestObserverAndRunID(t *testing.T) {
	rec := newRecorder()
	e, err := NewEngine(Sequence("s",
		Stage(rec.stage(t, "a", nil, map[string]any{"x": 1})),
		Stage(failing("b", "down", "y")),
	))
	require.NoError(t, err)

	var mu sync.Mutex
	var events []StageEvent
	ctx := WithObserver(WithRunID(context.Background(), "run-42"), func(ev StageEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	require.NoError(t, e.Run(ctx, state.New()))

	require.Len(t, events, 2)
	assert.Equal(t, "run-42", events[0].RunID)
	assert.Equal(t, StageOK, events[0].Status)
	assert.Equal(t, StageFailed, events[1].Status)
	assert.Equal(t, "down", events[1].Error)
}

func TestDescribe(t *testing.T) {
	rec := newRecorder()
	e, err := NewEngine(Sequence("flow",
		Parallel("fan",
			Stage(rec.stage(t, "l", []string{"in"}, map[string]any{"a": 1})),
			Stage(rec.stage(t, "r", nil, map[string]any{"b": 1})),
		),
		Stage(rec.stage(t, "z", nil, map[string]any{"c": 1})),
	))
	require.NoError(t, err)

	d := e.Describe()
	assert.Equal(t, KindSequence, d.Kind)
	assert.Equal(t, 3, d.StageCount())
	assert.Equal(t, KindParallel, d.Members[0].Kind)
	assert.Equal(t, []string{"in"}, d.Members[0].Members[0].Reads)

	w, ok := e.Writer("b")
	assert.True(t, ok)
	assert.Equal(t, "r", w)
}
