// Package compose runs a static tree of sequential and parallel stages over a
// shared state store.
//
// Trees are validated when the engine is built: every output key has exactly
// one writer and members of a parallel group never write the same key. At run
// time a stage failure is recorded as state.Failure markers under the stage's
// output keys and the run continues; only defects (panics, undeclared writes)
// abort the run with an error.
package compose

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jllopis/resumeflow/pkg/agent"
	"github.com/jllopis/resumeflow/pkg/errors"
	"github.com/jllopis/resumeflow/pkg/state"
	"github.com/jllopis/resumeflow/pkg/telemetry"
)

var (
	// ErrOverlappingWrites is returned when members of one parallel group
	// declare the same output key.
	ErrOverlappingWrites = stderrors.New("compose: parallel members write the same key")
	// ErrDuplicateWriter is returned when two stages anywhere in the tree
	// declare the same output key.
	ErrDuplicateWriter = stderrors.New("compose: key has more than one writer")
	// ErrInvalidTree is returned for structurally invalid trees.
	ErrInvalidTree = stderrors.New("compose: invalid tree")
)

// Engine executes a validated composition tree.
type Engine struct {
	root    Node
	tracer  trace.Tracer
	logger  *slog.Logger
	metrics *telemetry.Metrics
	audit   AuditStore
	writers map[string]string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithAuditStore records every finished stage in store.
func WithAuditStore(store AuditStore) Option {
	return func(e *Engine) { e.audit = store }
}

// NewEngine validates root and returns an engine for it.
func NewEngine(root Node, opts ...Option) (*Engine, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: root is nil", ErrInvalidTree)
	}
	e := &Engine{
		root:    root,
		tracer:  otel.Tracer("resumeflow/compose"),
		logger:  slog.Default(),
		writers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.validate(root, map[string]struct{}{}); err != nil {
		return nil, err
	}
	e.logger = telemetry.Component(e.logger, "compose")
	return e, nil
}

// Root returns the tree the engine runs.
func (e *Engine) Root() Node { return e.root }

// Writer returns the stage that owns key.
func (e *Engine) Writer(key string) (string, bool) {
	w, ok := e.writers[key]
	return w, ok
}

// OutputKeys returns every key written by the tree, sorted.
func (e *Engine) OutputKeys() []string {
	return e.root.Writes()
}

func (e *Engine) validate(n Node, names map[string]struct{}) error {
	if n.Name() == "" {
		return fmt.Errorf("%w: unnamed %s", ErrInvalidTree, n.Kind())
	}
	if _, dup := names[n.Name()]; dup {
		return fmt.Errorf("%w: duplicate node name %q", ErrInvalidTree, n.Name())
	}
	names[n.Name()] = struct{}{}

	if n.Kind() == KindStage {
		for _, key := range n.Writes() {
			if prev, ok := e.writers[key]; ok {
				return fmt.Errorf("%w: %q written by %s and %s", ErrDuplicateWriter, key, prev, n.Name())
			}
			e.writers[key] = n.Name()
		}
		return nil
	}

	members := n.Children()
	if len(members) == 0 {
		return fmt.Errorf("%w: %s %q has no members", ErrInvalidTree, n.Kind(), n.Name())
	}
	if n.Kind() == KindParallel {
		seen := make(map[string]string)
		for _, m := range members {
			for _, key := range m.Writes() {
				if other, ok := seen[key]; ok {
					return fmt.Errorf("%w: %q in group %s (%s, %s)", ErrOverlappingWrites, key, n.Name(), other, m.Name())
				}
				seen[key] = m.Name()
			}
		}
	}
	for _, m := range members {
		if err := e.validate(m, names); err != nil {
			return err
		}
	}
	return nil
}

// Run executes the tree against st. It returns only when every stage has
// finished. A returned error means the run itself failed; stage failures are
// reported through markers in st.
func (e *Engine) Run(ctx context.Context, st *state.Store) error {
	if st == nil {
		return errors.New(errors.CodeOrchestration, "state store is nil", nil)
	}
	if RunIDFrom(ctx) == "" {
		ctx = WithRunID(ctx, uuid.NewString())
	}
	runID := RunIDFrom(ctx)
	ctx = telemetry.WithLogAttrs(ctx, slog.String("run_id", runID))
	ctx, span := e.tracer.Start(ctx, "Compose.Run",
		trace.WithAttributes(attribute.String(telemetry.AttrRunID, runID)),
	)
	defer span.End()

	started := time.Now()
	err := e.root.run(ctx, e, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.RecordError(ctx, err, "compose")
		e.logger.ErrorContext(ctx, "run aborted", "error", err)
		return err
	}
	e.logger.InfoContext(ctx, "run finished",
		"keys", st.Len(),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

func (e *Engine) runSequence(ctx context.Context, n *groupNode, st *state.Store) error {
	ctx, span := e.tracer.Start(ctx, "Compose.Sequence",
		trace.WithAttributes(telemetry.StageAttributes(RunIDFrom(ctx), n.name, string(n.kind), nil)...),
	)
	defer span.End()

	for _, m := range n.members {
		if err := ctx.Err(); err != nil {
			return errors.New(errors.CodeContextLost, "run interrupted before "+m.Name(), err)
		}
		if err := m.run(ctx, e, st); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runParallel(ctx context.Context, n *groupNode, st *state.Store) error {
	ctx, span := e.tracer.Start(ctx, "Compose.Parallel",
		trace.WithAttributes(telemetry.StageAttributes(RunIDFrom(ctx), n.name, string(n.kind), nil)...),
	)
	defer span.End()

	branches := make([]*state.Store, len(n.members))
	for i := range n.members {
		branches[i] = st.Branch()
	}

	// No early exit: every member runs to completion before the join.
	errs := make([]error, len(n.members))
	var g errgroup.Group
	for i, m := range n.members {
		g.Go(func() error {
			errs[i] = m.run(ctx, e, branches[i])
			return errs[i]
		})
	}
	_ = g.Wait()
	if err := stderrors.Join(errs...); err != nil {
		return err
	}

	for i, m := range n.members {
		for _, key := range m.Writes() {
			owner, _ := branches[i].Owner(key)
			if err := st.Apply(owner, state.Delta{key: branches[i].Get(key, nil)}); err != nil {
				return errors.New(errors.CodeOrchestration, "merge parallel group "+n.name, err).
					WithContext("key", key)
			}
		}
	}
	return nil
}

func (e *Engine) runStage(ctx context.Context, a agent.Agent, st *state.Store) error {
	runID := RunIDFrom(ctx)
	name := a.Name()
	writes := a.Writes()

	stageCtx, span := e.tracer.Start(ctx, "Compose.Stage",
		trace.WithAttributes(telemetry.StageAttributes(runID, name, string(KindStage), writes)...),
	)
	defer span.End()

	event := StageEvent{RunID: runID, Stage: name, StartedAt: time.Now().UTC()}
	res, err := invoke(stageCtx, a, st.Snapshot())
	if err == nil {
		var delta state.Delta
		delta, event.Status, event.Error, err = settle(name, writes, res)
		if err == nil {
			event.Keys = delta.Keys()
			if applyErr := st.Apply(name, delta); applyErr != nil {
				err = errors.New(errors.CodeOrchestration, "apply delta of "+name, applyErr)
			}
		}
	}
	event.FinishedAt = time.Now().UTC()
	if err != nil {
		event.Status = StageError
		event.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String(telemetry.AttrStageStatus, string(event.Status)))
	e.finish(ctx, event)
	return err
}

func (e *Engine) finish(ctx context.Context, event StageEvent) {
	elapsed := event.FinishedAt.Sub(event.StartedAt)
	e.metrics.RecordStage(ctx, event.Stage, string(event.Status), elapsed)
	attrs := []any{
		"run_id", event.RunID,
		"stage", event.Stage,
		"status", event.Status,
		"duration_ms", elapsed.Milliseconds(),
	}
	switch event.Status {
	case StageOK:
		e.logger.DebugContext(ctx, "stage finished", attrs...)
	case StageError:
		e.logger.ErrorContext(ctx, "stage aborted run", append(attrs, "error", event.Error)...)
	default:
		e.logger.WarnContext(ctx, "stage degraded", append(attrs, "error", event.Error)...)
	}
	if e.audit != nil {
		if err := e.audit.Record(ctx, event); err != nil {
			e.logger.WarnContext(ctx, "audit record failed", "stage", event.Stage, "error", err)
		}
	}
	if obs := ObserverFrom(ctx); obs != nil {
		obs(event)
	}
}

// invoke runs the agent and converts an escaping panic into an error.
func invoke(ctx context.Context, a agent.Agent, snap state.Snapshot) (res agent.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.CodeOrchestration, "stage "+a.Name()+" panicked", fmt.Errorf("%v", r)).
				WithContext("stage", a.Name()).
				WithContext("stack", string(debug.Stack()))
		}
	}()
	return a.Run(ctx, snap), nil
}

// settle turns a result into the delta that is applied to the store. Failed
// results become markers under every declared key; OK results that omit a
// declared key get a marker for that key.
func settle(name string, writes []string, res agent.Result) (state.Delta, StageStatus, string, error) {
	delta := make(state.Delta, len(writes))
	if !res.IsOK() {
		reason := res.Reason
		if reason == "" {
			reason = "stage failed"
		}
		for _, key := range writes {
			delta[key] = state.NewFailure(name, reason)
		}
		return delta, StageFailed, reason, nil
	}

	for key, value := range res.Delta {
		if !slices.Contains(writes, key) {
			return nil, StageError, "", errors.New(errors.CodeOrchestration,
				fmt.Sprintf("stage %s wrote undeclared key %q", name, key), nil).
				WithContext("stage", name).
				WithContext("declared", writes)
		}
		delta[key] = value
	}
	var missing []string
	for _, key := range writes {
		if _, ok := delta[key]; !ok {
			missing = append(missing, key)
			delta[key] = state.NewFailure(name, "stage produced no value for "+key)
		}
	}
	if len(missing) > 0 {
		return delta, StagePartial, fmt.Sprintf("missing outputs %v", missing), nil
	}
	return delta, StageOK, "", nil
}
