package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/resumeflow/pkg/a2a/agentcard"
	"github.com/jllopis/resumeflow/pkg/compose"
	"github.com/jllopis/resumeflow/pkg/errors"
	"github.com/jllopis/resumeflow/pkg/telemetry"
)

// DefaultSkillID is used by message/send when the request names no skill.
const DefaultSkillID = "optimize-resume"

// Executor runs a skill to completion.
type Executor interface {
	Execute(ctx context.Context, skillID string, input map[string]any) (map[string]any, error)
}

// InputNormalizer is implemented by executors that accept alternative names
// for skill inputs. The handler applies it before checking required fields.
type InputNormalizer interface {
	NormalizeInput(skillID string, input map[string]any) map[string]any
}

// Describer exposes the pipeline topology for agent/info.
type Describer interface {
	Describe() compose.Description
}

// SendMessageParams is the payload of message/send.
type SendMessageParams struct {
	SkillID string         `json:"skill_id,omitempty"`
	Message *Message       `json:"message,omitempty"`
	Input   map[string]any `json:"input,omitempty"`
}

// ResultMetadata describes one synchronous execution.
type ResultMetadata struct {
	ExecutionTimeMS int64  `json:"execution_time_ms"`
	AgentVersion    string `json:"agent_version"`
	RunID           string `json:"run_id,omitempty"`
}

// SendMessageResult is the reply of message/send.
type SendMessageResult struct {
	Message  Message        `json:"message"`
	SkillID  string         `json:"skill_id"`
	Result   map[string]any `json:"result"`
	Metadata ResultMetadata `json:"metadata"`
}

// CreateTaskParams is the payload of tasks/create.
type CreateTaskParams struct {
	SkillID string         `json:"skill_id"`
	Input   map[string]any `json:"input"`
}

// TaskParams addresses one task.
type TaskParams struct {
	TaskID string `json:"task_id"`
}

// ListTasksParams is the payload of tasks/list.
type ListTasksParams struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// TaskResult wraps a single task.
type TaskResult struct {
	Task *Task `json:"task"`
}

// ListTasksResult is one page of tasks.
type ListTasksResult struct {
	Tasks  []*Task `json:"tasks"`
	Total  int     `json:"total"`
	Offset int     `json:"offset"`
	Limit  int     `json:"limit"`
}

// ListSkillsResult is the reply of skills/list.
type ListSkillsResult struct {
	Skills []agentcard.Skill `json:"skills"`
	Total  int               `json:"total"`
}

// AgentInfo summarizes the agent identity.
type AgentInfo struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	Version      string                 `json:"version"`
	URL          string                 `json:"url,omitempty"`
	Capabilities agentcard.Capabilities `json:"capabilities"`
	Skills       []string               `json:"skills"`
}

// AgentInfoResult is the reply of agent/info.
type AgentInfoResult struct {
	Agent    AgentInfo            `json:"agent"`
	Pipeline *compose.Description `json:"pipeline,omitempty"`
}

// StreamEvent is one progress notification of a streamed message/send.
type StreamEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Stream event types.
const (
	EventStarted   = "started"
	EventStage     = "stage"
	EventCompleted = "completed"
	EventError     = "error"
)

// Handler implements the task and discovery operations shared by the
// JSON-RPC and REST bindings.
type Handler struct {
	Store    TaskStore
	Executor Executor
	Card     *agentcard.AgentCard
	Pipeline Describer
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics

	inflight sync.WaitGroup
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *Handler) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer("resumeflow/a2a").Start(ctx, name)
}

func (h *Handler) agentID() string {
	if h.Card == nil || h.Card.ID == "" {
		return "agent"
	}
	return h.Card.ID
}

func (h *Handler) version() string {
	if h.Card == nil {
		return ""
	}
	return h.Card.Version
}

func (h *Handler) normalize(skillID string, input map[string]any) map[string]any {
	if n, ok := h.Executor.(InputNormalizer); ok {
		return n.NormalizeInput(skillID, input)
	}
	return input
}

// checkSkill validates skillID and the required inputs against the card.
func (h *Handler) checkSkill(skillID string, input map[string]any) error {
	if skillID == "" {
		return NewInvalidParamsError("skill_id is required")
	}
	if h.Card == nil {
		return nil
	}
	skill, ok := h.Card.Skill(skillID)
	if !ok {
		return NewUnknownSkillError(skillID, h.Card.SkillIDs())
	}
	var missing []string
	for _, name := range skill.Required() {
		if v, ok := input[name]; !ok || v == nil || v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return NewMissingFieldsError(missing...)
	}
	return nil
}

func (h *Handler) prepareMessage(params SendMessageParams) (string, map[string]any, error) {
	if h.Executor == nil {
		return "", nil, NewConfigurationError("executor")
	}
	skillID := params.SkillID
	if skillID == "" {
		skillID = DefaultSkillID
	}
	input := params.Input
	if len(input) == 0 {
		if err := ValidateMessage(params.Message); err != nil {
			return "", nil, err
		}
		input = InputFromMessage(params.Message)
	}
	input = h.normalize(skillID, input)
	if err := h.checkSkill(skillID, input); err != nil {
		return "", nil, err
	}
	return skillID, input, nil
}

// SendMessage executes a skill inline and returns its result.
func (h *Handler) SendMessage(ctx context.Context, params SendMessageParams) (*SendMessageResult, error) {
	skillID, input, err := h.prepareMessage(params)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	ctx = compose.WithRunID(ctx, runID)
	ctx, span := h.startSpan(ctx, "A2A.SendMessage")
	defer span.End()
	span.SetAttributes(telemetry.TaskAttributes("", skillID, "")...)

	start := time.Now()
	result, err := h.Executor.Execute(ctx, skillID, input)
	if err != nil {
		span.RecordError(err)
		h.Metrics.RecordError(ctx, err, "a2a")
		return nil, err
	}
	return &SendMessageResult{
		Message: ResponseMessage(h.agentID(), result),
		SkillID: skillID,
		Result:  result,
		Metadata: ResultMetadata{
			ExecutionTimeMS: time.Since(start).Milliseconds(),
			AgentVersion:    h.version(),
			RunID:           runID,
		},
	}, nil
}

// SendMessageStream is SendMessage reporting progress through emit: one
// started event, one stage event per finished pipeline stage, then completed
// or error. emit is never called concurrently.
func (h *Handler) SendMessageStream(ctx context.Context, params SendMessageParams, emit func(StreamEvent)) error {
	skillID, input, err := h.prepareMessage(params)
	if err != nil {
		return err
	}
	var mu sync.Mutex
	send := func(ev StreamEvent) {
		mu.Lock()
		defer mu.Unlock()
		emit(ev)
	}
	send(StreamEvent{Type: EventStarted, Data: map[string]any{"skill_id": skillID}})

	ctx = compose.WithObserver(ctx, func(ev compose.StageEvent) {
		send(StreamEvent{Type: EventStage, Data: ev})
	})
	res, err := h.SendMessage(ctx, SendMessageParams{SkillID: skillID, Input: input})
	if err != nil {
		send(StreamEvent{Type: EventError, Data: errors.As(err)})
		return nil
	}
	send(StreamEvent{Type: EventCompleted, Data: res})
	return nil
}

// CreateTask stores a pending task and schedules its execution.
func (h *Handler) CreateTask(ctx context.Context, params CreateTaskParams) (*TaskResult, error) {
	if h.Store == nil || h.Executor == nil {
		return nil, NewConfigurationError("task handler")
	}
	input := h.normalize(params.SkillID, params.Input)
	if err := h.checkSkill(params.SkillID, input); err != nil {
		return nil, err
	}
	task, err := h.Store.Create(ctx, params.SkillID, input)
	if err != nil {
		return nil, err
	}
	h.Metrics.RecordTransition(ctx, task.SkillID, string(task.Status))
	h.logger().InfoContext(ctx, "task created", "task_id", task.ID, "skill_id", task.SkillID)

	h.inflight.Add(1)
	go h.runAsync(task.ID, task.SkillID, task.Input)
	return &TaskResult{Task: task}, nil
}

// runAsync drives one task through its lifecycle. It is detached from the
// request that created the task.
func (h *Handler) runAsync(taskID, skillID string, input map[string]any) {
	defer h.inflight.Done()
	ctx := compose.WithRunID(context.Background(), taskID)
	ctx = telemetry.WithLogAttrs(ctx, slog.String("task_id", taskID), slog.String("skill_id", skillID))
	ctx, span := h.startSpan(ctx, "A2A.RunTask")
	defer span.End()
	span.SetAttributes(telemetry.TaskAttributes(taskID, skillID, "")...)
	logger := h.logger()

	if !h.transition(ctx, logger, taskID, skillID, Update{Status: StatusInProgress}) {
		return
	}

	output, err := h.execute(ctx, skillID, input)
	if err != nil {
		span.RecordError(err)
		h.Metrics.RecordError(ctx, err, "a2a")
		logger.ErrorContext(ctx, "task failed", "error", err)
		h.transition(ctx, logger, taskID, skillID, Update{Status: StatusFailed, Error: err.Error()})
		return
	}
	h.transition(ctx, logger, taskID, skillID, Update{Status: StatusCompleted, Output: output})
}

func (h *Handler) execute(ctx context.Context, skillID string, input map[string]any) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.CodeOrchestration, fmt.Sprintf("panic: %v", r), nil)
		}
	}()
	return h.Executor.Execute(ctx, skillID, input)
}

// transition applies u and reports whether it was accepted. A rejected
// transition means the task was cancelled while running.
func (h *Handler) transition(ctx context.Context, logger *slog.Logger, taskID, skillID string, u Update) bool {
	task, err := h.Store.Transition(ctx, taskID, u)
	if err != nil {
		if errors.HasCode(err, errors.CodeInvalidTransition) && task != nil {
			logger.InfoContext(ctx, "task transition rejected", "from", task.Status, "to", u.Status)
			return false
		}
		logger.ErrorContext(ctx, "task transition failed", "to", u.Status, "error", err)
		return false
	}
	h.Metrics.RecordTransition(ctx, skillID, string(u.Status))
	return true
}

// Wait blocks until every scheduled task has finished.
func (h *Handler) Wait() {
	h.inflight.Wait()
}

// GetTask returns the task named by params.
func (h *Handler) GetTask(ctx context.Context, params TaskParams) (*TaskResult, error) {
	if h.Store == nil {
		return nil, NewConfigurationError("task store")
	}
	if params.TaskID == "" {
		return nil, NewMissingFieldsError("task_id")
	}
	task, err := h.Store.Get(ctx, params.TaskID)
	if err != nil {
		return nil, err
	}
	return &TaskResult{Task: task}, nil
}

// ListTasks returns one page of tasks.
func (h *Handler) ListTasks(ctx context.Context, params ListTasksParams) (*ListTasksResult, error) {
	if h.Store == nil {
		return nil, NewConfigurationError("task store")
	}
	filter := TaskFilter{Limit: params.Limit, Offset: params.Offset}
	if params.Status != "" {
		st, ok := ParseStatus(params.Status)
		if !ok {
			return nil, NewInvalidParamsError(fmt.Sprintf("unknown status %q", params.Status))
		}
		filter.Status = st
	}
	filter = filter.normalized()
	tasks, total, err := h.Store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &ListTasksResult{Tasks: tasks, Total: total, Offset: filter.Offset, Limit: filter.Limit}, nil
}

// CancelTask moves a pending or running task to cancelled. Work already in
// flight is not interrupted; its completion is discarded.
func (h *Handler) CancelTask(ctx context.Context, params TaskParams) (*TaskResult, error) {
	if h.Store == nil {
		return nil, NewConfigurationError("task store")
	}
	if params.TaskID == "" {
		return nil, NewMissingFieldsError("task_id")
	}
	task, err := h.Store.Transition(ctx, params.TaskID, Update{Status: StatusCancelled})
	if err != nil {
		return nil, err
	}
	h.Metrics.RecordTransition(ctx, task.SkillID, string(task.Status))
	h.logger().InfoContext(ctx, "task cancelled", "task_id", task.ID)
	return &TaskResult{Task: task}, nil
}

// ListSkills returns the skills advertised by the card.
func (h *Handler) ListSkills(context.Context) (*ListSkillsResult, error) {
	if h.Card == nil {
		return &ListSkillsResult{Skills: []agentcard.Skill{}}, nil
	}
	return &ListSkillsResult{Skills: h.Card.Skills, Total: len(h.Card.Skills)}, nil
}

// AgentInfo returns identity and pipeline topology.
func (h *Handler) AgentInfo(context.Context) (*AgentInfoResult, error) {
	out := &AgentInfoResult{Agent: AgentInfo{ID: h.agentID(), Skills: []string{}}}
	if card := h.Card; card != nil {
		out.Agent.Name = card.Name
		out.Agent.Description = card.Description
		out.Agent.Version = card.Version
		out.Agent.URL = card.URL
		out.Agent.Capabilities = card.Capabilities
		out.Agent.Skills = card.SkillIDs()
	}
	if h.Pipeline != nil {
		d := h.Pipeline.Describe()
		out.Pipeline = &d
	}
	return out, nil
}

// TaskCount reports the number of stored tasks for health output.
func (h *Handler) TaskCount(ctx context.Context) int {
	if h.Store == nil {
		return 0
	}
	n, err := h.Store.Count(ctx)
	if err != nil {
		return 0
	}
	return n
}
