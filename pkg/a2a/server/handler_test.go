package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/resumeflow/pkg/a2a/agentcard"
	"github.com/jllopis/resumeflow/pkg/compose"
	"github.com/jllopis/resumeflow/pkg/errors"
)

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []map[string]any
	release chan struct{}
	err     error
	panic   bool
}

func (f *fakeExecutor) Execute(ctx context.Context, skillID string, input map[string]any) (map[string]any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, input)
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	if f.panic {
		panic("stage exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	if obs := compose.ObserverFrom(ctx); obs != nil {
		obs(compose.StageEvent{RunID: compose.RunIDFrom(ctx), Stage: "skills_matcher", Status: compose.StageOK})
	}
	return map[string]any{"optimized_resume": "# Jane Doe", "ats_score": 81.5, "skill": skillID}, nil
}

func testCard() *agentcard.AgentCard {
	return &agentcard.AgentCard{
		ID:      "resume-optimizer-agent",
		Name:    "Resume Optimizer Agent",
		Version: "1.2.3",
		Skills: []agentcard.Skill{
			{ID: "optimize-resume", InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"resume_content": map[string]any{"type": "string"}},
				"required":   []string{"resume_content"},
			}},
			{ID: "calculate-ats-score"},
		},
	}
}

func waitStatus(t *testing.T, h *Handler, id string, want TaskStatus) *Task {
	t.Helper()
	var task *Task
	require.Eventually(t, func() bool {
		res, err := h.GetTask(context.Background(), TaskParams{TaskID: id})
		if err != nil {
			return false
		}
		task = res.Task
		return task.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return task
}

func TestCreateTaskCompletes(t *testing.T) {
	exec := &fakeExecutor{release: make(chan struct{})}
	h := NewHandler(exec, WithAgentCard(testCard()))

	res, err := h.CreateTask(context.Background(), CreateTaskParams{
		SkillID: "optimize-resume",
		Input:   map[string]any{"resume_content": "Jane", "job_description": "Go"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Task.Status)
	assert.NotEmpty(t, res.Task.ID)

	waitStatus(t, h, res.Task.ID, StatusInProgress)
	close(exec.release)
	h.Wait()

	task := waitStatus(t, h, res.Task.ID, StatusCompleted)
	assert.Equal(t, 81.5, task.Output["ats_score"])
	assert.NotNil(t, task.CompletedAt)
}

func TestCreateTaskFailure(t *testing.T) {
	h := NewHandler(&fakeExecutor{err: errors.New(errors.CodeOrchestration, "tree failed", nil)}, WithAgentCard(testCard()))
	res, err := h.CreateTask(context.Background(), CreateTaskParams{SkillID: "calculate-ats-score"})
	require.NoError(t, err)
	h.Wait()

	task := waitStatus(t, h, res.Task.ID, StatusFailed)
	assert.Contains(t, task.Error, "tree failed")
	assert.Nil(t, task.Output)
}

func TestCreateTaskRecoversPanic(t *testing.T) {
	h := NewHandler(&fakeExecutor{panic: true}, WithAgentCard(testCard()))
	res, err := h.CreateTask(context.Background(), CreateTaskParams{SkillID: "calculate-ats-score"})
	require.NoError(t, err)
	h.Wait()

	task := waitStatus(t, h, res.Task.ID, StatusFailed)
	assert.Contains(t, task.Error, "stage exploded")
}

func TestCreateTaskValidatesSkill(t *testing.T) {
	h := NewHandler(&fakeExecutor{}, WithAgentCard(testCard()))

	_, err := h.CreateTask(context.Background(), CreateTaskParams{SkillID: "translate"})
	te := errors.As(err)
	require.NotNil(t, te)
	assert.Equal(t, errors.CodeSkillNotFound, te.Code)
	assert.Equal(t, []string{"optimize-resume", "calculate-ats-score"}, te.Context["valid_skills"])

	_, err = h.CreateTask(context.Background(), CreateTaskParams{SkillID: "optimize-resume", Input: map[string]any{}})
	te = errors.As(err)
	require.NotNil(t, te)
	assert.Equal(t, errors.CodeInvalidInput, te.Code)
	assert.Equal(t, []string{"resume_content"}, te.Context["missing"])

	n := h.TaskCount(context.Background())
	assert.Zero(t, n)
}

func TestCancelIsNonPreemptive(t *testing.T) {
	exec := &fakeExecutor{release: make(chan struct{})}
	h := NewHandler(exec, WithAgentCard(testCard()))
	ctx := context.Background()

	res, err := h.CreateTask(ctx, CreateTaskParams{SkillID: "calculate-ats-score"})
	require.NoError(t, err)
	waitStatus(t, h, res.Task.ID, StatusInProgress)

	cancelled, err := h.CancelTask(ctx, TaskParams{TaskID: res.Task.ID})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Task.Status)

	close(exec.release)
	h.Wait()

	got, err := h.GetTask(ctx, TaskParams{TaskID: res.Task.ID})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Task.Status)
	assert.Nil(t, got.Task.Output)
}

func TestCancelFromTerminalState(t *testing.T) {
	h := NewHandler(&fakeExecutor{}, WithAgentCard(testCard()))
	ctx := context.Background()

	res, err := h.CreateTask(ctx, CreateTaskParams{SkillID: "calculate-ats-score"})
	require.NoError(t, err)
	h.Wait()
	waitStatus(t, h, res.Task.ID, StatusCompleted)

	_, err = h.CancelTask(ctx, TaskParams{TaskID: res.Task.ID})
	te := errors.As(err)
	require.NotNil(t, te)
	assert.Equal(t, errors.CodeInvalidTransition, te.Code)
	assert.Equal(t, res.Task.ID, te.Context["task_id"])
	assert.Equal(t, "completed", te.Context["status"])

	waitStatus(t, h, res.Task.ID, StatusCompleted)

	_, err = h.CancelTask(ctx, TaskParams{TaskID: "task-nope"})
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestSendMessageDecodesText(t *testing.T) {
	exec := &fakeExecutor{}
	h := NewHandler(exec, WithAgentCard(testCard()))

	res, err := h.SendMessage(context.Background(), SendMessageParams{
		Message: &Message{Role: RoleUser, Parts: []Part{{Type: PartText, Text: "please run:\n```json\n{\"resume_content\": \"Jane\"}\n```"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultSkillID, res.SkillID)
	assert.Equal(t, RoleAgent, res.Message.Role)
	assert.Equal(t, "resume-optimizer-agent", res.Message.Author)
	assert.Equal(t, "# Jane Doe", res.Message.Parts[0].Text)
	assert.Equal(t, "1.2.3", res.Metadata.AgentVersion)
	require.Len(t, exec.calls, 1)
	assert.Equal(t, "Jane", exec.calls[0]["resume_content"])

	_, err = h.SendMessage(context.Background(), SendMessageParams{})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestSendMessageStreamEvents(t *testing.T) {
	h := NewHandler(&fakeExecutor{}, WithAgentCard(testCard()))

	var events []StreamEvent
	err := h.SendMessageStream(context.Background(), SendMessageParams{
		SkillID: "calculate-ats-score",
		Input:   map[string]any{"resume_text": "a", "job_description": "b"},
	}, func(ev StreamEvent) { events = append(events, ev) })
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, EventStarted, events[0].Type)
	assert.Equal(t, EventStage, events[1].Type)
	assert.Equal(t, "skills_matcher", events[1].Data.(compose.StageEvent).Stage)
	assert.Equal(t, EventCompleted, events[2].Type)
}

func TestAgentInfoAndSkills(t *testing.T) {
	h := NewHandler(&fakeExecutor{}, WithAgentCard(testCard()))

	skills, err := h.ListSkills(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, skills.Total)

	info, err := h.AgentInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "resume-optimizer-agent", info.Agent.ID)
	assert.Equal(t, []string{"optimize-resume", "calculate-ats-score"}, info.Agent.Skills)
	assert.Nil(t, info.Pipeline)
}
