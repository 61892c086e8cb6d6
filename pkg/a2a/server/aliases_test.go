package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/resumeflow/pkg/errors"
	"github.com/jllopis/resumeflow/pkg/orchestrator"
)

const (
	aliasResume = "Jane Doe\njane@example.org\n\nEXPERIENCE\nGo engineer building Kubernetes services\n\nSKILLS\nGo, Kubernetes"
	aliasJob    = "Senior Go Engineer\nGo and Kubernetes in production."
)

func orchestratorHandler(t *testing.T) *Handler {
	t.Helper()
	o, err := orchestrator.New()
	require.NoError(t, err)
	return NewHandler(o, WithAgentCard(orchestrator.Card("http://localhost:8080", "test")))
}

func TestSendMessageAcceptsInputAliases(t *testing.T) {
	h := orchestratorHandler(t)
	ctx := context.Background()

	res, err := h.SendMessage(ctx, SendMessageParams{
		SkillID: orchestrator.SkillOptimizeResume,
		Input:   map[string]any{"resume_text": aliasResume, "job_description": aliasJob},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Result, "optimized_resume")

	res, err = h.SendMessage(ctx, SendMessageParams{
		SkillID: orchestrator.SkillCalculateATS,
		Input:   map[string]any{"resume_content": aliasResume, "job_text": aliasJob},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Result, "total_score")
}

func TestSendMessagePlainTextUsesAlias(t *testing.T) {
	h := orchestratorHandler(t)

	_, err := h.SendMessage(context.Background(), SendMessageParams{
		Message: &Message{Role: RoleUser, Parts: []Part{{Type: PartText, Text: aliasResume}}},
	})
	require.Error(t, err)
	te := errors.As(err)
	require.NotNil(t, te)
	assert.Equal(t, errors.CodeInvalidInput, te.Code)
	assert.Equal(t, []string{"job_description"}, te.Context["missing"])
}

func TestCreateTaskStoresNormalizedInput(t *testing.T) {
	h := orchestratorHandler(t)
	input := map[string]any{"resume_content": aliasResume, "job_description": aliasJob}

	res, err := h.CreateTask(context.Background(), CreateTaskParams{SkillID: orchestrator.SkillCalculateATS, Input: input})
	require.NoError(t, err)
	assert.Equal(t, aliasResume, res.Task.Input["resume_text"])
	assert.NotContains(t, input, "resume_text")

	task := waitStatus(t, h, res.Task.ID, StatusCompleted)
	assert.Contains(t, task.Output, "total_score")
	h.Wait()
}
