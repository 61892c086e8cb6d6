package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/resumeflow/pkg/errors"
)

func TestToolFilterAllowed(t *testing.T) {
	var none *ToolFilter
	assert.True(t, none.Allowed("anything"))

	f := NewToolFilter([]string{"calculate_*", " extract_keywords "}, []string{"calculate_debug"})
	assert.True(t, f.Allowed("calculate_ats_score"))
	assert.True(t, f.Allowed("extract_keywords"))
	assert.False(t, f.Allowed("calculate_debug"))
	assert.False(t, f.Allowed("validate_markdown"))

	denyOnly := NewToolFilter(nil, []string{"broken", ""})
	assert.True(t, denyOnly.Allowed("validate_markdown"))
	assert.False(t, denyOnly.Allowed("broken"))
}

func TestManagerAppliesToolFilter(t *testing.T) {
	srv := newTestServer(t, nil)
	m, err := NewManager([]EndpointConfig{{Name: "resume_tools"}},
		WithDialer(srv.Dialer()),
		WithToolFilter(NewToolFilter(nil, []string{"broken"})),
	)
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	ctx := context.Background()

	tools, err := m.ListTools(ctx, "resume_tools")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "calculate_ats_score", tools[0].Name)

	// cached listings are filtered too
	tools, err = m.ListTools(ctx, "resume_tools")
	require.NoError(t, err)
	assert.Len(t, tools, 1)

	_, err = m.CallTool(ctx, "resume_tools", "broken", nil)
	assert.True(t, errors.HasCode(err, errors.CodeForbidden))
	assert.Equal(t, 0, m.Stats().Failures)
}

func TestBindingReportsDeniedToolAsForbidden(t *testing.T) {
	srv := newTestServer(t, nil)
	m, err := NewManager([]EndpointConfig{{Name: "resume_tools"}},
		WithDialer(srv.Dialer()),
		WithToolFilter(NewToolFilter(nil, []string{"broken"})),
	)
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	ctx := context.Background()

	b, err := Bind(m, "resume_tools", "broken")
	require.NoError(t, err)
	_, err = b.Call(ctx, nil)
	assert.True(t, errors.HasCode(err, errors.CodeForbidden), "got %v", err)
	assert.False(t, errors.HasCode(err, errors.CodeToolFailure))

	_, err = m.Tool(ctx, "resume_tools", "broken")
	assert.True(t, errors.HasCode(err, errors.CodeForbidden))
	// denied before any session is opened
	assert.Equal(t, 0, m.Stats().Handshakes)

	_, err = m.Tool(ctx, "resume_tools", "missing")
	assert.True(t, errors.HasCode(err, errors.CodeToolFailure))
}
