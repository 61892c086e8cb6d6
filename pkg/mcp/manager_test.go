package mcp

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/resumeflow/pkg/decode"
	"github.com/jllopis/resumeflow/pkg/errors"
)

// countingClient records protocol round trips made through a transport.
type countingClient struct {
	client.MCPClient
	counts   *counts
	closeErr error
}

type counts struct {
	dials, inits, lists, closes atomic.Int32
}

func (c *countingClient) Initialize(ctx context.Context, req mcpgo.InitializeRequest) (*mcpgo.InitializeResult, error) {
	c.counts.inits.Add(1)
	return c.MCPClient.Initialize(ctx, req)
}

func (c *countingClient) ListTools(ctx context.Context, req mcpgo.ListToolsRequest) (*mcpgo.ListToolsResult, error) {
	c.counts.lists.Add(1)
	return c.MCPClient.ListTools(ctx, req)
}

func (c *countingClient) Close() error {
	c.counts.closes.Add(1)
	if err := c.MCPClient.Close(); err != nil {
		return err
	}
	return c.closeErr
}

func newTestServer(t *testing.T, scoreCalls *atomic.Int32) *Server {
	t.Helper()
	srv := NewServer("resume-tools-test", "1.0.0")
	srv.RegisterTool(mcpgo.NewTool("calculate_ats_score",
		mcpgo.WithDescription("score a resume"),
		mcpgo.WithString("resume_text", mcpgo.Required()),
		mcpgo.WithString("job_description", mcpgo.Required()),
	), func(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		scoreCalls.Add(1)
		return mcpgo.NewToolResultText("Result:\n```json\n{\"overall_score\": 81.5}\n```"), nil
	})
	srv.RegisterTool(mcpgo.NewTool("broken"), func(context.Context, mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return mcpgo.NewToolResultError("scorer offline"), nil
	})
	srv.RegisterResource(mcpgo.NewResource("template://resume/basic", "basic",
		mcpgo.WithMIMEType("text/markdown"),
	), func(_ context.Context, req mcpgo.ReadResourceRequest) ([]mcpgo.ResourceContents, error) {
		return []mcpgo.ResourceContents{mcpgo.TextResourceContents{
			URI: req.Params.URI, MIMEType: "text/markdown", Text: "# Name",
		}}, nil
	})
	srv.RegisterPrompt(mcpgo.NewPrompt("optimize",
		mcpgo.WithPromptDescription("optimize a section"),
		mcpgo.WithArgument("section", mcpgo.RequiredArgument()),
	), func(_ context.Context, req mcpgo.GetPromptRequest) (*mcpgo.GetPromptResult, error) {
		return mcpgo.NewGetPromptResult("optimize", []mcpgo.PromptMessage{
			mcpgo.NewPromptMessage(mcpgo.RoleUser, mcpgo.NewTextContent("rewrite "+req.Params.Arguments["section"])),
		}), nil
	})
	return srv
}

func newTestManager(t *testing.T, c *counts, closeErr error) (*Manager, *atomic.Int32) {
	t.Helper()
	scoreCalls := &atomic.Int32{}
	srv := newTestServer(t, scoreCalls)
	dial := srv.Dialer()
	m, err := NewManager([]EndpointConfig{{Name: "resume_tools"}},
		WithDialer(func(ctx context.Context, cfg EndpointConfig) (client.MCPClient, error) {
			c.dials.Add(1)
			raw, err := dial(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return &countingClient{MCPClient: raw, counts: c, closeErr: closeErr}, nil
		}),
	)
	require.NoError(t, err)
	return m, scoreCalls
}

func TestRepeatedDiscoveryHandshakesOnce(t *testing.T) {
	c := &counts{}
	m, _ := newTestManager(t, c, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.ListTools(ctx, "resume_tools")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	tools, err := m.ListTools(ctx, "resume_tools")
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	assert.Equal(t, int32(1), c.dials.Load())
	assert.Equal(t, int32(1), c.inits.Load())
	assert.Equal(t, int32(1), c.lists.Load())
	assert.True(t, m.IsConnected("resume_tools"))
	assert.Equal(t, 1, m.Stats().Handshakes)
}

func TestDisconnectEvictsSessionAndCache(t *testing.T) {
	c := &counts{}
	m, _ := newTestManager(t, c, nil)
	ctx := context.Background()

	_, err := m.ListTools(ctx, "resume_tools")
	require.NoError(t, err)
	require.NoError(t, m.Disconnect("resume_tools"))

	assert.Equal(t, StateUnconnected, m.States()["resume_tools"])
	assert.Equal(t, int32(1), c.closes.Load())
	_, ok := m.ServerInfo("resume_tools")
	assert.False(t, ok)

	_, err = m.ListTools(ctx, "resume_tools")
	require.NoError(t, err)
	assert.Equal(t, int32(2), c.inits.Load())
	assert.Equal(t, int32(2), c.lists.Load())

	// disconnecting twice is harmless
	require.NoError(t, m.Disconnect("resume_tools"))
	require.NoError(t, m.Disconnect("resume_tools"))
}

func TestCallToolIsNotCachedAndDecodes(t *testing.T) {
	c := &counts{}
	m, calls := newTestManager(t, c, nil)
	ctx := context.Background()
	args := map[string]any{"resume_text": "Go", "job_description": "Go"}

	for i := 0; i < 2; i++ {
		res, err := m.CallTool(ctx, "resume_tools", "calculate_ats_score", args)
		require.NoError(t, err)
		assert.False(t, res.IsError)
		assert.Equal(t, decode.TierFallback, res.Decoded.Tier)
		assert.InDelta(t, 81.5, res.Decoded.Get("overall_score").Float(), 0.001)
	}
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), c.inits.Load())
}

func TestResourcesAndPrompts(t *testing.T) {
	m, _ := newTestManager(t, &counts{}, nil)
	ctx := context.Background()

	resources, err := m.ListResources(ctx, "resume_tools")
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "template://resume/basic", resources[0].URI)

	contents, err := m.ReadResource(ctx, "resume_tools", "template://resume/basic")
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := mcpgo.AsTextResourceContents(contents[0])
	require.True(t, ok)
	assert.Equal(t, "# Name", text.Text)

	prompts, err := m.ListPrompts(ctx, "resume_tools")
	require.NoError(t, err)
	require.Len(t, prompts, 1)

	prompt, err := m.GetPrompt(ctx, "resume_tools", "optimize", map[string]string{"section": "summary"})
	require.NoError(t, err)
	require.Len(t, prompt.Messages, 1)
	assert.Equal(t, "rewrite summary", extractTextContent([]mcpgo.Content{prompt.Messages[0].Content}))
}

func TestUnknownEndpointAndDialFailure(t *testing.T) {
	m, err := NewManager([]EndpointConfig{{Name: "down"}},
		WithDialer(func(context.Context, EndpointConfig) (client.MCPClient, error) {
			return nil, stderrors.New("connection refused")
		}),
	)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.ListTools(ctx, "missing")
	assert.True(t, errors.HasCode(err, errors.CodeToolFailure))

	_, err = m.CallTool(ctx, "down", "x", nil)
	assert.True(t, errors.HasCode(err, errors.CodeToolFailure))
	assert.Equal(t, StateUnconnected, m.States()["down"])
	assert.False(t, m.IsConnected("down"))
}

func TestShutdownContinuesPastFailures(t *testing.T) {
	c := &counts{}
	m, _ := newTestManager(t, c, stderrors.New("stuck"))
	require.NoError(t, m.Register(EndpointConfig{Name: "second"}))
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx, "resume_tools"))
	require.NoError(t, m.Connect(ctx, "second"))

	m.Shutdown(ctx)
	assert.Equal(t, int32(2), c.closes.Load())
	for name, st := range m.States() {
		assert.Equal(t, StateUnconnected, st, name)
	}

	_, err := m.ListTools(ctx, "resume_tools")
	assert.True(t, errors.HasCode(err, errors.CodeToolFailure))
}

func TestShutdownDuringHandshakeClosesTransport(t *testing.T) {
	c := &counts{}
	dial := newTestServer(t, &atomic.Int32{}).Dialer()
	dialing := make(chan struct{})
	release := make(chan struct{})
	m, err := NewManager([]EndpointConfig{{Name: "resume_tools"}},
		WithDialer(func(ctx context.Context, cfg EndpointConfig) (client.MCPClient, error) {
			close(dialing)
			<-release
			raw, err := dial(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return &countingClient{MCPClient: raw, counts: c}, nil
		}),
	)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background(), "resume_tools") }()
	<-dialing
	m.Shutdown(context.Background())
	close(release)

	err = <-done
	assert.True(t, errors.HasCode(err, errors.CodeToolFailure))
	assert.Equal(t, int32(1), c.closes.Load())
	assert.Equal(t, StateUnconnected, m.States()["resume_tools"])
	assert.Equal(t, 0, m.Stats().Handshakes)
}

func TestBindingValidatesAndSurfacesToolErrors(t *testing.T) {
	m, calls := newTestManager(t, &counts{}, nil)
	ctx := context.Background()

	score, err := Bind(m, "resume_tools", "calculate_ats_score")
	require.NoError(t, err)

	_, err = score.Call(ctx, map[string]any{"resume_text": "Go"})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
	assert.Equal(t, int32(0), calls.Load())

	res, err := score.Call(ctx, `{"resume_text": "Go", "job_description": "Go"}`)
	require.NoError(t, err)
	assert.True(t, res.Decoded.IsStructured())

	broken, err := Bind(m, "resume_tools", "broken")
	require.NoError(t, err)
	res, err = broken.Call(ctx, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeToolFailure))
	assert.True(t, res.IsError)
	assert.Equal(t, "scorer offline", res.Text)
}

func TestNormalizeToolArgs(t *testing.T) {
	args, err := normalizeToolArgs("plain text")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"input": "plain text"}, args)

	args, err = normalizeToolArgs(struct {
		Text string `json:"text"`
	}{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", args["text"])

	_, err = normalizeToolArgs([]byte("{bad"))
	assert.Error(t, err)
}
