package mcp

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/resumeflow/pkg/errors"
	"github.com/jllopis/resumeflow/pkg/resilience"
)

const (
	defaultTimeout = 10 * time.Second
	defaultRetries = 2
	defaultBackoff = 200 * time.Millisecond
)

// ClientOption customizes the connection wrapper.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetry configures retry count and backoff.
func WithRetry(retries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if retries >= 0 {
			c.retry = c.retry.WithMaxAttempts(retries + 1)
		}
		if backoff > 0 {
			c.retry = c.retry.WithInitialDelay(backoff)
		}
	}
}

// Client wraps one mcp-go connection with timeouts and bounded retries.
// It holds no protocol state; the Manager owns the session lifecycle.
type Client struct {
	mcpClient client.MCPClient
	timeout   time.Duration
	retry     resilience.RetryConfig
}

// NewClient wraps an MCP client implementation.
func NewClient(c client.MCPClient, opts ...ClientOption) *Client {
	wrapped := &Client{
		mcpClient: c,
		timeout:   defaultTimeout,
		retry: resilience.DefaultRetryConfig().
			WithMaxAttempts(defaultRetries + 1).
			WithInitialDelay(defaultBackoff),
	}
	for _, opt := range opts {
		opt(wrapped)
	}
	return wrapped
}

// Initialize performs the protocol handshake. It is never retried.
func (c *Client) Initialize(ctx context.Context, protocolVersion string, info mcp.Implementation) (*mcp.InitializeResult, error) {
	if protocolVersion == "" {
		protocolVersion = mcp.LATEST_PROTOCOL_VERSION
	}
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = protocolVersion
	req.Params.ClientInfo = info

	reqCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.mcpClient.Initialize(reqCtx, req)
	if err != nil {
		return nil, c.wrap(ctx, reqCtx, "initialize", err)
	}
	return res, nil
}

// ListTools retrieves the tools offered by the server.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	res, err := invoke(ctx, c, "tools/list", func(ctx context.Context) (*mcp.ListToolsResult, error) {
		return c.mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	})
	if err != nil {
		return nil, err
	}
	return res.Tools, nil
}

// CallTool executes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return invoke(ctx, c, "tools/call", func(ctx context.Context) (*mcp.CallToolResult, error) {
		return c.mcpClient.CallTool(ctx, req)
	})
}

// ReadResource reads a resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	res, err := invoke(ctx, c, "resources/read", func(ctx context.Context) (*mcp.ReadResourceResult, error) {
		return c.mcpClient.ReadResource(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.Contents, nil
}

// ListResources lists the resources offered by the server.
func (c *Client) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	res, err := invoke(ctx, c, "resources/list", func(ctx context.Context) (*mcp.ListResourcesResult, error) {
		return c.mcpClient.ListResources(ctx, mcp.ListResourcesRequest{})
	})
	if err != nil {
		return nil, err
	}
	return res.Resources, nil
}

// GetPrompt renders a prompt with arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	req := mcp.GetPromptRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return invoke(ctx, c, "prompts/get", func(ctx context.Context) (*mcp.GetPromptResult, error) {
		return c.mcpClient.GetPrompt(ctx, req)
	})
}

// ListPrompts lists the prompts offered by the server.
func (c *Client) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	res, err := invoke(ctx, c, "prompts/list", func(ctx context.Context) (*mcp.ListPromptsResult, error) {
		return c.mcpClient.ListPrompts(ctx, mcp.ListPromptsRequest{})
	})
	if err != nil {
		return nil, err
	}
	return res.Prompts, nil
}

// Close closes the underlying transport.
func (c *Client) Close() error {
	return c.mcpClient.Close()
}

func invoke[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	return resilience.Retry(ctx, c.retry, func(ctx context.Context) (T, error) {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()
		v, err := fn(reqCtx)
		if err != nil {
			var zero T
			return zero, c.wrap(ctx, reqCtx, op, err)
		}
		return v, nil
	})
}

// wrap classifies a transport error. Cancellation of the caller's context and
// per-request timeouts are final; anything else may be retried.
func (c *Client) wrap(parent, reqCtx context.Context, op string, err error) error {
	switch {
	case parent.Err() != nil:
		return errors.New(errors.CodeContextLost, op+" aborted", parent.Err())
	case stderrors.Is(reqCtx.Err(), context.DeadlineExceeded):
		return errors.New(errors.CodeTimeout, op+" timed out", err).
			WithContext("timeout", c.timeout.String())
	default:
		return errors.New(errors.CodeToolFailure, op+" failed", err).WithRecoverable(true)
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
