// Package client is a JSON-RPC client for the task server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jllopis/resumeflow/pkg/a2a/agentcard"
	"github.com/jllopis/resumeflow/pkg/a2a/jsonrpc"
	"github.com/jllopis/resumeflow/pkg/a2a/server"
)

// Option configures the client.
type Option func(*Client)

// Client calls the JSON-RPC endpoint of a task server.
type Client struct {
	baseURL string
	path    string
	http    *http.Client
	token   string
	timeout time.Duration
	retries int
	nextID  atomic.Int64
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		path:    "/v1/message:send",
		http:    http.DefaultClient,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// WithTimeout sets a per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetries sets the number of retries for transport failures. RPC errors
// are never retried.
func WithRetries(retries int) Option {
	return func(c *Client) {
		if retries >= 0 {
			c.retries = retries
		}
	}
}

// WithBearerToken sends token in the Authorization header.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// SendMessage runs a skill synchronously.
func (c *Client) SendMessage(ctx context.Context, params server.SendMessageParams) (*server.SendMessageResult, error) {
	var out server.SendMessageResult
	if err := c.call(ctx, jsonrpc.MethodSendMessage, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTask schedules a skill and returns the pending task.
func (c *Client) CreateTask(ctx context.Context, skillID string, input map[string]any) (*server.Task, error) {
	var out server.TaskResult
	if err := c.call(ctx, jsonrpc.MethodCreateTask, server.CreateTaskParams{SkillID: skillID, Input: input}, &out); err != nil {
		return nil, err
	}
	return out.Task, nil
}

// GetTask returns one task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*server.Task, error) {
	var out server.TaskResult
	if err := c.call(ctx, jsonrpc.MethodGetTask, server.TaskParams{TaskID: taskID}, &out); err != nil {
		return nil, err
	}
	return out.Task, nil
}

// ListTasks returns one page of tasks.
func (c *Client) ListTasks(ctx context.Context, params server.ListTasksParams) (*server.ListTasksResult, error) {
	var out server.ListTasksResult
	if err := c.call(ctx, jsonrpc.MethodListTasks, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelTask requests cancellation of a task.
func (c *Client) CancelTask(ctx context.Context, taskID string) (*server.Task, error) {
	var out server.TaskResult
	if err := c.call(ctx, jsonrpc.MethodCancelTask, server.TaskParams{TaskID: taskID}, &out); err != nil {
		return nil, err
	}
	return out.Task, nil
}

// ListSkills returns the advertised skills.
func (c *Client) ListSkills(ctx context.Context) (*server.ListSkillsResult, error) {
	var out server.ListSkillsResult
	if err := c.call(ctx, jsonrpc.MethodListSkills, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AgentInfo returns the agent identity and pipeline topology.
func (c *Client) AgentInfo(ctx context.Context) (*server.AgentInfoResult, error) {
	var out server.AgentInfoResult
	if err := c.call(ctx, jsonrpc.MethodAgentInfo, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AgentCard fetches the discovery manifest.
func (c *Client) AgentCard(ctx context.Context) (*agentcard.AgentCard, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return agentcard.FetchWith(ctx, c.http, c.baseURL)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// call performs one method invocation. A JSON-RPC error is returned as
// *jsonrpc.Error.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	body, err := json.Marshal(jsonrpc.Request{
		JSONRPC: jsonrpc.Version,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  raw,
	})
	if err != nil {
		return err
	}

	resp, err := withRetries(c.retries, func() (*rpcResponse, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonrpc.Error  `json:"error"`
}

// errTransient marks failures worth retrying.
var errTransient = errors.New("transient")

func (c *Client) post(ctx context.Context, body []byte) (*rpcResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	injectTraceContext(ctx, req.Header)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errTransient, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errTransient, err)
	}
	if res.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: server returned %s", errTransient, res.Status)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc request failed: %s", res.Status)
	}
	var out rpcResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	return &out, nil
}

func withRetries[T any](retries int, fn func() (*T, error)) (*T, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !errors.Is(err, errTransient) {
			break
		}
	}
	return nil, lastErr
}
