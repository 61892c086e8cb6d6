package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/resumeflow/pkg/errors"
)

// ToolCaller abstracts tool execution for bindings. *Manager implements it.
type ToolCaller interface {
	Tool(ctx context.Context, endpoint, name string) (mcp.Tool, error)
	CallTool(ctx context.Context, endpoint, name string, args map[string]any) (*ToolResult, error)
}

// Binding is one named tool on one endpoint. Arguments are normalized and
// checked against the discovered input schema before the call.
type Binding struct {
	endpoint string
	name     string
	caller   ToolCaller
}

// Bind returns a binding for tool name on endpoint.
func Bind(caller ToolCaller, endpoint, name string) (*Binding, error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if caller == nil {
		return nil, fmt.Errorf("tool caller is required")
	}
	return &Binding{endpoint: endpoint, name: name, caller: caller}, nil
}

// Name returns the tool name.
func (b *Binding) Name() string { return b.name }

// Endpoint returns the endpoint name.
func (b *Binding) Endpoint() string { return b.endpoint }

// Call invokes the tool. A result flagged as error by the server is returned
// together with a ToolFailure.
func (b *Binding) Call(ctx context.Context, input any) (*ToolResult, error) {
	args, err := normalizeToolArgs(input)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "invalid tool arguments", err).
			WithContext("tool", b.name)
	}
	tool, err := b.caller.Tool(ctx, b.endpoint, b.name)
	if err != nil {
		return nil, err
	}
	if err := validateRequiredArgs(tool, args); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, err.Error(), nil).
			WithContext("tool", b.name)
	}
	res, err := b.caller.CallTool(ctx, b.endpoint, b.name, args)
	if err != nil {
		return nil, err
	}
	return res, res.Err()
}

func normalizeToolArgs(input any) (map[string]any, error) {
	switch value := input.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return value, nil
	case json.RawMessage:
		return decodeArgs(value)
	case []byte:
		return decodeArgs(value)
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return map[string]any{}, nil
		}
		if strings.HasPrefix(trimmed, "{") {
			if decoded, err := decodeArgs([]byte(trimmed)); err == nil {
				return decoded, nil
			}
		}
		return map[string]any{"input": value}, nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("unsupported argument type %T", input)
		}
		return decodeArgs(encoded)
	}
}

func decodeArgs(raw []byte) (map[string]any, error) {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("invalid JSON arguments: %w", err)
	}
	if decoded == nil {
		decoded = map[string]any{}
	}
	return decoded, nil
}

func validateRequiredArgs(tool mcp.Tool, args map[string]any) error {
	schema := tool.InputSchema
	if schema.Type != "" && schema.Type != "object" {
		return nil
	}
	for _, key := range schema.Required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("missing required argument %q", key)
		}
	}
	return nil
}

func extractTextContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
