package resume

import (
	"context"
	"log/slog"

	"github.com/jllopis/resumeflow/pkg/errors"
	"github.com/jllopis/resumeflow/pkg/mcp"
	"github.com/jllopis/resumeflow/pkg/resilience"
)

// toolStep calls one tool and falls back to a local computation when the
// tool is unavailable or answers with something unusable.
type toolStep struct {
	stage   string
	tool    string
	binding *mcp.Binding
	logger  *slog.Logger
}

func newToolStep(deps Deps, stage, tool string) toolStep {
	step := toolStep{stage: stage, tool: tool, logger: deps.logger()}
	if deps.Tools != nil {
		if b, err := mcp.Bind(deps.Tools, deps.endpoint(), tool); err == nil {
			step.binding = b
		}
	}
	return step
}

// run returns the tool payload, or local() flagged as degraded.
func (s toolStep) run(ctx context.Context, args map[string]any, local func() map[string]any) (map[string]any, resilience.Outcome) {
	out, outcome, _ := resilience.WithFallback(ctx, func(ctx context.Context) (map[string]any, error) {
		return s.call(ctx, args)
	}, func(context.Context, error) (map[string]any, error) {
		return local(), nil
	})
	if outcome.Degraded {
		s.logger.Warn("tool unavailable, using local fallback",
			"stage", s.stage,
			"tool", s.tool,
			"error", outcome.PrimaryErr,
		)
	}
	return out, outcome
}

func (s toolStep) call(ctx context.Context, args map[string]any) (map[string]any, error) {
	if s.binding == nil {
		return nil, errors.New(errors.CodeToolFailure, "tool endpoint not configured", nil).
			WithContext("tool", s.tool)
	}
	res, err := s.binding.Call(ctx, args)
	if err != nil {
		return nil, err
	}
	obj, ok := res.Decoded.Object()
	if !ok {
		return nil, errors.New(errors.CodeToolFailure, "tool returned unstructured output", nil).
			WithContext("tool", s.tool).
			WithContext("tier", string(res.Decoded.Tier))
	}
	if msg, failed := obj["error"].(string); failed && msg != "" {
		return nil, errors.New(errors.CodeToolFailure, msg, nil).WithContext("tool", s.tool)
	}
	return obj, nil
}

// annotate records where a tool-backed payload came from.
func annotate(payload map[string]any, tool string, outcome resilience.Outcome) map[string]any {
	payload["degraded"] = outcome.Degraded
	if outcome.Degraded {
		payload["source"] = "local"
		if outcome.PrimaryErr != nil {
			payload["tool_error"] = outcome.PrimaryErr.Error()
		}
	} else {
		payload["source"] = "tool:" + tool
	}
	return payload
}
