package health

import (
	"context"

	"github.com/jllopis/resumeflow/pkg/mcp"
)

// Pinger is implemented by stores that can verify their backing connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports Unhealthy when p cannot be reached.
func PingChecker(p Pinger) Checker {
	return CheckerFunc(func(ctx context.Context) Result {
		if err := p.Ping(ctx); err != nil {
			return Result{Status: Unhealthy, Message: "ping failed", Error: err.Error()}
		}
		return Result{Status: Healthy, Message: "reachable"}
	})
}

// ToolEndpointStates is the subset of the tool manager used for health.
type ToolEndpointStates interface {
	States() map[string]mcp.ConnState
	Stats() mcp.Stats
}

// ToolsChecker reports the connection state of every tool endpoint. Tool
// endpoints connect lazily, so unconnected endpoints are healthy; the check
// degrades only when calls have failed since start.
func ToolsChecker(tools ToolEndpointStates) Checker {
	return CheckerFunc(func(ctx context.Context) Result {
		states := tools.States()
		stats := tools.Stats()
		details := make(map[string]any, len(states)+1)
		for name, state := range states {
			details[name] = string(state)
		}
		details["failures"] = stats.Failures
		status := Healthy
		msg := "tool endpoints available"
		if len(states) == 0 {
			status, msg = Degraded, "no tool endpoints configured; tool-backed stages run locally"
		} else if stats.Failures > 0 {
			status, msg = Degraded, "tool calls have failed; stages may be degraded"
		}
		return Result{Status: status, Message: msg, Details: details}
	})
}
