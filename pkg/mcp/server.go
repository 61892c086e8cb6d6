package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps an mcp-go server. It backs the companion tool process
// (`resumeflow tools serve`) and in-process endpoints used by tests and
// local runs; the client side never depends on it.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates a server advertising tool, resource and prompt
// capabilities.
func NewServer(name, version string) *Server {
	return &Server{
		mcpServer: server.NewMCPServer(name, version,
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
			server.WithPromptCapabilities(false),
		),
	}
}

// RegisterTool registers a tool with the server.
func (s *Server) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, handler)
}

// RegisterResource registers a static resource.
func (s *Server) RegisterResource(resource mcp.Resource, handler server.ResourceHandlerFunc) {
	s.mcpServer.AddResource(resource, handler)
}

// RegisterResourceTemplate registers a templated resource.
func (s *Server) RegisterResourceTemplate(tmpl mcp.ResourceTemplate, handler server.ResourceTemplateHandlerFunc) {
	s.mcpServer.AddResourceTemplate(tmpl, handler)
}

// RegisterPrompt registers a prompt.
func (s *Server) RegisterPrompt(prompt mcp.Prompt, handler server.PromptHandlerFunc) {
	s.mcpServer.AddPrompt(prompt, handler)
}

// ServeStdio serves the protocol on stdin/stdout until EOF.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Dialer returns a DialFunc connecting every endpoint to this server in
// process.
func (s *Server) Dialer() DialFunc {
	return func(ctx context.Context, _ EndpointConfig) (client.MCPClient, error) {
		c, err := client.NewInProcessClient(s.mcpServer)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}
