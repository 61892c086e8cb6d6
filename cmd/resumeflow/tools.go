package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jllopis/resumeflow/pkg/mcp"
	"github.com/jllopis/resumeflow/pkg/resume"
	"github.com/jllopis/resumeflow/pkg/telemetry"
)

type toolsOptions struct {
	embedded bool
	endpoint string
}

func newToolsCmd(root *rootOptions) *cobra.Command {
	opts := &toolsOptions{}
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and call MCP tool endpoints",
	}
	cmd.PersistentFlags().BoolVar(&opts.embedded, "embedded-tools", false, "use the in-process resume tools")
	cmd.PersistentFlags().StringVarP(&opts.endpoint, "endpoint", "e", "", "endpoint name (default tools.default)")
	cmd.AddCommand(
		newToolsListCmd(root, opts),
		newToolsCallCmd(root, opts),
		newToolsServeCmd(),
	)
	return cmd
}

// toolManager builds a manager for the tools commands and returns the
// endpoint to talk to.
func (o *toolsOptions) toolManager(cmd *cobra.Command, root *rootOptions) (*mcp.Manager, string, error) {
	cfg, err := root.loadConfig()
	if err != nil {
		return nil, "", err
	}
	logger := telemetry.NewLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	mopts := []mcp.Option{
		mcp.WithLogger(logger),
		mcp.WithClientInfo("resumeflow", version),
		mcp.WithToolFilter(mcp.NewToolFilter(cfg.Tools.Allow, cfg.Tools.Deny)),
	}
	endpoints := cfg.Tools.EndpointList()
	if o.embedded {
		mopts = append(mopts, mcp.WithDialer(resume.NewToolServer(version).Dialer()))
		endpoints = []mcp.EndpointConfig{{Name: resume.DefaultToolEndpoint, Timeout: cfg.Tools.Timeout}}
		cfg.Tools.Default = resume.DefaultToolEndpoint
	}
	m, err := mcp.NewManager(endpoints, mopts...)
	if err != nil {
		return nil, "", err
	}
	endpoint := o.endpoint
	if endpoint == "" {
		endpoint = cfg.Tools.Default
	}
	return m, endpoint, nil
}

func newToolsListCmd(root *rootOptions, opts *toolsOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the tools of an endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, endpoint, err := opts.toolManager(cmd, root)
			if err != nil {
				return err
			}
			defer m.Shutdown(cmd.Context())

			ctx, cancel := root.remoteContext(cmd)
			defer cancel()
			tools, err := m.ListTools(ctx, endpoint)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if root.json {
				return printJSON(out, map[string]any{"endpoint": endpoint, "tools": tools})
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDESCRIPTION")
			for _, t := range tools {
				fmt.Fprintf(tw, "%s\t%s\n", t.Name, t.Description)
			}
			return tw.Flush()
		},
	}
}

func newToolsCallCmd(root *rootOptions, opts *toolsOptions) *cobra.Command {
	var rawArgs string
	cmd := &cobra.Command{
		Use:     "call <tool>",
		Short:   "Call a tool with JSON arguments",
		Example: `  resumeflow tools call extract_keywords --args '{"text":"Go and Kubernetes"}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs := map[string]any{}
			if rawArgs != "" {
				if err := json.Unmarshal([]byte(rawArgs), &toolArgs); err != nil {
					return NewInvalidArgumentError("--args", "must be a JSON object: "+err.Error())
				}
			}
			m, endpoint, err := opts.toolManager(cmd, root)
			if err != nil {
				return err
			}
			defer m.Shutdown(cmd.Context())

			ctx, cancel := root.remoteContext(cmd)
			defer cancel()
			res, err := m.CallTool(ctx, endpoint, args[0], toolArgs)
			if err != nil {
				return err
			}
			if err := res.Err(); err != nil {
				return err
			}
			return printToolResult(cmd, res)
		},
	}
	cmd.Flags().StringVar(&rawArgs, "args", "", "tool arguments as a JSON object")
	return cmd
}

func printToolResult(cmd *cobra.Command, res *mcp.ToolResult) error {
	if !res.Decoded.IsStructured() {
		fmt.Fprintln(cmd.OutOrStdout(), res.Text)
		return nil
	}
	return printJSON(cmd.OutOrStdout(), res.Decoded.Value)
}

func newToolsServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the resume tools over stdio",
		Long: `Serve calculate_ats_score, extract_keywords and validate_markdown as an MCP
server on stdin/stdout. Point a tools.endpoints entry at this command to run
the tools as a separate process.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return resume.NewToolServer(version).ServeStdio()
		},
	}
}
