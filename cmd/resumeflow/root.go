package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/resumeflow/pkg/a2a/client"
	"github.com/jllopis/resumeflow/pkg/config"
)

const defaultServerURL = "http://localhost:8080"

type rootOptions struct {
	configPath string
	profile    string
	sets       []string
	server     string
	token      string
	timeout    time.Duration
	json       bool
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "resumeflow",
		Short: "Resume optimization control plane",
		Long: `resumeflow serves a task API that runs a multi-stage resume optimization
pipeline against a job posting, calling MCP tool servers for scoring,
keyword extraction and validation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (YAML)")
	flags.StringVar(&opts.profile, "profile", "", "config profile overlay (config.<profile>.yaml)")
	flags.StringArrayVar(&opts.sets, "set", nil, "override a config key, e.g. --set log.level=debug")
	flags.StringVar(&opts.server, "server", getenv("RESUMEFLOW_SERVER", defaultServerURL), "server base URL for remote commands")
	flags.StringVar(&opts.token, "token", os.Getenv("RESUMEFLOW_TOKEN"), "bearer token for remote commands")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "timeout for remote calls")
	flags.BoolVar(&opts.json, "json", false, "print machine readable output")

	root.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newToolsCmd(opts),
		newTasksCmd(opts),
		newSkillsCmd(opts),
		newInfoCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

// loadConfig resolves the file, profile, environment and --set layers.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	var args []string
	if o.configPath != "" {
		args = append(args, "--config", o.configPath)
	}
	if o.profile != "" {
		args = append(args, "--profile", o.profile)
	}
	for _, kv := range o.sets {
		args = append(args, "--set", kv)
	}
	cfg, err := config.LoadWithCLI(args)
	if err != nil {
		return nil, NewConfigError(err, o.configPath)
	}
	return cfg, nil
}

func (o *rootOptions) client() *client.Client {
	return client.New(o.server,
		client.WithTimeout(o.timeout),
		client.WithRetries(1),
		client.WithBearerToken(o.token),
	)
}

func (o *rootOptions) remoteContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.json {
				return printJSON(cmd.OutOrStdout(), map[string]string{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resumeflow %s\n", version)
			return nil
		},
	}
}
