package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/resumeflow/pkg/a2a/server"
)

func newTasksCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Create and inspect tasks on a running server",
	}
	cmd.AddCommand(
		newTasksCreateCmd(root),
		newTasksGetCmd(root),
		newTasksListCmd(root),
		newTasksCancelCmd(root),
	)
	return cmd
}

func newTasksCreateCmd(root *rootOptions) *cobra.Command {
	var (
		input     string
		inputFile string
		wait      bool
	)
	cmd := &cobra.Command{
		Use:   "create <skill>",
		Short: "Submit a task for asynchronous execution",
		Example: `  resumeflow tasks create calculate-ats-score --input '{"resume_text":"...","job_description":"..."}'
  resumeflow tasks create optimize-resume --input-file request.json --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := taskInput(cmd.InOrStdin(), input, inputFile)
			if err != nil {
				return err
			}
			ctx, cancel := root.remoteContext(cmd)
			defer cancel()
			task, err := root.client().CreateTask(ctx, args[0], payload)
			if err != nil {
				return err
			}
			if wait {
				if task, err = waitTask(cmd.Context(), root, task.ID); err != nil {
					return err
				}
			}
			return printTask(cmd.OutOrStdout(), root.json, task)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "task input as a JSON object")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "file holding the task input (- for stdin)")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the task reaches a terminal state")
	return cmd
}

func newTasksGetCmd(root *rootOptions) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				task *server.Task
				err  error
			)
			if wait {
				task, err = waitTask(cmd.Context(), root, args[0])
			} else {
				ctx, cancel := root.remoteContext(cmd)
				defer cancel()
				task, err = root.client().GetTask(ctx, args[0])
			}
			if err != nil {
				return err
			}
			return printTask(cmd.OutOrStdout(), root.json, task)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the task reaches a terminal state")
	return cmd
}

func newTasksListCmd(root *rootOptions) *cobra.Command {
	var params server.ListTasksParams
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := root.remoteContext(cmd)
			defer cancel()
			res, err := root.client().ListTasks(ctx, params)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if root.json {
				return printJSON(out, res)
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TASK ID\tSKILL\tSTATUS\tCREATED")
			for _, t := range res.Tasks {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.SkillID, t.Status, t.CreatedAt.Format(time.RFC3339))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d of %d tasks (offset %d)\n", len(res.Tasks), res.Total, res.Offset)
			return nil
		},
	}
	cmd.Flags().StringVar(&params.Status, "status", "", "filter by status (pending, in_progress, completed, failed, cancelled)")
	cmd.Flags().IntVar(&params.Limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&params.Offset, "offset", 0, "page offset")
	return cmd
}

func newTasksCancelCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a pending or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := root.remoteContext(cmd)
			defer cancel()
			task, err := root.client().CancelTask(ctx, args[0])
			if err != nil {
				return err
			}
			return printTask(cmd.OutOrStdout(), root.json, task)
		},
	}
}

func newSkillsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "skills",
		Short: "List the skills a server advertises",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := root.remoteContext(cmd)
			defer cancel()
			res, err := root.client().ListSkills(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if root.json {
				return printJSON(out, res)
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tREQUIRED\tDESCRIPTION")
			for _, s := range res.Skills {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, strings.Join(s.Required(), ","), s.Description)
			}
			return tw.Flush()
		},
	}
}

func newInfoCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show agent identity and pipeline structure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := root.remoteContext(cmd)
			defer cancel()
			res, err := root.client().AgentInfo(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func taskInput(stdin io.Reader, inline, path string) (map[string]any, error) {
	raw := []byte(inline)
	if path != "" {
		var err error
		if path == "-" {
			raw, err = io.ReadAll(stdin)
		} else {
			raw, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	input := map[string]any{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return input, nil
	}
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, NewInvalidArgumentError("--input", "must be a JSON object: "+err.Error())
	}
	return input, nil
}

// waitTask polls until the task is terminal. The poll interval grows up to
// two seconds.
func waitTask(ctx context.Context, root *rootOptions, taskID string) (*server.Task, error) {
	c := root.client()
	interval := 100 * time.Millisecond
	for {
		task, err := c.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if task.Status.IsTerminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		interval = min(interval*2, 2*time.Second)
	}
}

func printTask(w io.Writer, asJSON bool, t *server.Task) error {
	if asJSON {
		return printJSON(w, t)
	}
	fmt.Fprintf(w, "Task:     %s\n", t.ID)
	fmt.Fprintf(w, "Skill:    %s\n", t.SkillID)
	fmt.Fprintf(w, "Status:   %s\n", t.Status)
	fmt.Fprintf(w, "Created:  %s\n", t.CreatedAt.Format(time.RFC3339))
	if t.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", t.Error)
	}
	if len(t.Output) > 0 {
		fmt.Fprintln(w, "Output:")
		return printJSON(w, t.Output)
	}
	return nil
}
