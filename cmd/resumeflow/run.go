package main

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jllopis/resumeflow/pkg/orchestrator"
	"github.com/jllopis/resumeflow/pkg/resume"
	"github.com/jllopis/resumeflow/pkg/telemetry"
)

type runOptions struct {
	resumePath    string
	jobPath       string
	jobURL        string
	profileID     string
	outPath       string
	embeddedTools bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline locally on a resume and a job posting",
		Example: `  resumeflow run --resume cv.txt --job posting.txt
  resumeflow run --resume cv.txt --job-url https://jobs.example.com/123 --out cv.md`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLocal(cmd, root, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.resumePath, "resume", "", "resume text file (- for stdin)")
	f.StringVar(&opts.jobPath, "job", "", "job description text file")
	f.StringVar(&opts.jobURL, "job-url", "", "job posting URL")
	f.StringVar(&opts.profileID, "profile-id", "", "profile collection used for retrieval")
	f.StringVar(&opts.outPath, "out", "", "write the optimized markdown to this file")
	f.BoolVar(&opts.embeddedTools, "embedded-tools", true, "serve the resume tools in process instead of dialing tools.endpoints")
	_ = cmd.MarkFlagRequired("resume")
	return cmd
}

func runLocal(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	if opts.jobPath == "" && opts.jobURL == "" {
		return NewInvalidArgumentError("job", "one of --job or --job-url is required")
	}
	resumeText, err := readInput(cmd.InOrStdin(), opts.resumePath)
	if err != nil {
		return err
	}
	var jobText string
	if opts.jobPath != "" {
		if jobText, err = readInput(cmd.InOrStdin(), opts.jobPath); err != nil {
			return err
		}
	}

	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	logger := telemetry.NewLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	a, err := newPipeline(cmd.Context(), cfg, appOptions{version: version, embeddedTools: opts.embeddedTools, logger: logger})
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	res, err := a.orch.Run(cmd.Context(), orchestrator.Request{
		ResumeText:     resumeText,
		JobURL:         opts.jobURL,
		JobDescription: jobText,
		ProfileID:      opts.profileID,
	})
	if err != nil {
		return err
	}

	markdown, _ := res.Output(resume.KeyResumeContent)["markdown_content"].(string)
	if opts.outPath != "" {
		if err := os.WriteFile(opts.outPath, []byte(markdown), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", opts.outPath, err)
		}
	}
	out := cmd.OutOrStdout()
	if root.json {
		return printJSON(out, res)
	}
	printSummary(out, res)
	if opts.outPath == "" && markdown != "" {
		fmt.Fprintf(out, "\n%s\n", markdown)
	}
	return nil
}

func printSummary(w io.Writer, res *orchestrator.Result) {
	s := res.Summary
	fmt.Fprintf(w, "Run:        %s\n", res.RunID)
	fmt.Fprintf(w, "ATS score:  %.2f\n", s.ATSScore)
	fmt.Fprintf(w, "Quality:    %.2f (%s)\n", s.QualityScore, s.ValidationStatus)
	fmt.Fprintf(w, "Duration:   %s\n", s.Duration)
	if s.JobDegraded {
		fmt.Fprintln(w, "Job:        degraded (posting could not be extracted)")
	}
	if len(res.Failures) > 0 {
		fmt.Fprintf(w, "Failed stages (%d):\n", len(res.Failures))
		for _, stage := range slices.Sorted(maps.Keys(res.Failures)) {
			fmt.Fprintf(w, "  %s: %s\n", stage, res.Failures[stage])
		}
	}
}

func readInput(stdin io.Reader, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", NewInvalidArgumentError(path, "input is empty")
	}
	return text, nil
}
