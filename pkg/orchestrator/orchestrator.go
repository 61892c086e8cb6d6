// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator runs the resume optimization pipeline end to end:
// job extraction, state seeding, the composition engine and the collection
// of the documented outputs. It also exposes the pipeline as named skills
// for the task server.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/resumeflow/pkg/compose"
	"github.com/jllopis/resumeflow/pkg/errors"
	"github.com/jllopis/resumeflow/pkg/mcp"
	"github.com/jllopis/resumeflow/pkg/memory"
	"github.com/jllopis/resumeflow/pkg/resume"
	"github.com/jllopis/resumeflow/pkg/state"
	"github.com/jllopis/resumeflow/pkg/telemetry"
)

// Request is the input of one pipeline run. Either JobURL or
// JobDescription must be set; JobDescription wins when both are.
type Request struct {
	ResumeText     string `json:"resume_text"`
	JobURL         string `json:"job_url,omitempty"`
	JobDescription string `json:"job_description,omitempty"`
	ProfileID      string `json:"profile_id,omitempty"`
}

// Summary holds the scalar metrics of a run.
type Summary struct {
	ATSScore         float64       `json:"ats_score"`
	QualityScore     float64       `json:"quality_score"`
	ValidationStatus string        `json:"validation_status"`
	FailedStages     int           `json:"failed_stages"`
	JobDegraded      bool          `json:"job_degraded"`
	Duration         time.Duration `json:"duration"`
}

// Result is the frozen outcome of a run.
type Result struct {
	RunID   string         `json:"run_id"`
	Outputs map[string]any `json:"outputs"`
	// Failures maps each failed stage to its reason.
	Failures map[string]string `json:"failures,omitempty"`
	Summary  Summary           `json:"summary"`
}

// Output returns the documented output key as a map, or nil when it is
// absent or a failure marker.
func (r *Result) Output(key string) map[string]any {
	m, _ := r.Outputs[key].(map[string]any)
	return m
}

// Orchestrator owns the engine and the collaborators of the pipeline.
type Orchestrator struct {
	engine      *compose.Engine
	extractor   *resume.JobExtractor
	tools       mcp.ToolCaller
	endpoint    string
	profiles    *memory.ProfileIndex
	indexResume bool
	audit       compose.AuditStore
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	tracer      trace.Tracer

	retrievalLimit    int
	retrievalMinScore float32
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTools sets the tool caller and the endpoint the tool-backed stages use.
func WithTools(caller mcp.ToolCaller, endpoint string) Option {
	return func(o *Orchestrator) {
		o.tools = caller
		if endpoint != "" {
			o.endpoint = endpoint
		}
	}
}

// WithProfiles sets the profile index used by the retriever.
func WithProfiles(index *memory.ProfileIndex) Option {
	return func(o *Orchestrator) { o.profiles = index }
}

// WithRetrieval overrides the retrieval limit and minimum score.
func WithRetrieval(limit int, minScore float32) Option {
	return func(o *Orchestrator) {
		o.retrievalLimit = limit
		o.retrievalMinScore = minScore
	}
}

// WithIndexResume indexes the submitted resume under its profile before the
// tree runs, so the retriever has something to search.
func WithIndexResume(enabled bool) Option {
	return func(o *Orchestrator) { o.indexResume = enabled }
}

// WithExtractor replaces the job extractor.
func WithExtractor(ex *resume.JobExtractor) Option {
	return func(o *Orchestrator) {
		if ex != nil {
			o.extractor = ex
		}
	}
}

// WithAuditStore records every stage event.
func WithAuditStore(store compose.AuditStore) Option {
	return func(o *Orchestrator) { o.audit = store }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New builds the pipeline tree and its engine.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		endpoint:          resume.DefaultToolEndpoint,
		logger:            slog.Default(),
		tracer:            otel.Tracer("resumeflow/orchestrator"),
		retrievalLimit:    resume.DefaultRetrievalLimit,
		retrievalMinScore: resume.DefaultRetrievalMinScore,
	}
	for _, opt := range opts {
		opt(o)
	}
	// The engine tags its own component.
	base := o.logger
	o.logger = telemetry.Component(base, "orchestrator")
	if o.extractor == nil {
		o.extractor = resume.NewJobExtractor(resume.WithExtractorLogger(o.logger))
	}

	deps := resume.Deps{
		Tools:             o.tools,
		Endpoint:          o.endpoint,
		Profiles:          o.profiles,
		Logger:            o.logger,
		RetrievalLimit:    o.retrievalLimit,
		RetrievalMinScore: o.retrievalMinScore,
	}
	engineOpts := []compose.Option{compose.WithLogger(base), compose.WithMetrics(o.metrics)}
	if o.audit != nil {
		engineOpts = append(engineOpts, compose.WithAuditStore(o.audit))
	}
	engine, err := compose.NewEngine(resume.Pipeline(deps), engineOpts...)
	if err != nil {
		return nil, errors.New(errors.CodeOrchestration, "build pipeline", err)
	}
	o.engine = engine
	return o, nil
}

// Engine returns the composition engine.
func (o *Orchestrator) Engine() *compose.Engine { return o.engine }

// Describe returns the pipeline topology.
func (o *Orchestrator) Describe() compose.Description { return o.engine.Describe() }

// Run executes one optimization. Stage failures are reported in
// Result.Failures; an error is returned only for invalid input or when the
// run itself fails.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.ResumeText) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "resume text is required", nil).
			WithContext("missing", []string{"resume_text"})
	}
	if strings.TrimSpace(req.JobURL) == "" && strings.TrimSpace(req.JobDescription) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "job_url or job_description is required", nil).
			WithContext("missing", []string{"job_url", "job_description"})
	}
	if req.ProfileID == "" {
		req.ProfileID = defaultProfileID
	}

	runID := compose.RunIDFrom(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = compose.WithRunID(ctx, runID)
	}
	ctx, span := o.tracer.Start(ctx, "Orchestrator.Run",
		trace.WithAttributes(
			attribute.String(telemetry.AttrRunID, runID),
			attribute.String("resumeflow.profile.id", req.ProfileID),
		),
	)
	defer span.End()

	started := time.Now()
	job := o.extract(ctx, resume.JobSource{URL: req.JobURL, Text: req.JobDescription})
	o.index(ctx, req)

	st := state.New()
	seed := map[string]any{
		resume.KeyResumeText:         req.ResumeText,
		resume.KeyJobDescriptionText: req.JobDescription,
		resume.KeyProfileID:          req.ProfileID,
		resume.KeyJobURL:             req.JobURL,
		resume.KeyJobDescription:     job,
	}
	for k, v := range seed {
		if err := st.Set(k, v); err != nil {
			return nil, errors.New(errors.CodeOrchestration, "seed state", err).WithContext("key", k)
		}
	}

	if err := o.engine.Run(ctx, st); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.RecordError(ctx, err, "orchestrator")
		if errors.HasCode(err, errors.CodeOrchestration) || errors.HasCode(err, errors.CodeContextLost) {
			return nil, err
		}
		return nil, errors.New(errors.CodeOrchestration, "pipeline run failed", err).WithContext("run_id", runID)
	}

	snap := st.Freeze()
	res := collect(runID, snap)
	res.Summary.Duration = time.Since(started)
	res.Summary.JobDegraded, _ = job["degraded"].(bool)

	o.metrics.RecordPipeline(ctx, SkillOptimizeResume, res.Summary.Duration, res.Summary.FailedStages)
	o.metrics.RecordScore(ctx, "ats", res.Summary.ATSScore)
	o.metrics.RecordScore(ctx, "quality", res.Summary.QualityScore)
	span.SetAttributes(
		attribute.Float64("resumeflow.score.ats", res.Summary.ATSScore),
		attribute.Int("resumeflow.stage.failed", res.Summary.FailedStages),
	)
	o.logger.InfoContext(ctx, "pipeline finished",
		"run_id", runID,
		"ats_score", res.Summary.ATSScore,
		"quality_score", res.Summary.QualityScore,
		"validation_status", res.Summary.ValidationStatus,
		"failed_stages", res.Summary.FailedStages,
		"job_degraded", res.Summary.JobDegraded,
		"duration_ms", res.Summary.Duration.Milliseconds(),
	)
	return res, nil
}

// extract never fails: a posting that cannot be fetched becomes a degraded
// placeholder so the tree still runs.
func (o *Orchestrator) extract(ctx context.Context, src resume.JobSource) map[string]any {
	job, err := o.extractor.Extract(ctx, src)
	if err == nil {
		return job
	}
	o.metrics.RecordError(ctx, err, "extractor")
	o.logger.WarnContext(ctx, "job extraction failed, using placeholder",
		"job_url", src.URL,
		"error", err,
	)
	return resume.DegradedJob(src, err)
}

func (o *Orchestrator) index(ctx context.Context, req Request) {
	if !o.indexResume || o.profiles == nil {
		return
	}
	n, err := o.profiles.Index(ctx, req.ProfileID, req.ResumeText, map[string]any{"source": "resume"})
	if err != nil {
		o.logger.WarnContext(ctx, "resume indexing failed", "profile_id", req.ProfileID, "error", err)
		return
	}
	o.logger.DebugContext(ctx, "resume indexed", "profile_id", req.ProfileID, "chunks", n)
}

func collect(runID string, snap state.Snapshot) *Result {
	res := &Result{RunID: runID, Outputs: make(map[string]any, len(resume.OutputKeys))}
	for _, key := range resume.OutputKeys {
		if v, ok := snap.Lookup(key); ok {
			res.Outputs[key] = v
		}
	}
	if failures := snap.Failures(); len(failures) > 0 {
		res.Failures = make(map[string]string, len(failures))
		for _, f := range failures {
			res.Failures[f.Stage] = f.Reason
		}
	}
	res.Summary.FailedStages = len(res.Failures)

	if ats := res.Output(resume.KeyATSAnalysis); ats != nil {
		if score, ok := ats["ats_score"].(map[string]any); ok {
			res.Summary.ATSScore, _ = score["overall_score"].(float64)
		}
	}
	if q := res.Output(resume.KeyQualityReport); q != nil {
		res.Summary.QualityScore, _ = q["overall_quality_score"].(float64)
		res.Summary.ValidationStatus, _ = q["validation_status"].(string)
	}
	if res.Summary.ValidationStatus == "" {
		res.Summary.ValidationStatus = resume.StatusFailed
	}
	return res
}
