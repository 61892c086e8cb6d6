package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jllopis/resumeflow/pkg/a2a/agentcard"
	"github.com/jllopis/resumeflow/pkg/errors"
	"github.com/jllopis/resumeflow/pkg/mcp"
	"github.com/jllopis/resumeflow/pkg/resilience"
	"github.com/jllopis/resumeflow/pkg/resume"
)

// Skill identifiers advertised in the agent card.
const (
	SkillOptimizeResume  = "optimize-resume"
	SkillExtractJob      = "extract-job-description"
	SkillCalculateATS    = "calculate-ats-score"
	AgentID              = "resume-optimizer-agent"
	DefaultOutputFormat  = "markdown"
	defaultProfileID     = "default"
	maxSkillKeywordCount = 20
)

// SkillIDs lists the skills Execute accepts.
var SkillIDs = []string{SkillOptimizeResume, SkillExtractJob, SkillCalculateATS}

// Execute runs one skill with a decoded input object. Unknown skills return
// a SkillNotFound error; missing fields return InvalidInput with the list of
// missing names in the error context.
func (o *Orchestrator) Execute(ctx context.Context, skillID string, input map[string]any) (map[string]any, error) {
	switch skillID {
	case SkillOptimizeResume:
		return o.optimizeResume(ctx, input)
	case SkillExtractJob:
		return o.extractJob(ctx, input)
	case SkillCalculateATS:
		return o.calculateATS(ctx, input)
	default:
		return nil, errors.New(errors.CodeSkillNotFound, fmt.Sprintf("unknown skill %q", skillID), nil).
			WithContext("valid_skills", SkillIDs)
	}
}

func (o *Orchestrator) optimizeResume(ctx context.Context, input map[string]any) (map[string]any, error) {
	req := Request{
		ResumeText:     field(input, "resume_content", "resume_text", "raw_text"),
		JobDescription: field(input, "job_description", "job_text"),
		JobURL:         field(input, "job_url"),
		ProfileID:      field(input, "profile_id"),
	}
	var missing []string
	if strings.TrimSpace(req.ResumeText) == "" {
		missing = append(missing, "resume_content")
	}
	if strings.TrimSpace(req.JobDescription) == "" && strings.TrimSpace(req.JobURL) == "" {
		missing = append(missing, "job_description")
	}
	if len(missing) > 0 {
		return nil, missingFields(missing)
	}
	if format := field(input, "output_format"); format != "" && format != DefaultOutputFormat {
		return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("unsupported output_format %q", format), nil).
			WithContext("supported", []string{DefaultOutputFormat})
	}

	res, err := o.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return optimizeOutput(res), nil
}

func optimizeOutput(res *Result) map[string]any {
	content := res.Output(resume.KeyResumeContent)
	ats := res.Output(resume.KeyATSAnalysis)
	kw := res.Output(resume.KeyKeywordEnhancements)
	quality := res.Output(resume.KeyQualityReport)

	optimized, _ := content["markdown_content"].(string)
	categories, _ := kw["keyword_categories"].(map[string]any)

	recommendations := append(strs(ats["ats_recommendations"]), strs(quality["recommendations"])...)
	failed := res.Failures
	if failed == nil {
		failed = map[string]string{}
	}
	return map[string]any{
		"run_id":            res.RunID,
		"optimized_resume":  optimized,
		"output_format":     DefaultOutputFormat,
		"ats_score":         res.Summary.ATSScore,
		"quality_score":     res.Summary.QualityScore,
		"validation_status": res.Summary.ValidationStatus,
		"keyword_analysis": map[string]any{
			"matched":          strs(ats["matched_keywords"]),
			"missing":          strs(ats["missing_keywords"]),
			"technical_skills": strs(categories["technical"]),
			"soft_skills":      strs(categories["soft"]),
		},
		"recommendations": dedupeStrings(recommendations),
		"changes_made":    changesMade(res),
		"failed_stages":   failed,
		"degraded":        isDegraded(res),
		"duration_ms":     res.Summary.Duration.Milliseconds(),
	}
}

// changesMade describes what the run altered, derived from aligned_data and
// the formatted output.
func changesMade(res *Result) []string {
	out := []string{}
	aligned := res.Output(resume.KeyAlignedData)
	if order := strs(aligned["section_order"]); len(order) > 0 {
		out = append(out, "Reordered sections: "+strings.Join(order, ", "))
	}
	if skills, ok := aligned["aligned_skills"].(map[string]any); ok {
		if p1 := strs(skills["priority_1_skills"]); len(p1) > 0 {
			out = append(out, "Prioritized skills matching the posting: "+strings.Join(p1, ", "))
		}
	}
	if exp, ok := aligned["aligned_experience"].([]any); ok && len(exp) > 0 {
		out = append(out, fmt.Sprintf("Reframed %d experience entries around relevant highlights", len(exp)))
	} else if exp, ok := aligned["aligned_experience"].([]map[string]any); ok && len(exp) > 0 {
		out = append(out, fmt.Sprintf("Reframed %d experience entries around relevant highlights", len(exp)))
	}
	if kw := res.Output(resume.KeyKeywordEnhancements); kw != nil {
		if plan := planLen(kw["enhancement_plan"]); plan > 0 {
			out = append(out, fmt.Sprintf("Planned placement for %d keywords", plan))
		}
	}
	if content := res.Output(resume.KeyResumeContent); content != nil {
		out = append(out, "Formatted as ATS-friendly markdown")
	}
	return out
}

func planLen(v any) int {
	switch plan := v.(type) {
	case []any:
		return len(plan)
	case []map[string]any:
		return len(plan)
	}
	return 0
}

func isDegraded(res *Result) bool {
	if res.Summary.JobDegraded || res.Summary.FailedStages > 0 {
		return true
	}
	for _, key := range []string{resume.KeyATSAnalysis, resume.KeyKeywordEnhancements, resume.KeyQualityReport} {
		if d, _ := res.Output(key)["degraded"].(bool); d {
			return true
		}
	}
	return false
}

var (
	yearsRE    = regexp.MustCompile(`(?i)(\d{1,2})\s*\+?\s*(?:years|yrs)`)
	locationRE = regexp.MustCompile(`(?im)^\s*location\s*:\s*(.+)$`)
	remoteRE   = regexp.MustCompile(`(?i)\b(remote|hybrid|on-?site)\b`)
)

func (o *Orchestrator) extractJob(ctx context.Context, input map[string]any) (map[string]any, error) {
	src := resume.JobSource{
		URL:  field(input, "job_url"),
		Text: field(input, "job_text", "job_description", "raw_text"),
	}
	if strings.TrimSpace(src.URL) == "" && strings.TrimSpace(src.Text) == "" {
		return nil, missingFields([]string{"job_url", "job_text"})
	}
	job, err := o.extractor.Extract(ctx, src)
	if err != nil {
		if errors.HasCode(err, errors.CodeInvalidInput) {
			return nil, err
		}
		o.logger.WarnContext(ctx, "job extraction failed, using placeholder", "job_url", src.URL, "error", err)
		job = resume.DegradedJob(src, err)
	}
	raw, _ := job["raw_text"].(string)
	if raw == "" {
		raw = src.Text
	}
	out := map[string]any{
		"job_title":        job["job_title"],
		"company":          job["company"],
		"location":         location(raw),
		"required_skills":  strs(job["required_skills"]),
		"preferred_skills": strs(job["preferred_skills"]),
		"keywords":         strs(job["keywords"]),
		"experience_level": experienceLevel(raw),
		"full_description": raw,
		"source":           job["source"],
		"degraded":         job["degraded"],
	}
	if msg, ok := job["error"]; ok {
		out["error"] = msg
	}
	return out, nil
}

func location(text string) string {
	if m := locationRE.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := remoteRE.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1][:1]) + strings.ToLower(m[1][1:])
	}
	return "Not specified"
}

func experienceLevel(text string) string {
	if m := yearsRE.FindStringSubmatch(text); m != nil {
		return m[1] + "+ years"
	}
	lower := strings.ToLower(text)
	for _, level := range []string{"principal", "staff", "senior", "junior", "entry"} {
		if strings.Contains(lower, level) {
			return level
		}
	}
	return "Not specified"
}

func (o *Orchestrator) calculateATS(ctx context.Context, input map[string]any) (map[string]any, error) {
	resumeText := field(input, "resume_text", "resume_content")
	job := field(input, "job_description", "job_text")
	var missing []string
	if strings.TrimSpace(resumeText) == "" {
		missing = append(missing, "resume_text")
	}
	if strings.TrimSpace(job) == "" {
		missing = append(missing, "job_description")
	}
	if len(missing) > 0 {
		return nil, missingFields(missing)
	}

	score, outcome, _ := resilience.WithFallback(ctx, func(ctx context.Context) (map[string]any, error) {
		return o.scoreWithTool(ctx, resumeText, job)
	}, func(context.Context, error) (map[string]any, error) {
		return resume.ScoreATS(resumeText, job).Map(), nil
	})
	if outcome.Degraded {
		o.logger.WarnContext(ctx, "scoring tool unavailable, using local scorer", "error", outcome.PrimaryErr)
	}

	total, _ := score["overall_score"].(float64)
	grade, _ := score["grade"].(string)
	if grade == "" {
		grade = resume.Grade(total)
	}
	out := map[string]any{
		"total_score":      total,
		"keyword_score":    score["keyword_score"],
		"skills_score":     score["skills_score"],
		"experience_score": score["experience_score"],
		"format_score":     score["format_score"],
		"grade":            grade,
		"missing_keywords": strs(score["missing_keywords"]),
		"matched_skills":   matchedSkills(resumeText, job),
		"recommendations":  strs(score["recommendations"]),
		"degraded":         outcome.Degraded,
		"source":           "tool:" + resume.ToolCalculateATSScore,
	}
	if outcome.Degraded {
		out["source"] = "local"
		if outcome.PrimaryErr != nil {
			out["tool_error"] = outcome.PrimaryErr.Error()
		}
	}
	o.metrics.RecordScore(ctx, "ats", total)
	return out, nil
}

func (o *Orchestrator) scoreWithTool(ctx context.Context, resumeText, job string) (map[string]any, error) {
	if o.tools == nil {
		return nil, errors.New(errors.CodeToolFailure, "tool endpoint not configured", nil)
	}
	b, err := mcp.Bind(o.tools, o.endpoint, resume.ToolCalculateATSScore)
	if err != nil {
		return nil, errors.New(errors.CodeToolFailure, "bind scoring tool", err)
	}
	res, err := b.Call(ctx, map[string]any{"resume_text": resumeText, "job_description": job})
	if err != nil {
		return nil, err
	}
	obj, ok := res.Decoded.Object()
	if !ok {
		return nil, errors.New(errors.CodeToolFailure, "scoring tool returned unstructured output", nil)
	}
	return obj, nil
}

func matchedSkills(resumeText, job string) []string {
	have := map[string]bool{}
	for _, s := range resume.ExtractKeywords(resumeText).TechnicalSkills {
		have[s] = true
	}
	out := []string{}
	for _, s := range resume.ExtractKeywords(job).TechnicalSkills {
		if have[s] {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	if len(out) > maxSkillKeywordCount {
		out = out[:maxSkillKeywordCount]
	}
	return out
}

func missingFields(names []string) error {
	return errors.New(errors.CodeInvalidInput, "missing required fields: "+strings.Join(names, ", "), nil).
		WithContext("missing", names)
}

// inputAliases lists, per skill, the accepted alternative names of each
// canonical input field in lookup order.
var inputAliases = map[string]map[string][]string{
	SkillOptimizeResume: {
		"resume_content":  {"resume_text", "raw_text"},
		"job_description": {"job_text"},
	},
	SkillExtractJob: {
		"job_text": {"job_description", "raw_text"},
	},
	SkillCalculateATS: {
		"resume_text":     {"resume_content"},
		"job_description": {"job_text"},
	},
}

// NormalizeInput returns a copy of input where every empty canonical field
// is filled from its first non-empty alias. input itself is not modified.
func (o *Orchestrator) NormalizeInput(skillID string, input map[string]any) map[string]any {
	aliases, ok := inputAliases[skillID]
	if !ok {
		return input
	}
	out := make(map[string]any, len(input)+len(aliases))
	for k, v := range input {
		out[k] = v
	}
	for canonical, names := range aliases {
		if field(out, canonical) != "" {
			continue
		}
		if v := field(out, names...); v != "" {
			out[canonical] = v
		}
	}
	return out
}

func field(input map[string]any, names ...string) string {
	for _, name := range names {
		if v, ok := input[name].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func strs(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Card returns the agent card advertising the three skills.
func Card(url, version string) *agentcard.AgentCard {
	if version == "" {
		version = "1.0.0"
	}
	return &agentcard.AgentCard{
		ProtocolVersion:     agentcard.ProtocolVersion,
		ID:                  AgentID,
		Name:                "Resume Optimizer Agent",
		Description:         "Optimizes resumes for a target job posting: retrieves profile evidence, aligns content, scores ATS compatibility and validates the formatted result.",
		Version:             version,
		URL:                 url,
		PreferredTransport:  "jsonrpc",
		SupportedTransports: []string{"jsonrpc", "http"},
		Capabilities:        agentcard.Capabilities{Streaming: true},
		SecuritySchemes: map[string]agentcard.SecurityScheme{
			"bearerAuth": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
		},
		DefaultInputModes:  []string{"application/json", "text/plain"},
		DefaultOutputModes: []string{"application/json", "text/markdown"},
		Skills:             skills(),
		Provider:           &agentcard.Provider{Organization: "resumeflow"},
		License:            "Apache-2.0",
		Tags:               []string{"resume", "ats", "career", "job-matching"},
		Endpoints: map[string]string{
			"message": "/v1/message:send",
			"tasks":   "/v1/tasks",
			"health":  "/health",
		},
	}
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func num(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func list(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}

func object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func skills() []agentcard.Skill {
	return []agentcard.Skill{
		{
			ID:          SkillOptimizeResume,
			Name:        "Optimize Resume",
			Description: "Runs the full pipeline and returns an ATS-optimized markdown resume with scores and recommendations.",
			Tags:        []string{"resume", "optimization", "ats"},
			InputModes:  []string{"application/json"},
			OutputModes: []string{"application/json"},
			InputSchema: object(map[string]any{
				"resume_content":  str("Current resume as plain text or markdown"),
				"job_description": str("Target job posting text; required unless job_url is set"),
				"job_url":         str("URL of the job posting, used when job_description is empty"),
				"profile_id":      str("Profile whose indexed documents back the retrieval step"),
				"output_format":   map[string]any{"type": "string", "enum": []string{DefaultOutputFormat}, "default": DefaultOutputFormat},
			}, "resume_content"),
			OutputSchema: object(map[string]any{
				"optimized_resume":  str("Optimized resume in markdown"),
				"ats_score":         num("Overall ATS score, 0-100"),
				"quality_score":     num("Overall quality score, 0-100"),
				"validation_status": str("PASSED, PASSED_WITH_WARNINGS, NEEDS_REVISION or FAILED"),
				"keyword_analysis":  map[string]any{"type": "object"},
				"recommendations":   list("Suggested follow-up edits"),
				"changes_made":      list("Changes applied by the pipeline"),
				"failed_stages":     map[string]any{"type": "object", "description": "Failed stage name to reason"},
			}),
			Examples: []map[string]any{{
				"input": map[string]any{
					"resume_content":  "Jane Doe\nSUMMARY\nBackend engineer...",
					"job_description": "Senior Backend Engineer. Go, Kubernetes, PostgreSQL...",
				},
				"output": map[string]any{"ats_score": 82.5, "quality_score": 88.0, "validation_status": "PASSED"},
			}},
		},
		{
			ID:          SkillExtractJob,
			Name:        "Extract Job Description",
			Description: "Fetches or parses a job posting into structured fields.",
			Tags:        []string{"job", "extraction", "parsing"},
			InputModes:  []string{"application/json"},
			OutputModes: []string{"application/json"},
			InputSchema: object(map[string]any{
				"job_url":  str("URL of the job posting"),
				"job_text": str("Job posting text"),
			}),
			OutputSchema: object(map[string]any{
				"job_title":        str("Job title"),
				"company":          str("Hiring company"),
				"location":         str("Location or work mode"),
				"required_skills":  list("Required skills"),
				"preferred_skills": list("Nice-to-have skills"),
				"keywords":         list("Most frequent significant terms"),
				"experience_level": str("Experience level"),
				"full_description": str("Full posting text"),
			}),
			Examples: []map[string]any{{
				"input":  map[string]any{"job_url": "https://jobs.example.com/backend-engineer"},
				"output": map[string]any{"job_title": "Senior Backend Engineer", "required_skills": []string{"Go", "Kubernetes"}},
			}},
		},
		{
			ID:          SkillCalculateATS,
			Name:        "Calculate ATS Score",
			Description: "Scores a resume against a job description the way applicant tracking systems do.",
			Tags:        []string{"ats", "scoring", "analysis"},
			InputModes:  []string{"application/json"},
			OutputModes: []string{"application/json"},
			InputSchema: object(map[string]any{
				"resume_text":     str("Resume text"),
				"job_description": str("Job posting text"),
			}, "resume_text", "job_description"),
			OutputSchema: object(map[string]any{
				"total_score":      num("Weighted overall score, 0-100"),
				"keyword_score":    num("Keyword overlap score"),
				"skills_score":     num("Technical skills coverage"),
				"experience_score": num("Experience similarity"),
				"format_score":     num("Structure and length score"),
				"missing_keywords": list("Posting keywords absent from the resume"),
				"matched_skills":   list("Technical skills present in both"),
			}),
			Examples: []map[string]any{{
				"input":  map[string]any{"resume_text": "Go developer with Kubernetes experience", "job_description": "Looking for Go and Kubernetes"},
				"output": map[string]any{"total_score": 71.4, "matched_skills": []string{"Go", "Kubernetes"}},
			}},
		},
	}
}
