package resume

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jllopis/resumeflow/pkg/agent"
	"github.com/jllopis/resumeflow/pkg/state"
)

// Validation statuses reported by the quality stages.
const (
	StatusPassed             = "PASSED"
	StatusPassedWithWarnings = "PASSED_WITH_WARNINGS"
	StatusNeedsRevision      = "NEEDS_REVISION"
	StatusFailed             = "FAILED"
)

var (
	emailRE = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRE = regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`)
	// first person pronouns are discouraged in resumes
	pronounRE = regexp.MustCompile(`(?i)\b(i|me|my)\b`)
)

var placeholders = []string{"FIRST NAME", "LAST NAME", "email@example.com", "Company Name", "Your Name", "TODO", "TBD", "Lorem ipsum"}

func markdownContent(snap state.Snapshot) (string, bool) {
	content, ok := usable(snap, KeyResumeContent)
	if !ok {
		return "", false
	}
	md := str(content, "markdown_content")
	return md, strings.TrimSpace(md) != ""
}

// QualityValidator checks completeness, content quality and ATS
// compatibility of the rendered resume, validating its markdown with the
// validate_markdown tool, and writes quality_report.
func QualityValidator(deps Deps) agent.Agent {
	step := newToolStep(deps, StageQualityValidator, ToolValidateMarkdown)
	return agent.MustNew(StageQualityValidator,
		agent.WithReads(KeyResumeContent, KeyJobDescription),
		agent.WithWrites(KeyQualityReport),
		agent.WithRun(func(ctx context.Context, snap state.Snapshot) agent.Result {
			md, ok := markdownContent(snap)
			if !ok {
				return agent.Failed("resume content unavailable")
			}
			validation, outcome := step.run(ctx, map[string]any{"markdown_content": md}, func() map[string]any {
				return ValidateMarkdown(md).Map()
			})
			doc := parseResume(md)

			var present, missingElems []string
			check := func(name string, ok bool) {
				if ok {
					present = append(present, name)
				} else {
					missingElems = append(missingElems, name)
				}
			}
			check("contact_info", emailRE.MatchString(md) || phoneRE.MatchString(md))
			for _, kind := range []string{"summary", "experience", "education", "skills"} {
				_, has := doc.section(kind)
				check(kind, has)
			}
			completeness := percent(len(present), len(present)+len(missingElems))

			var strengths, weaknesses []string
			bullets, quantified := 0, 0
			for _, line := range strings.Split(md, "\n") {
				if strings.HasPrefix(line, "- ") && !strings.HasPrefix(line, "- **") {
					bullets++
					if strings.ContainsAny(line, "0123456789%$") {
						quantified++
					}
				}
			}
			contentScore := 60.0
			if bullets > 0 {
				ratio := float64(quantified) / float64(bullets)
				contentScore = round2(50 + ratio*50)
				if ratio >= 0.5 {
					strengths = append(strengths, "Achievements are quantified")
				} else {
					weaknesses = append(weaknesses, fmt.Sprintf("Only %d of %d achievements carry metrics", quantified, bullets))
				}
			} else {
				weaknesses = append(weaknesses, "Experience has no achievement bullets")
			}
			if pronounRE.MatchString(md) {
				contentScore = clamp(contentScore-10, 0, 100)
				weaknesses = append(weaknesses, "Avoid first person pronouns")
			}

			job := jobText(snap)
			atsScore := 70.0
			if jobSkills := findTerms(job, technicalSkills); len(jobSkills) > 0 {
				atsScore = percent(len(intersectTerms(jobSkills, md)), len(jobSkills))
			}
			valid, _ := validation["is_valid"].(bool)
			mdErrors := stringList(validation["errors"])
			if valid {
				strengths = append(strengths, "Markdown is well formed")
			}

			var critical []string
			for _, p := range placeholders {
				if strings.Contains(md, p) {
					critical = append(critical, "Placeholder text found: "+p)
				}
			}
			if containsFold(missingElems, "contact_info") {
				critical = append(critical, "Missing contact information")
			}
			critical = append(critical, mdErrors...)

			overall := round2(completeness*0.35 + contentScore*0.35 + atsScore*0.30)
			status := StatusPassed
			if overall < 80 || len(critical) > 0 || !valid {
				status = StatusNeedsRevision
			}
			var recs []string
			for _, m := range missingElems {
				recs = append(recs, "Add a "+strings.ReplaceAll(m, "_", " ")+" section")
			}
			recs = append(recs, stringList(validation["warnings"])...)

			report := map[string]any{
				"validation_status":     status,
				"overall_quality_score": overall,
				"completeness_check": map[string]any{
					"score":            completeness,
					"present_elements": nonNil(present),
					"missing_elements": nonNil(missingElems),
				},
				"content_quality": map[string]any{
					"score":      contentScore,
					"strengths":  nonNil(strengths),
					"weaknesses": nonNil(weaknesses),
				},
				"ats_compatibility": map[string]any{
					"score":      atsScore,
					"compatible": atsScore >= 60,
				},
				"markdown_validation":  validation,
				"critical_issues":      nonNil(critical),
				"recommendations":      nonNil(recs),
				"ready_for_submission": status == StatusPassed,
			}
			return agent.OK(state.Delta{KeyQualityReport: annotate(report, ToolValidateMarkdown, outcome)})
		}),
	)
}

// FormattingChecker validates structure and markup of the rendered resume
// and writes formatting_report.
func FormattingChecker() agent.Agent {
	return agent.MustNew(StageFormattingChecker,
		agent.WithReads(KeyResumeContent),
		agent.WithWrites(KeyFormattingReport),
		agent.WithRun(func(_ context.Context, snap state.Snapshot) agent.Result {
			md, ok := markdownContent(snap)
			if !ok {
				return agent.Failed("resume content unavailable")
			}
			syntax := ValidateMarkdown(md)

			var structWarnings, found []string
			doc := parseResume(md)
			for _, want := range []struct{ kind, label string }{
				{"summary", "Summary"},
				{"experience", "Experience"},
				{"skills", "Skills"},
				{"education", "Education"},
			} {
				if _, has := doc.section(want.kind); has {
					found = append(found, want.label)
				} else {
					structWarnings = append(structWarnings, "Missing "+want.label+" section")
				}
			}

			var issues, suggestions []string
			for _, p := range placeholders {
				if strings.Contains(md, p) {
					issues = append(issues, "Placeholder text found: "+p)
				}
			}
			switch words := len(strings.Fields(md)); {
			case words < 200:
				suggestions = append(suggestions, "Resume content seems short - consider adding more details")
			case words > 1000:
				suggestions = append(suggestions, "Resume content is long - consider condensing")
			}
			suggestions = append(suggestions, syntax.Suggestions...)

			status := StatusPassed
			switch {
			case !syntax.IsValid:
				status = StatusFailed
			case len(syntax.Warnings) > 0 || len(structWarnings) > 0 || len(issues) > 0:
				status = StatusPassedWithWarnings
			}
			return agent.OK(state.Delta{KeyFormattingReport: map[string]any{
				"validation_status": status,
				"markdown_check": map[string]any{
					"passed":   syntax.IsValid,
					"errors":   nonNil(syntax.Errors),
					"warnings": nonNil(syntax.Warnings),
				},
				"structure_check": map[string]any{
					"passed":         len(structWarnings) == 0,
					"warnings":       nonNil(structWarnings),
					"sections_found": nonNil(found),
				},
				"content_check": map[string]any{
					"issues":      nonNil(issues),
					"suggestions": nonNil(suggestions),
				},
			}})
		}),
	)
}
