package resume

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jllopis/resumeflow/pkg/agent"
	"github.com/jllopis/resumeflow/pkg/state"
)

// ATSOptimizer scores the resume with the calculate_ats_score tool and
// writes ats_analysis together with optimizations drawn from aligned_data.
func ATSOptimizer(deps Deps) agent.Agent {
	step := newToolStep(deps, StageATSOptimizer, ToolCalculateATSScore)
	return agent.MustNew(StageATSOptimizer,
		agent.WithReads(KeyAlignedData, KeyJobDescription, KeyResumeText),
		agent.WithWrites(KeyATSAnalysis),
		agent.WithRun(func(ctx context.Context, snap state.Snapshot) agent.Result {
			resume := snap.String(KeyResumeText)
			job := jobText(snap)
			if strings.TrimSpace(resume) == "" || strings.TrimSpace(job) == "" {
				return agent.Failed("resume or job description text is empty")
			}
			score, outcome := step.run(ctx, map[string]any{
				"resume_text":     resume,
				"job_description": job,
			}, func() map[string]any {
				return ScoreATS(resume, job).Map()
			})

			overall := number(score["overall_score"])
			grade, _ := score["grade"].(string)
			if grade == "" {
				grade = Grade(overall)
			}
			analysis := map[string]any{
				"ats_score": map[string]any{
					"overall_score":    overall,
					"keyword_score":    number(score["keyword_score"]),
					"skills_score":     number(score["skills_score"]),
					"experience_score": number(score["experience_score"]),
					"format_score":     number(score["format_score"]),
					"grade":            grade,
				},
				"matched_keywords":            nonNil(stringList(score["matched_keywords"])),
				"missing_keywords":            nonNil(stringList(score["missing_keywords"])),
				"ats_recommendations":         nonNil(stringList(score["recommendations"])),
				"optimizations":               optimizations(snap, stringList(score["missing_keywords"])),
				"score_improvement_potential": round2((100 - overall) * 0.6),
			}
			return agent.OK(state.Delta{KeyATSAnalysis: annotate(analysis, ToolCalculateATSScore, outcome)})
		}),
	)
}

func optimizations(snap state.Snapshot, missing []string) []map[string]any {
	out := make([]map[string]any, 0)
	if aligned, ok := usable(snap, KeyAlignedData); ok {
		placement, _ := aligned["keyword_placement_strategy"].(map[string]any)
		if summary := stringList(placement["summary"]); len(summary) > 0 {
			out = append(out, map[string]any{
				"section": "summary",
				"action":  "Lead the summary with " + joinList(summary),
				"impact":  "high",
			})
		}
	}
	for _, kw := range limit(missing, 5) {
		out = append(out, map[string]any{
			"section": "experience",
			"action":  fmt.Sprintf("Work %q into a relevant achievement", kw),
			"impact":  "medium",
		})
	}
	return out
}

// KeywordEnhancer extracts the posting's keywords with the extract_keywords
// tool, checks which ones the resume already carries and writes
// keyword_enhancements.
func KeywordEnhancer(deps Deps) agent.Agent {
	step := newToolStep(deps, StageKeywordEnhancer, ToolExtractKeywords)
	return agent.MustNew(StageKeywordEnhancer,
		agent.WithReads(KeyJobDescription, KeyResumeText),
		agent.WithWrites(KeyKeywordEnhancements),
		agent.WithRun(func(ctx context.Context, snap state.Snapshot) agent.Result {
			job := jobText(snap)
			if strings.TrimSpace(job) == "" {
				return agent.Failed("job description text is empty")
			}
			resume := snap.String(KeyResumeText)
			kw, outcome := step.run(ctx, map[string]any{"text": job}, func() map[string]any {
				return ExtractKeywords(job).Map()
			})

			technical := stringList(kw["technical_skills"])
			soft := stringList(kw["soft_skills"])
			verbs := stringList(kw["action_verbs"])
			all := dedupe(append(append(append([]string(nil), technical...), soft...), densityTerms(kw["keyword_density"])...))

			var present, missing []string
			for _, k := range all {
				if containsTerm(resume, k) {
					present = append(present, k)
				} else {
					missing = append(missing, k)
				}
			}
			plan := make([]map[string]any, 0, len(missing))
			for i, k := range missing {
				priority, placement := "medium", "experience"
				switch {
				case containsFold(technical, k):
					priority, placement = "high", "skills"
				case containsFold(soft, k):
					placement = "summary"
				}
				if i >= 10 {
					priority = "low"
				}
				plan = append(plan, map[string]any{
					"keyword":   k,
					"placement": placement,
					"priority":  priority,
				})
			}
			enhancements := map[string]any{
				"keyword_analysis": map[string]any{
					"total_job_keywords": len(all),
					"keywords_in_resume": len(present),
					"coverage":           percent(len(present), len(all)),
					"missing_keywords":   nonNil(missing),
					"keyword_density":    kw["keyword_density"],
				},
				"keyword_categories": map[string]any{
					"technical":    nonNil(technical),
					"soft":         nonNil(soft),
					"action_verbs": nonNil(verbs),
				},
				"enhancement_plan": plan,
			}
			return agent.OK(state.Delta{KeyKeywordEnhancements: annotate(enhancements, ToolExtractKeywords, outcome)})
		}),
	)
}

// densityTerms returns the terms of a keyword_density object, densest first.
func densityTerms(v any) []string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	terms := make([]string, 0, len(m))
	for t := range m {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		di, dj := number(m[terms[i]]), number(m[terms[j]])
		if di != dj {
			return di > dj
		}
		return terms[i] < terms[j]
	})
	return terms
}
