package resume

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jllopis/resumeflow/pkg/agent"
	"github.com/jllopis/resumeflow/pkg/memory"
	"github.com/jllopis/resumeflow/pkg/state"
)

// ProfileRetriever queries the profile index for the sections most relevant
// to the job and writes profile_data.
func ProfileRetriever(deps Deps) agent.Agent {
	limitN := deps.RetrievalLimit
	if limitN <= 0 {
		limitN = DefaultRetrievalLimit
	}
	minScore := deps.RetrievalMinScore
	if minScore <= 0 {
		minScore = DefaultRetrievalMinScore
	}
	return agent.MustNew(StageProfileRetriever,
		agent.WithReads(KeyJobDescription, KeyProfileID),
		agent.WithWrites(KeyProfileData),
		agent.WithRun(func(ctx context.Context, snap state.Snapshot) agent.Result {
			profileID := snap.String(KeyProfileID)
			data := map[string]any{
				"profile_id":        profileID,
				"relevant_sections": []string{},
				"similarity_scores": []float64{},
				"metadata":          []map[string]any{},
			}
			if deps.Profiles == nil {
				data["source"] = "none"
				return agent.OK(state.Delta{KeyProfileData: data})
			}
			query := retrievalQuery(snap)
			sections, err := deps.Profiles.Retrieve(ctx, profileID, query, limitN, minScore)
			if err != nil && !stderrors.Is(err, memory.ErrCollectionNotFound) {
				return agent.Failedf("profile retrieval: %v", err)
			}
			texts := make([]string, 0, len(sections))
			scores := make([]float64, 0, len(sections))
			metas := make([]map[string]any, 0, len(sections))
			for _, s := range sections {
				texts = append(texts, s.Text)
				scores = append(scores, round2(float64(s.Score)))
				metas = append(metas, s.Metadata)
			}
			data["relevant_sections"] = texts
			data["similarity_scores"] = scores
			data["metadata"] = metas
			data["query"] = query
			data["source"] = "vector_store"
			return agent.OK(state.Delta{KeyProfileData: data})
		}),
	)
}

func retrievalQuery(snap state.Snapshot) string {
	parts := []string{jobTitle(snap)}
	if job, ok := usable(snap, KeyJobDescription); ok {
		parts = append(parts, limit(stringList(job["required_skills"]), 10)...)
		parts = append(parts, limit(stringList(job["keywords"]), 10)...)
	}
	q := strings.TrimSpace(strings.Join(parts, " "))
	if q == "" {
		for _, t := range topTerms(jobText(snap), 20) {
			parts = append(parts, t.Term)
		}
		q = strings.TrimSpace(strings.Join(parts, " "))
	}
	return q
}

// SkillsMatcher compares the skills demanded by the job with the ones the
// resume shows and writes skills_analysis.
func SkillsMatcher() agent.Agent {
	return agent.MustNew(StageSkillsMatcher,
		agent.WithReads(KeyJobDescription, KeyResumeText),
		agent.WithWrites(KeySkillsAnalysis),
		agent.WithRun(func(_ context.Context, snap state.Snapshot) agent.Result {
			resume := snap.String(KeyResumeText)
			if strings.TrimSpace(resume) == "" {
				return agent.Failed("resume text is empty")
			}
			job := jobText(snap)
			var required, preferred []string
			if jd, ok := usable(snap, KeyJobDescription); ok {
				required = stringList(jd["required_skills"])
				preferred = stringList(jd["preferred_skills"])
			}
			jobTech := dedupe(append(findTerms(job, technicalSkills), required...))

			var matchedTech, missingCritical []string
			for _, s := range jobTech {
				if containsTerm(resume, s) {
					matchedTech = append(matchedTech, s)
				} else {
					missingCritical = append(missingCritical, s)
				}
			}
			var missingPreferred []string
			for _, s := range preferred {
				if !containsTerm(resume, s) {
					missingPreferred = append(missingPreferred, s)
				}
			}
			matchedSoft := intersectTerms(findTerms(job, softSkills), resume)

			known := make(map[string]struct{})
			for _, s := range append(append([]string(nil), jobTech...), softSkills...) {
				known[strings.ToLower(s)] = struct{}{}
			}
			resumeTokens := tokenSet(resume)
			var domain []string
			for _, t := range topTerms(job, 40) {
				if _, skip := known[t.Term]; skip {
					continue
				}
				if _, ok := resumeTokens[t.Term]; ok && t.Count > 1 {
					domain = append(domain, t.Term)
				}
			}

			match := 70.0
			if len(jobTech) > 0 {
				match = percent(len(matchedTech), len(jobTech))
			}
			var recs []string
			for _, s := range limit(missingCritical, 5) {
				recs = append(recs, fmt.Sprintf("Add evidence of %s if you have used it", s))
			}
			if len(matchedSoft) == 0 && len(findTerms(job, softSkills)) > 0 {
				recs = append(recs, "Show soft skills the posting asks for through concrete achievements")
			}
			return agent.OK(state.Delta{KeySkillsAnalysis: map[string]any{
				"matched_skills": map[string]any{
					"technical": nonNil(matchedTech),
					"soft":      nonNil(matchedSoft),
					"domain":    nonNil(limit(domain, 10)),
				},
				"missing_skills": map[string]any{
					"critical":  nonNil(missingCritical),
					"preferred": nonNil(missingPreferred),
				},
				"match_percentage": match,
				"recommendations":  nonNil(recs),
			}})
		}),
	)
}

func intersectTerms(terms []string, text string) []string {
	var out []string
	for _, t := range terms {
		if containsTerm(text, t) {
			out = append(out, t)
		}
	}
	return out
}

// ExperienceRelevance scores every role of the resume against the job and
// writes experience_scores.
func ExperienceRelevance() agent.Agent {
	return agent.MustNew(StageExperienceRelevant,
		agent.WithReads(KeyJobDescription, KeyResumeText),
		agent.WithWrites(KeyExperienceScores),
		agent.WithRun(func(_ context.Context, snap state.Snapshot) agent.Result {
			resume := snap.String(KeyResumeText)
			entries := parseResume(resume).experienceEntries(resume)
			if len(entries) == 0 {
				return agent.Failed("resume has no experience to score")
			}
			job := jobText(snap)
			jobTokens := tokenSet(job)
			jobSkills := findTerms(job, technicalSkills)

			scores := make([]map[string]any, 0, len(entries))
			total := 0.0
			for _, e := range entries {
				text := e.text()
				var matched []string
				for tok := range tokenSet(text) {
					if _, ok := jobTokens[tok]; ok {
						matched = append(matched, tok)
					}
				}
				sort.Strings(matched)
				skills := intersectTerms(jobSkills, text)
				score := clamp(cosine(text, job)*60+float64(len(skills))*8+float64(len(matched)), 0, 100)
				score = round2(score)
				total += score
				scores = append(scores, map[string]any{
					"role_title":         e.Title,
					"relevance_score":    score,
					"matching_skills":    nonNil(skills),
					"matching_keywords":  nonNil(limit(matched, 10)),
					"quantified_results": countQuantified(e.Details),
				})
			}
			sort.SliceStable(scores, func(i, j int) bool {
				return number(scores[i]["relevance_score"]) > number(scores[j]["relevance_score"])
			})
			return agent.OK(state.Delta{KeyExperienceScores: map[string]any{
				"experience_scores":        scores,
				"overall_experience_match": round2(total / float64(len(entries))),
			}})
		}),
	)
}

func countQuantified(lines []string) int {
	n := 0
	for _, l := range lines {
		if strings.ContainsAny(l, "0123456789%$") {
			n++
		}
	}
	return n
}

// ContentAlignment merges the profile analysis into a single content plan
// and writes aligned_data. Failed upstream analyses are skipped; it fails
// only when none of them is usable.
func ContentAlignment() agent.Agent {
	return agent.MustNew(StageContentAlignment,
		agent.WithReads(KeyProfileData, KeySkillsAnalysis, KeyExperienceScores, KeyResumeText, KeyJobDescription),
		agent.WithWrites(KeyAlignedData),
		agent.WithRun(func(_ context.Context, snap state.Snapshot) agent.Result {
			profile, hasProfile := usable(snap, KeyProfileData)
			skills, hasSkills := usable(snap, KeySkillsAnalysis)
			experience, hasExperience := usable(snap, KeyExperienceScores)
			if !hasProfile && !hasSkills && !hasExperience {
				return agent.Failed("no upstream analysis available")
			}
			var upstream []string
			for key, ok := range map[string]bool{
				KeyProfileData: hasProfile, KeySkillsAnalysis: hasSkills, KeyExperienceScores: hasExperience,
			} {
				if !ok {
					upstream = append(upstream, key)
				}
			}
			sort.Strings(upstream)

			resume := snap.String(KeyResumeText)
			var p1, soft, domain []string
			if hasSkills {
				matched, _ := skills["matched_skills"].(map[string]any)
				p1 = stringList(matched["technical"])
				soft = stringList(matched["soft"])
				domain = stringList(matched["domain"])
			}
			supporting := make([]string, 0)
			for _, s := range findTerms(resume, technicalSkills) {
				if !containsFold(p1, s) {
					supporting = append(supporting, s)
				}
			}

			var roles []map[string]any
			if hasExperience {
				roles = mapList(experience["experience_scores"])
			}
			entries := parseResume(resume).experienceEntries("")
			aligned := make([]map[string]any, 0, len(roles))
			for _, r := range roles {
				title := str(r, "role_title")
				aligned = append(aligned, map[string]any{
					"role_title":      title,
					"relevance_score": number(r["relevance_score"]),
					"highlights":      nonNil(detailsFor(entries, title)),
					"emphasize":       nonNil(stringList(r["matching_skills"])),
				})
			}

			var evidence []string
			if hasProfile {
				evidence = limit(stringList(profile["relevant_sections"]), 3)
			}
			title := jobTitle(snap)
			placement := map[string]any{
				"summary":    nonNil(limit(p1, 5)),
				"skills":     nonNil(p1),
				"experience": nonNil(limit(domain, 8)),
			}
			var recs []string
			if hasSkills {
				missing, _ := skills["missing_skills"].(map[string]any)
				for _, s := range limit(stringList(missing["critical"]), 3) {
					recs = append(recs, fmt.Sprintf("Address the gap in %s in the summary or a project", s))
				}
			}
			if len(evidence) > 0 {
				recs = append(recs, "Reuse achievements from the stored profile that match the posting")
			}
			return agent.OK(state.Delta{KeyAlignedData: map[string]any{
				"aligned_summary": alignedSummary(title, p1, soft, len(aligned)),
				"aligned_skills": map[string]any{
					"priority_1_skills": nonNil(p1),
					"priority_2_skills": nonNil(dedupe(append(append([]string(nil), soft...), domain...))),
					"supporting_skills": supporting,
				},
				"aligned_experience":         aligned,
				"profile_evidence":           nonNil(evidence),
				"section_order":              []string{"summary", "skills", "experience", "education"},
				"keyword_placement_strategy": placement,
				"content_recommendations":    nonNil(recs),
				"upstream_failures":          nonNil(upstream),
			}})
		}),
	)
}

func alignedSummary(title string, skills, soft []string, roles int) string {
	if title == "" {
		title = "Software engineering"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s professional", strings.TrimSpace(title))
	if roles > 1 {
		fmt.Fprintf(&b, " with %d relevant roles", roles)
	}
	if len(skills) > 0 {
		fmt.Fprintf(&b, " experienced in %s", joinList(limit(skills, 5)))
	}
	b.WriteString(".")
	if len(soft) > 0 {
		fmt.Fprintf(&b, " Known for %s.", joinList(limit(soft, 3)))
	}
	return b.String()
}

func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}

func containsFold(list []string, s string) bool {
	for _, it := range list {
		if strings.EqualFold(it, s) {
			return true
		}
	}
	return false
}

func detailsFor(entries []entry, title string) []string {
	for _, e := range entries {
		if e.Title == title {
			return e.Details
		}
	}
	return nil
}
