package resume

import (
	"fmt"
	"strings"
)

// ATS score weights.
const (
	weightKeywords   = 0.35
	weightSkills     = 0.30
	weightExperience = 0.25
	weightFormat     = 0.10
)

// ATSScore is the compatibility score of a resume against a job posting.
type ATSScore struct {
	OverallScore    float64  `json:"overall_score"`
	KeywordScore    float64  `json:"keyword_score"`
	SkillsScore     float64  `json:"skills_score"`
	ExperienceScore float64  `json:"experience_score"`
	FormatScore     float64  `json:"format_score"`
	Grade           string   `json:"grade"`
	Recommendations []string `json:"recommendations"`
	MissingKeywords []string `json:"missing_keywords"`
	MatchedKeywords []string `json:"matched_keywords"`
}

// Map returns the score as a state value.
func (s ATSScore) Map() map[string]any {
	return map[string]any{
		"overall_score":    s.OverallScore,
		"keyword_score":    s.KeywordScore,
		"skills_score":     s.SkillsScore,
		"experience_score": s.ExperienceScore,
		"format_score":     s.FormatScore,
		"grade":            s.Grade,
		"recommendations":  nonNil(s.Recommendations),
		"missing_keywords": nonNil(s.MissingKeywords),
		"matched_keywords": nonNil(s.MatchedKeywords),
	}
}

// ScoreATS scores resume against job. Keyword overlap, skill coverage,
// term-frequency similarity and format quality are combined with weights
// 35/30/25/10.
func ScoreATS(resume, job string) ATSScore {
	jobTokens := topTerms(job, 0)
	resumeSet := tokenSet(resume)

	var matched, missing []string
	for _, t := range jobTokens {
		if _, ok := resumeSet[t.Term]; ok {
			matched = append(matched, t.Term)
		} else {
			missing = append(missing, t.Term)
		}
	}
	keyword := 0.0
	if len(jobTokens) > 0 {
		keyword = clamp(percent(len(matched), len(jobTokens)), 0, 100)
	}

	skills := 70.0
	if jobSkills := findTerms(job, technicalSkills); len(jobSkills) > 0 {
		have := 0
		for _, s := range jobSkills {
			if containsTerm(resume, s) {
				have++
			}
		}
		skills = percent(have, len(jobSkills))
	}

	experience := round2(cosine(resume, job) * 100)
	format := formatScore(resume)

	overall := keyword*weightKeywords + skills*weightSkills + experience*weightExperience + format*weightFormat
	return ATSScore{
		OverallScore:    round2(overall),
		KeywordScore:    round2(keyword),
		SkillsScore:     round2(skills),
		ExperienceScore: experience,
		FormatScore:     format,
		Grade:           Grade(overall),
		Recommendations: atsRecommendations(keyword, skills, experience, format),
		MissingKeywords: limit(missing, 15),
		MatchedKeywords: limit(matched, 25),
	}
}

func formatScore(resume string) float64 {
	score := 100.0
	lower := strings.ToLower(resume)
	for _, section := range []string{"experience", "education", "skills", "summary"} {
		if !strings.Contains(lower, section) {
			score -= 5
		}
	}
	switch words := len(strings.Fields(resume)); {
	case words < 200:
		score -= 20
	case words > 1000:
		score -= 10
	}
	return clamp(score, 0, 100)
}

// Grade converts a 0..100 score to a letter grade.
func Grade(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

func atsRecommendations(keyword, skills, experience, format float64) []string {
	var recs []string
	if keyword < 70 {
		recs = append(recs, "Add more keywords from the job description")
	}
	if skills < 70 {
		recs = append(recs, "Highlight technical skills that match the job requirements")
	}
	if experience < 70 {
		recs = append(recs, "Align your experience descriptions with job responsibilities")
	}
	if format < 80 {
		recs = append(recs, "Improve resume structure with clear sections")
	}
	return recs
}

// Keywords is the keyword breakdown of a text.
type Keywords struct {
	TechnicalSkills []string           `json:"technical_skills"`
	SoftSkills      []string           `json:"soft_skills"`
	ActionVerbs     []string           `json:"action_verbs"`
	KeywordDensity  map[string]float64 `json:"keyword_density"`
	TotalKeywords   int                `json:"total_keywords"`
}

// Map returns the keywords as a state value.
func (k Keywords) Map() map[string]any {
	density := make(map[string]any, len(k.KeywordDensity))
	for term, d := range k.KeywordDensity {
		density[term] = d
	}
	return map[string]any{
		"technical_skills": nonNil(k.TechnicalSkills),
		"soft_skills":      nonNil(k.SoftSkills),
		"action_verbs":     nonNil(k.ActionVerbs),
		"keyword_density":  density,
		"total_keywords":   k.TotalKeywords,
	}
}

// ExtractKeywords finds technical skills, soft skills and action verbs in
// text and the density (percent of significant tokens) of its top terms.
func ExtractKeywords(text string) Keywords {
	lower := strings.ToLower(text)
	var verbs []string
	for _, v := range actionVerbs {
		if strings.Contains(lower, v) {
			verbs = append(verbs, v)
		}
	}
	tokens := len(significantTokens(text))
	density := make(map[string]float64)
	for _, t := range topTerms(text, 10) {
		density[t.Term] = percent(t.Count, tokens)
	}
	tech := limit(findTerms(text, technicalSkills), 15)
	soft := findTerms(text, softSkills)
	return Keywords{
		TechnicalSkills: tech,
		SoftSkills:      soft,
		ActionVerbs:     limit(verbs, 10),
		KeywordDensity:  density,
		TotalKeywords:   len(tech) + len(soft),
	}
}

// MarkdownReport is the result of validating a markdown document.
type MarkdownReport struct {
	IsValid        bool     `json:"is_valid"`
	Errors         []string `json:"errors"`
	Warnings       []string `json:"warnings"`
	Suggestions    []string `json:"suggestions"`
	CharacterCount int      `json:"character_count"`
}

// Map returns the report as a state value.
func (r MarkdownReport) Map() map[string]any {
	return map[string]any{
		"is_valid":        r.IsValid,
		"errors":          nonNil(r.Errors),
		"warnings":        nonNil(r.Warnings),
		"suggestions":     nonNil(r.Suggestions),
		"character_count": r.CharacterCount,
	}
}

// ValidateMarkdown checks link syntax and heading formatting line by line.
func ValidateMarkdown(content string) MarkdownReport {
	var report MarkdownReport
	lines := strings.Split(content, "\n")
	headings := 0
	for i, line := range lines {
		n := i + 1
		if strings.ContainsAny(line, "[]") && strings.ContainsAny(line, "()") {
			if strings.Count(line, "[") != strings.Count(line, "]") ||
				strings.Count(line, "(") != strings.Count(line, ")") {
				report.Errors = append(report.Errors, fmt.Sprintf("Line %d: Malformed link syntax", n))
			}
		}
		if strings.HasPrefix(line, "#") {
			headings++
			level := len(line) - len(strings.TrimLeft(line, "#"))
			if level < len(line) && line[level] != ' ' {
				report.Warnings = append(report.Warnings, fmt.Sprintf("Line %d: Header should have space after #", n))
			}
			if level > 4 {
				report.Warnings = append(report.Warnings, fmt.Sprintf("Line %d: Header nested deeper than four levels", n))
			}
		}
		if strings.Count(line, "**")%2 != 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Line %d: Unbalanced bold marker", n))
		}
	}
	if headings == 0 {
		report.Suggestions = append(report.Suggestions, "Use headings to separate resume sections")
	}
	report.IsValid = len(report.Errors) == 0
	report.CharacterCount = len(content)
	return report
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
