package resume

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/jllopis/resumeflow/pkg/memory"
	"github.com/jllopis/resumeflow/pkg/state"
)

// technicalSkills is matched case-insensitively as whole terms.
var technicalSkills = []string{
	"Python", "Java", "JavaScript", "TypeScript", "C++", "C#", "Ruby", "Go", "Golang", "Rust",
	"React", "Angular", "Vue", "Node.js", "Django", "Flask", "Spring", "Express",
	"SQL", "PostgreSQL", "MySQL", "MongoDB", "Redis", "Elasticsearch", "Kafka",
	"AWS", "Azure", "GCP", "Docker", "Kubernetes", "Terraform", "Jenkins", "CI/CD",
	"Git", "Linux", "REST", "GraphQL", "gRPC", "API", "Microservices", "DevOps",
	"Machine Learning", "Deep Learning", "Data Science", "NLP", "AI",
	"Agile", "Scrum",
}

var softSkills = []string{
	"leadership", "communication", "teamwork", "collaboration", "problem solving",
	"mentoring", "ownership", "stakeholder management", "time management", "adaptability",
}

var actionVerbs = []string{
	"developed", "designed", "implemented", "managed", "led", "created", "built",
	"improved", "optimized", "achieved", "delivered", "collaborated", "coordinated",
	"analyzed", "architected", "launched", "reduced", "increased", "automated", "migrated",
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "this": {}, "that": {}, "from": {},
	"will": {}, "have": {}, "your": {}, "about": {}, "you": {}, "our": {}, "are": {},
	"who": {}, "what": {}, "their": {}, "they": {}, "into": {}, "such": {}, "also": {},
	"has": {}, "was": {}, "were": {}, "been": {}, "can": {}, "all": {}, "any": {},
	"not": {}, "but": {}, "its": {}, "per": {}, "via": {}, "etc": {}, "years": {},
	"year": {}, "work": {}, "working": {}, "team": {}, "role": {}, "job": {},
	"experience": {}, "including": {}, "strong": {}, "ability": {}, "must": {},
	"should": {}, "plus": {}, "using": {}, "within": {}, "across": {}, "other": {},
}

var termPatterns = compileTerms(append(append([]string(nil), technicalSkills...), softSkills...))

func compileTerms(terms []string) map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(terms))
	for _, t := range terms {
		// \b does not anchor around symbols such as "C++" or "C#".
		out[t] = regexp.MustCompile(`(?i)(^|[^\w+#])` + regexp.QuoteMeta(t) + `($|[^\w+#])`)
	}
	return out
}

// findTerms returns the vocabulary terms present in text, in vocabulary
// order.
func findTerms(text string, vocab []string) []string {
	var found []string
	for _, term := range vocab {
		if re, ok := termPatterns[term]; ok && re.MatchString(text) {
			found = append(found, term)
		}
	}
	return found
}

// containsTerm reports whether term appears in text as a whole term.
func containsTerm(text, term string) bool {
	if re, ok := termPatterns[term]; ok {
		return re.MatchString(text)
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(term))
}

// significantTokens returns the tokens of text that carry meaning for
// matching: lower case, at least three characters and not a stopword.
func significantTokens(text string) []string {
	var out []string
	for _, tok := range memory.Tokenize(text) {
		if len(tok) < 3 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range significantTokens(text) {
		set[tok] = struct{}{}
	}
	return set
}

type termCount struct {
	Term  string
	Count int
}

// topTerms ranks tokens by frequency, breaking ties alphabetically.
func topTerms(text string, n int) []termCount {
	counts := make(map[string]int)
	for _, tok := range significantTokens(text) {
		counts[tok]++
	}
	ranked := make([]termCount, 0, len(counts))
	for t, c := range counts {
		ranked = append(ranked, termCount{Term: t, Count: c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Term < ranked[j].Term
	})
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// cosine compares two texts as term frequency vectors, 0..1.
func cosine(a, b string) float64 {
	va := make(map[string]float64)
	for _, t := range significantTokens(a) {
		va[t]++
	}
	vb := make(map[string]float64)
	for _, t := range significantTokens(b) {
		vb[t]++
	}
	var dot, na, nb float64
	for t, x := range va {
		na += x * x
		dot += x * vb[t]
	}
	for _, y := range vb {
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) / float64(total) * 100)
}

// stringList reads a list of strings from a state value, tolerating the
// []any shape produced by JSON decoding.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			} else if item != nil {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	case string:
		if list == "" {
			return nil
		}
		return []string{list}
	}
	return nil
}

func mapList(v any) []map[string]any {
	switch list := v.(type) {
	case []map[string]any:
		return list
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// usable returns the object stored under key unless it is absent or a
// failure marker.
func usable(snap state.Snapshot, key string) (map[string]any, bool) {
	v, ok := snap.Lookup(key)
	if !ok || state.IsFailure(v) {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

// jobText returns the best available plain text of the job posting.
func jobText(snap state.Snapshot) string {
	if job, ok := usable(snap, KeyJobDescription); ok {
		if raw := str(job, "raw_text"); raw != "" {
			return raw
		}
		parts := []string{str(job, "job_title"), str(job, "job_summary")}
		parts = append(parts, stringList(job["required_skills"])...)
		parts = append(parts, stringList(job["responsibilities"])...)
		if joined := strings.TrimSpace(strings.Join(parts, "\n")); joined != "" {
			return joined
		}
	}
	return snap.String(KeyJobDescriptionText)
}

func jobTitle(snap state.Snapshot) string {
	if job, ok := usable(snap, KeyJobDescription); ok {
		return str(job, "job_title")
	}
	return ""
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		k := strings.ToLower(strings.TrimSpace(it))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	return out
}

func limit[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
