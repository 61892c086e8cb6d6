package resume

import (
	"context"
	"fmt"
	"strings"

	"github.com/jllopis/resumeflow/pkg/agent"
	"github.com/jllopis/resumeflow/pkg/state"
)

// MarkdownFormatter renders the aligned content as a markdown resume and
// writes resume_content.
func MarkdownFormatter() agent.Agent {
	return agent.MustNew(StageMarkdownFormatter,
		agent.WithReads(KeyAlignedData, KeyKeywordEnhancements, KeyJobDescription, KeyResumeText),
		agent.WithWrites(KeyResumeContent),
		agent.WithRun(func(_ context.Context, snap state.Snapshot) agent.Result {
			aligned, ok := usable(snap, KeyAlignedData)
			if !ok {
				return agent.Failed("aligned content unavailable")
			}
			doc := parseResume(snap.String(KeyResumeText))
			md, sections := renderMarkdown(doc, aligned, keywordsToWeave(snap))
			return agent.OK(state.Delta{KeyResumeContent: map[string]any{
				"markdown_content": md,
				"sections":         nonNil(sections),
				"word_count":       len(strings.Fields(md)),
				"target_role":      jobTitle(snap),
				"format":           "markdown",
			}})
		}),
	)
}

// keywordsToWeave returns high priority keywords from the enhancement plan.
func keywordsToWeave(snap state.Snapshot) []string {
	enh, ok := usable(snap, KeyKeywordEnhancements)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range mapList(enh["enhancement_plan"]) {
		if str(item, "priority") == "high" {
			out = append(out, str(item, "keyword"))
		}
	}
	return out
}

func renderMarkdown(doc document, aligned map[string]any, extra []string) (string, []string) {
	var b strings.Builder
	var sections []string

	name := doc.Name
	if name == "" {
		name = "Candidate"
	}
	fmt.Fprintf(&b, "# %s\n\n", name)
	if len(doc.Contact) > 0 {
		fmt.Fprintf(&b, "%s\n\n", strings.Join(doc.Contact, " | "))
	}

	if summary := str(aligned, "aligned_summary"); summary != "" {
		sections = append(sections, "Professional Summary")
		fmt.Fprintf(&b, "## Professional Summary\n\n%s\n\n", summary)
	}

	skills, _ := aligned["aligned_skills"].(map[string]any)
	core := stringList(skills["priority_1_skills"])
	additional := dedupe(append(stringList(skills["supporting_skills"]), extra...))
	var filtered []string
	for _, s := range additional {
		if !containsFold(core, s) {
			filtered = append(filtered, s)
		}
	}
	strengths := stringList(skills["priority_2_skills"])
	if len(core)+len(filtered)+len(strengths) > 0 {
		sections = append(sections, "Technical Skills")
		b.WriteString("## Technical Skills\n\n")
		if len(core) > 0 {
			fmt.Fprintf(&b, "- **Core:** %s\n", strings.Join(core, ", "))
		}
		if len(filtered) > 0 {
			fmt.Fprintf(&b, "- **Additional:** %s\n", strings.Join(filtered, ", "))
		}
		if len(strengths) > 0 {
			fmt.Fprintf(&b, "- **Strengths:** %s\n", strings.Join(strengths, ", "))
		}
		b.WriteString("\n")
	}

	roles := mapList(aligned["aligned_experience"])
	if len(roles) > 0 {
		sections = append(sections, "Work Experience")
		b.WriteString("## Work Experience\n\n")
		for _, r := range roles {
			fmt.Fprintf(&b, "### %s\n\n", str(r, "role_title"))
			for _, h := range stringList(r["highlights"]) {
				fmt.Fprintf(&b, "- %s\n", h)
			}
			b.WriteString("\n")
		}
	}

	if sec, ok := doc.section("education"); ok && len(sec.Body) > 0 {
		sections = append(sections, "Education")
		fmt.Fprintf(&b, "## Education\n\n%s\n\n", sec.text())
	}
	for _, sec := range doc.Sections {
		if sectionKind(sec.Title) != "" || len(sec.Body) == 0 {
			continue
		}
		sections = append(sections, sec.Title)
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", sec.Title, sec.text())
	}
	return strings.TrimRight(b.String(), "\n") + "\n", sections
}
