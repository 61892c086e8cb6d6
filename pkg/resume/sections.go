package resume

import (
	"strings"
	"unicode"
)

type section struct {
	Title string
	Body  []string
}

func (s section) text() string { return strings.Join(s.Body, "\n") }

// document is a resume split into a header and titled sections.
type document struct {
	Name     string
	Contact  []string
	Sections []section
}

var sectionAliases = map[string][]string{
	"summary":    {"summary", "profile", "objective", "about"},
	"experience": {"experience", "employment", "work history"},
	"education":  {"education", "academic"},
	"skills":     {"skills", "technologies", "competencies"},
}

// parseResume splits plain or markdown resume text into sections. A line is
// a section title when it is a markdown heading or a short upper-case line.
func parseResume(text string) document {
	var doc document
	var cur *section
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			if cur != nil {
				cur.Body = append(cur.Body, "")
			}
			continue
		}
		if title, ok := sectionTitle(line); ok {
			if doc.Name == "" && cur == nil && strings.HasPrefix(line, "# ") && !isKnownSection(title) {
				doc.Name = title
				continue
			}
			if isKnownSection(title) || strings.HasPrefix(line, "## ") || cur == nil {
				doc.Sections = append(doc.Sections, section{Title: title})
				cur = &doc.Sections[len(doc.Sections)-1]
				continue
			}
		}
		if cur == nil {
			if doc.Name == "" {
				doc.Name = strings.TrimLeft(line, "# ")
			} else {
				doc.Contact = append(doc.Contact, line)
			}
			continue
		}
		cur.Body = append(cur.Body, line)
	}
	for i := range doc.Sections {
		doc.Sections[i].Body = trimBlank(doc.Sections[i].Body)
	}
	return doc
}

func sectionTitle(line string) (string, bool) {
	if strings.HasPrefix(line, "#") {
		return strings.TrimSpace(strings.TrimLeft(line, "#")), true
	}
	if len(line) > 40 || strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
		return "", false
	}
	letters := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			letters++
			if !unicode.IsUpper(r) {
				return "", false
			}
		}
	}
	return strings.TrimSuffix(line, ":"), letters >= 4
}

func isKnownSection(title string) bool {
	return sectionKind(title) != ""
}

// sectionKind maps a section title to summary, experience, education or
// skills, or "" when it is none of them.
func sectionKind(title string) string {
	lower := strings.ToLower(title)
	for _, kind := range []string{"summary", "experience", "education", "skills"} {
		for _, alias := range sectionAliases[kind] {
			if strings.Contains(lower, alias) {
				return kind
			}
		}
	}
	return ""
}

func (d document) section(kind string) (section, bool) {
	for _, s := range d.Sections {
		if sectionKind(s.Title) == kind {
			return s, true
		}
	}
	return section{}, false
}

// entry is one role in the experience section.
type entry struct {
	Title   string
	Details []string
}

func (e entry) text() string {
	return e.Title + "\n" + strings.Join(e.Details, "\n")
}

// experienceEntries splits the experience section into roles. Roles are
// separated by sub-headings, blank lines or non-bullet lines following
// bullets. Without an experience section the whole text is one entry.
func (d document) experienceEntries(fallback string) []entry {
	sec, ok := d.section("experience")
	if !ok {
		text := strings.TrimSpace(fallback)
		if text == "" {
			return nil
		}
		return []entry{{Title: "Professional experience", Details: []string{text}}}
	}
	var entries []entry
	var cur *entry
	prevBullet := false
	for _, line := range sec.Body {
		bullet := strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") || strings.HasPrefix(line, "•")
		switch {
		case line == "":
			if cur != nil && len(cur.Details) > 0 {
				cur = nil
			}
			prevBullet = false
			continue
		case cur == nil || (!bullet && (prevBullet || strings.HasPrefix(line, "#"))):
			entries = append(entries, entry{Title: strings.TrimSpace(strings.TrimLeft(line, "# "))})
			cur = &entries[len(entries)-1]
		default:
			cur.Details = append(cur.Details, strings.TrimSpace(strings.TrimLeft(line, "-*• ")))
		}
		prevBullet = bullet
	}
	return entries
}

func trimBlank(lines []string) []string {
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
