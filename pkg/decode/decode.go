// Package decode turns partially trusted text into structured values.
//
// Text returned by tools or embedded in messages is tried in tiers: the
// whole payload as JSON, then a JSON document extracted from fences or
// surrounding prose, and finally the raw text. Callers switch on the tier
// instead of guessing from the value type.
package decode

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Tier records how a value was obtained.
type Tier string

const (
	// TierDecoded means the whole payload was valid JSON.
	TierDecoded Tier = "decoded"
	// TierFallback means a JSON document was extracted from within the payload.
	TierFallback Tier = "fallback_extracted"
	// TierRaw means no JSON was found; Value holds the text.
	TierRaw Tier = "raw"
)

// Result is the outcome of decoding a payload.
type Result struct {
	Tier  Tier
	Value any
	// JSON holds the document that produced Value; empty for TierRaw.
	JSON string
	// Text is the original payload.
	Text string
}

var fenceRE = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

// Text decodes s.
func Text(s string) Result {
	trimmed := strings.TrimSpace(s)
	if trimmed != "" && gjson.Valid(trimmed) {
		return Result{Tier: TierDecoded, Value: gjson.Parse(trimmed).Value(), JSON: trimmed, Text: s}
	}
	if doc, ok := extract(trimmed); ok {
		return Result{Tier: TierFallback, Value: gjson.Parse(doc).Value(), JSON: doc, Text: s}
	}
	return Result{Tier: TierRaw, Value: s, Text: s}
}

// Bytes decodes b.
func Bytes(b []byte) Result {
	return Text(string(b))
}

// IsStructured reports whether a JSON value was recovered.
func (r Result) IsStructured() bool {
	return r.Tier != TierRaw
}

// Object returns the value as a JSON object.
func (r Result) Object() (map[string]any, bool) {
	m, ok := r.Value.(map[string]any)
	return m, ok
}

// Get queries the decoded document with a gjson path. Raw results return an
// empty gjson.Result.
func (r Result) Get(path string) gjson.Result {
	if r.JSON == "" {
		return gjson.Result{}
	}
	return gjson.Get(r.JSON, path)
}

// extract looks for a JSON document inside fenced blocks first, then for the
// first balanced object or array in the text.
func extract(s string) (string, bool) {
	for _, m := range fenceRE.FindAllStringSubmatch(s, -1) {
		candidate := strings.TrimSpace(m[1])
		if isDocument(candidate) {
			return candidate, true
		}
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		end := matchClose(s, i)
		if end < 0 {
			continue
		}
		candidate := s[i : end+1]
		if isDocument(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func isDocument(s string) bool {
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return false
	}
	return gjson.Valid(s)
}

// matchClose returns the index of the bracket closing the one at start,
// skipping brackets inside string literals, or -1.
func matchClose(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
