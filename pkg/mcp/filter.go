// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"path"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolFilter restricts which tools may be listed and called on any
// endpoint. Entries are exact names or path.Match patterns ("extract_*").
// A deny match wins; a non-empty allow list must match.
type ToolFilter struct {
	allow []string
	deny  []string
}

// NewToolFilter builds a filter, ignoring blank entries.
func NewToolFilter(allow, deny []string) *ToolFilter {
	return &ToolFilter{allow: cleanPatterns(allow), deny: cleanPatterns(deny)}
}

// Allowed reports whether tool passes the filter. A nil filter allows all.
func (f *ToolFilter) Allowed(tool string) bool {
	if f == nil {
		return true
	}
	if matchAny(f.deny, tool) {
		return false
	}
	return len(f.allow) == 0 || matchAny(f.allow, tool)
}

// Apply returns the tools that pass the filter.
func (f *ToolFilter) Apply(tools []mcp.Tool) []mcp.Tool {
	if f == nil || (len(f.allow) == 0 && len(f.deny) == 0) {
		return tools
	}
	out := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		if f.Allowed(t.Name) {
			out = append(out, t)
		}
	}
	return out
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if p == name {
			return true
		}
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

func cleanPatterns(in []string) []string {
	var out []string
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
