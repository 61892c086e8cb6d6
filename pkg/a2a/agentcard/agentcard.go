// Package agentcard describes the discovery manifest of an agent: identity,
// transports and the skills it can execute.
package agentcard

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProtocolVersion is the manifest format version served by default.
const ProtocolVersion = "0.3.0"

// Skill is one capability advertised by the agent. Input and output schemas
// are JSON Schema documents.
type Skill struct {
	ID           string           `json:"id" yaml:"id"`
	Name         string           `json:"name" yaml:"name"`
	Description  string           `json:"description" yaml:"description"`
	Tags         []string         `json:"tags,omitempty" yaml:"tags,omitempty"`
	InputModes   []string         `json:"inputModes,omitempty" yaml:"input_modes,omitempty"`
	OutputModes  []string         `json:"outputModes,omitempty" yaml:"output_modes,omitempty"`
	InputSchema  map[string]any   `json:"inputSchema,omitempty" yaml:"input_schema,omitempty"`
	OutputSchema map[string]any   `json:"outputSchema,omitempty" yaml:"output_schema,omitempty"`
	Examples     []map[string]any `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// Required returns the required input fields declared by the skill schema.
func (s Skill) Required() []string {
	switch req := s.InputSchema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if name, ok := v.(string); ok {
				out = append(out, name)
			}
		}
		return out
	}
	return nil
}

// Provider identifies who operates the agent.
type Provider struct {
	Organization string `json:"organization" yaml:"organization"`
	URL          string `json:"url,omitempty" yaml:"url,omitempty"`
}

// SecurityScheme is an advertised authentication scheme.
type SecurityScheme struct {
	Type         string `json:"type" yaml:"type"`
	Scheme       string `json:"scheme,omitempty" yaml:"scheme,omitempty"`
	BearerFormat string `json:"bearerFormat,omitempty" yaml:"bearer_format,omitempty"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Capabilities lists optional protocol features.
type Capabilities struct {
	Streaming         bool `json:"streaming" yaml:"streaming"`
	PushNotifications bool `json:"pushNotifications" yaml:"push_notifications"`
}

// AgentCard is the manifest served at WellKnownPath.
type AgentCard struct {
	ProtocolVersion     string                    `json:"protocolVersion" yaml:"protocol_version"`
	ID                  string                    `json:"id" yaml:"id"`
	Name                string                    `json:"name" yaml:"name"`
	Description         string                    `json:"description" yaml:"description"`
	Version             string                    `json:"version" yaml:"version"`
	URL                 string                    `json:"url" yaml:"url"`
	PreferredTransport  string                    `json:"preferredTransport" yaml:"preferred_transport"`
	SupportedTransports []string                  `json:"supportedTransports,omitempty" yaml:"supported_transports,omitempty"`
	Capabilities        Capabilities              `json:"capabilities" yaml:"capabilities"`
	SecuritySchemes     map[string]SecurityScheme `json:"securitySchemes,omitempty" yaml:"security_schemes,omitempty"`
	DefaultInputModes   []string                  `json:"defaultInputModes,omitempty" yaml:"default_input_modes,omitempty"`
	DefaultOutputModes  []string                  `json:"defaultOutputModes,omitempty" yaml:"default_output_modes,omitempty"`
	Skills              []Skill                   `json:"skills" yaml:"skills"`
	Provider            *Provider                 `json:"provider,omitempty" yaml:"provider,omitempty"`
	License             string                    `json:"license,omitempty" yaml:"license,omitempty"`
	Tags                []string                  `json:"tags,omitempty" yaml:"tags,omitempty"`
	Endpoints           map[string]string         `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
}

// Skill returns the skill with the given id.
func (c *AgentCard) Skill(id string) (Skill, bool) {
	if c == nil {
		return Skill{}, false
	}
	for _, s := range c.Skills {
		if s.ID == id {
			return s, true
		}
	}
	return Skill{}, false
}

// SkillIDs returns the advertised skill ids in declaration order.
func (c *AgentCard) SkillIDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, 0, len(c.Skills))
	for _, s := range c.Skills {
		ids = append(ids, s.ID)
	}
	return ids
}

// Validate checks the fields clients rely on.
func (c *AgentCard) Validate() error {
	if c == nil {
		return fmt.Errorf("agent card is nil")
	}
	var problems []string
	if strings.TrimSpace(c.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(c.Version) == "" {
		problems = append(problems, "version is required")
	}
	if len(c.Skills) == 0 {
		problems = append(problems, "at least one skill is required")
	}
	seen := make(map[string]struct{}, len(c.Skills))
	for i, s := range c.Skills {
		if s.ID == "" {
			problems = append(problems, fmt.Sprintf("skills[%d]: id is required", i))
			continue
		}
		if _, dup := seen[s.ID]; dup {
			problems = append(problems, fmt.Sprintf("skills[%d]: duplicate id %q", i, s.ID))
		}
		seen[s.ID] = struct{}{}
		for _, req := range s.Required() {
			props, _ := s.InputSchema["properties"].(map[string]any)
			if _, ok := props[req]; !ok {
				problems = append(problems, fmt.Sprintf("skill %s: required field %q has no property", s.ID, req))
			}
		}
	}
	if c.PreferredTransport != "" && len(c.SupportedTransports) > 0 &&
		!slices.Contains(c.SupportedTransports, c.PreferredTransport) {
		problems = append(problems, "preferred transport is not listed as supported")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid agent card: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Merge overlays the non-empty identity fields of override onto c. Skills
// are replaced only when override declares some.
func (c *AgentCard) Merge(override *AgentCard) {
	if override == nil {
		return
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.ID, override.ID)
	set(&c.Name, override.Name)
	set(&c.Description, override.Description)
	set(&c.Version, override.Version)
	set(&c.URL, override.URL)
	set(&c.License, override.License)
	if override.Provider != nil {
		c.Provider = override.Provider
	}
	if len(override.Tags) > 0 {
		c.Tags = override.Tags
	}
	if len(override.Skills) > 0 {
		c.Skills = override.Skills
	}
}

// LoadFile reads a card from a YAML (or JSON) file.
func LoadFile(path string) (*AgentCard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var card AgentCard
	if err := yaml.Unmarshal(data, &card); err != nil {
		return nil, fmt.Errorf("parse agent card %s: %w", path, err)
	}
	for i := range card.Skills {
		card.Skills[i].InputSchema = normalize(card.Skills[i].InputSchema)
		card.Skills[i].OutputSchema = normalize(card.Skills[i].OutputSchema)
	}
	return &card, nil
}

// normalize converts yaml.v3 decoded values into the shapes encoding/json
// produces so schemas compare the same regardless of source.
func normalize(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		return normalize(value)
	case []any:
		out := make([]any, len(value))
		for i := range value {
			out[i] = normalizeValue(value[i])
		}
		return out
	case int:
		return float64(value)
	default:
		return value
	}
}
