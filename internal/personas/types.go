package personas

import (
	"errors"

	"github.com/samber/lo"
)

var (
	ErrPersonaNotFound = errors.New("persona not found")
	ErrNoPersonas      = errors.New("no personas loaded")
)

// Profile is one persona a user can speak as or to. The system prompt is
// appended to the llm node's own prompt when the persona is applied.
type Profile struct {
	ID           string         `yaml:"id" json:"id"`
	Name         string         `yaml:"name" json:"name"`
	Description  string         `yaml:"description" json:"description"`
	SystemPrompt string         `yaml:"system_prompt" json:"system_prompt"`
	Tone         string         `yaml:"tone,omitempty" json:"tone,omitempty"`
	Keywords     []string       `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Priority     int            `yaml:"priority,omitempty" json:"priority,omitempty"`
	Metadata     map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Filter narrows persona listings.
type Filter struct {
	Keywords    []string `json:"keywords,omitempty"`
	MinPriority int      `json:"min_priority,omitempty"`
}

// Matches reports whether the profile passes the filter. A nil filter
// passes everything.
func (f *Filter) Matches(p *Profile) bool {
	if f == nil {
		return true
	}
	if f.MinPriority != 0 && p.Priority < f.MinPriority {
		return false
	}
	if len(f.Keywords) > 0 {
		if !lo.SomeBy(f.Keywords, func(kw string) bool {
			return lo.Contains(p.Keywords, kw)
		}) {
			return false
		}
	}
	return true
}

// Selection is the outcome of matching a message against the loaded
// profiles.
type Selection struct {
	PersonaID string  `json:"persona_id"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning,omitempty"`
}
