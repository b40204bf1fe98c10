package personas

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Selector scores a message against the loaded profiles by keyword
// overlap. Explicit persona choice in the UI always wins; this selector
// only serves the "auto" setting.
type Selector struct {
	store *Store
}

// NewSelector wires a selector over a store.
func NewSelector(store *Store) *Selector {
	return &Selector{store: store}
}

// Select picks the best-matching profile for a message. Keyword hits are
// weighted by profile priority; with no hits at all the highest-priority
// profile wins as the neutral default.
func (s *Selector) Select(message string) (*Selection, error) {
	profiles := s.store.List(nil)
	if len(profiles) == 0 {
		return nil, ErrNoPersonas
	}

	lowered := strings.ToLower(message)
	best := profiles[0]
	bestScore := 0.0
	var bestHits []string

	for _, p := range profiles {
		hits := lo.Filter(p.Keywords, func(kw string, _ int) bool {
			return kw != "" && strings.Contains(lowered, strings.ToLower(kw))
		})
		score := float64(len(hits)) * (1 + float64(p.Priority)/10)
		if score > bestScore {
			best = p
			bestScore = score
			bestHits = hits
		}
	}

	sel := &Selection{PersonaID: best.ID, Score: bestScore}
	if len(bestHits) > 0 {
		sel.Reasoning = fmt.Sprintf("matched keywords: %s", strings.Join(bestHits, ", "))
	} else {
		sel.Reasoning = "no keyword match; using highest-priority persona"
	}
	return sel, nil
}
