package nodeconfig

import "encoding/json"

// Merge shallow-merges a partial update into an existing config and returns
// the result. Known keys are type-checked and clamped; unknown keys are
// preserved for backend-only fields. The existing config is never mutated:
// on any error the caller keeps its prior value and nothing is partially
// applied.
func Merge(existing Config, patch json.RawMessage) (Config, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(patch, &fields); err != nil {
		return nil, &ParseError{Err: err}
	}
	merged := existing.Clone()
	if err := applyFields(merged, fields); err != nil {
		return nil, err
	}
	return merged, nil
}
