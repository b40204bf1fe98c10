package nodeconfig

import (
	"encoding/json"
	"fmt"
)

// Default returns the canonical default config for a node type. Unknown
// types get an OutputConfig-shaped opaque blob so decoding never fails on
// forward-compatible node kinds.
func Default(nodeType string) Config {
	switch nodeType {
	case "router":
		return &RouterConfig{Conditions: []Condition{}, DefaultRoute: "default"}
	case "rag_retriever":
		return &RAGRetrieverConfig{
			RetrieverType:       RetrieverSemantic,
			TopK:                5,
			SimilarityThreshold: 0.7,
		}
	case "llm":
		return &LLMAgentConfig{Temperature: 0.7, MaxTokens: 2000}
	case "input":
		return &InputConfig{}
	default:
		return &OutputConfig{}
	}
}

// Decode interprets a raw config blob according to the node type. Absent
// keys take their canonical defaults, numeric sliders are clamped into
// range, and unrecognized keys are preserved verbatim. Malformed JSON
// yields a ParseError; a known key of the wrong type yields a
// ValidationError.
func Decode(nodeType string, raw json.RawMessage) (Config, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &ParseError{Err: err}
	}
	cfg := Default(nodeType)
	if err := applyFields(cfg, fields); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFields overlays raw key/value pairs onto cfg in place. Keys the
// concrete type knows are type-checked and clamped; the rest land in Extra.
func applyFields(cfg Config, fields map[string]json.RawMessage) error {
	switch c := cfg.(type) {
	case *RouterConfig:
		for key, val := range fields {
			switch key {
			case "conditions":
				if err := unmarshalField(key, val, &c.Conditions); err != nil {
					return err
				}
			case "default_route":
				if err := unmarshalField(key, val, &c.DefaultRoute); err != nil {
					return err
				}
			default:
				c.Extra = setExtra(c.Extra, key, val)
			}
		}
	case *RAGRetrieverConfig:
		for key, val := range fields {
			switch key {
			case "retriever_type":
				if err := unmarshalField(key, val, &c.RetrieverType); err != nil {
					return err
				}
			case "collection_name":
				if err := unmarshalField(key, val, &c.CollectionName); err != nil {
					return err
				}
			case "top_k":
				if err := unmarshalField(key, val, &c.TopK); err != nil {
					return err
				}
			case "similarity_threshold":
				if err := unmarshalField(key, val, &c.SimilarityThreshold); err != nil {
					return err
				}
			default:
				c.Extra = setExtra(c.Extra, key, val)
			}
		}
		c.TopK = clampInt(c.TopK, TopKMin, TopKMax)
		c.SimilarityThreshold = clampFloat(c.SimilarityThreshold, 0, 1)
	case *LLMAgentConfig:
		for key, val := range fields {
			switch key {
			case "agent_id":
				if err := unmarshalField(key, val, &c.AgentID); err != nil {
					return err
				}
			case "model_name":
				if err := unmarshalField(key, val, &c.ModelName); err != nil {
					return err
				}
			case "temperature":
				if err := unmarshalField(key, val, &c.Temperature); err != nil {
					return err
				}
			case "max_tokens":
				if err := unmarshalField(key, val, &c.MaxTokens); err != nil {
					return err
				}
			case "system_prompt":
				if err := unmarshalField(key, val, &c.SystemPrompt); err != nil {
					return err
				}
			default:
				c.Extra = setExtra(c.Extra, key, val)
			}
		}
		c.Temperature = clampFloat(c.Temperature, 0, 1)
		c.MaxTokens = clampInt(c.MaxTokens, MaxTokensMin, MaxTokensMax)
	case *InputConfig:
		for key, val := range fields {
			c.Extra = setExtra(c.Extra, key, val)
		}
	case *OutputConfig:
		for key, val := range fields {
			c.Extra = setExtra(c.Extra, key, val)
		}
	default:
		return fmt.Errorf("unsupported config type %T", cfg)
	}
	return nil
}

func unmarshalField(name string, raw json.RawMessage, dst interface{}) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ValidationError{Field: name, Message: err.Error()}
	}
	return nil
}

func setExtra(extra map[string]json.RawMessage, key string, val json.RawMessage) map[string]json.RawMessage {
	if extra == nil {
		extra = make(map[string]json.RawMessage)
	}
	extra[key] = append(json.RawMessage(nil), val...)
	return extra
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// marshalWithExtra merges the typed fields with preserved unknown keys.
func marshalWithExtra(known map[string]interface{}, extra map[string]json.RawMessage) ([]byte, error) {
	out := make(map[string]interface{}, len(known)+len(extra))
	for k, v := range known {
		out[k] = v
	}
	for k, v := range extra {
		if _, shadowed := out[k]; !shadowed {
			out[k] = v
		}
	}
	return json.Marshal(out)
}

func (c *RouterConfig) MarshalJSON() ([]byte, error) {
	conditions := c.Conditions
	if conditions == nil {
		conditions = []Condition{}
	}
	return marshalWithExtra(map[string]interface{}{
		"conditions":    conditions,
		"default_route": c.DefaultRoute,
	}, c.Extra)
}

func (c *RAGRetrieverConfig) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(map[string]interface{}{
		"retriever_type":       c.RetrieverType,
		"collection_name":      c.CollectionName,
		"top_k":                c.TopK,
		"similarity_threshold": c.SimilarityThreshold,
	}, c.Extra)
}

func (c *LLMAgentConfig) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(map[string]interface{}{
		"agent_id":      c.AgentID,
		"model_name":    c.ModelName,
		"temperature":   c.Temperature,
		"max_tokens":    c.MaxTokens,
		"system_prompt": c.SystemPrompt,
	}, c.Extra)
}

func (c *InputConfig) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(map[string]interface{}{}, c.Extra)
}

func (c *OutputConfig) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(map[string]interface{}{}, c.Extra)
}
