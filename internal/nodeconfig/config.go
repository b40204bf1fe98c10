package nodeconfig

import "encoding/json"

// Config is the tagged union of per-node-type configuration shapes. Exactly
// one concrete type exists per node type; points that interpret config match
// exhaustively on the concrete type rather than probing optional fields.
type Config interface {
	// NodeType returns the node type tag this config belongs to.
	NodeType() string
	// Clone returns a deep copy.
	Clone() Config
}

// Condition types understood by the router evaluation engine.
const (
	ConditionKeyword  = "keyword"
	ConditionSemantic = "semantic"
	ConditionCustom   = "custom"
)

// Condition operators. Comparisons are case-sensitive.
const (
	OperatorContains   = "contains"
	OperatorEquals     = "equals"
	OperatorStartsWith = "starts_with"
	OperatorEndsWith   = "ends_with"
	OperatorRegex      = "regex"
)

// Condition is one routing rule of a router node. Conditions are evaluated
// in stored order; the first match wins.
type Condition struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// RouterConfig configures a router node.
type RouterConfig struct {
	Conditions   []Condition `json:"conditions"`
	DefaultRoute string      `json:"default_route"`

	// Extra preserves keys this build does not understand so a round trip
	// through the editor cannot drop backend-only fields.
	Extra map[string]json.RawMessage `json:"-"`
}

func (c *RouterConfig) NodeType() string { return "router" }

func (c *RouterConfig) Clone() Config {
	clone := &RouterConfig{DefaultRoute: c.DefaultRoute, Extra: cloneExtra(c.Extra)}
	if len(c.Conditions) > 0 {
		clone.Conditions = make([]Condition, len(c.Conditions))
		copy(clone.Conditions, c.Conditions)
	}
	return clone
}

// Retriever types for RAG nodes.
const (
	RetrieverSemantic = "semantic"
	RetrieverKeyword  = "keyword"
	RetrieverHybrid   = "hybrid"
)

// Bounds for slider-style numeric fields. Out-of-range values are clamped
// on merge, mirroring bounded inputs rather than hard validation errors.
const (
	TopKMin = 1
	TopKMax = 20

	MaxTokensMin = 500
	MaxTokensMax = 4000
)

// RAGRetrieverConfig configures a retrieval node.
type RAGRetrieverConfig struct {
	RetrieverType       string  `json:"retriever_type"`
	CollectionName      string  `json:"collection_name"`
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (c *RAGRetrieverConfig) NodeType() string { return "rag_retriever" }

func (c *RAGRetrieverConfig) Clone() Config {
	clone := *c
	clone.Extra = cloneExtra(c.Extra)
	return &clone
}

// LLMAgentConfig configures a language-model node. AgentID references an
// externally managed agent profile.
type LLMAgentConfig struct {
	AgentID      string  `json:"agent_id"`
	ModelName    string  `json:"model_name"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	SystemPrompt string  `json:"system_prompt"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (c *LLMAgentConfig) NodeType() string { return "llm" }

func (c *LLMAgentConfig) Clone() Config {
	clone := *c
	clone.Extra = cloneExtra(c.Extra)
	return &clone
}

// InputConfig configures an input node. Input nodes carry no typed fields
// today; the shape exists so unknown backend fields survive editing.
type InputConfig struct {
	Extra map[string]json.RawMessage `json:"-"`
}

func (c *InputConfig) NodeType() string { return "input" }

func (c *InputConfig) Clone() Config { return &InputConfig{Extra: cloneExtra(c.Extra)} }

// OutputConfig configures an output node.
type OutputConfig struct {
	Extra map[string]json.RawMessage `json:"-"`
}

func (c *OutputConfig) NodeType() string { return "output" }

func (c *OutputConfig) Clone() Config { return &OutputConfig{Extra: cloneExtra(c.Extra)} }

func cloneExtra(extra map[string]json.RawMessage) map[string]json.RawMessage {
	if len(extra) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(extra))
	for k, v := range extra {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
