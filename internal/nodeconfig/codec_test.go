package nodeconfig

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeDefaultsWhenKeysAbsent(t *testing.T) {
	cfg, err := Decode("rag_retriever", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	rag := cfg.(*RAGRetrieverConfig)
	if rag.RetrieverType != RetrieverSemantic {
		t.Errorf("retriever_type = %q, want %q", rag.RetrieverType, RetrieverSemantic)
	}
	if rag.TopK != 5 {
		t.Errorf("top_k = %d, want 5", rag.TopK)
	}
	if rag.SimilarityThreshold != 0.7 {
		t.Errorf("similarity_threshold = %v, want 0.7", rag.SimilarityThreshold)
	}
}

func TestDecodeClampsSliders(t *testing.T) {
	cases := []struct {
		name     string
		nodeType string
		raw      string
		check    func(t *testing.T, cfg Config)
	}{
		{"top_k high", "rag_retriever", `{"top_k": 25}`, func(t *testing.T, cfg Config) {
			if got := cfg.(*RAGRetrieverConfig).TopK; got != TopKMax {
				t.Errorf("top_k = %d, want %d", got, TopKMax)
			}
		}},
		{"top_k low", "rag_retriever", `{"top_k": 0}`, func(t *testing.T, cfg Config) {
			if got := cfg.(*RAGRetrieverConfig).TopK; got != TopKMin {
				t.Errorf("top_k = %d, want %d", got, TopKMin)
			}
		}},
		{"similarity high", "rag_retriever", `{"similarity_threshold": 1.8}`, func(t *testing.T, cfg Config) {
			if got := cfg.(*RAGRetrieverConfig).SimilarityThreshold; got != 1 {
				t.Errorf("similarity_threshold = %v, want 1", got)
			}
		}},
		{"max_tokens high", "llm", `{"max_tokens": 9000}`, func(t *testing.T, cfg Config) {
			if got := cfg.(*LLMAgentConfig).MaxTokens; got != MaxTokensMax {
				t.Errorf("max_tokens = %d, want %d", got, MaxTokensMax)
			}
		}},
		{"max_tokens low", "llm", `{"max_tokens": 100}`, func(t *testing.T, cfg Config) {
			if got := cfg.(*LLMAgentConfig).MaxTokens; got != MaxTokensMin {
				t.Errorf("max_tokens = %d, want %d", got, MaxTokensMin)
			}
		}},
		{"temperature high", "llm", `{"temperature": 1.5}`, func(t *testing.T, cfg Config) {
			if got := cfg.(*LLMAgentConfig).Temperature; got != 1 {
				t.Errorf("temperature = %v, want 1", got)
			}
		}},
		{"temperature negative", "llm", `{"temperature": -0.2}`, func(t *testing.T, cfg Config) {
			if got := cfg.(*LLMAgentConfig).Temperature; got != 0 {
				t.Errorf("temperature = %v, want 0", got)
			}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Decode(tc.nodeType, json.RawMessage(tc.raw))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			tc.check(t, cfg)
		})
	}
}

func TestDecodePreservesUnknownKeys(t *testing.T) {
	raw := json.RawMessage(`{"temperature": 0.5, "custom_flag": {"nested": true}}`)
	cfg, err := Decode("llm", raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	llm := cfg.(*LLMAgentConfig)
	if _, ok := llm.Extra["custom_flag"]; !ok {
		t.Fatal("custom_flag not preserved in Extra")
	}

	out, err := json.Marshal(llm)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(out), `"custom_flag"`) {
		t.Errorf("round trip dropped custom_flag: %s", out)
	}
	if !strings.Contains(string(out), `"nested":true`) {
		t.Errorf("round trip altered custom_flag payload: %s", out)
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode("router", json.RawMessage(`{not json`))
	if !IsParseError(err) {
		t.Fatalf("err = %v, want ParseError", err)
	}
}

func TestDecodeWrongFieldType(t *testing.T) {
	_, err := Decode("llm", json.RawMessage(`{"max_tokens": "lots"}`))
	if !IsValidationError(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestDecodeRouterConditions(t *testing.T) {
	raw := json.RawMessage(`{
		"conditions": [{"id": "docs", "type": "keyword", "field": "user_input", "operator": "contains", "value": "docs"}],
		"default_route": "direct"
	}`)
	cfg, err := Decode("router", raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	rc := cfg.(*RouterConfig)
	if len(rc.Conditions) != 1 || rc.Conditions[0].ID != "docs" {
		t.Fatalf("conditions = %+v", rc.Conditions)
	}
	if rc.DefaultRoute != "direct" {
		t.Errorf("default_route = %q, want direct", rc.DefaultRoute)
	}
}

func TestMergeDoesNotMutateExistingOnError(t *testing.T) {
	existing := &LLMAgentConfig{Temperature: 0.7, MaxTokens: 2000}
	_, err := Merge(existing, json.RawMessage(`{"temperature": "hot", "max_tokens": 3000}`))
	if !IsValidationError(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if existing.Temperature != 0.7 || existing.MaxTokens != 2000 {
		t.Errorf("existing config mutated: %+v", existing)
	}
}

func TestMergeOverlaysAndClamps(t *testing.T) {
	existing := &LLMAgentConfig{Temperature: 0.7, MaxTokens: 2000, SystemPrompt: "be brief"}
	merged, err := Merge(existing, json.RawMessage(`{"max_tokens": 9000}`))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	got := merged.(*LLMAgentConfig)
	if got.MaxTokens != MaxTokensMax {
		t.Errorf("max_tokens = %d, want %d", got.MaxTokens, MaxTokensMax)
	}
	if got.SystemPrompt != "be brief" {
		t.Errorf("system_prompt = %q, untouched field changed", got.SystemPrompt)
	}
	if existing.MaxTokens != 2000 {
		t.Errorf("existing mutated: max_tokens = %d", existing.MaxTokens)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	orig := &RouterConfig{
		Conditions:   []Condition{{ID: "a", Field: "user_input", Operator: OperatorContains, Value: "x"}},
		DefaultRoute: "default",
		Extra:        map[string]json.RawMessage{"k": json.RawMessage(`1`)},
	}
	clone := orig.Clone().(*RouterConfig)
	clone.Conditions[0].Value = "y"
	clone.Extra["k"] = json.RawMessage(`2`)
	if orig.Conditions[0].Value != "x" {
		t.Error("clone shares conditions slice with original")
	}
	if string(orig.Extra["k"]) != "1" {
		t.Error("clone shares extra map with original")
	}
}

func TestDefaultUnknownTypeIsOpaque(t *testing.T) {
	cfg, err := Decode("future_node", json.RawMessage(`{"anything": [1,2,3]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	out, ok := cfg.(*OutputConfig)
	if !ok {
		t.Fatalf("cfg = %T, want *OutputConfig", cfg)
	}
	if _, present := out.Extra["anything"]; !present {
		t.Error("opaque blob did not preserve keys")
	}
}
