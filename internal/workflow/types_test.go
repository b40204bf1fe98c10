package workflow

import (
	"encoding/json"
	"testing"

	"github.com/atelier-ai/atelier/internal/nodeconfig"
)

func TestNodeUnmarshalDefaults(t *testing.T) {
	raw := []byte(`{"id": "n1", "node_type": "llm", "node_name": "Writer"}`)
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !n.IsEnabled {
		t.Error("is_enabled should default to true")
	}
	llm, ok := n.Config.(*nodeconfig.LLMAgentConfig)
	if !ok {
		t.Fatalf("config = %T, want *LLMAgentConfig", n.Config)
	}
	if llm.Temperature != 0.7 || llm.MaxTokens != 2000 {
		t.Errorf("defaults not applied: %+v", llm)
	}
}

func TestNodeUnmarshalExplicitDisabled(t *testing.T) {
	raw := []byte(`{"id": "n1", "node_type": "output", "is_enabled": false}`)
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if n.IsEnabled {
		t.Error("is_enabled should stay false when set explicitly")
	}
}

func TestNodeUnmarshalBadConfigNamesNode(t *testing.T) {
	raw := []byte(`{"id": "n1", "node_type": "llm", "config": {"max_tokens": "many"}}`)
	var n Node
	err := json.Unmarshal(raw, &n)
	if err == nil {
		t.Fatal("expected error for mistyped config field")
	}
}

func TestRouteConnectionSkipsDisabledTarget(t *testing.T) {
	w := validWorkflow()
	w.Nodes = append(w.Nodes, Node{ID: "alt", Type: NodeTypeLLM, Config: nodeconfig.Default("llm"), IsEnabled: false})
	w.Connections = append(w.Connections,
		Connection{ID: "r1", FromNodeID: "in", ToNodeID: "alt", Condition: "docs"},
	)

	if _, ok := w.RouteConnection("in", "docs"); ok {
		t.Fatal("route into disabled node should not resolve")
	}

	w.NodeByID("alt").IsEnabled = true
	conn, ok := w.RouteConnection("in", "docs")
	if !ok || conn.ToNodeID != "alt" {
		t.Fatalf("RouteConnection = %+v, %v", conn, ok)
	}
}

func TestOutgoingPreservesStoredOrder(t *testing.T) {
	w := &Workflow{
		Connections: []Connection{
			{ID: "b", FromNodeID: "n", ToNodeID: "2"},
			{ID: "a", FromNodeID: "n", ToNodeID: "1"},
			{ID: "c", FromNodeID: "other", ToNodeID: "3"},
		},
	}
	out := w.Outgoing("n")
	if len(out) != 2 || out[0].ID != "b" || out[1].ID != "a" {
		t.Fatalf("Outgoing = %+v", out)
	}
}

func TestCloneIsDeep(t *testing.T) {
	w := validWorkflow()
	clone := w.Clone()

	clone.Nodes[1].Config.(*nodeconfig.LLMAgentConfig).Temperature = 0.1
	clone.Connections[0].ToNodeID = "elsewhere"

	if w.Nodes[1].Config.(*nodeconfig.LLMAgentConfig).Temperature != 0.7 {
		t.Error("clone shares node config with original")
	}
	if w.Connections[0].ToNodeID != "llm" {
		t.Error("clone shares connections slice with original")
	}
}
