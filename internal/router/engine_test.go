package router

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/atelier-ai/atelier/internal/nodeconfig"
)

func keywordCond(id, field, op, value string) nodeconfig.Condition {
	return nodeconfig.Condition{ID: id, Type: nodeconfig.ConditionKeyword, Field: field, Operator: op, Value: value}
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	e := NewEngine(zap.NewNop())
	cfg := &nodeconfig.RouterConfig{
		Conditions: []nodeconfig.Condition{
			keywordCond("first", "user_input", nodeconfig.OperatorContains, "docs"),
			keywordCond("second", "user_input", nodeconfig.OperatorContains, "docs"),
		},
		DefaultRoute: "default",
	}

	d := e.Evaluate(context.Background(), cfg, Context{"user_input": "where are the docs"})
	if d.Route != "first" || !d.Matched || d.ConditionID != "first" {
		t.Fatalf("Decision = %+v, want first condition", d)
	}
	if !strings.Contains(d.Reason, "first") {
		t.Errorf("Reason = %q, should name the condition", d.Reason)
	}
}

func TestEvaluateFallsBackToDefault(t *testing.T) {
	e := NewEngine(zap.NewNop())
	cfg := &nodeconfig.RouterConfig{
		Conditions: []nodeconfig.Condition{
			keywordCond("docs", "user_input", nodeconfig.OperatorContains, "docs"),
		},
		DefaultRoute: "direct",
	}

	d := e.Evaluate(context.Background(), cfg, Context{"user_input": "hello"})
	if d.Route != "direct" || d.Matched || d.ConditionID != "" {
		t.Fatalf("Decision = %+v, want default fallback", d)
	}
	if !strings.Contains(d.Reason, "default") {
		t.Errorf("Reason = %q, should mention the default route", d.Reason)
	}
}

func TestEvaluateOperators(t *testing.T) {
	e := NewEngine(zap.NewNop())
	cases := []struct {
		op    string
		value string
		input string
		match bool
	}{
		{nodeconfig.OperatorContains, "doc", "my documents", true},
		{nodeconfig.OperatorContains, "Doc", "my documents", false}, // case-sensitive
		{nodeconfig.OperatorEquals, "hi", "hi", true},
		{nodeconfig.OperatorEquals, "hi", "high", false},
		{nodeconfig.OperatorStartsWith, "how", "how does this work", true},
		{nodeconfig.OperatorStartsWith, "how", "and how", false},
		{nodeconfig.OperatorEndsWith, "?", "really?", true},
		{nodeconfig.OperatorEndsWith, "?", "really", false},
		{nodeconfig.OperatorRegex, `^\d+$`, "12345", true},
		{nodeconfig.OperatorRegex, `^\d+$`, "12a45", false},
	}
	for _, tc := range cases {
		cfg := &nodeconfig.RouterConfig{
			Conditions:   []nodeconfig.Condition{keywordCond("c", "user_input", tc.op, tc.value)},
			DefaultRoute: "default",
		}
		d := e.Evaluate(context.Background(), cfg, Context{"user_input": tc.input})
		if d.Matched != tc.match {
			t.Errorf("%s %q vs %q: matched = %v, want %v", tc.op, tc.value, tc.input, d.Matched, tc.match)
		}
	}
}

func TestEvaluateMissingFieldNeverMatches(t *testing.T) {
	e := NewEngine(zap.NewNop())
	cfg := &nodeconfig.RouterConfig{
		Conditions:   []nodeconfig.Condition{keywordCond("c", "intent", nodeconfig.OperatorEquals, "anything")},
		DefaultRoute: "default",
	}
	d := e.Evaluate(context.Background(), cfg, Context{"user_input": "anything"})
	if d.Matched {
		t.Fatalf("condition on absent field matched: %+v", d)
	}
}

func TestEvaluateInvalidRegexIsNonMatching(t *testing.T) {
	e := NewEngine(zap.NewNop())
	cfg := &nodeconfig.RouterConfig{
		Conditions: []nodeconfig.Condition{
			keywordCond("broken", "user_input", nodeconfig.OperatorRegex, "([unclosed"),
			keywordCond("ok", "user_input", nodeconfig.OperatorContains, "hello"),
		},
		DefaultRoute: "default",
	}

	// Evaluate twice; the second pass exercises the failure cache.
	for i := 0; i < 2; i++ {
		d := e.Evaluate(context.Background(), cfg, Context{"user_input": "hello there"})
		if d.Route != "ok" {
			t.Fatalf("pass %d: Decision = %+v, want later condition to win", i, d)
		}
	}
}

func TestEvaluateUnknownOperatorNeverMatches(t *testing.T) {
	e := NewEngine(zap.NewNop())
	cfg := &nodeconfig.RouterConfig{
		Conditions:   []nodeconfig.Condition{keywordCond("c", "user_input", "fuzzy_match", "x")},
		DefaultRoute: "default",
	}
	d := e.Evaluate(context.Background(), cfg, Context{"user_input": "x"})
	if d.Matched {
		t.Fatalf("unknown operator matched: %+v", d)
	}
}

func TestEvaluateCustomRegoCondition(t *testing.T) {
	e := NewEngine(zap.NewNop())
	cfg := &nodeconfig.RouterConfig{
		Conditions: []nodeconfig.Condition{
			{
				ID:    "long_question",
				Type:  nodeconfig.ConditionCustom,
				Field: "user_input",
				Value: `contains(input.value, "?"); count(input.value) > 10`,
			},
		},
		DefaultRoute: "default",
	}

	d := e.Evaluate(context.Background(), cfg, Context{"user_input": "how does routing work?"})
	if !d.Matched || d.Route != "long_question" {
		t.Fatalf("Decision = %+v, want custom rule match", d)
	}

	d = e.Evaluate(context.Background(), cfg, Context{"user_input": "hi?"})
	if d.Matched {
		t.Fatalf("short input matched length rule: %+v", d)
	}
}

func TestEvaluateCustomRuleThatDoesNotCompile(t *testing.T) {
	e := NewEngine(zap.NewNop())
	cfg := &nodeconfig.RouterConfig{
		Conditions: []nodeconfig.Condition{
			{ID: "bad", Type: nodeconfig.ConditionCustom, Field: "user_input", Value: "this is not rego ((("},
		},
		DefaultRoute: "safe",
	}

	for i := 0; i < 2; i++ {
		d := e.Evaluate(context.Background(), cfg, Context{"user_input": "anything"})
		if d.Route != "safe" {
			t.Fatalf("pass %d: Decision = %+v, want default route", i, d)
		}
	}
}

func TestContextFromValues(t *testing.T) {
	ec := ContextFromValues(map[string]interface{}{
		"message": "hello",
		"retries": 3,
		"score":   0.25,
		"urgent":  true,
		"nested":  map[string]string{"dropped": "yes"},
	})
	want := Context{
		"message": "hello",
		"retries": "3",
		"score":   "0.25",
		"urgent":  "true",
	}
	if len(ec) != len(want) {
		t.Fatalf("context = %v, want %v", ec, want)
	}
	for k, v := range want {
		if ec[k] != v {
			t.Errorf("ec[%q] = %q, want %q", k, ec[k], v)
		}
	}
}
