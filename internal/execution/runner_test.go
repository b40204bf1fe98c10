package execution

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/atelier-ai/atelier/internal/nodeconfig"
	"github.com/atelier-ai/atelier/internal/router"
	"github.com/atelier-ai/atelier/internal/workflow"
)

type fakeRetriever struct {
	calls int
	err   error
}

func (f *fakeRetriever) Retrieve(_ context.Context, cfg *nodeconfig.RAGRetrieverConfig, query string) (RetrievalResult, error) {
	f.calls++
	if f.err != nil {
		return RetrievalResult{}, f.err
	}
	return RetrievalResult{
		Chunks:  3,
		Summary: "retrieved 3 chunks from " + cfg.CollectionName,
		Context: "context for " + query,
	}, nil
}

type fakeLLM struct {
	calls   int
	lastReq GenerateRequest
	err     error
}

func (f *fakeLLM) Generate(_ context.Context, _ *nodeconfig.LLMAgentConfig, req GenerateRequest) (GenerateResult, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return GenerateResult{}, f.err
	}
	return GenerateResult{Content: "reply to " + req.Prompt, Reasoning: "direct answer"}, nil
}

// branchingWorkflow builds Input -> Router -> {RAG -> LLM, LLM} -> Output
// with a "contains docs" condition and "direct" as the default route.
func branchingWorkflow() *workflow.Workflow {
	routerCfg := &nodeconfig.RouterConfig{
		Conditions: []nodeconfig.Condition{
			{ID: "rag", Type: nodeconfig.ConditionKeyword, Field: "user_input", Operator: nodeconfig.OperatorContains, Value: "docs"},
		},
		DefaultRoute: "direct",
	}
	return &workflow.Workflow{
		ID:   "wf-branch",
		Name: "branching",
		Mode: workflow.ModePro,
		Nodes: []workflow.Node{
			{ID: "in", Type: workflow.NodeTypeInput, Config: &nodeconfig.InputConfig{}, IsEnabled: true},
			{ID: "rt", Type: workflow.NodeTypeRouter, Config: routerCfg, IsEnabled: true},
			{ID: "rag", Type: workflow.NodeTypeRAGRetriever, Config: &nodeconfig.RAGRetrieverConfig{RetrieverType: nodeconfig.RetrieverSemantic, CollectionName: "kb", TopK: 5, SimilarityThreshold: 0.7}, IsEnabled: true},
			{ID: "gen", Type: workflow.NodeTypeLLM, Config: &nodeconfig.LLMAgentConfig{ModelName: "local", Temperature: 0.7, MaxTokens: 2000}, IsEnabled: true},
			{ID: "out", Type: workflow.NodeTypeOutput, Config: &nodeconfig.OutputConfig{}, IsEnabled: true},
		},
		Connections: []workflow.Connection{
			{ID: "c1", FromNodeID: "in", ToNodeID: "rt"},
			{ID: "c2", FromNodeID: "rt", ToNodeID: "rag", Condition: "rag"},
			{ID: "c3", FromNodeID: "rt", ToNodeID: "gen", Condition: "direct"},
			{ID: "c4", FromNodeID: "rag", ToNodeID: "gen"},
			{ID: "c5", FromNodeID: "gen", ToNodeID: "out"},
		},
	}
}

func newTestRunner(ret Retriever, llm LLM) *Runner {
	return NewRunner(router.NewEngine(nil), ret, llm, nil)
}

func TestRunRoutesThroughRAGPath(t *testing.T) {
	ret := &fakeRetriever{}
	llm := &fakeLLM{}
	r := newTestRunner(ret, llm)

	res, err := r.Run(context.Background(), branchingWorkflow(), Input{Message: "find the docs for X"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Route != "rag" {
		t.Fatalf("expected rag route, got %q", res.Route)
	}
	if ret.calls != 1 {
		t.Fatalf("retriever called %d times", ret.calls)
	}
	if res.Log.RAG == "" {
		t.Fatal("rag stage must appear in the log on the RAG path")
	}
	if !strings.Contains(llm.lastReq.RetrievedContext, "find the docs for X") {
		t.Fatalf("retrieved context not passed to llm: %q", llm.lastReq.RetrievedContext)
	}
}

func TestRunRoutesThroughDirectPath(t *testing.T) {
	ret := &fakeRetriever{}
	llm := &fakeLLM{}
	r := newTestRunner(ret, llm)

	res, err := r.Run(context.Background(), branchingWorkflow(), Input{Message: "hello"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Route != "direct" {
		t.Fatalf("expected direct route, got %q", res.Route)
	}
	if ret.calls != 0 {
		t.Fatal("retriever must not run on the direct path")
	}
	if res.Log.RAG != "" {
		t.Fatalf("rag stage must be absent on the direct path, got %q", res.Log.RAG)
	}
}

func TestRunRouterLogDiffersByPath(t *testing.T) {
	r := newTestRunner(&fakeRetriever{}, &fakeLLM{})

	docs, err := r.Run(context.Background(), branchingWorkflow(), Input{Message: "find the docs for X"})
	if err != nil {
		t.Fatalf("docs run: %v", err)
	}
	direct, err := r.Run(context.Background(), branchingWorkflow(), Input{Message: "hello"})
	if err != nil {
		t.Fatalf("direct run: %v", err)
	}
	if docs.Log.Router == "" || direct.Log.Router == "" {
		t.Fatal("both runs must record a router entry")
	}
	if docs.Log.Router == direct.Log.Router {
		t.Fatalf("router entries must differ: %q", docs.Log.Router)
	}
}

func TestRunSkipsDisabledRAGNode(t *testing.T) {
	ret := &fakeRetriever{}
	llm := &fakeLLM{}
	r := newTestRunner(ret, llm)

	w := branchingWorkflow()
	for i := range w.Nodes {
		if w.Nodes[i].ID == "rag" {
			w.Nodes[i].IsEnabled = false
		}
	}

	// The rag edge now targets a disabled node, so the docs message falls
	// back to the default route.
	res, err := r.Run(context.Background(), w, Input{Message: "find the docs for X"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if ret.calls != 0 {
		t.Fatal("disabled retriever node must not run")
	}
	if res.Log.RAG != "" {
		t.Fatal("rag stage must be absent when the node is disabled")
	}
}

func TestRunUnroutableSurfaces(t *testing.T) {
	r := newTestRunner(&fakeRetriever{}, &fakeLLM{})

	w := branchingWorkflow()
	// Remove both router edges so evaluation has nowhere to go.
	var kept []workflow.Connection
	for _, c := range w.Connections {
		if c.FromNodeID != "rt" {
			kept = append(kept, c)
		}
	}
	w.Connections = kept

	_, err := r.Run(context.Background(), w, Input{Message: "hello"})
	var ur *router.UnroutableError
	if !errors.As(err, &ur) {
		t.Fatalf("expected UnroutableError, got %v", err)
	}
}

func TestRunRetrieverErrorSurfaces(t *testing.T) {
	ret := &fakeRetriever{err: errors.New("backend unreachable")}
	r := newTestRunner(ret, &fakeLLM{})

	_, err := r.Run(context.Background(), branchingWorkflow(), Input{Message: "find the docs"})
	if err == nil || !strings.Contains(err.Error(), "backend unreachable") {
		t.Fatalf("expected retrieval error, got %v", err)
	}
}

func TestRunPersonaRecorded(t *testing.T) {
	r := newTestRunner(&fakeRetriever{}, &fakeLLM{})

	res, err := r.Run(context.Background(), branchingWorkflow(), Input{Message: "hello", Persona: "mentor"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Log.Persona != "mentor" {
		t.Fatalf("persona not recorded: %q", res.Log.Persona)
	}
}

func TestRunNoInputNode(t *testing.T) {
	r := newTestRunner(&fakeRetriever{}, &fakeLLM{})

	w := branchingWorkflow()
	for i := range w.Nodes {
		if w.Nodes[i].Type == workflow.NodeTypeInput {
			w.Nodes[i].IsEnabled = false
		}
	}
	if _, err := r.Run(context.Background(), w, Input{Message: "hi"}); !errors.Is(err, ErrNoInputNode) {
		t.Fatalf("expected ErrNoInputNode, got %v", err)
	}
}

func TestRunStepLimitOnCycle(t *testing.T) {
	r := newTestRunner(&fakeRetriever{}, &fakeLLM{})

	w := &workflow.Workflow{
		ID: "wf-loop", Name: "loop", Mode: workflow.ModeFlash,
		Nodes: []workflow.Node{
			{ID: "in", Type: workflow.NodeTypeInput, Config: &nodeconfig.InputConfig{}, IsEnabled: true},
			{ID: "a", Type: workflow.NodeTypeLLM, Config: &nodeconfig.LLMAgentConfig{}, IsEnabled: true},
			{ID: "b", Type: workflow.NodeTypeLLM, Config: &nodeconfig.LLMAgentConfig{}, IsEnabled: true},
		},
		Connections: []workflow.Connection{
			{ID: "c1", FromNodeID: "in", ToNodeID: "a"},
			{ID: "c2", FromNodeID: "a", ToNodeID: "b"},
			{ID: "c3", FromNodeID: "b", ToNodeID: "a"},
		},
	}
	if _, err := r.Run(context.Background(), w, Input{Message: "hi"}); !errors.Is(err, ErrStepLimit) {
		t.Fatalf("expected ErrStepLimit, got %v", err)
	}
}

func TestTrailWriteOnce(t *testing.T) {
	tr := NewTrail()
	if err := tr.SetRouter("first"); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := tr.SetRouter("second"); !errors.Is(err, ErrStageWritten) {
		t.Fatalf("expected ErrStageWritten, got %v", err)
	}

	log := tr.Finish()
	if log.Router != "first" {
		t.Fatalf("second write must not overwrite: %q", log.Router)
	}
	if err := tr.SetRAG("late"); !errors.Is(err, ErrStageWritten) {
		t.Fatalf("writes after Finish must fail, got %v", err)
	}
}

func TestTrailSkipsEmptyValues(t *testing.T) {
	tr := NewTrail()
	if err := tr.SetRAG(""); err != nil {
		t.Fatalf("empty write: %v", err)
	}
	if err := tr.SetRAG("retrieved 2 chunks"); err != nil {
		t.Fatalf("real write after empty: %v", err)
	}
	if log := tr.Finish(); log.RAG != "retrieved 2 chunks" {
		t.Fatalf("unexpected rag entry: %q", log.RAG)
	}
}
