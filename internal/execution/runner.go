package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atelier-ai/atelier/internal/graph"
	ometrics "github.com/atelier-ai/atelier/internal/metrics"
	"github.com/atelier-ai/atelier/internal/nodeconfig"
	"github.com/atelier-ai/atelier/internal/router"
	"github.com/atelier-ai/atelier/internal/workflow"
)

var (
	// ErrNoInputNode is returned when the workflow has no enabled input node.
	ErrNoInputNode = errors.New("workflow has no enabled input node")

	// ErrStepLimit is returned when traversal exceeds the step cap, which
	// indicates a malformed graph that slipped past validation.
	ErrStepLimit = errors.New("pipeline step limit exceeded")

	// ErrNoOutput is returned when traversal ends without producing content.
	ErrNoOutput = errors.New("pipeline ended without reaching an output node")
)

// maxSteps caps traversal so a pathological graph cannot spin the runner.
const maxSteps = 64

// Turn is one prior exchange supplied as conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RetrievalResult is what a retriever stage reports back.
type RetrievalResult struct {
	Chunks  int    // number of retrieved chunks
	Summary string // human-readable trail entry
	Context string // concatenated chunk text handed to the LLM stage
}

// Retriever runs the rag_retriever stage against the retrieval backend.
type Retriever interface {
	Retrieve(ctx context.Context, cfg *nodeconfig.RAGRetrieverConfig, query string) (RetrievalResult, error)
}

// GenerateRequest carries everything the llm stage needs for one turn.
type GenerateRequest struct {
	Prompt           string
	SystemPrompt     string
	RetrievedContext string
	History          []Turn
}

// GenerateResult is the model's reply plus optional intermediate rationale.
type GenerateResult struct {
	Content   string
	Reasoning string
}

// LLM runs the llm stage against the generation backend.
type LLM interface {
	Generate(ctx context.Context, cfg *nodeconfig.LLMAgentConfig, req GenerateRequest) (GenerateResult, error)
}

// Input is one user message entering the pipeline.
type Input struct {
	Message string
	Persona string
	History []Turn

	// Values holds extra routing context beyond the message text, such as
	// attachment flags the UI sets.
	Values map[string]any
}

// Result is the pipeline outcome for one message.
type Result struct {
	Content string
	Route   string
	Log     Log
}

// Runner traverses a workflow synchronously for one message: evaluate the
// router, run retrieval when the chosen path has a rag_retriever node, call
// the model, stop at output. It holds no mutable state between runs, so one
// runner serves concurrent messages.
type Runner struct {
	logger    *zap.Logger
	engine    *router.Engine
	retriever Retriever
	llm       LLM
}

// NewRunner wires a runner. The retriever may be nil for deployments
// without a retrieval backend; rag_retriever nodes then surface an error
// instead of silently passing through.
func NewRunner(engine *router.Engine, retriever Retriever, llm LLM, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{logger: logger, engine: engine, retriever: retriever, llm: llm}
}

// Run executes the workflow for one input message and returns the reply
// content with its execution log. The log names only the stages that ran.
func (r *Runner) Run(ctx context.Context, w *workflow.Workflow, in Input) (Result, error) {
	start := w.InputNode()
	if start == nil || !start.IsEnabled {
		return Result{}, ErrNoInputNode
	}

	trail := NewTrail()
	if in.Persona != "" {
		trail.SetPersona(in.Persona)
	}

	var (
		content       string
		route         string
		retrieved     string
		reachedOutput bool
	)

	current := start
	for step := 0; ; step++ {
		if step >= maxSteps {
			return Result{}, fmt.Errorf("workflow %s: %w", w.ID, ErrStepLimit)
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		if !current.IsEnabled {
			// Disabled nodes are skipped during traversal; only their
			// pass-through position in the chain is preserved.
			next, err := r.advance(w, current)
			if err != nil {
				return Result{}, err
			}
			if next == nil {
				break
			}
			current = next
			continue
		}

		stageStart := time.Now()
		switch current.Type {
		case workflow.NodeTypeInput:
			// Entry marker, no work.

		case workflow.NodeTypeRouter:
			cfg, ok := current.Config.(*nodeconfig.RouterConfig)
			if !ok {
				return Result{}, fmt.Errorf("node %s: config is not a router config", current.ID)
			}
			decision := r.engine.Evaluate(ctx, cfg, r.routingContext(in))
			trail.SetRouter(decision.Reason)
			route = decision.Route

			conn, err := graph.ResolveRoute(w, current.ID, decision.Route)
			if err != nil {
				return Result{}, err
			}
			ometrics.PipelineStageDuration.WithLabelValues("router").Observe(time.Since(stageStart).Seconds())
			current = w.NodeByID(conn.ToNodeID)
			continue

		case workflow.NodeTypeRAGRetriever:
			cfg, ok := current.Config.(*nodeconfig.RAGRetrieverConfig)
			if !ok {
				return Result{}, fmt.Errorf("node %s: config is not a retriever config", current.ID)
			}
			if r.retriever == nil {
				return Result{}, fmt.Errorf("node %s: no retrieval backend configured", current.ID)
			}
			res, err := r.retriever.Retrieve(ctx, cfg, in.Message)
			if err != nil {
				return Result{}, fmt.Errorf("retrieval at node %s: %w", current.ID, err)
			}
			trail.SetRAG(res.Summary)
			retrieved = res.Context
			ometrics.PipelineStageDuration.WithLabelValues("rag").Observe(time.Since(stageStart).Seconds())

		case workflow.NodeTypeLLM:
			cfg, ok := current.Config.(*nodeconfig.LLMAgentConfig)
			if !ok {
				return Result{}, fmt.Errorf("node %s: config is not an llm config", current.ID)
			}
			res, err := r.llm.Generate(ctx, cfg, GenerateRequest{
				Prompt:           in.Message,
				SystemPrompt:     cfg.SystemPrompt,
				RetrievedContext: retrieved,
				History:          in.History,
			})
			if err != nil {
				return Result{}, fmt.Errorf("generation at node %s: %w", current.ID, err)
			}
			content = res.Content
			trail.SetReasoning(res.Reasoning)
			ometrics.PipelineStageDuration.WithLabelValues("llm").Observe(time.Since(stageStart).Seconds())

		case workflow.NodeTypeOutput:
			reachedOutput = true

		default:
			return Result{}, fmt.Errorf("node %s: unknown node type %q", current.ID, current.Type)
		}

		if reachedOutput {
			break
		}
		next, err := r.advance(w, current)
		if err != nil {
			return Result{}, err
		}
		if next == nil {
			break
		}
		current = next
	}

	if !reachedOutput || content == "" {
		return Result{}, fmt.Errorf("workflow %s: %w", w.ID, ErrNoOutput)
	}

	return Result{Content: content, Route: route, Log: trail.Finish()}, nil
}

// advance follows the first outgoing edge of a non-router node. Returns nil
// when the node has no outgoing edges.
func (r *Runner) advance(w *workflow.Workflow, node *workflow.Node) (*workflow.Node, error) {
	out := w.Outgoing(node.ID)
	if len(out) == 0 {
		return nil, nil
	}
	next := w.NodeByID(out[0].ToNodeID)
	if next == nil {
		return nil, fmt.Errorf("connection %s: target node %s not found", out[0].ID, out[0].ToNodeID)
	}
	return next, nil
}

// routingContext flattens the input into the string map router conditions
// evaluate against. The message text is exposed under both "user_input" and
// "message" so either field name authored in a condition resolves.
func (r *Runner) routingContext(in Input) router.Context {
	values := map[string]any{
		"user_input": in.Message,
		"message":    in.Message,
	}
	if in.Persona != "" {
		values["persona"] = in.Persona
	}
	for k, v := range in.Values {
		values[k] = v
	}
	return router.ContextFromValues(values)
}
