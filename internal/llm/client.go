// Package llm talks to the local generation service. Model inference is
// out of process; this client only shapes the request from the llm node's
// config and carries the reply back.
package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atelier-ai/atelier/internal/backend"
	"github.com/atelier-ai/atelier/internal/execution"
	"github.com/atelier-ai/atelier/internal/nodeconfig"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type generateRequest struct {
	AgentID     string        `json:"agent_id,omitempty"`
	Model       string        `json:"model,omitempty"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Context     string        `json:"context,omitempty"`
	Messages    []chatMessage `json:"messages"`
}

type generateResponse struct {
	Content   string `json:"content"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Client implements the llm stage against the generation service.
type Client struct {
	http   *backend.Client
	logger *zap.Logger
}

// NewClient builds a generation client for the given base URL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   backend.NewClient("llm", baseURL, timeout, logger),
		logger: logger,
	}
}

// Generate runs one completion with the node's config. History turns are
// forwarded as-is; retrieved context rides a dedicated field so the
// service can place it in its prompt template.
func (c *Client) Generate(ctx context.Context, cfg *nodeconfig.LLMAgentConfig, req execution.GenerateRequest) (execution.GenerateResult, error) {
	msgs := make([]chatMessage, 0, len(req.History)+1)
	for _, turn := range req.History {
		msgs = append(msgs, chatMessage{Role: turn.Role, Content: turn.Content})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})

	system := cfg.SystemPrompt
	if req.SystemPrompt != "" {
		system = req.SystemPrompt
	}

	wire := generateRequest{
		AgentID:     cfg.AgentID,
		Model:       cfg.ModelName,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		System:      system,
		Context:     req.RetrievedContext,
		Messages:    msgs,
	}

	var resp generateResponse
	if err := c.http.PostJSON(ctx, "generate", "/api/v1/generate", wire, &resp); err != nil {
		return execution.GenerateResult{}, err
	}

	c.logger.Debug("Generation complete",
		zap.String("model", cfg.ModelName),
		zap.Int("history_turns", len(req.History)),
	)
	return execution.GenerateResult{Content: resp.Content, Reasoning: resp.Reasoning}, nil
}
