// Package retrieval talks to the local retrieval service that owns
// embeddings and the vector store. The graph core never sees vectors;
// it sends a query plus the retriever node's config and receives chunks.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atelier-ai/atelier/internal/backend"
	"github.com/atelier-ai/atelier/internal/execution"
	"github.com/atelier-ai/atelier/internal/nodeconfig"
)

// Chunk is one retrieved passage.
type Chunk struct {
	Text   string  `json:"text"`
	Source string  `json:"source,omitempty"`
	Score  float64 `json:"score"`
}

type searchRequest struct {
	Query               string  `json:"query"`
	RetrieverType       string  `json:"retriever_type"`
	CollectionName      string  `json:"collection_name"`
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
}

type searchResponse struct {
	Chunks []Chunk `json:"chunks"`
}

// Client implements the rag_retriever stage against the retrieval service.
type Client struct {
	http   *backend.Client
	logger *zap.Logger
}

// NewClient builds a retrieval client for the given base URL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   backend.NewClient("retrieval", baseURL, timeout, logger),
		logger: logger,
	}
}

// Retrieve runs one search with the node's config and summarizes the
// outcome for the execution log.
func (c *Client) Retrieve(ctx context.Context, cfg *nodeconfig.RAGRetrieverConfig, query string) (execution.RetrievalResult, error) {
	req := searchRequest{
		Query:               query,
		RetrieverType:       cfg.RetrieverType,
		CollectionName:      cfg.CollectionName,
		TopK:                cfg.TopK,
		SimilarityThreshold: cfg.SimilarityThreshold,
	}

	var resp searchResponse
	if err := c.http.PostJSON(ctx, "search", "/api/v1/search", req, &resp); err != nil {
		return execution.RetrievalResult{}, err
	}

	c.logger.Debug("Retrieval complete",
		zap.String("collection", cfg.CollectionName),
		zap.Int("chunks", len(resp.Chunks)),
	)

	var b strings.Builder
	for i, ch := range resp.Chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(ch.Text)
	}

	summary := fmt.Sprintf("retrieved %d chunks from '%s' (%s, top_k=%d)",
		len(resp.Chunks), cfg.CollectionName, cfg.RetrieverType, cfg.TopK)
	return execution.RetrievalResult{
		Chunks:  len(resp.Chunks),
		Summary: summary,
		Context: b.String(),
	}, nil
}
