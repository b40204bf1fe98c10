package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/atelier-ai/atelier/internal/nodeconfig"
)

func TestRetrieveBuildsRequestFromConfig(t *testing.T) {
	var got searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(searchResponse{Chunks: []Chunk{
			{Text: "first passage", Score: 0.91},
			{Text: "second passage", Score: 0.84},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	cfg := &nodeconfig.RAGRetrieverConfig{
		RetrieverType:       nodeconfig.RetrieverHybrid,
		CollectionName:      "kb",
		TopK:                7,
		SimilarityThreshold: 0.6,
	}

	res, err := c.Retrieve(context.Background(), cfg, "find the docs")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if got.Query != "find the docs" || got.CollectionName != "kb" || got.TopK != 7 {
		t.Fatalf("request not built from config: %+v", got)
	}
	if res.Chunks != 2 {
		t.Fatalf("chunk count = %d", res.Chunks)
	}
	if !strings.Contains(res.Summary, "2 chunks") || !strings.Contains(res.Summary, "kb") {
		t.Fatalf("summary not descriptive: %q", res.Summary)
	}
	if !strings.Contains(res.Context, "first passage") || !strings.Contains(res.Context, "second passage") {
		t.Fatalf("chunks not joined into context: %q", res.Context)
	}
}

func TestRetrieveEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchResponse{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	res, err := c.Retrieve(context.Background(), &nodeconfig.RAGRetrieverConfig{CollectionName: "kb", TopK: 5}, "q")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Chunks != 0 || res.Context != "" {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if !strings.Contains(res.Summary, "0 chunks") {
		t.Fatalf("summary should report zero chunks: %q", res.Summary)
	}
}
