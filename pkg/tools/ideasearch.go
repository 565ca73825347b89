package tools

import (
	"context"
	"strings"

	"github.com/famlabs/agentnode/pkg/memory"
	"github.com/famlabs/agentnode/pkg/policy"
)

// Embedder turns text into a dense vector. Implemented by the LLM client.
type Embedder interface {
	Embed(ctx context.Context, text string) (memory.Embedding, error)
}

// IdeaSearchTool runs semantic search over vector memory. Tier 1 because the
// query text leaves the node to reach the embeddings API.
type IdeaSearchTool struct {
	embedder Embedder
	vectors  *memory.VectorStore
}

// NewIdeaSearchTool binds the search tool to an embedder and vector store.
func NewIdeaSearchTool(embedder Embedder, vectors *memory.VectorStore) *IdeaSearchTool {
	return &IdeaSearchTool{embedder: embedder, vectors: vectors}
}

func (*IdeaSearchTool) Name() string      { return "idea_search" }
func (*IdeaSearchTool) Tier() policy.Tier { return policy.Tier1 }

func (t *IdeaSearchTool) Execute(ctx context.Context, payload map[string]any) Result {
	query := strings.TrimSpace(payloadString(payload, "query"))
	if query == "" {
		return errResult("Missing query")
	}
	limit := payloadInt(payload, "limit", 8)
	if limit < 1 {
		limit = 1
	}
	if limit > 25 {
		limit = 25
	}

	emb, err := t.embedder.Embed(ctx, query)
	if err != nil {
		return errResult("%s", err)
	}
	hits, err := t.vectors.Search(ctx, emb, limit)
	if err != nil {
		return errResult("%s", err)
	}
	matches := make([]map[string]any, 0, len(hits))
	for _, hit := range hits {
		matches = append(matches, map[string]any{
			"id":    hit.ID,
			"text":  hit.Text,
			"score": hit.Score,
		})
	}
	return Result{OK: true, Output: map[string]any{
		"query":   query,
		"matches": matches,
	}}
}
