package services

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/answerdesk/answerdesk/models"
	"github.com/answerdesk/answerdesk/storage"
)

// Retriever ranks a workspace's stored chunks against a query vector by
// cosine similarity and returns the top-K. The search is brute-force and
// exact (O(n*D) per query): correct and simple, and the first place to put
// an approximate index if a workspace corpus outgrows it. The Search
// signature stays stable across that swap.
type Retriever struct {
	store    storage.ChunkStore
	embedder *Embedder
}

func NewRetriever(store storage.ChunkStore, embedder *Embedder) *Retriever {
	return &Retriever{
		store:    store,
		embedder: embedder,
	}
}

// Retrieve embeds the query and runs Search over the workspace corpus.
func (r *Retriever) Retrieve(ctx context.Context, workspaceID, query string, topK int) ([]models.SearchResult, error) {
	queryVector := r.embedder.Embed(ctx, query)
	return r.Search(ctx, workspaceID, queryVector, topK)
}

// Search scores every chunk in the workspace against the query vector and
// returns at most topK results in descending score order. Equal scores keep
// the store's natural order so results are deterministic. An empty workspace
// yields an empty result, not an error.
func (r *Retriever) Search(ctx context.Context, workspaceID string, queryVector []float32, topK int) ([]models.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}

	chunks, err := r.store.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace chunks: %w", err)
	}

	results := make([]models.SearchResult, 0, len(chunks))
	for _, chunk := range chunks {
		results = append(results, models.SearchResult{
			Chunk: chunk,
			Score: CosineSimilarity(queryVector, chunk.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// CosineSimilarity returns dot(a,b) / (||a|| * ||b||), defined as 0 when the
// vectors differ in length or either has zero magnitude. Zero is also the
// natural score against a placeholder embedding.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
