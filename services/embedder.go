package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/answerdesk/answerdesk/logger"
)

// Embedder turns text into fixed-length vectors via an OpenAI-compatible
// embeddings endpoint. It never fails: when no credential is configured or
// the remote call errors, it returns an all-zero placeholder vector so
// ingestion and retrieval degrade instead of blocking on the provider.
// Callers must treat a zero vector as "no signal", not a valid embedding.
type Embedder struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	parallel   int
	client     *http.Client
	log        *logger.Logger
}

func NewEmbedder(baseURL, apiKey, model string, dimensions int, log *logger.Logger) *Embedder {
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &Embedder{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		parallel:   8,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With("service", "embedder"),
	}
}

// Dimensions returns the configured vector dimensionality. Every vector this
// embedder produces, placeholder or not, has exactly this length.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed returns the embedding for a single text, or the zero-vector
// placeholder when the provider is unavailable.
func (e *Embedder) Embed(ctx context.Context, text string) []float32 {
	if e.apiKey == "" {
		return make([]float32, e.dimensions)
	}

	vec, err := e.embedRemote(ctx, text)
	if err != nil {
		e.log.Warn("embedding call failed, using placeholder vector", "error", err)
		return make([]float32, e.dimensions)
	}
	if len(vec) != e.dimensions {
		e.log.Warn("embedding dimensionality mismatch, using placeholder vector",
			"got", len(vec), "want", e.dimensions)
		return make([]float32, e.dimensions)
	}
	return vec
}

// EmbedBatch embeds each text with one call per input, bounded-parallel.
// Order is preserved and failures degrade per-text to placeholder vectors.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallel)
	for i := range texts {
		g.Go(func() error {
			vectors[i] = e.Embed(gctx, texts[i])
			return nil
		})
	}
	_ = g.Wait()

	return vectors
}

func (e *Embedder) embedRemote(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingsRequest{
		Model: e.model,
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings API error (status %d): %s", resp.StatusCode, string(raw))
	}

	var out embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding")
	}

	return out.Data[0].Embedding, nil
}

// Ping verifies the provider is reachable. A missing credential is not an
// error, it just means the embedder runs in placeholder mode.
func (e *Embedder) Ping(ctx context.Context) error {
	if e.apiKey == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach embeddings provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embeddings provider returned status %d", resp.StatusCode)
	}
	return nil
}
