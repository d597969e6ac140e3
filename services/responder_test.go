package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/answerdesk/answerdesk/logger"
	"github.com/answerdesk/answerdesk/models"
	"github.com/answerdesk/answerdesk/storage"
)

// newProviderServer stubs both OpenAI-compatible endpoints: embeddings return
// a fixed unit vector so any query matches any stored chunk, completions echo
// a fixed grounded answer.
func newProviderServer(t *testing.T, answer string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/embeddings":
			resp := map[string]interface{}{
				"data": []map[string]interface{}{
					{"embedding": []float32{1, 0, 0}, "index": 0},
				},
			}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		case "/chat/completions":
			resp := map[string]interface{}{
				"choices": []map[string]interface{}{
					{"message": map[string]string{"content": answer}},
				},
			}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestResponder(srvURL, apiKey string, store *storage.MemoryStore) *Responder {
	log := logger.NewNop()
	embedder := NewEmbedder(srvURL, apiKey, "test-embed", 3, log)
	generator := NewGenerator(srvURL, apiKey, "test-chat", 0.1, 1024, log)
	retriever := NewRetriever(store, embedder)
	return NewResponder(retriever, generator, store, 5, log)
}

func seedPolicyChunk(t *testing.T, store *storage.MemoryStore, workspaceID, documentID string) {
	t.Helper()
	require.NoError(t, store.InsertChunks(context.Background(), []models.Chunk{{
		DocumentID:  documentID,
		WorkspaceID: workspaceID,
		Content:     "Refunds are available within 30 days of purchase.",
		Embedding:   []float32{1, 0, 0},
		Metadata:    models.ChunkMetadata{Index: 0, Total: 1},
	}}))
}

func TestAnswerGroundedWithSources(t *testing.T) {
	srv := newProviderServer(t, "You can get a refund within 30 days.")
	defer srv.Close()

	store := storage.NewMemoryStore()
	seedPolicyChunk(t, store, "ws-1", "doc-policy")

	r := newTestResponder(srv.URL, "test-key", store)
	answer := r.Answer(context.Background(), "ws-1", "conv-1", "What is the refund policy?", nil, 0)

	require.NotNil(t, answer)
	require.Equal(t, "You can get a refund within 30 days.", answer.Response)
	require.Equal(t, []string{"doc-policy"}, answer.Sources)
}

func TestAnswerDeduplicatesSources(t *testing.T) {
	srv := newProviderServer(t, "ok")
	defer srv.Close()

	store := storage.NewMemoryStore()
	seedPolicyChunk(t, store, "ws-1", "doc-a")
	seedPolicyChunk(t, store, "ws-1", "doc-a")
	seedPolicyChunk(t, store, "ws-1", "doc-b")

	r := newTestResponder(srv.URL, "test-key", store)
	answer := r.Answer(context.Background(), "ws-1", "conv-1", "refund?", nil, 0)

	require.Equal(t, []string{"doc-a", "doc-b"}, answer.Sources)
}

func TestAnswerHonorsTopKOverride(t *testing.T) {
	srv := newProviderServer(t, "ok")
	defer srv.Close()

	store := storage.NewMemoryStore()
	seedPolicyChunk(t, store, "ws-1", "doc-a")
	seedPolicyChunk(t, store, "ws-1", "doc-b")
	seedPolicyChunk(t, store, "ws-1", "doc-c")

	r := newTestResponder(srv.URL, "test-key", store)
	answer := r.Answer(context.Background(), "ws-1", "conv-1", "refund?", nil, 1)

	require.Equal(t, []string{"doc-a"}, answer.Sources)
}

func TestEffectiveTopKClamps(t *testing.T) {
	r := newTestResponder("http://localhost:0", "", storage.NewMemoryStore())

	require.Equal(t, 5, r.effectiveTopK(0))
	require.Equal(t, 5, r.effectiveTopK(-3))
	require.Equal(t, 2, r.effectiveTopK(2))
	require.Equal(t, maxTopK, r.effectiveTopK(1000))
}

func TestAnswerWithoutCredentialFallsBack(t *testing.T) {
	store := storage.NewMemoryStore()
	seedPolicyChunk(t, store, "ws-1", "doc-policy")

	r := newTestResponder("http://localhost:0", "", store)
	answer := r.Answer(context.Background(), "ws-1", "conv-1", "What is the refund policy?", nil, 0)

	require.NotNil(t, answer)
	require.NotEmpty(t, answer.Response)
	require.Empty(t, answer.Sources)
	require.NotNil(t, answer.Sources)
}

func TestAnswerProviderOutageFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	store := storage.NewMemoryStore()
	r := newTestResponder(srv.URL, "test-key", store)

	answer := r.Answer(context.Background(), "ws-1", "conv-1", "hello", nil, 0)

	require.NotNil(t, answer)
	require.NotEmpty(t, answer.Response)
	require.Empty(t, answer.Sources)
}

func TestAnswerPersistsConversationTurn(t *testing.T) {
	srv := newProviderServer(t, "grounded reply")
	defer srv.Close()

	store := storage.NewMemoryStore()
	seedPolicyChunk(t, store, "ws-1", "doc-policy")

	r := newTestResponder(srv.URL, "test-key", store)
	r.Answer(context.Background(), "ws-1", "conv-42", "What is the refund policy?", nil, 0)

	msgs, err := store.ListMessages(context.Background(), "ws-1", "conv-42")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, models.RoleUser, msgs[0].Role)
	require.Equal(t, "What is the refund policy?", msgs[0].Content)
	require.Equal(t, models.RoleAssistant, msgs[1].Role)
	require.Equal(t, "grounded reply", msgs[1].Content)
	require.Equal(t, []string{"doc-policy"}, msgs[1].SourceDocumentIDs)
	require.NotEmpty(t, msgs[0].ID)
	require.NotEqual(t, msgs[0].ID, msgs[1].ID)
}

func TestAnswerStreamEmitsDeltasAndSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/embeddings":
			resp := map[string]interface{}{
				"data": []map[string]interface{}{
					{"embedding": []float32{1, 0, 0}, "index": 0},
				},
			}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		case "/chat/completions":
			w.Header().Set("Content-Type", "text/event-stream")
			w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"with\"}}]}\n\n"))
			w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"in 30 days\"}}]}\n\n"))
			w.Write([]byte("data: [DONE]\n\n"))
		}
	}))
	defer srv.Close()

	store := storage.NewMemoryStore()
	seedPolicyChunk(t, store, "ws-1", "doc-policy")

	r := newTestResponder(srv.URL, "test-key", store)

	var streamed strings.Builder
	answer, err := r.AnswerStream(context.Background(), "ws-1", "conv-1", "refund?", nil, 0, func(delta string) error {
		streamed.WriteString(delta)
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, "within 30 days", streamed.String())
	require.Equal(t, "within 30 days", answer.Response)
	require.Equal(t, []string{"doc-policy"}, answer.Sources)
}

func TestAnswerStreamFallsBackAsSingleFragment(t *testing.T) {
	store := storage.NewMemoryStore()
	r := newTestResponder("http://localhost:0", "", store)

	var deltas []string
	answer, err := r.AnswerStream(context.Background(), "ws-1", "conv-1", "hello", nil, 0, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, deltas, 1)
	require.Equal(t, answer.Response, deltas[0])
	require.Empty(t, answer.Sources)
}

func TestCannedResponseKeywords(t *testing.T) {
	require.Contains(t, strings.ToLower(cannedResponse("I need some help please")), "knowledge base")
	require.NotEmpty(t, cannedResponse("question about my billing cycle"))
	require.NotEmpty(t, cannedResponse("completely unrelated message"))
	require.Equal(t, cannedDefault, cannedResponse("completely unrelated message"))
}

func TestBuildMessagesIncludesContextAndHistory(t *testing.T) {
	results := []models.SearchResult{
		{Chunk: models.Chunk{Content: "Refunds take 30 days."}, Score: 0.9},
	}
	history := []models.ChatMessage{
		{Role: models.RoleUser, Content: "earlier question"},
		{Role: models.RoleAssistant, Content: "earlier answer"},
	}

	messages := buildMessages("current question", history, results)

	require.Len(t, messages, 4)
	require.Equal(t, models.RoleSystem, messages[0].Role)
	require.Contains(t, messages[0].Content, "Refunds take 30 days.")
	require.Equal(t, "earlier question", messages[1].Content)
	require.Equal(t, "earlier answer", messages[2].Content)
	require.Equal(t, models.RoleUser, messages[3].Role)
	require.Equal(t, "current question", messages[3].Content)
}
