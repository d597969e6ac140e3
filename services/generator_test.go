package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/answerdesk/answerdesk/logger"
	"github.com/answerdesk/answerdesk/models"
)

func TestChatReturnsCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)

		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "test-model", req.Model)
		require.NotEmpty(t, req.Messages)
		require.False(t, req.Stream)

		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "Refunds are available within 30 days."}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	g := NewGenerator(srv.URL, "test-key", "test-model", 0.1, 1024, logger.NewNop())
	out, err := g.Chat(context.Background(), []models.ChatMessage{
		{Role: models.RoleUser, Content: "What is the refund policy?"},
	})

	require.NoError(t, err)
	require.Equal(t, "Refunds are available within 30 days.", out)
}

func TestChatWithoutCredential(t *testing.T) {
	g := NewGenerator("http://localhost:0", "", "test-model", 0.1, 1024, logger.NewNop())

	_, err := g.Chat(context.Background(), []models.ChatMessage{
		{Role: models.RoleUser, Content: "hello"},
	})

	require.ErrorIs(t, err, ErrNoCredential)
}

func TestChatProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewGenerator(srv.URL, "test-key", "test-model", 0.1, 1024, logger.NewNop())
	_, err := g.Chat(context.Background(), []models.ChatMessage{
		{Role: models.RoleUser, Content: "hello"},
	})

	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestChatStreamDeliversDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Refunds ", "take ", "30 days."} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	g := NewGenerator(srv.URL, "test-key", "test-model", 0.1, 1024, logger.NewNop())

	var deltas []string
	full, err := g.ChatStream(context.Background(), []models.ChatMessage{
		{Role: models.RoleUser, Content: "How long do refunds take?"},
	}, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, []string{"Refunds ", "take ", "30 days."}, deltas)
	require.Equal(t, "Refunds take 30 days.", full)
}

func TestChatStreamSkipsMalformedEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	g := NewGenerator(srv.URL, "test-key", "test-model", 0.1, 1024, logger.NewNop())
	full, err := g.ChatStream(context.Background(), []models.ChatMessage{
		{Role: models.RoleUser, Content: "hello"},
	}, func(string) error { return nil })

	require.NoError(t, err)
	require.Equal(t, "ok", full)
}

func TestChatStreamStopsOnEmitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < 10; i++ {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x%d\"}}]}\n\n", i)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	g := NewGenerator(srv.URL, "test-key", "test-model", 0.1, 1024, logger.NewNop())

	emitted := 0
	wantErr := fmt.Errorf("consumer gone")
	_, err := g.ChatStream(context.Background(), []models.ChatMessage{
		{Role: models.RoleUser, Content: "hello"},
	}, func(string) error {
		emitted++
		if emitted == 2 {
			return wantErr
		}
		return nil
	})

	require.ErrorIs(t, err, wantErr)
	require.Equal(t, 2, emitted)
}
