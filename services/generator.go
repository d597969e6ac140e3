package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/answerdesk/answerdesk/logger"
	"github.com/answerdesk/answerdesk/models"
)

// ErrNoCredential is returned when no generation credential is configured.
// Callers fall back to canned responses rather than surfacing it to users.
var ErrNoCredential = errors.New("no generation credential configured")

// Generator calls an OpenAI-compatible chat-completion endpoint. Temperature
// defaults low on purpose: answers grounded in retrieved context should be
// near-deterministic for factual consistency.
type Generator struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
	log         *logger.Logger
}

func NewGenerator(baseURL, apiKey, model string, temperature float64, maxTokens int, log *logger.Logger) *Generator {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Generator{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		client: &http.Client{
			Timeout: 120 * time.Second, // longer timeout for generation
		},
		log: log.With("service", "generator"),
	}
}

type chatCompletionRequest struct {
	Model       string               `json:"model"`
	Messages    []models.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens"`
	Stream      bool                 `json:"stream,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Chat runs a full-response completion over the given messages.
func (g *Generator) Chat(ctx context.Context, messages []models.ChatMessage) (string, error) {
	if g.apiKey == "" {
		return "", ErrNoCredential
	}

	resp, err := g.post(ctx, chatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("received empty completion")
	}

	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// ChatStream runs a streaming completion, invoking emit for every text
// fragment as it arrives, and returns the accumulated response. Cancelling
// ctx (or an emit error, e.g. the consumer went away) closes the provider
// connection.
func (g *Generator) ChatStream(ctx context.Context, messages []models.ChatMessage, emit func(delta string) error) (string, error) {
	if g.apiKey == "" {
		return "", ErrNoCredential
	}

	resp, err := g.post(ctx, chatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		Stream:      true,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var event chatStreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			g.log.Warn("skipping malformed stream event", "error", err)
			continue
		}
		if len(event.Choices) == 0 {
			continue
		}
		delta := event.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		full.WriteString(delta)
		if err := emit(delta); err != nil {
			return full.String(), err
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("stream interrupted: %w", err)
	}
	if full.Len() == 0 {
		return "", fmt.Errorf("received empty completion")
	}

	return full.String(), nil
}

func (g *Generator) post(ctx context.Context, body chatCompletionRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion call failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("completion API error (status %d): %s", resp.StatusCode, string(raw))
	}

	return resp, nil
}

// Ping verifies the provider is reachable. A missing credential is not an
// error, it just means chat runs on canned fallbacks.
func (g *Generator) Ping(ctx context.Context) error {
	if g.apiKey == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach generation provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("generation provider returned status %d", resp.StatusCode)
	}
	return nil
}
