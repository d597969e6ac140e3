package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/answerdesk/answerdesk/logger"
	"github.com/answerdesk/answerdesk/models"
	"github.com/answerdesk/answerdesk/storage"
)

const ragSystemPrompt = `You are a customer support assistant. Answer the user's question using ONLY the context passages provided below. Quote details exactly as they appear in the context. If the context does not contain the answer, say "I don't have enough information in the knowledge base to answer that." and nothing else. Do not invent policies, prices, or dates.`

// cannedReply is a keyword-matched fallback used when retrieval or generation
// is unavailable. Entries are ordered: the first substring match wins.
type cannedReply struct {
	keyword string
	reply   string
}

var cannedReplies = []cannedReply{
	{"help", "I can help you find answers from your workspace's knowledge base. Upload your support documents and ask me anything about them."},
	{"billing", "For billing questions, please check your account's billing page or reach out to our billing team through the contact form."},
	{"refund", "Refund policies vary by plan. Please check your plan's terms in the knowledge base, or contact support for your specific case."},
	{"contact", "You can reach our support team through the in-app contact form. We typically respond within one business day."},
	{"hours", "Our support team is available Monday through Friday, 9am to 6pm UTC."},
}

const cannedDefault = "I'm currently unable to generate a detailed answer. Please try again shortly, or browse your workspace documents directly."

// Responder assembles the full question-answering flow: retrieve relevant
// chunks, build a grounded prompt, generate a reply, and record the turn.
// Answer never returns an error: a support chat endpoint that 500s on a
// provider hiccup is worse than one that degrades to a canned reply.
type Responder struct {
	retriever *Retriever
	generator *Generator
	store     storage.ConversationStore
	topK      int
	log       *logger.Logger
}

func NewResponder(retriever *Retriever, generator *Generator, store storage.ConversationStore, topK int, log *logger.Logger) *Responder {
	if topK <= 0 {
		topK = 5
	}
	return &Responder{
		retriever: retriever,
		generator: generator,
		store:     store,
		topK:      topK,
		log:       log.With("service", "responder"),
	}
}

// maxTopK caps per-request retrieval width so a client cannot demand the
// whole corpus in one prompt.
const maxTopK = 20

// effectiveTopK resolves a per-request override against the configured
// default, clamped to maxTopK.
func (r *Responder) effectiveTopK(topK int) int {
	if topK <= 0 {
		return r.topK
	}
	if topK > maxTopK {
		return maxTopK
	}
	return topK
}

// Answer produces a grounded reply for one chat turn. topK <= 0 uses the
// configured default. Any retrieval or generation failure degrades to a
// canned reply with no sources; the caller always gets a usable Answer.
func (r *Responder) Answer(ctx context.Context, workspaceID, conversationID, message string, history []models.ChatMessage, topK int) *models.Answer {
	results, err := r.retriever.Retrieve(ctx, workspaceID, message, r.effectiveTopK(topK))
	if err != nil {
		r.log.Error("retrieval failed, answering from fallback", "workspace_id", workspaceID, "error", err)
		return r.fallback(ctx, workspaceID, conversationID, message)
	}

	messages := buildMessages(message, history, results)
	response, err := r.generator.Chat(ctx, messages)
	if err != nil {
		r.log.Warn("generation failed, answering from fallback", "workspace_id", workspaceID, "error", err)
		return r.fallback(ctx, workspaceID, conversationID, message)
	}

	answer := &models.Answer{
		Response: response,
		Sources:  sourceDocuments(results),
	}
	r.persistTurn(ctx, workspaceID, conversationID, message, answer)
	return answer
}

// AnswerStream is Answer with incremental delivery: emit is called for every
// generated fragment. It only errors when the consumer goes away (emit fails)
// or ctx is cancelled; provider failures still degrade to a canned reply,
// emitted as a single fragment.
func (r *Responder) AnswerStream(ctx context.Context, workspaceID, conversationID, message string, history []models.ChatMessage, topK int, emit func(delta string) error) (*models.Answer, error) {
	results, err := r.retriever.Retrieve(ctx, workspaceID, message, r.effectiveTopK(topK))
	if err != nil {
		r.log.Error("retrieval failed, streaming fallback", "workspace_id", workspaceID, "error", err)
		answer := r.fallback(ctx, workspaceID, conversationID, message)
		return answer, emit(answer.Response)
	}

	messages := buildMessages(message, history, results)
	response, err := r.generator.ChatStream(ctx, messages, emit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if response != "" {
			// the consumer rejected a fragment mid-stream
			return nil, err
		}
		r.log.Warn("streaming generation failed, streaming fallback", "workspace_id", workspaceID, "error", err)
		answer := r.fallback(ctx, workspaceID, conversationID, message)
		return answer, emit(answer.Response)
	}

	answer := &models.Answer{
		Response: response,
		Sources:  sourceDocuments(results),
	}
	r.persistTurn(ctx, workspaceID, conversationID, message, answer)
	return answer, nil
}

func (r *Responder) fallback(ctx context.Context, workspaceID, conversationID, message string) *models.Answer {
	answer := &models.Answer{
		Response: cannedResponse(message),
		Sources:  []string{},
	}
	r.persistTurn(ctx, workspaceID, conversationID, message, answer)
	return answer
}

// cannedResponse picks a reply by the first matching keyword, falling back to
// a generic non-empty reply.
func cannedResponse(message string) string {
	lower := strings.ToLower(message)
	for _, c := range cannedReplies {
		if strings.Contains(lower, c.keyword) {
			return c.reply
		}
	}
	return cannedDefault
}

// buildMessages assembles the provider conversation: grounded system prompt,
// prior turns unchanged, then the user's message.
func buildMessages(message string, history []models.ChatMessage, results []models.SearchResult) []models.ChatMessage {
	var prompt strings.Builder
	prompt.WriteString(ragSystemPrompt)

	if len(results) > 0 {
		prompt.WriteString("\n\nContext passages:\n")
		for i, res := range results {
			prompt.WriteString(fmt.Sprintf("\n[%d] %s\n", i+1, res.Chunk.Content))
		}
	} else {
		prompt.WriteString("\n\nContext passages: (none available)\n")
	}

	messages := make([]models.ChatMessage, 0, len(history)+2)
	messages = append(messages, models.ChatMessage{Role: models.RoleSystem, Content: prompt.String()})
	messages = append(messages, history...)
	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: message})
	return messages
}

// sourceDocuments extracts the document IDs behind the ranked results,
// de-duplicated but keeping rank order.
func sourceDocuments(results []models.SearchResult) []string {
	seen := make(map[string]struct{}, len(results))
	sources := make([]string, 0, len(results))
	for _, res := range results {
		id := res.Chunk.DocumentID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		sources = append(sources, id)
	}
	return sources
}

// persistTurn records the user and assistant messages. Persistence failures
// are logged, not surfaced: losing a history row must not lose the answer.
func (r *Responder) persistTurn(ctx context.Context, workspaceID, conversationID, message string, answer *models.Answer) {
	if conversationID == "" {
		return
	}
	now := time.Now().UTC()

	userMsg := &models.Message{
		ID:             uuid.NewString(),
		WorkspaceID:    workspaceID,
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        message,
		CreatedAt:      now,
	}
	if err := r.store.AppendMessage(ctx, userMsg); err != nil {
		r.log.Warn("failed to persist user message", "conversation_id", conversationID, "error", err)
	}

	assistantMsg := &models.Message{
		ID:                uuid.NewString(),
		WorkspaceID:       workspaceID,
		ConversationID:    conversationID,
		Role:              models.RoleAssistant,
		Content:           answer.Response,
		SourceDocumentIDs: answer.Sources,
		CreatedAt:         now,
	}
	if err := r.store.AppendMessage(ctx, assistantMsg); err != nil {
		r.log.Warn("failed to persist assistant message", "conversation_id", conversationID, "error", err)
	}
}
