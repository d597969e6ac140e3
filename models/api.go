package models

// UploadDocumentResponse acknowledges an upload. Ingestion continues in the
// background, so the document is reported in its processing state.
type UploadDocumentResponse struct {
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	SizeBytes  int64  `json:"size_bytes"`
}

type ChatRequest struct {
	Message        string        `json:"message" binding:"required"`
	ConversationID string        `json:"conversation_id,omitempty"`
	History        []ChatMessage `json:"history,omitempty"`
	TopK           int           `json:"top_k,omitempty"`
}

type ChatResponse struct {
	Response         string   `json:"response"`
	Sources          []string `json:"sources"`
	ConversationID   string   `json:"conversation_id"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
}

type DocumentListResponse struct {
	Documents []Document `json:"documents"`
}
