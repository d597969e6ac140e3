package models

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single turn in a workspace conversation. Assistant messages
// carry the document IDs whose chunks grounded the reply.
type Message struct {
	ID                string    `bson:"_id" json:"id"`
	WorkspaceID       string    `bson:"workspace_id" json:"workspace_id"`
	ConversationID    string    `bson:"conversation_id" json:"conversation_id"`
	Role              string    `bson:"role" json:"role"`
	Content           string    `bson:"content" json:"content"`
	SourceDocumentIDs []string  `bson:"source_document_ids,omitempty" json:"source_document_ids,omitempty"`
	CreatedAt         time.Time `bson:"created_at" json:"created_at"`
}

// ChatMessage is the wire shape shared with the generation provider: prior
// turns are passed through unchanged when assembling a prompt.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Answer is the result of a retrieval-grounded generation: the reply text and
// the de-duplicated document IDs behind the chunks that grounded it.
type Answer struct {
	Response string   `json:"response"`
	Sources  []string `json:"sources"`
}
