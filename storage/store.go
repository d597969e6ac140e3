package storage

import (
	"context"
	"errors"

	"github.com/answerdesk/answerdesk/models"
)

// ErrDocumentNotFound is returned by document lookups scoped to a workspace.
var ErrDocumentNotFound = errors.New("document not found")

// ChunkStore persists chunks with their vectors. Every method takes the scope
// it operates on as a required parameter: workspace isolation is structural,
// cross-workspace chunk leakage would contaminate one tenant's answers with
// another tenant's data.
type ChunkStore interface {
	// InsertChunks persists all chunks for one document atomically: either
	// every chunk becomes visible to search or none do.
	InsertChunks(ctx context.Context, chunks []models.Chunk) error

	// ListByWorkspace returns the full chunk corpus of one workspace in the
	// store's natural order. Similarity search compares against the whole
	// corpus, so no pagination is offered.
	ListByWorkspace(ctx context.Context, workspaceID string) ([]models.Chunk, error)

	// DeleteByDocument removes every chunk belonging to one document.
	DeleteByDocument(ctx context.Context, documentID string) error
}

// DocumentStore persists document records and their lifecycle status.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, workspaceID, documentID string) (*models.Document, error)
	ListDocuments(ctx context.Context, workspaceID string) ([]models.Document, error)

	// HasProcessingDocument reports whether a document with the given name is
	// still being ingested in the workspace. Used to serialize duplicate
	// upload retries.
	HasProcessingDocument(ctx context.Context, workspaceID, name string) (bool, error)

	SetDocumentStatus(ctx context.Context, documentID, status, errorMessage string) error

	// DeleteDocument removes the document and cascades to its chunks so no
	// orphaned chunks persist.
	DeleteDocument(ctx context.Context, workspaceID, documentID string) error
}

// ConversationStore records chat turns per workspace conversation.
type ConversationStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, workspaceID, conversationID string) ([]models.Message, error)
}

// Store is the full persistence surface of the retrieval engine.
type Store interface {
	ChunkStore
	DocumentStore
	ConversationStore

	Close(ctx context.Context) error
}
