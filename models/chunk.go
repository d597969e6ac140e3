package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Chunk is a bounded slice of a document's extracted text stored together
// with its embedding vector. Chunks are immutable once created; re-uploading
// a document deletes and recreates them.
type Chunk struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DocumentID  string             `bson:"document_id" json:"document_id"`
	WorkspaceID string             `bson:"workspace_id" json:"workspace_id"`
	Content     string             `bson:"content" json:"content"`
	Embedding   []float32          `bson:"embedding" json:"-"`
	Metadata    ChunkMetadata      `bson:"metadata" json:"metadata"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
}

// ChunkMetadata records the chunk's position within its document.
type ChunkMetadata struct {
	Index int `bson:"index" json:"index"`
	Total int `bson:"total" json:"total"`
}

// SearchResult pairs a chunk with its similarity score for a query.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}
