package models

import "time"

// Document lifecycle statuses. The ingestion pipeline is the only writer of
// status after creation, and every pipeline path terminates in completed or
// failed.
const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusCompleted  = "completed"
	DocStatusFailed     = "failed"
)

// Document is an uploaded source file scoped to a single workspace.
type Document struct {
	ID          string    `bson:"_id" json:"id"`
	WorkspaceID string    `bson:"workspace_id" json:"workspace_id"`
	Name        string    `bson:"name" json:"name"`
	BlobKey     string    `bson:"blob_key,omitempty" json:"blob_key,omitempty"`
	MimeType    string    `bson:"mime_type" json:"mime_type"`
	SizeBytes   int64     `bson:"size_bytes" json:"size_bytes"`
	Status      string    `bson:"status" json:"status"`
	Error       string    `bson:"error,omitempty" json:"error,omitempty"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}
