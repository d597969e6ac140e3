package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/answerdesk/answerdesk/models"
)

// MemoryStore is an in-memory Store for local development (STORE_DRIVER=memory)
// and tests. Chunks keep insertion order, matching Mongo's natural order.
type MemoryStore struct {
	mu            sync.RWMutex
	chunks        []models.Chunk
	documents     map[string]models.Document
	conversations map[string][]models.Message

	insertErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents:     make(map[string]models.Document),
		conversations: make(map[string][]models.Message),
	}
}

// SetInsertFailure makes subsequent InsertChunks calls fail with err. Used by
// tests to verify all-or-nothing behavior downstream.
func (s *MemoryStore) SetInsertFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertErr = err
}

func (s *MemoryStore) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertErr != nil {
		return s.insertErr
	}

	documentID := chunks[0].DocumentID
	workspaceID := chunks[0].WorkspaceID
	for i, chunk := range chunks {
		if chunk.DocumentID != documentID || chunk.WorkspaceID != workspaceID {
			return fmt.Errorf("chunk %d does not belong to document %s in workspace %s", i, documentID, workspaceID)
		}
	}

	s.chunks = append(s.chunks, chunks...)
	return nil
}

func (s *MemoryStore) ListByWorkspace(ctx context.Context, workspaceID string) ([]models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Chunk, 0)
	for _, chunk := range s.chunks {
		if chunk.WorkspaceID == workspaceID {
			out = append(out, chunk)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteByDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.chunks[:0]
	for _, chunk := range s.chunks {
		if chunk.DocumentID != documentID {
			kept = append(kept, chunk)
		}
	}
	s.chunks = kept
	return nil
}

func (s *MemoryStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.documents[doc.ID]; exists {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	s.documents[doc.ID] = *doc
	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, workspaceID, documentID string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[documentID]
	if !ok || doc.WorkspaceID != workspaceID {
		return nil, ErrDocumentNotFound
	}
	out := doc
	return &out, nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, workspaceID string) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]models.Document, 0)
	for _, doc := range s.documents {
		if doc.WorkspaceID == workspaceID {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs, nil
}

func (s *MemoryStore) HasProcessingDocument(ctx context.Context, workspaceID, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, doc := range s.documents {
		if doc.WorkspaceID == workspaceID && doc.Name == name &&
			(doc.Status == models.DocStatusPending || doc.Status == models.DocStatusProcessing) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) SetDocumentStatus(ctx context.Context, documentID, status, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[documentID]
	if !ok {
		return ErrDocumentNotFound
	}
	doc.Status = status
	if errorMessage != "" {
		doc.Error = errorMessage
	}
	s.documents[documentID] = doc
	return nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, workspaceID, documentID string) error {
	s.mu.Lock()

	doc, ok := s.documents[documentID]
	if !ok || doc.WorkspaceID != workspaceID {
		s.mu.Unlock()
		return ErrDocumentNotFound
	}
	delete(s.documents, documentID)
	s.mu.Unlock()

	return s.DeleteByDocument(ctx, documentID)
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := msg.WorkspaceID + "/" + msg.ConversationID
	s.conversations[key] = append(s.conversations[key], *msg)
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, workspaceID, conversationID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := workspaceID + "/" + conversationID
	msgs := make([]models.Message, len(s.conversations[key]))
	copy(msgs, s.conversations[key])
	return msgs, nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
