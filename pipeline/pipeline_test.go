package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/answerdesk/answerdesk/logger"
	"github.com/answerdesk/answerdesk/models"
	"github.com/answerdesk/answerdesk/services"
	"github.com/answerdesk/answerdesk/storage"
)

func newTestPipeline(store storage.Store) *Pipeline {
	log := logger.NewNop()
	chunker := services.NewChunker(100, 20)
	embedder := services.NewEmbedder("http://localhost:0", "", "test-model", 3, log)
	return New(store, chunker, embedder, 2, 16, log)
}

func seedDocument(t *testing.T, store storage.Store, documentID, workspaceID, name string) {
	t.Helper()
	require.NoError(t, store.CreateDocument(context.Background(), &models.Document{
		ID:          documentID,
		WorkspaceID: workspaceID,
		Name:        name,
		Status:      models.DocStatusProcessing,
		CreatedAt:   time.Now().UTC(),
	}))
}

func waitForStatus(t *testing.T, store storage.Store, workspaceID, documentID string, statuses ...string) *models.Document {
	t.Helper()
	var doc *models.Document
	require.Eventually(t, func() bool {
		got, err := store.GetDocument(context.Background(), workspaceID, documentID)
		if err != nil {
			return false
		}
		for _, status := range statuses {
			if got.Status == status {
				doc = got
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	return doc
}

func TestPipelineIngestsTextDocument(t *testing.T) {
	store := storage.NewMemoryStore()
	seedDocument(t, store, "doc-1", "ws-1", "policy.txt")

	p := newTestPipeline(store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	text := strings.Repeat("refunds are available within thirty days of purchase ", 10)
	require.NoError(t, p.Enqueue(Job{
		DocumentID:  "doc-1",
		WorkspaceID: "ws-1",
		Filename:    "policy.txt",
		MimeType:    "text/plain",
		Data:        []byte(text),
	}))

	doc := waitForStatus(t, store, "ws-1", "doc-1", models.DocStatusCompleted, models.DocStatusFailed)
	require.Equal(t, models.DocStatusCompleted, doc.Status)
	require.Empty(t, doc.Error)

	chunks, err := store.ListByWorkspace(context.Background(), "ws-1")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for i, chunk := range chunks {
		require.Equal(t, "doc-1", chunk.DocumentID)
		require.Equal(t, "ws-1", chunk.WorkspaceID)
		require.Equal(t, i, chunk.Metadata.Index)
		require.Equal(t, len(chunks), chunk.Metadata.Total)
		require.Len(t, chunk.Embedding, 3)
		require.NotEmpty(t, chunk.Content)
	}
}

func TestPipelineFailsUnsupportedFormat(t *testing.T) {
	store := storage.NewMemoryStore()
	seedDocument(t, store, "doc-1", "ws-1", "image.bin")

	p := newTestPipeline(store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	require.NoError(t, p.Enqueue(Job{
		DocumentID:  "doc-1",
		WorkspaceID: "ws-1",
		Filename:    "image.bin",
		MimeType:    "application/octet-stream",
		Data:        []byte{0x00, 0x01, 0xFF},
	}))

	doc := waitForStatus(t, store, "ws-1", "doc-1", models.DocStatusCompleted, models.DocStatusFailed)
	require.Equal(t, models.DocStatusFailed, doc.Status)
	require.Contains(t, doc.Error, "unsupported")

	chunks, err := store.ListByWorkspace(context.Background(), "ws-1")
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestPipelineFailsWhenPersistFails(t *testing.T) {
	store := storage.NewMemoryStore()
	store.SetInsertFailure(errors.New("disk full"))
	seedDocument(t, store, "doc-1", "ws-1", "policy.txt")

	p := newTestPipeline(store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	require.NoError(t, p.Enqueue(Job{
		DocumentID:  "doc-1",
		WorkspaceID: "ws-1",
		Filename:    "policy.txt",
		MimeType:    "text/plain",
		Data:        []byte("refunds are available within thirty days"),
	}))

	doc := waitForStatus(t, store, "ws-1", "doc-1", models.DocStatusCompleted, models.DocStatusFailed)
	require.Equal(t, models.DocStatusFailed, doc.Status)
	require.Contains(t, doc.Error, "disk full")

	chunks, err := store.ListByWorkspace(context.Background(), "ws-1")
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestPipelineEnqueueFullQueue(t *testing.T) {
	store := storage.NewMemoryStore()
	log := logger.NewNop()
	p := New(store, services.NewChunker(100, 20), services.NewEmbedder("http://localhost:0", "", "m", 3, log), 1, 1, log)

	// workers never started, so the second job has nowhere to go
	require.NoError(t, p.Enqueue(Job{DocumentID: "doc-1"}))
	require.ErrorIs(t, p.Enqueue(Job{DocumentID: "doc-2"}), ErrQueueFull)
}

func TestPipelineShutdownLeavesNoDocumentProcessing(t *testing.T) {
	store := storage.NewMemoryStore()
	p := newTestPipeline(store)

	for _, id := range []string{"doc-1", "doc-2", "doc-3", "doc-4", "doc-5"} {
		seedDocument(t, store, id, "ws-1", id+".txt")
		require.NoError(t, p.Enqueue(Job{
			DocumentID:  id,
			WorkspaceID: "ws-1",
			Filename:    id + ".txt",
			MimeType:    "text/plain",
			Data:        []byte("refunds are available within thirty days"),
		}))
	}

	// cancel before the workers ever run: queued jobs must still terminate
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Start(ctx)
	p.Stop()

	for _, id := range []string{"doc-1", "doc-2", "doc-3", "doc-4", "doc-5"} {
		doc, err := store.GetDocument(context.Background(), "ws-1", id)
		require.NoError(t, err)
		require.Equal(t, models.DocStatusFailed, doc.Status)
		require.Contains(t, doc.Error, "shutdown")

		// failed is the retry signal: the name is free for re-upload
		busy, err := store.HasProcessingDocument(context.Background(), "ws-1", id+".txt")
		require.NoError(t, err)
		require.False(t, busy)
	}
}

func TestPipelineStopDrainsInFlightJobs(t *testing.T) {
	store := storage.NewMemoryStore()
	seedDocument(t, store, "doc-1", "ws-1", "policy.txt")

	p := newTestPipeline(store)
	p.Start(context.Background())

	require.NoError(t, p.Enqueue(Job{
		DocumentID:  "doc-1",
		WorkspaceID: "ws-1",
		Filename:    "policy.txt",
		MimeType:    "text/plain",
		Data:        []byte("refunds are available within thirty days"),
	}))
	p.Stop()

	doc, err := store.GetDocument(context.Background(), "ws-1", "doc-1")
	require.NoError(t, err)
	require.Equal(t, models.DocStatusCompleted, doc.Status)
}
