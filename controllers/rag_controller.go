package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/answerdesk/answerdesk/config"
	"github.com/answerdesk/answerdesk/logger"
	"github.com/answerdesk/answerdesk/models"
	"github.com/answerdesk/answerdesk/pipeline"
	"github.com/answerdesk/answerdesk/services"
	"github.com/answerdesk/answerdesk/storage"
)

const maxUploadBytes = 32 << 20 // 32 MiB per upload

// RAGController serves the workspace-scoped document and chat endpoints.
type RAGController struct {
	config    *config.Config
	store     storage.Store
	blobs     storage.BlobStore
	pipeline  *pipeline.Pipeline
	responder *services.Responder
	log       *logger.Logger
}

func NewRAGController(cfg *config.Config, store storage.Store, blobs storage.BlobStore, pipe *pipeline.Pipeline, responder *services.Responder, log *logger.Logger) *RAGController {
	return &RAGController{
		config:    cfg,
		store:     store,
		blobs:     blobs,
		pipeline:  pipe,
		responder: responder,
		log:       log.With("component", "http"),
	}
}

// UploadDocument accepts a multipart file, records it as pending, stores the
// raw payload, and hands ingestion to the background pipeline. Returns 202:
// clients poll the document list for completed or failed.
func (rc *RAGController) UploadDocument(c *gin.Context) {
	workspaceID := c.Param("workspace_id")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds upload limit"})
		return
	}

	inFlight, err := rc.store.HasProcessingDocument(c.Request.Context(), workspaceID, fileHeader.Filename)
	if err != nil {
		rc.log.Error("failed to check in-flight uploads", "workspace_id", workspaceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check existing uploads"})
		return
	}
	if inFlight {
		c.JSON(http.StatusConflict, gin.H{"error": "a document with this name is already being processed"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to open uploaded file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read uploaded file"})
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")

	// blob first so the document record carries its key from creation
	blobKey, err := rc.blobs.Store(c.Request.Context(), data, fileHeader.Filename, mimeType)
	if err != nil {
		rc.log.Warn("failed to store document payload", "workspace_id", workspaceID, "file", fileHeader.Filename, "error", err)
	}

	doc := &models.Document{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Name:        fileHeader.Filename,
		BlobKey:     blobKey,
		MimeType:    mimeType,
		SizeBytes:   fileHeader.Size,
		Status:      models.DocStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := rc.store.CreateDocument(c.Request.Context(), doc); err != nil {
		rc.log.Error("failed to create document record", "workspace_id", workspaceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record document"})
		return
	}

	if err := rc.store.SetDocumentStatus(c.Request.Context(), doc.ID, models.DocStatusProcessing, ""); err != nil {
		rc.log.Error("failed to mark document processing", "document_id", doc.ID, "error", err)
	}

	err = rc.pipeline.Enqueue(pipeline.Job{
		DocumentID:  doc.ID,
		WorkspaceID: workspaceID,
		Filename:    fileHeader.Filename,
		MimeType:    mimeType,
		Data:        data,
	})
	if err != nil {
		rc.log.Warn("ingestion queue full, failing upload", "document_id", doc.ID)
		if serr := rc.store.SetDocumentStatus(c.Request.Context(), doc.ID, models.DocStatusFailed, err.Error()); serr != nil {
			rc.log.Error("failed to mark document failed", "document_id", doc.ID, "error", serr)
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingestion queue is full, try again later"})
		return
	}

	rc.log.Info("document accepted", "document_id", doc.ID, "workspace_id", workspaceID, "file", doc.Name, "bytes", doc.SizeBytes)
	c.JSON(http.StatusAccepted, models.UploadDocumentResponse{
		DocumentID: doc.ID,
		Name:       doc.Name,
		Status:     models.DocStatusProcessing,
		SizeBytes:  doc.SizeBytes,
	})
}

// ListDocuments returns the workspace's documents newest first, with their
// current ingestion status.
func (rc *RAGController) ListDocuments(c *gin.Context) {
	workspaceID := c.Param("workspace_id")

	docs, err := rc.store.ListDocuments(c.Request.Context(), workspaceID)
	if err != nil {
		rc.log.Error("failed to list documents", "workspace_id", workspaceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list documents"})
		return
	}

	c.JSON(http.StatusOK, models.DocumentListResponse{Documents: docs})
}

// DeleteDocument removes a document and every chunk derived from it.
func (rc *RAGController) DeleteDocument(c *gin.Context) {
	workspaceID := c.Param("workspace_id")
	documentID := c.Param("document_id")

	err := rc.store.DeleteDocument(c.Request.Context(), workspaceID, documentID)
	if errors.Is(err, storage.ErrDocumentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	if err != nil {
		rc.log.Error("failed to delete document", "document_id", documentID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete document"})
		return
	}

	rc.log.Info("document deleted", "document_id", documentID, "workspace_id", workspaceID)
	c.Status(http.StatusNoContent)
}

// Chat answers one message against the workspace knowledge base. The handler
// never returns a 5xx for retrieval or generation trouble: those degrade
// inside the responder.
func (rc *RAGController) Chat(c *gin.Context) {
	workspaceID := c.Param("workspace_id")

	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	start := time.Now()
	answer := rc.responder.Answer(ctx, workspaceID, conversationID, req.Message, req.History, req.TopK)

	c.JSON(http.StatusOK, models.ChatResponse{
		Response:         answer.Response,
		Sources:          answer.Sources,
		ConversationID:   conversationID,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	})
}

// ChatStream is Chat over server-sent events: a "delta" event per generated
// fragment, then a final "done" event carrying the sources.
func (rc *RAGController) ChatStream(c *gin.Context) {
	workspaceID := c.Param("workspace_id")

	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, _ := c.Writer.(http.Flusher)
	emit := func(delta string) error {
		if c.Request.Context().Err() != nil {
			return c.Request.Context().Err()
		}
		c.SSEvent("delta", gin.H{"content": delta})
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	answer, err := rc.responder.AnswerStream(c.Request.Context(), workspaceID, conversationID, req.Message, req.History, req.TopK, emit)
	if err != nil {
		rc.log.Warn("chat stream ended early", "workspace_id", workspaceID, "error", err)
		return
	}

	c.SSEvent("done", gin.H{
		"sources":         answer.Sources,
		"conversation_id": conversationID,
	})
	if flusher != nil {
		flusher.Flush()
	}
}

// ListMessages returns the stored history of one conversation.
func (rc *RAGController) ListMessages(c *gin.Context) {
	workspaceID := c.Param("workspace_id")
	conversationID := c.Param("conversation_id")

	msgs, err := rc.store.ListMessages(c.Request.Context(), workspaceID, conversationID)
	if err != nil {
		rc.log.Error("failed to list messages", "conversation_id", conversationID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
