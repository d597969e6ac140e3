package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/answerdesk/answerdesk/logger"
	"github.com/answerdesk/answerdesk/models"
	"github.com/answerdesk/answerdesk/services"
	"github.com/answerdesk/answerdesk/storage"
)

// ErrQueueFull is returned by Enqueue when the ingestion backlog is at
// capacity. Callers fail the document rather than blocking the upload request.
var ErrQueueFull = errors.New("ingestion queue is full")

// Job carries everything a worker needs to ingest one uploaded document. The
// payload rides along in memory so workers never re-fetch from blob storage
// on the hot path.
type Job struct {
	DocumentID  string
	WorkspaceID string
	Filename    string
	MimeType    string
	Data        []byte
}

// Pipeline ingests uploaded documents in the background: extract text, chunk,
// embed, persist. A fixed pool of workers drains a bounded queue; every job
// terminates with the document in completed or failed status.
type Pipeline struct {
	store       storage.Store
	chunker     *services.Chunker
	embedder    *services.Embedder
	jobs        chan Job
	concurrency int
	log         *logger.Logger
	wg          sync.WaitGroup
}

func New(store storage.Store, chunker *services.Chunker, embedder *services.Embedder, concurrency, queueSize int, log *logger.Logger) *Pipeline {
	if concurrency <= 0 {
		concurrency = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Pipeline{
		store:       store,
		chunker:     chunker,
		embedder:    embedder,
		jobs:        make(chan Job, queueSize),
		concurrency: concurrency,
		log:         log.With("service", "pipeline"),
	}
}

// Start launches the worker pool. Workers run until Stop closes the queue;
// cancelling ctx does not abandon queued jobs, it fails them so no document
// can be stranded in processing.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.log.Info("ingestion workers started", "concurrency", p.concurrency, "queue_size", cap(p.jobs))
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (p *Pipeline) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.log.Info("ingestion workers stopped")
}

// Enqueue hands a job to the pool without blocking.
func (p *Pipeline) Enqueue(job Job) error {
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// worker drains the queue until it is closed. The queue, not ctx, decides
// when a worker exits: every accepted job must reach a terminal status, so a
// job that is still queued when ctx is cancelled is failed rather than
// dropped.
func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With("worker", id)

	for job := range p.jobs {
		if ctx.Err() != nil {
			log.Warn("shutdown before ingestion started", "document_id", job.DocumentID)
			p.fail(job.DocumentID, "ingestion aborted by shutdown, re-upload the document")
			continue
		}
		p.runJob(ctx, log, job)
	}
}

// runJob wraps process with panic recovery so one malformed document cannot
// take down a worker. A panic fails the document like any other error.
func (p *Pipeline) runJob(ctx context.Context, log *logger.Logger, job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("ingestion panicked", "document_id", job.DocumentID, "panic", r)
			p.fail(job.DocumentID, fmt.Sprintf("ingestion panicked: %v", r))
		}
	}()

	if err := p.process(ctx, log, job); err != nil {
		log.Error("ingestion failed", "document_id", job.DocumentID, "file", job.Filename, "error", err)
		p.fail(job.DocumentID, err.Error())
	}
}

func (p *Pipeline) process(ctx context.Context, log *logger.Logger, job Job) error {
	start := time.Now()
	log.Info("ingesting document", "document_id", job.DocumentID, "file", job.Filename, "bytes", len(job.Data))

	text, err := services.ExtractText(job.Filename, job.MimeType, job.Data)
	if err != nil {
		return err
	}

	contents := p.chunker.ChunkText(text)
	if len(contents) == 0 {
		return errors.New("document contains no extractable text")
	}
	log.Info("document chunked", "document_id", job.DocumentID, "chunks", len(contents))

	embedStart := time.Now()
	vectors := p.embedder.EmbedBatch(ctx, contents)
	log.Info("chunks embedded",
		"document_id", job.DocumentID,
		"chunks", len(contents),
		"duration_ms", time.Since(embedStart).Milliseconds())

	now := time.Now().UTC()
	chunks := make([]models.Chunk, 0, len(contents))
	for i, content := range contents {
		chunks = append(chunks, models.Chunk{
			DocumentID:  job.DocumentID,
			WorkspaceID: job.WorkspaceID,
			Content:     content,
			Embedding:   vectors[i],
			Metadata: models.ChunkMetadata{
				Index: i,
				Total: len(contents),
			},
			CreatedAt: now,
		})
	}

	if err := p.store.InsertChunks(ctx, chunks); err != nil {
		return fmt.Errorf("failed to persist chunks: %w", err)
	}
	if err := p.store.SetDocumentStatus(ctx, job.DocumentID, models.DocStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to mark document completed: %w", err)
	}

	log.Info("document ingested",
		"document_id", job.DocumentID,
		"chunks", len(chunks),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// fail marks the document failed with a human-readable reason. Status updates
// use a fresh context so shutdown cancellation cannot strand a document in
// processing.
func (p *Pipeline) fail(documentID, reason string) {
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.store.SetDocumentStatus(sctx, documentID, models.DocStatusFailed, reason); err != nil {
		p.log.Error("failed to mark document failed", "document_id", documentID, "error", err)
	}
}
