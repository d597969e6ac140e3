package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/answerdesk/answerdesk/logger"
)

// BlobStore keeps the original uploaded bytes so documents can be
// re-ingested or audited later. Ingestion works from the in-memory copy, so
// blob failures are non-fatal to the pipeline.
type BlobStore interface {
	// Store saves the payload and returns an opaque key.
	Store(ctx context.Context, data []byte, name, contentType string) (string, error)
	// Resolve returns the payload previously stored under key.
	Resolve(ctx context.Context, key string) ([]byte, error)
}

// GridFSBlobStore stores payloads in MongoDB GridFS. On write failure it
// degrades to a deterministic placeholder key so the document record still
// carries a stable reference.
type GridFSBlobStore struct {
	bucket *gridfs.Bucket
	log    *logger.Logger
}

func NewGridFSBlobStore(db *mongo.Database, log *logger.Logger) (*GridFSBlobStore, error) {
	bucket, err := gridfs.NewBucket(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob bucket: %w", err)
	}
	return &GridFSBlobStore{
		bucket: bucket,
		log:    log.With("store", "blobs"),
	}, nil
}

func (s *GridFSBlobStore) Store(ctx context.Context, data []byte, name, contentType string) (string, error) {
	opts := options.GridFSUpload().SetMetadata(bson.M{"content_type": contentType})
	id, err := s.bucket.UploadFromStream(name, bytes.NewReader(data), opts)
	if err != nil {
		key := placeholderKey(data)
		s.log.Warn("blob upload failed, recording placeholder key", "name", name, "key", key, "error", err)
		return key, nil
	}
	return id.Hex(), nil
}

func (s *GridFSBlobStore) Resolve(ctx context.Context, key string) ([]byte, error) {
	id, err := primitive.ObjectIDFromHex(key)
	if err != nil {
		return nil, fmt.Errorf("blob key %q is a placeholder, payload was never stored", key)
	}

	var buf bytes.Buffer
	stream, err := s.bucket.OpenDownloadStream(id)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", key, err)
	}
	defer stream.Close()

	if _, err := io.Copy(&buf, stream); err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

// placeholderKey derives a stable key from the payload itself, used when the
// blob backend is unavailable.
func placeholderKey(data []byte) string {
	sum := sha256.Sum256(data)
	return "local:" + hex.EncodeToString(sum[:8])
}

// MemoryBlobStore keeps payloads in a map. Used with the memory store driver.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Store(ctx context.Context, data []byte, name, contentType string) (string, error) {
	key := placeholderKey(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), data...)
	return key, nil
}

func (s *MemoryBlobStore) Resolve(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", key)
	}
	return append([]byte(nil), data...), nil
}
