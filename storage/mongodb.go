package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/answerdesk/answerdesk/config"
	"github.com/answerdesk/answerdesk/logger"
	"github.com/answerdesk/answerdesk/models"
)

// MongoStore implements Store on MongoDB. One database per deployment,
// workspace isolation via a workspace_id field on every collection.
type MongoStore struct {
	client        *mongo.Client
	database      *mongo.Database
	documents     *mongo.Collection
	chunks        *mongo.Collection
	conversations *mongo.Collection
	log           *logger.Logger
}

func NewMongoStore(cfg *config.Config, log *logger.Logger) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(cfg.MongoDatabase)
	store := &MongoStore{
		client:        client,
		database:      db,
		documents:     db.Collection("documents"),
		chunks:        db.Collection("chunks"),
		conversations: db.Collection("conversations"),
		log:           log.With("store", "mongo"),
	}

	if err := store.ensureIndexes(ctx); err != nil {
		log.Warn("failed to ensure indexes", "error", err)
	}

	log.Info("connected to MongoDB", "database", cfg.MongoDatabase)
	return store, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.chunks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "workspace_id", Value: 1}}},
		{Keys: bson.D{{Key: "document_id", Value: 1}}},
	})
	if err != nil {
		return err
	}
	_, err = s.documents.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "workspace_id", Value: 1}, {Key: "name", Value: 1}},
	})
	if err != nil {
		return err
	}
	_, err = s.conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "workspace_id", Value: 1}, {Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	return err
}

// InsertChunks persists all chunks of one document atomically. All chunks must
// share the same document and workspace; a mixed batch is a programming error.
// On replica sets the insert runs in a transaction. On standalone servers
// (where Mongo has no transactions) it falls back to an ordered InsertMany
// with compensation: a partial failure removes whatever landed.
func (s *MongoStore) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	documentID := chunks[0].DocumentID
	workspaceID := chunks[0].WorkspaceID
	docs := make([]interface{}, 0, len(chunks))
	for i, chunk := range chunks {
		if chunk.DocumentID != documentID || chunk.WorkspaceID != workspaceID {
			return fmt.Errorf("chunk %d does not belong to document %s in workspace %s", i, documentID, workspaceID)
		}
		docs = append(docs, chunk)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return s.insertChunksCompensated(ctx, documentID, docs)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return s.chunks.InsertMany(sc, docs)
	})
	if err != nil {
		// standalone deployments reject transactions outright; nothing from a
		// failed transaction is visible, so the compensated path can retry
		return s.insertChunksCompensated(ctx, documentID, docs)
	}
	return nil
}

func (s *MongoStore) insertChunksCompensated(ctx context.Context, documentID string, docs []interface{}) error {
	_, err := s.chunks.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err != nil {
		if delErr := s.DeleteByDocument(ctx, documentID); delErr != nil {
			s.log.Error("failed to roll back partial chunk insert", "document_id", documentID, "error", delErr)
		}
		return fmt.Errorf("failed to insert chunks: %w", err)
	}
	return nil
}

// ListByWorkspace returns the workspace's chunks in insertion order.
func (s *MongoStore) ListByWorkspace(ctx context.Context, workspaceID string) ([]models.Chunk, error) {
	cursor, err := s.chunks.Find(ctx, bson.M{"workspace_id": workspaceID})
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer cursor.Close(ctx)

	var chunks []models.Chunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, fmt.Errorf("failed to decode chunks: %w", err)
	}
	return chunks, nil
}

func (s *MongoStore) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.chunks.DeleteMany(ctx, bson.M{"document_id": documentID})
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	_, err := s.documents.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (s *MongoStore) GetDocument(ctx context.Context, workspaceID, documentID string) (*models.Document, error) {
	var doc models.Document
	err := s.documents.FindOne(ctx, bson.M{"_id": documentID, "workspace_id": workspaceID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (s *MongoStore) ListDocuments(ctx context.Context, workspaceID string) ([]models.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.documents.Find(ctx, bson.M{"workspace_id": workspaceID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer cursor.Close(ctx)

	docs := make([]models.Document, 0)
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	return docs, nil
}

func (s *MongoStore) HasProcessingDocument(ctx context.Context, workspaceID, name string) (bool, error) {
	count, err := s.documents.CountDocuments(ctx, bson.M{
		"workspace_id": workspaceID,
		"name":         name,
		"status":       bson.M{"$in": []string{models.DocStatusPending, models.DocStatusProcessing}},
	})
	if err != nil {
		return false, fmt.Errorf("failed to check processing documents: %w", err)
	}
	return count > 0, nil
}

func (s *MongoStore) SetDocumentStatus(ctx context.Context, documentID, status, errorMessage string) error {
	update := bson.M{"status": status}
	if errorMessage != "" {
		update["error"] = errorMessage
	}
	res, err := s.documents.UpdateOne(ctx, bson.M{"_id": documentID}, bson.M{"$set": update})
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// DeleteDocument removes the document and its chunks. Chunks go first so a
// failure mid-delete leaves the document visible rather than orphaned chunks.
func (s *MongoStore) DeleteDocument(ctx context.Context, workspaceID, documentID string) error {
	if _, err := s.GetDocument(ctx, workspaceID, documentID); err != nil {
		return err
	}

	session, err := s.client.StartSession()
	if err == nil {
		defer session.EndSession(ctx)
		_, txErr := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
			if _, err := s.chunks.DeleteMany(sc, bson.M{"document_id": documentID}); err != nil {
				return nil, err
			}
			return s.documents.DeleteOne(sc, bson.M{"_id": documentID, "workspace_id": workspaceID})
		})
		if txErr == nil {
			return nil
		}
	}

	if err := s.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}
	_, err = s.documents.DeleteOne(ctx, bson.M{"_id": documentID, "workspace_id": workspaceID})
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (s *MongoStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.conversations.InsertOne(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *MongoStore) ListMessages(ctx context.Context, workspaceID, conversationID string) ([]models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.conversations.Find(ctx, bson.M{
		"workspace_id":    workspaceID,
		"conversation_id": conversationID,
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer cursor.Close(ctx)

	msgs := make([]models.Message, 0)
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return msgs, nil
}

// Database exposes the underlying database for collaborators that share the
// deployment, such as the GridFS blob bucket.
func (s *MongoStore) Database() *mongo.Database {
	return s.database
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
