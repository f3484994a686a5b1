package repository

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"swapi-archive/internal/logger"
	"swapi-archive/internal/model"
)

// MongoDBCharacterRepository implements CharacterRepository using MongoDB.
// Snapshot replacement runs in a multi-document transaction, which requires
// a replica set or sharded cluster.
type MongoDBCharacterRepository struct {
	client       *mongo.Client
	db           *mongo.Database
	collection   *mongo.Collection
	logger       *zap.Logger
	lastReplaced atomic.Int64
}

// NewMongoDBCharacterRepository creates a new MongoDB character repository.
func NewMongoDBCharacterRepository(uri, database, collection string, log *zap.Logger) (*MongoDBCharacterRepository, error) {
	log = logger.OrNop(log).Named("mongodb")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	coll := db.Collection(collection)

	indexModel := mongo.IndexModel{Keys: bson.D{{Key: "name", Value: 1}}}
	if _, err := coll.Indexes().CreateOne(ctx, indexModel); err != nil {
		log.Warn("failed to create index", zap.Error(err))
	}

	log.Info("connected", zap.String("database", database), zap.String("collection", collection))
	return &MongoDBCharacterRepository{
		client:     client,
		db:         db,
		collection: coll,
		logger:     log,
	}, nil
}

// ReplaceAll deletes every document and inserts records in one transaction.
func (r *MongoDBCharacterRepository) ReplaceAll(ctx context.Context, records []model.Character) error {
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	// Ending the session aborts an open transaction, which must still reach
	// the server when ctx is already cancelled.
	defer func() {
		endCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		session.EndSession(endCtx)
	}()

	docs := make([]interface{}, len(records))
	for i := range records {
		docs[i] = records[i]
	}

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := r.collection.DeleteMany(sc, bson.M{}); err != nil {
			return nil, fmt.Errorf("failed to clear characters: %w", err)
		}
		if len(docs) == 0 {
			return nil, nil
		}
		if _, err := r.collection.InsertMany(sc, docs); err != nil {
			return nil, fmt.Errorf("failed to insert characters: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("snapshot transaction failed: %w", err)
	}

	r.lastReplaced.Store(time.Now().UnixNano())
	r.logger.Info("snapshot replaced", zap.Int("records", len(records)))
	return nil
}

// ListCharacters returns one page of characters ordered by id.
func (r *MongoDBCharacterRepository) ListCharacters(ctx context.Context, limit, offset int) ([]model.Character, int64, error) {
	total, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count characters: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list characters: %w", err)
	}
	defer cursor.Close(ctx)

	characters := make([]model.Character, 0, limit)
	if err := cursor.All(ctx, &characters); err != nil {
		return nil, 0, fmt.Errorf("failed to decode characters: %w", err)
	}
	return characters, total, nil
}

// GetCharacter returns the character with the given id, or nil when absent.
func (r *MongoDBCharacterRepository) GetCharacter(ctx context.Context, id int64) (*model.Character, error) {
	var c model.Character
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get character: %w", err)
	}
	return &c, nil
}

// GetStats returns statistics about the characters collection.
func (r *MongoDBCharacterRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{"engine": "mongodb"}

	count, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	stats["total_characters"] = count

	if ns := r.lastReplaced.Load(); ns > 0 {
		stats["last_replaced_at"] = time.Unix(0, ns).UTC()
	}

	result := r.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: r.collection.Name()}})
	var collStats bson.M
	if err := result.Decode(&collStats); err == nil {
		if size, ok := collStats["size"].(int64); ok {
			stats["db_size_bytes"] = size
		} else if size, ok := collStats["size"].(int32); ok {
			stats["db_size_bytes"] = int64(size)
		}
	}

	return stats, nil
}

// Ping checks that the MongoDB deployment is reachable.
func (r *MongoDBCharacterRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

// Close closes the MongoDB connection.
func (r *MongoDBCharacterRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

// Ensure MongoDBCharacterRepository implements CharacterRepository
var _ CharacterRepository = (*MongoDBCharacterRepository)(nil)
