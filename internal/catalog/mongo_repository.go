package catalog

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for the MongoDB match catalog.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. matchreplay
	Collection string // e.g. matches
}

// MongoRepository implements Repository on MongoDB backend.
type MongoRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
	ctxTimeout time.Duration
}

// NewMongoRepository establishes connection and returns repository.
func NewMongoRepository(cfg MongoConfig) (*MongoRepository, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "matchreplay"
	}
	if cfg.Collection == "" {
		cfg.Collection = "matches"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	// ping
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	repo := &MongoRepository{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		ctxTimeout: 5 * time.Second,
	}

	// Ensure indexes
	if err := repo.ensureIndexes(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (m *MongoRepository) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	matchIDIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "match_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("matchid_unique"),
	}
	_, err := m.collection.Indexes().CreateOne(ctx, matchIDIdx)
	return err
}

// Get implements Repository.
func (m *MongoRepository) Get(ctx context.Context, matchID string) (*MatchInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	var info MatchInfo
	err := m.collection.FindOne(ctx, bson.M{"match_id": matchID}).Decode(&info)
	if err == mongo.ErrNoDocuments {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Put implements Repository (upsert by match_id).
func (m *MongoRepository) Put(ctx context.Context, info *MatchInfo) error {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	_, err := m.collection.UpdateOne(ctx,
		bson.M{"match_id": info.MatchID},
		bson.M{"$set": info},
		options.Update().SetUpsert(true),
	)
	return err
}

// List implements Repository.
func (m *MongoRepository) List(ctx context.Context) ([]*MatchInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	cursor, err := m.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var result []*MatchInfo
	for cursor.Next(ctx) {
		var info MatchInfo
		if err := cursor.Decode(&info); err != nil {
			return nil, err
		}
		result = append(result, &info)
	}
	return result, cursor.Err()
}

// Close disconnects the underlying client.
func (m *MongoRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
