package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/cartsubs/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("sessions"),
	}
}

func (m *MongoRepository) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var sess domain.Session

	err := m.collection.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&sess)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if sess.Items == nil {
		sess.Items = []domain.StoredItem{}
	}
	if sess.Values == nil {
		sess.Values = map[string]string{}
	}
	return &sess, nil
}

func (m *MongoRepository) UpsertSession(ctx context.Context, sess *domain.Session) error {
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	opts := options.Replace().SetUpsert(true)
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": sess.ID}, sess, opts)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	return nil
}

func (m *MongoRepository) ClearItems(ctx context.Context, sessionID string) error {
	update := bson.M{
		"$set": bson.M{
			"items":      bson.A{},
			"updated_at": time.Now(),
		},
	}

	result, err := m.collection.UpdateOne(ctx, bson.M{"_id": sessionID}, update)
	if err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}

	if result.MatchedCount == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(domain.SessionTTL / time.Second)),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
