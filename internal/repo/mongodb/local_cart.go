package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/nguyentranbao-ct/storefront-cart/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LocalCartDocument stores one session's local cart record.
type LocalCartDocument struct {
	Key       string    `bson:"_id"`
	Payload   []byte    `bson:"payload"`
	UpdatedAt time.Time `bson:"updated_at"`
	ExpiresAt time.Time `bson:"expires_at,omitempty"` // TTL index
}

// LocalCartRepository is a key/value store of local cart records backed by a
// collection with a TTL index on expires_at.
type LocalCartRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewLocalCartRepository(db *DB) *LocalCartRepository {
	return &LocalCartRepository{
		collection: db.Database.Collection("local_carts"),
		now:        time.Now,
	}
}

func (r *LocalCartRepository) EnsureIndexes(ctx context.Context) error {
	ttlIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().
			SetExpireAfterSeconds(0).
			SetName("expires_at_ttl"),
	}
	if _, err := r.collection.Indexes().CreateOne(ctx, ttlIndex); err != nil {
		return fmt.Errorf("create local cart ttl index: %w", err)
	}
	log.Debugw(ctx, "local cart indexes ensured", "collection", r.collection.Name())
	return nil
}

func (r *LocalCartRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var doc LocalCartDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find local cart: %w", err)
	}
	// the TTL monitor runs about once a minute, so expired documents can still be read
	if !doc.ExpiresAt.IsZero() && !r.now().Before(doc.ExpiresAt) {
		return nil, models.ErrNotFound
	}
	return doc.Payload, nil
}

func (r *LocalCartRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := r.now()
	doc := LocalCartDocument{
		Key:       key,
		Payload:   value,
		UpdatedAt: now,
	}
	if ttl > 0 {
		doc.ExpiresAt = now.Add(ttl)
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, bson.M{"_id": key}, doc, opts); err != nil {
		return fmt.Errorf("upsert local cart: %w", err)
	}
	return nil
}

func (r *LocalCartRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("delete local cart: %w", err)
	}
	return nil
}
