package localcart

import (
	"context"
	"time"
)

// Store persists opaque local cart records. Get returns models.ErrNotFound for a
// missing or expired key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const keyPrefix = "cart:local:"

func storageKey(sessionID string) string {
	return keyPrefix + sessionID
}
