package localcart

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/goccy/go-json"
	"github.com/nguyentranbao-ct/storefront-cart/internal/models"
)

// DefaultTTL is how long an untouched local cart survives.
const DefaultTTL = 24 * time.Hour

type record struct {
	Items []models.LocalEntry `json:"items"`
	// Timestamp is the last write time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Repository reads and writes the local cart of one session.
type Repository interface {
	Load(ctx context.Context, sessionID string) ([]models.LocalEntry, error)
	Save(ctx context.Context, sessionID string, entries []models.LocalEntry) error
	Clear(ctx context.Context, sessionID string) error
}

type Option func(*repository)

func WithTTL(ttl time.Duration) Option {
	return func(r *repository) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *repository) {
		r.now = now
	}
}

type repository struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

func NewRepository(store Store, opts ...Option) Repository {
	r := &repository{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load returns the stored entries. An expired or unreadable record is discarded whole.
func (r *repository) Load(ctx context.Context, sessionID string) ([]models.LocalEntry, error) {
	key := storageKey(sessionID)
	data, err := r.store.Get(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get local cart: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Warnw(ctx, "discard unreadable local cart", "session_id", sessionID, "error", err)
		r.discard(ctx, key)
		return nil, nil
	}

	written := time.UnixMilli(rec.Timestamp)
	if r.now().Sub(written) > r.ttl {
		log.Debugw(ctx, "discard expired local cart", "session_id", sessionID, "written_at", written)
		r.discard(ctx, key)
		return nil, nil
	}

	entries := make([]models.LocalEntry, 0, len(rec.Items))
	for _, item := range rec.Items {
		if item.Quantity <= 0 || item.ProductID == "" {
			continue
		}
		entries = append(entries, item)
	}
	return entries, nil
}

func (r *repository) Save(ctx context.Context, sessionID string, entries []models.LocalEntry) error {
	if entries == nil {
		entries = []models.LocalEntry{}
	}
	data, err := json.Marshal(record{
		Items:     entries,
		Timestamp: r.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal local cart: %w", err)
	}
	if err := r.store.Set(ctx, storageKey(sessionID), data, r.ttl); err != nil {
		return fmt.Errorf("set local cart: %w", err)
	}
	return nil
}

func (r *repository) Clear(ctx context.Context, sessionID string) error {
	if err := r.store.Delete(ctx, storageKey(sessionID)); err != nil {
		return fmt.Errorf("delete local cart: %w", err)
	}
	return nil
}

func (r *repository) discard(ctx context.Context, key string) {
	if err := r.store.Delete(ctx, key); err != nil {
		log.Warnw(ctx, "delete local cart", "key", key, "error", err)
	}
}
