package cart

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/nguyentranbao-ct/storefront-cart/internal/config"
	"github.com/nguyentranbao-ct/storefront-cart/internal/repo/localcart"
	"github.com/nguyentranbao-ct/storefront-cart/internal/repo/shopapi"
	"github.com/nguyentranbao-ct/storefront-cart/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
)

type Dependencies struct {
	Shop             shopapi.Client
	Local            localcart.Repository
	Catalog          *Catalog
	Observer         Observer
	PlaceholderImage string
	Metrics          *prometheus.HistogramVec
	Now              func() time.Time
}

// Registry hands out one Manager per session and forgets idle ones.
type Registry struct {
	deps    Dependencies
	idleTTL time.Duration

	mu       sync.Mutex
	managers map[string]*Manager
}

func NewRegistry(
	conf *config.Config,
	shop shopapi.Client,
	local localcart.Repository,
	catalog *Catalog,
	observer Observer,
) (*Registry, error) {
	metrics, err := util.GetHistogramVec("cart_operations", "op", "mode", "code")
	if err != nil {
		return nil, fmt.Errorf("get histogram vec: %w", err)
	}
	return newRegistry(conf.Cart.SessionIdleTTL, Dependencies{
		Shop:             shop,
		Local:            local,
		Catalog:          catalog,
		Observer:         observer,
		PlaceholderImage: conf.Cart.PlaceholderImage,
		Metrics:          metrics,
	}), nil
}

func newRegistry(idleTTL time.Duration, deps Dependencies) *Registry {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Registry{
		deps:     deps,
		idleTTL:  idleTTL,
		managers: make(map[string]*Manager),
	}
}

func (r *Registry) Get(sessionID string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[sessionID]
	if !ok {
		m = newManager(sessionID, r.deps)
		r.managers[sessionID] = m
	}
	return m
}

// Evict drops the in-memory manager of a session. Local storage is kept.
func (r *Registry) Evict(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.managers[sessionID]
	delete(r.managers, sessionID)
	return ok
}

// Expire drops the manager and the local storage of a session that ended for good.
func (r *Registry) Expire(ctx context.Context, sessionID string) error {
	r.Evict(sessionID)
	return r.deps.Local.Clear(ctx, sessionID)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}

// Sweep evicts managers idle for longer than the idle TTL.
func (r *Registry) Sweep() int {
	if r.idleTTL <= 0 {
		return 0
	}
	cutoff := r.deps.Now().Add(-r.idleTTL)

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, m := range r.managers {
		if m.idleSince().Before(cutoff) {
			delete(r.managers, id)
			evicted++
		}
	}
	return evicted
}

// Run sweeps idle managers until ctx ends.
func (r *Registry) Run(ctx context.Context) {
	if r.idleTTL <= 0 {
		return
	}
	interval := r.idleTTL / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				log.Debugw(ctx, "idle cart sessions evicted", "count", n, "remaining", r.Len())
			}
			if r.deps.Catalog != nil {
				if n := r.deps.Catalog.Sweep(); n > 0 {
					log.Debugw(ctx, "expired product displays dropped", "count", n)
				}
			}
		}
	}
}
