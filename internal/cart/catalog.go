package cart

import (
	"context"
	"sync"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/nguyentranbao-ct/storefront-cart/internal/models"
	"github.com/nguyentranbao-ct/storefront-cart/internal/repo/shopapi"
	"golang.org/x/sync/errgroup"
)

const (
	catalogTTL         = 5 * time.Minute
	catalogConcurrency = 8
)

type catalogEntry struct {
	display   models.ProductDisplay
	expiresAt time.Time
}

// Catalog resolves product display data for cart lines. Results are shared by
// every session; failed lookups are not cached.
type Catalog struct {
	shop shopapi.Client
	now  func() time.Time

	mu      sync.RWMutex
	entries map[models.ProductID]catalogEntry
}

func NewCatalog(shop shopapi.Client) *Catalog {
	return &Catalog{
		shop:    shop,
		now:     time.Now,
		entries: make(map[models.ProductID]catalogEntry),
	}
}

func (c *Catalog) cached(id models.ProductID) (models.ProductDisplay, bool) {
	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok || !c.now().Before(entry.expiresAt) {
		return models.ProductDisplay{}, false
	}
	return entry.display, true
}

// Sweep drops expired entries and returns how many were removed.
func (c *Catalog) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Attach sets the display of every line whose product is cached. No network.
func (c *Catalog) Attach(lines []models.CartLine) {
	for i := range lines {
		if lines[i].Display != nil {
			continue
		}
		if d, ok := c.cached(lines[i].ProductID); ok {
			lines[i].Display = &d
		}
	}
}

// Enrich fetches display data for lines that have none, concurrently. A product
// that cannot be loaded keeps no display and renders with placeholders.
func (c *Catalog) Enrich(ctx context.Context, lines []models.CartLine) {
	c.Attach(lines)

	missing := make(map[models.ProductID]struct{})
	for _, line := range lines {
		if line.Display == nil {
			missing[line.ProductID] = struct{}{}
		}
	}
	if len(missing) == 0 {
		return
	}

	var mu sync.Mutex
	fetched := make(map[models.ProductID]models.ProductDisplay, len(missing))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(catalogConcurrency)
	for id := range missing {
		group.Go(func() error {
			product, err := c.shop.GetProduct(gctx, id)
			if err != nil {
				log.Warnw(gctx, "load product display", "product_id", id, "error", err)
				return nil
			}
			display := models.ProductDisplay{
				Name:     product.Name,
				ImageURL: product.ImageURL,
				Code:     product.Code,
			}
			if v := product.DefaultVariant(); v != nil && len(v.Attributes) > 0 {
				display.DefaultVariant = v.Attributes
			}
			mu.Lock()
			fetched[id] = display
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	if len(fetched) == 0 {
		return
	}
	expiresAt := c.now().Add(catalogTTL)
	c.mu.Lock()
	for id, d := range fetched {
		c.entries[id] = catalogEntry{display: d, expiresAt: expiresAt}
	}
	c.mu.Unlock()
	c.Attach(lines)
}
