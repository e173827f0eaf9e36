package cart

import (
	"context"
	"testing"
	"time"

	"github.com/nguyentranbao-ct/storefront-cart/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogCachesAndSweeps(t *testing.T) {
	ctx := context.Background()
	shop := newFakeShop()
	shop.products["p1"] = &models.Product{ID: "p1", Name: "Camisa"}
	shop.products["p2"] = &models.Product{ID: "p2", Name: "Pantalón"}

	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	catalog := NewCatalog(shop)
	catalog.now = func() time.Time { return now }

	lines := []models.CartLine{{ProductID: "p1"}, {ProductID: "p2"}, {ProductID: "missing"}}
	catalog.Enrich(ctx, lines)
	require.NotNil(t, lines[0].Display)
	assert.Equal(t, "Camisa", lines[0].Display.Name)
	assert.Nil(t, lines[2].Display)
	assert.Equal(t, 2, catalog.Len())
	assert.Equal(t, 3, shop.called("product"))

	// served from cache
	again := []models.CartLine{{ProductID: "p1"}}
	catalog.Enrich(ctx, again)
	require.NotNil(t, again[0].Display)
	assert.Equal(t, 3, shop.called("product"))

	assert.Equal(t, 0, catalog.Sweep())

	now = now.Add(catalogTTL)
	assert.Equal(t, 2, catalog.Sweep())
	assert.Equal(t, 0, catalog.Len())

	expired := []models.CartLine{{ProductID: "p1"}}
	catalog.Attach(expired)
	assert.Nil(t, expired[0].Display)
}
