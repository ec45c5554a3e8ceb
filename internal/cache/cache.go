package cache

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"

	"github.com/openxui/panelsync/internal/metrics"
	"github.com/openxui/panelsync/internal/xui"
)

const maxTenants = 10_000

// CatalogCache keeps per-tenant snapshots of the panel's bouquets and
// categories so the API does not hit the remote panel database on every
// request. Entries expire after the configured TTL and are invalidated
// whenever an import job finishes for the tenant.
type CatalogCache struct {
	bouquets   *otter.Cache[int64, []xui.Bouquet]
	categories *otter.Cache[int64, []xui.PanelCategory]
}

// New creates a catalog cache whose entries expire ttl after being written.
func New(ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		bouquets: otter.Must(&otter.Options[int64, []xui.Bouquet]{
			MaximumSize:      maxTenants,
			ExpiryCalculator: otter.ExpiryWriting[int64, []xui.Bouquet](ttl),
		}),
		categories: otter.Must(&otter.Options[int64, []xui.PanelCategory]{
			MaximumSize:      maxTenants,
			ExpiryCalculator: otter.ExpiryWriting[int64, []xui.PanelCategory](ttl),
		}),
	}
}

// Bouquets returns the tenant's bouquet list, loading it on a miss.
func (c *CatalogCache) Bouquets(ctx context.Context, tenantID int64, load func(context.Context) ([]xui.Bouquet, error)) ([]xui.Bouquet, error) {
	if bouquets, ok := c.bouquets.GetIfPresent(tenantID); ok {
		metrics.CacheHits.Inc()
		return bouquets, nil
	}
	metrics.CacheMisses.Inc()

	bouquets, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.bouquets.Set(tenantID, bouquets)
	return bouquets, nil
}

// Categories returns the tenant's panel categories, loading them on a miss.
func (c *CatalogCache) Categories(ctx context.Context, tenantID int64, load func(context.Context) ([]xui.PanelCategory, error)) ([]xui.PanelCategory, error) {
	if categories, ok := c.categories.GetIfPresent(tenantID); ok {
		metrics.CacheHits.Inc()
		return categories, nil
	}
	metrics.CacheMisses.Inc()

	categories, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.categories.Set(tenantID, categories)
	return categories, nil
}

// Invalidate drops every cached snapshot for the tenant. Called after an
// import finishes so the next read reflects the new catalog.
func (c *CatalogCache) Invalidate(tenantID int64) {
	c.bouquets.Invalidate(tenantID)
	c.categories.Invalidate(tenantID)
}
