package api

import (
	"context"
	"log/slog"

	"github.com/openxui/panelsync/internal/cache"
	"github.com/openxui/panelsync/internal/models"
	"github.com/openxui/panelsync/internal/xui"
)

// panelReader reads catalog data from tenant panels through the shared
// connection registry, with a TTL cache in front.
type panelReader struct {
	registry *xui.Registry
	cache    *cache.CatalogCache
	log      *slog.Logger
}

func NewPanelReader(registry *xui.Registry, catalogCache *cache.CatalogCache, logger *slog.Logger) PanelReader {
	return &panelReader{registry: registry, cache: catalogCache, log: logger}
}

func panelCredentials(integ *models.Integration) xui.Credentials {
	return xui.Credentials{
		Host:     integ.DBHost,
		Port:     integ.DBPort,
		Database: integ.DBName,
		User:     integ.DBUser,
		Password: integ.DBPassword,
	}
}

func (p *panelReader) repository(ctx context.Context, integ *models.Integration) (*xui.Repository, error) {
	db, err := p.registry.Get(ctx, integ.TenantID, 0, panelCredentials(integ))
	if err != nil {
		return nil, err
	}
	return xui.NewRepository(db, p.log), nil
}

func (p *panelReader) Bouquets(ctx context.Context, integ *models.Integration) ([]xui.Bouquet, error) {
	return p.cache.Bouquets(ctx, integ.TenantID, func(ctx context.Context) ([]xui.Bouquet, error) {
		repo, err := p.repository(ctx, integ)
		if err != nil {
			return nil, err
		}
		return repo.ListBouquets(ctx)
	})
}

func (p *panelReader) Categories(ctx context.Context, integ *models.Integration) ([]xui.PanelCategory, error) {
	return p.cache.Categories(ctx, integ.TenantID, func(ctx context.Context) ([]xui.PanelCategory, error) {
		repo, err := p.repository(ctx, integ)
		if err != nil {
			return nil, err
		}
		return repo.ListCategories(ctx)
	})
}

// Invalidate drops the tenant's cached catalog view and pooled panel
// connection. Called after the integration changes.
func (p *panelReader) Invalidate(tenantID int64) {
	p.cache.Invalidate(tenantID)
	p.registry.Dispose(tenantID, 0)
}

// TestConnection drops any pooled connection for the tenant and dials
// fresh so stale pools cannot hide a credentials problem.
func (p *panelReader) TestConnection(ctx context.Context, integ *models.Integration) error {
	p.registry.Dispose(integ.TenantID, 0)
	_, err := p.registry.Get(ctx, integ.TenantID, 0, panelCredentials(integ))
	return err
}
