package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/garapin-pos/settlement-engine/internal/models"
	"github.com/garapin-pos/settlement-engine/internal/resolver"
	"github.com/garapin-pos/settlement-engine/internal/storage"
	"github.com/garapin-pos/settlement-engine/internal/tenant"
)

// tenantTemplates adapts the tenant connection manager to the resolver's
// TemplateSource: child-template recursion crosses tenant boundaries, so an
// unknown tenant reads as "no template".
type tenantTemplates struct {
	tenants *tenant.Manager
}

// NewTemplateSource exposes tenant-held routing templates to the resolver.
func NewTemplateSource(m *tenant.Manager) resolver.TemplateSource {
	return &tenantTemplates{tenants: m}
}

func (s *tenantTemplates) ActiveTemplate(ctx context.Context, tenantID string) (*models.RoutingTemplate, error) {
	store, err := s.acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return store.ActiveTemplate(ctx)
}

func (s *tenantTemplates) TemplateByInvoice(ctx context.Context, tenantID, invoice string) (*models.RoutingTemplate, error) {
	store, err := s.acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return store.TemplateByInvoice(ctx, invoice)
}

func (s *tenantTemplates) acquire(ctx context.Context, tenantID string) (storage.TenantStore, error) {
	store, err := s.tenants.Acquire(ctx, tenantID)
	if errors.Is(err, tenant.ErrTenantNotFound) {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
