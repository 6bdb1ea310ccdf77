package pricesync

import (
	"context"
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestProduct(tenantID uuid.UUID, externalID, price string, stock int64) *pricesync.Product {
	return &pricesync.Product{
		TenantEntity: shared.NewTenantEntity(tenantID),
		ExternalID:   externalID,
		SKU:          "SKU-" + externalID,
		Name:         "Widget " + externalID,
		Description:  "A widget",
		Category:     "Hardware",
		Price:        dec(price),
		Stock:        stock,
		IsActive:     true,
		Version:      1,
	}
}

func copyProduct(p *pricesync.Product) *pricesync.Product {
	cp := *p
	return &cp
}

func erpFor(p *pricesync.Product, price string, stock int64) pricesync.ErpProduct {
	return pricesync.ErpProduct{
		TenantID:    p.TenantID,
		ExternalID:  p.ExternalID,
		Name:        p.Name,
		Description: p.Description,
		Price:       dec(price),
		Stock:       stock,
		UpdatedAt:   time.Now(),
	}
}

// priceConflict detects a price conflict between p and an ERP price
func priceConflict(p *pricesync.Product, erpPrice string) *pricesync.Conflict {
	erp := erpFor(p, erpPrice, p.Stock)
	pair := pricesync.ProductPair{Local: p, Erp: &erp}
	conflicts := pricesync.DetectProductConflicts(pair, pricesync.ExpectedFromErp(&erp), pricesync.DefaultTenantSyncSettings())
	for _, c := range conflicts {
		if c.Type == pricesync.ConflictPriceMinor || c.Type == pricesync.ConflictPriceMajor {
			return c
		}
	}
	panic("no price conflict for " + erpPrice)
}

func newTestSettingsStore() *SettingsStore {
	return NewSettingsStore(new(MockSettingsRepository), pricesync.DefaultTenantSyncSettings(), nil, zap.NewNop())
}

func newTestRuleCache(rules ...*pricesync.PricingRule) *RuleCache {
	repo := new(MockPricingRuleRepository)
	repo.On("FindActive", mock.Anything, mock.Anything, mock.Anything).Return(rules, nil)
	return NewRuleCache(repo, nil, zap.NewNop())
}

type MockConflictRaiser struct {
	mock.Mock
}

func (m *MockConflictRaiser) Raise(ctx context.Context, c *pricesync.Conflict, settings pricesync.TenantSyncSettings) (*pricesync.Conflict, error) {
	args := m.Called(ctx, c, settings)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesync.Conflict), args.Error(1)
}
