package persistence

import (
	"context"
	"errors"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormPricingRuleRepository implements PricingRuleRepository using GORM
type GormPricingRuleRepository struct {
	db *gorm.DB
}

// NewGormPricingRuleRepository creates a new GormPricingRuleRepository
func NewGormPricingRuleRepository(db *gorm.DB) *GormPricingRuleRepository {
	return &GormPricingRuleRepository{db: db}
}

// Save inserts or updates a rule
func (r *GormPricingRuleRepository) Save(ctx context.Context, rule *pricesync.PricingRule) error {
	var m models.PricingRuleModel
	m.FromDomain(rule)
	return conn(ctx, r.db).Save(&m).Error
}

// FindByID finds a rule within a tenant
func (r *GormPricingRuleRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*pricesync.PricingRule, error) {
	var m models.PricingRuleModel
	if err := conn(ctx, r.db).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pricesync.ErrRuleNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindActive returns the active rules of one type, highest priority first
func (r *GormPricingRuleRepository) FindActive(ctx context.Context, tenantID uuid.UUID, ruleType pricesync.RuleType) ([]*pricesync.PricingRule, error) {
	return r.List(ctx, tenantID, ruleType, false)
}

// List returns a tenant's rules. An empty ruleType returns all types.
func (r *GormPricingRuleRepository) List(ctx context.Context, tenantID uuid.UUID, ruleType pricesync.RuleType, includeInactive bool) ([]*pricesync.PricingRule, error) {
	query := conn(ctx, r.db).Where("tenant_id = ?", tenantID)
	if ruleType != "" {
		query = query.Where("rule_type = ?", string(ruleType))
	}
	if !includeInactive {
		query = query.Where("is_active = ?", true)
	}

	var rows []models.PricingRuleModel
	if err := query.Order("priority DESC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	rules := make([]*pricesync.PricingRule, len(rows))
	for i := range rows {
		rules[i] = rows[i].ToDomain()
	}
	return rules, nil
}

var _ pricesync.PricingRuleRepository = (*GormPricingRuleRepository)(nil)
