package pricesync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RuleService manages pricing rules
type RuleService struct {
	repo      pricesync.PricingRuleRepository
	cache     *RuleCache
	publisher shared.EventPublisher
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewRuleService creates a new RuleService
func NewRuleService(
	repo pricesync.PricingRuleRepository,
	cache *RuleCache,
	publisher shared.EventPublisher,
	logger *zap.Logger,
) *RuleService {
	return &RuleService{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
}

// Upsert creates a rule, or replaces the definition of an existing one.
// The cached snapshot for the rule's tenant and type is dropped on success.
func (s *RuleService) Upsert(ctx context.Context, tenantID uuid.UUID, req UpsertPricingRuleRequest) (*PricingRuleResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, invalidInput(err)
	}
	actions, err := toRuleActions(req.Actions)
	if err != nil {
		return nil, err
	}
	ruleType := pricesync.RuleType(req.RuleType)

	var rule *pricesync.PricingRule
	var previousType pricesync.RuleType
	if req.ID != nil {
		rule, err = s.repo.FindByID(ctx, tenantID, *req.ID)
		if err != nil {
			return nil, err
		}
		previousType = rule.RuleType
		if err := rule.Update(req.Name, ruleType, req.Priority, req.Conditions, actions); err != nil {
			return nil, err
		}
	} else {
		rule, err = pricesync.NewPricingRule(tenantID, req.Name, ruleType, req.Priority, req.Conditions, actions)
		if err != nil {
			return nil, err
		}
	}
	rule.Description = strings.TrimSpace(req.Description)
	if req.IsActive != nil {
		if *req.IsActive {
			rule.Activate()
		} else {
			rule.Deactivate()
		}
	}

	if err := s.repo.Save(ctx, rule); err != nil {
		return nil, err
	}

	if previousType != "" && previousType != rule.RuleType {
		s.cache.Broadcast(ctx, tenantID, previousType)
	}
	s.changed(ctx, rule)

	s.logger.Info("pricing rule saved",
		zap.String("tenant_id", tenantID.String()),
		zap.String("rule_id", rule.ID.String()),
		zap.String("rule_type", string(rule.RuleType)),
		zap.Bool("active", rule.IsActive))

	resp := ToPricingRuleResponse(rule)
	return &resp, nil
}

// Get returns a single rule
func (s *RuleService) Get(ctx context.Context, tenantID, ruleID uuid.UUID) (*PricingRuleResponse, error) {
	rule, err := s.repo.FindByID(ctx, tenantID, ruleID)
	if err != nil {
		return nil, err
	}
	resp := ToPricingRuleResponse(rule)
	return &resp, nil
}

// List returns the tenant's rules of one type, or of every type when
// ruleType is empty
func (s *RuleService) List(ctx context.Context, tenantID uuid.UUID, ruleType string, includeInactive bool) ([]PricingRuleResponse, error) {
	rt := pricesync.RuleType(ruleType)
	if rt != "" && !rt.IsValid() {
		return nil, pricesync.ErrInvalidRuleType
	}
	rules, err := s.repo.List(ctx, tenantID, rt, includeInactive)
	if err != nil {
		return nil, err
	}
	out := make([]PricingRuleResponse, len(rules))
	for i, r := range rules {
		out[i] = ToPricingRuleResponse(r)
	}
	return out, nil
}

// Deactivate disables a rule. Rules are never hard-deleted so price history
// keeps resolving the rule IDs it references.
func (s *RuleService) Deactivate(ctx context.Context, tenantID, ruleID uuid.UUID) (*PricingRuleResponse, error) {
	rule, err := s.repo.FindByID(ctx, tenantID, ruleID)
	if err != nil {
		return nil, err
	}
	if !rule.IsActive {
		resp := ToPricingRuleResponse(rule)
		return &resp, nil
	}
	rule.Deactivate()
	if err := s.repo.Save(ctx, rule); err != nil {
		return nil, err
	}
	s.changed(ctx, rule)

	resp := ToPricingRuleResponse(rule)
	return &resp, nil
}

func (s *RuleService) changed(ctx context.Context, rule *pricesync.PricingRule) {
	s.cache.Broadcast(ctx, rule.TenantID, rule.RuleType)
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, pricesync.NewPricingRulesChangedEvent(rule)); err != nil {
		s.logger.Warn("failed to publish rule change", zap.Error(err))
	}
}

func toRuleActions(reqs []RuleActionRequest) ([]pricesync.RuleAction, error) {
	actions := make([]pricesync.RuleAction, len(reqs))
	for i, r := range reqs {
		a := pricesync.RuleAction{Type: pricesync.ActionType(r.Type), Min: r.Min, Max: r.Max}
		if r.Value != nil {
			a.Value = *r.Value
		} else if a.Type != pricesync.ActionClamp {
			return nil, shared.ErrInvalidInput.WithDetail(fmt.Sprintf("actions[%d].value is required", i))
		}
		if a.Type == pricesync.ActionClamp {
			a.Value = decimal.Zero
		}
		actions[i] = a
	}
	return actions, nil
}

// invalidInput turns validator errors into a single INVALID_INPUT error
// naming the offending fields
func invalidInput(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.ErrInvalidInput.WithDetail(err.Error())
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return shared.ErrInvalidInput.WithDetail(strings.Join(fields, "; "))
}
