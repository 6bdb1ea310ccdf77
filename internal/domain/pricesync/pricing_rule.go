package pricesync

import (
	"fmt"
	"strings"

	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/expr-lang/expr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RuleType selects which value a rule transforms. Rule snapshots are cached
// per (tenant, rule type).
type RuleType string

const (
	RuleTypePrice RuleType = "price"
	RuleTypeStock RuleType = "stock"
)

// IsValid returns true if the rule type is known
func (t RuleType) IsValid() bool {
	return t == RuleTypePrice || t == RuleTypeStock
}

func (t RuleType) String() string {
	return string(t)
}

// ActionType is a single transformation step.
type ActionType string

const (
	ActionPercentageMarkup   ActionType = "percentage_markup"
	ActionPercentageDiscount ActionType = "percentage_discount"
	ActionFixedMarkup        ActionType = "fixed_markup"
	ActionFixedDiscount      ActionType = "fixed_discount"
	ActionClamp              ActionType = "clamp"
)

var hundred = decimal.NewFromInt(100)

// RuleAction is one step of a rule. Value is used by markup and discount
// actions; Min and Max by clamp.
type RuleAction struct {
	Type  ActionType       `json:"type"`
	Value decimal.Decimal  `json:"value"`
	Min   *decimal.Decimal `json:"min,omitempty"`
	Max   *decimal.Decimal `json:"max,omitempty"`
}

// Validate checks the action's parameters
func (a RuleAction) Validate() error {
	switch a.Type {
	case ActionPercentageMarkup, ActionFixedMarkup, ActionFixedDiscount:
		if a.Value.IsNegative() {
			return ErrInvalidRuleAction
		}
	case ActionPercentageDiscount:
		if a.Value.IsNegative() || a.Value.GreaterThan(hundred) {
			return ErrInvalidRuleAction
		}
	case ActionClamp:
		if a.Min == nil && a.Max == nil {
			return ErrInvalidRuleAction
		}
		if a.Min != nil && a.Max != nil && a.Min.GreaterThan(*a.Max) {
			return ErrInvalidRuleAction
		}
	default:
		return ErrInvalidRuleAction
	}
	return nil
}

// Apply transforms v
func (a RuleAction) Apply(v decimal.Decimal) decimal.Decimal {
	switch a.Type {
	case ActionPercentageMarkup:
		return v.Mul(hundred.Add(a.Value)).Div(hundred)
	case ActionPercentageDiscount:
		return v.Mul(hundred.Sub(a.Value)).Div(hundred)
	case ActionFixedMarkup:
		return v.Add(a.Value)
	case ActionFixedDiscount:
		return v.Sub(a.Value)
	case ActionClamp:
		if a.Min != nil && v.LessThan(*a.Min) {
			v = *a.Min
		}
		if a.Max != nil && v.GreaterThan(*a.Max) {
			v = *a.Max
		}
		return v
	}
	return v
}

// PricingRule is a tenant-scoped, prioritised transform applied to incoming
// ERP values. Conditions is an expression over RuleEnv; empty matches all.
type PricingRule struct {
	shared.TenantEntity
	Name        string
	Description string
	RuleType    RuleType
	Priority    int
	Conditions  string
	Actions     []RuleAction
	IsActive    bool
}

// NewPricingRule creates an active rule after validating it
func NewPricingRule(
	tenantID uuid.UUID,
	name string,
	ruleType RuleType,
	priority int,
	conditions string,
	actions []RuleAction,
) (*PricingRule, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	r := &PricingRule{
		TenantEntity: shared.NewTenantEntity(tenantID),
		IsActive:     true,
	}
	if err := r.Update(name, ruleType, priority, conditions, actions); err != nil {
		return nil, err
	}
	return r, nil
}

// Update replaces the rule definition
func (r *PricingRule) Update(name string, ruleType RuleType, priority int, conditions string, actions []RuleAction) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 100 {
		return ErrInvalidRuleName
	}
	if !ruleType.IsValid() {
		return ErrInvalidRuleType
	}
	if len(actions) == 0 {
		return ErrInvalidRuleAction
	}
	for _, a := range actions {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	conditions = strings.TrimSpace(conditions)
	if err := ValidateCondition(conditions); err != nil {
		return err
	}

	r.Name = name
	r.RuleType = ruleType
	r.Priority = priority
	r.Conditions = conditions
	r.Actions = append([]RuleAction(nil), actions...)
	r.Touch()
	return nil
}

// Activate enables the rule
func (r *PricingRule) Activate() {
	r.IsActive = true
	r.Touch()
}

// Deactivate disables the rule. Rules are never hard-deleted.
func (r *PricingRule) Deactivate() {
	r.IsActive = false
	r.Touch()
}

// ValidateCondition compiles a condition against RuleEnv
func ValidateCondition(condition string) error {
	if condition == "" {
		return nil
	}
	if _, err := expr.Compile(condition, expr.Env(RuleEnv{}), expr.AsBool()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}
	return nil
}
