package pricesync

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RuleEnv is the attribute set rule conditions are evaluated against.
//
//	category == "electronics" && "clearance" in tags
//	quantity > 100 || price >= 500
type RuleEnv struct {
	SKU      string   `expr:"sku"`
	Name     string   `expr:"name"`
	Category string   `expr:"category"`
	Tags     []string `expr:"tags"`
	Quantity int64    `expr:"quantity"`
	Price    float64  `expr:"price"`
}

// AppliedRule is one entry of the evaluation trace.
type AppliedRule struct {
	RuleID   uuid.UUID       `json:"rule_id"`
	RuleName string          `json:"rule_name"`
	RuleType RuleType        `json:"rule_type"`
	Priority int             `json:"priority"`
	Before   decimal.Decimal `json:"before"`
	After    decimal.Decimal `json:"after"`
}

// SkippedRule records a rule whose condition failed to compile or run.
type SkippedRule struct {
	RuleID   uuid.UUID
	RuleName string
	Err      error
}

// RuleEvaluation is the outcome of folding a snapshot over a base value.
type RuleEvaluation struct {
	BaseValue  decimal.Decimal
	FinalValue decimal.Decimal
	Applied    []AppliedRule
	Skipped    []SkippedRule
}

type compiledRule struct {
	rule    *PricingRule
	program *vm.Program
	err     error
}

// RuleSnapshot is an immutable, ordered view of a tenant's active rules of
// one type. Conditions are compiled once when the snapshot is built.
type RuleSnapshot struct {
	tenantID uuid.UUID
	ruleType RuleType
	rules    []compiledRule
	loadedAt time.Time
}

// NewRuleSnapshot orders the active rules of ruleType by priority descending
// and ID ascending, and compiles their conditions.
func NewRuleSnapshot(tenantID uuid.UUID, ruleType RuleType, rules []*PricingRule) *RuleSnapshot {
	selected := make([]*PricingRule, 0, len(rules))
	for _, r := range rules {
		if r == nil || !r.IsActive || r.RuleType != ruleType || r.TenantID != tenantID {
			continue
		}
		selected = append(selected, r)
	}
	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].Priority != selected[j].Priority {
			return selected[i].Priority > selected[j].Priority
		}
		return bytes.Compare(selected[i].ID[:], selected[j].ID[:]) < 0
	})

	compiled := make([]compiledRule, 0, len(selected))
	for _, r := range selected {
		cr := compiledRule{rule: r}
		if r.Conditions != "" {
			cr.program, cr.err = expr.Compile(r.Conditions, expr.Env(RuleEnv{}), expr.AsBool())
		}
		compiled = append(compiled, cr)
	}

	return &RuleSnapshot{
		tenantID: tenantID,
		ruleType: ruleType,
		rules:    compiled,
		loadedAt: time.Now(),
	}
}

// EmptyRuleSnapshot returns a snapshot with no rules
func EmptyRuleSnapshot(tenantID uuid.UUID, ruleType RuleType) *RuleSnapshot {
	return NewRuleSnapshot(tenantID, ruleType, nil)
}

// TenantID returns the owning tenant
func (s *RuleSnapshot) TenantID() uuid.UUID { return s.tenantID }

// RuleType returns the rule type held by the snapshot
func (s *RuleSnapshot) RuleType() RuleType { return s.ruleType }

// LoadedAt returns when the snapshot was built
func (s *RuleSnapshot) LoadedAt() time.Time { return s.loadedAt }

// Len returns the number of rules
func (s *RuleSnapshot) Len() int { return len(s.rules) }

// Rules returns the rules in evaluation order
func (s *RuleSnapshot) Rules() []*PricingRule {
	out := make([]*PricingRule, len(s.rules))
	for i, cr := range s.rules {
		out[i] = cr.rule
	}
	return out
}

// ApplyRules folds the price rules of the snapshot over basePrice. A rule
// whose condition cannot be evaluated is skipped and reported, never fatal.
func ApplyRules(snapshot *RuleSnapshot, env RuleEnv, basePrice decimal.Decimal) (RuleEvaluation, error) {
	if !basePrice.IsPositive() {
		return RuleEvaluation{}, ErrInvalidBasePrice
	}
	eval := fold(snapshot, env, basePrice)
	eval.FinalValue = eval.FinalValue.Round(2)
	return eval, nil
}

// ApplyStockRules folds stock rules over an ERP stock level. The result is
// truncated to whole units and never negative.
func ApplyStockRules(snapshot *RuleSnapshot, env RuleEnv, stock int64) RuleEvaluation {
	if stock < 0 {
		stock = 0
	}
	eval := fold(snapshot, env, decimal.NewFromInt(stock))
	final := eval.FinalValue.Truncate(0)
	if final.IsNegative() {
		final = decimal.Zero
	}
	eval.FinalValue = final
	return eval
}

func fold(snapshot *RuleSnapshot, env RuleEnv, base decimal.Decimal) RuleEvaluation {
	eval := RuleEvaluation{
		BaseValue:  base,
		FinalValue: base,
		Applied:    []AppliedRule{},
	}
	if snapshot == nil {
		return eval
	}

	value := base
	for _, cr := range snapshot.rules {
		matched, err := cr.matches(env)
		if err != nil {
			eval.Skipped = append(eval.Skipped, SkippedRule{
				RuleID:   cr.rule.ID,
				RuleName: cr.rule.Name,
				Err:      err,
			})
			continue
		}
		if !matched {
			continue
		}
		before := value
		for _, action := range cr.rule.Actions {
			value = action.Apply(value)
		}
		eval.Applied = append(eval.Applied, AppliedRule{
			RuleID:   cr.rule.ID,
			RuleName: cr.rule.Name,
			RuleType: snapshot.ruleType,
			Priority: cr.rule.Priority,
			Before:   before,
			After:    value,
		})
	}
	eval.FinalValue = value
	return eval
}

func (cr compiledRule) matches(env RuleEnv) (bool, error) {
	if cr.err != nil {
		return false, cr.err
	}
	if cr.program == nil {
		return true, nil
	}
	out, err := expr.Run(cr.program, env)
	if err != nil {
		return false, err
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition returned %T, want bool", out)
	}
	return matched, nil
}
