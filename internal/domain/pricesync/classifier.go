package pricesync

import "github.com/shopspring/decimal"

// ChangeReason explains a classifier decision.
type ChangeReason string

const (
	ReasonAccepted        ChangeReason = "accepted"
	ReasonInvalidValue    ChangeReason = "invalid_value"
	ReasonWithinTolerance ChangeReason = "within_tolerance"
	ReasonExceedsCap      ChangeReason = "exceeds_cap"
)

// IsRejection reports whether the reason is recorded as a rejected change.
// within_tolerance is a no-op, not a rejection.
func (r ChangeReason) IsRejection() bool {
	return r == ReasonInvalidValue || r == ReasonExceedsCap
}

// ClassifierConfig bounds which price changes are applied. A nil cap is
// unbounded.
type ClassifierConfig struct {
	TolerancePercent   decimal.Decimal
	MinAbsoluteChange  decimal.Decimal
	MaxIncreasePercent *decimal.Decimal
	MaxDecreasePercent *decimal.Decimal
}

// ChangeDecision is the classifier's verdict.
type ChangeDecision struct {
	ShouldUpdate  bool
	Reason        ChangeReason
	ChangePercent decimal.Decimal
	ChangeAmount  decimal.Decimal
}

// Classify decides whether proposed replaces local.
//
// Order of checks: non-positive proposals are invalid; identical values and
// changes inside both the relative and absolute tolerance are no-ops; moves
// past either cap are rejected; anything else is accepted. The percentage is
// relative to local, and a zero local value counts as a 100% increase.
func Classify(local, proposed decimal.Decimal, cfg ClassifierConfig) ChangeDecision {
	amount := proposed.Sub(local)
	pct := percentOf(amount, local)
	d := ChangeDecision{
		ChangePercent: pct,
		ChangeAmount:  amount,
	}

	if !proposed.IsPositive() {
		d.Reason = ReasonInvalidValue
		return d
	}
	if proposed.Equal(local) {
		d.Reason = ReasonWithinTolerance
		return d
	}
	if pct.Abs().LessThan(cfg.TolerancePercent) && amount.Abs().LessThan(cfg.MinAbsoluteChange) {
		d.Reason = ReasonWithinTolerance
		return d
	}
	if cfg.MaxIncreasePercent != nil && pct.GreaterThan(*cfg.MaxIncreasePercent) {
		d.Reason = ReasonExceedsCap
		return d
	}
	if cfg.MaxDecreasePercent != nil && pct.LessThan(cfg.MaxDecreasePercent.Neg()) {
		d.Reason = ReasonExceedsCap
		return d
	}

	d.ShouldUpdate = true
	d.Reason = ReasonAccepted
	return d
}

// percentOf returns amount as a percentage of base, rounded to 4 places.
func percentOf(amount, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		switch {
		case amount.IsPositive():
			return hundred
		case amount.IsNegative():
			return hundred.Neg()
		default:
			return decimal.Zero
		}
	}
	return amount.Div(base).Mul(hundred).Round(4)
}
