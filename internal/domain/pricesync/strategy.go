package pricesync

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// StrategyName identifies a resolution strategy.
type StrategyName string

const (
	StrategyTimestampPriority StrategyName = "timestamp_priority"
	StrategySourcePriority    StrategyName = "source_priority"
	StrategySmartMerge        StrategyName = "smart_merge"
	StrategyValueBased        StrategyName = "value_based"
	StrategyManualRequired    StrategyName = "manual_required"
)

// IsValid returns true if the name is known
func (n StrategyName) IsValid() bool {
	switch n {
	case StrategyTimestampPriority, StrategySourcePriority, StrategySmartMerge,
		StrategyValueBased, StrategyManualRequired:
		return true
	}
	return false
}

func (n StrategyName) String() string {
	return string(n)
}

// ResolutionDecision is a strategy's verdict. Success=false means the
// conflict must be reviewed by an operator.
type ResolutionDecision struct {
	Success      bool
	Strategy     StrategyName
	ChosenSource ChosenSource
	Data         ResolvedValues
	Reason       string
}

// ResolutionStrategy picks the winning value for a conflict. Implementations
// are pure.
type ResolutionStrategy interface {
	Name() StrategyName
	Resolve(c *Conflict, settings TenantSyncSettings) ResolutionDecision
}

// StrategyRegistry maps strategy names to implementations.
type StrategyRegistry struct {
	mu         sync.RWMutex
	strategies map[StrategyName]ResolutionStrategy
}

// NewStrategyRegistry returns a registry holding the built-in strategies
func NewStrategyRegistry() *StrategyRegistry {
	r := &StrategyRegistry{strategies: make(map[StrategyName]ResolutionStrategy)}
	r.Register(TimestampPriorityStrategy{})
	r.Register(SourcePriorityStrategy{})
	r.Register(SmartMergeStrategy{})
	r.Register(ValueBasedStrategy{})
	r.Register(ManualRequiredStrategy{})
	return r
}

// Register adds or replaces a strategy
func (r *StrategyRegistry) Register(s ResolutionStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get returns the strategy registered under name
func (r *StrategyRegistry) Get(name StrategyName) (ResolutionStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStrategy, name)
	}
	return s, nil
}

// Resolve runs the named strategy, falling back to the tenant default
func (r *StrategyRegistry) Resolve(c *Conflict, settings TenantSyncSettings, name StrategyName) (ResolutionDecision, error) {
	if name == "" {
		name = settings.DefaultStrategy
	}
	if name == "" {
		name = StrategySmartMerge
	}
	s, err := r.Get(name)
	if err != nil {
		return ResolutionDecision{}, err
	}
	d := s.Resolve(c, settings)
	d.Strategy = name
	return d, nil
}

// TimestampPriorityStrategy takes the side updated most recently. Ties go
// to the ERP as system of record.
type TimestampPriorityStrategy struct{}

func (TimestampPriorityStrategy) Name() StrategyName { return StrategyTimestampPriority }

func (TimestampPriorityStrategy) Resolve(c *Conflict, _ TenantSyncSettings) ResolutionDecision {
	if c.LocalData.UpdatedAt.After(c.ExternalData.UpdatedAt) {
		return chooseSide(c, FactSourceLocal, "local side updated more recently")
	}
	return chooseSide(c, FactSourceERP, "erp side updated more recently")
}

// SourcePriorityStrategy always takes the tenant's configured side.
type SourcePriorityStrategy struct{}

func (SourcePriorityStrategy) Name() StrategyName { return StrategySourcePriority }

func (SourcePriorityStrategy) Resolve(c *Conflict, settings TenantSyncSettings) ResolutionDecision {
	side := settings.SourcePriority
	if side == "" {
		side = FactSourceERP
	}
	return chooseSide(c, side, fmt.Sprintf("%s is the configured priority source", side))
}

// SmartMergeStrategy takes the lower price and the lower stock. Other
// fields keep the local value.
type SmartMergeStrategy struct{}

func (SmartMergeStrategy) Name() StrategyName { return StrategySmartMerge }

func (SmartMergeStrategy) Resolve(c *Conflict, _ TenantSyncSettings) ResolutionDecision {
	switch c.Type {
	case ConflictPriceMinor, ConflictPriceMajor:
		price, ok := pickPrice(c, PreferLower)
		if !ok {
			return manual(c, "price missing on one side")
		}
		return ResolutionDecision{
			Success:      true,
			ChosenSource: ChooseMerged(),
			Data:         ResolvedValues{Price: &price},
			Reason:       "merged to the lower price",
		}
	case ConflictStockMinor, ConflictStockMajor:
		stock, ok := pickStock(c, PreferLower)
		if !ok {
			return manual(c, "stock missing on one side")
		}
		return ResolutionDecision{
			Success:      true,
			ChosenSource: ChooseMerged(),
			Data:         ResolvedValues{Stock: &stock},
			Reason:       "merged to the lower stock",
		}
	}
	return chooseSide(c, FactSourceLocal, "non-numeric fields keep the local value")
}

// ValueBasedStrategy applies the tenant's per-field higher/lower
// preference. Fields without a numeric value keep local.
type ValueBasedStrategy struct{}

func (ValueBasedStrategy) Name() StrategyName { return StrategyValueBased }

func (ValueBasedStrategy) Resolve(c *Conflict, settings TenantSyncSettings) ResolutionDecision {
	switch c.Type {
	case ConflictPriceMinor, ConflictPriceMajor:
		pref := settings.Preference(FieldPrice)
		price, ok := pickPrice(c, pref)
		if !ok {
			return manual(c, "price missing on one side")
		}
		side := FactSourceERP
		if c.LocalData.Price.Equal(price) {
			side = FactSourceLocal
		}
		d := chooseSide(c, side, fmt.Sprintf("preferred %s price", pref))
		d.Data = ResolvedValues{Price: &price}
		return d
	case ConflictStockMinor, ConflictStockMajor:
		pref := settings.Preference(FieldStock)
		stock, ok := pickStock(c, pref)
		if !ok {
			return manual(c, "stock missing on one side")
		}
		side := FactSourceERP
		if *c.LocalData.Stock == stock {
			side = FactSourceLocal
		}
		d := chooseSide(c, side, fmt.Sprintf("preferred %s stock", pref))
		d.Data = ResolvedValues{Stock: &stock}
		return d
	}
	return chooseSide(c, FactSourceLocal, "no value preference for this field")
}

// ManualRequiredStrategy never resolves; it hands the conflict to an operator.
type ManualRequiredStrategy struct{}

func (ManualRequiredStrategy) Name() StrategyName { return StrategyManualRequired }

func (ManualRequiredStrategy) Resolve(c *Conflict, _ TenantSyncSettings) ResolutionDecision {
	return manual(c, "manual review required")
}

func manual(_ *Conflict, reason string) ResolutionDecision {
	return ResolutionDecision{Success: false, Reason: reason}
}

// chooseSide resolves every field of the conflict's family from one side.
func chooseSide(c *Conflict, side FactSource, reason string) ResolutionDecision {
	state := c.ExternalData
	source := ChooseERP()
	if side == FactSourceLocal {
		state = c.LocalData
		source = ChooseLocal()
	}
	return ResolutionDecision{
		Success:      true,
		ChosenSource: source,
		Data:         ValuesForConflict(c.Type, state),
		Reason:       reason,
	}
}

// ValuesForConflict extracts the fields a conflict type writes back
func ValuesForConflict(t ConflictType, state EntityState) ResolvedValues {
	switch t {
	case ConflictPriceMinor, ConflictPriceMajor:
		if state.Price == nil {
			return ResolvedValues{}
		}
		p := *state.Price
		return ResolvedValues{Price: &p}
	case ConflictStockMinor, ConflictStockMajor:
		if state.Stock == nil {
			return ResolvedValues{}
		}
		s := *state.Stock
		return ResolvedValues{Stock: &s}
	case ConflictAttribute:
		name, desc := state.Name, state.Description
		return ResolvedValues{Name: &name, Description: &desc}
	case ConflictOrderStatus:
		status := state.OrderStatus
		return ResolvedValues{OrderStatus: &status}
	}
	return ResolvedValues{}
}

func pickPrice(c *Conflict, pref ValuePreference) (decimal.Decimal, bool) {
	if c.LocalData.Price == nil || c.ExternalData.Price == nil {
		return decimal.Zero, false
	}
	l, e := *c.LocalData.Price, *c.ExternalData.Price
	if pref == PreferHigher {
		return decimal.Max(l, e), true
	}
	return decimal.Min(l, e), true
}

func pickStock(c *Conflict, pref ValuePreference) (int64, bool) {
	if c.LocalData.Stock == nil || c.ExternalData.Stock == nil {
		return 0, false
	}
	l, e := *c.LocalData.Stock, *c.ExternalData.Stock
	if pref == PreferHigher {
		return max(l, e), true
	}
	return min(l, e), true
}
