package pricesync

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Expected is the ERP value after the tenant's rules have been applied. Local
// state is compared against it, so a configured markup is not a conflict.
type Expected struct {
	Price decimal.Decimal
	Stock int64
}

// ExpectedFromErp returns an Expected with no rules applied
func ExpectedFromErp(erp *ErpProduct) Expected {
	return Expected{Price: erp.Price, Stock: erp.Stock}
}

// DetectProductConflicts compares a local product with its ERP mirror and
// returns at most one conflict per family: attribute, price, stock.
func DetectProductConflicts(pair ProductPair, expected Expected, settings TenantSyncSettings) []*Conflict {
	if pair.Local == nil || pair.Erp == nil {
		return nil
	}
	local, erp := pair.Local, pair.Erp
	localState := productState(local)
	erpState := erpProductState(erp, expected)

	var out []*Conflict
	if c := detectAttributeConflict(local, erp, localState, erpState, settings); c != nil {
		out = append(out, c)
	}
	if c := detectPriceConflict(local, erp, expected.Price, localState, erpState, settings); c != nil {
		out = append(out, c)
	}
	if c := detectStockConflict(local, erp, expected.Stock, localState, erpState, settings); c != nil {
		out = append(out, c)
	}
	return out
}

func detectAttributeConflict(local *Product, erp *ErpProduct, ls, es EntityState, settings TenantSyncSettings) *Conflict {
	var diffs []Difference
	if normalizeText(local.Name) != normalizeText(erp.Name) {
		diffs = append(diffs, Difference{Field: "name", LocalValue: local.Name, ExternalValue: erp.Name})
	}
	if normalizeText(local.Description) != normalizeText(erp.Description) {
		diffs = append(diffs, Difference{Field: "description", LocalValue: local.Description, ExternalValue: erp.Description})
	}
	if len(diffs) == 0 {
		return nil
	}
	if skew := absDuration(local.UpdatedAt.Sub(erp.UpdatedAt)); skew > settings.AttributeSkew {
		diffs = append(diffs, Difference{
			Field:         "updated_at",
			LocalValue:    local.UpdatedAt.UTC().Format(time.RFC3339),
			ExternalValue: erp.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	c, _ := NewConflict(local.TenantID, ConflictAttribute, EntityTypeProduct, local.ID, local.ExternalID, ls, es, diffs)
	return c
}

func detectPriceConflict(local *Product, erp *ErpProduct, expected decimal.Decimal, ls, es EntityState, settings TenantSyncSettings) *Conflict {
	delta := expected.Sub(local.Price)
	if delta.IsZero() {
		return nil
	}
	drift := percentOf(delta.Abs(), local.Price)
	if !drift.GreaterThan(settings.ConflictThresholdPercent) {
		return nil
	}
	conflictType := ConflictPriceMinor
	if drift.GreaterThan(settings.MajorPriceDriftPercent) {
		conflictType = ConflictPriceMajor
	}
	diff := Difference{
		Field:         FieldPrice,
		LocalValue:    local.Price.StringFixed(2),
		ExternalValue: expected.StringFixed(2),
		Delta:         &delta,
		DeltaPercent:  &drift,
	}
	c, _ := NewConflict(local.TenantID, conflictType, EntityTypeProduct, local.ID, local.ExternalID, ls, es, []Difference{diff})
	return c
}

func detectStockConflict(local *Product, erp *ErpProduct, expected int64, ls, es EntityState, settings TenantSyncSettings) *Conflict {
	delta := expected - local.Stock
	units := delta
	if units < 0 {
		units = -units
	}
	if units <= settings.StockConflictUnits {
		return nil
	}
	conflictType := ConflictStockMinor
	if units > settings.MajorStockDriftUnits {
		conflictType = ConflictStockMajor
	}
	d := decimal.NewFromInt(delta)
	diff := Difference{
		Field:         FieldStock,
		LocalValue:    strconv.FormatInt(local.Stock, 10),
		ExternalValue: strconv.FormatInt(expected, 10),
		Delta:         &d,
	}
	c, _ := NewConflict(local.TenantID, conflictType, EntityTypeProduct, local.ID, local.ExternalID, ls, es, []Difference{diff})
	return c
}

// DetectOrderConflict compares a local order with its ERP mirror
func DetectOrderConflict(pair OrderPair) *Conflict {
	if pair.Local == nil || pair.Erp == nil {
		return nil
	}
	local, erp := pair.Local, pair.Erp
	if strings.EqualFold(strings.TrimSpace(local.Status), strings.TrimSpace(erp.Status)) {
		return nil
	}
	ls := EntityState{OrderStatus: local.Status, UpdatedAt: local.UpdatedAt}
	es := EntityState{OrderStatus: erp.Status, UpdatedAt: erp.UpdatedAt}
	diff := Difference{Field: "status", LocalValue: local.Status, ExternalValue: erp.Status}
	c, _ := NewConflict(local.TenantID, ConflictOrderStatus, EntityTypeOrder, local.ID, local.ExternalID, ls, es, []Difference{diff})
	return c
}

// NewConcurrentPriceConflict is raised when a sync finds the local price was
// changed by someone else between candidate selection and apply. It returns
// nil when proposed is within the conflict threshold of the stored price.
func NewConcurrentPriceConflict(tenantID uuid.UUID, current *Product, erp *ErpProduct, proposed decimal.Decimal, settings TenantSyncSettings) *Conflict {
	delta := proposed.Sub(current.Price)
	drift := percentOf(delta.Abs(), current.Price)
	if !drift.GreaterThan(settings.ConflictThresholdPercent) {
		return nil
	}
	conflictType := ConflictPriceMinor
	if drift.GreaterThan(settings.MajorPriceDriftPercent) {
		conflictType = ConflictPriceMajor
	}
	diff := Difference{
		Field:         FieldPrice,
		LocalValue:    current.Price.StringFixed(2),
		ExternalValue: proposed.StringFixed(2),
		Delta:         &delta,
		DeltaPercent:  &drift,
	}
	c, _ := NewConflict(tenantID, conflictType, EntityTypeProduct, current.ID, current.ExternalID,
		productState(current), erpProductState(erp, Expected{Price: proposed, Stock: erp.Stock}), []Difference{diff})
	return c
}

func productState(p *Product) EntityState {
	price := p.Price
	stock := p.Stock
	return EntityState{
		Name:        p.Name,
		Description: p.Description,
		Price:       &price,
		Stock:       &stock,
		UpdatedAt:   p.UpdatedAt,
	}
}

// erpProductState records the ERP side as it would land locally, so a
// resolution in favour of the ERP writes the rule-adjusted values.
func erpProductState(e *ErpProduct, expected Expected) EntityState {
	price := expected.Price
	stock := expected.Stock
	return EntityState{
		Name:        e.Name,
		Description: e.Description,
		Price:       &price,
		Stock:       &stock,
		UpdatedAt:   e.UpdatedAt,
	}
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
