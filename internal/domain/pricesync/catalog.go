package pricesync

import (
	"time"

	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// EntityType names the class of entity a conflict or price change refers to.
type EntityType string

const (
	EntityTypeProduct EntityType = "product"
	EntityTypeOrder   EntityType = "order"
)

// FactSource identifies which store observed a value.
type FactSource string

const (
	FactSourceLocal FactSource = "local"
	FactSourceERP   FactSource = "erp"
)

// Product is the local catalog view of a sellable item.
type Product struct {
	shared.TenantEntity
	ExternalID  string
	SKU         string
	Name        string
	Description string
	Category    string
	Tags        []string
	Price       decimal.Decimal
	Stock       int64
	IsActive    bool
	Version     int
}

// SetPrice writes a new selling price
func (p *Product) SetPrice(price decimal.Decimal) {
	p.Price = price
	p.Version++
	p.Touch()
}

// SetStock writes a new stock level
func (p *Product) SetStock(stock int64) {
	p.Stock = stock
	p.Version++
	p.Touch()
}

// SetAttributes overwrites name and description
func (p *Product) SetAttributes(name, description string) {
	p.Name = name
	p.Description = description
	p.Version++
	p.Touch()
}

// Fact returns the local price observation
func (p *Product) Fact() PriceFact {
	return PriceFact{
		EntityID:   p.ID,
		Source:     FactSourceLocal,
		Price:      p.Price,
		Stock:      p.Stock,
		ObservedAt: p.UpdatedAt,
	}
}

// RuleEnv builds the attribute set pricing rule conditions are evaluated on
func (p *Product) RuleEnv(price decimal.Decimal, quantity int64) RuleEnv {
	tags := make([]string, len(p.Tags))
	copy(tags, p.Tags)
	f, _ := price.Float64()
	return RuleEnv{
		SKU:      p.SKU,
		Name:     p.Name,
		Category: cases.Lower(language.Und).String(p.Category),
		Tags:     tags,
		Quantity: quantity,
		Price:    f,
	}
}

// ErpProduct is the last known ERP state of a product, as returned by the
// ERP client and mirrored locally for conflict detection.
type ErpProduct struct {
	TenantID    uuid.UUID
	ExternalID  string
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int64
	UpdatedAt   time.Time
	ObservedAt  time.Time
}

// Fact returns the ERP price observation for the given local entity
func (e *ErpProduct) Fact(entityID uuid.UUID) PriceFact {
	return PriceFact{
		EntityID:   entityID,
		Source:     FactSourceERP,
		Price:      e.Price,
		Stock:      e.Stock,
		ObservedAt: e.UpdatedAt,
	}
}

// PriceFact is a single observation of price and stock from one side.
type PriceFact struct {
	EntityID   uuid.UUID
	Source     FactSource
	Price      decimal.Decimal
	Stock      int64
	ObservedAt time.Time
}

// ProductPair joins a local product with its ERP mirror.
type ProductPair struct {
	Local *Product
	Erp   *ErpProduct
}

// Order is the local view of a sales order.
type Order struct {
	shared.TenantEntity
	ExternalID  string
	OrderNumber string
	Status      string
	Version     int
}

// SetStatus writes a new order status
func (o *Order) SetStatus(status string) {
	o.Status = status
	o.Version++
	o.Touch()
}

// ErpOrder is the last known ERP state of an order.
type ErpOrder struct {
	TenantID   uuid.UUID
	ExternalID string
	Status     string
	UpdatedAt  time.Time
	ObservedAt time.Time
}

// OrderPair joins a local order with its ERP mirror.
type OrderPair struct {
	Local *Order
	Erp   *ErpOrder
}
