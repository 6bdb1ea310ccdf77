package models

import (
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductModel is the persistence model for the local catalog
type ProductModel struct {
	TenantModel
	ExternalID  string          `gorm:"type:varchar(100);not null;index"`
	SKU         string          `gorm:"type:varchar(100);not null"`
	Name        string          `gorm:"type:varchar(200);not null"`
	Description string          `gorm:"type:text"`
	Category    string          `gorm:"type:varchar(100)"`
	TagsJSON    string          `gorm:"column:tags;type:jsonb;default:'[]'"`
	Price       decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Stock       int64           `gorm:"not null;default:0"`
	IsActive    bool            `gorm:"not null"`
	Version     int             `gorm:"not null;default:1"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "products"
}

// FromDomain populates the model from a domain Product
func (m *ProductModel) FromDomain(p *pricesync.Product) {
	m.TenantModel.FromDomain(p.TenantEntity)
	m.ExternalID = p.ExternalID
	m.SKU = p.SKU
	m.Name = p.Name
	m.Description = p.Description
	m.Category = p.Category
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	m.TagsJSON = encodeJSON(tags, "[]")
	m.Price = p.Price
	m.Stock = p.Stock
	m.IsActive = p.IsActive
	m.Version = p.Version
}

// ToDomain converts the model to a domain Product
func (m *ProductModel) ToDomain() *pricesync.Product {
	p := &pricesync.Product{
		TenantEntity: m.TenantModel.ToDomain(),
		ExternalID:   m.ExternalID,
		SKU:          m.SKU,
		Name:         m.Name,
		Description:  m.Description,
		Category:     m.Category,
		Tags:         []string{},
		Price:        m.Price,
		Stock:        m.Stock,
		IsActive:     m.IsActive,
		Version:      m.Version,
	}
	decodeJSON(m.TagsJSON, &p.Tags, "tags")
	return p
}

// ErpProductModel mirrors the last ERP state seen for a product
type ErpProductModel struct {
	TenantID    uuid.UUID       `gorm:"type:uuid;primaryKey"`
	ExternalID  string          `gorm:"type:varchar(100);primaryKey"`
	Name        string          `gorm:"type:varchar(200)"`
	Description string          `gorm:"type:text"`
	Price       decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Stock       int64           `gorm:"not null;default:0"`
	UpdatedAt   time.Time       `gorm:"not null"`
	ObservedAt  time.Time       `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (ErpProductModel) TableName() string {
	return "erp_product_snapshots"
}

// FromDomain populates the model from a domain ErpProduct
func (m *ErpProductModel) FromDomain(e *pricesync.ErpProduct) {
	m.TenantID = e.TenantID
	m.ExternalID = e.ExternalID
	m.Name = e.Name
	m.Description = e.Description
	m.Price = e.Price
	m.Stock = e.Stock
	m.UpdatedAt = e.UpdatedAt
	m.ObservedAt = e.ObservedAt
}

// ToDomain converts the model to a domain ErpProduct
func (m *ErpProductModel) ToDomain() *pricesync.ErpProduct {
	return &pricesync.ErpProduct{
		TenantID:    m.TenantID,
		ExternalID:  m.ExternalID,
		Name:        m.Name,
		Description: m.Description,
		Price:       m.Price,
		Stock:       m.Stock,
		UpdatedAt:   m.UpdatedAt,
		ObservedAt:  m.ObservedAt,
	}
}

// OrderModel is the persistence model for local orders
type OrderModel struct {
	TenantModel
	ExternalID  string `gorm:"type:varchar(100);not null;index"`
	OrderNumber string `gorm:"type:varchar(50);not null"`
	Status      string `gorm:"type:varchar(30);not null"`
	Version     int    `gorm:"not null;default:1"`
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "orders"
}

// FromDomain populates the model from a domain Order
func (m *OrderModel) FromDomain(o *pricesync.Order) {
	m.TenantModel.FromDomain(o.TenantEntity)
	m.ExternalID = o.ExternalID
	m.OrderNumber = o.OrderNumber
	m.Status = o.Status
	m.Version = o.Version
}

// ToDomain converts the model to a domain Order
func (m *OrderModel) ToDomain() *pricesync.Order {
	return &pricesync.Order{
		TenantEntity: m.TenantModel.ToDomain(),
		ExternalID:   m.ExternalID,
		OrderNumber:  m.OrderNumber,
		Status:       m.Status,
		Version:      m.Version,
	}
}

// ErpOrderModel mirrors the last ERP state seen for an order
type ErpOrderModel struct {
	TenantID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	ExternalID string    `gorm:"type:varchar(100);primaryKey"`
	Status     string    `gorm:"type:varchar(30);not null"`
	UpdatedAt  time.Time `gorm:"not null"`
	ObservedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ErpOrderModel) TableName() string {
	return "erp_order_snapshots"
}

// FromDomain populates the model from a domain ErpOrder
func (m *ErpOrderModel) FromDomain(e *pricesync.ErpOrder) {
	m.TenantID = e.TenantID
	m.ExternalID = e.ExternalID
	m.Status = e.Status
	m.UpdatedAt = e.UpdatedAt
	m.ObservedAt = e.ObservedAt
}

// ToDomain converts the model to a domain ErpOrder
func (m *ErpOrderModel) ToDomain() *pricesync.ErpOrder {
	return &pricesync.ErpOrder{
		TenantID:   m.TenantID,
		ExternalID: m.ExternalID,
		Status:     m.Status,
		UpdatedAt:  m.UpdatedAt,
		ObservedAt: m.ObservedAt,
	}
}
