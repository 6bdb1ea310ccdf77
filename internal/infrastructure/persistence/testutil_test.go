package persistence

import (
	"testing"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// setupPriceSyncTestDB opens an in-memory SQLite database with every model
// migrated. A single connection keeps the memory database shared.
func setupPriceSyncTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func newTestProduct(t *testing.T, tenantID uuid.UUID, externalID, price string) *pricesync.Product {
	t.Helper()
	p := &pricesync.Product{
		ExternalID: externalID,
		SKU:        "SKU-" + externalID,
		Name:       "Product " + externalID,
		Category:   "Tools",
		Tags:       []string{"hardware"},
		Price:      decimal.RequireFromString(price),
		Stock:      10,
		IsActive:   true,
		Version:    1,
	}
	p.TenantID = tenantID
	p.ID = uuid.New()
	p.Touch()
	p.CreatedAt = p.UpdatedAt
	return p
}
