package pricesync

import (
	"testing"
	"time"

	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair(price string, stock int64, erpPrice string, erpStock int64) ProductPair {
	tenantID := uuid.New()
	now := time.Now()
	local := &Product{
		TenantEntity: shared.NewTenantEntity(tenantID),
		ExternalID:   "ERP-1",
		SKU:          "SKU-1",
		Name:         "Widget",
		Description:  "Blue widget",
		Price:        dec(price),
		Stock:        stock,
		IsActive:     true,
	}
	local.UpdatedAt = now
	erp := &ErpProduct{
		TenantID:    tenantID,
		ExternalID:  "ERP-1",
		Name:        "Widget",
		Description: "Blue widget",
		Price:       dec(erpPrice),
		Stock:       erpStock,
		UpdatedAt:   now,
		ObservedAt:  now,
	}
	return ProductPair{Local: local, Erp: erp}
}

func detect(pair ProductPair) []*Conflict {
	return DetectProductConflicts(pair, ExpectedFromErp(pair.Erp), DefaultTenantSyncSettings())
}

func TestDetectProductConflicts_Price(t *testing.T) {
	tests := []struct {
		name     string
		erpPrice string
		want     ConflictType
		severity Severity
	}{
		{"inside threshold", "105", "", ""},
		{"exactly at threshold", "110", "", ""},
		{"minor drift", "115", ConflictPriceMinor, SeverityMedium},
		{"major drift", "125", ConflictPriceMajor, SeverityHigh},
		{"downward drift at major boundary stays minor", "80", ConflictPriceMinor, SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conflicts := detect(newPair("100", 10, tt.erpPrice, 10))
			if tt.want == "" {
				assert.Empty(t, conflicts)
				return
			}
			require.Len(t, conflicts, 1)
			c := conflicts[0]
			assert.Equal(t, tt.want, c.Type)
			assert.Equal(t, tt.severity, c.Severity)
			assert.Equal(t, ConflictStatusPending, c.Status)
			assert.Equal(t, EntityTypeProduct, c.EntityType)
			require.Len(t, c.Differences, 1)
			assert.Equal(t, FieldPrice, c.Differences[0].Field)
		})
	}
}

func TestDetectProductConflicts_UsesRuleAdjustedPrice(t *testing.T) {
	pair := newPair("115", 10, "100", 10)
	expected := Expected{Price: dec("115"), Stock: 10}

	conflicts := DetectProductConflicts(pair, expected, DefaultTenantSyncSettings())
	assert.Empty(t, conflicts)
}

func TestDetectProductConflicts_Stock(t *testing.T) {
	t.Run("small drift ignored", func(t *testing.T) {
		assert.Empty(t, detect(newPair("100", 10, "100", 15)))
	})

	t.Run("minor drift", func(t *testing.T) {
		conflicts := detect(newPair("100", 10, "100", 20))
		require.Len(t, conflicts, 1)
		assert.Equal(t, ConflictStockMinor, conflicts[0].Type)
		assert.Equal(t, SeverityMedium, conflicts[0].Severity)
	})

	t.Run("major drift", func(t *testing.T) {
		conflicts := detect(newPair("100", 100, "100", 20))
		require.Len(t, conflicts, 1)
		assert.Equal(t, ConflictStockMajor, conflicts[0].Type)
		assert.Equal(t, SeverityHigh, conflicts[0].Severity)
	})
}

func TestDetectProductConflicts_Attribute(t *testing.T) {
	t.Run("name differs", func(t *testing.T) {
		pair := newPair("100", 10, "100", 10)
		pair.Erp.Name = "Widget Pro"
		conflicts := detect(pair)
		require.Len(t, conflicts, 1)
		assert.Equal(t, ConflictAttribute, conflicts[0].Type)
		assert.Equal(t, SeverityLow, conflicts[0].Severity)
		assert.Equal(t, "name", conflicts[0].Differences[0].Field)
	})

	t.Run("whitespace differences ignored", func(t *testing.T) {
		pair := newPair("100", 10, "100", 10)
		pair.Erp.Description = "  Blue   widget "
		assert.Empty(t, detect(pair))
	})

	t.Run("skew recorded alongside text difference", func(t *testing.T) {
		pair := newPair("100", 10, "100", 10)
		pair.Erp.Description = "Red widget"
		pair.Erp.UpdatedAt = pair.Local.UpdatedAt.Add(-10 * time.Minute)
		conflicts := detect(pair)
		require.Len(t, conflicts, 1)
		require.Len(t, conflicts[0].Differences, 2)
		assert.Equal(t, "updated_at", conflicts[0].Differences[1].Field)
	})

	t.Run("skew alone is not a conflict", func(t *testing.T) {
		pair := newPair("100", 10, "100", 10)
		pair.Erp.UpdatedAt = pair.Local.UpdatedAt.Add(-time.Hour)
		assert.Empty(t, detect(pair))
	})
}

func TestDetectProductConflicts_Multiple(t *testing.T) {
	pair := newPair("100", 10, "150", 90)
	pair.Erp.Name = "Other"
	conflicts := detect(pair)
	require.Len(t, conflicts, 3)
	types := []ConflictType{conflicts[0].Type, conflicts[1].Type, conflicts[2].Type}
	assert.ElementsMatch(t, []ConflictType{ConflictAttribute, ConflictPriceMajor, ConflictStockMajor}, types)
}

func TestDetectProductConflicts_MissingSide(t *testing.T) {
	pair := newPair("100", 10, "150", 10)
	assert.Nil(t, DetectProductConflicts(ProductPair{Local: pair.Local}, Expected{}, DefaultTenantSyncSettings()))
}

func TestDetectOrderConflict(t *testing.T) {
	tenantID := uuid.New()
	local := &Order{TenantEntity: shared.NewTenantEntity(tenantID), ExternalID: "SO-1", Status: "shipped"}
	erp := &ErpOrder{TenantID: tenantID, ExternalID: "SO-1", Status: "SHIPPED"}

	assert.Nil(t, DetectOrderConflict(OrderPair{Local: local, Erp: erp}))

	erp.Status = "cancelled"
	c := DetectOrderConflict(OrderPair{Local: local, Erp: erp})
	require.NotNil(t, c)
	assert.Equal(t, ConflictOrderStatus, c.Type)
	assert.Equal(t, SeverityMedium, c.Severity)
	assert.Equal(t, EntityTypeOrder, c.EntityType)
	assert.Equal(t, "cancelled", c.ExternalData.OrderStatus)
}

func TestNewConcurrentPriceConflict(t *testing.T) {
	pair := newPair("100", 10, "100", 10)
	c := NewConcurrentPriceConflict(pair.Local.TenantID, pair.Local, pair.Erp, dec("130"), DefaultTenantSyncSettings())
	require.NotNil(t, c)
	assert.Equal(t, ConflictPriceMajor, c.Type)
	assert.True(t, c.ExternalData.Price.Equal(dec("130")))
}

func TestNewConcurrentPriceConflict_WithinThreshold(t *testing.T) {
	pair := newPair("100", 10, "100", 10)
	settings := DefaultTenantSyncSettings()

	assert.Nil(t, NewConcurrentPriceConflict(pair.Local.TenantID, pair.Local, pair.Erp, dec("100"), settings), "already converged")
	assert.Nil(t, NewConcurrentPriceConflict(pair.Local.TenantID, pair.Local, pair.Erp, dec("110"), settings), "threshold is exclusive")
	assert.NotNil(t, NewConcurrentPriceConflict(pair.Local.TenantID, pair.Local, pair.Erp, dec("110.01"), settings))
}
