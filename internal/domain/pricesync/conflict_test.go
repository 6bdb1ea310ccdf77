package pricesync

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPriceConflict(t *testing.T, conflictType ConflictType, local, erp string) *Conflict {
	t.Helper()
	l, e := dec(local), dec(erp)
	c, err := NewConflict(uuid.New(), conflictType, EntityTypeProduct, uuid.New(), "ERP-1",
		EntityState{Price: &l}, EntityState{Price: &e}, nil)
	require.NoError(t, err)
	return c
}

func TestNewConflict(t *testing.T) {
	t.Run("derives severity", func(t *testing.T) {
		assert.Equal(t, SeverityMedium, newPriceConflict(t, ConflictPriceMinor, "1", "2").Severity)
		assert.Equal(t, SeverityHigh, newPriceConflict(t, ConflictPriceMajor, "1", "2").Severity)
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		_, err := NewConflict(uuid.New(), ConflictType("shipping"), EntityTypeProduct, uuid.New(), "", EntityState{}, EntityState{}, nil)
		assert.Error(t, err)
	})

	t.Run("rejects nil tenant", func(t *testing.T) {
		_, err := NewConflict(uuid.Nil, ConflictAttribute, EntityTypeProduct, uuid.New(), "", EntityState{}, EntityState{}, nil)
		assert.ErrorIs(t, err, ErrInvalidTenantID)
	})
}

func TestConflict_IsAutoResolvable(t *testing.T) {
	settings := DefaultTenantSyncSettings()

	assert.True(t, newPriceConflict(t, ConflictPriceMinor, "100", "112").IsAutoResolvable(settings))
	assert.False(t, newPriceConflict(t, ConflictPriceMajor, "100", "150").IsAutoResolvable(settings))

	t.Run("high severity never auto resolves even when allowed", func(t *testing.T) {
		s := settings.Clone()
		s.AutoResolveTypes = append(s.AutoResolveTypes, ConflictPriceMajor)
		assert.False(t, newPriceConflict(t, ConflictPriceMajor, "100", "150").IsAutoResolvable(s))
	})

	t.Run("type must be allowed", func(t *testing.T) {
		s := settings.Clone()
		s.AutoResolveTypes = nil
		assert.False(t, newPriceConflict(t, ConflictPriceMinor, "100", "112").IsAutoResolvable(s))
	})
}

func TestConflict_Resolve(t *testing.T) {
	c := newPriceConflict(t, ConflictPriceMinor, "100", "112")
	c.MarkAutoResolutionFailed("row locked")
	price := dec("100")

	require.NoError(t, c.Resolve(Resolution{
		Strategy:     StrategySmartMerge,
		ChosenSource: ChooseMerged(),
		Data:         ResolvedValues{Price: &price},
		ResolvedBy:   ResolvedByAuto,
	}))
	assert.Equal(t, ConflictStatusResolved, c.Status)
	assert.Empty(t, c.AutoResolutionError)
	require.NotNil(t, c.Resolution)
	assert.False(t, c.Resolution.ResolvedAt.IsZero())

	assert.ErrorIs(t, c.Resolve(Resolution{ChosenSource: ChooseLocal()}), ErrConflictNotPending)
	assert.ErrorIs(t, c.Ignore("late", "op"), ErrConflictNotPending)
}

func TestConflict_ResolveRequiresSource(t *testing.T) {
	c := newPriceConflict(t, ConflictPriceMinor, "100", "112")
	assert.ErrorIs(t, c.Resolve(Resolution{}), ErrInvalidChosenSource)
	assert.True(t, c.IsPending())
}

func TestConflict_Ignore(t *testing.T) {
	c := newPriceConflict(t, ConflictAttribute, "100", "100")
	require.NoError(t, c.Ignore("cosmetic", "operator-1"))
	assert.Equal(t, ConflictStatusIgnored, c.Status)
	assert.Equal(t, "operator-1", c.Resolution.ResolvedBy)
	assert.Equal(t, "cosmetic", c.Resolution.Reason)
}

func TestConflict_FlagForReviewNotifiesOnce(t *testing.T) {
	c := newPriceConflict(t, ConflictPriceMajor, "100", "150")
	assert.True(t, c.FlagForReview())
	assert.True(t, c.RequiresReview)
	assert.NotNil(t, c.NotifiedAt)
	assert.False(t, c.FlagForReview())
}

func TestConflict_Refresh(t *testing.T) {
	existing := newPriceConflict(t, ConflictPriceMinor, "100", "115")
	detected := newPriceConflict(t, ConflictPriceMajor, "100", "140")

	existing.Refresh(detected)
	assert.Equal(t, ConflictPriceMajor, existing.Type)
	assert.Equal(t, SeverityHigh, existing.Severity)
	assert.True(t, existing.ExternalData.Price.Equal(dec("140")))
}

func TestConflictType_Family(t *testing.T) {
	assert.ElementsMatch(t, []ConflictType{ConflictPriceMinor, ConflictPriceMajor}, ConflictPriceMajor.Family())
	assert.ElementsMatch(t, []ConflictType{ConflictStockMinor, ConflictStockMajor}, ConflictStockMinor.Family())
	assert.Equal(t, []ConflictType{ConflictAttribute}, ConflictAttribute.Family())
}
