package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestGormTransactor_RollsBackRepositoryWrites(t *testing.T) {
	db := setupPriceSyncTestDB(t)
	tx := NewGormTransactor(db)
	jobs := NewGormSyncJobRepository(db)
	ctx := context.Background()
	tenantID := uuid.New()

	job, err := pricesync.NewSyncJob(tenantID, pricesync.CadenceBulk, pricesync.TriggerManual)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = tx.WithinTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, jobs.Save(ctx, job))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = jobs.FindByID(ctx, tenantID, job.ID)
	assert.ErrorIs(t, err, pricesync.ErrJobNotFound)
}

func TestGormTransactor_NestedCallsJoinOuter(t *testing.T) {
	db := setupPriceSyncTestDB(t)
	tx := NewGormTransactor(db)
	jobs := NewGormSyncJobRepository(db)
	ctx := context.Background()
	tenantID := uuid.New()

	job, _ := pricesync.NewSyncJob(tenantID, pricesync.CadenceBulk, pricesync.TriggerManual)
	boom := errors.New("outer failed")

	err := tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := tx.WithinTransaction(ctx, func(ctx context.Context) error {
			return jobs.Save(ctx, job)
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = jobs.FindByID(ctx, tenantID, job.ID)
	assert.ErrorIs(t, err, pricesync.ErrJobNotFound, "inner write must roll back with the outer transaction")
}

func TestGormTransactor_RetriesSerializationFailures(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"}),
		&gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products`).WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx := NewGormTransactor(gormDB, WithRetry(3, time.Millisecond))
	attempts := 0
	err = tx.WithinTransaction(context.Background(), func(ctx context.Context) error {
		attempts++
		return conn(ctx, gormDB).Exec("UPDATE products SET stock = stock").Error
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormTransactor_DoesNotRetryOtherErrors(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"}),
		&gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products`).WillReturnError(&pgconn.PgError{Code: "23514"})
	mock.ExpectRollback()

	tx := NewGormTransactor(gormDB, WithRetry(3, time.Millisecond))
	attempts := 0
	err = tx.WithinTransaction(context.Background(), func(ctx context.Context) error {
		attempts++
		return conn(ctx, gormDB).Exec("UPDATE products SET stock = stock").Error
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isUniqueViolation(gorm.ErrDuplicatedKey))
	assert.False(t, isUniqueViolation(errors.New("other")))
}
