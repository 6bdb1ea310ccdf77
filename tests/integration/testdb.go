// Package integration runs the repositories and the sync pipeline against a
// real PostgreSQL started with testcontainers.
package integration

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/erp/pricesync/internal/infrastructure/migration"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const postgresImage = "postgres:16-alpine"

// pg is the one container shared by every test in the package
var pg struct {
	sync.Mutex
	container *tcpostgres.PostgresContainer
	dsn       string
}

// TestDB is a connection to a freshly truncated, fully migrated schema
type TestDB struct {
	DB *gorm.DB
}

// NewSharedTestDB returns a connection to the package container, starting
// and migrating it on first use. Every table is emptied before returning.
func NewSharedTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test needs docker")
	}

	dsn := sharedDSN(t)
	db, sqlDB := connect(t, dsn)
	t.Cleanup(func() { _ = sqlDB.Close() })

	tdb := &TestDB{DB: db}
	tdb.truncateAll(t)
	return tdb
}

func sharedDSN(t *testing.T) string {
	pg.Lock()
	defer pg.Unlock()
	if pg.container != nil {
		return pg.dsn
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, postgresImage,
		tcpostgres.WithDatabase("pricesync_test"),
		tcpostgres.WithUsername("pricesync"),
		tcpostgres.WithPassword("pricesync"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err, "start postgres")
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	_, sqlDB := connect(t, dsn)
	defer sqlDB.Close()
	m, err := migration.New(sqlDB, migration.Source{}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up(), "apply embedded migrations")

	pg.container, pg.dsn = container, dsn
	return dsn
}

func connect(t *testing.T, dsn string) (*gorm.DB, *sql.DB) {
	t.Helper()
	level := logger.Silent
	if os.Getenv("TEST_DB_DEBUG") != "" {
		level = logger.Info
	}
	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(level)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(10)
	return db, sqlDB
}

func (tdb *TestDB) truncateAll(t *testing.T) {
	t.Helper()
	var tables []string
	require.NoError(t, tdb.DB.Raw(`SELECT quote_ident(tablename) FROM pg_tables
		WHERE schemaname = 'public' AND tablename <> 'schema_migrations'`).Scan(&tables).Error)
	if len(tables) == 0 {
		return
	}
	require.NoError(t, tdb.DB.Exec("TRUNCATE TABLE "+strings.Join(tables, ", ")+" CASCADE").Error)
}

// CleanupSharedContainer stops the package container. Call it from TestMain.
func CleanupSharedContainer() {
	pg.Lock()
	defer pg.Unlock()
	if pg.container == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = pg.container.Terminate(ctx)
	pg.container, pg.dsn = nil, ""
}
