package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	container "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestSqlite creates an in-memory SQLite DB for testing
func setupTestSqlite(t testing.TB) *gorm.DB {
	t.Helper()

	uniqueDSN := fmt.Sprintf("file::memory:test%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(uniqueDSN), &gorm.Config{})
	require.NoError(t, err)

	// Single writer, like connectToSqlite.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = migrateSqlite(db)
	require.NoError(t, err)

	return db
}

// setupTestPostgres creates a PostgreSQL database using testcontainers
func setupTestPostgres(ctx context.Context, t testing.TB) (*gorm.DB, testcontainers.Container) {
	t.Helper()

	const dbName = "postgres"
	const dbUser = "postgres"
	const dbPassword = "postgres"

	postgresContainer, err := container.Run(ctx,
		"postgres:16-alpine",
		container.WithDatabase(dbName),
		container.WithUsername(dbUser),
		container.WithPassword(dbPassword),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_HOST_AUTH_METHOD": "trust",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForLog("database system is ready to accept connections"),
				wait.ForListeningPort("5432/tcp"),
			)))
	require.NoError(t, err)
	log.Println("Started container:", postgresContainer.GetContainerID())

	url, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(postgres.Open(url), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&Account{}, &AccountGroup{}, &Currency{}, &AccountCeiling{},
		&JournalEntry{}, &ReceiptVoucher{}, &PaymentVoucher{}, &ActionLog{})
	require.NoError(t, err)

	return db, postgresContainer
}

// setupTestDB chooses SQLite or Postgres based on TEST_DB_DRIVER
func setupTestDB(t testing.TB) (*gorm.DB, func()) {
	t.Helper()

	ctx := context.Background()
	var db *gorm.DB
	var cleanup func()

	switch os.Getenv("TEST_DB_DRIVER") {
	case "postgres":
		log.Println("Using PostgreSQL for testing")
		var postgresContainer testcontainers.Container
		db, postgresContainer = setupTestPostgres(ctx, t)
		cleanup = func() {
			if postgresContainer != nil {
				if err := postgresContainer.Terminate(ctx); err != nil {
					log.Printf("Failed to terminate PostgreSQL container: %v", err)
				}
			}
		}
	default:
		log.Println("Using SQLite for testing (default)")
		db = setupTestSqlite(t)
		cleanup = func() {}
	}

	return db, cleanup
}

func testLogger() Logger {
	return NewLogger("test")
}

// seedTestCurrency inserts an active local currency and returns it.
func seedTestCurrency(t testing.TB, db *gorm.DB) Currency {
	t.Helper()

	currency := Currency{
		Code:     "USD",
		Name:     "US Dollar",
		Decimals: 2,
		Rate:     decimal.NewFromInt(1),
		IsLocal:  true,
		Active:   true,
	}
	require.NoError(t, db.Create(&currency).Error)
	return currency
}

// seedTestAccounts creates a minimal chart: one asset root with a cash box
// child, plus a revenue root. Returns cash box child and revenue root.
func seedTestAccounts(t testing.TB, db *gorm.DB) (Account, Account) {
	t.Helper()

	accounts := NewAccountService(db, testLogger())

	assetNature := NatureAsset
	assets, err := accounts.Create(&CreateAccountParams{Name: "Assets", Nature: &assetNature}, nil)
	require.NoError(t, err)

	cashBox, err := accounts.Create(&CreateAccountParams{Name: "Main Cash Box", ParentID: &assets.ID}, nil)
	require.NoError(t, err)

	revenueNature := NatureRevenue
	revenue, err := accounts.Create(&CreateAccountParams{Name: "Sales", Nature: &revenueNature}, nil)
	require.NoError(t, err)

	return cashBox, revenue
}

func newTestJournalEngine() *JournalEngine {
	return NewJournalEngine(testLogger(), nil)
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
