package testdb

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevin07696/settlement-service/internal/db"
)

// TestDBConfig holds test database configuration
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

// GetTestDBConfig returns test database configuration from environment or defaults
func GetTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnv("TEST_DB_HOST", "localhost"),
		Port:     getEnv("TEST_DB_PORT", "5434"),
		User:     getEnv("TEST_DB_USER", "postgres"),
		Password: getEnv("TEST_DB_PASSWORD", "postgres"),
		Database: getEnv("TEST_DB_NAME", "settlement_service_test"),
	}
}

// URL returns the postgres URL for the test database
func (c TestDBConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// SetupTestDB migrates the test database and returns a pool over a clean schema.
// The test is skipped when no database is reachable.
func SetupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	cfg := GetTestDBConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		t.Fatalf("Failed to parse database config: %v", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		t.Fatalf("Failed to create connection pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("Test database %s not reachable: %v", cfg.Database, err)
	}

	if err := runMigrations(cfg.URL()); err != nil {
		pool.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	CleanDatabase(t, pool)
	t.Logf("Test database setup complete: %s", cfg.Database)
	return pool
}

// CleanDatabase truncates the settlement tables
func CleanDatabase(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(context.Background(), "TRUNCATE settlement_entry_orders, settlement_entries CASCADE"); err != nil {
		t.Logf("Warning: failed to truncate settlement tables: %v", err)
	}
}

// TeardownTestDB closes the database connection pool
func TeardownTestDB(t *testing.T, pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
		t.Log("Test database connection closed")
	}
}

func runMigrations(url string) error {
	conn, err := db.Open(url)
	if err != nil {
		return err
	}
	defer conn.Close()
	return db.Up(conn)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
