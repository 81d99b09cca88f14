package storage

import (
	"context"
	"testing"
	"time"

	"github.com/eco-assistant/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testPostgresConfig() *config.PostgresConfig {
	return &config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "eco_bot",
		User:           "eco",
		Password:       "eco_dev_password",
		MaxConnections: 5,
	}
}

// openTestPostgres connects and migrates, skipping the test when Postgres is not reachable
func openTestPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	db, err := NewPostgresDB(testContext(t), cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	if err := RunMigrations(cfg.URL(), "../../"+DefaultPostgresMigrations); err != nil {
		t.Skipf("Skipping test - migrations failed: %v", err)
	}
	return db
}
