package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/eco-assistant/internal/config"
)

// Action log connection limits. One writer goroutine flushes batches and
// history reads come from the API, so a handful of connections is enough.
const (
	actionLogMaxOpenConns = 4
	actionLogMaxIdleConns = 1
	// history reads back an API request and must not outlive it
	actionLogQueryTimeout = 15
)

// ClickHouseDB is the action log connection
type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB connects to ClickHouse and verifies the server answers
func NewClickHouseDB(ctx context.Context, cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": actionLogQueryTimeout,
		},
		// action batches are small rows of repeated strings
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:     5 * time.Second,
		MaxOpenConns:    actionLogMaxOpenConns,
		MaxIdleConns:    actionLogMaxIdleConns,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ClickHouse at %s:%s is not answering: %w", cfg.Host, cfg.Port, err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the connection pool
func (db *ClickHouseDB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Conn returns the driver connection for batch inserts and queries
func (db *ClickHouseDB) Conn() driver.Conn {
	return db.conn
}

// Exec runs a statement without rows, used by the migrator
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return db.conn.Exec(ctx, query, args...)
}
