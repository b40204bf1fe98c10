package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var (
	ErrWorkflowNotFound     = errors.New("workflow not found")
	ErrConversationNotFound = errors.New("conversation not found")
)

// Config holds database configuration. The default deployment is a local
// SQLite file next to the application data; Postgres serves shared setups.
type Config struct {
	Driver string `mapstructure:"driver"` // "sqlite3" or "postgres"
	DSN    string `mapstructure:"dsn"`

	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

// Client wraps the connection pool and owns schema bootstrap.
type Client struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewClient opens the database and verifies connectivity.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Driver == "" {
		cfg.Driver = "sqlite3"
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	pool, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxConnections > 0 {
		pool.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.IdleConnections > 0 {
		pool.SetMaxIdleConns(cfg.IdleConnections)
	}
	if cfg.MaxLifetime > 0 {
		pool.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("Database connected", zap.String("driver", cfg.Driver))
	return &Client{db: pool, logger: logger}, nil
}

// NewClientFromDB wraps an existing pool, used by tests with sqlmock.
func NewClientFromDB(pool *sqlx.DB, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{db: pool, logger: logger}
}

// schema is portable across sqlite3 and postgres: TEXT keys, TEXT JSON
// blobs, TIMESTAMP columns.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS workflows (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		mode        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		definition  TEXT NOT NULL,
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL DEFAULT '',
		mode        TEXT NOT NULL,
		persona_id  TEXT NOT NULL DEFAULT '',
		workflow_id TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		persona_id      TEXT NOT NULL DEFAULT '',
		execution_log   TEXT,
		created_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages (conversation_id, created_at)`,
}

// Bootstrap creates missing tables. Idempotent.
func (c *Client) Bootstrap(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	c.logger.Info("Database schema ready")
	return nil
}

// DB exposes the pool for repositories.
func (c *Client) DB() *sqlx.DB { return c.db }

// Close releases the pool.
func (c *Client) Close() error { return c.db.Close() }

// HealthCheck verifies the connection for readiness probes.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
