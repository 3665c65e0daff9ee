package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS cached_items (
		tenant_id TEXT NOT NULL,
		id        TEXT NOT NULL,
		name      TEXT NOT NULL,
		data      TEXT NOT NULL,
		cached_at INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cached_items_tenant_name ON cached_items (tenant_id, name)`,
	`CREATE TABLE IF NOT EXISTS cache_meta (
		tenant_id      TEXT PRIMARY KEY,
		last_synced_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS write_intents (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		type            TEXT NOT NULL,
		tenant_id       TEXT NOT NULL,
		target_id       TEXT NOT NULL,
		payload         TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		created_at      INTEGER NOT NULL,
		retry_count     INTEGER NOT NULL DEFAULT 0,
		last_error      TEXT NOT NULL DEFAULT ''
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS cached_items (
		tenant_id TEXT NOT NULL,
		id        TEXT NOT NULL,
		name      TEXT NOT NULL,
		data      TEXT NOT NULL,
		cached_at BIGINT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cached_items_tenant_name ON cached_items (tenant_id, name)`,
	`CREATE TABLE IF NOT EXISTS cache_meta (
		tenant_id      TEXT PRIMARY KEY,
		last_synced_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS write_intents (
		id              BIGSERIAL PRIMARY KEY,
		type            TEXT NOT NULL,
		tenant_id       TEXT NOT NULL,
		target_id       TEXT NOT NULL,
		payload         TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		created_at      BIGINT NOT NULL,
		retry_count     INTEGER NOT NULL DEFAULT 0,
		last_error      TEXT NOT NULL DEFAULT ''
	)`,
}

// Store is the durable local store backing both the inventory cache and the pending write log
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore opens the local database and ensures the schema exists
func NewStore(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var schema []string
	switch driver {
	case DriverSQLite:
		// a single connection keeps SQLite writers from tripping over each other
		db.SetMaxOpenConns(1)
		schema = sqliteSchema
	case DriverPostgres:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
		schema = postgresSchema
	default:
		db.Close()
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the local database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
