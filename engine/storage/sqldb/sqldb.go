// Package sqldb implements an editing process storage backend using
// relational databases. MySQL and SQLite dialects are supported.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect selects the SQL flavor for schema creation.
type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

// SQLStorage implements a storage.AllStorage using a SQL database.
type SQLStorage struct {
	db      *sql.DB
	dialect Dialect
}

type config struct {
	driver  string
	dsn     string
	db      *sql.DB
	dialect Dialect
}

// Option allows configuring a SQLStorage.
type Option func(*config)

// WithDSN sets the storage data source name.
func WithDSN(dsn string) Option {
	return func(c *config) {
		c.dsn = dsn
	}
}

// WithDriver sets a custom SQL driver for the storage.
// Default driver is "mysql" but is ignored if WithDB is used.
func WithDriver(driver string) Option {
	return func(c *config) {
		c.driver = driver
	}
}

// WithDB sets a custom *sql.DB for the storage.
// If set, driver passed via WithDriver is ignored.
func WithDB(db *sql.DB) Option {
	return func(c *config) {
		c.db = db
	}
}

// WithDialect sets the SQL dialect used by CreateTables.
// Default is the MySQL dialect.
func WithDialect(d Dialect) Option {
	return func(c *config) {
		c.dialect = d
	}
}

// New creates and returns a new SQL storage backend.
func New(opts ...Option) (*SQLStorage, error) {
	cfg := &config{driver: "mysql", dialect: DialectMySQL}
	for _, opt := range opts {
		opt(cfg)
	}
	var err error
	if cfg.db == nil {
		cfg.db, err = sql.Open(cfg.driver, cfg.dsn)
		if err != nil {
			return nil, err
		}
	}
	if err = cfg.db.Ping(); err != nil {
		return nil, err
	}
	return &SQLStorage{db: cfg.db, dialect: cfg.dialect}, nil
}

// txcb executes SQL within transactions when wrapped in tx().
type txcb func(ctx context.Context, tx *sql.Tx) error

// tx wraps g in transactions using db.
// If g returns an err the transaction will be rolled back; otherwise committed.
func tx(ctx context.Context, db *sql.DB, g txcb) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx begin: %w", err)
	}
	if err = g(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx rollback: %w; while trying to handle error: %v", rbErr, err)
		}
		return fmt.Errorf("tx rolled back: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("tx commit: %w", err)
	}
	return nil
}
