package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/cvforge/cvforge/internal/config"
)

// Dialect selects driver-specific SQL where MySQL and SQLite diverge.
type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

// InsertIgnore returns the conflict-ignoring INSERT prefix for the dialect.
// Both forms make a duplicate-key insert a silent no-op with zero rows
// affected, which is the idempotency primitive the ledger relies on.
func (d Dialect) InsertIgnore() string {
	if d == DialectSQLite {
		return "INSERT OR IGNORE INTO"
	}
	return "INSERT IGNORE INTO"
}

// DB bundles the connection pool with its dialect so repositories can
// pick the right SQL variant.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Connect opens the configured database with sensible pooling defaults.
func Connect(cfg config.Config) (*DB, error) {
	dialect := Dialect(cfg.DatabaseDriver)

	db, err := sql.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DatabaseDriver, err)
	}

	db.SetConnMaxLifetime(time.Minute * 5)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.DatabaseDriver, err)
	}

	return &DB{DB: db, Dialect: dialect}, nil
}

// Migrate runs the bootstrap schema to ensure required tables exist.
func Migrate(ctx context.Context, db *DB) error {
	statements := mysqlSchema
	if db.Dialect == DialectSQLite {
		statements = sqliteSchema
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
