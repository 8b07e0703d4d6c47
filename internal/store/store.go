// Package store implements the control-database layer: loading driver
// configuration rows (spec.md §4.5's `load_lnp_databases()`) and providing
// the cache writer with a connection and dialect-appropriate SQL text for
// `cache_lnp_data(smallint, varchar, varchar, varchar)`. Two dialects are
// supported — a pure-Go SQLite path for development and tests, and a
// Postgres path for production, matching spec.md §6's "Control database
// schema (consumed, not owned)" and SPEC_FULL.md's Postgres/pqxx framing.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" under database/sql
	_ "modernc.org/sqlite"             // registers "sqlite" under database/sql

	"github.com/yeti-lnp/lnpresolver/internal/config"
	"github.com/yeti-lnp/lnpresolver/internal/driver"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrationsFS embed.FS

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

// Dialect selects the control-database backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store wraps a control-database connection with thread-safe reads, per
// the teacher's internal/database/db.go posture.
type Store struct {
	conn    *sql.DB
	dialect Dialect
	dsn     string

	mu sync.RWMutex
}

// Open opens (or, for SQLite, creates) the control database at dsn for the
// given dialect and runs its embedded migrations.
func Open(dialect Dialect, dsn string) (*Store, error) {
	driverName, err := driverNameFor(dialect)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dialect, err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	s := &Store{conn: conn, dialect: dialect, dsn: dsn}

	if err := s.runMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return s, nil
}

// DialectAndDSN derives the control-database dialect and connection string
// from the [db] config section. An empty db.host selects the embedded
// SQLite path (db.name is the file path, or ":memory:" if also empty),
// matching the teacher's "creates with defaults if new" dev-mode database.
// A non-empty host selects Postgres, per spec.md §6's production schema.
func DialectAndDSN(cfg config.DBConfig) (Dialect, string) {
	if cfg.Host == "" {
		path := cfg.Name
		if path == "" {
			path = "file::memory:?cache=shared"
		}
		return DialectSQLite, path
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?search_path=%s",
		cfg.User, cfg.Pass, cfg.Host, cfg.Port, cfg.Name, firstNonEmptySchema(cfg.Schema))
	return DialectPostgres, dsn
}

func firstNonEmptySchema(schema string) string {
	if schema == "" {
		return "public"
	}
	return schema
}

func driverNameFor(dialect Dialect) (string, error) {
	switch dialect {
	case DialectSQLite:
		return "sqlite", nil
	case DialectPostgres:
		return "pgx", nil
	default:
		return "", fmt.Errorf("store: unknown dialect %q", dialect)
	}
}

func (s *Store) runMigrations() error {
	var (
		fs     embed.FS
		subdir string
	)
	switch s.dialect {
	case DialectSQLite:
		fs, subdir = sqliteMigrationsFS, "migrations/sqlite"
	case DialectPostgres:
		fs, subdir = postgresMigrationsFS, "migrations/postgres"
	}

	sourceDriver, err := iofs.New(fs, subdir)
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	var dbDriver migrate.Driver
	switch s.dialect {
	case DialectSQLite:
		dbDriver, err = sqlitemigrate.WithInstance(s.conn, &sqlitemigrate.Config{})
	case DialectPostgres:
		dbDriver, err = pgmigrate.WithInstance(s.conn, &pgmigrate.Config{})
	}
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, string(s.dialect), dbDriver)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Close closes the control-database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Health checks connectivity.
func (s *Store) Health() error {
	return s.conn.Ping()
}

// LoadDriverRows implements driver.RowSource: spec.md §4.5's
// `load_lnp_databases()`, executed as a short-lived query against the
// lnp_databases table (Postgres: via the load_lnp_databases() stored
// function; SQLite: directly, since SQLite has no stored-procedure
// concept) and mapped to opaque named-column rows.
func (s *Store) LoadDriverRows(ctx context.Context) ([]driver.RawRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT * FROM lnp_databases"
	if s.dialect == DialectPostgres {
		query = "SELECT * FROM load_lnp_databases()"
	}

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: load driver rows: %w", err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("store: scan driver rows: %w", err)
	}
	return out, nil
}

// scanRows maps every row of an arbitrary result set to a RawRow keyed by
// column name, using database/sql's generic any-typed scan destinations.
// There's no third-party library in the pack for opaque dynamic-column
// scanning; spec.md itself treats load_lnp_databases() as "opaque rows of
// named columns" rather than a fixed schema, so a hand-rolled
// Columns()+scan-into-any loop is the natural fit here.
func scanRows(rows *sql.Rows) ([]driver.RawRow, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []driver.RawRow
	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(driver.RawRow, len(cols))
		for i, col := range cols {
			row[col] = normalizeScanned(dest[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeScanned converts driver-specific scan types (notably []byte for
// TEXT/JSONB columns) into plain strings so driver constructors never have
// to type-switch on the backing database engine.
func normalizeScanned(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// CacheStatementSQL returns the dialect-appropriate SQL text for invoking
// cache_lnp_data(smallint, varchar, varchar, varchar), for use as
// cachewriter.NewWriter's stmt argument.
func (s *Store) CacheStatementSQL() string {
	if s.dialect == DialectPostgres {
		return "SELECT cache_lnp_data($1, $2, $3, $4)"
	}
	return "INSERT INTO cache_lnp_data (driver_id, query, lrn, reserved) VALUES (?, ?, ?, ?)"
}

// CacheOpener returns a cachewriter.Opener that reconnects to the same
// control database the Store was opened against, independent of Store's
// own connection — the cache writer owns its own long-lived handle per
// spec.md §4.11.
func (s *Store) CacheOpener() func(ctx context.Context) (*sql.DB, error) {
	driverName, _ := driverNameFor(s.dialect)
	dsn := s.dsn
	return func(ctx context.Context) (*sql.DB, error) {
		db, err := sql.Open(driverName, dsn)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}
}
