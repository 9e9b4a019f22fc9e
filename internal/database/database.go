package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"propsync/internal/config"
	"propsync/internal/models"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB is the SQL storage behind the entity map, the sync log and the
// reference local store. Queries are built with squirrel so the same code
// runs on sqlite and postgres.
type DB struct {
	db     *sql.DB
	sb     sq.StatementBuilderType
	driver string
	logger *zerolog.Logger
}

type dialect struct {
	serial    string
	timestamp string
}

var dialects = map[string]dialect{
	"sqlite3":  {serial: "INTEGER PRIMARY KEY AUTOINCREMENT", timestamp: "TIMESTAMP"},
	"postgres": {serial: "BIGSERIAL PRIMARY KEY", timestamp: "TIMESTAMPTZ"},
}

func NewDB(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite3"
	}
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	var dsn string
	placeholder := sq.Question
	switch driver {
	case "postgres":
		dsn = cfg.Postgres.DSN()
		placeholder = sq.Dollar
	default:
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn = sqliteDSN(cfg.Path)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "postgres" && cfg.Postgres.MaxConnections > 0 {
		conn.SetMaxOpenConns(cfg.Postgres.MaxConnections)
	}
	if cfg.Path == ":memory:" {
		// every pooled connection would get its own empty in-memory database
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(conn, d); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("driver", driver).Msg("Database initialized")
	return &DB{
		db:     conn,
		sb:     sq.StatementBuilder.PlaceholderFormat(placeholder),
		driver: driver,
		logger: logger,
	}, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" || strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000&_journal_mode=WAL"
}

func createTables(db *sql.DB, d dialect) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS entity_mappings (
            id %[1]s,
            entity_type TEXT NOT NULL,
            local_id BIGINT NOT NULL,
            remote_uuid TEXT NOT NULL,
            sub_key TEXT NOT NULL DEFAULT '',
            last_synced_at %[2]s NOT NULL,
            last_sync_direction TEXT NOT NULL,
            sync_hash TEXT,
            created_at %[2]s NOT NULL,
            updated_at %[2]s NOT NULL,
            UNIQUE (entity_type, local_id, sub_key)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_entity_mappings_remote ON entity_mappings(entity_type, remote_uuid)`,

		`CREATE TABLE IF NOT EXISTS sync_log (
            id %[1]s,
            entity_type TEXT NOT NULL,
            entity_id BIGINT NOT NULL,
            action TEXT NOT NULL,
            direction TEXT NOT NULL,
            status TEXT NOT NULL,
            request TEXT,
            response TEXT,
            error_message TEXT,
            created_at %[2]s NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_sync_log_created ON sync_log(created_at)`,

		`CREATE TABLE IF NOT EXISTS agencies (
            id %[1]s,
            name TEXT NOT NULL,
            email TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            website TEXT NOT NULL DEFAULT '',
            created_at %[2]s NOT NULL,
            updated_at %[2]s NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_agencies_name ON agencies(name)`,

		`CREATE TABLE IF NOT EXISTS users (
            id %[1]s,
            email TEXT NOT NULL UNIQUE,
            first_name TEXT NOT NULL DEFAULT '',
            last_name TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL DEFAULT 'subscriber',
            created_at %[2]s NOT NULL,
            updated_at %[2]s NOT NULL
        )`,

		`CREATE TABLE IF NOT EXISTS terms (
            id %[1]s,
            taxonomy TEXT NOT NULL,
            name TEXT NOT NULL,
            slug TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            parent_id BIGINT NOT NULL DEFAULT 0,
            UNIQUE (taxonomy, name)
        )`,

		`CREATE TABLE IF NOT EXISTS listings (
            id %[1]s,
            title TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            reference TEXT NOT NULL DEFAULT '',
            price DOUBLE PRECISION NOT NULL DEFAULT 0,
            address TEXT NOT NULL DEFAULT '',
            city TEXT NOT NULL DEFAULT '',
            bedrooms INTEGER NOT NULL DEFAULT 0,
            bathrooms INTEGER NOT NULL DEFAULT 0,
            area DOUBLE PRECISION NOT NULL DEFAULT 0,
            agency_id BIGINT NOT NULL DEFAULT 0,
            trashed BOOLEAN NOT NULL DEFAULT FALSE,
            created_at %[2]s NOT NULL,
            updated_at %[2]s NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_listings_reference ON listings(reference)`,

		`CREATE TABLE IF NOT EXISTS listing_terms (
            listing_id BIGINT NOT NULL,
            taxonomy TEXT NOT NULL,
            term_id BIGINT NOT NULL,
            PRIMARY KEY (listing_id, taxonomy)
        )`,
	}

	for _, query := range queries {
		stmt := fmt.Sprintf(query, d.serial, d.timestamp)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("error executing query %s: %w", stmt, err)
		}
	}
	return nil
}

// Driver returns the configured SQL driver name.
func (db *DB) Driver() string {
	return db.driver
}

// PingContext checks the database connection.
func (db *DB) PingContext(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) insertReturningID(ctx context.Context, ib sq.InsertBuilder) (int64, error) {
	query, args, err := ib.Suffix("RETURNING id").ToSql()
	if err != nil {
		return 0, err
	}
	var id int64
	if err := db.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (db *DB) exec(ctx context.Context, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	res, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) queryRow(ctx context.Context, b sq.SelectBuilder, dest ...interface{}) (bool, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return false, err
	}
	err = db.db.QueryRowContext(ctx, query, args...).Scan(dest...)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (db *DB) count(ctx context.Context, b sq.SelectBuilder) (int, error) {
	var n int
	if _, err := db.queryRow(ctx, b, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// listItems runs a "SELECT id, label" query and collects ListItems.
func (db *DB) listItems(ctx context.Context, b sq.SelectBuilder) ([]models.ListItem, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ListItem{}
	for rows.Next() {
		var item models.ListItem
		if err := rows.Scan(&item.ID, &item.Label); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func now() time.Time {
	return time.Now().UTC()
}
