package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// New opens a SQLite database connection at the given path.
// WAL journaling, a busy timeout and foreign keys are applied to every pooled
// connection through the DSN.
func New(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate creates the bookkeeping tables shared by all collections.
// It is idempotent and can be run multiple times safely.
func Migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS collection_versions (
			collection TEXT PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 0,
			last_write INTEGER NOT NULL DEFAULT 0
		);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}

// ensureCollection creates the backing table, its json_extract indexes and
// its version row. Safe to call repeatedly.
func ensureCollection(db *sql.DB, schema CollectionSchema) error {
	table := schema.table()
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`, table),
	}
	for _, field := range schema.Indexes {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s);",
			schema.Name, field, table, indexExpr(field),
		))
	}
	stmts = append(stmts, "INSERT OR IGNORE INTO collection_versions (collection) VALUES ('"+schema.Name+"');")

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", schema.Name, err)
		}
	}
	return nil
}

// indexExpr is the SQL expression an index on field is built over.
// Queries must use the same expression for SQLite to pick the index.
func indexExpr(field string) string {
	return "json_extract(data, '$." + field + "')"
}
