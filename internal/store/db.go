package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// schemaStep is one forward-only change to the database layout. Steps are
// applied in slice order and recorded by version in schema_version.
type schemaStep struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

var schemaSteps = []schemaStep{
	{1, "initial schema", migrateInitialSchema},
	{2, "sync status queue", migrateSyncStatusQueue},
	{3, "account fetch window", migrateAccountFetchWindow},
}

// Pragmas go in the DSN so every pooled connection gets them, not just the
// first one.
const dsnPragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// OpenDB opens (creating if needed) the SQLite database at path and brings
// its schema up to date.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+dsnPragmas)
	if err != nil {
		return nil, err
	}
	// One connection: writers never contend with each other inside the process.
	db.SetMaxOpenConns(1)

	if err := upgradeSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func upgradeSchema(db *sql.DB) error {
	const ddl = `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, step := range schemaSteps {
		if step.version <= current {
			continue
		}
		if err := applyStep(db, step); err != nil {
			return fmt.Errorf("schema v%d (%s): %w", step.version, step.name, err)
		}
	}
	return nil
}

func applyStep(db *sql.DB, step schemaStep) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = step.apply(tx); err != nil {
		return err
	}
	if _, err = tx.Exec(`INSERT INTO schema_version (version, name) VALUES (?, ?)`, step.version, step.name); err != nil {
		return err
	}
	return tx.Commit()
}

func execAll(tx *sql.Tx, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func migrateInitialSchema(tx *sql.Tx) error {
	return execAll(tx,
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			username TEXT,
			session_id TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS feeds (
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			feed_id TEXT NOT NULL,
			external_id TEXT,
			url TEXT NOT NULL,
			name TEXT,
			edited_name TEXT,
			home_page_url TEXT,
			favicon_url TEXT,
			PRIMARY KEY (account_id, feed_id)
		);`,
		`CREATE TABLE IF NOT EXISTS folders (
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			PRIMARY KEY (account_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS account_feeds (
			account_id TEXT NOT NULL,
			feed_id TEXT NOT NULL,
			PRIMARY KEY (account_id, feed_id),
			FOREIGN KEY (account_id, feed_id) REFERENCES feeds(account_id, feed_id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS folder_feeds (
			account_id TEXT NOT NULL,
			folder_name TEXT NOT NULL,
			feed_id TEXT NOT NULL,
			PRIMARY KEY (account_id, folder_name, feed_id),
			FOREIGN KEY (account_id, folder_name) REFERENCES folders(account_id, name) ON DELETE CASCADE,
			FOREIGN KEY (account_id, feed_id) REFERENCES feeds(account_id, feed_id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS feed_folder_relationships (
			account_id TEXT NOT NULL,
			feed_id TEXT NOT NULL,
			folder_name TEXT NOT NULL,
			relationship_id TEXT NOT NULL,
			PRIMARY KEY (account_id, feed_id, folder_name),
			FOREIGN KEY (account_id, feed_id) REFERENCES feeds(account_id, feed_id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS stories (
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			article_id TEXT NOT NULL,
			feed_id TEXT NOT NULL,
			title TEXT,
			url TEXT,
			author TEXT,
			image_url TEXT,
			tags TEXT,
			summary TEXT,
			content_html TEXT,
			content_md TEXT,
			published_at DATETIME,
			fetched_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (account_id, article_id)
		);`,
		`CREATE TABLE IF NOT EXISTS story_status (
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			article_id TEXT NOT NULL,
			read BOOLEAN NOT NULL DEFAULT 0,
			starred BOOLEAN NOT NULL DEFAULT 0,
			read_at DATETIME,
			starred_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (account_id, article_id)
		);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS stories_fts USING fts5(
			title,
			summary,
			content_md,
			content=stories,
			content_rowid=rowid
		);`,
		`CREATE TRIGGER IF NOT EXISTS stories_ai AFTER INSERT ON stories BEGIN
			INSERT INTO stories_fts(rowid, title, summary, content_md)
			VALUES (new.rowid, new.title, new.summary, new.content_md);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS stories_ad AFTER DELETE ON stories BEGIN
			INSERT INTO stories_fts(stories_fts, rowid, title, summary, content_md)
			VALUES ('delete', old.rowid, old.title, old.summary, old.content_md);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS stories_au AFTER UPDATE ON stories BEGIN
			INSERT INTO stories_fts(stories_fts, rowid, title, summary, content_md)
			VALUES ('delete', old.rowid, old.title, old.summary, old.content_md);
			INSERT INTO stories_fts(rowid, title, summary, content_md)
			VALUES (new.rowid, new.title, new.summary, new.content_md);
		END;`,
		`CREATE INDEX IF NOT EXISTS idx_stories_feed_published ON stories(account_id, feed_id, published_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_story_status_read ON story_status(account_id, read);`,
		`CREATE INDEX IF NOT EXISTS idx_story_status_starred ON story_status(account_id, starred);`,
	)
}

func migrateSyncStatusQueue(tx *sql.Tx) error {
	return execAll(tx,
		`CREATE TABLE IF NOT EXISTS sync_status (
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			article_id TEXT NOT NULL,
			key TEXT NOT NULL CHECK (key IN ('read', 'starred')),
			flag BOOLEAN NOT NULL,
			selected BOOLEAN NOT NULL DEFAULT 0,
			PRIMARY KEY (account_id, article_id, key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sync_status_selected ON sync_status(account_id, selected);`,
	)
}

// Databases created before the fetch window existed already have accounts,
// so the columns are added only when missing.
func migrateAccountFetchWindow(tx *sql.Tx) error {
	for _, col := range []string{"last_article_fetch_start", "last_article_fetch_end"} {
		var n int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('accounts') WHERE name = ?`, col).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if _, err := tx.Exec(`ALTER TABLE accounts ADD COLUMN ` + col + ` DATETIME`); err != nil {
			return err
		}
	}
	return nil
}
