package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// runMigrations applies every pending migration against an already-open
// *sql.DB, reusing the connection the gorm pool holds rather than opening a
// second handle to the same SQLite file (which would deadlock on the
// file lock under concurrent writers).
//
// golang-migrate ships a database driver for sqlite3, but that driver's
// error translation type-asserts against mattn/go-sqlite3's error type at
// the package level, which would drag a cgo dependency into a store built
// specifically around the pure-Go glebarez/sqlite driver. Migrations are
// applied by hand instead: source/iofs still does the work of walking the
// embedded migration files in order, but each one is executed directly
// against db and its version recorded in a schema_migrations table.
func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	defer src.Close()

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}

	version, err := src.First()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("find first migration: %w", err)
	}

	for {
		if !applied[version] {
			if err := applyMigration(db, src, version); err != nil {
				return err
			}
		}

		next, err := src.Next(version)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("find next migration after %d: %w", version, err)
		}
		version = next
	}
}

func appliedVersions(db *sql.DB) (map[uint]bool, error) {
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[uint]bool)
	for rows.Next() {
		var v uint
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// applyMigration runs a single migration's up script and records its
// version, all inside one transaction so a bad statement never leaves the
// schema half-migrated.
func applyMigration(db *sql.DB, src source.Driver, version uint) error {
	r, identifier, err := src.ReadUp(version)
	if err != nil {
		return fmt.Errorf("read migration %d: %w", version, err)
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read migration %d (%s): %w", version, identifier, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", version, err)
	}

	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", version, identifier, err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %d: %w", version, err)
	}
	return tx.Commit()
}

// splitStatements breaks a migration file into individual statements on
// semicolon boundaries. The embedded migrations are plain DDL/seed SQL with
// no string literals containing semicolons, so a naive split is sufficient
// and avoids depending on the sqlite driver's support for multi-statement
// Exec calls.
func splitStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		stmts = append(stmts, p)
	}
	return stmts
}
