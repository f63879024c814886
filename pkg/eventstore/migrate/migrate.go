// Package migrate applies versioned SQL migrations from an embedded
// filesystem. Files are named NNNNNN_name.up.sql / NNNNNN_name.down.sql;
// applied versions are tracked in a table so Up is idempotent.
package migrate

import (
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Migration is one schema revision with its forward and rollback SQL.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Migrator applies migrations against a database, recording each applied
// version in a tracking table.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
	tableName  string
}

// New creates a migrator that records applied versions in tableName
// (e.g. "schema_migrations").
func New(db *sql.DB, tableName string) *Migrator {
	return &Migrator{
		db:        db,
		tableName: tableName,
	}
}

// LoadFromFS reads migration files from dir in fsys. Both halves of a
// version share the numeric prefix; the name is taken from the up file.
// Files that do not match the naming scheme are ignored.
func (m *Migrator) LoadFromFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read migration directory: %w", err)
	}

	byVersion := make(map[int]*Migration)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		prefix, rest, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration file %s: %w", entry.Name(), err)
		}

		migration := byVersion[version]
		if migration == nil {
			migration = &Migration{Version: version}
			byVersion[version] = migration
		}

		switch {
		case strings.HasSuffix(rest, ".up.sql"):
			migration.Name = strings.TrimSuffix(rest, ".up.sql")
			migration.Up = string(content)
		case strings.HasSuffix(rest, ".down.sql"):
			migration.Down = string(content)
		}
	}

	for _, migration := range byVersion {
		m.migrations = append(m.migrations, *migration)
	}
	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})

	return nil
}

// Up applies all pending migrations, each in its own transaction.
func (m *Migrator) Up() error {
	if err := m.ensureTable(); err != nil {
		return err
	}

	current, err := m.currentVersion()
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, migration := range m.migrations {
		if migration.Version <= current {
			continue
		}
		if err := m.apply(migration); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", migration.Version, migration.Name, err)
		}
	}

	return nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down() error {
	if err := m.ensureTable(); err != nil {
		return err
	}

	current, err := m.currentVersion()
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}
	if current == 0 {
		return fmt.Errorf("no migrations to roll back")
	}

	var target *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == current {
			target = &m.migrations[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("migration %d not found", current)
	}
	if target.Down == "" {
		return fmt.Errorf("migration %d has no down script", current)
	}

	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(target.Down); err != nil {
		return fmt.Errorf("execute rollback SQL: %w", err)
	}
	if _, err := tx.Exec(
		fmt.Sprintf("DELETE FROM %s WHERE version = ?", m.tableName), current,
	); err != nil {
		return fmt.Errorf("remove migration record: %w", err)
	}

	return tx.Commit()
}

// Version returns the highest applied migration version, 0 when none.
func (m *Migrator) Version() (int, error) {
	if err := m.ensureTable(); err != nil {
		return 0, err
	}
	return m.currentVersion()
}

func (m *Migrator) ensureTable() error {
	_, err := m.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`, m.tableName))
	if err != nil {
		return fmt.Errorf("create table %s: %w", m.tableName, err)
	}
	return nil
}

func (m *Migrator) currentVersion() (int, error) {
	var version int
	err := m.db.QueryRow(fmt.Sprintf(
		"SELECT COALESCE(MAX(version), 0) FROM %s", m.tableName,
	)).Scan(&version)
	return version, err
}

func (m *Migrator) apply(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migration.Up); err != nil {
		return fmt.Errorf("execute migration SQL: %w", err)
	}
	if _, err := tx.Exec(
		fmt.Sprintf("INSERT INTO %s (version, name, applied_at) VALUES (?, ?, ?)", m.tableName),
		migration.Version, migration.Name, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	return tx.Commit()
}
