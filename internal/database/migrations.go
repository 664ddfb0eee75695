package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/apex/log"
)

// Migrations holds the bundled schema migrations.
//
//go:embed migrations/*.sql
var Migrations embed.FS

const migrationsDir = "migrations"

// Migration is one numbered schema step, e.g. 001_cell_records.sql
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// parseMigrationName splits "001_cell_records.sql" into 1 and
// "001_cell_records". ok is false for anything else.
func parseMigrationName(file string) (version int, name string, ok bool) {
	name, isSQL := strings.CutSuffix(file, ".sql")
	if !isSQL {
		return 0, "", false
	}
	prefix, rest, found := strings.Cut(name, "_")
	if !found || rest == "" {
		return 0, "", false
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, "", false
	}
	return version, name, true
}

// Migrator applies the numbered *.sql files of an fs.FS in order, once each
type Migrator struct {
	db   *sql.DB
	fsys fs.FS
}

// NewMigrator creates a migrator reading the migrations directory of fsys
func NewMigrator(db *sql.DB, fsys fs.FS) *Migrator {
	return &Migrator{db: db, fsys: fsys}
}

func (m *Migrator) ensureTable() error {
	_, err := m.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	return nil
}

// Applied returns the names of applied migrations keyed by version
func (m *Migrator) Applied() (map[int]string, error) {
	rows, err := m.db.Query("SELECT version, name FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]string)
	for rows.Next() {
		var (
			version int
			name    string
		)
		if err := rows.Scan(&version, &name); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		applied[version] = name
	}
	return applied, rows.Err()
}

// Load reads every well-named migration, ordered by version
func (m *Migrator) Load() ([]Migration, error) {
	entries, err := fs.ReadDir(m.fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var out []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, name, ok := parseMigrationName(e.Name())
		if !ok {
			if strings.HasSuffix(e.Name(), ".sql") {
				log.WithField("file", e.Name()).Warn("[Migrate] skipping badly named file")
			}
			continue
		}
		body, err := fs.ReadFile(m.fsys, path.Join(migrationsDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		out = append(out, Migration{Version: version, Name: name, SQL: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Apply runs one migration and records it in the same transaction
func (m *Migrator) Apply(mig Migration) error {
	return WithTx(m.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(mig.SQL); err != nil {
			return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", mig.Version, mig.Name); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", mig.Version, err)
		}
		return nil
	})
}

// Up applies every pending migration and returns how many ran
func (m *Migrator) Up() (int, error) {
	if err := m.ensureTable(); err != nil {
		return 0, err
	}
	applied, err := m.Applied()
	if err != nil {
		return 0, err
	}
	migrations, err := m.Load()
	if err != nil {
		return 0, err
	}

	n := 0
	for _, mig := range migrations {
		if _, done := applied[mig.Version]; done {
			continue
		}
		if err := m.Apply(mig); err != nil {
			return n, err
		}
		log.WithFields(log.Fields{"version": mig.Version, "name": mig.Name}).Info("[Migrate] applied")
		n++
	}
	return n, nil
}
