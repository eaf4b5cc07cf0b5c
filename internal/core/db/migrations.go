package db

import (
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	embeddedmigrations "github.com/quillpolicy/quill/migrations"
)

// MigrationStatus represents the state of a single migration.
type MigrationStatus struct {
	ID          string
	Checksum    string
	Applied     bool
	AppliedAt   *time.Time
	ExecutionMs int64
}

type migrationFile struct {
	ID       string
	Checksum string
	SQL      string
}

// MigrateUp runs all pending migrations against the database.
// Detects driver type, selects the appropriate embedded migrations,
// validates checksums, and applies pending migrations in order.
func MigrateUp(db *sqlx.DB) error {
	driver := db.DriverName()

	var migrationsFS embed.FS
	var migrationsDir string

	switch driver {
	case "sqlite3":
		migrationsFS = embeddedmigrations.SqliteMigrations
		migrationsDir = "sqlite"
	case "postgres":
		migrationsFS = embeddedmigrations.PostgresMigrations
		migrationsDir = "postgres"
	default:
		return fmt.Errorf("unsupported database driver: %s", driver)
	}

	if err := createMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := parseMigrationFiles(migrationsFS, migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to parse migrations: %w", err)
	}

	// SHA256 checksums detect modification of already-applied migrations.
	if err := validateChecksums(db, migrations); err != nil {
		return fmt.Errorf("migration checksum validation failed: %w", err)
	}

	applied, err := getAppliedMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.ID] {
			continue
		}

		start := time.Now()

		// Migration execution and recording share one transaction so a
		// failed record does not leave a half-applied migration.
		tx, err := db.Beginx()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", m.ID, err)
		}

		if err := applyMigration(tx, m); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %s: %w", m.ID, err)
		}

		elapsed := time.Since(start).Milliseconds()
		_, err = tx.Exec(tx.Rebind(
			"INSERT INTO schema_migrations (id, checksum, applied_at, execution_ms) VALUES (?, ?, ?, ?)"),
			m.ID, m.Checksum, time.Now().UTC(), elapsed)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.ID, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.ID, err)
		}
	}

	return nil
}

// Status returns the state of every known migration.
func Status(db *sqlx.DB) ([]MigrationStatus, error) {
	driver := db.DriverName()

	var migrationsFS embed.FS
	var migrationsDir string
	switch driver {
	case "sqlite3":
		migrationsFS = embeddedmigrations.SqliteMigrations
		migrationsDir = "sqlite"
	case "postgres":
		migrationsFS = embeddedmigrations.PostgresMigrations
		migrationsDir = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	if err := createMigrationsTable(db); err != nil {
		return nil, err
	}
	migrations, err := parseMigrationFiles(migrationsFS, migrationsDir)
	if err != nil {
		return nil, err
	}

	type appliedRow struct {
		ID          string    `db:"id"`
		Checksum    string    `db:"checksum"`
		AppliedAt   time.Time `db:"applied_at"`
		ExecutionMs int64     `db:"execution_ms"`
	}
	var rows []appliedRow
	if err := db.Select(&rows, "SELECT id, checksum, applied_at, execution_ms FROM schema_migrations"); err != nil {
		return nil, err
	}
	appliedByID := make(map[string]appliedRow, len(rows))
	for _, r := range rows {
		appliedByID[r.ID] = r
	}

	out := make([]MigrationStatus, 0, len(migrations))
	for _, m := range migrations {
		st := MigrationStatus{ID: m.ID, Checksum: m.Checksum}
		if r, ok := appliedByID[m.ID]; ok {
			at := r.AppliedAt
			st.Applied = true
			st.AppliedAt = &at
			st.ExecutionMs = r.ExecutionMs
		}
		out = append(out, st)
	}
	return out, nil
}

func createMigrationsTable(db *sqlx.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			execution_ms BIGINT NOT NULL
		)`)
	return err
}

// parseMigrationFiles reads and checksums every .sql file, ordered by id.
func parseMigrationFiles(migrationsFS embed.FS, dir string) ([]migrationFile, error) {
	var out []migrationFile

	err := fs.WalkDir(migrationsFS, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".sql" {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		id := strings.TrimSuffix(filepath.Base(path), ".sql")
		sum := sha256.Sum256(content)
		out = append(out, migrationFile{
			ID:       id,
			Checksum: fmt.Sprintf("%x", sum),
			SQL:      string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// validateChecksums rejects edits to migrations that already ran.
func validateChecksums(db *sqlx.DB, migrations []migrationFile) error {
	type row struct {
		ID       string `db:"id"`
		Checksum string `db:"checksum"`
	}
	var rows []row
	if err := db.Select(&rows, "SELECT id, checksum FROM schema_migrations"); err != nil {
		return err
	}
	known := make(map[string]string, len(migrations))
	for _, m := range migrations {
		known[m.ID] = m.Checksum
	}
	for _, r := range rows {
		want, ok := known[r.ID]
		if !ok {
			return fmt.Errorf("applied migration %s no longer exists", r.ID)
		}
		if want != r.Checksum {
			return fmt.Errorf("migration %s was modified after being applied", r.ID)
		}
	}
	return nil
}

func getAppliedMigrations(db *sqlx.DB) (map[string]bool, error) {
	var ids []string
	if err := db.Select(&ids, "SELECT id FROM schema_migrations"); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// applyMigration executes the statements of one migration file.
func applyMigration(tx *sqlx.Tx, m migrationFile) error {
	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	return nil
}
