package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var files embed.FS

// Migration is one numbered schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Load returns the embedded migrations ordered by version.
// File names follow NNN_name.sql.
func Load() ([]Migration, error) {
	entries, err := files.ReadDir("sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	migrations := make([]Migration, 0, len(entries))
	seen := make(map[int]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, name, err := parseName(entry.Name())
		if err != nil {
			return nil, err
		}
		if other, ok := seen[version]; ok {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, other, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := files.ReadFile(path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{Version: version, Name: name, SQL: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

func parseName(fileName string) (int, string, error) {
	base := strings.TrimSuffix(fileName, ".sql")
	prefix, name, ok := strings.Cut(base, "_")
	if !ok {
		return 0, "", fmt.Errorf("migration %s: expected NNN_name.sql", fileName)
	}

	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("migration %s: invalid version %q", fileName, prefix)
	}

	return version, name, nil
}

// GetInitialSchema returns the first migration's SQL
func GetInitialSchema() (string, error) {
	migrations, err := Load()
	if err != nil {
		return "", err
	}
	if len(migrations) == 0 {
		return "", fmt.Errorf("no migrations embedded")
	}
	return migrations[0].SQL, nil
}

// CurrentVersion reads the schema version recorded in PRAGMA user_version.
func CurrentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// Apply runs every migration newer than the recorded version, each in its own
// transaction, and returns how many were applied.
func Apply(ctx context.Context, db *sql.DB) (int, error) {
	migrations, err := Load()
	if err != nil {
		return 0, err
	}

	current, err := CurrentVersion(ctx, db)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := applyOne(ctx, db, m); err != nil {
			return applied, err
		}
		applied++
	}

	return applied, nil
}

func applyOne(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %03d_%s: begin: %w", m.Version, m.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("migration %03d_%s: %w", m.Version, m.Name, err)
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return fmt.Errorf("migration %03d_%s: set user_version: %w", m.Version, m.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %03d_%s: commit: %w", m.Version, m.Name, err)
	}
	return nil
}
