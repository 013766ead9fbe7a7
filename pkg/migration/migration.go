// Package migration applies the embedded schema migrations and tracks them
// in schema_migrations.
package migration

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed sql/*.sql
var files embed.FS

// Migration represents a database migration.
type Migration struct {
	Version string // Version/timestamp (e.g., "20250101000000")
	Name    string // Migration name (e.g., "create_tenants")
	UpSQL   string
	DownSQL string
}

// MigrationStatus represents the status of a migration.
type MigrationStatus string

const (
	// StatusPending means the migration has not been applied.
	StatusPending MigrationStatus = "pending"
	// StatusApplied means the migration has been applied.
	StatusApplied MigrationStatus = "applied"
	// StatusFailed means the migration failed to apply.
	StatusFailed MigrationStatus = "failed"
)

// MigrationRecord represents a migration in the tracking table.
type MigrationRecord struct {
	Version   string          `db:"version" json:"version"`
	Name      string          `db:"name" json:"name"`
	Status    MigrationStatus `db:"status" json:"status"`
	AppliedAt *time.Time      `db:"applied_at" json:"applied_at,omitempty"`
	Error     *string         `db:"error" json:"error,omitempty"`
}

// Load returns the embedded migrations ordered by version.
func Load() ([]Migration, error) {
	return loadFS(files, "sql")
}

func loadFS(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, direction, ok := parseFileName(entry.Name())
		if !ok {
			continue
		}

		body, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}

		m, exists := byVersion[version]
		if !exists {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if direction == "up" {
			m.UpSQL = string(body)
		} else {
			m.DownSQL = string(body)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" {
			return nil, fmt.Errorf("migration %s has no up script", m.Version)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseFileName splits {version}_{name}.{up|down}.sql.
func parseFileName(file string) (version, name, direction string, ok bool) {
	base, found := strings.CutSuffix(file, ".sql")
	if !found {
		return "", "", "", false
	}
	switch {
	case strings.HasSuffix(base, ".up"):
		direction = "up"
	case strings.HasSuffix(base, ".down"):
		direction = "down"
	default:
		return "", "", "", false
	}
	base = strings.TrimSuffix(base, "."+direction)

	version, name, found = strings.Cut(base, "_")
	if !found || len(version) != 14 {
		return "", "", "", false
	}
	return version, name, direction, true
}
