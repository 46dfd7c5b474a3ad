package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// FS holds the numbered up/down migration files.
//
//go:embed *.sql
var FS embed.FS

const (
	Up   = "up"
	Down = "down"
)

// Files lists the migration files for direction in the order they must run.
func Files(direction string) ([]string, error) {
	if direction != Up && direction != Down {
		return nil, fmt.Errorf("direction must be %q or %q", Up, Down)
	}

	entries, err := fs.ReadDir(FS, ".")
	if err != nil {
		return nil, fmt.Errorf("read migration directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), fmt.Sprintf(".%s.sql", direction)) {
			files = append(files, e.Name())
		}
	}

	sort.Strings(files)
	if direction == Down {
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}
	return files, nil
}

// Apply runs every migration for direction. onFile, when set, is called before each file runs.
func Apply(ctx context.Context, db *sql.DB, direction string, onFile func(name string)) (int, error) {
	files, err := Files(direction)
	if err != nil {
		return 0, err
	}

	for _, name := range files {
		content, err := FS.ReadFile(name)
		if err != nil {
			return 0, fmt.Errorf("read migration file %s: %w", name, err)
		}
		if onFile != nil {
			onFile(name)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return 0, fmt.Errorf("execute migration %s: %w", name, err)
		}
	}
	return len(files), nil
}
