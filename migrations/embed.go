// Package migrations предоставляет встроенные SQL-миграции API.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Files содержит все .sql файлы из этой директории (порядок важен: 001, 002, ...).
//
//go:embed *.sql
var Files embed.FS

// Apply выполняет миграции по порядку имён. Скрипты идемпотентны (IF NOT EXISTS).
func Apply(ctx context.Context, pool *pgxpool.Pool) error {
	names, err := fs.Glob(Files, "*.sql")
	if err != nil {
		return fmt.Errorf("migrations glob: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := Files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("run migration %s: %w", name, err)
		}
	}
	return nil
}
