// Package migrations embeds SQL migration files for use at runtime.
// Migrations are embedded so they work regardless of working directory.
package migrations

import (
	"embed"
	"io/fs"
)

// FS holds the PostgreSQL migrations (the .sql files in this directory).
//
//go:embed *.sql
var FS embed.FS

//go:embed sqlite/*.sql
var sqliteFS embed.FS

// SQLiteFS holds the SQLite migrations, rooted so file names match FS.
var SQLiteFS = mustSub(sqliteFS, "sqlite")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
