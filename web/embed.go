package web

import (
	"embed"
	"io/fs"
)

//go:embed all:migrations
var content embed.FS

// MigrationsFS holds the SQL migrations under "migrations/".
func MigrationsFS() fs.FS {
	return content
}
