// Package sqlitedb opens the SQLite databases backing the local indexes.
package sqlitedb

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Open creates dir if needed and opens dir/name with WAL journaling and
// foreign keys enforced.
func Open(dir, name string) (*sql.DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.WithMessage(err, "creating data dir")
	}
	db, err := openDB("sqlite", filepath.Join(dir, name)+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, errors.WithMessage(err, "opening database")
	}

	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, errors.WithMessagef(err, "pragma %q", p)
		}
	}
	// A single connection serializes writers and keeps per-connection
	// pragmas in effect.
	db.SetMaxOpenConns(1)
	return db, nil
}

// SanitizeFTS quotes each word of query for safe use in an FTS5 MATCH:
// "load user" becomes `"load" "user"`, or `"load"* "user"*` as prefixes.
func SanitizeFTS(query string, prefix bool) string {
	var words []string
	for _, w := range strings.Fields(query) {
		if w = strings.ReplaceAll(w, `"`, ""); w == "" {
			continue
		}
		w = `"` + w + `"`
		if prefix {
			w += "*"
		}
		words = append(words, w)
	}
	return strings.Join(words, " ")
}
