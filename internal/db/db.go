// Package db opens the run-history database. DATABASE_URL selects the dialect: postgres:// (pgx) or
// sqlite://path (modernc.org/sqlite).
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect is the SQL flavour behind a DATABASE_URL.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

const sqliteScheme = "sqlite://"

// ErrUnsupportedURL is returned for a DATABASE_URL whose scheme is neither postgres nor sqlite.
var ErrUnsupportedURL = errors.New("db: DATABASE_URL must start with postgres://, postgresql:// or sqlite://")

// ParseURL returns the dialect of databaseURL and the DSN to hand to database/sql.
func ParseURL(databaseURL string) (Dialect, string, error) {
	u := strings.TrimSpace(databaseURL)
	switch {
	case u == "":
		return "", "", errors.New("db: DATABASE_URL is not set")
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return Postgres, u, nil
	case strings.HasPrefix(u, sqliteScheme):
		path := strings.TrimPrefix(u, sqliteScheme)
		if path == "" {
			return "", "", errors.New("db: sqlite URL has no path")
		}
		return SQLite, path, nil
	default:
		return "", "", ErrUnsupportedURL
	}
}

// Open opens and pings the database named by databaseURL. Caller must call Close when done.
func Open(databaseURL string) (*sql.DB, Dialect, error) {
	dialect, dsn, err := ParseURL(databaseURL)
	if err != nil {
		return nil, "", err
	}
	driver := "pgx"
	if dialect == SQLite {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, "", err
	}
	if dialect == SQLite {
		// One writer at a time; the CLI never needs more.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	return db, dialect, nil
}

// Rebind rewrites ?-placeholders for the dialect: $1, $2, ... for Postgres, unchanged for SQLite.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MigrationsDir is the embedded migrations directory for the dialect.
func (d Dialect) MigrationsDir() string {
	return fmt.Sprintf("migrations/%s", d)
}
