// Package migrate runs history migrations from embedded SQL files using golang-migrate.
package migrate

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"bcryptcheck/internal/db"
)

// ErrNoChange is returned when Up/Down has nothing to do (already at target version).
var ErrNoChange = migrate.ErrNoChange

// Run applies migrations in the given direction to the database named by databaseURL (postgres:// or
// sqlite://). direction must be "up" or "down". Returns nil on success, including when already at the
// target version; other errors for DB or I/O failures.
func Run(databaseURL string, direction string) error {
	if databaseURL == "" {
		return errors.New("DATABASE_URL is not set; set it to postgres://... or sqlite://path to enable run history")
	}
	if direction != "up" && direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}
	dialect, _, err := db.ParseURL(databaseURL)
	if err != nil {
		return err
	}

	sourceDriver, err := iofs.New(db.MigrationFS, dialect.MigrationsDir())
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, databaseURL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
	}
	return nil
}
