package database

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Migrate applies the embedded migrations for the database dialect.
// steps == 0 means all pending migrations in the given direction.
func Migrate(db *DB, direction Direction, steps int) error {
	m, closeFn, err := newMigrator(db)
	if err != nil {
		return err
	}
	defer closeFn()

	switch {
	case steps > 0 && direction == Down:
		err = m.Steps(-steps)
	case steps > 0:
		err = m.Steps(steps)
	case direction == Down:
		err = m.Down()
	default:
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if errors.Is(err, migrate.ErrNilVersion) {
		log.Info().Str("dialect", string(db.Dialect)).Msg("no migrations applied")
	} else {
		log.Info().
			Str("dialect", string(db.Dialect)).
			Uint("version", version).
			Bool("dirty", dirty).
			Msg("database migration completed")
	}

	return nil
}

func newMigrator(db *DB) (*migrate.Migrate, func(), error) {
	dir := "migrations/sqlite"
	if db.Dialect == DialectPostgres {
		dir = "migrations/postgres"
	}

	sub, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return nil, nil, err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	if db.Dialect == DialectPostgres {
		// The pgx driver pins a connection, so it gets its own pool and is closed afterwards.
		url := "pgx5://" + strings.SplitN(db.url, "://", 2)[1]
		m, err := migrate.NewWithSourceInstance("iofs", source, url)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
		}
		return m, func() { m.Close() }, nil
	}

	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// Closing m would close the shared pool.
	return m, func() { source.Close() }, nil
}
