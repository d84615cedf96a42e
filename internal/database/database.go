package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL Driver
	"go.uber.org/zap"
)

type DB struct {
	conn *sql.DB
	log  *zap.Logger
}

func Open(ctx context.Context, dsn string, migrationsFS fs.FS, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(conn, migrationsFS); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	log.Info("database migrations applied")

	return &DB{conn: conn, log: log}, nil
}

func runMigrations(conn *sql.DB, migrationsFS fs.FS) error {
	driver, err := postgres.WithInstance(conn, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	var m *migrate.Migrate
	if migrationsFS != nil {
		d, err := iofs.New(migrationsFS, "migrations")
		if err != nil {
			return fmt.Errorf("could not create iofs source: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", d, "postgres", driver)
		if err != nil {
			return fmt.Errorf("could not create migrate instance: %w", err)
		}
	} else {
		// Fallback to the working tree, useful for dev without build
		m, err = migrate.NewWithDatabaseInstance("file://web/migrations", "postgres", driver)
		if err != nil {
			return fmt.Errorf("could not create migrate instance: %w", err)
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("an error occurred while syncing the database: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}
