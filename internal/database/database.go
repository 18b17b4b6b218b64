// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

// Package database connects to postgres and applies the
// tables this integration owns inside the oskari database
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/internetofwater/ckansync/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrations are tracked separately from oskari's own flyway history
const migrationsTable = "ckansync_schema_migrations"

// Connect creates a connection pool and makes sure the database is reachable
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to %s: %w", poolCfg.ConnConfig.Host, err)
	}

	log.Infof("Connected to postgres at %s:%d/%s", poolCfg.ConnConfig.Host, poolCfg.ConnConfig.Port, poolCfg.ConnConfig.Database)
	return pool, nil
}

// migrationURL rewrites a postgres url into the form golang-migrate expects for pgx v5
func migrationURL(cfg config.DatabaseConfig) (string, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return "", err
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	parsed.Scheme = "pgx5"
	query := parsed.Query()
	query.Set("x-migrations-table", migrationsTable)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// Migrate applies the embedded migrations
func Migrate(cfg config.DatabaseConfig) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}
	dbURL, err := migrationURL(cfg)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return fmt.Errorf("initializing migrations: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	log.Infof("Database schema at version %d (dirty: %t)", version, dirty)
	return nil
}
