// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package database

import (
	"context"
	"net/url"
	"testing"

	"github.com/internetofwater/ckansync/internal/config"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestMigrationURL(t *testing.T) {
	migrationUrl, err := migrationURL(config.DatabaseConfig{
		URL:      "postgres://db:5432/oskaridb?sslmode=disable",
		User:     "oskari",
		Password: "oskari",
	})
	require.NoError(t, err)

	parsed, err := url.Parse(migrationUrl)
	require.NoError(t, err)
	require.Equal(t, "pgx5", parsed.Scheme)
	require.Equal(t, "oskari", parsed.User.Username())
	require.Equal(t, "disable", parsed.Query().Get("sslmode"))
	require.Equal(t, migrationsTable, parsed.Query().Get("x-migrations-table"))
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	require.Len(t, entries, 4, "every migration has an up and a down file")
}

type DatabaseSuite struct {
	suite.Suite
	postgres PostgresContainer
}

func (s *DatabaseSuite) SetupSuite() {
	container, err := NewOskariPostgresContainer(context.Background())
	s.Require().NoError(err)
	s.postgres = container
}

func (s *DatabaseSuite) TearDownSuite() {
	s.Require().NoError(s.postgres.Container.Terminate(context.Background()))
}

func (s *DatabaseSuite) TestConnectAndTablesExist() {
	ctx := context.Background()
	pool, err := Connect(ctx, s.postgres.Config)
	s.Require().NoError(err)
	defer pool.Close()

	for _, table := range []string{"oskari_ckan_dataset_resource_log", "oskari_ckan_catalog_ref", "oskari_maplayer"} {
		var exists bool
		err := pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&exists)
		s.Require().NoError(err)
		s.Require().True(exists, table)
	}
}

func (s *DatabaseSuite) TestMigrateIsRepeatable() {
	s.Require().NoError(Migrate(s.postgres.Config))
}

func TestDatabaseSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container tests in short mode")
	}
	suite.Run(t, new(DatabaseSuite))
}
