// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package database

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/internetofwater/ckansync/internal/common/projectpath"
	"github.com/internetofwater/ckansync/internal/config"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// OskariSchemaFixture creates the oskari tables the sync depends on; only used in tests
var OskariSchemaFixture = filepath.Join(projectpath.Root, "internal", "database", "testdata", "oskari_schema.sql")

// A struct to represent a postgres container used in integration tests
type PostgresContainer struct {
	// the container itself. used for testcontainer cleanup
	Container *postgres.PostgresContainer
	// the config needed to connect to the container
	Config config.DatabaseConfig
}

// Spin up a local postgres container with the oskari schema loaded and our migrations applied
func NewOskariPostgresContainer(ctx context.Context) (PostgresContainer, error) {
	container, err := postgres.Run(ctx,
		"docker.io/postgres:16-alpine",
		postgres.WithDatabase("oskaridb"),
		postgres.WithUsername("oskari"),
		postgres.WithPassword("oskari"),
		postgres.WithInitScripts(OskariSchemaFixture),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return PostgresContainer{}, fmt.Errorf("postgres container: %w", err)
	}

	connectionString, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return PostgresContainer{}, fmt.Errorf("connection string: %w", err)
	}
	cfg := config.DatabaseConfig{URL: connectionString}

	if err := Migrate(cfg); err != nil {
		return PostgresContainer{}, err
	}

	return PostgresContainer{Container: container, Config: cfg}, nil
}
