// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package capabilities

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by pgxpool.Pool, pgx.Tx and pgxmock
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	selectCached = `SELECT id, data FROM oskari_capabilities_cache WHERE layertype = $1 AND url = $2 AND version = $3`
	upsertCached = `INSERT INTO oskari_capabilities_cache (layertype, url, version, data, created, updated)
VALUES ($1, $2, $3, $4, now(), now())
ON CONFLICT (layertype, version, url) DO UPDATE SET data = EXCLUDED.data, updated = now()
RETURNING id`
	emptyCache = `DELETE FROM oskari_capabilities_cache`
)

// PostgresCache keeps documents in the oskari_capabilities_cache table
type PostgresCache struct {
	db DBTX
}

func NewPostgresCache(db DBTX) *PostgresCache {
	return &PostgresCache{db: db}
}

func (c *PostgresCache) Get(ctx context.Context, layerType, url, version string) (RawDocument, bool, error) {
	doc := RawDocument{LayerType: layerType, URL: url, Version: version}
	err := c.db.QueryRow(ctx, selectCached, layerType, url, version).Scan(&doc.ID, &doc.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return RawDocument{}, false, nil
	}
	if err != nil {
		return RawDocument{}, false, fmt.Errorf("reading capabilities cache: %w", err)
	}
	return doc, true, nil
}

func (c *PostgresCache) Save(ctx context.Context, doc RawDocument) (RawDocument, error) {
	err := c.db.QueryRow(ctx, upsertCached, doc.LayerType, doc.URL, doc.Version, doc.Data).Scan(&doc.ID)
	if err != nil {
		return doc, fmt.Errorf("saving capabilities cache: %w", err)
	}
	return doc, nil
}

// Empty drops every cached document so the next pass sees fresh capabilities
func (c *PostgresCache) Empty(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, emptyCache); err != nil {
		return fmt.Errorf("emptying capabilities cache: %w", err)
	}
	return nil
}
