// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

// Package resourcelog keeps the per resource watermark used to decide
// whether a ckan resource changed since it was last published
package resourcelog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"
)

// TimestampLayout is the layout ckan uses for last_modified and created
const TimestampLayout = "2006-01-02T15:04:05.000000"

var ErrTimestampFormat = errors.New("timestamp does not match layout " + TimestampLayout)

// DBTX is satisfied by pgxpool.Pool, pgx.Tx and pgxmock
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectWatermark = `SELECT last_modified FROM oskari_ckan_dataset_resource_log WHERE resource_uuid = $1`

// the watermark never moves backwards even if an older timestamp is recorded later
const upsertWatermark = `INSERT INTO oskari_ckan_dataset_resource_log (last_modified, resource_uuid)
VALUES ($1, $2)
ON CONFLICT (resource_uuid) DO UPDATE
SET last_modified = GREATEST(oskari_ckan_dataset_resource_log.last_modified, EXCLUDED.last_modified)`

// ParseTimestamp parses a ckan timestamp as UTC
func ParseTimestamp(value string) (time.Time, error) {
	parsed, err := time.Parse(TimestampLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrTimestampFormat, value)
	}
	return parsed, nil
}

type Log struct {
	db DBTX
}

func New(db DBTX) *Log {
	return &Log{db: db}
}

// Check validates the resource id and timestamp before asking NeedsUpdate.
// Invalid input is returned as an error so the resource is failed instead of guessed at
func (l *Log) Check(ctx context.Context, resourceID, lastModified string) (time.Time, bool, error) {
	if _, err := uuid.Parse(resourceID); err != nil {
		return time.Time{}, false, fmt.Errorf("resource id %q is not a uuid: %w", resourceID, err)
	}
	reported, err := ParseTimestamp(lastModified)
	if err != nil {
		return time.Time{}, false, err
	}
	return reported, l.NeedsUpdate(ctx, resourceID, reported), nil
}

// NeedsUpdate is true when the resource has never been processed or the
// stored timestamp is strictly before the reported one. Query failures
// count as up to date so that a flaky database does not republish everything
func (l *Log) NeedsUpdate(ctx context.Context, resourceID string, reported time.Time) bool {
	var stored time.Time
	err := l.db.QueryRow(ctx, selectWatermark, resourceID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	if err != nil {
		log.Errorf("Unable to read the watermark of resource %s: %v", resourceID, err)
		return false
	}
	return stored.Before(reported)
}

// RecordProcessed stores the watermark of a successfully published resource.
// Failures are logged only since the publish itself already succeeded
func (l *Log) RecordProcessed(ctx context.Context, resourceID string, lastModified time.Time) {
	if _, err := l.db.Exec(ctx, upsertWatermark, lastModified, resourceID); err != nil {
		log.Errorf("Unable to record the watermark of resource %s: %v", resourceID, err)
		return
	}
	log.Debugf("Recorded watermark %s for resource %s", lastModified.Format(TimestampLayout), resourceID)
}
