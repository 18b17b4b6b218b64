// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package oskari

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"
)

// DB is satisfied by pgxpool.Pool and pgxmock
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Kinds of named catalog rows tracked in oskari_ckan_catalog_ref
const (
	KindDataProvider = "dataprovider"
	KindGroup        = "group"
)

const (
	insertRef = `INSERT INTO oskari_ckan_catalog_ref (kind, name) VALUES ($1, $2) ON CONFLICT (kind, name) DO NOTHING`
	lockRef   = `SELECT ref_id FROM oskari_ckan_catalog_ref WHERE kind = $1 AND name = $2 FOR UPDATE`
	updateRef = `UPDATE oskari_ckan_catalog_ref SET ref_id = $1 WHERE kind = $2 AND name = $3`

	selectProviderByName = `SELECT id FROM oskari_dataprovider WHERE (locale::jsonb -> 'en' ->> 'name') = $1 ORDER BY id LIMIT 1`
	insertProvider       = `INSERT INTO oskari_dataprovider (locale) VALUES ($1) RETURNING id`
	selectGroupByName    = `SELECT id FROM oskari_maplayer_group WHERE (locale::jsonb -> 'en' ->> 'name') = $1 ORDER BY id LIMIT 1`
	insertGroup          = `INSERT INTO oskari_maplayer_group (parentid, locale, selectable) VALUES (-1, $1, true) RETURNING id`

	// held until commit so concurrent workers cannot insert the same layer twice
	lockLayer   = `SELECT pg_advisory_xact_lock(hashtext($1 || ' ' || $2 || ' ' || $3))`
	selectLayer = `SELECT id FROM oskari_maplayer WHERE type = $1 AND url = $2 AND name = $3 LIMIT 1`
	insertLayer = `INSERT INTO oskari_maplayer (type, url, name, dataprovider_id, locale, srs_name, version, username, password, attributes, capabilities, updated)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now()) RETURNING id`
	insertGroupLink = `INSERT INTO oskari_maplayer_group_link (maplayerid, groupid) VALUES ($1, $2)`
	upsertResource  = `INSERT INTO oskari_resource (resource_type, resource_mapping) VALUES ('maplayer', $1)
ON CONFLICT (resource_type, resource_mapping) DO UPDATE SET resource_type = EXCLUDED.resource_type RETURNING id`
	selectRole       = `SELECT id FROM oskari_roles WHERE name = $1`
	insertPermission = `INSERT INTO oskari_permission (oskari_resource_id, external_type, permission, external_id) VALUES ($1, 'ROLE', $2, $3)`
)

// Catalog writes data providers, layer groups and layers
type Catalog struct {
	db DB
}

func NewCatalog(db DB) *Catalog {
	return &Catalog{db: db}
}

// FindOrCreateDataProvider returns the provider named after the group, creating it once
func (c *Catalog) FindOrCreateDataProvider(ctx context.Context, name string, locale Locale) (int64, error) {
	return c.findOrCreate(ctx, KindDataProvider, name, selectProviderByName, insertProvider, locale)
}

// FindOrCreateGroup returns the main layer group with the name, creating it once
func (c *Catalog) FindOrCreateGroup(ctx context.Context, name string, locale Locale) (int64, error) {
	return c.findOrCreate(ctx, KindGroup, name, selectGroupByName, insertGroup, locale)
}

// findOrCreate holds a row lock on the (kind, name) reference while looking
// up or creating the row, so concurrent callers always agree on one id
func (c *Catalog) findOrCreate(ctx context.Context, kind, name, selectByName, insert string, locale Locale) (id int64, err error) {
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, insertRef, kind, name); err != nil {
		return 0, fmt.Errorf("reserving %s %q: %w", kind, name, err)
	}
	var refID *int64
	if err = tx.QueryRow(ctx, lockRef, kind, name).Scan(&refID); err != nil {
		return 0, fmt.Errorf("locking %s %q: %w", kind, name, err)
	}
	if refID != nil {
		return *refID, tx.Commit(ctx)
	}

	// rows created before this integration kept track of them are adopted by name
	err = tx.QueryRow(ctx, selectByName, name).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		localeJSON, jsonErr := locale.JSON()
		if jsonErr != nil {
			return 0, jsonErr
		}
		if err = tx.QueryRow(ctx, insert, localeJSON).Scan(&id); err != nil {
			return 0, fmt.Errorf("creating %s %q: %w", kind, name, err)
		}
		log.Infof("Created %s %q with id %d", kind, name, id)
	case err != nil:
		return 0, fmt.Errorf("finding %s %q: %w", kind, name, err)
	}

	if _, err = tx.Exec(ctx, updateRef, id, kind, name); err != nil {
		return 0, err
	}
	return id, tx.Commit(ctx)
}

// AddLayers inserts the layers into the group in a single transaction.
// Layers that already exist with the same type, url and name are skipped;
// the number of layers actually inserted is returned.
// Layers are locked in (type, url, name) order so overlapping batches cannot deadlock
func (c *Catalog) AddLayers(ctx context.Context, layers []Layer, providerID, groupID int64) (added int, err error) {
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	roleIDs := map[string]*int64{}
	for _, layer := range slices.SortedStableFunc(slices.Values(layers), compareLayerKeys) {
		inserted, err := c.addLayer(ctx, tx, layer, providerID, groupID, roleIDs)
		if err != nil {
			return 0, fmt.Errorf("adding layer %s from %s: %w", layer.Name, layer.URL, err)
		}
		if inserted {
			added++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return added, nil
}

func compareLayerKeys(a, b Layer) int {
	return cmp.Or(
		strings.Compare(a.Type, b.Type),
		strings.Compare(a.URL, b.URL),
		strings.Compare(a.Name, b.Name),
	)
}

func (c *Catalog) addLayer(ctx context.Context, tx pgx.Tx, layer Layer, providerID, groupID int64, roleIDs map[string]*int64) (bool, error) {
	if _, err := tx.Exec(ctx, lockLayer, layer.Type, layer.URL, layer.Name); err != nil {
		return false, err
	}
	var existing int64
	err := tx.QueryRow(ctx, selectLayer, layer.Type, layer.URL, layer.Name).Scan(&existing)
	if err == nil {
		log.Debugf("Layer %s from %s already exists with id %d", layer.Name, layer.URL, existing)
		return false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}

	locale, err := layer.Locale.JSON()
	if err != nil {
		return false, err
	}
	attributes, err := json.Marshal(layer.Attributes)
	if err != nil {
		return false, err
	}
	capabilities, err := json.Marshal(layer.Capabilities)
	if err != nil {
		return false, err
	}

	var layerID int64
	err = tx.QueryRow(ctx, insertLayer,
		layer.Type, layer.URL, layer.Name, providerID, locale, layer.SRSName, layer.Version,
		layer.Username, layer.Password, string(attributes), string(capabilities),
	).Scan(&layerID)
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, insertGroupLink, layerID, groupID); err != nil {
		return false, err
	}

	var resourceID int64
	if err := tx.QueryRow(ctx, upsertResource, strconv.FormatInt(layerID, 10)).Scan(&resourceID); err != nil {
		return false, err
	}
	for _, role := range layer.Permissions.Roles() {
		roleID, err := lookupRole(ctx, tx, role, roleIDs)
		if err != nil {
			return false, err
		}
		if roleID == nil {
			log.Warnf("Role %s does not exist, layer %s gets no permissions for it", role, layer.Name)
			continue
		}
		for _, permission := range layer.Permissions[role] {
			if _, err := tx.Exec(ctx, insertPermission, resourceID, permission, strconv.FormatInt(*roleID, 10)); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

// roles are looked up once per transaction; a missing role is cached as nil
func lookupRole(ctx context.Context, tx pgx.Tx, role string, cache map[string]*int64) (*int64, error) {
	if id, ok := cache[role]; ok {
		return id, nil
	}
	var id int64
	err := tx.QueryRow(ctx, selectRole, role).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		cache[role] = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cache[role] = &id
	return &id, nil
}
