// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/internetofwater/ckansync/internal/accounts"
	"github.com/internetofwater/ckansync/internal/capabilities"
	"github.com/internetofwater/ckansync/internal/ckan"
	"github.com/internetofwater/ckansync/internal/common"
	"github.com/internetofwater/ckansync/internal/config"
	"github.com/internetofwater/ckansync/internal/database"
	"github.com/internetofwater/ckansync/internal/geoserver"
	"github.com/internetofwater/ckansync/internal/layers"
	"github.com/internetofwater/ckansync/internal/oskari"
	"github.com/internetofwater/ckansync/internal/resourcelog"
	"github.com/internetofwater/ckansync/internal/storage"
	"github.com/internetofwater/ckansync/internal/synchronizer"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// Services holds everything a sync run needs, built from a single config
type Services struct {
	Orchestrator *synchronizer.Orchestrator
	Accounts     *accounts.Store
	Reports      storage.Storage

	oskariDB *pgxpool.Pool
	ckanDB   *pgxpool.Pool
	scratch  *storage.LocalFS
}

// reportStorage keeps reports in minio when a bucket is configured and on local disk otherwise
func reportStorage(ctx context.Context, cfg config.SyncConfig) (storage.Storage, error) {
	if cfg.Report.Bucket == "" {
		local, err := storage.NewLocalTempFS(cfg.ScratchDir)
		if err != nil {
			return nil, err
		}
		log.Infof("Sync reports are written to %s", local.Path(""))
		return local, nil
	}
	minioStorage, err := storage.NewMinioStorage(cfg.Report)
	if err != nil {
		return nil, err
	}
	if err := minioStorage.MakeDefaultBucket(ctx); err != nil {
		return nil, err
	}
	return minioStorage, nil
}

// recordSource reads from the ckan api when a ckan url is set and from the dumps otherwise
func (s *Services) recordSource(ctx context.Context, cfg config.SyncConfig, client *http.Client) (ckan.Source, error) {
	if cfg.Ckan.CkanURL == "" {
		return ckan.DumpSource{Paths: cfg.Dumps}, nil
	}
	var passwords ckan.Querier
	if cfg.CkanDB.URL != "" {
		pool, err := database.Connect(ctx, cfg.CkanDB)
		if err != nil {
			return nil, fmt.Errorf("connecting to the ckan database: %w", err)
		}
		s.ckanDB = pool
		passwords = pool
	} else {
		log.Warn("No ckan database configured; users read from the api keep their existing passwords")
	}
	return ckan.NewAPISource(client, cfg.Ckan.CkanURL, cfg.Ckan.CkanAPIKey, passwords), nil
}

// NewServices migrates the oskari database and wires every component together
func NewServices(ctx context.Context, cfg config.SyncConfig, client *http.Client) (services *Services, err error) {
	if client == nil {
		client = common.NewSyncClient(cfg.HTTPTimeout)
	}

	if err := database.Migrate(cfg.OskariDB); err != nil {
		return nil, err
	}

	services = &Services{}
	defer func() {
		if err != nil {
			services.Close()
		}
	}()

	services.oskariDB, err = database.Connect(ctx, cfg.OskariDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to the oskari database: %w", err)
	}
	source, err := services.recordSource(ctx, cfg, client)
	if err != nil {
		return nil, err
	}
	services.scratch, err = storage.NewLocalTempFS(cfg.ScratchDir)
	if err != nil {
		return nil, err
	}
	services.Reports, err = reportStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	cache := capabilities.NewPostgresCache(services.oskariDB)
	geoserverClient := geoserver.NewClient(cfg.GeoServer, client)
	fetcher := geoserver.NewFetcher(common.NewRetryableHTTPClient(), services.scratch, cfg.Ckan.CkanAPIKey)

	dispatcher := synchronizer.NewDispatcher(
		capabilities.NewWMSFetcher(client),
		capabilities.NewWMTSFetcher(client, cache),
		capabilities.NewWFSFetcher(client),
		geoserver.NewPublisher(geoserverClient, fetcher, cfg.Layers),
		layers.NewMaterializer(oskari.NewCatalog(services.oskariDB), cfg.Layers),
		ckan.NewWriteback(client, cfg.Ckan.CkanAPIKey, cfg.Ckan.CkanURL),
		cfg.Layers,
	)

	services.Accounts = accounts.NewStore(services.oskariDB)
	services.Orchestrator = synchronizer.NewOrchestrator(
		source,
		resourcelog.New(services.oskariDB),
		dispatcher,
		cache,
		services.Accounts,
		services.Reports,
		synchronizer.Options{Workers: cfg.Workers, Truncate: cfg.Truncate},
	)
	return services, nil
}

// Close releases connections and removes downloaded files
func (s *Services) Close() {
	if s.scratch != nil {
		if err := s.scratch.Close(); err != nil {
			log.Warnf("Could not remove scratch dir: %v", err)
		}
	}
	if s.ckanDB != nil {
		s.ckanDB.Close()
	}
	if s.oskariDB != nil {
		s.oskariDB.Close()
	}
}
