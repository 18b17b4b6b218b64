// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package geoserver

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/internetofwater/ckansync/internal/config"
	log "github.com/sirupsen/logrus"
)

// Upload describes a ckan resource file to publish
type Upload struct {
	ResourceID       string
	URL              string
	ResourceName     string
	OrganizationName string
	Private          bool
}

// Published is where an upload ended up in geoserver
type Published struct {
	Workspace string
	Store     string
	// name of the shapefile inside the uploaded zip; empty for geotiffs
	LayerName string
	WMSURL    string
	// empty for geotiffs
	WFSURL string
}

// Publisher runs the download and upload steps for local data formats
type Publisher struct {
	client  *Client
	fetcher *Fetcher
	layers  config.LayerConfig
}

func NewPublisher(client *Client, fetcher *Fetcher, layers config.LayerConfig) *Publisher {
	return &Publisher{client: client, fetcher: fetcher, layers: layers}
}

// PublishShapefile uploads a zipped shapefile into its own datastore and styles it
// with any sld shipped in the same zip
func (p *Publisher) PublishShapefile(ctx context.Context, upload Upload) (Published, error) {
	store := StoreName(upload.ResourceName, DefaultShapefileStore)
	workspace := WorkspaceName(upload.OrganizationName, store, p.layers.ShpResourceWorkspaces)

	if err := p.client.CreateWorkspace(ctx, workspace); err != nil {
		return Published{}, fmt.Errorf("creating workspace %s: %w", workspace, err)
	}

	zipPath, err := p.fetcher.Fetch(ctx, upload.ResourceID, upload.URL, upload.Private)
	if err != nil {
		return Published{}, err
	}
	defer p.fetcher.Cleanup(ctx, upload.ResourceID)

	if p.layers.ShpRemoveSpaces {
		renamed := strings.TrimSuffix(zipPath, filepath.Ext(zipPath)) + "_renamed.zip"
		if err := RenameEntries(zipPath, renamed, " ", "_"); err != nil {
			return Published{}, err
		}
		zipPath = renamed
	}
	layerName, err := ShapefileName(zipPath)
	if err != nil {
		return Published{}, err
	}

	if err := p.client.DeleteStore(ctx, DataStore, workspace, store); err != nil {
		return Published{}, fmt.Errorf("deleting datastore %s: %w", store, err)
	}
	if err := p.client.UploadShapefile(ctx, workspace, store, zipPath); err != nil {
		return Published{}, fmt.Errorf("uploading shapefile: %w", err)
	}
	p.applyStyle(ctx, workspace, layerName, zipPath)

	return Published{
		Workspace: workspace,
		Store:     store,
		LayerName: layerName,
		WMSURL:    p.client.WMSURL(workspace),
		WFSURL:    p.client.WFSURL(workspace),
	}, nil
}

// the layer is usable with the default style so a failed style is only logged
func (p *Publisher) applyStyle(ctx context.Context, workspace, layerName, zipPath string) {
	style, err := p.client.UploadStyle(ctx, zipPath)
	if err != nil {
		log.Warnf("Could not upload style for layer %s:%s: %v", workspace, layerName, err)
		return
	}
	if style == "" {
		log.Debugf("No style found for layer %s:%s", workspace, layerName)
		return
	}
	if err := p.client.SetDefaultStyle(ctx, workspace, layerName, style); err != nil {
		log.Warnf("Could not set style %s for layer %s:%s: %v", style, workspace, layerName, err)
	}
}

// PublishGeoTIFF uploads a geotiff into its own coverage store
func (p *Publisher) PublishGeoTIFF(ctx context.Context, upload Upload) (Published, error) {
	store := StoreName(upload.ResourceName, DefaultGeoTIFFStore)
	workspace := WorkspaceName(upload.OrganizationName, store, p.layers.GeoTIFFResourceWorkspaces)

	if err := p.client.CreateWorkspace(ctx, workspace); err != nil {
		return Published{}, fmt.Errorf("creating workspace %s: %w", workspace, err)
	}

	tiffPath, err := p.fetcher.Fetch(ctx, upload.ResourceID, upload.URL, upload.Private)
	if err != nil {
		return Published{}, err
	}
	defer p.fetcher.Cleanup(ctx, upload.ResourceID)

	if err := p.client.DeleteStore(ctx, CoverageStore, workspace, store); err != nil {
		return Published{}, fmt.Errorf("deleting coverage store %s: %w", store, err)
	}
	if err := p.client.UploadGeoTIFF(ctx, workspace, store, tiffPath); err != nil {
		return Published{}, fmt.Errorf("uploading geotiff: %w", err)
	}

	return Published{
		Workspace: workspace,
		Store:     store,
		WMSURL:    p.client.OWSWMSURL(workspace),
	}, nil
}
