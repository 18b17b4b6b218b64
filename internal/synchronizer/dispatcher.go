// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package synchronizer

import (
	"cmp"
	"context"
	"fmt"
	"strings"

	"github.com/internetofwater/ckansync/internal/capabilities"
	"github.com/internetofwater/ckansync/internal/ckan"
	"github.com/internetofwater/ckansync/internal/config"
	"github.com/internetofwater/ckansync/internal/geoserver"
	"github.com/internetofwater/ckansync/internal/layers"
	"github.com/internetofwater/ckansync/internal/opentelemetry"
	log "github.com/sirupsen/logrus"
)

// CapabilitiesSource lists the layers of a map service
type CapabilitiesSource interface {
	LayerList(ctx context.Context, req capabilities.Request) (capabilities.LayerList, error)
}

// FilePublisher uploads local data files to geoserver
type FilePublisher interface {
	PublishShapefile(ctx context.Context, upload geoserver.Upload) (geoserver.Published, error)
	PublishGeoTIFF(ctx context.Context, upload geoserver.Upload) (geoserver.Published, error)
}

type LayerMaterializer interface {
	Materialize(ctx context.Context, list capabilities.LayerList, mc layers.MaterializeContext) (int, error)
}

// URLWriteback hands published service urls back to ckan
type URLWriteback interface {
	PatchResourceURLs(ctx context.Context, resourceURL, resourceID, wfsURL, wmsURL string)
}

// PublishResult is what Dispatch did with a resource
type PublishResult struct {
	// OutcomePublished or OutcomeUnsupported
	Outcome     string
	LayersAdded int
}

var unsupported = PublishResult{Outcome: opentelemetry.OutcomeUnsupported}

// versions used when a resource does not name one
var defaultVersions = map[string]string{
	capabilities.TypeWMS:  capabilities.DefaultWMSVersion,
	capabilities.TypeWMTS: capabilities.DefaultWMTSVersion,
	capabilities.TypeWFS:  capabilities.DefaultWFSVersion,
}

// Dispatcher routes a resource to the publisher for its format
type Dispatcher struct {
	services     map[string]CapabilitiesSource
	files        FilePublisher
	materializer LayerMaterializer
	writeback    URLWriteback
	layers       config.LayerConfig
}

func NewDispatcher(wms, wmts, wfs CapabilitiesSource, files FilePublisher, materializer LayerMaterializer, writeback URLWriteback, cfg config.LayerConfig) *Dispatcher {
	return &Dispatcher{
		services: map[string]CapabilitiesSource{
			capabilities.TypeWMS:  wms,
			capabilities.TypeWMTS: wmts,
			capabilities.TypeWFS:  wfs,
		},
		files:        files,
		materializer: materializer,
		writeback:    writeback,
		layers:       cfg,
	}
}

// LocalDataGroup is the layer group for files published into geoserver
func LocalDataGroup(organization ckan.Organization) string {
	title := organization.Title
	if title == "" {
		title = organization.DisplayName
	}
	if title == "" {
		title = organization.Name
	}
	return fmt.Sprintf("%s (local data)", title)
}

// Dispatch publishes a resource according to its format. Formats that
// can't be published are not an error and come back as unsupported
func (d *Dispatcher) Dispatch(ctx context.Context, resource ckan.Resource, organization ckan.Organization) (PublishResult, error) {
	switch strings.ToLower(resource.Format) {
	case "wms":
		return d.publishService(ctx, capabilities.TypeWMS, resource, organization)
	case "wmts":
		return d.publishService(ctx, capabilities.TypeWMTS, resource, organization)
	case "wfs":
		return d.publishService(ctx, capabilities.TypeWFS, resource, organization)
	case "shp":
		return d.publishShapefile(ctx, resource, organization)
	case "tif", "tiff":
		return d.publishGeoTIFF(ctx, resource, organization)
	case "esri rest":
		log.Infof("Esri REST resource %s is not supported yet, skipping", resource.UUID)
		return unsupported, nil
	default:
		log.Infof("No match for resource data format (%s).", resource.Format)
		return unsupported, nil
	}
}

func (d *Dispatcher) serviceContext(layerType string, resource ckan.Resource, organization ckan.Organization) layers.MaterializeContext {
	version := resource.Version
	if version == "" {
		version = defaultVersions[layerType]
	}
	return layers.MaterializeContext{
		LayerType:        layerType,
		URL:              resource.URL,
		Version:          version,
		User:             resource.Username,
		Password:         resource.Password,
		OrganizationName: organization.Name,
		Private:          resource.Private,
		CroppingColumn:   resource.CroppingColumn,
		// unnamed resources are filed under their dataset
		GroupFallback:    cmp.Or(resource.Name, resource.DatasetTitle),
		CurrentCRS:       d.layers.CurrentCRS,
	}
}

// fetches the capabilities described by mc and writes its layers
func (d *Dispatcher) materialize(ctx context.Context, mc layers.MaterializeContext) (int, error) {
	source, ok := d.services[mc.LayerType]
	if !ok || source == nil {
		return 0, fmt.Errorf("no capabilities source for %s", mc.LayerType)
	}
	log.Debugf("Getting %s capabilities from %s (version %s)", mc.LayerType, mc.URL, mc.Version)
	list, err := source.LayerList(ctx, capabilities.Request{
		URL:       mc.URL,
		User:      mc.User,
		Password:  mc.Password,
		Version:   mc.Version,
		TargetCRS: mc.CurrentCRS,
	})
	if err != nil {
		return 0, fmt.Errorf("getting %s capabilities from %s: %w", mc.LayerType, mc.URL, err)
	}
	return d.materializer.Materialize(ctx, list, mc)
}

func (d *Dispatcher) publishService(ctx context.Context, layerType string, resource ckan.Resource, organization ckan.Organization) (PublishResult, error) {
	added, err := d.materialize(ctx, d.serviceContext(layerType, resource, organization))
	if err != nil {
		return PublishResult{}, err
	}
	return PublishResult{Outcome: opentelemetry.OutcomePublished, LayersAdded: added}, nil
}

func upload(resource ckan.Resource, organization ckan.Organization) geoserver.Upload {
	return geoserver.Upload{
		ResourceID:       resource.UUID,
		URL:              resource.URL,
		ResourceName:     resource.Name,
		OrganizationName: organization.Name,
		Private:          resource.Private,
	}
}

// the layers of local data come from geoserver so the resource version does not apply
func (d *Dispatcher) localDataContext(layerType, serviceURL string, resource ckan.Resource, organization ckan.Organization) layers.MaterializeContext {
	mc := d.serviceContext(layerType, resource, organization)
	mc.URL = serviceURL
	mc.Version = defaultVersions[layerType]
	mc.GroupName = LocalDataGroup(organization)
	return mc
}

func (d *Dispatcher) publishShapefile(ctx context.Context, resource ckan.Resource, organization ckan.Organization) (PublishResult, error) {
	published, err := d.files.PublishShapefile(ctx, upload(resource, organization))
	if err != nil {
		return PublishResult{}, fmt.Errorf("publishing shapefile: %w", err)
	}

	result := PublishResult{Outcome: opentelemetry.OutcomePublished}
	wfsURL := ""
	if resource.PublishWFS {
		log.Debugf("Publishing uploaded shapefile %s also as a WFS layer", published.LayerName)
		mc := d.localDataContext(capabilities.TypeWFS, published.WFSURL, resource, organization)
		mc.TitleOverride = published.LayerName
		added, err := d.materialize(ctx, mc)
		if err != nil {
			return PublishResult{}, err
		}
		result.LayersAdded += added
		wfsURL = published.WFSURL
	}

	mc := d.localDataContext(capabilities.TypeWMS, published.WMSURL, resource, organization)
	mc.TitleOverride = published.LayerName
	mc.ForceProxy = d.layers.ShpForceProxy
	mc.CroppingColumn = ""
	added, err := d.materialize(ctx, mc)
	if err != nil {
		return PublishResult{}, err
	}
	result.LayersAdded += added

	d.writeback.PatchResourceURLs(ctx, resource.URL, resource.UUID, wfsURL, published.WMSURL)
	return result, nil
}

func (d *Dispatcher) publishGeoTIFF(ctx context.Context, resource ckan.Resource, organization ckan.Organization) (PublishResult, error) {
	published, err := d.files.PublishGeoTIFF(ctx, upload(resource, organization))
	if err != nil {
		return PublishResult{}, fmt.Errorf("publishing geotiff: %w", err)
	}

	mc := d.localDataContext(capabilities.TypeWMS, published.WMSURL, resource, organization)
	mc.ForceProxy = d.layers.GeoTIFFForceProxy
	mc.CroppingColumn = ""
	added, err := d.materialize(ctx, mc)
	if err != nil {
		return PublishResult{}, err
	}

	d.writeback.PatchResourceURLs(ctx, resource.URL, resource.UUID, "", published.WMSURL)
	return PublishResult{Outcome: opentelemetry.OutcomePublished, LayersAdded: added}, nil
}
