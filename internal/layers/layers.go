// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

// Package layers turns capabilities layer lists into oskari map layers
package layers

import (
	"context"
	"fmt"

	"github.com/internetofwater/ckansync/internal/capabilities"
	"github.com/internetofwater/ckansync/internal/config"
	"github.com/internetofwater/ckansync/internal/oskari"
	log "github.com/sirupsen/logrus"
)

// Group used when neither the service nor the resource has a name
const MiscGroupName = "Misc Layers"

// Catalog is where materialized layers are written
type Catalog interface {
	FindOrCreateDataProvider(ctx context.Context, name string, locale oskari.Locale) (int64, error)
	FindOrCreateGroup(ctx context.Context, name string, locale oskari.Locale) (int64, error)
	AddLayers(ctx context.Context, layers []oskari.Layer, providerID, groupID int64) (int, error)
}

// MaterializeContext carries everything about the resource the layers come from
type MaterializeContext struct {
	LayerType string
	URL       string
	Version   string
	User      string
	Password  string
	// the organization role that gets permissions on the layers
	OrganizationName string
	Private          bool
	// replaces every layer title when set
	TitleOverride  string
	ForceProxy     bool
	CroppingColumn string
	// fixed group name; takes precedence over the capabilities title
	GroupName string
	// group name used when the capabilities have no title
	GroupFallback string
	CurrentCRS    string
}

type Materializer struct {
	catalog        Catalog
	forcedSRS      []string
	defaultLocales bool
}

func NewMaterializer(catalog Catalog, cfg config.LayerConfig) *Materializer {
	return &Materializer{
		catalog:        catalog,
		forcedSRS:      cfg.ForcedSRSList(),
		defaultLocales: cfg.DefaultLocales,
	}
}

func (m *Materializer) locale(name string) oskari.Locale {
	if m.defaultLocales {
		return oskari.DefaultLocale(name)
	}
	return oskari.IDPLocale(name)
}

// GroupName picks the main group a layer list is filed under
func GroupName(list capabilities.LayerList, mc MaterializeContext) string {
	switch {
	case mc.GroupName != "":
		return mc.GroupName
	case list.Title != "":
		return list.Title
	case mc.GroupFallback != "":
		return mc.GroupFallback
	default:
		return MiscGroupName
	}
}

// PermissionsFor grants everything to Admin and, unless the resource is private,
// to the role of the owning organization
func PermissionsFor(organizationRole string, private bool) oskari.Permissions {
	permissions := oskari.Permissions{oskari.RoleAdmin: oskari.AllPermissions}
	if !private && organizationRole != "" {
		permissions[organizationRole] = oskari.AllPermissions
	}
	return permissions
}

// Attributes builds the layer attribute bag. Cropping only applies to wfs layers
// and always goes through the proxy
func Attributes(forcedSRS []string, forceProxy bool, croppingColumn, layerType string) map[string]any {
	attributes := map[string]any{}
	if len(forcedSRS) > 0 {
		attributes["forcedSRS"] = forcedSRS
	}
	if forceProxy {
		attributes["forceProxy"] = true
	}
	if croppingColumn != "" && layerType == capabilities.TypeWFS {
		attributes["forceProxy"] = true
		attributes["cropping"] = true
		attributes["geometryColumn"] = "STRING"
		attributes["unique"] = croppingColumn
		attributes["geometry"] = "GEOM"
	}
	return attributes
}

// the capabilities stored with each layer: the projections it supports and its coverage
func layerCapabilities(layer capabilities.LayerInfo) map[string]any {
	result := map[string]any{}
	if len(layer.CRS) > 0 {
		result["srs"] = layer.CRS
	}
	if layer.BBox != nil {
		wkt, err := layer.BBox.WKT()
		if err != nil {
			log.Warnf("Ignoring coverage of layer %s: %v", layer.LayerName, err)
		} else {
			result["geom"] = wkt
		}
	}
	return result
}

// Materialize writes every layer of the list into the main group for the resource
// and returns how many were new
func (m *Materializer) Materialize(ctx context.Context, list capabilities.LayerList, mc MaterializeContext) (int, error) {
	if len(list.Layers) == 0 {
		log.Infof("No layers found in %s", mc.URL)
		return 0, nil
	}

	groupName := GroupName(list, mc)
	groupLocale := m.locale(groupName)
	providerID, err := m.catalog.FindOrCreateDataProvider(ctx, groupName, groupLocale)
	if err != nil {
		return 0, fmt.Errorf("data provider %q: %w", groupName, err)
	}
	groupID, err := m.catalog.FindOrCreateGroup(ctx, groupName, groupLocale)
	if err != nil {
		return 0, fmt.Errorf("layer group %q: %w", groupName, err)
	}

	permissions := PermissionsFor(mc.OrganizationName, mc.Private)
	attributes := Attributes(m.forcedSRS, mc.ForceProxy, mc.CroppingColumn, mc.LayerType)

	toAdd := make([]oskari.Layer, 0, len(list.Layers))
	for _, info := range list.Layers {
		title := info.Title
		if mc.TitleOverride != "" {
			title = mc.TitleOverride
		}
		toAdd = append(toAdd, oskari.Layer{
			Type:         mc.LayerType,
			URL:          mc.URL,
			Name:         info.LayerName,
			Version:      mc.Version,
			Username:     mc.User,
			Password:     mc.Password,
			SRSName:      mc.CurrentCRS,
			Locale:       m.locale(title),
			Attributes:   attributes,
			Capabilities: layerCapabilities(info),
			Permissions:  permissions,
		})
	}

	added, err := m.catalog.AddLayers(ctx, toAdd, providerID, groupID)
	if err != nil {
		return 0, err
	}
	log.Debugf("Added %d layer(s) from %s to group %s", added, mc.URL, groupName)
	return added, nil
}
