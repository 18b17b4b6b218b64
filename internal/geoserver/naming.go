// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package geoserver

import (
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
)

// Store names used when a resource has no name
const (
	DefaultShapefileStore = "shp_store"
	DefaultGeoTIFFStore   = "geotiff_store"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// Sanitize collapses every run of characters geoserver would reject into an underscore
func Sanitize(name string) string {
	return nonAlphanumeric.ReplaceAllString(name, "_")
}

// StoreName is the sanitized resource name or the fallback
func StoreName(resourceName, fallback string) string {
	if resourceName == "" {
		return fallback
	}
	return Sanitize(resourceName)
}

// WorkspaceName is the sanitized organization name, suffixed
// with the store when every resource gets its own workspace
func WorkspaceName(organizationName, store string, perResource bool) string {
	workspace := Sanitize(organizationName)
	if perResource {
		return fmt.Sprintf("%s_%s", workspace, store)
	}
	return workspace
}

// Service urls of a published workspace
func (c *Client) WMSURL(workspace string) string {
	return fmt.Sprintf("%s/%s/wms", c.baseURL, workspace)
}

func (c *Client) WFSURL(workspace string) string {
	return fmt.Sprintf("%s/%s/wfs", c.baseURL, workspace)
}

func (c *Client) OWSWMSURL(workspace string) string {
	return fmt.Sprintf("%s/%s/ows?service=WMS", c.baseURL, workspace)
}

func xmlEscape(w io.Writer, s string) error {
	return xml.EscapeText(w, []byte(s))
}
