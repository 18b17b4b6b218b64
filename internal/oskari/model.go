// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

// Package oskari reads and writes the oskari map layer catalog
package oskari

import (
	"encoding/json"
	"maps"
	"slices"
)

// Roles oskari ships with; they are never removed by a sync
const (
	RoleAdmin = "Admin"
	RoleUser  = "User"
	RoleGuest = "Guest"
)

// Permissions granted on published layers
const (
	PermissionPublish          = "PUBLISH"
	PermissionViewLayer        = "VIEW_LAYER"
	PermissionViewPublished    = "VIEW_PUBLISHED"
	PermissionDownload         = "DOWNLOAD"
	PermissionEditLayerContent = "EDIT_LAYER_CONTENT"
)

// every permission a layer can have, in the order they are written
var AllPermissions = []string{
	PermissionPublish,
	PermissionViewLayer,
	PermissionViewPublished,
	PermissionDownload,
	PermissionEditLayerContent,
}

// Locale maps a language code to the localized fields of a row
type Locale map[string]map[string]string

// IDPLocale is the locale shape used by the ckan portal
func IDPLocale(name string) Locale {
	return Locale{"in": {"name": name}, "en": {"name": name}}
}

// DefaultLocale is the locale shape oskari uses out of the box
func DefaultLocale(name string) Locale {
	return Locale{"fi": {"name": name}, "en": {"name": name}, "sv": {"name": name}}
}

func (l Locale) JSON() (string, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Permissions maps a role name to the permissions it holds on a layer
type Permissions map[string][]string

// Roles returns the role names in a stable order
func (p Permissions) Roles() []string {
	return slices.Sorted(maps.Keys(p))
}

// Layer is a map layer row together with the rows that hang off it
type Layer struct {
	Type     string
	URL      string
	Name     string
	Version  string
	Username string
	Password string
	// projection the map is shown in
	SRSName      string
	Locale       Locale
	Attributes   map[string]any
	Capabilities map[string]any
	Permissions  Permissions
}
