// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// The top level config for all sync operations
type SyncConfig struct {
	OskariDB    DatabaseConfig
	CkanDB      DatabaseConfig
	Dumps       DumpConfig
	Ckan        CkanConfig
	GeoServer   GeoServerConfig
	Layers      LayerConfig
	Report      MinioConfig
	ScratchDir  string
	Workers     int
	Truncate    bool
	HTTPTimeout time.Duration
}

// Connection settings for a postgres database
type DatabaseConfig struct {
	URL      string
	User     string
	Password string
}

// DSN merges the user and password into the connection url
// when they are not already part of it
func (d DatabaseConfig) DSN() (string, error) {
	if d.URL == "" {
		return "", fmt.Errorf("database url is empty")
	}
	u, err := url.Parse(d.URL)
	if err != nil {
		return "", fmt.Errorf("invalid database url: %w", err)
	}
	// jdbc style urls are accepted for compatibility with existing properties files
	if u.Scheme == "jdbc" {
		return DatabaseConfig{URL: strings.TrimPrefix(d.URL, "jdbc:"), User: d.User, Password: d.Password}.DSN()
	}
	if u.Scheme == "postgresql" {
		u.Scheme = "postgres"
	}
	if u.User == nil && d.User != "" {
		u.User = url.UserPassword(d.User, d.Password)
	}
	return u.String(), nil
}

// The config for the oskari target database
type OskariDBConfig struct {
	OskariDBURL      string `arg:"--oskari-db-url,env:OSKARI_DB_URL" help:"connection url of the oskari database" default:"postgres://localhost:5432/oskaridb?sslmode=disable"`
	OskariDBUser     string `arg:"--oskari-db-user,env:OSKARI_DB_USER" help:"user for the oskari database" default:"oskari"`
	OskariDBPassword string `arg:"--oskari-db-password,env:OSKARI_DB_PASSWORD" help:"password for the oskari database" default:"oskari"`
}

func (o OskariDBConfig) ToDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{URL: o.OskariDBURL, User: o.OskariDBUser, Password: o.OskariDBPassword}
}

// The config for the ckan source database; only needed
// when harvesting through the ckan api since the api does not expose password hashes
type CkanDBConfig struct {
	CkanDBURL      string `arg:"--ckan-db-url,env:CKAN_DB_URL" help:"connection url of the ckan database"`
	CkanDBUser     string `arg:"--ckan-db-user,env:CKAN_DB_USER" help:"user for the ckan database"`
	CkanDBPassword string `arg:"--ckan-db-password,env:CKAN_DB_PASSWORD" help:"password for the ckan database"`
}

func (c CkanDBConfig) ToDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{URL: c.CkanDBURL, User: c.CkanDBUser, Password: c.CkanDBPassword}
}

// Paths to the jsonl dumps exported from ckan
type DumpConfig struct {
	OrganizationsDump    string `arg:"--organizations-dump" help:"path to the ckan organizations jsonl dump" default:"/tmp/ckanorgsdump.jsonl"`
	UsersDump            string `arg:"--users-dump" help:"path to the ckan users jsonl dump" default:"/tmp/ckanusersdump.jsonl"`
	DatasetsDump         string `arg:"--datasets-dump" help:"path to the ckan datasets jsonl dump" default:"/tmp/ckandatasetsdump.jsonl"`
	SecondaryDatasetDump string `arg:"--secondary-datasets-dump" help:"path to an optional second datasets jsonl dump"`
}

// Settings for talking to the ckan instance itself
type CkanConfig struct {
	CkanURL    string `arg:"--ckan-url,env:CKAN_URL" help:"base url of ckan; when set, records are read from the action api instead of dumps"`
	CkanAPIKey string `arg:"--ckan-api-key,env:CKAN_API_KEY" help:"sysadmin api key used for private downloads and url writeback"`
}

// The config for geoserver rest operations
type GeoServerConfig struct {
	GeoServerURL      string `arg:"--geoserver-url,env:GEOSERVER_URL" help:"base url of geoserver" default:"http://localhost:8080/geoserver"`
	GeoServerUser     string `arg:"--geoserver-user,env:GEOSERVER_USER" help:"geoserver admin user" default:"admin"`
	GeoServerPassword string `arg:"--geoserver-password,env:GEOSERVER_PASSWORD" help:"geoserver admin password" default:"geoserver"`
}

// Settings that affect how layers are built
type LayerConfig struct {
	ForcedSRS                 string `arg:"--forced-srs" help:"comma separated list of projections forced on every layer" default:"EPSG:3857"`
	CurrentCRS                string `arg:"--current-crs" help:"projection of the oskari map" default:"EPSG:3067"`
	ShpForceProxy             bool   `arg:"--shp-force-proxy" help:"force proxying for layers published from shapefiles"`
	GeoTIFFForceProxy         bool   `arg:"--geotiff-force-proxy" help:"force proxying for layers published from geotiffs"`
	ShpResourceWorkspaces     bool   `arg:"--shp-resource-workspaces" help:"publish every shapefile into its own workspace" default:"true"`
	GeoTIFFResourceWorkspaces bool   `arg:"--geotiff-resource-workspaces" help:"publish every geotiff into its own workspace"`
	ShpRemoveSpaces           bool   `arg:"--shp-remove-spaces" help:"replace spaces in shapefile zip entries with underscores"`
	DefaultLocales            bool   `arg:"--default-locales" help:"use fi/en/sv layer locales instead of the in/en locales"`
}

// ForcedSRSList splits the forced srs option into its projections
func (l LayerConfig) ForcedSRSList() []string {
	var result []string
	for _, srs := range strings.Split(l.ForcedSRS, ",") {
		srs = strings.TrimSpace(srs)
		if srs != "" {
			result = append(result, srs)
		}
	}
	return result
}

// The config for minio/s3 operations; used for storing sync reports
type MinioConfig struct {
	Address   string `arg:"--report-address" help:"The address of the s3 server used for sync reports" default:"127.0.0.1"`
	Port      int    `arg:"--report-port" default:"9000"`
	Accesskey string `arg:"--s3-access-key,env:S3_ACCESS_KEY" help:"Access Key (i.e. username)" default:"minioadmin"`
	Secretkey string `arg:"--s3-secret-key,env:S3_SECRET_KEY" help:"Secret Key (i.e. password)" default:"minioadmin"`
	Bucket    string `arg:"--report-bucket" help:"The s3 bucket for sync reports; reports are kept on local disk when empty"`
	Region    string `arg:"--report-region" help:"region for the s3 server"`
	SSL       bool   `arg:"--report-ssl" help:"Use SSL when connecting to s3"`
}
