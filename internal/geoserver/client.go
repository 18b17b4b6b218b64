// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

// Package geoserver publishes local shapefiles and geotiffs through the geoserver rest api
package geoserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/internetofwater/ckansync/internal/config"
	"github.com/internetofwater/ckansync/internal/opentelemetry"
	log "github.com/sirupsen/logrus"
)

// Store types used in the rest api paths
const (
	DataStore     = "datastore"
	CoverageStore = "coveragestore"
)

// StatusError is returned when geoserver answers with an unexpected status
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("geoserver %s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Client talks to a single geoserver instance with basic auth
type Client struct {
	baseURL  string
	user     string
	password string
	http     *http.Client
}

func NewClient(cfg config.GeoServerConfig, client *http.Client) *Client {
	return &Client{
		baseURL:  strings.TrimSuffix(cfg.GeoServerURL, "/"),
		user:     cfg.GeoServerUser,
		password: cfg.GeoServerPassword,
		http:     client,
	}
}

// BaseURL is the root that published service urls are built from
func (c *Client) BaseURL() string {
	return c.baseURL
}

type response struct {
	status int
	header http.Header
	body   string
}

func (c *Client) do(ctx context.Context, method, requestURL, contentType string, body io.Reader, getBody func() (io.ReadCloser, error), size int64) (response, error) {
	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return response{}, err
	}
	if getBody != nil {
		req.GetBody = getBody
		req.ContentLength = size
	}
	req.SetBasicAuth(c.user, c.password)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	log.Infof("GeoServer request: %s %s", method, requestURL)
	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, err
	}
	log.Debugf("Got response from GeoServer: %d %s", resp.StatusCode, string(respBody))
	return response{status: resp.StatusCode, header: resp.Header, body: string(respBody)}, nil
}

func (c *Client) doString(ctx context.Context, method, requestURL, contentType, body string) (response, error) {
	if body == "" {
		return c.do(ctx, method, requestURL, contentType, nil, nil, 0)
	}
	getBody := func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}
	return c.do(ctx, method, requestURL, contentType, strings.NewReader(body), getBody, int64(len(body)))
}

// uploads a file from disk; the file is reopened if the request is retried
func (c *Client) doFile(ctx context.Context, method, requestURL, contentType, filePath string) (response, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return response{}, err
	}
	defer func() { _ = file.Close() }()
	info, err := file.Stat()
	if err != nil {
		return response{}, err
	}
	getBody := func() (io.ReadCloser, error) {
		return os.Open(filePath)
	}
	return c.do(ctx, method, requestURL, contentType, file, getBody, info.Size())
}

func statusError(method, requestURL string, resp response) error {
	return &StatusError{Method: method, URL: requestURL, StatusCode: resp.status, Body: resp.body}
}

func success(status int) bool {
	return status >= 200 && status < 300
}

func (c *Client) workspaceURL(workspace string, elements ...string) string {
	escaped := []string{c.baseURL, "rest", "workspaces", url.PathEscape(workspace)}
	for _, element := range elements {
		escaped = append(escaped, url.PathEscape(element))
	}
	return strings.Join(escaped, "/")
}

// CreateWorkspace creates the workspace; an existing workspace is not an error
func (c *Client) CreateWorkspace(ctx context.Context, name string) error {
	span, ctx := opentelemetry.SubSpanFromCtx(ctx)
	defer span.End()

	requestURL := c.baseURL + "/rest/workspaces"
	var body bytes.Buffer
	body.WriteString("<workspace><name>")
	if err := xmlEscape(&body, name); err != nil {
		return err
	}
	body.WriteString("</name></workspace>")

	resp, err := c.doString(ctx, http.MethodPost, requestURL, "text/xml", body.String())
	if err != nil {
		return err
	}
	switch {
	case success(resp.status):
		log.Infof("Created GeoServer workspace %s", name)
		return nil
	case resp.status == http.StatusConflict:
		log.Infof("GeoServer workspace %s already exists", name)
		return nil
	default:
		return statusError(http.MethodPost, requestURL, resp)
	}
}

// DeleteStore removes a store and every layer in it; a missing store is not an error
func (c *Client) DeleteStore(ctx context.Context, storeType, workspace, store string) error {
	span, ctx := opentelemetry.SubSpanFromCtx(ctx)
	defer span.End()

	requestURL := c.workspaceURL(workspace, storeType+"s", store) + "?recurse=true"
	resp, err := c.doString(ctx, http.MethodDelete, requestURL, "", "")
	if err != nil {
		return err
	}
	if success(resp.status) || resp.status == http.StatusNotFound {
		return nil
	}
	return statusError(http.MethodDelete, requestURL, resp)
}

// UploadShapefile creates a datastore from a zipped shapefile
func (c *Client) UploadShapefile(ctx context.Context, workspace, store, zipPath string) error {
	span, ctx := opentelemetry.SubSpanFromCtx(ctx)
	defer span.End()

	requestURL := c.workspaceURL(workspace, "datastores", store, "file.shp")
	resp, err := c.doFile(ctx, http.MethodPut, requestURL, "application/zip", zipPath)
	if err != nil {
		return err
	}
	if !success(resp.status) {
		return statusError(http.MethodPut, requestURL, resp)
	}
	return nil
}

// UploadGeoTIFF creates a coverage store from a geotiff
func (c *Client) UploadGeoTIFF(ctx context.Context, workspace, store, tiffPath string) error {
	span, ctx := opentelemetry.SubSpanFromCtx(ctx)
	defer span.End()

	requestURL := c.workspaceURL(workspace, "coveragestores", store, "file.geotiff")
	resp, err := c.doFile(ctx, http.MethodPut, requestURL, "image/tiff", tiffPath)
	if err != nil {
		return err
	}
	if !success(resp.status) {
		return statusError(http.MethodPut, requestURL, resp)
	}
	return nil
}

var existingStyle = regexp.MustCompile(`Style (.+?) already exists`)

// UploadStyle posts a zip containing an sld and returns the name geoserver gave the style.
// An empty name without an error means the zip had no usable style
func (c *Client) UploadStyle(ctx context.Context, zipPath string) (string, error) {
	span, ctx := opentelemetry.SubSpanFromCtx(ctx)
	defer span.End()

	requestURL := c.baseURL + "/rest/styles"
	resp, err := c.doFile(ctx, http.MethodPost, requestURL, "application/zip", zipPath)
	if err != nil {
		return "", err
	}

	if location := resp.header.Get("Location"); location != "" {
		name, err := url.PathUnescape(path.Base(location))
		if err != nil {
			return "", fmt.Errorf("unexpected style location %q: %w", location, err)
		}
		return strings.TrimSuffix(name, path.Ext(name)), nil
	}
	if resp.status == http.StatusForbidden || resp.status == http.StatusConflict {
		if match := existingStyle.FindStringSubmatch(resp.body); match != nil {
			log.Infof("GeoServer style %s already exists", match[1])
			return match[1], nil
		}
	}
	if !success(resp.status) {
		return "", statusError(http.MethodPost, requestURL, resp)
	}
	return "", nil
}

// SetDefaultStyle binds a style to a published layer. GeoServer expects the
// layer name to be escaped twice in this path
func (c *Client) SetDefaultStyle(ctx context.Context, workspace, layer, style string) error {
	span, ctx := opentelemetry.SubSpanFromCtx(ctx)
	defer span.End()

	requestURL := fmt.Sprintf("%s/rest/layers/%s:%s", c.baseURL, url.PathEscape(workspace), url.PathEscape(url.PathEscape(layer)))
	var body bytes.Buffer
	body.WriteString("<layer><defaultStyle><name>")
	if err := xmlEscape(&body, style); err != nil {
		return err
	}
	body.WriteString("</name></defaultStyle></layer>")

	log.Infof("Setting style %s for layer %s:%s", style, workspace, layer)
	resp, err := c.doString(ctx, http.MethodPut, requestURL, "text/xml", body.String())
	if err != nil {
		return err
	}
	if !success(resp.status) {
		return statusError(http.MethodPut, requestURL, resp)
	}
	return nil
}
