// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package geoserver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/internetofwater/ckansync/internal/common"
	"github.com/internetofwater/ckansync/internal/opentelemetry"
	"github.com/internetofwater/ckansync/internal/storage"
	log "github.com/sirupsen/logrus"
)

// Fetcher downloads resource files into scratch storage before they are uploaded
type Fetcher struct {
	client  *http.Client
	scratch *storage.LocalFS
	// sent for private resources so ckan allows the download
	apiKey string
}

func NewFetcher(client *http.Client, scratch *storage.LocalFS, apiKey string) *Fetcher {
	return &Fetcher{client: client, scratch: scratch, apiKey: apiKey}
}

// Fetch downloads the file and returns its path on disk. Each resource gets
// its own directory so concurrent downloads of equally named files don't collide
func (f *Fetcher) Fetch(ctx context.Context, resourceID, fileURL string, private bool) (string, error) {
	span, ctx := opentelemetry.SubSpanFromCtx(ctx)
	defer span.End()

	parsed, err := url.Parse(fileURL)
	if err != nil {
		return "", err
	}
	filename := path.Base(parsed.Path)
	if filename == "/" || filename == "." {
		return "", fmt.Errorf("no file name in %s", fileURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", err
	}
	if private && f.apiKey != "" {
		req.Header.Set("X-CKAN-API-Key", f.apiKey)
	}

	log.Infof("Getting file from: %s", fileURL)
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download of %s returned status %d", fileURL, resp.StatusCode)
	}

	destPath := f.scratch.Path(path.Join(resourceID, filename))
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return "", err
	}
	dest, err := os.Create(destPath)
	if err != nil {
		return "", err
	}
	download, err := common.SaveDownload(dest, resp.Body)
	if closeErr := dest.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("writing %s: %w", destPath, err)
	}
	log.Debugf("Downloaded %s to %s (%d bytes, sha256 %s)", fileURL, destPath, download.Size, download.SHA256)
	return destPath, nil
}

// Cleanup removes everything downloaded for a resource
func (f *Fetcher) Cleanup(ctx context.Context, resourceID string) {
	if err := f.scratch.Remove(ctx, resourceID); err != nil {
		log.Warnf("Could not remove downloads of resource %s: %v", resourceID, err)
	}
}
