// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package ckan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/internetofwater/ckansync/internal/opentelemetry"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const resourcePatchPath = "/api/action/resource_patch"

// Writeback patches published service urls back onto ckan resources
type Writeback struct {
	client *http.Client
	apiKey string
	// optional ckan base url; derived from the resource url when empty
	baseURL string
}

func NewWriteback(client *http.Client, apiKey, baseURL string) *Writeback {
	return &Writeback{client: client, apiKey: apiKey, baseURL: strings.TrimSuffix(baseURL, "/")}
}

type resourcePatch struct {
	ID     string `json:"id"`
	WFSURL string `json:"wfs_url,omitempty"`
	WMSURL string `json:"wms_url,omitempty"`
}

// PatchResourceURLs sets wfs_url and wms_url on the ckan resource.
// This is best effort; nothing is returned and every failure is only logged
func (w *Writeback) PatchResourceURLs(ctx context.Context, resourceURL, resourceID, wfsURL, wmsURL string) {
	if w.apiKey == "" {
		log.Infof("No ckan api key configured, not updating urls of resource %s", resourceID)
		return
	}
	if wfsURL == "" && wmsURL == "" {
		log.Infof("No urls to update for resource %s", resourceID)
		return
	}

	span, ctx := opentelemetry.SubSpanFromCtx(ctx)
	defer span.End()

	endpoint, err := w.endpoint(resourceURL)
	if err != nil {
		log.Errorf("Unable to update urls of resource %s to ckan: %v", resourceID, err)
		return
	}
	if err := w.patch(ctx, endpoint, resourcePatch{ID: resourceID, WFSURL: wfsURL, WMSURL: wmsURL}); err != nil {
		log.Errorf("Unable to update urls of resource %s to ckan: %v", resourceID, err)
		return
	}
	log.Infof("Updated urls of resource %s to ckan", resourceID)
}

// the action api lives at the root of the host serving the resource
func (w *Writeback) endpoint(resourceURL string) (string, error) {
	if w.baseURL != "" {
		return w.baseURL + resourcePatchPath, nil
	}
	parsed, err := url.Parse(resourceURL)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("resource url %q has no host", resourceURL)
	}
	return fmt.Sprintf("%s://%s%s", parsed.Scheme, parsed.Host, resourcePatchPath), nil
}

func (w *Writeback) patch(ctx context.Context, endpoint string, body resourcePatch) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if success := gjson.GetBytes(respBody, "success"); success.Exists() && !success.Bool() {
		return fmt.Errorf("%s reported failure: %s", endpoint, gjson.GetBytes(respBody, "error").Raw)
	}
	return nil
}
