// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

// Package capabilities fetches OGC capabilities documents and
// reduces them to the list of layers the oskari catalog needs
package capabilities

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/internetofwater/ckansync/internal/opentelemetry"
	"github.com/peterstace/simplefeatures/geom"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"
)

// Oskari layer types
const (
	TypeWMS  = "wmslayer"
	TypeWMTS = "wmtslayer"
	TypeWFS  = "wfslayer"
)

// Versions requested when a resource does not name one
const (
	DefaultWMSVersion  = "1.3.0"
	DefaultWMTSVersion = "1.0.0"
	DefaultWFSVersion  = "1.1.0"
)

// A geographic bounding box in WGS84 longitude/latitude
type BBox struct {
	MinX, MinY, MaxX, MaxY float64
}

// WKT returns the box as a polygon, or a point when the box has no extent
func (b BBox) WKT() (string, error) {
	var wkt string
	if b.MinX == b.MaxX && b.MinY == b.MaxY {
		wkt = fmt.Sprintf("POINT(%s %s)", formatFloat(b.MinX), formatFloat(b.MinY))
	} else {
		minx, miny, maxx, maxy := formatFloat(b.MinX), formatFloat(b.MinY), formatFloat(b.MaxX), formatFloat(b.MaxY)
		wkt = fmt.Sprintf("POLYGON((%s %s,%s %s,%s %s,%s %s,%s %s))",
			minx, miny, maxx, miny, maxx, maxy, minx, maxy, minx, miny)
	}
	geometry, err := geom.UnmarshalWKT(wkt)
	if err != nil {
		return "", fmt.Errorf("invalid bounding box %v: %w", b, err)
	}
	return geometry.AsText(), nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// A single layer offered by a service
type LayerInfo struct {
	LayerName string
	Title     string
	// projections the service can render this layer in
	CRS  []string
	BBox *BBox
}

// SupportsCRS reports whether the layer can be requested in the projection
func (l LayerInfo) SupportsCRS(crs string) bool {
	for _, c := range l.CRS {
		if strings.EqualFold(c, crs) {
			return true
		}
	}
	return false
}

// LayerList is the protocol independent result of reading a capabilities document
type LayerList struct {
	// display name of the service as a whole
	Title  string
	Layers []LayerInfo
}

// Request describes the service to read capabilities from
type Request struct {
	URL       string
	User      string
	Password  string
	Version   string
	TargetCRS string
}

// logs layers that can't be drawn on the map projection; they are still kept
func warnUnsupportedCRS(list LayerList, targetCRS string) {
	if targetCRS == "" {
		return
	}
	for _, layer := range list.Layers {
		if len(layer.CRS) > 0 && !layer.SupportsCRS(targetCRS) {
			log.Debugf("Layer %s does not advertise %s", layer.LayerName, targetCRS)
		}
	}
}

// NormalizeCRS turns urn and url style crs identifiers into EPSG:<code>
func NormalizeCRS(crs string) string {
	crs = strings.TrimSpace(crs)
	lower := strings.ToLower(crs)
	switch {
	case strings.HasPrefix(lower, "urn:ogc:def:crs:epsg:"), strings.HasPrefix(lower, "urn:x-ogc:def:crs:epsg:"):
		parts := strings.Split(crs, ":")
		return "EPSG:" + parts[len(parts)-1]
	case strings.HasPrefix(lower, "http://www.opengis.net/gml/srs/epsg.xml#"):
		return "EPSG:" + crs[strings.LastIndex(crs, "#")+1:]
	case strings.HasPrefix(lower, "http://www.opengis.net/def/crs/epsg/"):
		return "EPSG:" + crs[strings.LastIndex(crs, "/")+1:]
	case strings.HasPrefix(lower, "epsg:"):
		return "EPSG:" + crs[len("epsg:"):]
	default:
		return crs
	}
}

// unique keeps the first occurrence of every normalized crs
func uniqueCRS(values []string) []string {
	seen := map[string]struct{}{}
	var result []string
	for _, value := range values {
		for _, crs := range strings.Fields(value) {
			crs = NormalizeCRS(crs)
			if _, ok := seen[crs]; ok {
				continue
			}
			seen[crs] = struct{}{}
			result = append(result, crs)
		}
	}
	return result
}

// GetCapabilitiesURL merges the capabilities parameters into the service url,
// keeping any parameters the url already has
func GetCapabilitiesURL(serviceURL, service, version string) (string, error) {
	parsed, err := url.Parse(serviceURL)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("service url %q is not absolute", serviceURL)
	}
	query := parsed.Query()
	// parameter names are case insensitive in OGC services
	for key := range query {
		switch strings.ToLower(key) {
		case "service", "request", "version":
			query.Del(key)
		}
	}
	query.Set("service", service)
	query.Set("request", "GetCapabilities")
	if version != "" {
		query.Set("version", version)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// fetch a document, authenticating when a user is given
func fetch(ctx context.Context, client *http.Client, documentURL, user, password string) ([]byte, error) {
	span, ctx := opentelemetry.SubSpanFromCtx(ctx)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, documentURL, nil)
	if err != nil {
		return nil, err
	}
	if user != "" {
		req.SetBasicAuth(user, password)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", documentURL, resp.StatusCode)
	}
	return body, nil
}

// decodeXML decodes a document in whatever charset it declares
func decodeXML(data []byte, v any) error {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.CharsetReader = charset.NewReaderLabel
	return decoder.Decode(v)
}

// parse "x y" corner strings used by ows bounding boxes
func parseCorners(lower, upper string) (*BBox, error) {
	lowerParts := strings.Fields(lower)
	upperParts := strings.Fields(upper)
	if len(lowerParts) != 2 || len(upperParts) != 2 {
		return nil, fmt.Errorf("invalid corners %q %q", lower, upper)
	}
	values := make([]float64, 0, 4)
	for _, part := range append(lowerParts, upperParts...) {
		value, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return &BBox{MinX: values[0], MinY: values[1], MaxX: values[2], MaxY: values[3]}, nil
}
