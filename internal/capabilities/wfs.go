// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package capabilities

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// OGC API Features is requested with this version
const WFS3Version = "3.0.0"

type wfsDocument struct {
	XMLName               xml.Name
	ServiceIdentification struct {
		Title string `xml:"Title"`
	} `xml:"ServiceIdentification"`
	// 1.0.0
	Service struct {
		Title string `xml:"Title"`
	} `xml:"Service"`
	FeatureTypes []wfsFeatureType `xml:"FeatureTypeList>FeatureType"`
}

type wfsFeatureType struct {
	Name       string   `xml:"Name"`
	Title      string   `xml:"Title"`
	SRS        []string `xml:"SRS"`
	DefaultSRS []string `xml:"DefaultSRS"`
	DefaultCRS []string `xml:"DefaultCRS"`
	OtherSRS   []string `xml:"OtherSRS"`
	OtherCRS   []string `xml:"OtherCRS"`
	WGS84BBox  *struct {
		Lower string `xml:"LowerCorner"`
		Upper string `xml:"UpperCorner"`
	} `xml:"WGS84BoundingBox"`
	LatLongBBox *struct {
		MinX float64 `xml:"minx,attr"`
		MinY float64 `xml:"miny,attr"`
		MaxX float64 `xml:"maxx,attr"`
		MaxY float64 `xml:"maxy,attr"`
	} `xml:"LatLongBoundingBox"`
}

// ParseWFS reads a WFS 1.0.0, 1.1.0 or 2.0.0 capabilities document
func ParseWFS(data []byte) (LayerList, error) {
	var doc wfsDocument
	if err := decodeXML(data, &doc); err != nil {
		return LayerList{}, fmt.Errorf("malformed WFS capabilities: %w", err)
	}
	if doc.XMLName.Local != "WFS_Capabilities" {
		return LayerList{}, fmt.Errorf("expected a WFS capabilities document but got <%s>", doc.XMLName.Local)
	}

	list := LayerList{Title: doc.ServiceIdentification.Title}
	if list.Title == "" {
		list.Title = doc.Service.Title
	}
	for _, featureType := range doc.FeatureTypes {
		if featureType.Name == "" {
			continue
		}
		var crs []string
		crs = append(crs, featureType.DefaultCRS...)
		crs = append(crs, featureType.DefaultSRS...)
		crs = append(crs, featureType.SRS...)
		crs = append(crs, featureType.OtherCRS...)
		crs = append(crs, featureType.OtherSRS...)

		var bbox *BBox
		switch {
		case featureType.WGS84BBox != nil:
			parsed, err := parseCorners(featureType.WGS84BBox.Lower, featureType.WGS84BBox.Upper)
			if err != nil {
				log.Warnf("Ignoring bounding box of feature type %s: %v", featureType.Name, err)
			} else {
				bbox = parsed
			}
		case featureType.LatLongBBox != nil:
			b := featureType.LatLongBBox
			bbox = &BBox{MinX: b.MinX, MinY: b.MinY, MaxX: b.MaxX, MaxY: b.MaxY}
		}

		title := featureType.Title
		if title == "" {
			title = featureType.Name
		}
		list.Layers = append(list.Layers, LayerInfo{
			LayerName: featureType.Name,
			Title:     title,
			CRS:       uniqueCRS(crs),
			BBox:      bbox,
		})
	}
	return list, nil
}

// ParseWFS3Collections reads the collections document of an OGC API Features service
func ParseWFS3Collections(data []byte) (LayerList, error) {
	if !gjson.ValidBytes(data) {
		return LayerList{}, fmt.Errorf("malformed OGC API Features collections document")
	}
	doc := gjson.ParseBytes(data)
	collections := doc.Get("collections")
	if !collections.IsArray() {
		return LayerList{}, fmt.Errorf("collections document has no collections array")
	}

	list := LayerList{Title: doc.Get("title").String()}
	for _, collection := range collections.Array() {
		id := collection.Get("id").String()
		if id == "" {
			continue
		}
		title := collection.Get("title").String()
		if title == "" {
			title = id
		}
		var crs []string
		for _, value := range collection.Get("crs").Array() {
			crs = append(crs, value.String())
		}
		var bbox *BBox
		if extent := collection.Get("extent.spatial.bbox.0").Array(); len(extent) == 4 {
			bbox = &BBox{MinX: extent[0].Float(), MinY: extent[1].Float(), MaxX: extent[2].Float(), MaxY: extent[3].Float()}
		}
		list.Layers = append(list.Layers, LayerInfo{LayerName: id, Title: title, CRS: uniqueCRS(crs), BBox: bbox})
	}
	return list, nil
}

func collectionsURL(serviceURL string) (string, error) {
	parsed, err := url.Parse(serviceURL)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("service url %q is not absolute", serviceURL)
	}
	if !strings.HasSuffix(parsed.Path, "/collections") {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/collections"
	}
	query := parsed.Query()
	query.Set("f", "json")
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// WFSFetcher reads layer lists from WFS and OGC API Features services
type WFSFetcher struct {
	client *http.Client
}

func NewWFSFetcher(client *http.Client) *WFSFetcher {
	return &WFSFetcher{client: client}
}

// GetCapabilities fetches and parses the feature types of a WFS service
func (f *WFSFetcher) GetCapabilities(ctx context.Context, serviceURL, user, password, version, targetCRS string) (LayerList, error) {
	if version == "" {
		version = DefaultWFSVersion
	}

	var (
		requestURL string
		parse      func([]byte) (LayerList, error)
		err        error
	)
	if version == WFS3Version {
		requestURL, err = collectionsURL(serviceURL)
		parse = ParseWFS3Collections
	} else {
		requestURL, err = GetCapabilitiesURL(serviceURL, "WFS", version)
		parse = ParseWFS
	}
	if err != nil {
		return LayerList{}, err
	}

	log.Debugf("Fetching WFS capabilities from %s", requestURL)
	data, err := fetch(ctx, f.client, requestURL, user, password)
	if err != nil {
		return LayerList{}, err
	}
	list, err := parse(data)
	if err != nil {
		return LayerList{}, err
	}
	warnUnsupportedCRS(list, targetCRS)
	return list, nil
}

func (f *WFSFetcher) LayerList(ctx context.Context, req Request) (LayerList, error) {
	return f.GetCapabilities(ctx, req.URL, req.User, req.Password, req.Version, req.TargetCRS)
}
