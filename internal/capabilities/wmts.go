// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package capabilities

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// RawDocument is a capabilities document as stored in the cache
type RawDocument struct {
	// zero until the document has been saved
	ID        int64
	LayerType string
	URL       string
	Version   string
	Data      string
}

// WMTSCapabilities is the part of a WMTS document needed to build layers
type WMTSCapabilities struct {
	Title  string
	Layers []WMTSLayer
	// tile matrix set identifier to its supported crs
	TileMatrixSets map[string]string
}

type WMTSLayer struct {
	Identifier     string
	Title          string
	TileMatrixSets []string
	BBox           *BBox
}

type wmtsDocument struct {
	XMLName               xml.Name
	ServiceIdentification struct {
		Title string `xml:"Title"`
	} `xml:"ServiceIdentification"`
	Layers []struct {
		Identifier string `xml:"Identifier"`
		Title      string `xml:"Title"`
		WGS84BBox  *struct {
			Lower string `xml:"LowerCorner"`
			Upper string `xml:"UpperCorner"`
		} `xml:"WGS84BoundingBox"`
		Links []struct {
			TileMatrixSet string `xml:"TileMatrixSet"`
		} `xml:"TileMatrixSetLink"`
	} `xml:"Contents>Layer"`
	TileMatrixSets []struct {
		Identifier   string `xml:"Identifier"`
		SupportedCRS string `xml:"SupportedCRS"`
	} `xml:"Contents>TileMatrixSet"`
}

// ParseWMTS reads a WMTS 1.0.0 capabilities document
func ParseWMTS(data []byte) (WMTSCapabilities, error) {
	var doc wmtsDocument
	if err := decodeXML(data, &doc); err != nil {
		return WMTSCapabilities{}, fmt.Errorf("malformed WMTS capabilities: %w", err)
	}
	if doc.XMLName.Local != "Capabilities" {
		return WMTSCapabilities{}, fmt.Errorf("expected a WMTS capabilities document but got <%s>", doc.XMLName.Local)
	}

	caps := WMTSCapabilities{
		Title:          doc.ServiceIdentification.Title,
		TileMatrixSets: make(map[string]string, len(doc.TileMatrixSets)),
	}
	for _, set := range doc.TileMatrixSets {
		caps.TileMatrixSets[set.Identifier] = NormalizeCRS(set.SupportedCRS)
	}
	for _, layer := range doc.Layers {
		if layer.Identifier == "" {
			continue
		}
		parsed := WMTSLayer{Identifier: layer.Identifier, Title: layer.Title}
		for _, link := range layer.Links {
			parsed.TileMatrixSets = append(parsed.TileMatrixSets, link.TileMatrixSet)
		}
		if layer.WGS84BBox != nil {
			bbox, err := parseCorners(layer.WGS84BBox.Lower, layer.WGS84BBox.Upper)
			if err != nil {
				log.Warnf("Ignoring bounding box of WMTS layer %s: %v", layer.Identifier, err)
			} else {
				parsed.BBox = bbox
			}
		}
		caps.Layers = append(caps.Layers, parsed)
	}
	return caps, nil
}

// AsLayerList converts parsed WMTS capabilities into the common layer list;
// the projections of a layer are those of the tile matrix sets it links to
func AsLayerList(caps WMTSCapabilities, targetCRS string) LayerList {
	list := LayerList{Title: caps.Title}
	for _, layer := range caps.Layers {
		var crs []string
		for _, set := range layer.TileMatrixSets {
			if supported, ok := caps.TileMatrixSets[set]; ok {
				crs = append(crs, supported)
			}
		}
		title := layer.Title
		if title == "" {
			title = layer.Identifier
		}
		list.Layers = append(list.Layers, LayerInfo{
			LayerName: layer.Identifier,
			Title:     title,
			CRS:       uniqueCRS(crs),
			BBox:      layer.BBox,
		})
	}
	warnUnsupportedCRS(list, targetCRS)
	return list
}

// Cache stores raw capabilities documents between layer passes
type Cache interface {
	Get(ctx context.Context, layerType, url, version string) (RawDocument, bool, error)
	Save(ctx context.Context, doc RawDocument) (RawDocument, error)
	Empty(ctx context.Context) error
}

// WMTSFetcher reads WMTS capabilities through the capabilities cache
type WMTSFetcher struct {
	client *http.Client
	cache  Cache
}

func NewWMTSFetcher(client *http.Client, cache Cache) *WMTSFetcher {
	return &WMTSFetcher{client: client, cache: cache}
}

// GetCapabilities returns the raw document, fetching and caching it on a miss
func (f *WMTSFetcher) GetCapabilities(ctx context.Context, serviceURL, layerType, version, user, password string) (RawDocument, error) {
	if version == "" {
		version = DefaultWMTSVersion
	}

	cached, found, err := f.cache.Get(ctx, layerType, serviceURL, version)
	if err != nil {
		// the cache is an optimization, a broken one shouldn't stop the publish
		log.Warnf("Could not read capabilities cache for %s: %v", serviceURL, err)
	} else if found {
		log.Debugf("Using cached WMTS capabilities for %s", serviceURL)
		return cached, nil
	}

	requestURL, err := GetCapabilitiesURL(serviceURL, "WMTS", version)
	if err != nil {
		return RawDocument{}, err
	}
	log.Debugf("Fetching WMTS capabilities from %s", requestURL)
	data, err := fetch(ctx, f.client, requestURL, user, password)
	if err != nil {
		return RawDocument{}, err
	}

	doc := RawDocument{LayerType: layerType, URL: serviceURL, Version: version, Data: string(data)}
	saved, err := f.cache.Save(ctx, doc)
	if err != nil {
		log.Warnf("Could not cache capabilities for %s: %v", serviceURL, err)
		return doc, nil
	}
	return saved, nil
}

// ParseCapabilities parses a document returned by GetCapabilities
func (f *WMTSFetcher) ParseCapabilities(doc RawDocument) (WMTSCapabilities, error) {
	return ParseWMTS([]byte(doc.Data))
}

// AsJSON builds the layer list stored with each wmts layer
func (f *WMTSFetcher) AsJSON(caps WMTSCapabilities, serviceURL, targetCRS string) LayerList {
	log.Debugf("Building WMTS layer list for %s", serviceURL)
	return AsLayerList(caps, targetCRS)
}

func (f *WMTSFetcher) LayerList(ctx context.Context, req Request) (LayerList, error) {
	doc, err := f.GetCapabilities(ctx, req.URL, TypeWMTS, req.Version, req.User, req.Password)
	if err != nil {
		return LayerList{}, err
	}
	caps, err := f.ParseCapabilities(doc)
	if err != nil {
		return LayerList{}, err
	}
	return f.AsJSON(caps, req.URL, req.TargetCRS), nil
}
