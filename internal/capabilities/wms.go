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

type wmsDocument struct {
	XMLName xml.Name
	Version string `xml:"version,attr"`
	Service struct {
		Title string `xml:"Title"`
	} `xml:"Service"`
	Capability struct {
		Layer *wmsLayer `xml:"Layer"`
	} `xml:"Capability"`
}

type wmsLayer struct {
	Name  string   `xml:"Name"`
	Title string   `xml:"Title"`
	CRS   []string `xml:"CRS"`
	SRS   []string `xml:"SRS"`
	// 1.3.0
	GeographicBBox *struct {
		West  float64 `xml:"westBoundLongitude"`
		East  float64 `xml:"eastBoundLongitude"`
		South float64 `xml:"southBoundLatitude"`
		North float64 `xml:"northBoundLatitude"`
	} `xml:"EX_GeographicBoundingBox"`
	// 1.1.x
	LatLonBBox *struct {
		MinX float64 `xml:"minx,attr"`
		MinY float64 `xml:"miny,attr"`
		MaxX float64 `xml:"maxx,attr"`
		MaxY float64 `xml:"maxy,attr"`
	} `xml:"LatLonBoundingBox"`
	Layers []wmsLayer `xml:"Layer"`
}

func (l wmsLayer) bbox() *BBox {
	switch {
	case l.GeographicBBox != nil:
		b := l.GeographicBBox
		return &BBox{MinX: b.West, MinY: b.South, MaxX: b.East, MaxY: b.North}
	case l.LatLonBBox != nil:
		b := l.LatLonBBox
		return &BBox{MinX: b.MinX, MinY: b.MinY, MaxX: b.MaxX, MaxY: b.MaxY}
	default:
		return nil
	}
}

// ParseWMS reads a WMS 1.1.x or 1.3.0 capabilities document.
// Child layers inherit the projections and bounding box of their parents
// and only named layers are returned since unnamed ones can't be requested
func ParseWMS(data []byte) (LayerList, error) {
	var doc wmsDocument
	if err := decodeXML(data, &doc); err != nil {
		return LayerList{}, fmt.Errorf("malformed WMS capabilities: %w", err)
	}
	switch doc.XMLName.Local {
	case "WMS_Capabilities", "WMT_MS_Capabilities":
	default:
		return LayerList{}, fmt.Errorf("expected a WMS capabilities document but got <%s>", doc.XMLName.Local)
	}

	list := LayerList{Title: doc.Service.Title}
	root := doc.Capability.Layer
	if root == nil {
		return list, nil
	}
	if list.Title == "" {
		list.Title = root.Title
	}

	var walk func(layer wmsLayer, inheritedCRS []string, inheritedBBox *BBox)
	walk = func(layer wmsLayer, inheritedCRS []string, inheritedBBox *BBox) {
		crs := uniqueCRS(append(append(append([]string{}, inheritedCRS...), layer.CRS...), layer.SRS...))
		bbox := layer.bbox()
		if bbox == nil {
			bbox = inheritedBBox
		}
		if layer.Name != "" {
			title := layer.Title
			if title == "" {
				title = layer.Name
			}
			list.Layers = append(list.Layers, LayerInfo{LayerName: layer.Name, Title: title, CRS: crs, BBox: bbox})
		}
		for _, child := range layer.Layers {
			walk(child, crs, bbox)
		}
	}
	walk(*root, nil, nil)
	return list, nil
}

// WMSFetcher reads layer lists from WMS services
type WMSFetcher struct {
	client *http.Client
}

func NewWMSFetcher(client *http.Client) *WMSFetcher {
	return &WMSFetcher{client: client}
}

// GetCapabilities fetches and parses the capabilities of a WMS service
func (f *WMSFetcher) GetCapabilities(ctx context.Context, serviceURL, user, password, version, targetCRS string) (LayerList, error) {
	if version == "" {
		version = DefaultWMSVersion
	}
	requestURL, err := GetCapabilitiesURL(serviceURL, "WMS", version)
	if err != nil {
		return LayerList{}, err
	}
	log.Debugf("Fetching WMS capabilities from %s", requestURL)
	data, err := fetch(ctx, f.client, requestURL, user, password)
	if err != nil {
		return LayerList{}, err
	}
	list, err := ParseWMS(data)
	if err != nil {
		return LayerList{}, err
	}
	warnUnsupportedCRS(list, targetCRS)
	return list, nil
}

func (f *WMSFetcher) LayerList(ctx context.Context, req Request) (LayerList, error) {
	return f.GetCapabilities(ctx, req.URL, req.User, req.Password, req.Version, req.TargetCRS)
}
