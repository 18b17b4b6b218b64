// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package capabilities

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetCapabilitiesURL(t *testing.T) {
	t.Run("existing parameters are kept", func(t *testing.T) {
		result, err := GetCapabilitiesURL("https://maps.example.org/geoserver/ows?map=land&SERVICE=wfs", "WMS", "1.3.0")
		require.NoError(t, err)
		parsed, err := url.Parse(result)
		require.NoError(t, err)
		query := parsed.Query()
		require.Equal(t, "land", query.Get("map"))
		require.Equal(t, "WMS", query.Get("service"))
		require.Equal(t, "GetCapabilities", query.Get("request"))
		require.Equal(t, "1.3.0", query.Get("version"))
		require.Empty(t, query.Get("SERVICE"))
	})

	t.Run("relative urls are rejected", func(t *testing.T) {
		_, err := GetCapabilitiesURL("/geoserver/wms", "WMS", "1.3.0")
		require.Error(t, err)
	})
}

func TestNormalizeCRS(t *testing.T) {
	require.Equal(t, "EPSG:4326", NormalizeCRS("urn:ogc:def:crs:EPSG::4326"))
	require.Equal(t, "EPSG:3857", NormalizeCRS("urn:x-ogc:def:crs:EPSG:3857"))
	require.Equal(t, "EPSG:4326", NormalizeCRS("http://www.opengis.net/gml/srs/epsg.xml#4326"))
	require.Equal(t, "EPSG:3067", NormalizeCRS("http://www.opengis.net/def/crs/EPSG/0/3067"))
	require.Equal(t, "EPSG:3067", NormalizeCRS(" epsg:3067 "))
	require.Equal(t, "CRS:84", NormalizeCRS("CRS:84"))
}

func TestBBoxWKT(t *testing.T) {
	wkt, err := BBox{MinX: 21.99, MinY: -18.08, MaxX: 33.7, MaxY: -8.2}.WKT()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(wkt, "POLYGON(("), wkt)
	require.Contains(t, wkt, "33.7")
	require.Contains(t, wkt, "-18.08")

	point, err := BBox{MinX: 1, MinY: 2, MaxX: 1, MaxY: 2}.WKT()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(point, "POINT("), point)
}

func TestSupportsCRS(t *testing.T) {
	layer := LayerInfo{CRS: []string{"EPSG:3067", "EPSG:4326"}}
	require.True(t, layer.SupportsCRS("epsg:3067"))
	require.False(t, layer.SupportsCRS("EPSG:3857"))
}
