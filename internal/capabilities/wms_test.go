// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package capabilities

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/internetofwater/ckansync/internal/common"
	"github.com/stretchr/testify/require"
)

func TestParseWMS130(t *testing.T) {
	data, err := os.ReadFile("testdata/wms_130.xml")
	require.NoError(t, err)

	list, err := ParseWMS(data)
	require.NoError(t, err)
	require.Equal(t, "Zambia Land Use", list.Title)
	require.Len(t, list.Layers, 2)

	districts := list.Layers[0]
	require.Equal(t, "landuse:districts", districts.LayerName)
	require.Equal(t, "Districts", districts.Title)
	require.Equal(t, []string{"EPSG:4326", "EPSG:3857", "EPSG:3067"}, districts.CRS)
	require.Equal(t, &BBox{MinX: 21.99, MinY: -18.08, MaxX: 33.7, MaxY: -8.2}, districts.BBox)

	// the nearest ancestor with a bounding box wins
	rivers := list.Layers[1]
	require.Equal(t, "landuse:rivers", rivers.LayerName)
	require.Equal(t, &BBox{MinX: 25, MinY: -15, MaxX: 30, MaxY: -10}, rivers.BBox)
	require.Equal(t, []string{"EPSG:4326", "EPSG:3857"}, rivers.CRS)
}

func TestParseWMS111WithDeclaredCharset(t *testing.T) {
	data, err := os.ReadFile("testdata/wms_111.xml")
	require.NoError(t, err)

	list, err := ParseWMS(data)
	require.NoError(t, err)
	require.Equal(t, "Metsäkartat", list.Title)
	require.Len(t, list.Layers, 1)
	require.Equal(t, []string{"EPSG:4326", "EPSG:3067"}, list.Layers[0].CRS)
	require.Equal(t, &BBox{MinX: 19.5, MinY: 59.7, MaxX: 31.6, MaxY: 70.1}, list.Layers[0].BBox)
}

func TestParseWMSRejectsOtherDocuments(t *testing.T) {
	data, err := os.ReadFile("testdata/exception.xml")
	require.NoError(t, err)
	_, err = ParseWMS(data)
	require.ErrorContains(t, err, "ServiceExceptionReport")

	_, err = ParseWMS([]byte("<WMS_Capabilities><Capability>"))
	require.Error(t, err)
}

func TestWMSFetcher(t *testing.T) {
	data, err := os.ReadFile("testdata/wms_130.xml")
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, password, ok := r.BasicAuth()
		if !ok || user != "reader" || password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("request") != "GetCapabilities" || r.URL.Query().Get("version") != "1.3.0" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write(data)
	}))
	defer server.Close()

	fetcher := NewWMSFetcher(server.Client())

	list, err := fetcher.GetCapabilities(context.Background(), server.URL+"/wms", "reader", "secret", "", "EPSG:3067")
	require.NoError(t, err)
	require.Len(t, list.Layers, 2)

	_, err = fetcher.GetCapabilities(context.Background(), server.URL+"/wms", "", "", "", "EPSG:3067")
	require.ErrorContains(t, err, "401")

	_, err = fetcher.GetCapabilities(context.Background(), server.URL+"/wms", "reader", "secret", "2.0.0", "EPSG:3067")
	require.ErrorContains(t, err, "400")
}

func TestWMSFetcherSendsResourceVersionVerbatim(t *testing.T) {
	data, err := os.ReadFile("testdata/wms_130.xml")
	require.NoError(t, err)

	var requested atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested.Store(r.URL.Query().Get("version"))
		_, _ = w.Write(data)
	}))
	defer server.Close()

	list, err := NewWMSFetcher(server.Client()).GetCapabilities(context.Background(), server.URL+"/wms", "", "", "1.3", "")
	require.NoError(t, err)
	require.Equal(t, "1.3", requested.Load())
	require.Len(t, list.Layers, 2)
}

func TestWMSFetcherWithMockedClient(t *testing.T) {
	client := common.NewMockedClient(true, map[string]common.MockResponse{
		"https://maps.example.org/wms?request=GetCapabilities&service=WMS&version=1.1.1": {
			File:        "testdata/wms_111.xml",
			ContentType: "application/vnd.ogc.wms_xml",
		},
	})
	list, err := NewWMSFetcher(client).LayerList(context.Background(), Request{
		URL:     "https://maps.example.org/wms",
		Version: "1.1.1",
	})
	require.NoError(t, err)
	require.Equal(t, "forest", list.Layers[0].LayerName)
}
