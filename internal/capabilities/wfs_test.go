// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package capabilities

import (
	"context"
	"os"
	"testing"

	"github.com/internetofwater/ckansync/internal/common"
	"github.com/stretchr/testify/require"
)

func TestParseWFS(t *testing.T) {
	data, err := os.ReadFile("testdata/wfs_110.xml")
	require.NoError(t, err)

	list, err := ParseWFS(data)
	require.NoError(t, err)
	require.Equal(t, "Water points", list.Title)
	require.Len(t, list.Layers, 2)

	points := list.Layers[0]
	require.Equal(t, "water:points", points.LayerName)
	require.Equal(t, []string{"EPSG:4326", "EPSG:3857"}, points.CRS)
	require.Equal(t, &BBox{MinX: 22, MinY: -18, MaxX: 33, MaxY: -8}, points.BBox)

	wells := list.Layers[1]
	require.Equal(t, "water:wells", wells.Title)
	require.Nil(t, wells.BBox)
}

func TestParseWFS3Collections(t *testing.T) {
	data, err := os.ReadFile("testdata/wfs3_collections.json")
	require.NoError(t, err)

	list, err := ParseWFS3Collections(data)
	require.NoError(t, err)
	require.Equal(t, "Boreholes API", list.Title)
	require.Len(t, list.Layers, 2)
	require.Equal(t, "boreholes", list.Layers[0].LayerName)
	require.Contains(t, list.Layers[0].CRS, "EPSG:3067")
	require.Equal(t, &BBox{MinX: 20.5, MinY: 59.8, MaxX: 31.5, MaxY: 70}, list.Layers[0].BBox)
	require.Equal(t, "wells", list.Layers[1].Title)

	_, err = ParseWFS3Collections([]byte(`{"title": "no collections"}`))
	require.Error(t, err)
	_, err = ParseWFS3Collections([]byte(`{`))
	require.Error(t, err)
}

func TestWFSFetcherVersions(t *testing.T) {
	client := common.NewMockedClient(true, map[string]common.MockResponse{
		"https://data.example.org/wfs?request=GetCapabilities&service=WFS&version=1.1.0": {
			File: "testdata/wfs_110.xml",
		},
		"https://data.example.org/ogcapi/collections?f=json": {
			File:        "testdata/wfs3_collections.json",
			ContentType: "application/json",
		},
	})
	fetcher := NewWFSFetcher(client)

	list, err := fetcher.GetCapabilities(context.Background(), "https://data.example.org/wfs", "", "", "", "EPSG:3067")
	require.NoError(t, err)
	require.Len(t, list.Layers, 2)

	list, err = fetcher.GetCapabilities(context.Background(), "https://data.example.org/ogcapi/", "", "", WFS3Version, "EPSG:3067")
	require.NoError(t, err)
	require.Equal(t, "Boreholes API", list.Title)

	// any other version is sent as is and the document decides
	_, err = fetcher.GetCapabilities(context.Background(), "https://data.example.org/wfs", "", "", "0.9", "EPSG:3067")
	require.ErrorContains(t, err, "version=0.9")
}

func TestWFSFetcherSendsResourceVersionVerbatim(t *testing.T) {
	client := common.NewMockedClient(true, map[string]common.MockResponse{
		"https://data.example.org/wfs?request=GetCapabilities&service=WFS&version=1.1": {
			File: "testdata/wfs_110.xml",
		},
	})
	list, err := NewWFSFetcher(client).GetCapabilities(context.Background(), "https://data.example.org/wfs", "", "", "1.1", "EPSG:3067")
	require.NoError(t, err)
	require.Len(t, list.Layers, 2)
}
