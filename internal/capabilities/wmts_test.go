// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package capabilities

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"sync/atomic"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

// an in memory cache used to observe what the fetcher stores
type memoryCache struct {
	docs   map[string]RawDocument
	nextID int64
	getErr error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{docs: map[string]RawDocument{}}
}

func (m *memoryCache) key(layerType, url, version string) string {
	return layerType + "|" + url + "|" + version
}

func (m *memoryCache) Get(_ context.Context, layerType, url, version string) (RawDocument, bool, error) {
	if m.getErr != nil {
		return RawDocument{}, false, m.getErr
	}
	doc, ok := m.docs[m.key(layerType, url, version)]
	return doc, ok, nil
}

func (m *memoryCache) Save(_ context.Context, doc RawDocument) (RawDocument, error) {
	m.nextID++
	doc.ID = m.nextID
	m.docs[m.key(doc.LayerType, doc.URL, doc.Version)] = doc
	return doc, nil
}

func (m *memoryCache) Empty(context.Context) error {
	m.docs = map[string]RawDocument{}
	return nil
}

func TestParseWMTS(t *testing.T) {
	data, err := os.ReadFile("testdata/wmts.xml")
	require.NoError(t, err)

	caps, err := ParseWMTS(data)
	require.NoError(t, err)
	require.Equal(t, "Background maps", caps.Title)
	require.Equal(t, map[string]string{"WebMercator": "EPSG:3857", "ETRS-TM35FIN": "EPSG:3067"}, caps.TileMatrixSets)
	require.Len(t, caps.Layers, 2)
	require.Equal(t, "terrain", caps.Layers[0].Identifier)
	require.Equal(t, []string{"WebMercator", "ETRS-TM35FIN"}, caps.Layers[0].TileMatrixSets)

	list := AsLayerList(caps, "EPSG:3067")
	require.Equal(t, []string{"EPSG:3857", "EPSG:3067"}, list.Layers[0].CRS)
	require.Equal(t, &BBox{MinX: -180, MinY: -85, MaxX: 180, MaxY: 85}, list.Layers[0].BBox)
	require.Equal(t, "roads", list.Layers[1].Title)
	require.Equal(t, []string{"EPSG:3857"}, list.Layers[1].CRS)
}

func TestWMTSFetcherCachesDocuments(t *testing.T) {
	data, err := os.ReadFile("testdata/wmts.xml")
	require.NoError(t, err)

	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		_, _ = w.Write(data)
	}))
	defer server.Close()

	cache := newMemoryCache()
	fetcher := NewWMTSFetcher(server.Client(), cache)
	req := Request{URL: server.URL + "/wmts", TargetCRS: "EPSG:3067"}

	first, err := fetcher.LayerList(context.Background(), req)
	require.NoError(t, err)
	second, err := fetcher.LayerList(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, int32(1), atomic.LoadInt32(&requests))

	doc, found, err := cache.Get(context.Background(), TypeWMTS, server.URL+"/wmts", DefaultWMTSVersion)
	require.NoError(t, err)
	require.True(t, found)
	require.NotZero(t, doc.ID)

	require.NoError(t, cache.Empty(context.Background()))
	_, err = fetcher.LayerList(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestWMTSFetcherSurvivesBrokenCache(t *testing.T) {
	data, err := os.ReadFile("testdata/wmts.xml")
	require.NoError(t, err)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer server.Close()

	cache := newMemoryCache()
	cache.getErr = errors.New("relation does not exist")
	list, err := NewWMTSFetcher(server.Client(), cache).LayerList(context.Background(), Request{URL: server.URL})
	require.NoError(t, err)
	require.Len(t, list.Layers, 2)
}

func TestWMTSFetcherSendsResourceVersionVerbatim(t *testing.T) {
	data, err := os.ReadFile("testdata/wmts.xml")
	require.NoError(t, err)

	var requested atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested.Store(r.URL.Query().Get("version"))
		_, _ = w.Write(data)
	}))
	defer server.Close()

	cache := newMemoryCache()
	doc, err := NewWMTSFetcher(server.Client(), cache).
		GetCapabilities(context.Background(), server.URL+"/wmts", TypeWMTS, "1.0", "", "")
	require.NoError(t, err)
	require.Equal(t, "1.0", requested.Load())
	require.Equal(t, "1.0", doc.Version)

	_, found, err := cache.Get(context.Background(), TypeWMTS, server.URL+"/wmts", "1.0")
	require.NoError(t, err)
	require.True(t, found)
}

func TestPostgresCache(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	cache := NewPostgresCache(mock)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(selectCached)).WithArgs(TypeWMTS, "https://example.org/wmts", "1.0.0").
		WillReturnRows(pgxmock.NewRows([]string{"id", "data"}))
	_, found, err := cache.Get(ctx, TypeWMTS, "https://example.org/wmts", "1.0.0")
	require.NoError(t, err)
	require.False(t, found)

	mock.ExpectQuery(regexp.QuoteMeta(upsertCached)).WithArgs(TypeWMTS, "https://example.org/wmts", "1.0.0", "<Capabilities/>").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	saved, err := cache.Save(ctx, RawDocument{LayerType: TypeWMTS, URL: "https://example.org/wmts", Version: "1.0.0", Data: "<Capabilities/>"})
	require.NoError(t, err)
	require.Equal(t, int64(7), saved.ID)

	mock.ExpectQuery(regexp.QuoteMeta(selectCached)).WithArgs(TypeWMTS, "https://example.org/wmts", "1.0.0").
		WillReturnRows(pgxmock.NewRows([]string{"id", "data"}).AddRow(int64(7), "<Capabilities/>"))
	doc, found, err := cache.Get(ctx, TypeWMTS, "https://example.org/wmts", "1.0.0")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "<Capabilities/>", doc.Data)

	mock.ExpectExec(regexp.QuoteMeta(emptyCache)).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, cache.Empty(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}
