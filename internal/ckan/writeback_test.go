// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package ckan

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/internetofwater/ckansync/internal/common"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type patchRecorder struct {
	calls         int32
	body          atomic.Value
	authorization atomic.Value
	path          atomic.Value
}

func (p *patchRecorder) server(t *testing.T, status int, response string) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&p.calls, 1)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		p.body.Store(string(body))
		p.authorization.Store(r.Header.Get("Authorization"))
		p.path.Store(r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestWritebackPatchesBothUrls(t *testing.T) {
	recorder := &patchRecorder{}
	server := recorder.server(t, http.StatusOK, `{"success": true}`)

	writeback := NewWriteback(common.NewSyncClient(10*time.Second), "secret-key", "")
	writeback.PatchResourceURLs(context.Background(), server.URL+"/dataset/rivers/resource/1/download/rivers.zip",
		"res-1", "http://gs/ws/wfs", "http://gs/ws/wms")

	require.Equal(t, int32(1), atomic.LoadInt32(&recorder.calls))
	require.Equal(t, "/api/action/resource_patch", recorder.path.Load())
	require.Equal(t, "secret-key", recorder.authorization.Load())
	body := recorder.body.Load().(string)
	require.Equal(t, "res-1", gjson.Get(body, "id").String())
	require.Equal(t, "http://gs/ws/wfs", gjson.Get(body, "wfs_url").String())
	require.Equal(t, "http://gs/ws/wms", gjson.Get(body, "wms_url").String())
}

func TestWritebackOmitsMissingUrl(t *testing.T) {
	recorder := &patchRecorder{}
	server := recorder.server(t, http.StatusOK, `{"success": true}`)

	writeback := NewWriteback(common.NewSyncClient(10*time.Second), "secret-key", server.URL+"/")
	writeback.PatchResourceURLs(context.Background(), "https://elsewhere.example.org/file.tif", "res-2", "", "http://gs/ws/ows?service=WMS")

	require.Equal(t, int32(1), atomic.LoadInt32(&recorder.calls), "configured base url is used")
	body := recorder.body.Load().(string)
	require.False(t, gjson.Get(body, "wfs_url").Exists())
	require.Equal(t, "http://gs/ws/ows?service=WMS", gjson.Get(body, "wms_url").String())
}

func TestWritebackIsSkipped(t *testing.T) {
	recorder := &patchRecorder{}
	server := recorder.server(t, http.StatusOK, `{"success": true}`)
	client := common.NewSyncClient(10 * time.Second)

	NewWriteback(client, "", "").PatchResourceURLs(context.Background(), server.URL, "res", "http://gs/wfs", "http://gs/wms")
	NewWriteback(client, "key", "").PatchResourceURLs(context.Background(), server.URL, "res", "", "")

	require.Equal(t, int32(0), atomic.LoadInt32(&recorder.calls))
}

func TestWritebackFailuresAreSwallowed(t *testing.T) {
	recorder := &patchRecorder{}
	server := recorder.server(t, http.StatusForbidden, `{"success": false, "error": {"message": "Access denied"}}`)

	writeback := NewWriteback(common.NewSyncClient(10*time.Second), "key", "")
	require.NotPanics(t, func() {
		writeback.PatchResourceURLs(context.Background(), server.URL+"/x", "res", "", "http://gs/wms")
		writeback.PatchResourceURLs(context.Background(), "not a url", "res", "", "http://gs/wms")
	})
	require.Equal(t, int32(1), atomic.LoadInt32(&recorder.calls))
}
