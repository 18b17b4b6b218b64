// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package common

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// the download client should retry transient failures and still identify itself
func TestNewRetryableHTTPClient(t *testing.T) {
	var requestCount int32
	var agent atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.UserAgent())
		if atomic.AddInt32(&requestCount, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewRetryableHTTPClient()

	start := time.Now()
	resp, err := client.Get(server.URL)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(3), atomic.LoadInt32(&requestCount))
	require.Equal(t, UserAgent, agent.Load())
	require.Less(t, elapsed, 7*time.Second, "retries took too long")
}
