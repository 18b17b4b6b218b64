// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package common

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	var callCount int32 = 0

	// Fail 2 times, then succeed
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&callCount, 1)
		if n <= 2 {
			http.Error(w, "temporary failure", http.StatusInternalServerError)
		} else {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("success"))
		}
	}))
	defer server.Close()

	client := NewSyncClient(10 * time.Second)

	req, err := http.NewRequest("GET", server.URL, nil)
	require.NoError(t, err)

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)

	require.NoError(t, err, "expected successful response after retries")
	require.NotNil(t, resp, "response should not be nil")
	require.Equal(t, 200, resp.StatusCode, "should return 200 after retries")
	require.Equal(t, int32(3), atomic.LoadInt32(&callCount), "should retry twice")
	require.GreaterOrEqual(t, elapsed.Milliseconds(), int64(100), "should have waited for backoff")
}

func TestRetryResendsBody(t *testing.T) {
	var callCount int32 = 0
	var lastBody atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		lastBody.Store(string(body))
		if atomic.AddInt32(&callCount, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewSyncClient(10 * time.Second)
	req, err := http.NewRequest("PUT", server.URL, strings.NewReader("<workspace/>"))
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "<workspace/>", lastBody.Load())
}

func TestNoRetryOn404(t *testing.T) {
	var callCount int32 = 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&callCount, 1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewSyncClient(10 * time.Second)

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, int32(1), atomic.LoadInt32(&callCount), "404 should not be retried")
}

func TestUserAgentIsSet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.UserAgent()))
	}))
	defer server.Close()

	resp, err := NewSyncClient(10 * time.Second).Get(server.URL)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, UserAgent, string(body))
}

func TestMockWithString(t *testing.T) {

	mock := NewMockedClient(true, map[string]MockResponse{
		"http://example.com": {
			StatusCode: 200,
			Body:       "success",
		},
	})

	resp, err := mock.Get("http://example.com")
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 200, resp.StatusCode)
	readBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "success", string(readBody))
}

func TestMockWithFile(t *testing.T) {

	mock := NewMockedClient(true, map[string]MockResponse{
		"http://example.com": {
			StatusCode: 404,
			File:       "testdata/mock_file",
		},
	})

	resp, err := mock.Get("http://example.com")
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 404, resp.StatusCode)
	readBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "This is a mock file", string(readBody))
}

func TestMockStrictMode(t *testing.T) {
	mock := NewMockedClient(true, map[string]MockResponse{})
	_, err := mock.Get("http://example.com/not-mocked")
	require.ErrorContains(t, err, "request not mocked")
}
