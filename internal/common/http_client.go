// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

const UserAgent = "ckansync"

type MockResponse struct {
	File        string
	Body        string
	StatusCode  int
	ContentType string
	// Extra headers to set on the response
	Header http.Header
	// If true, the request will return an error
	// signifying that the request timedout
	Timeout bool
}

func (m MockResponse) isZero() bool {
	return m.File == "" && m.Body == "" && m.StatusCode == 0 && !m.Timeout && m.Header == nil
}

type MockTransport struct {
	// Deny requests that are not mocked
	denyReqNotMocked bool
	transport        http.RoundTripper
	urlToFile        map[string]MockResponse
}

// If the req url is in the map, return a mock response from the associated file
func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {

	fullUrl := req.URL.String()

	if associatedMock, ok := m.urlToFile[fullUrl]; ok && !associatedMock.isZero() {
		if associatedMock.Timeout {
			return nil, &MaxRetryError{Err: fmt.Errorf("mocked a timeout for %s", fullUrl)}
		}

		header := http.Header{
			"Content-Type": []string{associatedMock.ContentType},
		}
		for key, values := range associatedMock.Header {
			header[key] = values
		}
		statusCode := associatedMock.StatusCode
		if statusCode == 0 {
			statusCode = http.StatusOK
		}

		if associatedMock.File == "" {
			return &http.Response{
				StatusCode: statusCode,
				Body:       io.NopCloser(strings.NewReader(associatedMock.Body)),
				Header:     header,
				Request:    req,
			}, nil
		}
		mockedContent, err := os.Open(associatedMock.File)
		if err != nil {
			return nil, err
		}
		return &http.Response{
			StatusCode: statusCode,
			Body:       mockedContent,
			Header:     header,
			Request:    req,
		}, nil
	}
	if m.denyReqNotMocked {
		return nil, fmt.Errorf("request not mocked: %s", fullUrl)
	}

	return m.transport.RoundTrip(req)
}

// NewMockedClient returns an http client with mocked responses
// if strictMode is true, all http requests that are not mocked will return an error
func NewMockedClient(strictMode bool, urlToMock map[string]MockResponse) *http.Client {
	transport := &MockTransport{
		transport:        newLongLivedHttpTransport(),
		urlToFile:        urlToMock,
		denyReqNotMocked: strictMode,
	}

	return newClientFromRoundTrip(transport, 90*time.Second)
}

// RetryTransport implements retries and exponential backoff at the transport level
type RetryTransport struct {
	Base    http.RoundTripper
	Retries int
	Backoff time.Duration
}

// An error returned when the maximum number of retries is exceeded.
type MaxRetryError struct {
	Err error
}

func (e *MaxRetryError) Error() string {
	return e.Err.Error()
}

func (e *MaxRetryError) Unwrap() error {
	return e.Err
}

// a request body can only be resent if it can be rewound
func rewindBody(req *http.Request) (bool, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return true, nil
	}
	if req.GetBody == nil {
		return false, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return false, err
	}
	req.Body = body
	return true, nil
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var lastErr error

	for i := 0; i < t.Retries; i++ {
		if i > 0 {
			canRetry, err := rewindBody(req)
			if err != nil {
				return nil, err
			}
			if !canRetry {
				break
			}
		}

		resp, err := t.Base.RoundTrip(req)

		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Warnf("retrying after timeout on %s (attempt %d)", req.URL.String(), i+1)
				time.Sleep(time.Duration(i+1) * t.Backoff)
				lastErr = err
				continue
			}

			if ue, ok := err.(*url.Error); ok && ue.Timeout() {
				log.Warnf("retrying after client timeout on %s (attempt %d)", req.URL.String(), i+1)
				lastErr = err
				time.Sleep(time.Duration(i+1) * t.Backoff)
				continue
			}
			return nil, err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			// the server is rate limiting us so retrying immediately won't help
			log.Warnf("got a 429 from %s, not retrying since the server appears to be rate limiting", req.URL.String())
			return resp, nil
		} else if resp.StatusCode >= 500 {
			log.Warnf("got a %d from %s, retrying (attempt %d)", resp.StatusCode, req.URL.String(), i+1)
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			time.Sleep(time.Duration(i+1) * t.Backoff)
			continue
		}

		return resp, nil
	}
	message := fmt.Errorf("failed to get a successful response from %s after %d retries: %v", req.URL.String(), t.Retries, lastErr)
	// log this early so that we can see it during the run if needed
	log.Error(message.Error())
	return nil, &MaxRetryError{Err: message}
}

// userAgentTransport sets our user agent on every outgoing request
type userAgentTransport struct {
	base http.RoundTripper
}

func (u userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", UserAgent)
	}
	return u.base.RoundTrip(req)
}

// An http transport optimized for long-lived connections
func newLongLivedHttpTransport() http.RoundTripper {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          0,
		MaxIdleConnsPerHost:   0,
		MaxConnsPerHost:       0,
		IdleConnTimeout:       120 * time.Second,
		TLSHandshakeTimeout:   20 * time.Second,
		ExpectContinueTimeout: 2 * time.Second,
		DisableKeepAlives:     false,
		ForceAttemptHTTP2:     true,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			span := trace.SpanFromContext(ctx)
			if span != nil {
				span.AddEvent("HTTP connection")
			}
			dialer := net.Dialer{Timeout: 30 * time.Second}
			return dialer.DialContext(ctx, network, addr)
		},
	}
}

// An http client that records redirects on the current span
func newClientFromRoundTrip(transport http.RoundTripper, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			span := trace.SpanFromContext(req.Context())
			if span != nil {
				span.AddEvent("HTTP redirect")
			}
			if len(via) >= 10 {
				return fmt.Errorf("stopped after %d redirects", len(via))
			}
			return nil
		},
	}
}

// NewSyncClient returns the client used for capabilities documents,
// geoserver rest calls and ckan api calls
func NewSyncClient(timeout time.Duration) *http.Client {
	// We embed the long lived transport in the retry transport
	// so that we can retry these long lived connections
	retrying := &RetryTransport{
		Base:    newLongLivedHttpTransport(),
		Retries: 3,
		Backoff: 2 * time.Second,
	}

	return newClientFromRoundTrip(otelhttp.NewTransport(userAgentTransport{base: retrying}), timeout)
}
