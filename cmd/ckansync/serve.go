// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/internetofwater/ckansync/internal/accounts"
	"github.com/internetofwater/ckansync/internal/oskari"
	"github.com/internetofwater/ckansync/internal/synchronizer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

type ServeCmd struct {
	Listen   string        `arg:"--listen" help:"address the trigger server listens on" default:":8085"`
	Interval time.Duration `arg:"--interval" help:"also start a sync of --scope on this interval; disabled when zero"`
	Scope    string        `arg:"--scope" help:"scope of interval syncs and of requests that don't name one" default:"all"`
}

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ckansync_http_requests_total",
			Help: "HTTP requests handled by the trigger server",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ckansync_http_request_duration_seconds",
			Help:    "Duration of HTTP requests handled by the trigger server",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	syncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ckansync_sync_runs_total",
			Help: "Sync runs started by the trigger server, by scope and outcome",
		},
		[]string{"scope", "outcome"},
	)
)

// Syncer runs a sync pass of a scope
type Syncer interface {
	Run(ctx context.Context, scope string) (synchronizer.SyncReport, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, user, password string) (accounts.Principal, error)
}

// statusRecorder captures the status code for the request metrics
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// metricsMiddleware records request counts and durations labeled by route pattern
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		path := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil && routeCtx.RoutePattern() != "" {
			path = routeCtx.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(recorder.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// trigger starts background runs and makes sure only one is active
type trigger struct {
	ctx    context.Context
	syncer Syncer
	busy   atomic.Bool
	wg     sync.WaitGroup
}

// start begins a run unless one is already in progress
func (t *trigger) start(scope string) bool {
	if !t.busy.CompareAndSwap(false, true) {
		return false
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.busy.Store(false)
		report, err := t.syncer.Run(t.ctx, scope)
		outcome := "success"
		switch {
		case err != nil && report.RunID == "":
			outcome = "error"
			log.Errorf("Sync of %s could not run: %v", scope, err)
		case err != nil || report.Failed():
			outcome = "failures"
		}
		syncRunsTotal.WithLabelValues(scope, outcome).Inc()
	}()
	return true
}

func (t *trigger) wait() {
	t.wg.Wait()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("Could not write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requireAdmin checks basic auth credentials against the oskari users
func requireAdmin(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, password, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="ckansync"`)
				writeError(w, http.StatusUnauthorized, "credentials required")
				return
			}
			principal, err := auth.Authenticate(r.Context(), user, password)
			if errors.Is(err, accounts.ErrInvalidCredentials) {
				w.Header().Set("WWW-Authenticate", `Basic realm="ckansync"`)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			if err != nil {
				log.Errorf("Could not authenticate %s: %v", user, err)
				writeError(w, http.StatusInternalServerError, "authentication failed")
				return
			}
			if !principal.HasRole(oskari.RoleAdmin) {
				writeError(w, http.StatusForbidden, "the Admin role is required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validScope(scope string) bool {
	switch scope {
	case synchronizer.ScopeLayers, synchronizer.ScopeAccounts, synchronizer.ScopeAll:
		return true
	default:
		return false
	}
}

func syncHandler(t *trigger, defaultScope string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := r.URL.Query().Get("scope")
		if scope == "" {
			scope = defaultScope
		}
		if !validScope(scope) {
			writeError(w, http.StatusBadRequest, "scope must be one of layers, accounts or all")
			return
		}
		if !t.start(scope) {
			writeError(w, http.StatusConflict, synchronizer.ErrRunInProgress.Error())
			return
		}
		log.Infof("Sync of %s triggered over http", scope)
		writeJSON(w, http.StatusAccepted, map[string]string{"scope": scope, "status": "accepted"})
	}
}

// NewRouter builds the trigger server routes
func NewRouter(t *trigger, auth Authenticator, defaultScope string) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(metricsMiddleware)

	router.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Handle("/metrics", promhttp.Handler())
	router.With(requireAdmin(auth)).Post("/api/sync", syncHandler(t, defaultScope))
	return router
}

// Serve runs the trigger server until ctx is cancelled and then waits for
// the active run to finish
func Serve(ctx context.Context, cmd ServeCmd, syncer Syncer, auth Authenticator) error {
	if !validScope(cmd.Scope) {
		return errors.New("scope must be one of layers, accounts or all")
	}
	t := &trigger{ctx: ctx, syncer: syncer}
	defer t.wait()

	srv := &http.Server{
		Addr:         cmd.Listen,
		Handler:      NewRouter(t, auth, cmd.Scope),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Trigger server listening on %s", cmd.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var ticks <-chan time.Time
	if cmd.Interval > 0 {
		ticker := time.NewTicker(cmd.Interval)
		defer ticker.Stop()
		ticks = ticker.C
		log.Infof("Syncing %s every %s", cmd.Scope, cmd.Interval)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down the trigger server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err, ok := <-errCh:
			if ok && err != nil {
				return err
			}
			return nil
		case <-ticks:
			if !t.start(cmd.Scope) {
				log.Info("Skipping scheduled sync since a run is still in progress")
			}
		}
	}
}
