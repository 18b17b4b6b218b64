// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package synchronizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/internetofwater/ckansync/internal/accounts"
	"github.com/internetofwater/ckansync/internal/storage"
	log "github.com/sirupsen/logrus"
)

// Scopes a run can cover
const (
	ScopeLayers   = "layers"
	ScopeAccounts = "accounts"
	ScopeAll      = "all"
)

// ResourceFailure is a resource that could not be published
type ResourceFailure struct {
	ResourceID string `json:"resourceId"`
	Format     string `json:"format"`
	Message    string `json:"message"`
}

// SyncReport summarizes a single run
type SyncReport struct {
	RunID             string    `json:"runId"`
	Scope             string    `json:"scope"`
	Started           time.Time `json:"started"`
	SecondsToComplete float64   `json:"secondsToComplete"`
	// resources that were published
	Processed   int `json:"processed"`
	UpToDate    int `json:"upToDate"`
	Unsupported int `json:"unsupported"`
	LayersAdded int `json:"layersAdded"`
	// set when accounts were part of the run
	Accounts *accounts.UserSyncResult `json:"accounts,omitempty"`
	Failures []ResourceFailure        `json:"failures"`
	// failures that are not tied to a single resource
	Errors []string `json:"errors,omitempty"`
}

// Failed reports whether anything went wrong during the run
func (r SyncReport) Failed() bool {
	return len(r.Failures) > 0 || len(r.Errors) > 0
}

// ReportPath is where the report of a run is stored
func ReportPath(runID string) storage.ObjectPath {
	return fmt.Sprintf("reports/sync_report_%s.json", runID)
}

// StoreReport writes the report as json
func StoreReport(ctx context.Context, store storage.Storage, report SyncReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return store.Store(ctx, ReportPath(report.RunID), bytes.NewReader(data))
}

// ResourceError ties an error to the resource it happened on
type ResourceError struct {
	ResourceID string
	Format     string
	Err        error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource %s (%s): %v", e.ResourceID, e.Format, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// tally collects counts from concurrent workers
type tally struct {
	mu          sync.Mutex
	processed   int
	upToDate    int
	unsupported int
	layersAdded int
}

func (t *tally) published(layersAdded int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
	t.layersAdded += layersAdded
}

func (t *tally) skippedUpToDate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.upToDate++
}

func (t *tally) skippedUnsupported() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unsupported++
}

func (t *tally) addTo(report *SyncReport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	report.Processed += t.processed
	report.UpToDate += t.upToDate
	report.Unsupported += t.unsupported
	report.LayersAdded += t.layersAdded
}

// failures turns the errors of a resource pass into report entries, ordered by resource
func failures(errs []error) []ResourceFailure {
	result := make([]ResourceFailure, 0, len(errs))
	for _, err := range errs {
		var resourceErr *ResourceError
		if errors.As(err, &resourceErr) {
			result = append(result, ResourceFailure{
				ResourceID: resourceErr.ResourceID,
				Format:     resourceErr.Format,
				Message:    resourceErr.Err.Error(),
			})
			continue
		}
		result = append(result, ResourceFailure{Message: err.Error()})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ResourceID < result[j].ResourceID
	})
	return result
}

func logReport(report SyncReport) {
	entry := log.WithFields(log.Fields{
		"run":         report.RunID,
		"scope":       report.Scope,
		"seconds":     report.SecondsToComplete,
		"processed":   report.Processed,
		"upToDate":    report.UpToDate,
		"unsupported": report.Unsupported,
		"layersAdded": report.LayersAdded,
		"failures":    len(report.Failures),
	})
	if report.Failed() {
		entry.Warn("Sync finished with failures")
		for _, failure := range report.Failures {
			log.Warnf("Resource %s (%s) failed: %s", failure.ResourceID, failure.Format, failure.Message)
		}
		for _, message := range report.Errors {
			log.Warn(message)
		}
		return
	}
	entry.Info("Sync finished")
}
