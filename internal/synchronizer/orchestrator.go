// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

// Package synchronizer runs the ckan to oskari sync passes
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/internetofwater/ckansync/internal/accounts"
	"github.com/internetofwater/ckansync/internal/ckan"
	"github.com/internetofwater/ckansync/internal/opentelemetry"
	"github.com/internetofwater/ckansync/internal/storage"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrRunInProgress = errors.New("a sync run is already in progress")

// State is the phase of the current or last run
type State int32

const (
	StateIdle State = iota
	StateReadingDump
	StateParsing
	StatePerResourceProcessing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateReadingDump:
		return "ReadingDump"
	case StateParsing:
		return "Parsing"
	case StatePerResourceProcessing:
		return "PerResourceProcessing"
	case StateDone:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Watermark decides whether a resource changed since it was last published
type Watermark interface {
	Check(ctx context.Context, resourceID, lastModified string) (time.Time, bool, error)
	RecordProcessed(ctx context.Context, resourceID string, lastModified time.Time)
}

type ResourceDispatcher interface {
	Dispatch(ctx context.Context, resource ckan.Resource, organization ckan.Organization) (PublishResult, error)
}

type CapabilitiesCache interface {
	Empty(ctx context.Context) error
}

// AccountStore mirrors organizations and users into oskari
type AccountStore interface {
	Truncate(ctx context.Context) error
	SyncRoles(ctx context.Context, organizations []ckan.Organization) ([]ckan.Organization, error)
	SyncUsers(ctx context.Context, users []ckan.User, organizations []ckan.Organization) (accounts.UserSyncResult, error)
}

type Options struct {
	// resources processed concurrently; values below 1 mean 1
	Workers int
	// remove every user and organization role before syncing accounts
	Truncate bool
}

// Orchestrator runs layer and account sync passes. Only one run happens at a time
type Orchestrator struct {
	source     ckan.Source
	watermark  Watermark
	dispatcher ResourceDispatcher
	cache      CapabilitiesCache
	accounts   AccountStore
	reports    storage.Storage
	options    Options

	state   atomic.Int32
	running atomic.Bool
}

func NewOrchestrator(source ckan.Source, watermark Watermark, dispatcher ResourceDispatcher, cache CapabilitiesCache, accountStore AccountStore, reports storage.Storage, options Options) *Orchestrator {
	if options.Workers < 1 {
		options.Workers = 1
	}
	if reports == nil {
		reports = storage.DiscardStorage{}
	}
	return &Orchestrator{
		source:     source,
		watermark:  watermark,
		dispatcher: dispatcher,
		cache:      cache,
		accounts:   accountStore,
		reports:    reports,
		options:    options,
	}
}

func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(state State) {
	log.Debugf("Sync state is now %s", state)
	o.state.Store(int32(state))
}

// Running reports whether a run is in progress
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

func (o *Orchestrator) SyncLayers(ctx context.Context) (SyncReport, error) {
	return o.Run(ctx, ScopeLayers)
}

func (o *Orchestrator) SyncAccounts(ctx context.Context) (SyncReport, error) {
	return o.Run(ctx, ScopeAccounts)
}

// SyncAll syncs accounts first so that layer permissions can refer to the organization roles
func (o *Orchestrator) SyncAll(ctx context.Context) (SyncReport, error) {
	return o.Run(ctx, ScopeAll)
}

// Run performs a sync of the given scope. The returned error is set when a
// whole pass could not run; per resource failures are only in the report
func (o *Orchestrator) Run(ctx context.Context, scope string) (SyncReport, error) {
	if scope != ScopeLayers && scope != ScopeAccounts && scope != ScopeAll {
		return SyncReport{}, fmt.Errorf("unknown sync scope %q", scope)
	}
	if !o.running.CompareAndSwap(false, true) {
		return SyncReport{}, ErrRunInProgress
	}
	defer o.running.Store(false)

	span, ctx := opentelemetry.SubSpanFromCtxWithName(ctx, "sync_"+scope)
	defer span.End()

	report := SyncReport{
		RunID:    uuid.NewString(),
		Scope:    scope,
		Started:  time.Now().UTC(),
		Failures: []ResourceFailure{},
	}
	log.Infof("Starting %s sync %s", scope, report.RunID)

	var errs []error
	if scope == ScopeAccounts || scope == ScopeAll {
		if err := o.syncAccounts(ctx, &report); err != nil {
			errs = append(errs, err)
		}
	}
	if scope == ScopeLayers || scope == ScopeAll {
		if err := o.syncLayers(ctx, &report); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		opentelemetry.RecordError(span, err)
		report.Errors = append(report.Errors, err.Error())
	}

	o.setState(StateDone)
	report.SecondsToComplete = time.Since(report.Started).Seconds()
	logReport(report)
	if storeErr := StoreReport(ctx, o.reports, report); storeErr != nil {
		log.Warnf("Could not store report of run %s: %v", report.RunID, storeErr)
	}
	return report, err
}

func (o *Orchestrator) syncLayers(ctx context.Context, report *SyncReport) error {
	if err := o.cache.Empty(ctx); err != nil {
		log.Warnf("Could not empty the capabilities cache: %v", err)
	}

	o.setState(StateReadingDump)
	lines, err := o.source.Datasets(ctx)
	if err != nil {
		return fmt.Errorf("reading datasets: %w", err)
	}

	o.setState(StateParsing)
	resources := ckan.UniqueResources(ckan.Resources(ckan.ParseDatasets(lines)))
	log.Infof("Found %d resources in %d dataset records", len(resources), len(lines))

	o.setState(StatePerResourceProcessing)
	counts := &tally{}
	var group MultiErrGroup
	group.SetLimit(o.options.Workers)
	for _, resource := range resources {
		group.Go(func() error {
			return o.processResource(ctx, resource, counts)
		})
	}
	errs := group.Wait()

	counts.addTo(report)
	report.Failures = append(report.Failures, failures(errs)...)
	return nil
}

// processResource runs the watermark gate and the publisher for one resource.
// Nothing that happens here affects other resources
func (o *Orchestrator) processResource(ctx context.Context, resource ckan.Resource, counts *tally) (err error) {
	format := strings.ToLower(resource.Format)
	span, ctx := opentelemetry.ResourceSpan(ctx, resource.UUID, format)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			log.Errorf("Recovered from panic on resource %s: %v\n%s", resource.UUID, r, stack)
			err = &PanicError{Value: r, Stack: stack}
		}
		if err != nil {
			opentelemetry.RecordError(span, err)
			opentelemetry.CountResource(format, opentelemetry.OutcomeFailed)
			log.Errorf("Error while publishing resource %s (%s): %v", resource.UUID, resource.Format, err)
			err = &ResourceError{ResourceID: resource.UUID, Format: resource.Format, Err: err}
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	lastModified, needsUpdate, err := o.watermark.Check(ctx, resource.UUID, resource.LastModified)
	if err != nil {
		return err
	}
	if !needsUpdate {
		log.Infof("Resource %s is up-to-date, skipping...", resource.Name)
		counts.skippedUpToDate()
		opentelemetry.CountResource(format, opentelemetry.OutcomeUpToDate)
		return nil
	}

	start := time.Now()
	result, err := o.dispatcher.Dispatch(ctx, resource, resource.Organization)
	if err != nil {
		return err
	}
	if result.Outcome == opentelemetry.OutcomeUnsupported {
		counts.skippedUnsupported()
		opentelemetry.CountResource(format, opentelemetry.OutcomeUnsupported)
		return nil
	}

	opentelemetry.RecordPublishDuration(format, time.Since(start).Seconds())
	o.watermark.RecordProcessed(ctx, resource.UUID, lastModified)
	counts.published(result.LayersAdded)
	opentelemetry.CountResource(format, opentelemetry.OutcomePublished)
	log.Infof("Published resource %s (%s) with %d new layers", resource.UUID, resource.Format, result.LayersAdded)
	return nil
}

func (o *Orchestrator) syncAccounts(ctx context.Context, report *SyncReport) error {
	o.setState(StateReadingDump)
	var organizationLines, userLines []string
	var loaders errgroup.Group
	loaders.Go(func() (err error) {
		organizationLines, err = o.source.Organizations(ctx)
		return err
	})
	loaders.Go(func() (err error) {
		userLines, err = o.source.Users(ctx)
		return err
	})
	if err := loaders.Wait(); err != nil {
		return fmt.Errorf("reading accounts: %w", err)
	}

	o.setState(StateParsing)
	organizations := ckan.ParseOrganizations(organizationLines)
	users := ckan.ParseUsers(userLines)
	log.Infof("Found %d organizations and %d users", len(organizations), len(users))

	if o.options.Truncate {
		if err := o.accounts.Truncate(ctx); err != nil {
			return fmt.Errorf("truncating accounts: %w", err)
		}
	}

	var errs []error
	synced, err := o.accounts.SyncRoles(ctx, organizations)
	if err != nil {
		log.Errorf("Unable to synchronize ckan organizations to oskari roles: %v", err)
		errs = append(errs, fmt.Errorf("syncing roles: %w", err))
		synced = organizations
	}

	result, err := o.accounts.SyncUsers(ctx, users, synced)
	if err != nil {
		log.Errorf("Unable to synchronize ckan users to oskari: %v", err)
		errs = append(errs, fmt.Errorf("syncing users: %w", err))
	} else {
		report.Accounts = &result
		log.Infof("Created %d, updated %d and removed %d users", result.Created, result.Updated, result.Deleted)
	}
	return errors.Join(errs...)
}
