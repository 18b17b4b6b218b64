// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/trace"
	"strings"
	"syscall"
	"time"

	"github.com/internetofwater/ckansync/internal/common/projectpath"
	"github.com/internetofwater/ckansync/internal/config"
	"github.com/internetofwater/ckansync/internal/opentelemetry"
	"github.com/internetofwater/ckansync/internal/storage"
	"github.com/internetofwater/ckansync/internal/synchronizer"

	"github.com/alexflint/go-arg"
	log "github.com/sirupsen/logrus"
	otelTrace "go.opentelemetry.io/otel/trace"
)

type LayersCmd struct{}
type AccountsCmd struct{}
type AllCmd struct{}

type CkanSyncArgs struct {
	// Subcommands that can be run
	Layers   *LayersCmd   `arg:"subcommand:layers" help:"publish changed ckan resources as oskari map layers"`
	Accounts *AccountsCmd `arg:"subcommand:accounts" help:"sync ckan organizations and users to oskari roles and users"`
	All      *AllCmd      `arg:"subcommand:all" help:"sync accounts and then layers"`
	Serve    *ServeCmd    `arg:"subcommand:serve" help:"run an http server that triggers syncs on request or on an interval"`

	// Flags that can be set for config particular services / operations
	config.OskariDBConfig
	config.CkanDBConfig
	config.DumpConfig
	config.CkanConfig
	config.GeoServerConfig
	config.LayerConfig
	config.MinioConfig

	// Flags that can be set which affect all operations
	ScratchDir   string        `arg:"--scratch-dir" help:"directory for downloaded resource files; defaults to the os temp dir"`
	Workers      int           `arg:"--workers" help:"number of resources processed concurrently" default:"1"`
	Truncate     bool          `arg:"--truncate" help:"remove all users and organization roles before syncing accounts"`
	HTTPTimeout  time.Duration `arg:"--http-timeout" help:"timeout for capabilities, geoserver and ckan api requests" default:"2m"`
	LogLevel     string        `arg:"--log-level" default:"INFO"`
	Trace        bool          `arg:"--trace" help:"enable runtime profiling and tracing for performance analysis"`
	UseOtel      bool          `arg:"--use-otel"`
	OtelEndpoint string        `arg:"--otel-endpoint" help:"OpenTelemetry endpoint"`
}

// ToStructuredConfig converts the args to a structured config
// that can be used for more config isolation
func (c CkanSyncArgs) ToStructuredConfig() config.SyncConfig {
	return config.SyncConfig{
		OskariDB:    c.OskariDBConfig.ToDatabaseConfig(),
		CkanDB:      c.CkanDBConfig.ToDatabaseConfig(),
		Dumps:       c.DumpConfig,
		Ckan:        c.CkanConfig,
		GeoServer:   c.GeoServerConfig,
		Layers:      c.LayerConfig,
		Report:      c.MinioConfig,
		ScratchDir:  c.ScratchDir,
		Workers:     c.Workers,
		Truncate:    c.Truncate,
		HTTPTimeout: c.HTTPTimeout,
	}
}

// scope returns the sync scope of a one shot subcommand
func (c CkanSyncArgs) scope() (string, error) {
	switch {
	case c.Layers != nil:
		return synchronizer.ScopeLayers, nil
	case c.Accounts != nil:
		return synchronizer.ScopeAccounts, nil
	case c.All != nil:
		return synchronizer.ScopeAll, nil
	default:
		return "", fmt.Errorf("unknown ckansync subcommand")
	}
}

type CkanSyncRunner struct {
	args CkanSyncArgs
}

func NewCkanSyncRunner(cliArgs []string) CkanSyncRunner {
	args := CkanSyncArgs{}
	const dummyBinaryName = "ckansync" // we need to add some arbitrary binary name before the args; it doesn't matter
	os.Args = append([]string{dummyBinaryName}, cliArgs...)

	parser := arg.MustParse(&args)
	subCmd := parser.Subcommand()
	if subCmd == nil || subCmd == "" {
		log.Error("no subcommand provided")
		parser.WriteHelp(os.Stderr)
		os.Exit(1)
	}
	return CkanSyncRunner{
		args: args,
	}
}

func storeTracefile(ctx context.Context, reports storage.Storage, traceFile string) error {
	f, err := os.Open(traceFile)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	joinedArgs := strings.Join(os.Args[1:], "_")
	// replace all special characters with underscore
	joinedArgs = strings.NewReplacer("/", "_", ".", "_", "-", "_", ":", "_").Replace(joinedArgs)
	traceName := fmt.Sprintf("traces/trace_%s.out", joinedArgs)
	log.Debugf("Storing trace file %s", traceName)
	return reports.Store(ctx, traceName, f)
}

// Run executes the subcommand. A nil client means the default sync client is used
func (r CkanSyncRunner) Run(ctx context.Context, client *http.Client) (report synchronizer.SyncReport, err error) {
	level, err := log.ParseLevel(r.args.LogLevel)
	if err != nil {
		return report, fmt.Errorf("invalid log level %s: %w", r.args.LogLevel, err)
	}
	log.SetLevel(level)

	if r.args.UseOtel || r.args.OtelEndpoint != "" {
		if r.args.OtelEndpoint == "" {
			r.args.OtelEndpoint = opentelemetry.DefaultTracingEndpoint
		}
		log.Infof("Starting opentelemetry traces and exporting to: %s", r.args.OtelEndpoint)
		opentelemetry.InitTracer("ckansync", r.args.OtelEndpoint)
		opentelemetry.InitMetrics(opentelemetry.DefaultMetricCollectorEndpoint)
		var span otelTrace.Span
		argsAsStr := strings.Join(os.Args, "_")
		span, ctx = opentelemetry.SubSpanFromCtxWithName(ctx, argsAsStr)
		defer opentelemetry.Shutdown()
		defer span.End()
	}

	cfg := r.args.ToStructuredConfig()
	services, err := NewServices(ctx, cfg, client)
	if err != nil {
		return report, err
	}
	defer services.Close()

	if r.args.Trace {
		filePath := filepath.Join(projectpath.Root, "trace.out")
		log.Infof("Trace enabled; Outputting to %s", filePath)
		f, err := os.Create(filePath)
		if err != nil {
			return report, err
		}
		if err := trace.Start(f); err != nil {
			return report, err
		}
		defer func() {
			trace.Stop()
			_ = f.Close()
			if err := storeTracefile(ctx, services.Reports, filePath); err != nil {
				log.Errorf("error storing trace file: %v", err)
			}
		}()
	}

	if r.args.Serve != nil {
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return report, Serve(ctx, *r.args.Serve, services.Orchestrator, services.Accounts)
	}

	scope, err := r.args.scope()
	if err != nil {
		return report, err
	}
	return services.Orchestrator.Run(ctx, scope)
}

func main() {
	report, err := NewCkanSyncRunner(os.Args[1:]).Run(context.Background(), nil)
	// no run id means the sync never got to run
	if err != nil && report.RunID == "" {
		log.Fatal(err)
	}
	// a run that finished but had failures is not a fatal error that would exit 1
	// nor a user error that would exit 2
	if err != nil || report.Failed() {
		log.Warn("The sync finished with failures; check the log or the sync report for details")
		const nonFatalError = 3
		log.Exit(nonFatalError)
	}
}
