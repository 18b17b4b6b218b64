// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/internetofwater/ckansync/internal/accounts"
	"github.com/internetofwater/ckansync/internal/common/projectpath"
	"github.com/internetofwater/ckansync/internal/database"
	"github.com/internetofwater/ckansync/internal/synchronizer"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestDefaultArgs(t *testing.T) {
	runner := NewCkanSyncRunner([]string{"layers"})
	require.NotNil(t, runner.args.Layers)
	require.Equal(t, 1, runner.args.Workers)
	require.Equal(t, "EPSG:3857", runner.args.ForcedSRS)
	require.Equal(t, "EPSG:3067", runner.args.CurrentCRS)
	require.True(t, runner.args.ShpResourceWorkspaces)
	require.False(t, runner.args.GeoTIFFResourceWorkspaces)
	require.Equal(t, "/tmp/ckandatasetsdump.jsonl", runner.args.DatasetsDump)
	require.Equal(t, "http://localhost:8080/geoserver", runner.args.GeoServerURL)
	require.Equal(t, 2*time.Minute, runner.args.HTTPTimeout)
}

func TestToStructuredConfig(t *testing.T) {
	runner := NewCkanSyncRunner([]string{"all",
		"--oskari-db-url", "postgres://db:5432/oskaridb",
		"--oskari-db-user", "osk",
		"--workers", "4",
		"--truncate",
		"--secondary-datasets-dump", "/data/more.jsonl",
		"--forced-srs", "EPSG:3857,EPSG:4326",
	})
	cfg := runner.args.ToStructuredConfig()
	require.Equal(t, "postgres://db:5432/oskaridb", cfg.OskariDB.URL)
	require.Equal(t, "osk", cfg.OskariDB.User)
	require.Equal(t, 4, cfg.Workers)
	require.True(t, cfg.Truncate)
	require.Equal(t, "/data/more.jsonl", cfg.Dumps.SecondaryDatasetDump)
	require.Equal(t, []string{"EPSG:3857", "EPSG:4326"}, cfg.Layers.ForcedSRSList())
}

func TestScope(t *testing.T) {
	for subcommand, scope := range map[string]string{
		"layers":   synchronizer.ScopeLayers,
		"accounts": synchronizer.ScopeAccounts,
		"all":      synchronizer.ScopeAll,
	} {
		got, err := NewCkanSyncRunner([]string{subcommand}).args.scope()
		require.NoError(t, err)
		require.Equal(t, scope, got)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := NewCkanSyncRunner([]string{"layers", "--log-level", "LOUD"}).Run(context.Background(), nil)
	require.ErrorContains(t, err, "invalid log level")
}

const (
	resourceID = "a0a0a0a0-0000-4000-8000-000000000001"
	// "correct horse" hashed the way ckan stores passwords
	jdoeHash = "$pbkdf2-sha512$25000$AAECAwQFBgcICQoLDA0ODw$no0pQATH8VKOEmBWJw50YZrk2tmzRj9A"
)

type CkanSyncSuite struct {
	suite.Suite
	postgres database.PostgresContainer
	wms      *httptest.Server
	dumps    string
}

func (s *CkanSyncSuite) SetupSuite() {
	container, err := database.NewOskariPostgresContainer(context.Background())
	s.Require().NoError(err)
	s.postgres = container

	capabilities := filepath.Join(projectpath.Root, "internal", "capabilities", "testdata", "wms_130.xml")
	s.wms = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		http.ServeFile(w, r, capabilities)
	}))

	s.dumps = s.T().TempDir()
	s.writeDump("organizations.jsonl", `{"name":"water-board","title":"Water Board","users":[{"name":"jdoe"}]}`)
	s.writeDump("users.jsonl", fmt.Sprintf(`{"name":"jdoe","fullname":"Jane Doe","email":"j@example.com","password_hash":%q}`, jdoeHash))
	s.writeDump("datasets.jsonl", fmt.Sprintf(
		`{"name":"landuse","title":"Land use","organization":{"name":"water-board","title":"Water Board"},"resources":[{"id":%q,"url":"%s/wms?service=WMS","format":"WMS","last_modified":"2023-05-04T10:11:12.123456","name":"Land use WMS"}]}`,
		resourceID, s.wms.URL))
}

func (s *CkanSyncSuite) TearDownSuite() {
	s.wms.Close()
	s.Require().NoError(s.postgres.Container.Terminate(context.Background()))
}

func (s *CkanSyncSuite) writeDump(name, content string) {
	s.Require().NoError(os.WriteFile(filepath.Join(s.dumps, name), []byte(content+"\n"), 0o644))
}

func (s *CkanSyncSuite) args(subcommand string) []string {
	return []string{subcommand,
		"--oskari-db-url", s.postgres.Config.URL,
		"--organizations-dump", filepath.Join(s.dumps, "organizations.jsonl"),
		"--users-dump", filepath.Join(s.dumps, "users.jsonl"),
		"--datasets-dump", filepath.Join(s.dumps, "datasets.jsonl"),
		"--scratch-dir", s.T().TempDir(),
		"--log-level", "DEBUG",
	}
}

func (s *CkanSyncSuite) TestSyncAllTwice() {
	ctx := context.Background()
	t := s.T()

	report, err := NewCkanSyncRunner(s.args("all")).Run(ctx, nil)
	require.NoError(t, err)
	require.False(t, report.Failed(), "%+v", report.Failures)
	require.Equal(t, 1, report.Processed)
	require.Equal(t, 2, report.LayersAdded)
	require.NotNil(t, report.Accounts)

	pool, err := database.Connect(ctx, s.postgres.Config)
	require.NoError(t, err)
	defer pool.Close()

	var layerCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM oskari_maplayer`).Scan(&layerCount))
	require.Equal(t, 2, layerCount)

	var permissionCount int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM oskari_permission p JOIN oskari_roles r ON p.external_id = r.id::text WHERE r.name = 'water-board'`).
		Scan(&permissionCount))
	require.Equal(t, 2*5, permissionCount)

	// the second run changes nothing since the resource did not change
	report, err = NewCkanSyncRunner(s.args("all")).Run(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 0, report.Processed)
	require.Equal(t, 1, report.UpToDate)
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM oskari_maplayer`).Scan(&layerCount))
	require.Equal(t, 2, layerCount)

	// the synced user can log in with the password they have in ckan
	principal, err := accounts.NewStore(pool).Authenticate(ctx, "jdoe", "correct horse")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"User", "water-board"}, principal.Roles)
}

func TestCkanSyncSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container based tests in short mode")
	}
	suite.Run(t, new(CkanSyncSuite))
}
