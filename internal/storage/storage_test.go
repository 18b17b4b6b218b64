// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	ctx := context.Background()
	storage, err := NewLocalTempFS(t.TempDir())
	require.NoError(t, err)

	err = storage.Store(ctx, "reports/sync_report_1.json", bytes.NewReader([]byte(`{"processed":1}`)))
	require.NoError(t, err)

	reader, err := storage.Get(ctx, "reports/sync_report_1.json")
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, `{"processed":1}`, string(data))

	exists, err := storage.Exists(ctx, "reports/sync_report_1.json")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = storage.Exists(ctx, "reports/missing.json")
	require.NoError(t, err)
	require.False(t, exists)

	listed, err := storage.ListDir(ctx, "reports")
	require.NoError(t, err)
	require.True(t, listed.Contains("reports/sync_report_1.json"))

	listed, err = storage.ListDir(ctx, "nothing_here")
	require.NoError(t, err)
	require.Empty(t, listed)

	require.NoError(t, storage.Remove(ctx, "reports/sync_report_1.json"))
	exists, err = storage.Exists(ctx, "reports/sync_report_1.json")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestLocalFSClose(t *testing.T) {
	storage, err := NewLocalTempFS("")
	require.NoError(t, err)
	require.NoError(t, storage.Store(context.Background(), "download.zip", bytes.NewReader([]byte("PK"))))
	_, err = os.Stat(storage.Path("download.zip"))
	require.NoError(t, err)

	require.NoError(t, storage.Close())
	_, err = os.Stat(storage.Path("download.zip"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSet(t *testing.T) {
	set := make(Set)
	set.Add("testfile.txt")
	require.True(t, set.Contains("testfile.txt"))
	require.False(t, set.Contains("testfile2.txt"))
}

func TestDiscardStorage(t *testing.T) {
	var storage Storage = DiscardStorage{}
	require.NoError(t, storage.Store(context.Background(), "a", bytes.NewReader([]byte("b"))))
	exists, err := storage.Exists(context.Background(), "a")
	require.NoError(t, err)
	require.False(t, exists)
}
