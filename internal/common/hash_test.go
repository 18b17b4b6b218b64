// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package common

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

func TestSaveDownload(t *testing.T) {
	var saved bytes.Buffer
	download, err := SaveDownload(&saved, strings.NewReader("hello world"))
	require.NoError(t, err)
	require.Equal(t, "hello world", saved.String())
	require.Equal(t, int64(11), download.Size)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", download.SHA256)
}

func TestSaveDownloadFailure(t *testing.T) {
	var saved bytes.Buffer
	download, err := SaveDownload(&saved, iotest.ErrReader(errors.New("connection reset")))
	require.ErrorContains(t, err, "connection reset")
	require.Empty(t, download.SHA256)
}
