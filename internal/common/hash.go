// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package common

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Download is what was written to scratch storage for one resource file
type Download struct {
	Size int64
	// hex sha256 logged with every fetched resource file
	SHA256 string
}

// SaveDownload copies a resource file into scratch storage and digests it in the same pass
func SaveDownload(destination io.Writer, source io.Reader) (Download, error) {
	digest := sha256.New()
	size, err := io.Copy(destination, io.TeeReader(source, digest))
	if err != nil {
		return Download{Size: size}, err
	}
	return Download{Size: size, SHA256: hex.EncodeToString(digest.Sum(nil))}, nil
}
