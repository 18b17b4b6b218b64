// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package projectpath

import (
	"path/filepath"
	"runtime"
)

// Root lets tests and the runtime trace resolve paths relative to the repo
// root no matter which package they run from
var (
	_, b, _, _ = runtime.Caller(0)

	// Root folder of this project
	Root = filepath.Join(filepath.Dir(b), "../../..")
)
