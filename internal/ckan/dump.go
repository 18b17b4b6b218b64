// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package ckan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/internetofwater/ckansync/internal/config"
	log "github.com/sirupsen/logrus"
)

// ckan dataset lines with many resources can be large
const maxLineSize = 64 * 1024 * 1024

// Source provides the raw jsonl records of a sync pass
type Source interface {
	Organizations(ctx context.Context) ([]string, error)
	Users(ctx context.Context) ([]string, error)
	Datasets(ctx context.Context) ([]string, error)
}

// ReadLines returns every non blank line of a jsonl stream
func ReadLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// ReadDump reads a jsonl dump file from disk
func ReadDump(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dump %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	lines, err := ReadLines(file)
	if err != nil {
		return nil, fmt.Errorf("reading dump %s: %w", path, err)
	}
	log.Debugf("Read %d records from %s", len(lines), path)
	return lines, nil
}

// DumpSource reads records from the jsonl files exported by ckan
type DumpSource struct {
	Paths config.DumpConfig
}

func (d DumpSource) Organizations(ctx context.Context) ([]string, error) {
	return ReadDump(d.Paths.OrganizationsDump)
}

func (d DumpSource) Users(ctx context.Context) ([]string, error) {
	return ReadDump(d.Paths.UsersDump)
}

// Datasets returns the primary dump followed by the secondary dump.
// A secondary dump that is not configured or not present is skipped
func (d DumpSource) Datasets(ctx context.Context) ([]string, error) {
	lines, err := ReadDump(d.Paths.DatasetsDump)
	if err != nil {
		return nil, err
	}
	if d.Paths.SecondaryDatasetDump == "" {
		return lines, nil
	}
	secondary, err := ReadDump(d.Paths.SecondaryDatasetDump)
	if errors.Is(err, os.ErrNotExist) {
		log.Warnf("Secondary dataset dump %s does not exist, skipping", d.Paths.SecondaryDatasetDump)
		return lines, nil
	} else if err != nil {
		return nil, err
	}
	return append(lines, secondary...), nil
}

var _ Source = DumpSource{}
