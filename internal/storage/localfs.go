// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// LocalFS stores objects as files under a base directory;
// it is used for download scratch space and for reports when no bucket is set
type LocalFS struct {
	// the directory used for storing all files
	baseDir string
}

var _ Storage = &LocalFS{}

// NewLocalTempFS creates a new storage with a temporary base directory.
// If parent is empty the os temp dir is used
func NewLocalTempFS(parent string) (*LocalFS, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0755); err != nil {
			return nil, err
		}
	}
	dir, err := os.MkdirTemp(parent, "ckansync-")
	if err != nil {
		return nil, err
	}
	return &LocalFS{baseDir: dir}, nil
}

// Path returns where on disk an object is or would be stored
func (l *LocalFS) Path(object ObjectPath) string {
	return filepath.Join(l.baseDir, object)
}

// Store saves the contents from the reader into a file named after `object`
func (l *LocalFS) Store(_ context.Context, object ObjectPath, reader io.Reader) error {
	if l.baseDir == "" {
		return fmt.Errorf("baseDir is empty")
	}

	destPath := l.Path(object)
	log.Tracef("saving data to %s", destPath)

	// Make sure directory exists
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}

	destFile, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer func() { _ = destFile.Close() }()

	_, err = io.Copy(destFile, reader)
	return err
}

func (l *LocalFS) Get(_ context.Context, object ObjectPath) (io.ReadCloser, error) {
	return os.Open(l.Path(object))
}

func (l *LocalFS) Exists(_ context.Context, object ObjectPath) (bool, error) {
	_, err := os.Stat(l.Path(object))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ListDir returns the object paths, relative to the base dir, in a directory
func (l *LocalFS) ListDir(_ context.Context, prefix ObjectPath) (Set, error) {
	entries, err := os.ReadDir(l.Path(prefix))
	if errors.Is(err, os.ErrNotExist) {
		return make(Set), nil
	} else if err != nil {
		return nil, err
	}

	set := make(Set)
	for _, entry := range entries {
		set.Add(filepath.ToSlash(filepath.Join(prefix, entry.Name())))
	}
	return set, nil
}

func (l *LocalFS) Remove(_ context.Context, object ObjectPath) error {
	return os.RemoveAll(l.Path(object))
}

// Close deletes the base directory and everything in it
func (l *LocalFS) Close() error {
	return os.RemoveAll(l.baseDir)
}
