// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

// Package storage holds the places a sync run writes files to:
// scratch space for downloads and the sink for sync reports
package storage

import (
	"context"
	"io"
)

// a path delimited by /
type ObjectPath = string

// a unique set of object paths with quick lookup
type Set map[ObjectPath]struct{}

func (s Set) Contains(key ObjectPath) bool {
	_, ok := s[key]
	return ok
}

func (s Set) Add(key ObjectPath) {
	s[key] = struct{}{}
}

// Storage is implemented by local disk and s3 compatible object stores
type Storage interface {
	// Store saves the contents from the reader into a named destination
	Store(ctx context.Context, object ObjectPath, reader io.Reader) error
	// Get returns a reader to the stored object
	Get(ctx context.Context, object ObjectPath) (io.ReadCloser, error)
	// Exists returns true if the object exists
	Exists(ctx context.Context, object ObjectPath) (bool, error)
	// ListDir returns the objects under a prefix
	ListDir(ctx context.Context, prefix ObjectPath) (Set, error)
	// Remove removes the object
	Remove(ctx context.Context, object ObjectPath) error
}

// DiscardStorage stores nothing and is useful for testing
type DiscardStorage struct{}

func (DiscardStorage) Store(_ context.Context, _ ObjectPath, reader io.Reader) error {
	_, err := io.Copy(io.Discard, reader)
	return err
}

func (DiscardStorage) Get(context.Context, ObjectPath) (io.ReadCloser, error) {
	return nil, nil
}

func (DiscardStorage) Exists(context.Context, ObjectPath) (bool, error) {
	return false, nil
}

func (DiscardStorage) ListDir(context.Context, ObjectPath) (Set, error) {
	return make(Set), nil
}

func (DiscardStorage) Remove(context.Context, ObjectPath) error {
	return nil
}

var _ Storage = DiscardStorage{}
