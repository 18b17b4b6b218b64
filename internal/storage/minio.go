// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/internetofwater/ckansync/internal/config"
	"github.com/internetofwater/ckansync/internal/opentelemetry"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
)

// MinioStorage stores objects in a single bucket of an s3 compatible server
type MinioStorage struct {
	// Base client for accessing minio
	Client *minio.Client
	// all objects are stored in this bucket
	DefaultBucket string
}

var _ Storage = &MinioStorage{}

// NewMinioStorage creates a client from the report config; no connection is made yet
func NewMinioStorage(mcfg config.MinioConfig) (*MinioStorage, error) {
	endpoint := mcfg.Address
	if mcfg.Port != 0 {
		endpoint = fmt.Sprintf("%s:%d", mcfg.Address, mcfg.Port)
	}

	options := &minio.Options{
		Creds:  credentials.NewStaticV4(mcfg.Accesskey, mcfg.Secretkey, ""),
		Secure: mcfg.SSL,
	}
	if mcfg.Region == "" {
		log.Debug("Minio client created with no region set")
	} else {
		options.Region = mcfg.Region
	}

	client, err := minio.New(endpoint, options)
	if err != nil {
		return nil, err
	}
	return &MinioStorage{Client: client, DefaultBucket: mcfg.Bucket}, nil
}

// MakeDefaultBucket creates the bucket if it does not exist yet
func (m *MinioStorage) MakeDefaultBucket(ctx context.Context) error {
	exists, err := m.Client.BucketExists(ctx, m.DefaultBucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return m.Client.MakeBucket(ctx, m.DefaultBucket, minio.MakeBucketOptions{})
}

func (m *MinioStorage) Store(ctx context.Context, object ObjectPath, reader io.Reader) error {
	span, ctx := opentelemetry.SubSpanFromCtx(ctx)
	defer span.End()

	_, err := m.Client.PutObject(ctx, m.DefaultBucket, object, reader, -1, minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func (m *MinioStorage) Get(ctx context.Context, object ObjectPath) (io.ReadCloser, error) {
	return m.Client.GetObject(ctx, m.DefaultBucket, object, minio.GetObjectOptions{})
}

func (m *MinioStorage) Exists(ctx context.Context, object ObjectPath) (bool, error) {
	_, err := m.Client.StatObject(ctx, m.DefaultBucket, object, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, err
}

func (m *MinioStorage) ListDir(ctx context.Context, prefix ObjectPath) (Set, error) {
	set := make(Set)
	for object := range m.Client.ListObjects(ctx, m.DefaultBucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, object.Err
		}
		set.Add(object.Key)
	}
	return set, nil
}

func (m *MinioStorage) Remove(ctx context.Context, object ObjectPath) error {
	return m.Client.RemoveObject(ctx, m.DefaultBucket, object, minio.RemoveObjectOptions{GovernanceBypass: true})
}
