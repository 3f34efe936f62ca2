// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive uploads a run's final snapshot to S3-compatible object
// storage, zstd-compressed, under <prefix>/<run id>/<filename>.zst.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/spcs-instruments/pfex/lib/config"
)

// ContentType of uploaded objects.
const ContentType = "application/zstd"

// Store is the part of *minio.Client the archiver uses.
type Store interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Object is a snapshot to archive.
type Object struct {
	RunID string
	Path  string

	// Digest is recorded as object metadata when set.
	Digest string
}

// Receipt describes a completed upload.
type Receipt struct {
	Bucket         string
	Key            string
	Size           int
	CompressedSize int
	ETag           string
}

// Archiver uploads snapshots to one bucket.
type Archiver struct {
	store  Store
	bucket string
	prefix string
	logger *slog.Logger

	mu          sync.Mutex
	bucketReady bool
}

// New connects to the object store described by cfg.
func New(cfg config.ArchiveConfig, logger *slog.Logger) (*Archiver, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("archive: endpoint is required")
	}
	if strings.Contains(cfg.Endpoint, "://") {
		return nil, fmt.Errorf("archive: endpoint must not include scheme: %q", cfg.Endpoint)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client for %s: %w", cfg.Endpoint, err)
	}
	return NewWithStore(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewWithStore returns an Archiver over an existing store.
func NewWithStore(store Store, bucket, prefix string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Archiver{
		store:  store,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// Key returns the object key for object.
func (a *Archiver) Key(object Object) string {
	return path.Join(a.prefix, object.RunID, filepath.Base(object.Path)+".zst")
}

// Upload compresses and stores object, creating the bucket on first use.
func (a *Archiver) Upload(ctx context.Context, object Object) (Receipt, error) {
	data, err := os.ReadFile(object.Path)
	if err != nil {
		return Receipt{}, fmt.Errorf("reading snapshot: %w", err)
	}
	if err := a.ensureBucket(ctx); err != nil {
		return Receipt{}, err
	}

	compressed := Compress(data)
	key := a.Key(object)
	metadata := map[string]string{"run-id": object.RunID}
	if object.Digest != "" {
		metadata["blake3"] = object.Digest
	}
	info, err := a.store.PutObject(ctx, a.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), minio.PutObjectOptions{
		ContentType:  ContentType,
		UserMetadata: metadata,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("uploading %s to bucket %s: %w", key, a.bucket, err)
	}

	receipt := Receipt{
		Bucket:         a.bucket,
		Key:            key,
		Size:           len(data),
		CompressedSize: len(compressed),
		ETag:           info.ETag,
	}
	a.logger.Info("snapshot archived",
		"bucket", receipt.Bucket,
		"key", receipt.Key,
		"bytes", receipt.Size,
		"compressed_bytes", receipt.CompressedSize,
	)
	return receipt, nil
}

func (a *Archiver) ensureBucket(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bucketReady {
		return nil
	}
	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", a.bucket, err)
	}
	if !exists {
		if err := a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("creating bucket %s: %w", a.bucket, err)
		}
		a.logger.Info("created archive bucket", "bucket", a.bucket)
	}
	a.bucketReady = true
	return nil
}

// Shared encoder and decoder; both are safe for concurrent EncodeAll and
// DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic("archive: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("archive: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress returns data as a single zstd frame.
func Compress(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

// Decompress reverses Compress.
func Decompress(compressed []byte) ([]byte, error) {
	data, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return data, nil
}
