// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/spcs-instruments/pfex/lib/config"
)

type storedObject struct {
	data    []byte
	options minio.PutObjectOptions
}

type fakeStore struct {
	buckets map[string]bool
	objects map[string]storedObject
	made    int
	putErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{buckets: map[string]bool{}, objects: map[string]storedObject{}}
}

func (s *fakeStore) BucketExists(_ context.Context, bucket string) (bool, error) {
	return s.buckets[bucket], nil
}

func (s *fakeStore) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	s.made++
	s.buckets[bucket] = true
	return nil
}

func (s *fakeStore) PutObject(_ context.Context, bucket, object string, reader io.Reader, size int64, options minio.PutObjectOptions) (minio.UploadInfo, error) {
	if s.putErr != nil {
		return minio.UploadInfo{}, s.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(data)) != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}
	s.objects[bucket+"/"+object] = storedObject{data: data, options: options}
	return minio.UploadInfo{Bucket: bucket, Key: object, ETag: "etag-1", Size: size}, nil
}

func writeSnapshot(t *testing.T) (string, []byte) {
	t.Helper()
	content := []byte(strings.Repeat("[device.DAQ1.data]\ncounts = [1.0, 2.0, 3.0]\n", 50))
	path := filepath.Join(t.TempDir(), "scan_02_06_2025_09_30_00_250.toml")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path, content
}

func TestUpload(t *testing.T) {
	store := newFakeStore()
	archiver := NewWithStore(store, "pfex-runs", "/lab-3/", nil)
	path, content := writeSnapshot(t)

	receipt, err := archiver.Upload(context.Background(), Object{RunID: "run-1", Path: path, Digest: "abc123"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	wantKey := "lab-3/run-1/scan_02_06_2025_09_30_00_250.toml.zst"
	if receipt.Key != wantKey {
		t.Errorf("Key = %q, want %q", receipt.Key, wantKey)
	}
	if receipt.Size != len(content) || receipt.CompressedSize >= receipt.Size {
		t.Errorf("receipt sizes = %d/%d", receipt.CompressedSize, receipt.Size)
	}
	if store.made != 1 {
		t.Errorf("MakeBucket called %d times, want 1", store.made)
	}

	stored := store.objects["pfex-runs/"+wantKey]
	decompressed, err := Decompress(stored.data)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decompressed, content) {
		t.Error("stored object does not decompress to the snapshot")
	}
	if stored.options.ContentType != ContentType {
		t.Errorf("ContentType = %q", stored.options.ContentType)
	}
	if stored.options.UserMetadata["blake3"] != "abc123" || stored.options.UserMetadata["run-id"] != "run-1" {
		t.Errorf("metadata = %v", stored.options.UserMetadata)
	}

	// The bucket check happens once per Archiver.
	if _, err := archiver.Upload(context.Background(), Object{RunID: "run-2", Path: path}); err != nil {
		t.Fatal(err)
	}
	if store.made != 1 {
		t.Errorf("MakeBucket called %d times after second upload", store.made)
	}
}

func TestUploadErrors(t *testing.T) {
	store := newFakeStore()
	archiver := NewWithStore(store, "pfex-runs", "", nil)

	if _, err := archiver.Upload(context.Background(), Object{RunID: "r", Path: filepath.Join(t.TempDir(), "missing.toml")}); err == nil {
		t.Error("Upload of a missing file succeeded")
	}

	store.putErr = errors.New("access denied")
	path, _ := writeSnapshot(t)
	_, err := archiver.Upload(context.Background(), Object{RunID: "r", Path: path})
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Errorf("Upload error = %v", err)
	}
}

func TestNewValidatesEndpoint(t *testing.T) {
	for _, endpoint := range []string{"", "https://s3.example.org"} {
		if _, err := New(config.ArchiveConfig{Endpoint: endpoint, Bucket: "b"}, nil); err == nil {
			t.Errorf("New(%q) succeeded", endpoint)
		}
	}
	if _, err := New(config.ArchiveConfig{Endpoint: "localhost:9000", Bucket: "b", AccessKey: "a", SecretKey: "s"}, nil); err != nil {
		t.Errorf("New: %v", err)
	}
}
