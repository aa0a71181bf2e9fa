package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Gobusters/ectologger"

	"github.com/civiclens/clover/pkg/tracing"
)

const uploadTimeout = 2 * time.Minute

// GCSStore stores documents in a Google Cloud Storage bucket using
// Application Default Credentials.
type GCSStore struct {
	client *storage.Client
	bucket string
	logger ectologger.Logger
}

func NewGCSStore(ctx context.Context, bucket string, logger ectologger.Logger) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: bucket,
		logger: logger,
	}, nil
}

func (s *GCSStore) Put(ctx context.Context, objectName string, data []byte) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "objectstore.GCSStore.Put")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %q: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload of %q: %w", objectName, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", s.bucket, objectName)
	s.logger.WithContext(ctx).WithFields(map[string]any{"uri": uri, "bytes": len(data)}).Debug("Stored document")
	return uri, nil
}

func (s *GCSStore) Fetch(ctx context.Context, uri string) ([]byte, error) {
	ctx, span := tracing.StartSpan(ctx, "objectstore.GCSStore.Fetch")
	defer span.End()

	bucket, objectPath, err := splitURI(uri)
	if err != nil {
		return nil, err
	}

	rc, err := s.client.Bucket(bucket).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, objectPath, err)
	}
	defer rc.Close()

	return io.ReadAll(rc)
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func splitURI(uri string) (bucket, objectPath string, err error) {
	trimmed, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("invalid storage URI: %s", uri)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("invalid storage URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// MemoryStore keeps objects in memory. It backs local development and tests
// where no bucket is configured.
type MemoryStore struct {
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, objectName string, data []byte) (string, error) {
	uri := "mem://" + objectName
	s.objects[uri] = bytes.Clone(data)
	return uri, nil
}

func (s *MemoryStore) Fetch(_ context.Context, uri string) ([]byte, error) {
	data, ok := s.objects[uri]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", uri)
	}
	return data, nil
}
