// Package blobstore offloads oversized effect payloads to external object
// storage, selected at startup by a backend name (gcs or s3).
package blobstore

import (
	"bytes"
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store puts content-addressed blobs under a fixed bucket and returns a
// backend-qualified URI the ledger stores in place of the inline payload.
type Store interface {
	Put(key string, data []byte) (uri string, err error)
}

// GCS stores blobs in a single Google Cloud Storage bucket.
type GCS struct {
	bucket string
	client *storage.Client
}

// NewGCS dials the default application credentials and binds to bucket.
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("blobstore: gcs client: %w", err)
	}
	return &GCS{bucket: bucket, client: client}, nil
}

func (g *GCS) Put(key string, data []byte) (string, error) {
	ctx := context.Background()
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("blobstore: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("blobstore: gcs close: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", g.bucket, key), nil
}

// S3 stores blobs in a single Amazon S3 bucket.
type S3 struct {
	bucket string
	client *s3.Client
}

// NewS3 loads the default AWS config and binds to bucket.
func NewS3(ctx context.Context, bucket string) (*S3, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("blobstore: aws config: %w", err)
	}
	return &S3{bucket: bucket, client: s3.NewFromConfig(cfg)}, nil
}

func (s *S3) Put(key string, data []byte) (string, error) {
	ctx := context.Background()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: s3 put: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Open constructs the backend named by kind ("gcs" or "s3") bound to
// bucket. An empty kind disables offload entirely.
func Open(ctx context.Context, kind, bucket string) (Store, error) {
	switch kind {
	case "":
		return nil, nil
	case "gcs":
		return NewGCS(ctx, bucket)
	case "s3":
		return NewS3(ctx, bucket)
	default:
		return nil, fmt.Errorf("blobstore: unknown backend %q", kind)
	}
}
