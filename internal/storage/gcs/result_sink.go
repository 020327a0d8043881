// Package gcs provides a ResultSink backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/intel-collector/internal/collector"
	"github.com/JakeFAU/intel-collector/internal/sink"
)

// Config captures the parameters required to write to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// Uploader writes one object. BucketUploader adapts a storage.Client.
type Uploader interface {
	Upload(ctx context.Context, object, contentType string, r io.Reader) error
}

// BucketUploader uploads objects into a single bucket.
type BucketUploader struct {
	client *storage.Client
	bucket string
}

// NewBucketUploader wraps client for bucket.
func NewBucketUploader(client *storage.Client, bucket string) (*BucketUploader, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BucketUploader{client: client, bucket: bucket}, nil
}

// Upload implements Uploader.
func (u *BucketUploader) Upload(ctx context.Context, object, contentType string, r io.Reader) error {
	writer := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// ResultSink writes each collection result as a JSON object.
type ResultSink struct {
	uploader Uploader
	bucket   string
	prefix   string
}

// New creates a GCS-backed result sink.
func New(uploader Uploader, cfg Config) (*ResultSink, error) {
	if uploader == nil {
		return nil, fmt.Errorf("uploader is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &ResultSink{uploader: uploader, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Store implements collector.ResultSink.
func (s *ResultSink) Store(ctx context.Context, result collector.CollectionResult) error {
	object, err := s.ObjectName(result)
	if err != nil {
		return err
	}
	data, err := sink.Encode(result)
	if err != nil {
		return err
	}
	if err := s.uploader.Upload(ctx, object, sink.ContentType, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload gs://%s/%s: %w", s.bucket, object, err)
	}
	return nil
}

// ObjectName returns the object a result is written to.
func (s *ResultSink) ObjectName(result collector.CollectionResult) (string, error) {
	key, err := sink.ObjectKey(result)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return key, nil
	}
	return s.prefix + "/" + key, nil
}
