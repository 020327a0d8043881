package gcs

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

type recordingUploader struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (u *recordingUploader) Upload(_ context.Context, object, contentType string, r io.Reader) error {
	if u.err != nil {
		return u.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if u.objects == nil {
		u.objects = map[string][]byte{}
		u.types = map[string]string{}
	}
	u.objects[object] = data
	u.types[object] = contentType
	return nil
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = New(&recordingUploader{}, Config{})
	require.Error(t, err)
	_, err = NewBucketUploader(nil, "b")
	require.Error(t, err)
}

func TestStoreUploadsJSONObject(t *testing.T) {
	t.Parallel()

	uploader := &recordingUploader{}
	sink, err := New(uploader, Config{Bucket: "intel", Prefix: "results"})
	require.NoError(t, err)

	result := collector.CollectionResult{
		JobID:      "job-9",
		TargetID:   "acme",
		SourceKind: collector.SourceSERP,
		Success:    true,
		Timestamp:  time.Unix(10, 0),
	}
	require.NoError(t, sink.Store(context.Background(), result))

	const object = "results/serp/acme/10000000000-job-9.json"
	require.Contains(t, uploader.objects, object)
	require.Equal(t, "application/json", uploader.types[object])
	require.Contains(t, string(uploader.objects[object]), `"job_id": "job-9"`)
}

func TestStoreWrapsUploadErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("permission denied")
	sink, err := New(&recordingUploader{err: boom}, Config{Bucket: "intel"})
	require.NoError(t, err)
	err = sink.Store(context.Background(), collector.CollectionResult{JobID: "j", Timestamp: time.Unix(1, 0)})
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "gs://intel/")
}
