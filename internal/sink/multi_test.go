package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/intel-collector/internal/collector"
	"github.com/JakeFAU/intel-collector/internal/storage/memory"
)

type failingSink struct{ err error }

func (f failingSink) Store(context.Context, collector.CollectionResult) error { return f.err }

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	t.Parallel()

	first := memory.NewResultSink()
	second := memory.NewResultSink()
	boom := errors.New("bucket unavailable")
	multi := NewMulti(
		Named{Name: "memory-a", Sink: first},
		Named{Name: "broken", Sink: failingSink{err: boom}},
		Named{Name: "nil", Sink: nil},
		Named{Name: "memory-b", Sink: second},
	)
	require.Equal(t, 3, multi.Len())

	err := multi.Store(context.Background(), collector.CollectionResult{JobID: "j1", Success: true})
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "sink broken")
	require.Len(t, first.Results(), 1)
	require.Len(t, second.Results(), 1)
}

func TestMultiEmptyIsNoop(t *testing.T) {
	t.Parallel()

	require.NoError(t, NewMulti().Store(context.Background(), collector.CollectionResult{}))
}

func TestObjectKey(t *testing.T) {
	t.Parallel()

	key, err := ObjectKey(collector.CollectionResult{
		JobID:      "job-1",
		TargetID:   "acme/../ads",
		SourceKind: collector.SourceAdLibrary,
		Timestamp:  time.Unix(0, 42),
	})
	require.NoError(t, err)
	require.Equal(t, "ad_library/acme_.._ads/42-job-1.json", key)

	key, err = ObjectKey(collector.CollectionResult{JobID: "j", TargetID: "..", Timestamp: time.Unix(1, 0)})
	require.NoError(t, err)
	require.Equal(t, "_/_/1000000000-j.json", key)

	_, err = ObjectKey(collector.CollectionResult{})
	require.ErrorIs(t, err, collector.ErrValidation)
}
