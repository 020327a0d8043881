package stub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

func TestStubReplaysScriptThenRepeatsLast(t *testing.T) {
	t.Parallel()

	const u = "https://reviews.example.com/acme"
	f := New().Script(u,
		Response{Status: 503},
		Response{Status: 200, Body: []byte("ok")},
	)
	ctx := context.Background()
	target := collector.CrawlTarget{URL: u}

	_, err := f.Fetch(ctx, target)
	require.ErrorIs(t, err, collector.ErrTransientFetch)

	for i := 0; i < 2; i++ {
		res, err := f.Fetch(ctx, target)
		require.NoError(t, err)
		require.Equal(t, "ok", string(res.Body))
	}
	require.Equal(t, 3, f.Calls(u))
}

func TestStubDefaultAndErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	f := New().Script("https://x.example.com", Response{Err: boom})
	ctx := context.Background()

	res, err := f.Fetch(ctx, collector.CrawlTarget{URL: "https://other.example.com"})
	require.NoError(t, err)
	require.Equal(t, 200, res.StatusCode)

	_, err = f.Fetch(ctx, collector.CrawlTarget{URL: "https://x.example.com"})
	require.ErrorIs(t, err, boom)
}

func TestStubDelayHonorsContext(t *testing.T) {
	t.Parallel()

	f := New()
	f.Default = Response{Delay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, collector.CrawlTarget{URL: "https://slow.example.com"})
	require.ErrorIs(t, err, context.Canceled)
}
