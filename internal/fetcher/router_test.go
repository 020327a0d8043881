package fetcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

type namedFetcher string

func (n namedFetcher) Fetch(_ context.Context, target collector.CrawlTarget) (collector.CrawlResult, error) {
	return collector.CrawlResult{URL: target.URL, StatusCode: 200, Body: []byte(n)}, nil
}

func TestRouterDispatchesByKind(t *testing.T) {
	t.Parallel()

	router := NewRouter(namedFetcher("http")).Route(collector.SourceAdLibrary, namedFetcher("browser"))
	ctx := context.Background()

	res, err := router.Fetch(ctx, collector.CrawlTarget{SourceKind: collector.SourceAdLibrary})
	require.NoError(t, err)
	require.Equal(t, "browser", string(res.Body))

	res, err = router.Fetch(ctx, collector.CrawlTarget{SourceKind: collector.SourceSERP})
	require.NoError(t, err)
	require.Equal(t, "http", string(res.Body))
}

func TestRouterWithoutFallbackFailsPermanently(t *testing.T) {
	t.Parallel()

	router := NewRouter(nil)
	_, err := router.Fetch(context.Background(), collector.CrawlTarget{SourceKind: collector.SourceReviews})
	require.ErrorIs(t, err, collector.ErrPermanentFetch)
	require.Equal(t, collector.KindPermanent, collector.Classify(err))
}
