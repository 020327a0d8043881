package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", Timeout: time.Second})
	c := f.buildCollector(time.Unix(0, 0), &collector.CrawlResult{}, new(error))
	require.Equal(t, "coverage-agent", c.UserAgent)
	require.True(t, c.IgnoreRobotsTxt)
	require.True(t, c.AllowURLRevisit)
}

func TestNewDefaultsTimeout(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultTimeout, New(Config{}).cfg.Timeout)
	require.Equal(t, time.Second, New(Config{Timeout: time.Second}).cfg.Timeout)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Headers: http.Header{"X-Trace": {"yes"}}})
	var result collector.CrawlResult
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
	require.Equal(t, http.StatusBadGateway, result.StatusCode)
}

func TestFetcherFetchSuccessAndRevisit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>" + r.UserAgent() + "</html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "intel-collector-test"})
	target := collector.CrawlTarget{URL: srv.URL + "/ads"}
	for i := 0; i < 2; i++ {
		res, err := f.Fetch(context.Background(), target)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Equal(t, "<html>intel-collector-test</html>", string(res.Body))
	}
}

func TestFetcherClassifiesStatusCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		kind   collector.ErrorKind
	}{
		{http.StatusServiceUnavailable, collector.KindTransient},
		{http.StatusTooManyRequests, collector.KindTransient},
		{http.StatusNotFound, collector.KindPermanent},
		{http.StatusForbidden, collector.KindPermanent},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		_, err := New(Config{}).Fetch(context.Background(), collector.CrawlTarget{URL: srv.URL})
		srv.Close()

		var fetchErr *collector.FetchError
		require.ErrorAs(t, err, &fetchErr, "status %d", tc.status)
		require.Equal(t, tc.status, fetchErr.StatusCode)
		require.Equal(t, tc.kind, collector.Classify(err), "status %d", tc.status)
	}
}

func TestFetcherHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := New(Config{}).Fetch(ctx, collector.CrawlTarget{URL: srv.URL})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, collector.KindCancelled, collector.Classify(err))
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
