package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/watchlist/{target_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Delete("/v1/watchlist/{target_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	missBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodDelete, "404"))

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/v1/watchlist/acme", nil),
		httptest.NewRequest(http.MethodGet, "/v1/watchlist/globex", nil),
		httptest.NewRequest(http.MethodDelete, "/v1/watchlist/ghost", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.InDelta(t, okBefore+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200")), 0)
	require.InDelta(t, missBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodDelete, "404")), 0)

	// Both target IDs collapse onto the route pattern label.
	require.Equal(t, 2, testutil.CollectAndCount(httpRequestDurationSeconds))
}
