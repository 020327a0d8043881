package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusOK, KindNone},
		{http.StatusMovedPermanently, KindNone},
		{http.StatusBadRequest, KindPermanent},
		{http.StatusNotFound, KindPermanent},
		{http.StatusRequestTimeout, KindTransient},
		{http.StatusTooManyRequests, KindTransient},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusServiceUnavailable, KindTransient},
		{0, KindPermanent},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ClassifyStatus(tc.status), "status %d", tc.status)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	require.Equal(t, KindNone, Classify(nil))
	require.Equal(t, KindPolicyViolation, Classify(fmt.Errorf("gate: %w", ErrPolicyViolation)))
	require.Equal(t, KindCancelled, Classify(context.Canceled))
	require.Equal(t, KindCancelled, Classify(ErrCancelled))
	require.Equal(t, KindTransient, Classify(context.DeadlineExceeded))
	require.Equal(t, KindTransient, Classify(errors.New("connection reset by peer")))
	require.Equal(t, KindPermanent, Classify(NewStatusError("https://example.com", http.StatusForbidden)))
	require.Equal(t, KindTransient, Classify(NewStatusError("https://example.com", http.StatusServiceUnavailable)))
	require.Equal(t, KindPermanent, Classify(fmt.Errorf("%w: url has no host", ErrValidation)))
	require.Equal(t, KindPermanent, Classify(&FetchError{Kind: KindPermanent, URL: "u", Err: errors.New("malformed body")}))
}

func TestFetchErrorUnwrapsKindAndCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := fmt.Errorf("worker: %w", &FetchError{Kind: KindTransient, URL: "https://a.test", Err: cause})

	require.ErrorIs(t, err, ErrTransientFetch)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, ErrPermanentFetch)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Contains(t, fe.Error(), "https://a.test")
}

func TestStatusErrorMessage(t *testing.T) {
	t.Parallel()

	err := NewStatusError("https://example.com/x", http.StatusServiceUnavailable)
	require.Equal(t, http.StatusServiceUnavailable, err.StatusCode)
	require.Contains(t, err.Error(), "status 503")
	require.ErrorIs(t, err, ErrTransientFetch)
}
