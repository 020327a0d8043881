package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialBackoffDelay(t *testing.T) {
	t.Parallel()

	b := NewExponentialBackoff(100*time.Millisecond, time.Second)
	require.Equal(t, 100*time.Millisecond, b.Delay(0))
	require.Equal(t, 200*time.Millisecond, b.Delay(1))
	require.Equal(t, 400*time.Millisecond, b.Delay(2))
	require.Equal(t, 800*time.Millisecond, b.Delay(3))
	require.Equal(t, time.Second, b.Delay(4))
	require.Equal(t, time.Second, b.Delay(500))
	require.Equal(t, 100*time.Millisecond, b.Delay(-3))
}

func TestNewExponentialBackoffDefaults(t *testing.T) {
	t.Parallel()

	b := NewExponentialBackoff(0, 0)
	require.Equal(t, DefaultBackoffBase, b.Base)
	require.Equal(t, DefaultBackoffMax, b.Max)

	b = NewExponentialBackoff(time.Second, time.Millisecond)
	require.Equal(t, time.Second, b.Max)
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	require.True(t, ShouldRetry(KindTransient, 1, 3))
	require.True(t, ShouldRetry(KindTransient, 2, 3))
	require.False(t, ShouldRetry(KindTransient, 3, 3))
	require.False(t, ShouldRetry(KindPermanent, 1, 3))
	require.False(t, ShouldRetry(KindPolicyViolation, 1, 3))
	require.False(t, ShouldRetry(KindCancelled, 1, 3))
}
