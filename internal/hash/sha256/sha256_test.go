package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherKnownDigests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{name: "nil", data: nil, want: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{name: "empty json", data: []byte("{}"), want: "44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a"},
		{name: "text", data: []byte("hello world"), want: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
	}
	h := New()
	for _, tt := range tests {
		got, err := h.Hash(tt.data)
		require.NoError(t, err, tt.name)
		require.Equal(t, tt.want, got, tt.name)
	}
}

func TestHasherDistinguishesPayloads(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.Hash([]byte(`{"ads":1}`))
	require.NoError(t, err)
	b, err := h.Hash([]byte(`{"ads":2}`))
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
