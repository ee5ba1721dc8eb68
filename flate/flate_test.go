package flate

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	want := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 100)

	var buf bytes.Buffer
	w, err := NewWriter(&buf, -1)
	require.NoError(t, err)
	_, err = w.Write(want)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := NewReader(&buf)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	assert.Equal(t, want, got)
}
