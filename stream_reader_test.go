package zipkit

import (
	"bytes"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamReaderChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	wc, err := w.Create("foo.txt", time.Now())
	require.NoError(t, err)
	_, err = io.WriteString(wc, "some payload worth corrupting")
	require.NoError(t, err)
	require.NoError(t, wc.Close())
	require.NoError(t, w.Close())

	raw := buf.Bytes()

	// Flip a bit inside the compressed payload: past the local header's
	// fixed 30 bytes, the filename, and the extended-timestamp extra (9
	// bytes) the writer always attaches.
	corruptAt := localFileHeaderLen + len("foo.txt") + 9 + 2
	raw[corruptAt] ^= 0xff

	sr := NewStreamReader(bytes.NewReader(raw))
	entry, err := sr.Next()
	require.NoError(t, err)

	_, readErr := io.ReadAll(entry)
	closeErr := entry.Close()
	err = readErr
	if err == nil {
		err = closeErr
	}

	var mismatch *ChecksumMismatchError
	assert.ErrorAsf(t, err, &mismatch, "expected a checksum mismatch, got %v / %v", readErr, closeErr)
}

func TestIndexedReaderLookupMissingEntry(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	wc, err := w.Create("foo.txt", time.Now())
	require.NoError(t, err)
	require.NoError(t, wc.Close())
	require.NoError(t, w.Close())

	r, err := NewIndexedReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	_, ok := r.Lookup("baz.txt")
	assert.False(t, ok)
}

func TestStreamReaderOpenStreamOwnsFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/test.zip"

	f, err := os.Create(path)
	require.NoError(t, err)
	w := NewWriter(f)
	wc, err := w.Create("only.txt", time.Now())
	require.NoError(t, err)
	_, err = io.WriteString(wc, "contents")
	require.NoError(t, err)
	require.NoError(t, wc.Close())
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	sr, err := OpenStream(path)
	require.NoError(t, err)
	entry, err := sr.Next()
	require.NoError(t, err)
	assert.Equal(t, "only.txt", entry.Name)
	require.NoError(t, sr.Close())
}
