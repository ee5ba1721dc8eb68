package zipkit

import (
	"bytes"
	"hash/crc32"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterRoundTripDeflated(t *testing.T) {
	contents := map[string]string{
		"foo.txt": "contents of foo",
		"bar.txt": "contents of bar",
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, name := range []string{"foo.txt", "bar.txt"} {
		wc, err := w.Create(name, time.Now())
		require.NoError(t, err)
		_, err = io.WriteString(wc, contents[name])
		require.NoError(t, err)
		require.NoError(t, wc.Close())
	}
	require.NoError(t, w.Close())

	sr := NewStreamReader(bytes.NewReader(buf.Bytes()))
	for _, name := range []string{"foo.txt", "bar.txt"} {
		entry, err := sr.Next()
		require.NoError(t, err)
		assert.Equal(t, name, entry.Name)
		got, err := io.ReadAll(entry)
		require.NoError(t, err)
		assert.Equal(t, contents[name], string(got))
	}
	_, err := sr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriterRoundTripStored(t *testing.T) {
	data := []byte("raw bytes, stored verbatim")
	sum := crc32.ChecksumIEEE(data)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	wc, err := w.CreateStored("raw.bin", time.Now(), sum, uint64(len(data)))
	require.NoError(t, err)
	_, err = wc.Write(data)
	require.NoError(t, err)
	require.NoError(t, wc.Close())
	require.NoError(t, w.Close())

	sr := NewStreamReader(bytes.NewReader(buf.Bytes()))
	entry, err := sr.Next()
	require.NoError(t, err)
	got, err := io.ReadAll(entry)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	require.NoError(t, entry.Close())
}

func TestWriterRejectsDuplicateFilename(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	wc, err := w.Create("foo.txt", time.Now())
	require.NoError(t, err)
	require.NoError(t, wc.Close())

	_, err = w.Create("foo.txt", time.Now())
	var dupErr *DuplicateEntryFilenameError
	assert.ErrorAs(t, err, &dupErr)

	require.NoError(t, w.Close())
}

func TestWriterCreateDir(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.CreateDir("assets", time.Now()))
	require.NoError(t, w.Close())

	r, err := NewIndexedReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, r.Entries(), 1)
	assert.Equal(t, "assets/", r.Entries()[0].Name)
	assert.True(t, r.Entries()[0].IsDir())
}

func TestWriterSetComment(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.SetComment("archive comment"))
	require.NoError(t, w.Close())

	r, err := NewIndexedReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Equal(t, "archive comment", r.Comment)
}

// TestWriterCreateHeaderExtraAndComment writes a custom extra field and a
// per-entry comment through the public Writer API and confirms both land
// on the central directory entry, byte-for-byte, as seen through the
// IndexedReader, and that the extra also leads the local header's extra as
// seen through the StreamReader.
func TestWriterCreateHeaderExtraAndComment(t *testing.T) {
	customExtra := []byte{0xAD, 0xDE, 0x04, 0x00, 0x01, 0x02, 0x03, 0x04}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	wc, err := w.CreateHeader(&EntryMeta{
		Name:    "note.txt",
		ModTime: time.Now(),
		Method:  Deflated,
		Comment: "entry-level comment",
		Extra:   customExtra,
	})
	require.NoError(t, err)
	_, err = io.WriteString(wc, "hello")
	require.NoError(t, err)
	require.NoError(t, wc.Close())
	require.NoError(t, w.Close())

	r, err := NewIndexedReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, r.Entries(), 1)
	entry := r.Entries()[0]
	assert.Equal(t, "entry-level comment", entry.Comment)
	assert.Contains(t, string(entry.Extra), string(customExtra))
	assert.Equal(t, customExtra, entry.Extra[:len(customExtra)])

	rc, err := entry.Open()
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	require.NoError(t, rc.Close())

	sr := NewStreamReader(bytes.NewReader(buf.Bytes()))
	streamEntry, err := sr.Next()
	require.NoError(t, err)
	assert.Equal(t, customExtra, streamEntry.Extra[:len(customExtra)])
	got, err = io.ReadAll(streamEntry)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

// TestWriterCreateHeaderRejectsUnsupportedMethod confirms CreateHeader
// validates Method the same way the readers do.
func TestWriterCreateHeaderRejectsUnsupportedMethod(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.CreateHeader(&EntryMeta{Name: "x", Method: CompressionMethod(99)})
	var unsupported *UnsupportedCompressionError
	assert.ErrorAs(t, err, &unsupported)
}

// TestWriterHundredEntries covers an archive large enough to exercise the
// per-entry bookkeeping at scale.
func TestWriterHundredEntries(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for i := 0; i < 100; i++ {
		name := "foo" + strconv.Itoa(i) + ".txt"
		wc, err := w.Create(name, time.Now())
		require.NoError(t, err)
		_, err = io.WriteString(wc, "some contents "+strconv.Itoa(i))
		require.NoError(t, err)
		require.NoError(t, wc.Close())
	}
	require.NoError(t, w.Close())

	r, err := NewIndexedReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Len(t, r.Entries(), 100)
}
