package zipkit

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalHeaderRoundTrip(t *testing.T) {
	want := &EntryMeta{
		VersionNeeded:    version20,
		Method:           Deflated,
		ModTime:          time.Date(2026, 8, 6, 9, 30, 0, 0, time.UTC),
		CRC32:            0xdeadbeef,
		CompressedSize:   123,
		UncompressedSize: 456,
		Name:             "hello.txt",
		Extra:            []byte{},
	}

	var buf bytes.Buffer
	require.NoError(t, encodeLocalHeader(&buf, want))

	var sig [4]byte
	_, err := buf.Read(sig[:])
	require.NoError(t, err)
	require.Equal(t, uint32(localFileHeaderSignature), binary.LittleEndian.Uint32(sig[:]))

	got, err := decodeLocalHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, want.CRC32, got.CRC32)
	assert.Equal(t, want.CompressedSize, got.CompressedSize)
	assert.Equal(t, want.UncompressedSize, got.UncompressedSize)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Method, got.Method)
}

// TestLocalHeaderZip64SentinelScenario covers a local
// header with both sizes sentinel-marked and a single Zip64 extra carrying
// uncompressed = compressed = 5.
func TestLocalHeaderZip64SentinelScenario(t *testing.T) {
	var buf [localFileHeaderLen - 4]byte // after the already-consumed signature
	b := writeBuf(buf[:])
	b.uint16(version45)
	b.uint16(0)
	b.uint16(uint16(Deflated))
	b.uint16(0)
	b.uint16(0)
	b.uint32(0)
	b.uint32(uint32max)
	b.uint32(uint32max)
	b.uint16(0)  // name length: no filename
	b.uint16(20) // extra length: 4-byte record header + 16-byte payload

	extra := make([]byte, 20)
	binary.LittleEndian.PutUint16(extra[0:2], zip64ExtraID)
	binary.LittleEndian.PutUint16(extra[2:4], 16)
	binary.LittleEndian.PutUint64(extra[4:12], 5)
	binary.LittleEndian.PutUint64(extra[12:20], 5)

	src := bytes.NewBuffer(nil)
	src.Write(buf[:])
	src.Write(extra)

	got, err := decodeLocalHeader(src)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.UncompressedSize)
	assert.Equal(t, uint64(5), got.CompressedSize)
}

func TestCentralHeaderRoundTrip(t *testing.T) {
	want := &EntryMeta{
		VersionMadeBy:     version20,
		VersionNeeded:     version20,
		Method:            Stored,
		ModTime:           time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		CRC32:             42,
		CompressedSize:    10,
		UncompressedSize:  10,
		Name:              "dir/file.bin",
		Extra:             []byte{},
		Comment:           "a comment",
		LocalHeaderOffset: 1000,
	}

	var buf bytes.Buffer
	require.NoError(t, encodeCentralHeader(&buf, want, uint32(want.CompressedSize), uint32(want.UncompressedSize), uint32(want.LocalHeaderOffset), 0))

	var sig [4]byte
	_, err := buf.Read(sig[:])
	require.NoError(t, err)
	require.Equal(t, uint32(centralDirSignature), binary.LittleEndian.Uint32(sig[:]))

	got, err := decodeCentralHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Comment, got.Comment)
	assert.Equal(t, want.LocalHeaderOffset, got.LocalHeaderOffset)
}

func TestCentralHeaderRejectsMultiDisk(t *testing.T) {
	want := &EntryMeta{Name: "a"}
	var buf bytes.Buffer
	require.NoError(t, encodeCentralHeader(&buf, want, 0, 0, 0, 0))

	raw := buf.Bytes()
	binary.LittleEndian.PutUint16(raw[34:36], 1) // disk number start

	src := bytes.NewReader(raw[4:])
	_, err := decodeCentralHeader(src)
	assert.ErrorIs(t, err, ErrMultiDisk)
}

func TestDetectUTF8(t *testing.T) {
	valid, require_ := detectUTF8("plain.txt")
	assert.True(t, valid)
	assert.False(t, require_)

	valid, require_ = detectUTF8("résumé.txt")
	assert.True(t, valid)
	assert.True(t, require_)
}
