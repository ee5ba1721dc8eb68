package zipkit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestZip64ExtraRoundTrip(t *testing.T) {
	need := zip64Fields{needUncompressedSize: true, needCompressedSize: true, needOffset: true}
	want := zip64Values{uncompressedSize: 1 << 40, compressedSize: 1 << 39, offset: 1 << 38}

	blob := buildZip64Extra(need, want)
	got, ok := parseZip64Extra(blob, need)
	assert.True(t, ok)
	assert.Equal(t, want.uncompressedSize, got.uncompressedSize)
	assert.Equal(t, want.compressedSize, got.compressedSize)
	assert.Equal(t, want.offset, got.offset)
}

func TestZip64ExtraPartialFields(t *testing.T) {
	need := zip64Fields{needCompressedSize: true}
	blob := buildZip64Extra(need, zip64Values{compressedSize: 5_000_000_000})

	// A reader that only asks for the size it actually needs must not be
	// confused by the absence of the other three fields.
	got, ok := parseZip64Extra(blob, need)
	assert.True(t, ok)
	assert.Equal(t, uint64(5_000_000_000), got.compressedSize)
}

func TestZip64ExtraAbsentWhenNothingOverflows(t *testing.T) {
	blob := buildZip64Extra(zip64Fields{}, zip64Values{})
	assert.Nil(t, blob)
}

func TestExtTimeExtraRoundTrip(t *testing.T) {
	want := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	blob := buildExtTimeExtra(want)
	got, ok := parseExtTimeExtra(blob)
	assert.True(t, ok)
	assert.True(t, want.Equal(got))
}

func TestExtraFieldIgnoresUnknownIDs(t *testing.T) {
	// A foreign extra (id 0x9999) placed before the Zip64 record must not
	// derail the scan.
	foreign := []byte{0x99, 0x99, 0x02, 0x00, 0xAA, 0xBB}
	zip64 := buildZip64Extra(zip64Fields{needOffset: true}, zip64Values{offset: 42})

	blob := append(append([]byte{}, foreign...), zip64...)
	got, ok := parseZip64Extra(blob, zip64Fields{needOffset: true})
	assert.True(t, ok)
	assert.Equal(t, uint64(42), got.offset)
}
