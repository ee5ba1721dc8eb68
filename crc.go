package zipkit

import (
	"hash/crc32"
	"io"
)

// crcReader wraps an entry's decoded byte stream, accumulating an IEEE
// CRC-32 (polynomial 0xEDB88320, init/final xor 0xFFFFFFFF) as bytes are
// read, via stdlib hash/crc32's Update-based accumulation.
//
// Verification is deliberately NOT automatic on EOF: for entries using a
// trailing data descriptor the authoritative CRC-32 isn't known until after
// the body has been fully read, so the caller calls verify explicitly once
// it has the expected value in hand.
type crcReader struct {
	r    io.Reader
	name string
	hash uint32
}

func newCRCReader(r io.Reader, name string) *crcReader {
	return &crcReader{r: r, name: name}
}

func (c *crcReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.hash = crc32.Update(c.hash, crc32.IEEETable, p[:n])
	}
	return n, err
}

// verify compares the accumulated CRC-32 against expected.
func (c *crcReader) verify(expected uint32) error {
	if c.hash != expected {
		return &ChecksumMismatchError{Name: c.name, Got: c.hash, Expected: expected}
	}
	return nil
}
