// Package flate wraps github.com/klauspost/compress/flate so zipkit never
// falls back to the stdlib compress/flate implementation.
package flate

import (
	"io"

	kflate "github.com/klauspost/compress/flate"
)

// Writer is the subset of *kflate.Writer the core engine depends on.
type Writer interface {
	io.Writer
	Flush() error
	Close() error
	Reset(dst io.Writer)
}

// NewWriter returns a DEFLATE compressor writing to dst at the given level.
// level follows compress/flate's convention (kflate.DefaultCompression for
// -1, kflate.NoCompression..kflate.BestCompression for 0..9).
func NewWriter(dst io.Writer, level int) (Writer, error) {
	return kflate.NewWriter(dst, level)
}

// Reader is the subset of io.ReadCloser a DEFLATE decompressor exposes. It
// signals end-of-stream independently of any outer byte count.
type Reader interface {
	io.Reader
	io.Closer
}

// NewReader returns a DEFLATE decompressor reading from src.
func NewReader(src io.Reader) Reader {
	return kflate.NewReader(src)
}
