package zipkit

import "io"

// byteSource is the minimal capability StreamReader requires: sequential
// reads. StreamReader wraps it in its own buffer to get the look-ahead
// data-descriptor disambiguation needs.
type byteSource interface {
	io.Reader
}

// randomAccessSource is what IndexedReader requires: positional reads (so
// concurrent opens can make independent progress) plus a known length.
// *os.File and an in-memory *bytes.Reader-backed io.ReaderAt both satisfy
// this.
type randomAccessSource interface {
	io.ReaderAt
}

// byteSink is the minimal capability Writer requires: sequential writes.
// Writer tracks its own position internally via a counting wrapper rather
// than requiring the sink to expose one.
type byteSink interface {
	io.Writer
}
