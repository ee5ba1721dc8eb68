package zipkit

import (
	"bufio"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strings"
	"time"

	"github.com/gozipkit/zipkit/flate"
)

// Writer assembles a ZIP archive onto a byte sink, one entry at a time.
// Entries must be added in order; an entry's contents must be fully written
// (and the returned io.WriteCloser closed) before the next
// Create/CreateDir/Close call.
type Writer struct {
	cw      *countWriter
	dir     []*EntryMeta
	names   map[string]struct{}
	comment string

	current  *entryWriter
	closed   bool
	poisoned error
}

// NewWriter returns a Writer that emits a ZIP archive to w.
func NewWriter(w byteSink) *Writer {
	return &Writer{
		cw:    &countWriter{w: bufio.NewWriter(w)},
		names: make(map[string]struct{}),
	}
}

// SetComment sets the end-of-central-directory comment. It must be called
// before Close.
func (w *Writer) SetComment(comment string) error {
	if len(comment) > uint16max {
		return fmt.Errorf("zipkit: comment too long: %d bytes", len(comment))
	}
	w.comment = comment
	return nil
}

// fail poisons the writer: every subsequent operation (other than Close,
// which just returns the same error) fails immediately.
func (w *Writer) fail(err error) error {
	if w.poisoned == nil {
		w.poisoned = err
	}
	return err
}

func (w *Writer) checkUsable() error {
	if w.closed {
		return &IllegalStateError{Msg: "write to closed writer"}
	}
	if w.poisoned != nil {
		return w.poisoned
	}
	if w.current != nil {
		return &IllegalStateError{Msg: "previous entry not closed before adding another"}
	}
	return nil
}

// Create begins a new DEFLATED entry named name with modTime as its
// modification time. The caller writes uncompressed bytes to the returned
// io.WriteCloser and closes it to finalize the entry; CRC-32 and sizes are
// computed automatically and recorded via a trailing data descriptor.
func (w *Writer) Create(name string, modTime time.Time) (io.WriteCloser, error) {
	return w.CreateHeader(&EntryMeta{Name: name, ModTime: modTime, Method: Deflated})
}

// CreateStored begins a new STORED entry. The caller must supply the exact
// CRC-32 and size of data up front; data is written verbatim with no
// descriptor.
func (w *Writer) CreateStored(name string, modTime time.Time, crc32Val uint32, size uint64) (io.WriteCloser, error) {
	return w.CreateHeader(&EntryMeta{
		Name:             name,
		ModTime:          modTime,
		Method:           Stored,
		CRC32:            crc32Val,
		CompressedSize:   size,
		UncompressedSize: size,
	})
}

// CreateDir adds an empty directory entry. name is canonicalized to end in
// exactly one '/'.
func (w *Writer) CreateDir(name string, modTime time.Time) error {
	name = strings.TrimRight(name, "/") + "/"
	wc, err := w.CreateHeader(&EntryMeta{Name: name, ModTime: modTime, Method: Stored})
	if err != nil {
		return err
	}
	return wc.Close()
}

// CreateHeader begins a new entry described by meta, the caller-supplied
// counterpart to the EntryMeta a reader hands back. Name and Method are
// required; Method must be Stored or Deflated. ModTime, Comment and Extra
// are optional and carried through to the central directory verbatim,
// alongside the archive's own extended-timestamp extra. For a Stored entry,
// CRC32/CompressedSize/UncompressedSize must already hold the exact values
// of the data about to be written; for a Deflated entry they are computed
// automatically and recorded via a trailing data descriptor.
//
// meta.Extra, if set, must not itself contain a Zip64 extended-information
// record (header ID 0x0001); the writer appends its own when a field
// overflows 32 bits.
func (w *Writer) CreateHeader(meta *EntryMeta) (io.WriteCloser, error) {
	if err := w.checkUsable(); err != nil {
		return nil, err
	}
	if meta.Method != Stored && meta.Method != Deflated {
		return nil, &UnsupportedCompressionError{Method: uint16(meta.Method)}
	}
	if _, dup := w.names[meta.Name]; dup {
		return nil, &DuplicateEntryFilenameError{Name: meta.Name}
	}

	valid, requireUTF8 := detectUTF8(meta.Name)
	if !valid {
		return nil, fmt.Errorf("zipkit: filename %q is not valid UTF-8", meta.Name)
	}

	callerExtra := meta.Extra
	entry := &EntryMeta{
		VersionMadeBy:     version20,
		VersionNeeded:     version20,
		Method:            meta.Method,
		ModTime:           meta.ModTime,
		CRC32:             meta.CRC32,
		CompressedSize:    meta.CompressedSize,
		UncompressedSize:  meta.UncompressedSize,
		Name:              meta.Name,
		Comment:           meta.Comment,
		Extra:             append(append([]byte{}, callerExtra...), buildExtTimeExtra(meta.ModTime)...),
		LocalHeaderOffset: w.cw.count,
	}
	if requireUTF8 {
		entry.Flags |= flagUTF8
	}

	deferred := meta.Method == Deflated
	if deferred {
		entry.Flags |= flagDescriptor
	}

	// The local header is written with whatever sizes/CRC entry currently
	// holds: zero for deferred DEFLATED entries, caller-supplied for
	// STORED. For a STORED entry whose size alone overflows 32 bits we
	// still write the sentinel and a matching Zip64 extra so a reader
	// that consults the local header directly sees consistent data; a
	// deferred DEFLATED entry needs none of this because the trailing
	// descriptor carries the real values.
	localMeta := *entry
	if !deferred {
		need := zip64Fields{
			needUncompressedSize: meta.UncompressedSize > uint32max,
			needCompressedSize:   meta.CompressedSize > uint32max,
		}
		if need.needUncompressedSize || need.needCompressedSize {
			localMeta.VersionNeeded = version45
			localMeta.Extra = append(append([]byte{}, entry.Extra...), buildZip64Extra(need, zip64Values{
				uncompressedSize: meta.UncompressedSize,
				compressedSize:   meta.CompressedSize,
			})...)
			localMeta.CompressedSize = uint32max
			localMeta.UncompressedSize = uint32max
		}
	}

	if err := encodeLocalHeader(w.cw, &localMeta); err != nil {
		return nil, w.fail(err)
	}

	w.names[entry.Name] = struct{}{}
	w.dir = append(w.dir, entry)

	if entry.IsDir() {
		return nopWriteCloser{}, nil
	}

	ew := &entryWriter{w: w, meta: entry, deferred: deferred}
	if meta.Method == Deflated {
		fw, err := flate.NewWriter(w.cw, -1)
		if err != nil {
			return nil, w.fail(err)
		}
		ew.flate = fw
	}
	w.current = ew
	return ew, nil
}

// entryWriter is the io.WriteCloser returned for an in-progress entry. For
// DEFLATED entries, writes go through a DEFLATE encoder while a CRC-32
// accumulator observes the uncompressed bytes.
type entryWriter struct {
	w                *Writer
	meta             *EntryMeta
	deferred         bool
	flate            flate.Writer
	crc              uint32
	uncompressedSize uint64
	closed           bool
}

func (e *entryWriter) Write(p []byte) (int, error) {
	if e.closed {
		return 0, &IllegalStateError{Msg: "write to closed entry"}
	}
	e.crc = crc32.Update(e.crc, crc32.IEEETable, p)
	e.uncompressedSize += uint64(len(p))

	if e.flate != nil {
		n, err := e.flate.Write(p)
		if err != nil {
			return n, e.w.fail(err)
		}
		return n, nil
	}

	n, err := e.w.cw.Write(p)
	if err != nil {
		return n, e.w.fail(err)
	}
	return n, nil
}

func (e *entryWriter) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.w.current = nil

	if e.flate == nil {
		// STORED: caller already declared sizes; trust them rather than
		// the bytes actually observed.
		return nil
	}

	// The encoder may already have emitted blocks during Write, so the
	// compressed data is counted from the end of the local header (which
	// carries no Zip64 extra for a deferred entry), not from here.
	startCount := e.meta.LocalHeaderOffset + localFileHeaderLen + uint64(len(e.meta.Name)) + uint64(len(e.meta.Extra))
	if err := e.flate.Close(); err != nil {
		return e.w.fail(err)
	}
	e.meta.CompressedSize = e.w.cw.count - startCount
	e.meta.CRC32 = e.crc
	e.meta.UncompressedSize = e.uncompressedSize

	if err := e.writeDataDescriptor(); err != nil {
		return e.w.fail(err)
	}
	return nil
}

// writeDataDescriptor emits {0x08074B50, CRC, compressed, uncompressed},
// preferring 32-bit sizes and falling back to 64-bit only when a size
// doesn't fit.
func (e *entryWriter) writeDataDescriptor() error {
	use64 := e.meta.CompressedSize > uint32max || e.meta.UncompressedSize > uint32max

	var buf []byte
	if use64 {
		buf = make([]byte, dataDescriptor64Len)
	} else {
		buf = make([]byte, dataDescriptorLen)
	}
	b := writeBuf(buf)
	b.uint32(dataDescriptorSignature)
	b.uint32(e.meta.CRC32)
	if use64 {
		b.uint64(e.meta.CompressedSize)
		b.uint64(e.meta.UncompressedSize)
	} else {
		b.uint32(uint32(e.meta.CompressedSize))
		b.uint32(uint32(e.meta.UncompressedSize))
	}
	_, err := e.w.cw.Write(buf)
	return err
}

// Close finalizes the archive: central directory, Zip64 EOCD + locator
// (when needed), and the classical EOCD. It is an error to call Close while an entry is still open.
func (w *Writer) Close() error {
	if w.closed {
		return &IllegalStateError{Msg: "writer closed twice"}
	}
	if w.current != nil {
		return &IllegalStateError{Msg: "close called with an entry still open"}
	}
	if w.poisoned != nil {
		w.closed = true
		return w.poisoned
	}
	w.closed = true

	cdOffset := w.cw.count
	for _, m := range w.dir {
		if err := w.writeCentralEntry(m); err != nil {
			return w.fail(err)
		}
	}
	cdEnd := w.cw.count
	cdSize := cdEnd - cdOffset

	entriesTotal := uint64(len(w.dir))
	needZip64 := entriesTotal >= uint16max || cdSize >= uint32max || cdOffset >= uint32max

	eocdEntries, eocdCDSize, eocdCDOffset := entriesTotal, cdSize, cdOffset
	if needZip64 {
		if err := w.writeZip64EOCDAndLocator(entriesTotal, cdSize, cdOffset, cdEnd); err != nil {
			return w.fail(err)
		}
		eocdEntries, eocdCDSize, eocdCDOffset = uint16max, uint32max, uint32max
	}

	if err := w.writeEOCD(eocdEntries, eocdCDSize, eocdCDOffset); err != nil {
		return w.fail(err)
	}
	return w.cw.w.Flush()
}

func (w *Writer) writeCentralEntry(m *EntryMeta) error {
	need := zip64Fields{
		needUncompressedSize: m.UncompressedSize > uint32max,
		needCompressedSize:   m.CompressedSize > uint32max,
		needOffset:           m.LocalHeaderOffset > uint32max,
	}

	centralMeta := *m
	compressed32, uncompressed32, offset32 := uint32(m.CompressedSize), uint32(m.UncompressedSize), uint32(m.LocalHeaderOffset)

	if need.needUncompressedSize || need.needCompressedSize || need.needOffset {
		centralMeta.VersionNeeded = version45
		centralMeta.Extra = append(append([]byte{}, m.Extra...), buildZip64Extra(need, zip64Values{
			uncompressedSize: m.UncompressedSize,
			compressedSize:   m.CompressedSize,
			offset:           m.LocalHeaderOffset,
		})...)
		if need.needUncompressedSize {
			uncompressed32 = uint32max
		}
		if need.needCompressedSize {
			compressed32 = uint32max
		}
		if need.needOffset {
			offset32 = uint32max
		}
	}

	var externalAttrs uint32
	if m.IsDir() {
		externalAttrs = 0x10 // FILE_ATTRIBUTE_DIRECTORY, matching common producers
	}

	return encodeCentralHeader(w.cw, &centralMeta, compressed32, uncompressed32, offset32, externalAttrs)
}

func (w *Writer) writeZip64EOCDAndLocator(entriesTotal, cdSize, cdOffset, zip64EOCDOffset uint64) error {
	var buf [zip64EOCDFixedLen + zip64LocatorLen]byte
	b := writeBuf(buf[:])

	b.uint32(zip64EOCDSignature)
	b.uint64(zip64EOCDFixedLen - 12)
	b.uint16(version45)
	b.uint16(version45)
	b.uint32(0) // this disk
	b.uint32(0) // disk with start of central directory
	b.uint64(entriesTotal)
	b.uint64(entriesTotal)
	b.uint64(cdSize)
	b.uint64(cdOffset)

	b.uint32(zip64LocatorSignature)
	b.uint32(0) // disk with start of zip64 EOCD
	b.uint64(zip64EOCDOffset)
	b.uint32(1) // total number of disks

	_, err := w.cw.Write(buf[:])
	return err
}

func (w *Writer) writeEOCD(entriesTotal, cdSize, cdOffset uint64) error {
	var buf [eocdLen]byte
	b := writeBuf(buf[:])
	b.uint32(eocdSignature)
	b.uint16(0) // this disk
	b.uint16(0) // disk with start of central directory
	b.uint16(uint16(entriesTotal))
	b.uint16(uint16(entriesTotal))
	b.uint32(uint32(cdSize))
	b.uint32(uint32(cdOffset))
	b.uint16(uint16(len(w.comment)))

	if _, err := w.cw.Write(buf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w.cw, w.comment)
	return err
}

// countWriter tracks the current byte position so headers/descriptors can
// record offsets and sizes without the underlying sink exposing a Seek or
// Tell method.
type countWriter struct {
	w     *bufio.Writer
	count uint64
}

func (w *countWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.count += uint64(n)
	return n, err
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return 0, errors.New("zipkit: write to directory entry")
}

func (nopWriteCloser) Close() error { return nil }
