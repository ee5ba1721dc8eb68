package zipkit

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/valyala/bytebufferpool"

	"github.com/gozipkit/zipkit/flate"
)

// maxEOCDSearch is the largest trailing window that can contain an EOCD
// record: the 22-byte fixed record plus the largest possible comment.
const maxEOCDSearch = 22 + uint16max

var eocdSigBytes = le32(eocdSignature)

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// IndexedReader consumes a seekable/positionally-readable byte source,
// materialises its central directory, and serves random-access reads.
type IndexedReader struct {
	src     io.ReaderAt
	size    int64
	path    string
	closer  io.Closer
	Comment string

	entries []*IndexedEntry
	byName  map[string]*IndexedEntry
}

// OpenIndexed opens path and indexes it. The returned reader owns the file
// handle: closing it closes the file. Entries stay openable via fresh file
// handles even after this call to Close.
func OpenIndexed(path string) (*IndexedReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	r, err := buildIndexedReader(f, st.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	r.path = path
	r.closer = f
	return r, nil
}

// NewIndexedReader indexes src, which must support positional reads over
// exactly size bytes. Closing the returned reader does not close src.
func NewIndexedReader(src randomAccessSource, size int64) (*IndexedReader, error) {
	return buildIndexedReader(src, size)
}

// Close releases the file handle if this reader was opened with
// OpenIndexed. It is a no-op for readers built from a caller-supplied
// source.
func (r *IndexedReader) Close() error {
	if r.closer != nil {
		err := r.closer.Close()
		r.closer = nil
		return err
	}
	return nil
}

// Entries returns the archive's entries in central-directory order.
func (r *IndexedReader) Entries() []*IndexedEntry {
	return r.entries
}

// Lookup returns the entry for name, first-wins on duplicate filenames.
func (r *IndexedReader) Lookup(name string) (*IndexedEntry, bool) {
	e, ok := r.byName[name]
	return e, ok
}

// openSource returns a positional-read handle usable for one Open call.
// When the reader is path-backed it opens a fresh *os.File so that
// concurrent opens, and opens outstanding after the archive's own handle
// closes, keep working.
func (r *IndexedReader) openSource() (io.ReaderAt, io.Closer, error) {
	if r.path != "" {
		f, err := os.Open(r.path)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	}
	return r.src, nil, nil
}

func buildIndexedReader(src io.ReaderAt, size int64) (*IndexedReader, error) {
	eocdOff, err := findEOCD(src, size)
	if err != nil {
		return nil, err
	}

	raw, comment, err := readEOCDFixed(src, eocdOff)
	if err != nil {
		return nil, err
	}

	entriesTotal, cdSize, cdOffset, err := promoteZip64(src, eocdOff, raw)
	if err != nil {
		return nil, err
	}

	if entriesTotal > uint64(math.MaxInt32) {
		return nil, &SizeOverflowError{What: "entry count", Got: entriesTotal}
	}
	if cdOffset > uint64(math.MaxInt64) {
		return nil, &SizeOverflowError{What: "central directory offset", Got: cdOffset}
	}

	r := &IndexedReader{
		src:     src,
		size:    size,
		Comment: comment,
		byName:  make(map[string]*IndexedEntry, entriesTotal),
	}

	if err := r.materialize(cdOffset, cdSize, entriesTotal); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *IndexedReader) materialize(cdOffset, cdSize, entriesTotal uint64) error {
	sr := io.NewSectionReader(r.src, int64(cdOffset), int64(cdSize))
	br := bufio.NewReaderSize(sr, 64*1024)

	r.entries = make([]*IndexedEntry, 0, entriesTotal)
	for i := uint64(0); i < entriesTotal; i++ {
		var sigBuf [4]byte
		if _, err := io.ReadFull(br, sigBuf[:]); err != nil {
			return fmt.Errorf("zipkit: read central directory entry %d: %w", i, err)
		}
		if sig := binary.LittleEndian.Uint32(sigBuf[:]); sig != centralDirSignature {
			return &BadSignatureError{Offset: int64(cdOffset), Got: sig, Expected: centralDirSignature}
		}

		meta, err := decodeCentralHeader(br)
		if err != nil {
			return fmt.Errorf("zipkit: decode central directory entry %d: %w", i, err)
		}

		entry := &IndexedEntry{EntryMeta: *meta, archive: r}
		r.entries = append(r.entries, entry)
		if _, exists := r.byName[meta.Name]; !exists {
			r.byName[meta.Name] = entry
		}
	}
	return nil
}

// eocdRaw holds the classical EOCD's fields before any Zip64 promotion.
type eocdRaw struct {
	entriesOnDisk uint16
	entriesTotal  uint16
	cdSize        uint32
	cdOffset      uint32
}

// findEOCD scans backward from the end of src for the EOCD signature,
// trying successively larger windows so small archives (the common case)
// don't pay for a full 64 KiB read.
func findEOCD(src io.ReaderAt, size int64) (int64, error) {
	for _, w := range []int64{64, 1024, maxEOCDSearch} {
		if w > size {
			w = size
		}

		bb := bytebufferpool.Get()
		if cap(bb.B) < int(w) {
			bb.B = make([]byte, w)
		} else {
			bb.B = bb.B[:w]
		}

		start := size - w
		n, err := src.ReadAt(bb.B, start)
		if err != nil && !errors.Is(err, io.EOF) {
			bytebufferpool.Put(bb)
			return 0, fmt.Errorf("zipkit: read EOCD search window: %w", err)
		}

		data := bb.B[:n]
		idx := bytes.LastIndex(data, eocdSigBytes)
		bytebufferpool.Put(bb)

		if idx >= 0 {
			return start + int64(idx), nil
		}
		if w == size {
			break
		}
	}
	return 0, ErrNoEOCDFound
}

func readEOCDFixed(src io.ReaderAt, off int64) (*eocdRaw, string, error) {
	var buf [eocdLen]byte
	if _, err := src.ReadAt(buf[:], off); err != nil {
		return nil, "", fmt.Errorf("zipkit: read EOCD: %w", err)
	}
	if sig := binary.LittleEndian.Uint32(buf[0:4]); sig != eocdSignature {
		return nil, "", &BadSignatureError{Offset: off, Got: sig, Expected: eocdSignature}
	}

	raw := &eocdRaw{
		entriesOnDisk: binary.LittleEndian.Uint16(buf[8:10]),
		entriesTotal:  binary.LittleEndian.Uint16(buf[10:12]),
		cdSize:        binary.LittleEndian.Uint32(buf[12:16]),
		cdOffset:      binary.LittleEndian.Uint32(buf[16:20]),
	}
	commentLen := binary.LittleEndian.Uint16(buf[20:22])

	var comment string
	if commentLen > 0 {
		cbuf := make([]byte, commentLen)
		if _, err := src.ReadAt(cbuf, off+eocdLen); err != nil && !errors.Is(err, io.EOF) {
			return raw, "", fmt.Errorf("zipkit: read EOCD comment: %w", err)
		}
		comment = string(cbuf)
	}
	return raw, comment, nil
}

// promoteZip64 returns the final entry count, central-directory size and
// offset, following the Zip64 locator and Zip64 EOCD when the classical
// EOCD carries any sentinel value.
func promoteZip64(src io.ReaderAt, eocdOff int64, raw *eocdRaw) (entriesTotal, cdSize, cdOffset uint64, err error) {
	needsZip64 := raw.entriesOnDisk == uint16max ||
		raw.entriesTotal == uint16max ||
		raw.cdSize == uint32max ||
		raw.cdOffset == uint32max

	if !needsZip64 {
		return uint64(raw.entriesTotal), uint64(raw.cdSize), uint64(raw.cdOffset), nil
	}

	locOff := eocdOff - zip64LocatorLen
	if locOff < 0 {
		return 0, 0, 0, fmt.Errorf("zipkit: zip64 locator would start before the archive")
	}

	var loc [zip64LocatorLen]byte
	if _, err := src.ReadAt(loc[:], locOff); err != nil {
		return 0, 0, 0, fmt.Errorf("zipkit: read zip64 locator: %w", err)
	}
	if sig := binary.LittleEndian.Uint32(loc[0:4]); sig != zip64LocatorSignature {
		return 0, 0, 0, &BadSignatureError{Offset: locOff, Got: sig, Expected: zip64LocatorSignature}
	}
	// loc[4:8] is the disk number holding the zip64 EOCD; single-disk
	// archives only, so it's never consulted.
	zip64EOCDOffset := binary.LittleEndian.Uint64(loc[8:16])

	var hdr [12]byte
	if _, err := src.ReadAt(hdr[:], int64(zip64EOCDOffset)); err != nil {
		return 0, 0, 0, fmt.Errorf("zipkit: read zip64 EOCD header: %w", err)
	}
	if sig := binary.LittleEndian.Uint32(hdr[0:4]); sig != zip64EOCDSignature {
		return 0, 0, 0, &BadSignatureError{Offset: int64(zip64EOCDOffset), Got: sig, Expected: zip64EOCDSignature}
	}
	// hdr[4:12] is size_of_record, excluding the 12-byte sig+size header
	// itself; any bytes beyond the 44-byte fixed payload are an
	// extensible-data sector and are simply never read.

	var fixed [44]byte
	if _, err := src.ReadAt(fixed[:], int64(zip64EOCDOffset)+12); err != nil {
		return 0, 0, 0, fmt.Errorf("zipkit: read zip64 EOCD record: %w", err)
	}
	entriesTotal = binary.LittleEndian.Uint64(fixed[20:28])
	cdSize = binary.LittleEndian.Uint64(fixed[28:36])
	cdOffset = binary.LittleEndian.Uint64(fixed[36:44])
	return entriesTotal, cdSize, cdOffset, nil
}

// IndexedEntry is a central-directory entry bound to the archive it came
// from. Open may be called concurrently across distinct entries of the
// same archive as long as the archive's source permits positional reads.
type IndexedEntry struct {
	EntryMeta

	archive *IndexedReader

	mu                 sync.Mutex
	dataOffset         int64
	dataOffsetResolved bool
}

// resolveDataOffset computes and caches the entry's data offset by reading
// the fixed 30-byte prefix of its local header exactly once, on first use.
func (e *IndexedEntry) resolveDataOffset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dataOffsetResolved {
		return nil
	}

	ra, closer, err := e.archive.openSource()
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	var buf [localFileHeaderLen]byte
	if _, err := ra.ReadAt(buf[:], int64(e.LocalHeaderOffset)); err != nil {
		return fmt.Errorf("zipkit: read local header for %q: %w", e.Name, err)
	}
	if sig := binary.LittleEndian.Uint32(buf[0:4]); sig != localFileHeaderSignature {
		return &BadSignatureError{Offset: int64(e.LocalHeaderOffset), Got: sig, Expected: localFileHeaderSignature}
	}
	nameLen := binary.LittleEndian.Uint16(buf[26:28])
	extraLen := binary.LittleEndian.Uint16(buf[28:30])

	e.dataOffset = int64(e.LocalHeaderOffset) + localFileHeaderLen + int64(nameLen) + int64(extraLen)
	e.dataOffsetResolved = true
	return nil
}

// Open returns a fresh, independently positioned reader over the entry's
// decompressed contents. The returned reader verifies the entry's CRC-32
// once Read has reported io.EOF; closing after only a partial read (a
// legitimate use of random access) skips verification rather than raising
// a spurious ChecksumMismatchError over bytes that were never read.
func (e *IndexedEntry) Open() (io.ReadCloser, error) {
	if err := e.resolveDataOffset(); err != nil {
		return nil, err
	}

	ra, closer, err := e.archive.openSource()
	if err != nil {
		return nil, err
	}

	sized := io.NewSectionReader(ra, e.dataOffset, int64(e.CompressedSize))

	var body io.Reader = sized
	var decCloser io.Closer
	switch e.Method {
	case Stored:
	case Deflated:
		dr := flate.NewReader(sized)
		body, decCloser = dr, dr
	default:
		if closer != nil {
			closer.Close()
		}
		return nil, &UnsupportedCompressionError{Method: uint16(e.Method)}
	}

	return &indexedEntryReader{
		crc:        newCRCReader(body, e.Name),
		decCloser:  decCloser,
		fileCloser: closer,
		expected:   e.CRC32,
	}, nil
}

type indexedEntryReader struct {
	crc        *crcReader
	decCloser  io.Closer
	fileCloser io.Closer
	expected   uint32
	closed     bool
	reachedEOF bool
}

func (r *indexedEntryReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, &IllegalStateError{Msg: "read from closed entry reader"}
	}
	n, err := r.crc.Read(p)
	if errors.Is(err, io.EOF) {
		r.reachedEOF = true
	}
	return n, err
}

func (r *indexedEntryReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	if r.decCloser != nil {
		if err := r.decCloser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.fileCloser != nil {
		if err := r.fileCloser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.reachedEOF {
		if err := r.crc.verify(r.expected); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
