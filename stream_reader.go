package zipkit

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gozipkit/zipkit/flate"
)

// StreamReader consumes a non-seekable byte source and yields entries in
// archive order. Only one entry is live at a time: calling
// Next again closes and drains whatever entry was previously returned.
type StreamReader struct {
	br      *bufio.Reader
	closer  io.Closer
	current *StreamEntry
	done    bool
}

// NewStreamReader wraps r. Closing the returned StreamReader does not close
// r; callers that want that must close r themselves.
func NewStreamReader(r byteSource) *StreamReader {
	return &StreamReader{br: bufio.NewReaderSize(r, 32*1024)}
}

// OpenStream opens path and returns a StreamReader that owns the resulting
// file handle: closing the reader closes the file.
func OpenStream(path string) (*StreamReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := NewStreamReader(f)
	r.closer = f
	return r, nil
}

// Close releases the underlying file handle if this reader was constructed
// with OpenStream. It is a no-op otherwise.
func (r *StreamReader) Close() error {
	if r.closer != nil {
		err := r.closer.Close()
		r.closer = nil
		return err
	}
	return nil
}

// Next closes and drains the previously returned entry (if any), then
// parses and returns the next one. It returns io.EOF once the next
// signature in the stream is neither a local-file header nor a stray data
// descriptor.
func (r *StreamReader) Next() (*StreamEntry, error) {
	if r.done {
		return nil, io.EOF
	}
	if r.current != nil {
		prev := r.current
		r.current = nil
		if err := prev.Close(); err != nil {
			return nil, err
		}
	}

	for {
		var sigBuf [4]byte
		if _, err := io.ReadFull(r.br, sigBuf[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				r.done = true
				return nil, io.EOF
			}
			return nil, err
		}

		switch binary.LittleEndian.Uint32(sigBuf[:]) {
		case localFileHeaderSignature:
			entry, err := r.openEntry()
			if err != nil {
				return nil, err
			}
			r.current = entry
			return entry, nil

		case dataDescriptorSignature:
			// Reachable only for a malformed/foreign archive: normal
			// operation always consumes an owed descriptor inside
			// StreamEntry.Close before Next loops back here. A signature
			// here with nothing open is an error rather than something to
			// skip past silently.
			return nil, ErrUnexpectedDataDescriptor

		default:
			r.done = true
			return nil, io.EOF
		}
	}
}

func (r *StreamReader) openEntry() (*StreamEntry, error) {
	meta, err := decodeLocalHeader(r.br)
	if err != nil {
		return nil, err
	}

	deferred := meta.hasDataDescriptor()

	var body io.Reader
	var closer io.Closer

	switch meta.Method {
	case Stored:
		body = io.LimitReader(r.br, int64(meta.CompressedSize))
	case Deflated:
		var dr flate.Reader
		if meta.CompressedSize == 0 && deferred {
			dr = flate.NewReader(r.br)
		} else {
			dr = flate.NewReader(io.LimitReader(r.br, int64(meta.CompressedSize)))
		}
		body, closer = dr, dr
	default:
		return nil, &UnsupportedCompressionError{Method: uint16(meta.Method)}
	}

	return &StreamEntry{
		EntryMeta: *meta,
		parent:    r,
		crc:       newCRCReader(body, meta.Name),
		closer:    closer,
		deferred:  deferred,
	}, nil
}

type dataDescriptorValues struct {
	crc32            uint32
	compressedSize   uint64
	uncompressedSize uint64
}

// readDataDescriptor consumes the 12- or 24-byte trailing data descriptor
// for the entry that was just drained, disambiguating 32- vs. 64-bit sizes.
func (r *StreamReader) readDataDescriptor() (dataDescriptorValues, error) {
	var sig [4]byte
	if _, err := io.ReadFull(r.br, sig[:]); err != nil {
		return dataDescriptorValues{}, fmt.Errorf("zipkit: read data descriptor: %w", err)
	}

	crcBuf := sig
	if binary.LittleEndian.Uint32(sig[:]) == dataDescriptorSignature {
		if _, err := io.ReadFull(r.br, crcBuf[:]); err != nil {
			return dataDescriptorValues{}, fmt.Errorf("zipkit: read data descriptor crc: %w", err)
		}
	}
	crc := binary.LittleEndian.Uint32(crcBuf[:])

	if r.descriptorUses64BitSizes() {
		var buf [16]byte
		if _, err := io.ReadFull(r.br, buf[:]); err != nil {
			return dataDescriptorValues{}, fmt.Errorf("zipkit: read 64-bit data descriptor sizes: %w", err)
		}
		return dataDescriptorValues{
			crc32:            crc,
			compressedSize:   binary.LittleEndian.Uint64(buf[0:8]),
			uncompressedSize: binary.LittleEndian.Uint64(buf[8:16]),
		}, nil
	}

	var buf [8]byte
	if _, err := io.ReadFull(r.br, buf[:]); err != nil {
		return dataDescriptorValues{}, fmt.Errorf("zipkit: read 32-bit data descriptor sizes: %w", err)
	}
	return dataDescriptorValues{
		crc32:            crc,
		compressedSize:   uint64(binary.LittleEndian.Uint32(buf[0:4])),
		uncompressedSize: uint64(binary.LittleEndian.Uint32(buf[4:8])),
	}, nil
}

// descriptorUses64BitSizes looks ahead up to 20 bytes to decide whether the
// size fields that follow the descriptor's CRC-32 are two uint32s or two
// uint64s. It checks for a known signature 8 bytes ahead (32-bit
// hypothesis) before checking 16 bytes ahead (64-bit hypothesis),
// defaulting to 32-bit if neither is conclusive, including when fewer than
// 20 bytes remain to peek at.
func (r *StreamReader) descriptorUses64BitSizes() bool {
	peek, _ := r.br.Peek(20)
	if len(peek) >= 12 && isKnownSignature(peek[8:12]) {
		return false
	}
	if len(peek) >= 20 && isKnownSignature(peek[16:20]) {
		return true
	}
	return false
}

func isKnownSignature(b []byte) bool {
	switch binary.LittleEndian.Uint32(b) {
	case localFileHeaderSignature, centralDirSignature, eocdSignature, dataDescriptorSignature:
		return true
	default:
		return false
	}
}

// StreamEntry is a live view onto one archive entry's decoded data. It is
// valid only until the StreamReader it came from advances to the next
// entry or is closed; any use afterward should be treated as undefined by
// callers.
type StreamEntry struct {
	EntryMeta

	parent   *StreamReader
	crc      *crcReader
	closer   io.Closer
	deferred bool
	closed   bool
}

// Read returns the entry's decompressed bytes.
func (e *StreamEntry) Read(p []byte) (int, error) {
	if e.closed {
		return 0, &IllegalStateError{Msg: "read from closed stream entry"}
	}
	return e.crc.Read(p)
}

// Close drains any unread bytes, closes the decompressor, resolves a
// trailing data descriptor if one was owed, and verifies the CRC-32. It is
// safe to call multiple times.
func (e *StreamEntry) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	if _, err := io.Copy(io.Discard, e.crc); err != nil {
		return err
	}
	if e.closer != nil {
		if err := e.closer.Close(); err != nil {
			return err
		}
	}

	expected := e.CRC32
	if e.deferred {
		desc, err := e.parent.readDataDescriptor()
		if err != nil {
			return err
		}
		e.CRC32 = desc.crc32
		e.CompressedSize = desc.compressedSize
		e.UncompressedSize = desc.uncompressedSize
		expected = desc.crc32
	}

	return e.crc.verify(expected)
}
