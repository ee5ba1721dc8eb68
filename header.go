package zipkit

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

// EntryMeta is the per-entry descriptor shared between local file headers
// and central-directory headers. It is populated by both header codecs and
// consulted by the writer.
type EntryMeta struct {
	VersionNeeded uint16
	VersionMadeBy uint16
	Flags         uint16
	Method        CompressionMethod
	ModTime       time.Time
	CRC32         uint32

	CompressedSize   uint64
	UncompressedSize uint64

	Name    string
	Extra   []byte
	Comment string

	LocalHeaderOffset uint64
	DiskStart         uint16
}

// IsDir reports whether the entry represents a directory, i.e. its name is
// forward-slash-terminated.
func (m *EntryMeta) IsDir() bool {
	return strings.HasSuffix(m.Name, "/")
}

// hasDataDescriptor reports whether gp-flag bit 3 is set: sizes and CRC-32
// are deferred to a trailing data descriptor.
func (m *EntryMeta) hasDataDescriptor() bool {
	return m.Flags&flagDescriptor != 0
}

// decodeLocalHeader reads a local file header's fixed 30-byte portion plus
// its filename and extra field from src. The caller must already have
// consumed the 4-byte local-file signature.
func decodeLocalHeader(src io.Reader) (*EntryMeta, error) {
	var buf [26]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return nil, fmt.Errorf("zipkit: read local header: %w", err)
	}

	m := &EntryMeta{
		VersionNeeded: binary.LittleEndian.Uint16(buf[0:2]),
		Flags:         binary.LittleEndian.Uint16(buf[2:4]),
		Method:        CompressionMethod(binary.LittleEndian.Uint16(buf[4:6])),
		CRC32:         binary.LittleEndian.Uint32(buf[10:14]),
	}
	compressed32 := binary.LittleEndian.Uint32(buf[14:18])
	uncompressed32 := binary.LittleEndian.Uint32(buf[18:22])
	m.CompressedSize = uint64(compressed32)
	m.UncompressedSize = uint64(uncompressed32)
	m.ModTime = dosTimeToTime(binary.LittleEndian.Uint16(buf[8:10]), binary.LittleEndian.Uint16(buf[6:8]))

	nameLen := binary.LittleEndian.Uint16(buf[22:24])
	extraLen := binary.LittleEndian.Uint16(buf[24:26])

	nameAndExtra := make([]byte, int(nameLen)+int(extraLen))
	if _, err := io.ReadFull(src, nameAndExtra); err != nil {
		return nil, fmt.Errorf("zipkit: read local header name/extra: %w", err)
	}
	m.Name = string(nameAndExtra[:nameLen])
	m.Extra = nameAndExtra[nameLen:]

	// Only consult the Zip64 extra for fields whose 32-bit base value was
	// the overflow sentinel. Some producers write full 64-bit sizes without
	// the sentinel; we treat that as non-conforming but accept it, i.e. we
	// never override a value that wasn't sentinel-marked.
	need := zip64Fields{
		needUncompressedSize: uncompressed32 == uint32max,
		needCompressedSize:   compressed32 == uint32max,
	}
	if need.needUncompressedSize || need.needCompressedSize {
		if v, ok := parseZip64Extra(m.Extra, need); ok {
			if need.needUncompressedSize {
				m.UncompressedSize = v.uncompressedSize
			}
			if need.needCompressedSize {
				m.CompressedSize = v.compressedSize
			}
		}
	}

	if mtime, ok := parseExtTimeExtra(m.Extra); ok {
		m.ModTime = mtime
	}

	return m, nil
}

// encodeLocalHeader writes the 30-byte fixed portion plus filename and
// extra for m to dst, committing to whatever sizes/CRC m currently holds.
// Callers that need deferred sizes (DEFLATED with an unknown size up
// front) must set flagDescriptor and zero sizes/CRC before calling this.
func encodeLocalHeader(dst io.Writer, m *EntryMeta) error {
	if len(m.Name) > uint16max {
		return fmt.Errorf("zipkit: filename too long: %d bytes", len(m.Name))
	}
	if len(m.Extra) > uint16max {
		return fmt.Errorf("zipkit: extra field too long: %d bytes", len(m.Extra))
	}

	var buf [localFileHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(localFileHeaderSignature)
	b.uint16(m.VersionNeeded)
	b.uint16(m.Flags)
	b.uint16(uint16(m.Method))
	dosDate, dosTime := timeToDosTime(m.ModTime)
	b.uint16(dosTime)
	b.uint16(dosDate)
	b.uint32(m.CRC32)
	b.uint32(uint32(min(m.CompressedSize, uint32max)))
	b.uint32(uint32(min(m.UncompressedSize, uint32max)))
	b.uint16(uint16(len(m.Name)))
	b.uint16(uint16(len(m.Extra)))

	if _, err := dst.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(dst, m.Name); err != nil {
		return err
	}
	_, err := dst.Write(m.Extra)
	return err
}

// decodeCentralHeader reads a central-directory header's fixed 42-byte
// portion plus filename, extra and comment from src. The caller must
// already have consumed the 4-byte central-directory signature.
func decodeCentralHeader(src io.Reader) (*EntryMeta, error) {
	var buf [42]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return nil, fmt.Errorf("zipkit: read central header: %w", err)
	}

	m := &EntryMeta{
		VersionMadeBy: binary.LittleEndian.Uint16(buf[0:2]),
		VersionNeeded: binary.LittleEndian.Uint16(buf[2:4]),
		Flags:         binary.LittleEndian.Uint16(buf[4:6]),
		Method:        CompressionMethod(binary.LittleEndian.Uint16(buf[6:8])),
		CRC32:         binary.LittleEndian.Uint32(buf[12:16]),
	}
	compressed32 := binary.LittleEndian.Uint32(buf[16:20])
	uncompressed32 := binary.LittleEndian.Uint32(buf[20:24])
	m.CompressedSize = uint64(compressed32)
	m.UncompressedSize = uint64(uncompressed32)
	m.ModTime = dosTimeToTime(binary.LittleEndian.Uint16(buf[10:12]), binary.LittleEndian.Uint16(buf[8:10]))

	nameLen := binary.LittleEndian.Uint16(buf[24:26])
	extraLen := binary.LittleEndian.Uint16(buf[26:28])
	commentLen := binary.LittleEndian.Uint16(buf[28:30])
	diskStart16 := binary.LittleEndian.Uint16(buf[30:32])
	m.DiskStart = diskStart16
	offset32 := binary.LittleEndian.Uint32(buf[38:42])
	m.LocalHeaderOffset = uint64(offset32)

	rest := make([]byte, int(nameLen)+int(extraLen)+int(commentLen))
	if _, err := io.ReadFull(src, rest); err != nil {
		return nil, fmt.Errorf("zipkit: read central header name/extra/comment: %w", err)
	}
	m.Name = string(rest[:nameLen])
	m.Extra = rest[nameLen : nameLen+extraLen]
	m.Comment = string(rest[nameLen+extraLen:])

	need := zip64Fields{
		needUncompressedSize: uncompressed32 == uint32max,
		needCompressedSize:   compressed32 == uint32max,
		needOffset:           offset32 == uint32max,
		needDiskStart:        diskStart16 == uint16max,
	}
	if need.needUncompressedSize || need.needCompressedSize || need.needOffset || need.needDiskStart {
		if v, ok := parseZip64Extra(m.Extra, need); ok {
			if need.needUncompressedSize {
				m.UncompressedSize = v.uncompressedSize
			}
			if need.needCompressedSize {
				m.CompressedSize = v.compressedSize
			}
			if need.needOffset {
				m.LocalHeaderOffset = v.offset
			}
			if need.needDiskStart {
				m.DiskStart = uint16(v.diskStart)
			}
		}
	}

	if mtime, ok := parseExtTimeExtra(m.Extra); ok {
		m.ModTime = mtime
	}

	if m.DiskStart != 0 {
		return nil, ErrMultiDisk
	}

	return m, nil
}

// encodeCentralHeader writes the 46-byte fixed portion plus filename, extra
// and comment for m to dst, using the 32-bit size/offset values passed in
// rather than m's own 64-bit fields (the writer is responsible for having
// chosen sentinel values and populated any Zip64 extra beforehand).
func encodeCentralHeader(dst io.Writer, m *EntryMeta, compressed32, uncompressed32, offset32 uint32, externalAttrs uint32) error {
	if len(m.Name) > uint16max {
		return fmt.Errorf("zipkit: filename too long: %d bytes", len(m.Name))
	}
	if len(m.Extra) > uint16max {
		return fmt.Errorf("zipkit: extra field too long: %d bytes", len(m.Extra))
	}
	if len(m.Comment) > uint16max {
		return fmt.Errorf("zipkit: comment too long: %d bytes", len(m.Comment))
	}

	var buf [centralHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(centralDirSignature)
	b.uint16(m.VersionMadeBy)
	b.uint16(m.VersionNeeded)
	b.uint16(m.Flags)
	b.uint16(uint16(m.Method))
	dosDate, dosTime := timeToDosTime(m.ModTime)
	b.uint16(dosTime)
	b.uint16(dosDate)
	b.uint32(m.CRC32)
	b.uint32(compressed32)
	b.uint32(uncompressed32)
	b.uint16(uint16(len(m.Name)))
	b.uint16(uint16(len(m.Extra)))
	b.uint16(uint16(len(m.Comment)))
	b.uint16(0) // disk number start: single-disk archives only
	b.uint16(0) // internal file attributes
	b.uint32(externalAttrs)
	b.uint32(offset32)

	if _, err := dst.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(dst, m.Name); err != nil {
		return err
	}
	if _, err := dst.Write(m.Extra); err != nil {
		return err
	}
	_, err := io.WriteString(dst, m.Comment)
	return err
}

// detectUTF8 reports whether s is valid UTF-8 and whether it must be
// flagged as such (i.e. it isn't also a faithful CP-437/ASCII rendering).
func detectUTF8(s string) (valid, require bool) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r < 0x20 || r > 0x7d || r == 0x5c {
			if !utf8.ValidRune(r) || (r == utf8.RuneError && size == 1) {
				return false, false
			}
			require = true
		}
	}
	return true, require
}

// writeBuf is a little cursor over a fixed-size byte slice used to lay out
// binary header fields without per-field allocation.
type writeBuf []byte

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

func (b *writeBuf) uint64(v uint64) {
	binary.LittleEndian.PutUint64(*b, v)
	*b = (*b)[8:]
}
