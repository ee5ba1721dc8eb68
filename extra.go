package zipkit

import (
	"encoding/binary"
	"time"
)

// zip64Fields tracks which base fields held the 0xFFFFFFFF/0xFFFF sentinel
// and therefore have a corresponding value in the Zip64 extra record. The
// PKWARE spec stores the four possible payload fields in this fixed order,
// but only the ones whose base field was a sentinel are present; an
// implementation must not assume all four exist. This type is shared by the
// local and central header decoders so the conditional-presence logic lives
// in exactly one place.
type zip64Fields struct {
	needUncompressedSize bool
	needCompressedSize   bool
	needOffset           bool
	needDiskStart        bool
}

type zip64Values struct {
	uncompressedSize uint64
	compressedSize   uint64
	offset           uint64
	diskStart        uint32
}

// parseZip64Extra scans extra for a Zip64 extended-information record
// (header ID 0x0001) and decodes only the fields flagged as needed, in
// PKWARE's mandated order: uncompressed size, compressed size, local header
// offset, disk start number.
//
// The scan is bounded: it stops as soon as fewer than 4 bytes remain, or a
// declared data size would run past the end of extra, so a malformed blob
// never causes an out-of-bounds read.
func parseZip64Extra(extra []byte, need zip64Fields) (zip64Values, bool) {
	for off := 0; off+4 <= len(extra); {
		id := binary.LittleEndian.Uint16(extra[off : off+2])
		size := int(binary.LittleEndian.Uint16(extra[off+2 : off+4]))
		start := off + 4
		if size < 0 || start+size > len(extra) {
			break
		}
		if id != zip64ExtraID {
			off = start + size
			continue
		}

		payload := extra[start : start+size]
		var v zip64Values
		p := 0
		if need.needUncompressedSize && p+8 <= len(payload) {
			v.uncompressedSize = binary.LittleEndian.Uint64(payload[p : p+8])
			p += 8
		}
		if need.needCompressedSize && p+8 <= len(payload) {
			v.compressedSize = binary.LittleEndian.Uint64(payload[p : p+8])
			p += 8
		}
		if need.needOffset && p+8 <= len(payload) {
			v.offset = binary.LittleEndian.Uint64(payload[p : p+8])
			p += 8
		}
		if need.needDiskStart && p+4 <= len(payload) {
			v.diskStart = binary.LittleEndian.Uint32(payload[p : p+4])
		}
		return v, true
	}
	return zip64Values{}, false
}

// buildZip64Extra encodes a Zip64 extended-information record containing
// exactly the fields flagged in need, in PKWARE's mandated order. Returns
// nil if nothing is needed.
func buildZip64Extra(need zip64Fields, v zip64Values) []byte {
	size := 0
	if need.needUncompressedSize {
		size += 8
	}
	if need.needCompressedSize {
		size += 8
	}
	if need.needOffset {
		size += 8
	}
	if need.needDiskStart {
		size += 4
	}
	if size == 0 {
		return nil
	}

	buf := make([]byte, 4+size)
	binary.LittleEndian.PutUint16(buf[0:2], zip64ExtraID)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(size))
	p := 4
	if need.needUncompressedSize {
		binary.LittleEndian.PutUint64(buf[p:p+8], v.uncompressedSize)
		p += 8
	}
	if need.needCompressedSize {
		binary.LittleEndian.PutUint64(buf[p:p+8], v.compressedSize)
		p += 8
	}
	if need.needOffset {
		binary.LittleEndian.PutUint64(buf[p:p+8], v.offset)
		p += 8
	}
	if need.needDiskStart {
		binary.LittleEndian.PutUint32(buf[p:p+4], v.diskStart)
	}
	return buf
}

// buildExtTimeExtra encodes an Info-Zip extended-timestamp extra (0x5455)
// carrying only the modification time.
func buildExtTimeExtra(modTime time.Time) []byte {
	buf := make([]byte, 9)
	binary.LittleEndian.PutUint16(buf[0:2], extTimeExtraID)
	binary.LittleEndian.PutUint16(buf[2:4], 5)
	buf[4] = 1 // flags: mod time present
	binary.LittleEndian.PutUint32(buf[5:9], uint32(modTime.Unix()))
	return buf
}

// parseExtTimeExtra looks for an Info-Zip extended-timestamp extra and
// returns the modification time it carries, if any.
func parseExtTimeExtra(extra []byte) (time.Time, bool) {
	for off := 0; off+4 <= len(extra); {
		id := binary.LittleEndian.Uint16(extra[off : off+2])
		size := int(binary.LittleEndian.Uint16(extra[off+2 : off+4]))
		start := off + 4
		if size < 0 || start+size > len(extra) {
			break
		}
		if id == extTimeExtraID && size >= 5 {
			payload := extra[start : start+size]
			if payload[0]&1 != 0 {
				return time.Unix(int64(binary.LittleEndian.Uint32(payload[1:5])), 0).UTC(), true
			}
		}
		off = start + size
	}
	return time.Time{}, false
}
