package zipkit

import "time"

// dosTimeToTime converts an MS-DOS date/time pair into a UTC time.Time at
// 2-second resolution. Mirrors the decoding every ZIP implementation in the
// wild uses (see e.g. nguyengg-xy3/zipper/headers.go's msDosTimeToTime).
func dosTimeToTime(dosDate, dosTime uint16) time.Time {
	return time.Date(
		int(dosDate>>9)+1980,
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f)*2,
		0,
		time.UTC,
	)
}

// timeToDosTime encodes t (truncated to UTC, 2-second resolution) into the
// MS-DOS date/time pair used by local and central headers. Years outside
// [1980, 2107] cannot be represented and are clamped to the nearest bound.
func timeToDosTime(t time.Time) (dosDate, dosTime uint16) {
	t = t.UTC()

	year := t.Year()
	switch {
	case year < 1980:
		year = 1980
	case year > 2107:
		year = 2107
	}

	dosDate = uint16(year-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	dosTime = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	return
}
