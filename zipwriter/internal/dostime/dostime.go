// Package dostime packs and splits the 32-bit DOS date/time field used by
// every timestamp in the ZIP container format.
package dostime

import "time"

// Min is the packed value emitted for any time before 1980-01-01, the
// earliest instant DOS date/time can represent (1980-01-01 00:00:00):
// date field 0x0021 (year 0, month 1, day 1), time field 0x0000. Written
// to the wire as four little-endian bytes this is 00 00 21 00: the time
// field's two bytes first, then the date field's two bytes.
const Min uint32 = 0x00210000

// Max is the packed value emitted for any time at or after 2108-01-01,
// the earliest instant that overflows DOS date/time's 7-bit year field.
// Rather than truncate silently or propagate an error, the writer
// saturates at the latest representable instant: 2107-12-31 23:59:58.
const Max uint32 = 0xFF9FBF7D

const epochYear = 1980

// Pack converts t, read using its own (local) wall-clock components, into
// a packed DOS date/time value: bits 0-15 are the time field, bits 16-31
// are the date field. Times before 1980 saturate to Min; times in or
// after 2108 saturate to Max.
func Pack(t time.Time) uint32 {
	year := t.Year()
	if year < epochYear {
		return Min
	}
	if year > 2107 {
		return Max
	}
	date := uint32(year-epochYear)<<9 | uint32(t.Month())<<5 | uint32(t.Day())
	secs := uint32(t.Hour())<<11 | uint32(t.Minute())<<5 | uint32(t.Second()/2)
	return date<<16 | secs
}

// Split separates a packed value into its time (low 16 bits) and date
// (high 16 bits) halves, in the order the ZIP wire format expects them.
func Split(packed uint32) (modTime, modDate uint16) {
	return uint16(packed), uint16(packed >> 16)
}
