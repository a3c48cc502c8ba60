// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package asdu

import "time"

// CP56Time2a is the 7-byte binary time used throughout IEC 60870-5-104:
// milliseconds (2 bytes), minute+IV (1), hour+SU (1), day-of-month+day-of-week
// (1), month (1), year-mod-100 (1).
type CP56Time2a struct {
	Millisecond uint16
	Minute      uint8
	IV          bool // invalid
	Hour        uint8
	SU          bool // summer time
	Day         uint8
	DayOfWeek   uint8 // 1=Monday .. 7=Sunday, 0 if not used
	Month       uint8
	Year        uint8 // 0-99, interpreted as 2000+Year
	SUB         bool  // substituted, carried alongside but not part of the wire bytes
}

// CP56Time2aSize is the on-wire size in bytes.
const CP56Time2aSize = 7

// Encode writes the 7-byte wire representation.
func (t CP56Time2a) Encode() [CP56Time2aSize]byte {
	var b [CP56Time2aSize]byte
	b[0] = byte(t.Millisecond)
	b[1] = byte(t.Millisecond >> 8)
	b[2] = t.Minute & 0x3F
	if t.IV {
		b[2] |= 0x80
	}
	b[3] = t.Hour & 0x1F
	if t.SU {
		b[3] |= 0x80
	}
	b[4] = (t.Day & 0x1F) | ((t.DayOfWeek & 0x07) << 5)
	b[5] = t.Month & 0x0F
	b[6] = t.Year & 0x7F
	return b
}

// DecodeCP56Time2a parses the 7-byte wire representation.
func DecodeCP56Time2a(b []byte) CP56Time2a {
	_ = b[6] // bounds check hint
	return CP56Time2a{
		Millisecond: uint16(b[0]) | uint16(b[1])<<8,
		Minute:      b[2] & 0x3F,
		IV:          b[2]&0x80 != 0,
		Hour:        b[3] & 0x1F,
		SU:          b[3]&0x80 != 0,
		Day:         b[4] & 0x1F,
		DayOfWeek:   (b[4] >> 5) & 0x07,
		Month:       b[5] & 0x0F,
		Year:        b[6] & 0x7F,
	}
}

// ToMs converts the time to milliseconds since the Unix epoch, interpreted
// in loc (normally time.UTC or time.Local per the station's configuration).
func (t CP56Time2a) ToMs(loc *time.Location) int64 {
	sec := uint16(t.Millisecond / 1000)
	ms := t.Millisecond % 1000
	year := 2000 + int(t.Year)
	when := time.Date(year, time.Month(t.Month), int(t.Day), int(t.Hour), int(t.Minute), int(sec), int(ms)*int(time.Millisecond), loc)
	return when.UnixMilli()
}

// CP56Time2aFromMs builds a CP56Time2a from milliseconds since the Unix
// epoch, interpreted in loc.
func CP56Time2aFromMs(ms int64, loc *time.Location) CP56Time2a {
	when := time.UnixMilli(ms).In(loc)
	dow := int(when.Weekday())
	if dow == 0 {
		dow = 7 // IEC 60870-5-101/104 numbers Monday=1 .. Sunday=7
	}
	return CP56Time2a{
		Millisecond: uint16(when.Second())*1000 + uint16(when.Nanosecond()/int(time.Millisecond)),
		Minute:      uint8(when.Minute()),
		Hour:        uint8(when.Hour()),
		Day:         uint8(when.Day()),
		DayOfWeek:   uint8(dow),
		Month:       uint8(when.Month()),
		Year:        uint8(when.Year() % 100),
	}
}
