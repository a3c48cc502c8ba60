// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package asdu

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// InfoObject is a single information object carried by an ASDU. Not every
// field applies to every TypeID; the ASDU's Type selects which ones are
// meaningful.
type InfoObject struct {
	Addr InfoObjAddr

	SPValue       bool
	DPValue       DoublePointValue
	StepValue     int8 // -64..63
	StepTransient bool
	Normalized    int16   // raw NVA, real value = Normalized/32768
	Scaled        int16   // raw SVA
	Short         float32 // IEEE 754

	Quality QualityDescriptor
	Time    *CP56Time2a // nil when the type has no timestamp

	Select    bool // select (true) vs execute (false), command types only
	Qualifier byte // QU / QL qualifier field, command types only

	QOI byte // qualifier of interrogation, C_IC_NA_1 only
}

// NormalizedToFloat converts a raw NVA value to its real value in [-1, 1).
func NormalizedToFloat(raw int16) float64 { return float64(raw) / 32768.0 }

// FloatToNormalized converts a real value in [-1, 1) to a raw NVA value.
func FloatToNormalized(v float64) int16 {
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return int16(v * 32768.0)
}

func encodeIOA(buf []byte, addr InfoObjAddr, size byte) []byte {
	switch size {
	case 1:
		return append(buf, byte(addr))
	case 2:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(addr))
		return append(buf, b...)
	default: // 3
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(addr))
		return append(buf, b[:3]...)
	}
}

func decodeIOA(data []byte, size byte) (InfoObjAddr, error) {
	if len(data) < int(size) {
		return 0, errors.New("short buffer decoding information object address")
	}
	switch size {
	case 1:
		return InfoObjAddr(data[0]), nil
	case 2:
		return InfoObjAddr(binary.LittleEndian.Uint16(data)), nil
	default:
		b := append(append([]byte{}, data[:3]...), 0)
		return InfoObjAddr(binary.LittleEndian.Uint32(b)), nil
	}
}

// siq/diq quality bit layout shared by SP/DP.
func qualityByte(q QualityDescriptor, valueBits byte) byte {
	return valueBits | byte(q&(QualityBlocked|QualitySubstituted|QualityNonTopical|QualityInvalid))
}

func encodeQDS(q QualityDescriptor) byte {
	return byte(q)
}

func decodeQDS(b byte) QualityDescriptor {
	return QualityDescriptor(b)
}

// payloadSize returns the encoded byte length of the value+quality(+time)
// portion of an information object for the given type, excluding the
// address field.
func payloadSize(t TypeID) (int, error) {
	base := 0
	switch t {
	case MSpNa1, MSpTb1:
		base = 1
	case MDpNa1, MDpTb1:
		base = 1
	case MStNa1, MStTb1:
		base = 2
	case MMeNa1, MMeTd1:
		base = 3
	case MMeNb1, MMeTe1:
		base = 3
	case MMeNc1, MMeTf1:
		base = 5
	case CScNa1, CScTa1:
		base = 1
	case CDcNa1, CDcTa1:
		base = 1
	case CRcNa1, CRcTa1:
		base = 1
	case CSeNa1, CSeTa1:
		base = 3
	case CSeNb1, CSeTb1:
		base = 3
	case CSeNc1, CSeTc1:
		base = 5
	case CIcNa1:
		base = 1
	case CCsNa1:
		base = CP56Time2aSize
	default:
		return 0, errors.Errorf("unsupported type id %s for payload sizing", t)
	}
	if t.HasTimestamp() {
		base += CP56Time2aSize
	}
	return base, nil
}

func encodeInfoObject(o InfoObject, t TypeID, iobSize byte) ([]byte, error) {
	buf := make([]byte, 0, 16)
	buf = encodeIOA(buf, o.Addr, iobSize)

	switch t {
	case MSpNa1, MSpTb1:
		var v byte
		if o.SPValue {
			v = 0x01
		}
		buf = append(buf, qualityByte(o.Quality, v))
	case MDpNa1, MDpTb1:
		buf = append(buf, qualityByte(o.Quality, byte(o.DPValue)&0x03))
	case MStNa1, MStTb1:
		vti := byte(o.StepValue) & 0x7F
		if o.StepTransient {
			vti |= 0x80
		}
		buf = append(buf, vti, encodeQDS(o.Quality))
	case MMeNa1, MMeTd1:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(o.Normalized))
		buf = append(buf, b...)
		buf = append(buf, encodeQDS(o.Quality))
	case MMeNb1, MMeTe1:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(o.Scaled))
		buf = append(buf, b...)
		buf = append(buf, encodeQDS(o.Quality))
	case MMeNc1, MMeTf1:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(o.Short))
		buf = append(buf, b...)
		buf = append(buf, encodeQDS(o.Quality))
	case CScNa1, CScTa1:
		var v byte
		if o.SPValue {
			v = 0x01
		}
		sco := v | ((o.Qualifier & 0x1F) << 2)
		if o.Select {
			sco |= 0x80
		}
		buf = append(buf, sco)
	case CDcNa1, CDcTa1:
		dco := byte(o.DPValue)&0x03 | ((o.Qualifier & 0x1F) << 2)
		if o.Select {
			dco |= 0x80
		}
		buf = append(buf, dco)
	case CRcNa1, CRcTa1:
		rco := byte(o.StepValue)&0x03 | ((o.Qualifier & 0x1F) << 2)
		if o.Select {
			rco |= 0x80
		}
		buf = append(buf, rco)
	case CSeNa1, CSeTa1:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(o.Normalized))
		buf = append(buf, b...)
		qos := o.Qualifier & 0x7F
		if o.Select {
			qos |= 0x80
		}
		buf = append(buf, qos)
	case CSeNb1, CSeTb1:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(o.Scaled))
		buf = append(buf, b...)
		qos := o.Qualifier & 0x7F
		if o.Select {
			qos |= 0x80
		}
		buf = append(buf, qos)
	case CSeNc1, CSeTc1:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(o.Short))
		buf = append(buf, b...)
		qos := o.Qualifier & 0x7F
		if o.Select {
			qos |= 0x80
		}
		buf = append(buf, qos)
	case CIcNa1:
		buf = append(buf, o.QOI)
	case CCsNa1:
		ts := (*CP56Time2a)(nil)
		if o.Time != nil {
			ts = o.Time
		} else {
			zero := CP56Time2a{}
			ts = &zero
		}
		enc := ts.Encode()
		buf = append(buf, enc[:]...)
		return buf, nil
	default:
		return nil, errors.Errorf("unsupported type id %s for encoding", t)
	}

	if t.HasTimestamp() {
		var enc [CP56Time2aSize]byte
		if o.Time != nil {
			enc = o.Time.Encode()
		}
		buf = append(buf, enc[:]...)
	}
	return buf, nil
}

func decodeInfoObject(data []byte, t TypeID, iobSize byte) (InfoObject, int, error) {
	addr, err := decodeIOA(data, iobSize)
	if err != nil {
		return InfoObject{}, 0, err
	}
	pos := int(iobSize)
	size, err := payloadSize(t)
	if err != nil {
		return InfoObject{}, 0, err
	}
	if len(data) < pos+size {
		return InfoObject{}, 0, errors.Errorf("short buffer decoding %s information object", t)
	}
	body := data[pos : pos+size]
	o := InfoObject{Addr: addr}

	switch t {
	case MSpNa1, MSpTb1:
		o.SPValue = body[0]&0x01 != 0
		o.Quality = decodeQDS(body[0] &^ 0x01)
	case MDpNa1, MDpTb1:
		o.DPValue = DoublePointValue(body[0] & 0x03)
		o.Quality = decodeQDS(body[0] &^ 0x03)
	case MStNa1, MStTb1:
		raw := body[0] & 0x7F
		if raw&0x40 != 0 { // sign-extend 7-bit two's complement
			raw |= 0x80
		}
		o.StepValue = int8(raw)
		o.StepTransient = body[0]&0x80 != 0
		o.Quality = decodeQDS(body[1])
	case MMeNa1, MMeTd1:
		o.Normalized = int16(binary.LittleEndian.Uint16(body[0:2]))
		o.Quality = decodeQDS(body[2])
	case MMeNb1, MMeTe1:
		o.Scaled = int16(binary.LittleEndian.Uint16(body[0:2]))
		o.Quality = decodeQDS(body[2])
	case MMeNc1, MMeTf1:
		o.Short = math.Float32frombits(binary.LittleEndian.Uint32(body[0:4]))
		o.Quality = decodeQDS(body[4])
	case CScNa1, CScTa1:
		o.SPValue = body[0]&0x01 != 0
		o.Qualifier = (body[0] >> 2) & 0x1F
		o.Select = body[0]&0x80 != 0
	case CDcNa1, CDcTa1:
		o.DPValue = DoublePointValue(body[0] & 0x03)
		o.Qualifier = (body[0] >> 2) & 0x1F
		o.Select = body[0]&0x80 != 0
	case CRcNa1, CRcTa1:
		o.StepValue = int8(body[0] & 0x03)
		o.Qualifier = (body[0] >> 2) & 0x1F
		o.Select = body[0]&0x80 != 0
	case CSeNa1, CSeTa1:
		o.Normalized = int16(binary.LittleEndian.Uint16(body[0:2]))
		o.Qualifier = body[2] & 0x7F
		o.Select = body[2]&0x80 != 0
	case CSeNb1, CSeTb1:
		o.Scaled = int16(binary.LittleEndian.Uint16(body[0:2]))
		o.Qualifier = body[2] & 0x7F
		o.Select = body[2]&0x80 != 0
	case CSeNc1, CSeTc1:
		o.Short = math.Float32frombits(binary.LittleEndian.Uint32(body[0:4]))
		o.Qualifier = body[4] & 0x7F
		o.Select = body[4]&0x80 != 0
	case CIcNa1:
		o.QOI = body[0]
	case CCsNa1:
		ts := DecodeCP56Time2a(body[0:CP56Time2aSize])
		o.Time = &ts
		return o, pos + size, nil
	default:
		return InfoObject{}, 0, errors.Errorf("unsupported type id %s for decoding", t)
	}

	if t.HasTimestamp() {
		ts := DecodeCP56Time2a(body[size-CP56Time2aSize : size])
		o.Time = &ts
	}
	return o, pos + size, nil
}
