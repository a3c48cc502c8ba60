// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package asdu

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Identifier is the fixed ASDU header: type, cause of transmission (with its
// test/negative flags and originator address) and common address.
type Identifier struct {
	Type       TypeID
	Cause      CauseOfTransmission
	Negative   bool
	Test       bool
	OA         byte // originator address, only carried when Params.CauseSize == 2
	CommonAddr CommonAddr
}

func (id Identifier) String() string {
	neg := ""
	if id.Negative {
		neg = " NEG"
	}
	return fmt.Sprintf("%s COT=%d CA=%d OA=%d%s", id.Type, id.Cause, id.CommonAddr, id.OA, neg)
}

// ASDU is a single Application Service Data Unit: one identifier plus a run
// of information objects of the same type, all addressed individually
// (SQ=0 — sequence-of-elements encoding is not produced or accepted).
type ASDU struct {
	Params     *Params
	Identifier Identifier
	Objects    []InfoObject
}

// NewASDU creates an empty ASDU with the given identifier.
func NewASDU(params *Params, id Identifier) *ASDU {
	return &ASDU{Params: params, Identifier: id}
}

// NewEmptyASDU creates an ASDU ready for UnmarshalBinary.
func NewEmptyASDU(params *Params) *ASDU {
	return &ASDU{Params: params}
}

// AddInfoObject appends an information object to the ASDU. It returns
// false when the object does not fit within maxLen encoded bytes, leaving
// the ASDU unchanged so the caller can flush it and start a fresh one —
// the fragmentation step of general-interrogation response assembly.
func (a *ASDU) AddInfoObject(o InfoObject, maxLen int) bool {
	encoded, err := a.MarshalBinary()
	if err != nil {
		return false
	}
	objBytes, err := encodeInfoObject(o, a.Identifier.Type, a.Params.InfoObjAddrSize)
	if err != nil {
		return false
	}
	if maxLen > 0 && len(encoded)+len(objBytes) > maxLen {
		return false
	}
	a.Objects = append(a.Objects, o)
	return true
}

// SetCOT overwrites the cause of transmission.
func (a *ASDU) SetCOT(cot CauseOfTransmission) { a.Identifier.Cause = cot }

// SetNegative sets or clears the P/N (negative confirmation) flag.
func (a *ASDU) SetNegative(neg bool) { a.Identifier.Negative = neg }

// IsNegative reports the P/N flag.
func (a *ASDU) IsNegative() bool { return a.Identifier.Negative }

// SetCA overwrites the common address.
func (a *ASDU) SetCA(ca CommonAddr) { a.Identifier.CommonAddr = ca }

// MarshalBinary encodes the full ASDU (identifier + objects) to wire bytes.
func (a *ASDU) MarshalBinary() ([]byte, error) {
	if a.Params == nil {
		return nil, errors.New("asdu: nil params")
	}
	buf := make([]byte, 0, 32)
	buf = append(buf, byte(a.Identifier.Type))

	sq := byte(len(a.Objects)) & 0x7F // SQ=0: count in low 7 bits
	buf = append(buf, sq)

	cot := byte(a.Identifier.Cause) & 0x3F
	if a.Identifier.Test {
		cot |= 0x80
	}
	if a.Identifier.Negative {
		cot |= 0x40
	}
	buf = append(buf, cot)
	if a.Params.CauseSize == 2 {
		buf = append(buf, a.Identifier.OA)
	}

	switch a.Params.CommonAddrSize {
	case 1:
		buf = append(buf, byte(a.Identifier.CommonAddr))
	default:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(a.Identifier.CommonAddr))
		buf = append(buf, b...)
	}

	for _, o := range a.Objects {
		objBytes, err := encodeInfoObject(o, a.Identifier.Type, a.Params.InfoObjAddrSize)
		if err != nil {
			return nil, err
		}
		buf = append(buf, objBytes...)
	}
	return buf, nil
}

// UnmarshalBinary decodes a full ASDU from wire bytes.
func (a *ASDU) UnmarshalBinary(data []byte) error {
	if a.Params == nil {
		return errors.New("asdu: nil params")
	}
	hdr := a.Params.IdentifierSize()
	if len(data) < hdr {
		return errors.Errorf("asdu: buffer too short for header: have %d need %d", len(data), hdr)
	}
	a.Identifier.Type = TypeID(data[0])
	sq := data[1]
	count := int(sq & 0x7F)
	if sq&0x80 != 0 {
		return errors.New("asdu: sequence-of-elements (SQ=1) encoding is not supported")
	}

	pos := 2
	cot := data[pos]
	a.Identifier.Cause = CauseOfTransmission(cot & 0x3F)
	a.Identifier.Test = cot&0x80 != 0
	a.Identifier.Negative = cot&0x40 != 0
	pos++
	if a.Params.CauseSize == 2 {
		a.Identifier.OA = data[pos]
		pos++
	}

	switch a.Params.CommonAddrSize {
	case 1:
		a.Identifier.CommonAddr = CommonAddr(data[pos])
		pos++
	default:
		a.Identifier.CommonAddr = CommonAddr(binary.LittleEndian.Uint16(data[pos : pos+2]))
		pos += 2
	}

	a.Objects = a.Objects[:0]
	for i := 0; i < count; i++ {
		o, consumed, err := decodeInfoObject(data[pos:], a.Identifier.Type, a.Params.InfoObjAddrSize)
		if err != nil {
			return errors.Wrapf(err, "asdu: decoding object %d/%d", i+1, count)
		}
		a.Objects = append(a.Objects, o)
		pos += consumed
	}
	return nil
}

// Len returns the encoded byte length of the ASDU as it currently stands.
func (a *ASDU) Len() int {
	b, err := a.MarshalBinary()
	if err != nil {
		return 0
	}
	return len(b)
}
