// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package asdu implements the application layer of IEC 60870-5-104: ASDU
// (Application Service Data Unit) encoding/decoding, information objects and
// the CP56Time2a binary time format. It has no notion of TCP connections or
// APCI framing — that belongs to the sibling cs104 package — and no notion
// of point tables, commands or redundancy groups — that belongs to
// internal/gateway.
package asdu

import "github.com/pkg/errors"

// TypeID identifies the ASDU information object type.
type TypeID byte

// Monitored information and command type identifiers used by the gateway.
const (
	MSpNa1 TypeID = 1  // single-point information
	MDpNa1 TypeID = 3  // double-point information
	MStNa1 TypeID = 5  // step position information
	MMeNa1 TypeID = 9  // measured value, normalized
	MMeNb1 TypeID = 11 // measured value, scaled
	MMeNc1 TypeID = 13 // measured value, short floating point

	MSpTb1 TypeID = 30 // single-point information with CP56Time2a
	MDpTb1 TypeID = 31 // double-point information with CP56Time2a
	MStTb1 TypeID = 32 // step position information with CP56Time2a
	MMeTd1 TypeID = 34 // measured value, normalized, with CP56Time2a
	MMeTe1 TypeID = 35 // measured value, scaled, with CP56Time2a
	MMeTf1 TypeID = 36 // measured value, short floating point, with CP56Time2a

	CScNa1 TypeID = 45 // single command
	CDcNa1 TypeID = 46 // double command
	CRcNa1 TypeID = 47 // regulating step command
	CSeNa1 TypeID = 48 // setpoint command, normalized
	CSeNb1 TypeID = 49 // setpoint command, scaled
	CSeNc1 TypeID = 50 // setpoint command, short floating point

	CScTa1 TypeID = 58 // single command with CP56Time2a
	CDcTa1 TypeID = 59 // double command with CP56Time2a
	CRcTa1 TypeID = 60 // regulating step command with CP56Time2a
	CSeTa1 TypeID = 61 // setpoint command, normalized, with CP56Time2a
	CSeTb1 TypeID = 62 // setpoint command, scaled, with CP56Time2a
	CSeTc1 TypeID = 63 // setpoint command, short floating point, with CP56Time2a

	CIcNa1 TypeID = 100 // general interrogation command
	CCsNa1 TypeID = 103 // clock synchronization command
)

var typeNames = map[TypeID]string{
	MSpNa1: "M_SP_NA_1", MSpTb1: "M_SP_TB_1",
	MDpNa1: "M_DP_NA_1", MDpTb1: "M_DP_TB_1",
	MStNa1: "M_ST_NA_1", MStTb1: "M_ST_TB_1",
	MMeNa1: "M_ME_NA_1", MMeTd1: "M_ME_TD_1",
	MMeNb1: "M_ME_NB_1", MMeTe1: "M_ME_TE_1",
	MMeNc1: "M_ME_NC_1", MMeTf1: "M_ME_TF_1",
	CScNa1: "C_SC_NA_1", CScTa1: "C_SC_TA_1",
	CDcNa1: "C_DC_NA_1", CDcTa1: "C_DC_TA_1",
	CRcNa1: "C_RC_NA_1", CRcTa1: "C_RC_TA_1",
	CSeNa1: "C_SE_NA_1", CSeTa1: "C_SE_TA_1",
	CSeNb1: "C_SE_NB_1", CSeTb1: "C_SE_TB_1",
	CSeNc1: "C_SE_NC_1", CSeTc1: "C_SE_TC_1",
	CIcNa1: "C_IC_NA_1", CCsNa1: "C_CS_NA_1",
}

var namesToType = func() map[string]TypeID {
	m := make(map[string]TypeID, len(typeNames))
	for id, name := range typeNames {
		m[name] = id
	}
	return m
}()

// String implements fmt.Stringer.
func (t TypeID) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "UNKNOWN_TYPE"
}

// TypeIDFromString resolves the wire type-name (as used in the reading
// ingress `do_type` field) to its TypeID. ok is false for unrecognized names.
func TypeIDFromString(name string) (TypeID, bool) {
	t, ok := namesToType[name]
	return t, ok
}

// IsCommand reports whether t is one of the twelve recognized command types.
func (t TypeID) IsCommand() bool {
	switch t {
	case CScNa1, CScTa1, CDcNa1, CDcTa1, CRcNa1, CRcTa1,
		CSeNa1, CSeTa1, CSeNb1, CSeTb1, CSeNc1, CSeTc1:
		return true
	default:
		return false
	}
}

// HasTimestamp reports whether t carries a CP56Time2a in its information
// object.
func (t TypeID) HasTimestamp() bool {
	switch t {
	case MSpTb1, MDpTb1, MStTb1, MMeTd1, MMeTe1, MMeTf1,
		CScTa1, CDcTa1, CRcTa1, CSeTa1, CSeTb1, CSeTc1:
		return true
	default:
		return false
	}
}

// WithoutTimestamp returns the non-timestamped sibling type of a
// monitored type family, used when assembling interrogation responses,
// which never carry CP56Time2a.
func (t TypeID) WithoutTimestamp() TypeID {
	switch t {
	case MSpTb1:
		return MSpNa1
	case MDpTb1:
		return MDpNa1
	case MStTb1:
		return MStNa1
	case MMeTd1:
		return MMeNa1
	case MMeTe1:
		return MMeNb1
	case MMeTf1:
		return MMeNc1
	default:
		return t
	}
}

// CauseOfTransmission identifies why an ASDU is being sent.
type CauseOfTransmission uint8

const (
	CotPeriodic              CauseOfTransmission = 1
	CotBackground            CauseOfTransmission = 2
	CotSpontaneous           CauseOfTransmission = 3
	CotInitialized           CauseOfTransmission = 4
	CotRequest               CauseOfTransmission = 5
	CotActivation            CauseOfTransmission = 6
	CotActivationCon         CauseOfTransmission = 7
	CotDeactivation          CauseOfTransmission = 8
	CotDeactivationCon       CauseOfTransmission = 9
	CotActivationTermination CauseOfTransmission = 10
	CotReturnInfoRemote      CauseOfTransmission = 11
	CotReturnInfoLocal       CauseOfTransmission = 12
	CotFileTransfer          CauseOfTransmission = 13
	CotInterrogatedByStation CauseOfTransmission = 20
	CotUnknownTypeID         CauseOfTransmission = 44
	CotUnknownCOT            CauseOfTransmission = 45
	CotUnknownCA             CauseOfTransmission = 46
	CotUnknownIOA            CauseOfTransmission = 47
)

// QOI group base: QOI 20 = station interrogation, 21..36 = group 1..16.
const QOIStation = 20

// QualityDescriptor is the quality byte bit flags attached to monitored
// information objects.
type QualityDescriptor byte

const (
	QualityGood        QualityDescriptor = 0
	QualityOverflow    QualityDescriptor = 0x01
	QualityBlocked     QualityDescriptor = 0x10
	QualitySubstituted QualityDescriptor = 0x20
	QualityNonTopical  QualityDescriptor = 0x40
	QualityInvalid     QualityDescriptor = 0x80
)

// DoublePointValue is the four-state value carried by double-point
// information and double commands.
type DoublePointValue byte

const (
	DPIntermediate  DoublePointValue = 0
	DPOff           DoublePointValue = 1
	DPOn            DoublePointValue = 2
	DPIndeterminate DoublePointValue = 3
)

// CommonAddr addresses a logical station (device) within the slave.
type CommonAddr uint32

// InfoObjAddr addresses a point within a common address.
type InfoObjAddr uint32

// Broadcast sentinels, sized according to Params.CommonAddrSize.
const (
	BroadcastCA1 CommonAddr = 0xFF
	BroadcastCA2 CommonAddr = 0xFFFF
)

// Params describes the octet sizes used to encode ASDU addressing fields.
// ParamsStandard104 is the 2/2/3 T104 profile; the gateway builds its
// Params from the configured CA and IOA sizes, and Valid checks each size
// against the range the standard allows rather than enforcing 2/2/3.
type Params struct {
	CommonAddrSize  byte // 1 or 2
	CauseSize       byte // 1 or 2 (COT octet count, originator address included when 2)
	InfoObjAddrSize byte // 1, 2 or 3
}

// ParamsStandard104 is the IEC 60870-5-104 standard profile: 2-byte CA,
// 2-byte COT (cause + originator address), 3-byte IOA.
var ParamsStandard104 = &Params{CommonAddrSize: 2, CauseSize: 2, InfoObjAddrSize: 3}

// Valid reports whether the configured sizes are within the standard's
// allowed ranges.
func (p *Params) Valid() error {
	if p == nil {
		return errors.New("nil asdu params")
	}
	if p.CommonAddrSize != 1 && p.CommonAddrSize != 2 {
		return errors.New("common address size must be 1 or 2")
	}
	if p.CauseSize != 1 && p.CauseSize != 2 {
		return errors.New("cause of transmission size must be 1 or 2")
	}
	if p.InfoObjAddrSize != 1 && p.InfoObjAddrSize != 2 && p.InfoObjAddrSize != 3 {
		return errors.New("information object address size must be 1, 2 or 3")
	}
	return nil
}

// BroadcastCA returns the broadcast common address sentinel for this
// parameter set's CommonAddrSize.
func (p *Params) BroadcastCA() CommonAddr {
	if p.CommonAddrSize == 1 {
		return BroadcastCA1
	}
	return BroadcastCA2
}

// IdentifierSize returns the fixed header size (type id, variable structure
// qualifier, cause, common address) in octets.
func (p *Params) IdentifierSize() int {
	return 2 + int(p.CauseSize) + int(p.CommonAddrSize)
}
