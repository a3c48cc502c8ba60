// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package gateway

import (
	"time"

	"github.com/riclolsen/iec104north/internal/asdu"
)

// Send implements the spontaneous dispatch path: it converts one batch of
// southern readings into Point Table updates and, where the cause of
// transmission calls for it, queued ASDUs broadcast to every activated
// session. Datapoints within a reading, and readings within a batch, are
// processed strictly in order — later southern feedback for a given
// (type, CA, IOA) must never be applied before earlier feedback for the
// same triplet.
func (g *Gateway) Send(batch []Reading) (int, error) {
	n := 0
	for _, reading := range batch {
		for _, dp := range reading.Datapoints {
			switch dp.Name {
			case "south_event":
				g.applySouthEvent(reading.AssetName, dp)
			case "data_object":
				g.applyDataObject(dp)
			default:
				g.Warn("dropping unrecognized datapoint %q on asset %q", dp.Name, reading.AssetName)
				continue
			}
			n++
		}
	}
	return n, nil
}

func (g *Gateway) applySouthEvent(assetName string, dp Datapoint) {
	connx := ConvertConnxStatus(fieldString(dp.Fields, "connx_status"))
	gi := ConvertGIStatus(fieldString(dp.Fields, "gi_status"))
	if !g.south.Update(assetName, connx, gi) {
		g.Warn("south_event for unconfigured asset %q ignored", assetName)
	}
}

func (g *Gateway) applyDataObject(dp Datapoint) {
	f := dp.Fields
	typ, ok := asdu.TypeIDFromString(fieldString(f, "do_type"))
	if !ok {
		g.Warn("data_object with unrecognized do_type %q dropped", fieldString(f, "do_type"))
		return
	}
	ca := asdu.CommonAddr(fieldInt(f, "do_ca"))
	ioa := asdu.InfoObjAddr(fieldInt(f, "do_ioa"))
	cot := asdu.CauseOfTransmission(fieldInt(f, "do_cot"))

	switch cot {
	case asdu.CotActivationCon:
		g.applyCommandFeedback(typ, ca, ioa, f, true)
		return
	case asdu.CotActivationTermination:
		g.applyCommandFeedback(typ, ca, ioa, f, false)
		return
	}

	point, ok := g.points.Get(ca, ioa)
	if !ok || point.Type != typ.WithoutTimestamp() {
		g.Warn("data_object (%s, CA=%d, IOA=%d) does not resolve to a registered point, dropped", typ, ca, ioa)
		return
	}

	obj := dataObjectToInfoObject(typ, ioa, f)
	var ts *asdu.CP56Time2a
	if _, present := f["do_ts"]; present {
		t := asdu.CP56Time2aFromMs(fieldInt(f, "do_ts"), time.UTC)
		t.IV = fieldBool01(f, "do_ts_iv")
		t.SU = fieldBool01(f, "do_ts_su")
		t.SUB = fieldBool01(f, "do_ts_sub")
		ts = &t
	}

	g.points.Update(ca, ioa, obj, ts)

	switch cot {
	case asdu.CotPeriodic, asdu.CotSpontaneous, asdu.CotReturnInfoRemote,
		asdu.CotReturnInfoLocal, asdu.CotBackground:
		g.broadcastPoint(typ, ca, ioa, cot, obj, ts)
	}
}

// applyCommandFeedback correlates an ACTIVATION_CON/ACTIVATION_TERMINATION
// reading against the Outstanding Command Tracker and relays it to the
// owning session. A select's entry is removed on ACT-CON; an execute's
// entry survives until ACT-TERM.
func (g *Gateway) applyCommandFeedback(typ asdu.TypeID, ca asdu.CommonAddr, ioa asdu.InfoObjAddr, f map[string]interface{}, isActCon bool) {
	entry := g.tracker.FindByMatch(typ, ca, ioa)
	if entry == nil {
		g.Debug("command feedback for (%s, CA=%d, IOA=%d) has no outstanding entry", typ, ca, ioa)
		return
	}

	g.mu.Lock()
	session := g.sessions[entry.Session]
	g.mu.Unlock()
	if session == nil {
		g.tracker.Remove(entry.Handle)
		return
	}

	resp := entry.Template
	negative := fieldBool01(f, "do_negative")
	resp.SetNegative(negative)

	if isActCon {
		resp.SetCOT(asdu.CotActivationCon)
		if err := session.Conn.Send(&resp); err != nil {
			g.Warn("sending ACT-CON: %v", err)
		}
		if negative || entry.IsSelect {
			g.tracker.Remove(entry.Handle)
			return
		}
		entry.Phase = PhaseWaitActTerm
		return
	}

	resp.SetCOT(asdu.CotActivationTermination)
	if err := session.Conn.Send(&resp); err != nil {
		g.Warn("sending ACT-TERM: %v", err)
	}
	g.tracker.Remove(entry.Handle)
}

// broadcastPoint sends the updated point's current value to every
// activated session, immediately (not queued for the next interrogation).
func (g *Gateway) broadcastPoint(typ asdu.TypeID, ca asdu.CommonAddr, ioa asdu.InfoObjAddr, cot asdu.CauseOfTransmission, obj asdu.InfoObject, ts *asdu.CP56Time2a) {
	if ts != nil {
		obj.Time = ts
	}

	a := asdu.NewASDU(g.params(), asdu.Identifier{
		Type: typ, Cause: cot, CommonAddr: ca,
	})
	a.AddInfoObject(obj, 0)

	g.mu.Lock()
	sessions := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()

	for _, s := range sessions {
		if s.State() != SessionActive {
			continue
		}
		if err := s.Conn.Send(a); err != nil {
			g.Warn("broadcasting spontaneous update: %v", err)
		}
	}
}

func dataObjectQuality(f map[string]interface{}) asdu.QualityDescriptor {
	var q asdu.QualityDescriptor
	if fieldBool01(f, "do_quality_iv") {
		q |= asdu.QualityInvalid
	}
	if fieldBool01(f, "do_quality_bl") {
		q |= asdu.QualityBlocked
	}
	if fieldBool01(f, "do_quality_ov") {
		q |= asdu.QualityOverflow
	}
	if fieldBool01(f, "do_quality_sb") {
		q |= asdu.QualitySubstituted
	}
	if fieldBool01(f, "do_quality_nt") {
		q |= asdu.QualityNonTopical
	}
	return q
}

func dataObjectToInfoObject(t asdu.TypeID, ioa asdu.InfoObjAddr, f map[string]interface{}) asdu.InfoObject {
	o := asdu.InfoObject{Addr: ioa, Quality: dataObjectQuality(f)}
	switch t.WithoutTimestamp() {
	case asdu.MSpNa1:
		o.SPValue = fieldBool01(f, "do_value")
	case asdu.MDpNa1:
		o.DPValue = asdu.DoublePointValue(fieldInt(f, "do_value"))
	case asdu.MStNa1:
		o.StepValue = int8(fieldInt(f, "do_value"))
		o.StepTransient = fieldBool01(f, "do_transient")
	case asdu.MMeNa1:
		o.Normalized = int16(fieldInt(f, "do_value"))
	case asdu.MMeNb1:
		o.Scaled = int16(fieldInt(f, "do_value"))
	case asdu.MMeNc1:
		o.Short = float32(fieldFloat(f, "do_value"))
	}
	return o
}
