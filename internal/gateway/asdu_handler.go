// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package gateway

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/riclolsen/iec104north/internal/asdu"
	"github.com/riclolsen/iec104north/internal/cs104"
)

// ClockSetter commits a clock-sync command to the host's wall clock.
// Setting the system clock is a privileged, platform-specific action, so
// it stays an external collaborator exactly like TLSLoader;
// Gateway.ClockSetter may be left nil, in which case time-sync is
// acknowledged positively (per config) without ever touching the host
// clock — useful for tests and for hosts where the OS clock is
// NTP-governed and synchronization is advisory only.
type ClockSetter func(t time.Time) error

// ASDU implements cs104.Handler: the single dispatch point for every
// inbound ASDU, routing to clock-sync, interrogation or command handling.
// Unrecognized types are ignored without a response.
func (g *Gateway) ASDU(conn *cs104.Connection, a *asdu.ASDU) error {
	g.mu.Lock()
	session := g.byConn[conn]
	g.mu.Unlock()
	if session == nil {
		return errors.Errorf("asdu received on unknown connection %s", conn.RemoteAddr())
	}

	switch {
	case a.Identifier.Type == asdu.CCsNa1:
		return g.handleClockSync(session, a)
	case a.Identifier.Type == asdu.CIcNa1:
		return g.handleInterrogation(session, a)
	case a.Identifier.Type.IsCommand():
		return g.handleCommand(session, a)
	default:
		g.Debug("ignoring unrecognized ASDU type %s", a.Identifier.Type)
		return nil
	}
}

func (g *Gateway) handleClockSync(session *Session, a *asdu.ASDU) error {
	cfg := g.Config()
	if !cfg.Protocol.TimeSyncEnabled || len(a.Objects) == 0 || a.Objects[0].Time == nil {
		a.SetCOT(asdu.CotActivationCon)
		a.SetNegative(true)
		return session.Conn.Send(a)
	}

	ts := *a.Objects[0].Time
	when := time.UnixMilli(ts.ToMs(time.UTC)).UTC()
	if g.ClockSetter != nil {
		if err := g.ClockSetter(when); err != nil {
			g.Warn("clock-sync: failed to set system clock: %v", err)
			a.SetCOT(asdu.CotActivationCon)
			a.SetNegative(true)
			return session.Conn.Send(a)
		}
	}

	committed := asdu.CP56Time2aFromMs(when.UnixMilli(), time.UTC)
	a.Objects[0].Time = &committed
	a.SetCOT(asdu.CotActivationCon)
	a.SetNegative(false)
	return session.Conn.Send(a)
}

func (g *Gateway) handleInterrogation(session *Session, a *asdu.ASDU) error {
	if len(a.Objects) == 0 {
		a.SetCOT(asdu.CotActivationCon)
		a.SetNegative(true)
		return session.Conn.Send(a)
	}
	qoi := int(a.Objects[0].QOI)
	if qoi < asdu.QOIStation || qoi > asdu.QOIStation+16 {
		a.SetCOT(asdu.CotActivationCon)
		a.SetNegative(true)
		return session.Conn.Send(a)
	}
	group := qoi - asdu.QOIStation

	broadcast := a.Identifier.CommonAddr == a.Params.BroadcastCA()

	cas := []asdu.CommonAddr{a.Identifier.CommonAddr}
	if broadcast {
		cas = g.points.CommonAddresses()
	} else if !g.points.KnownCA(a.Identifier.CommonAddr) {
		actCon := asdu.NewASDU(a.Params, a.Identifier)
		actCon.AddInfoObject(a.Objects[0], 0)
		actCon.SetCOT(asdu.CotUnknownCA)
		actCon.SetNegative(true)
		return session.Conn.Send(actCon)
	}

	maxLen := g.Config().Protocol.MaxASDUSize

	// Each CA gets its own ACT-CON/data/ACT-TERM triplet, addressed to
	// that CA rather than the broadcast sentinel, and one CA's iteration
	// completes in full before the next CA's begins.
	for _, ca := range cas {
		caIdentifier := a.Identifier
		caIdentifier.CommonAddr = ca

		actCon := asdu.NewASDU(a.Params, caIdentifier)
		actCon.AddInfoObject(a.Objects[0], 0)
		actCon.SetCOT(asdu.CotActivationCon)
		actCon.SetNegative(false)
		if err := session.Conn.Send(actCon); err != nil {
			return err
		}

		if err := g.sendGIDataForCA(session, a.Params, ca, group, maxLen); err != nil {
			return err
		}

		actTerm := asdu.NewASDU(a.Params, caIdentifier)
		actTerm.AddInfoObject(a.Objects[0], 0)
		actTerm.SetCOT(asdu.CotActivationTermination)
		if err := session.Conn.Send(actTerm); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) sendGIDataForCA(session *Session, params *asdu.Params, ca asdu.CommonAddr, group, maxLen int) error {
	points := g.points.PointsForCA(ca)
	var current *asdu.ASDU

	flush := func() error {
		if current != nil && len(current.Objects) > 0 {
			if err := session.Conn.Send(current); err != nil {
				return err
			}
		}
		current = nil
		return nil
	}

	for _, p := range points {
		if !p.HasGIGroup(group) {
			continue
		}
		obj := p.Value
		obj.Addr = p.IOA
		if !p.Updated {
			obj.Quality |= asdu.QualityNonTopical
		}

		if current != nil && current.Identifier.Type != p.Type {
			if err := flush(); err != nil {
				return err
			}
		}
		if current == nil {
			current = asdu.NewASDU(params, asdu.Identifier{
				Type: p.Type, Cause: asdu.CotInterrogatedByStation, CommonAddr: ca,
			})
		}
		if !current.AddInfoObject(obj, maxLen) {
			if err := flush(); err != nil {
				return err
			}
			current = asdu.NewASDU(params, asdu.Identifier{
				Type: p.Type, Cause: asdu.CotInterrogatedByStation, CommonAddr: ca,
			})
			current.AddInfoObject(obj, maxLen)
		}
	}
	return flush()
}

// validationResult carries the response shape decided by the command
// validation pipeline: the first failing check fixes the response COT and
// negative flag, a timestamp failure drops the command with no response.
type validationResult struct {
	cot      asdu.CauseOfTransmission
	negative bool
	silent   bool
	accept   bool
}

func (g *Gateway) validateCommand(session *Session, a *asdu.ASDU) validationResult {
	cfg := g.Config().Protocol

	// 1. South reachable?
	if !g.south.AnyStarted() {
		return validationResult{cot: asdu.CotActivationCon, negative: true}
	}
	// 2. COT must be ACTIVATION.
	if a.Identifier.Cause != asdu.CotActivation {
		return validationResult{cot: asdu.CotUnknownCOT, negative: true}
	}
	// 3. Information object present.
	if len(a.Objects) == 0 {
		return validationResult{cot: asdu.CotUnknownTypeID, negative: true}
	}
	// 4. CA known.
	if !g.points.KnownCA(a.Identifier.CommonAddr) {
		return validationResult{cot: asdu.CotUnknownCA, negative: true}
	}
	// 5. Originator allow-list.
	if len(cfg.OriginatorAllowList) > 0 && !byteAllowed(cfg.OriginatorAllowList, a.Identifier.OA) {
		return validationResult{cot: asdu.CotActivationCon, negative: true}
	}
	obj := a.Objects[0]
	// 6. IOA known.
	point, ok := g.points.Get(a.Identifier.CommonAddr, obj.Addr)
	if !ok {
		return validationResult{cot: asdu.CotUnknownIOA, negative: true}
	}
	// 7. Command type allowed for this point.
	if !point.AllowsCommand(a.Identifier.Type) {
		return validationResult{cot: asdu.CotUnknownTypeID, negative: true}
	}
	// 8. Timestamp gating.
	if a.Identifier.Type.HasTimestamp() {
		if !cfg.CommandsWithTimeEnabled {
			return validationResult{cot: asdu.CotActivationCon, negative: true}
		}
		if obj.Time == nil {
			return validationResult{silent: true}
		}
		nowMs := time.Now().UnixMilli()
		tsMs := obj.Time.ToMs(time.UTC)
		windowMs := cfg.CmdRecvTimeout.Milliseconds()
		if diff := nowMs - tsMs; diff > windowMs || diff < -windowMs {
			return validationResult{silent: true}
		}
	} else if !cfg.CommandsWithoutTimeEnabled {
		return validationResult{cot: asdu.CotActivationCon, negative: true}
	}

	return validationResult{accept: true}
}

func byteAllowed(allowList []byte, oa byte) bool {
	for _, a := range allowList {
		if a == oa {
			return true
		}
	}
	return false
}

func (g *Gateway) handleCommand(session *Session, a *asdu.ASDU) error {
	result := g.validateCommand(session, a)
	if result.silent {
		return nil
	}
	if !result.accept {
		a.SetCOT(result.cot)
		a.SetNegative(true)
		return session.Conn.Send(a)
	}

	obj := a.Objects[0]
	cfg := g.Config().Protocol

	// The accepted ASDU becomes the response template: its COT flips to
	// ACTIVATION_CON now, and it is either sent immediately (synchronous
	// refusal from the south) or retained for the feedback correlation.
	// The retained copy owns its object slice; a is only valid for the
	// duration of this handler invocation.
	a.SetCOT(asdu.CotActivationCon)
	template := *a
	template.Objects = append([]asdu.InfoObject(nil), a.Objects...)

	entry := &OutstandingCommand{
		Handle:      uuid.New(),
		Type:        a.Identifier.Type,
		CA:          a.Identifier.CommonAddr,
		IOA:         obj.Addr,
		Session:     session.Handle,
		ArrivalTime: time.Now(),
		Deadline:    time.Now().Add(cfg.CmdExecTimeout),
		Phase:       PhaseWaitActCon,
		IsSelect:    obj.Select,
		Template:    template,
	}
	g.tracker.Append(entry)

	names, values := commandOperationParams(a)
	ret := 1
	if g.opCallback != nil {
		ret = g.opCallback("IEC104Command", names, values, DestinationService, session.Group.Name)
	}
	if ret <= 0 {
		g.tracker.Remove(entry.Handle)
		a.SetNegative(true)
		return session.Conn.Send(a)
	}
	return nil
}

// commandOperationParams builds the co_* parameter list carried by the
// IEC104Command egress operation. co_ts is only present for timestamped
// command types.
func commandOperationParams(a *asdu.ASDU) (names, values []string) {
	obj := a.Objects[0]
	names = []string{"co_type", "co_ca", "co_ioa", "co_cot", "co_negative", "co_se", "co_test"}
	values = []string{
		a.Identifier.Type.String(),
		fmt.Sprintf("%d", a.Identifier.CommonAddr),
		fmt.Sprintf("%d", obj.Addr),
		fmt.Sprintf("%d", a.Identifier.Cause),
		bit01(a.Identifier.Negative),
		bit01(obj.Select),
		bit01(a.Identifier.Test),
	}
	if obj.Time != nil {
		names = append(names, "co_ts")
		values = append(values, fmt.Sprintf("%d", obj.Time.ToMs(time.UTC)))
	}
	names = append(names, "co_value")
	values = append(values, commandValue(a.Identifier.Type, obj))
	return names, values
}

func commandValue(t asdu.TypeID, obj asdu.InfoObject) string {
	switch t {
	case asdu.CScNa1, asdu.CScTa1:
		return bit01(obj.SPValue)
	case asdu.CDcNa1, asdu.CDcTa1:
		return fmt.Sprintf("%d", obj.DPValue)
	case asdu.CRcNa1, asdu.CRcTa1:
		return fmt.Sprintf("%d", obj.StepValue)
	case asdu.CSeNa1, asdu.CSeTa1:
		return fmt.Sprintf("%d", obj.Normalized)
	case asdu.CSeNb1, asdu.CSeTb1:
		return fmt.Sprintf("%d", obj.Scaled)
	case asdu.CSeNc1, asdu.CSeTc1:
		return fmt.Sprintf("%g", obj.Short)
	default:
		return ""
	}
}

func bit01(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
