// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riclolsen/iec104north/internal/asdu"
)

type fakeSender struct {
	sent []*asdu.ASDU
}

func (f *fakeSender) Send(a *asdu.ASDU) error {
	cp := *a
	cp.Objects = append([]asdu.InfoObject(nil), a.Objects...)
	f.sent = append(f.sent, &cp)
	return nil
}

func newTestGatewayWithPoints() (*Gateway, *fakeSender, *Session) {
	cfg := &Config{
		Protocol: ProtocolConfig{
			TimeSyncEnabled:            true,
			CommandsWithTimeEnabled:    true,
			CommandsWithoutTimeEnabled: true,
			CmdRecvTimeout:             10 * time.Second,
			CmdExecTimeout:             20 * time.Second,
			MaxASDUSize:                253,
			RedundancyGroups: []RedundancyGroupConfig{
				{Name: "control-room", IPs: []string{"10.0.0.1"}},
			},
		},
		DataExchange: DataExchangeConfig{
			Points: []PointConfig{
				{CA: 41, IOA: 2001, Type: asdu.MSpNa1, GIGroups: 1 << 0, AllowedCommands: []asdu.TypeID{asdu.CScNa1}},
				{CA: 41, IOA: 2002, Type: asdu.MMeNa1, GIGroups: 1 << 0},
			},
		},
	}
	g := NewGateway(cfg, nil, nil)
	sender := &fakeSender{}
	group := g.redundancy.Groups()[0]
	session := newSession(sender, group, group.Slots[0])
	g.mu.Lock()
	g.sessions[session.Handle] = session
	g.byConn[sender] = session
	g.mu.Unlock()
	return g, sender, session
}

func asduParams() *asdu.Params { return asdu.ParamsStandard104 }

// TestHandleClockSyncPositive: an enabled clock-sync
// request with a timestamp is acknowledged positively and the committed
// time is echoed back.
func TestHandleClockSyncPositive(t *testing.T) {
	g, sender, session := newTestGatewayWithPoints()
	ts := asdu.CP56Time2aFromMs(time.Now().UnixMilli(), time.UTC)
	a := asdu.NewASDU(asduParams(), asdu.Identifier{Type: asdu.CCsNa1, Cause: asdu.CotActivation, CommonAddr: 41})
	a.AddInfoObject(asdu.InfoObject{Time: &ts}, 0)

	err := g.handleClockSync(session, a)
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	require.Equal(t, asdu.CotActivationCon, sender.sent[0].Identifier.Cause)
	require.False(t, sender.sent[0].Identifier.Negative)
}

// TestHandleClockSyncDisabledIsNegative covers the gating flag: when
// TimeSyncEnabled is false the request is rejected with a negative ACT-CON.
func TestHandleClockSyncDisabledIsNegative(t *testing.T) {
	g, sender, session := newTestGatewayWithPoints()
	cfg := g.Config()
	cfg.Protocol.TimeSyncEnabled = false
	g.Reload(cfg)

	ts := asdu.CP56Time2aFromMs(time.Now().UnixMilli(), time.UTC)
	a := asdu.NewASDU(asduParams(), asdu.Identifier{Type: asdu.CCsNa1, Cause: asdu.CotActivation, CommonAddr: 41})
	a.AddInfoObject(asdu.InfoObject{Time: &ts}, 0)

	err := g.handleClockSync(session, a)
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	require.True(t, sender.sent[0].Identifier.Negative)
}

// TestHandleInterrogationUnknownCA: interrogating an
// unconfigured CA yields a negative ACT-CON with COT=UNKNOWN_CA and no GI
// data.
func TestHandleInterrogationUnknownCA(t *testing.T) {
	g, sender, session := newTestGatewayWithPoints()
	a := asdu.NewASDU(asduParams(), asdu.Identifier{Type: asdu.CIcNa1, Cause: asdu.CotActivation, CommonAddr: 99})
	a.AddInfoObject(asdu.InfoObject{QOI: asdu.QOIStation}, 0)

	err := g.handleInterrogation(session, a)
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	require.Equal(t, asdu.CotUnknownCA, sender.sent[0].Identifier.Cause)
	require.True(t, sender.sent[0].Identifier.Negative)
}

// TestHandleInterrogationStationSendsActConDataActTerm: a station
// interrogation on a known CA yields ACT-CON, the matching
// points' current values, then ACT-TERM.
func TestHandleInterrogationStationSendsActConDataActTerm(t *testing.T) {
	g, sender, session := newTestGatewayWithPoints()
	g.points.Update(41, 2001, asdu.InfoObject{SPValue: true, Quality: asdu.QualityGood}, nil)
	g.points.Update(41, 2002, asdu.InfoObject{Normalized: 100, Quality: asdu.QualityGood}, nil)

	a := asdu.NewASDU(asduParams(), asdu.Identifier{Type: asdu.CIcNa1, Cause: asdu.CotActivation, CommonAddr: 41})
	a.AddInfoObject(asdu.InfoObject{QOI: asdu.QOIStation}, 0)

	err := g.handleInterrogation(session, a)
	require.NoError(t, err)

	require.True(t, len(sender.sent) >= 3)
	require.Equal(t, asdu.CotActivationCon, sender.sent[0].Identifier.Cause)
	require.False(t, sender.sent[0].Identifier.Negative)

	last := sender.sent[len(sender.sent)-1]
	require.Equal(t, asdu.CotActivationTermination, last.Identifier.Cause)

	var sawSP, sawME bool
	for _, s := range sender.sent[1 : len(sender.sent)-1] {
		require.Equal(t, asdu.CotInterrogatedByStation, s.Identifier.Cause)
		for _, obj := range s.Objects {
			switch obj.Addr {
			case 2001:
				sawSP = true
			case 2002:
				sawME = true
			}
		}
	}
	require.True(t, sawSP)
	require.True(t, sawME)
}

// TestHandleInterrogationBroadcastSendsPerCATriplets: a broadcast
// general interrogation (CA=0xFFFF) iterates every known CA, and
// each CA's own ACT-CON/data/ACT-TERM triplet completes in full — addressed
// to that CA, not the broadcast sentinel — before the next CA begins.
func TestHandleInterrogationBroadcastSendsPerCATriplets(t *testing.T) {
	cfg := &Config{
		Protocol: ProtocolConfig{
			TimeSyncEnabled:            true,
			CommandsWithTimeEnabled:    true,
			CommandsWithoutTimeEnabled: true,
			CmdRecvTimeout:             10 * time.Second,
			CmdExecTimeout:             20 * time.Second,
			MaxASDUSize:                253,
			RedundancyGroups: []RedundancyGroupConfig{
				{Name: "control-room", IPs: []string{"10.0.0.1"}},
			},
		},
		DataExchange: DataExchangeConfig{
			Points: []PointConfig{
				{CA: 41, IOA: 2001, Type: asdu.MSpNa1, GIGroups: 1 << 0, AllowedCommands: []asdu.TypeID{asdu.CScNa1}},
				{CA: 41, IOA: 2002, Type: asdu.MMeNa1, GIGroups: 1 << 0},
				{CA: 7, IOA: 3001, Type: asdu.MSpNa1, GIGroups: 1 << 0},
			},
		},
	}
	g := NewGateway(cfg, nil, nil)
	sender := &fakeSender{}
	group := g.redundancy.Groups()[0]
	session := newSession(sender, group, group.Slots[0])
	g.mu.Lock()
	g.sessions[session.Handle] = session
	g.byConn[sender] = session
	g.mu.Unlock()

	g.points.Update(41, 2001, asdu.InfoObject{SPValue: true, Quality: asdu.QualityGood}, nil)
	g.points.Update(41, 2002, asdu.InfoObject{Normalized: 100, Quality: asdu.QualityGood}, nil)
	g.points.Update(7, 3001, asdu.InfoObject{SPValue: false, Quality: asdu.QualityGood}, nil)

	a := asdu.NewASDU(asduParams(), asdu.Identifier{Type: asdu.CIcNa1, Cause: asdu.CotActivation, CommonAddr: asduParams().BroadcastCA()})
	a.AddInfoObject(asdu.InfoObject{QOI: asdu.QOIStation}, 0)

	err := g.handleInterrogation(session, a)
	require.NoError(t, err)
	require.True(t, len(sender.sent) >= 6)

	// Group the sent ASDUs into per-CA triplets in send order and verify
	// each triplet is ACT-CON, then data for that CA only, then ACT-TERM,
	// with no triplet interleaved with another CA's data.
	i := 0
	seenCAs := map[asdu.CommonAddr]bool{}
	for i < len(sender.sent) {
		actCon := sender.sent[i]
		require.Equal(t, asdu.CotActivationCon, actCon.Identifier.Cause)
		require.False(t, actCon.Identifier.Negative)
		ca := actCon.Identifier.CommonAddr
		require.NotEqual(t, asduParams().BroadcastCA(), ca, "per-CA ACT-CON must address the concrete CA, not the broadcast sentinel")
		require.False(t, seenCAs[ca], "CA %d interrogated twice", ca)
		seenCAs[ca] = true
		i++

		for i < len(sender.sent) && sender.sent[i].Identifier.Cause == asdu.CotInterrogatedByStation {
			require.Equal(t, ca, sender.sent[i].Identifier.CommonAddr)
			i++
		}

		require.True(t, i < len(sender.sent), "missing ACT-TERM for CA %d", ca)
		actTerm := sender.sent[i]
		require.Equal(t, asdu.CotActivationTermination, actTerm.Identifier.Cause)
		require.Equal(t, ca, actTerm.Identifier.CommonAddr)
		i++
	}
	require.True(t, seenCAs[41])
	require.True(t, seenCAs[7])
}

func newSelectCommand(ca asdu.CommonAddr, ioa asdu.InfoObjAddr, selectBit bool) *asdu.ASDU {
	a := asdu.NewASDU(asduParams(), asdu.Identifier{Type: asdu.CScNa1, Cause: asdu.CotActivation, CommonAddr: ca})
	a.AddInfoObject(asdu.InfoObject{Addr: ioa, SPValue: true, Select: selectBit}, 0)
	return a
}

// TestValidateCommandRejectsWhenSouthNotStarted covers validation step 1.
func TestValidateCommandRejectsWhenSouthNotStarted(t *testing.T) {
	g, _, session := newTestGatewayWithPoints()
	a := newSelectCommand(41, 2001, true)
	result := g.validateCommand(session, a)
	require.False(t, result.accept)
	require.True(t, result.negative)
	require.Equal(t, asdu.CotActivationCon, result.cot)
}

func newGatewayWithStartedSouth() (*Gateway, *Session) {
	cfg := &Config{
		Protocol: ProtocolConfig{
			CommandsWithoutTimeEnabled: true,
			SouthMonitorNames:          []string{"plc1"},
			RedundancyGroups: []RedundancyGroupConfig{
				{Name: "control-room", IPs: []string{"10.0.0.1"}},
			},
		},
		DataExchange: DataExchangeConfig{
			Points: []PointConfig{
				{CA: 41, IOA: 2001, Type: asdu.MSpNa1, AllowedCommands: []asdu.TypeID{asdu.CScNa1}},
			},
		},
	}
	g := NewGateway(cfg, nil, nil)
	g.south.Update("plc1", ConnxStarted, GIIdle)
	group := g.redundancy.Groups()[0]
	session := newSession(&fakeSender{}, group, group.Slots[0])
	return g, session
}

// TestValidateCommandUnknownIOA covers validation step 6.
func TestValidateCommandUnknownIOA(t *testing.T) {
	g, session := newGatewayWithStartedSouth()
	a := asdu.NewASDU(asduParams(), asdu.Identifier{Type: asdu.CScNa1, Cause: asdu.CotActivation, CommonAddr: 41})
	a.AddInfoObject(asdu.InfoObject{Addr: 9999, SPValue: true}, 0)
	result := g.validateCommand(session, a)
	require.False(t, result.accept)
	require.Equal(t, asdu.CotUnknownIOA, result.cot)
}

// TestValidateCommandAcceptsKnownPoint: a select command passes the whole
// pipeline once the south is reachable and the point allows the command.
func TestValidateCommandAcceptsKnownPoint(t *testing.T) {
	g, session := newGatewayWithStartedSouth()
	a := newSelectCommand(41, 2001, true)
	result := g.validateCommand(session, a)
	require.True(t, result.accept)
}

// TestHandleCommandWithBadTimestampIsSilentlyDropped: a timestamped command whose timestamp falls outside
// the receive window produces no response at all.
func TestHandleCommandWithBadTimestampIsSilentlyDropped(t *testing.T) {
	cfg := &Config{
		Protocol: ProtocolConfig{
			CommandsWithTimeEnabled: true,
			CmdRecvTimeout:          1 * time.Second,
			CmdExecTimeout:          20 * time.Second,
			SouthMonitorNames:       []string{"plc1"},
			RedundancyGroups: []RedundancyGroupConfig{
				{Name: "control-room", IPs: []string{"10.0.0.1"}},
			},
		},
		DataExchange: DataExchangeConfig{
			Points: []PointConfig{
				{CA: 41, IOA: 2001, Type: asdu.MSpNa1, AllowedCommands: []asdu.TypeID{asdu.CScTa1}},
			},
		},
	}
	g := NewGateway(cfg, nil, nil)
	g.south.Update("plc1", ConnxStarted, GIIdle)
	group := g.redundancy.Groups()[0]
	sender := &fakeSender{}
	session := newSession(sender, group, group.Slots[0])
	g.mu.Lock()
	g.sessions[session.Handle] = session
	g.mu.Unlock()

	stale := asdu.CP56Time2aFromMs(time.Now().Add(-time.Hour).UnixMilli(), time.UTC)
	a := asdu.NewASDU(asduParams(), asdu.Identifier{Type: asdu.CScTa1, Cause: asdu.CotActivation, CommonAddr: 41})
	a.AddInfoObject(asdu.InfoObject{Addr: 2001, SPValue: true, Select: true, Time: &stale}, 0)

	err := g.handleCommand(session, a)
	require.NoError(t, err)
	require.Empty(t, sender.sent)
	require.Equal(t, 0, g.tracker.Len())
}

// TestHandleCommandAppendsOutstandingEntryOnAccept: an accepted select
// command is tracked WaitActCon
// against its owning session until southern feedback arrives.
func TestHandleCommandAppendsOutstandingEntryOnAccept(t *testing.T) {
	cfg := &Config{
		Protocol: ProtocolConfig{
			CommandsWithoutTimeEnabled: true,
			CmdExecTimeout:             20 * time.Second,
			SouthMonitorNames:          []string{"plc1"},
			RedundancyGroups: []RedundancyGroupConfig{
				{Name: "control-room", IPs: []string{"10.0.0.1"}},
			},
		},
		DataExchange: DataExchangeConfig{
			Points: []PointConfig{
				{CA: 41, IOA: 2001, Type: asdu.MSpNa1, AllowedCommands: []asdu.TypeID{asdu.CScNa1}},
			},
		},
	}
	calls := 0
	cb := func(op string, names, values []string, dest OperationDestination, svc string) int {
		calls++
		return 1
	}
	g := NewGateway(cfg, cb, nil)
	g.south.Update("plc1", ConnxStarted, GIIdle)
	group := g.redundancy.Groups()[0]
	sender := &fakeSender{}
	session := newSession(sender, group, group.Slots[0])
	g.mu.Lock()
	g.sessions[session.Handle] = session
	g.mu.Unlock()

	a := newSelectCommand(41, 2001, true)
	err := g.handleCommand(session, a)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, g.tracker.Len())
	require.Empty(t, sender.sent)

	entry := g.tracker.FindByMatch(asdu.CScNa1, 41, 2001)
	require.NotNil(t, entry)
	require.Equal(t, PhaseWaitActCon, entry.Phase)
	require.True(t, entry.IsSelect)
}
