// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeAuditSink struct {
	records []AuditRecord
}

func (s *fakeAuditSink) Audit(record AuditRecord) {
	s.records = append(s.records, record)
}

// TestAuditPerPathDeduplicates: two identical
// consecutive status values for the same path never produce two audits.
func TestAuditPerPathDeduplicates(t *testing.T) {
	sink := &fakeAuditSink{}
	e := NewEmitter(sink)

	e.PerPath(0, PathA, PathDisconnected)
	e.PerPath(0, PathA, PathDisconnected)
	require.Len(t, sink.records, 1)

	e.PerPath(0, PathA, PathActive)
	require.Len(t, sink.records, 2)
}

func TestAuditGlobalDeduplicates(t *testing.T) {
	sink := &fakeAuditSink{}
	e := NewEmitter(sink)

	e.Global(GlobalDisconnected)
	e.Global(GlobalDisconnected)
	require.Len(t, sink.records, 1)

	e.Global(GlobalConnected)
	require.Len(t, sink.records, 2)
	require.Equal(t, SeveritySuccess, sink.records[1].Severity)
}

// TestAuditEmitStartupSequence: at startup every configured slot
// reports disconnected, every unconfigured slot up to MaxGroupCount reports
// unused, and a single-connection group's absent B slot reports unused,
// followed by one global disconnected.
func TestAuditEmitStartupSequence(t *testing.T) {
	sink := &fakeAuditSink{}
	e := NewEmitter(sink)

	m := NewRedundancyManager([]RedundancyGroupConfig{
		{Name: "control-room", IPs: []string{"10.0.0.1", "10.0.0.2"}},
		{Name: "backup-center", IPs: []string{"10.0.1.1"}},
	})

	e.EmitStartup(m.Groups(), 3)

	status, ok := e.LastPerPath(0, PathA)
	require.True(t, ok)
	require.Equal(t, PathDisconnected, status)

	status, ok = e.LastPerPath(0, PathB)
	require.True(t, ok)
	require.Equal(t, PathDisconnected, status)

	status, ok = e.LastPerPath(1, PathB)
	require.True(t, ok)
	require.Equal(t, PathUnused, status)

	status, ok = e.LastPerPath(2, PathA)
	require.True(t, ok)
	require.Equal(t, PathUnused, status)

	global, ok := e.LastGlobal()
	require.True(t, ok)
	require.Equal(t, GlobalDisconnected, global)
}

func TestSeverityForPath(t *testing.T) {
	require.Equal(t, SeverityFailure, severityForPath(PathDisconnected))
	require.Equal(t, SeveritySuccess, severityForPath(PathPassive))
	require.Equal(t, SeveritySuccess, severityForPath(PathActive))
	require.Equal(t, SeverityInformation, severityForPath(PathUnused))
}
