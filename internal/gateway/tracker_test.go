// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package gateway

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/riclolsen/iec104north/internal/asdu"
)

func newEntry(session SessionHandle, typ asdu.TypeID, ca asdu.CommonAddr, ioa asdu.InfoObjAddr, deadline time.Time) *OutstandingCommand {
	return &OutstandingCommand{
		Handle:      uuid.New(),
		Type:        typ,
		CA:          ca,
		IOA:         ioa,
		Session:     session,
		ArrivalTime: time.Now(),
		Deadline:    deadline,
	}
}

func TestTrackerFindByMatch(t *testing.T) {
	tr := NewTracker()
	s1 := SessionHandle(uuid.New())
	e := newEntry(s1, asdu.CScNa1, 41, 2001, time.Now().Add(time.Minute))
	tr.Append(e)

	found := tr.FindByMatch(asdu.CScNa1, 41, 2001)
	require.NotNil(t, found)
	require.Equal(t, e.Handle, found.Handle)

	require.Nil(t, tr.FindByMatch(asdu.CScNa1, 41, 9999))
}

func TestTrackerRemove(t *testing.T) {
	tr := NewTracker()
	s1 := SessionHandle(uuid.New())
	e := newEntry(s1, asdu.CScNa1, 41, 2001, time.Now().Add(time.Minute))
	tr.Append(e)
	require.Equal(t, 1, tr.Len())

	tr.Remove(e.Handle)
	require.Equal(t, 0, tr.Len())
	require.Nil(t, tr.FindByMatch(asdu.CScNa1, 41, 2001))
}

// TestTrackerPurgeBySessionInvariant: after
// purge-by-session(S), no entry in the tracker references S.
func TestTrackerPurgeBySessionInvariant(t *testing.T) {
	tr := NewTracker()
	s1 := SessionHandle(uuid.New())
	s2 := SessionHandle(uuid.New())
	tr.Append(newEntry(s1, asdu.CScNa1, 41, 1, time.Now().Add(time.Minute)))
	tr.Append(newEntry(s1, asdu.CDcNa1, 41, 2, time.Now().Add(time.Minute)))
	tr.Append(newEntry(s2, asdu.CScNa1, 41, 3, time.Now().Add(time.Minute)))

	tr.PurgeBySession(s1)

	for _, e := range tr.Snapshot() {
		require.NotEqual(t, s1, e.Session)
	}
	require.Equal(t, 1, tr.Len())
}

func TestTrackerPurgeByMatch(t *testing.T) {
	tr := NewTracker()
	s1 := SessionHandle(uuid.New())
	tr.Append(newEntry(s1, asdu.CScNa1, 41, 1, time.Now().Add(time.Minute)))
	tr.Append(newEntry(s1, asdu.CScNa1, 41, 2, time.Now().Add(time.Minute)))

	tr.PurgeByMatch(asdu.CScNa1, 41, 1)

	require.Nil(t, tr.FindByMatch(asdu.CScNa1, 41, 1))
	require.NotNil(t, tr.FindByMatch(asdu.CScNa1, 41, 2))
}

// TestTrackerSweepExpiredDropsSilently: an entry past
// its deadline is simply dropped with no trace, no response emitted here.
func TestTrackerSweepExpiredDropsSilently(t *testing.T) {
	tr := NewTracker()
	s1 := SessionHandle(uuid.New())
	expired := newEntry(s1, asdu.CScNa1, 41, 1, time.Now().Add(-time.Second))
	fresh := newEntry(s1, asdu.CDcNa1, 41, 2, time.Now().Add(time.Hour))
	tr.Append(expired)
	tr.Append(fresh)

	tr.SweepExpired(time.Now())

	require.Nil(t, tr.FindByMatch(asdu.CScNa1, 41, 1))
	require.NotNil(t, tr.FindByMatch(asdu.CDcNa1, 41, 2))
}

// TestTrackerAppendReplacesSameSessionMatch: a re-issued command from the
// same session supersedes the stale entry instead of accumulating a
// duplicate (type, CA, IOA) match.
func TestTrackerAppendReplacesSameSessionMatch(t *testing.T) {
	tr := NewTracker()
	s1 := SessionHandle(uuid.New())
	s2 := SessionHandle(uuid.New())

	first := newEntry(s1, asdu.CScNa1, 41, 1, time.Now().Add(time.Minute))
	second := newEntry(s1, asdu.CScNa1, 41, 1, time.Now().Add(time.Minute))
	other := newEntry(s2, asdu.CScNa1, 41, 1, time.Now().Add(time.Minute))
	tr.Append(first)
	tr.Append(other)
	tr.Append(second)

	require.Equal(t, 2, tr.Len())
	require.Nil(t, findByHandle(tr, first.Handle))
	require.NotNil(t, findByHandle(tr, second.Handle))
	require.NotNil(t, findByHandle(tr, other.Handle))
}

func findByHandle(tr *Tracker, handle uuid.UUID) *OutstandingCommand {
	for _, e := range tr.Snapshot() {
		if e.Handle == handle {
			cp := e
			return &cp
		}
	}
	return nil
}
