// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riclolsen/iec104north/internal/asdu"
)

// CommandPhase is an Outstanding Command's position in the select/execute
// handshake.
type CommandPhase int

const (
	PhaseWaitActCon CommandPhase = iota
	PhaseWaitActTerm
	PhaseDone
)

// OutstandingCommand is one in-flight command awaiting southern feedback.
// Template is a copy of the ASDU that produced it, captured at submission
// time — never a borrow into codec-owned memory, which is only valid for
// the duration of the handler callback.
type OutstandingCommand struct {
	Handle       uuid.UUID
	Type         asdu.TypeID
	CA           asdu.CommonAddr
	IOA          asdu.InfoObjAddr
	Session      SessionHandle
	ArrivalTime  time.Time
	Deadline     time.Time
	Phase        CommandPhase
	IsSelect     bool
	Template     asdu.ASDU
}

// matches reports whether this entry corresponds to the given (type, CA,
// IOA) triplet, as used by purge-by-match and southern-feedback lookup.
func (e *OutstandingCommand) matches(t asdu.TypeID, ca asdu.CommonAddr, ioa asdu.InfoObjAddr) bool {
	return e.Type == t && e.CA == ca && e.IOA == ioa
}

// Tracker is the bag of Outstanding Commands: a mutex-protected set
// supporting append, purge-by-session, purge-by-match and sweep-expired.
// Capacity is unbounded; the configuration layer is responsible for
// bounding traffic upstream.
type Tracker struct {
	mu      sync.Mutex
	entries []*OutstandingCommand
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker { return &Tracker{} }

// Append adds a new entry. An older entry for the same (type, CA, IOA)
// from the same session is dropped first — the tracker never holds two
// matching entries for one session, so a re-issued command supersedes the
// stale one instead of double-answering later feedback.
func (t *Tracker) Append(e *OutstandingCommand) {
	t.mu.Lock()
	out := t.entries[:0]
	for _, old := range t.entries {
		if old.Session == e.Session && old.matches(e.Type, e.CA, e.IOA) {
			continue
		}
		out = append(out, old)
	}
	t.entries = append(out, e)
	t.mu.Unlock()
}

// FindByMatch returns the first entry matching (type, CA, IOA), used by
// the Spontaneous Dispatcher to correlate southern feedback.
func (t *Tracker) FindByMatch(typ asdu.TypeID, ca asdu.CommonAddr, ioa asdu.InfoObjAddr) *OutstandingCommand {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.matches(typ, ca, ioa) {
			return e
		}
	}
	return nil
}

// Remove drops the entry with the given handle (used once a select's
// ACT-CON lands, or an execute's ACT-TERM lands).
func (t *Tracker) Remove(handle uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if e.Handle == handle {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// PurgeBySession drops every entry bound to session — called on CLOSED or
// DEACTIVATED, since those commands will never be answered.
func (t *Tracker) PurgeBySession(session SessionHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.entries[:0]
	for _, e := range t.entries {
		if e.Session != session {
			out = append(out, e)
		}
	}
	t.entries = out
}

// PurgeByMatch drops every entry matching (type, CA, IOA), regardless of
// session.
func (t *Tracker) PurgeByMatch(typ asdu.TypeID, ca asdu.CommonAddr, ioa asdu.InfoObjAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.entries[:0]
	for _, e := range t.entries {
		if !e.matches(typ, ca, ioa) {
			out = append(out, e)
		}
	}
	t.entries = out
}

// SweepExpired drops every entry whose deadline has passed as of now,
// without emitting any response — the ACT-CON was already sent at
// submission. Called from the monitoring loop at 100ms granularity.
func (t *Tracker) SweepExpired(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.entries[:0]
	for _, e := range t.entries {
		if now.Before(e.Deadline) {
			out = append(out, e)
		}
	}
	t.entries = out
}

// Len returns the current entry count, for the Status API and tests.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Snapshot returns a shallow copy of the current entries, for the Status
// API.
func (t *Tracker) Snapshot() []OutstandingCommand {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]OutstandingCommand, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}
