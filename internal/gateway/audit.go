// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package gateway

import (
	"fmt"
	"sync"

	"github.com/riclolsen/iec104north/internal/clog"
)

// Severity grades an audit record: disconnected is a FAILURE,
// passive/active/connected a SUCCESS, unused an INFORMATION.
type Severity int

const (
	SeverityInformation Severity = iota
	SeveritySuccess
	SeverityFailure
)

func (s Severity) String() string {
	switch s {
	case SeverityInformation:
		return "INFORMATION"
	case SeveritySuccess:
		return "SUCCESS"
	case SeverityFailure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// PathStatus is one per-path connectivity state.
type PathStatus string

const (
	PathUnused       PathStatus = "unused"
	PathDisconnected PathStatus = "disconnected"
	PathPassive      PathStatus = "passive"
	PathActive       PathStatus = "active"
)

// GlobalStatus is the gateway-wide connectivity state.
type GlobalStatus string

const (
	GlobalDisconnected GlobalStatus = "disconnected"
	GlobalConnected    GlobalStatus = "connected"
)

// AuditRecord is one emitted audit message, retained for the Status API
// and for de-duplication.
type AuditRecord struct {
	Key      string
	Severity Severity
}

// AuditSink receives emitted audit records. Implementations live outside
// this module; Gateway wires one in at construction.
type AuditSink interface {
	Audit(record AuditRecord)
}

// Emitter implements the two de-duplicated audit streams: per-path
// connectivity and global connectivity. A status equal to the last one
// emitted for the same key produces no record.
type Emitter struct {
	clog.Clog
	sink AuditSink

	mu          sync.Mutex
	lastPerPath map[string]PathStatus
	lastGlobal  GlobalStatus
	globalSet   bool
}

// NewEmitter builds an Emitter that reports through sink.
func NewEmitter(sink AuditSink) *Emitter {
	e := &Emitter{
		Clog:        clog.NewLogger("gateway audit => "),
		sink:        sink,
		lastPerPath: make(map[string]PathStatus),
	}
	e.LogMode(true)
	return e
}

func pathKey(groupIndex int, letter PathLetter) string {
	return fmt.Sprintf("service-%d-%c", groupIndex, letter)
}

// PerPath emits the per-path audit for (groupIndex, letter, status),
// de-duplicated against the last status emitted for that path.
func (e *Emitter) PerPath(groupIndex int, letter PathLetter, status PathStatus) {
	key := pathKey(groupIndex, letter)
	e.mu.Lock()
	if e.lastPerPath[key] == status {
		e.mu.Unlock()
		return
	}
	e.lastPerPath[key] = status
	e.mu.Unlock()

	sev := severityForPath(status)
	e.Info("audit %s-%s severity=%s", key, status, sev)
	if e.sink != nil {
		e.sink.Audit(AuditRecord{Key: fmt.Sprintf("%s-%s", key, status), Severity: sev})
	}
}

// Global emits the global connectivity audit, de-duplicated against the
// last global status emitted.
func (e *Emitter) Global(status GlobalStatus) {
	e.mu.Lock()
	if e.globalSet && e.lastGlobal == status {
		e.mu.Unlock()
		return
	}
	e.lastGlobal = status
	e.globalSet = true
	e.mu.Unlock()

	sev := SeverityFailure
	if status == GlobalConnected {
		sev = SeveritySuccess
	}
	e.Info("audit service-%s severity=%s", status, sev)
	if e.sink != nil {
		e.sink.Audit(AuditRecord{Key: fmt.Sprintf("service-%s", status), Severity: sev})
	}
}

func severityForPath(status PathStatus) Severity {
	switch status {
	case PathDisconnected:
		return SeverityFailure
	case PathPassive, PathActive:
		return SeveritySuccess
	default: // unused
		return SeverityInformation
	}
}

// EmitStartup performs the startup audit sequence: per-path "disconnected"
// for every configured slot, "unused" for every unconfigured slot up to
// maxGroupCount (and for a single-connection group's unused B slot), then
// a global "disconnected".
func (e *Emitter) EmitStartup(groups []*Group, maxGroupCount int) {
	for _, g := range groups {
		e.PerPath(g.Index, PathA, PathDisconnected)
		if len(g.Slots) >= 2 {
			e.PerPath(g.Index, PathB, PathDisconnected)
		} else {
			e.PerPath(g.Index, PathB, PathUnused)
		}
	}
	for i := len(groups); i < maxGroupCount; i++ {
		e.PerPath(i, PathA, PathUnused)
		e.PerPath(i, PathB, PathUnused)
	}
	e.Global(GlobalDisconnected)
}

// LastPerPath returns the most recently emitted status for (groupIndex,
// letter), for the Status API.
func (e *Emitter) LastPerPath(groupIndex int, letter PathLetter) (PathStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.lastPerPath[pathKey(groupIndex, letter)]
	return s, ok
}

// LastGlobal returns the most recently emitted global status.
func (e *Emitter) LastGlobal() (GlobalStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastGlobal, e.globalSet
}
