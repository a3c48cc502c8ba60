// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package gateway

import (
	"sync"

	"github.com/google/uuid"

	"github.com/riclolsen/iec104north/internal/asdu"
)

// SessionHandle is the capability handle a command's owning session is
// captured by. The gateway owns the mapping from codec connection to
// session capability, so nothing downstream ever holds a raw connection
// pointer.
type SessionHandle uuid.UUID

// SessionState is a Session's lifecycle position: CREATED on admission,
// PASSIVE on open, ACTIVE after STARTDT, back to PASSIVE on STOPDT, CLOSED
// on disconnect.
type SessionState int

const (
	SessionCreated SessionState = iota
	SessionPassive
	SessionActive
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionCreated:
		return "CREATED"
	case SessionPassive:
		return "PASSIVE"
	case SessionActive:
		return "ACTIVE"
	case SessionClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// asduSender is the narrow slice of *cs104.Connection the Session Handler
// actually needs, kept as an interface so the validation pipeline and GI
// assembly can be exercised in tests without a real TCP socket.
type asduSender interface {
	Send(a *asdu.ASDU) error
}

// Session is one accepted TCP connection bound to a redundancy group slot.
type Session struct {
	Handle SessionHandle
	Conn   asduSender
	Group  *Group
	Slot   *Slot

	mu    sync.Mutex
	state SessionState
}

func newSession(conn asduSender, group *Group, slot *Slot) *Session {
	return &Session{
		Handle: SessionHandle(uuid.New()),
		Conn:   conn,
		Group:  group,
		Slot:   slot,
		state:  SessionCreated,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
