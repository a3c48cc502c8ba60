// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package cs104

import "github.com/riclolsen/iec104north/internal/asdu"

// ConnectionEvent describes a lifecycle transition of a Connection, handed
// to Server.Handler.ConnectionEvent so the gateway layer can drive its
// redundancy group bookkeeping and audit stream.
type ConnectionEvent int

const (
	// EventOpened fires once the TCP connection is accepted and admitted
	// by Server.Handler.Accept.
	EventOpened ConnectionEvent = iota
	// EventClosed fires when the TCP connection is torn down, for any
	// reason (peer close, timeout, Close call).
	EventClosed
	// EventActivated fires when a STARTDT activation/confirmation
	// handshake completes: the connection now carries I-frame traffic.
	EventActivated
	// EventDeactivated fires when a STOPDT handshake completes: the
	// connection reverts to U/S-frame-only (link stays open).
	EventDeactivated
)

func (e ConnectionEvent) String() string {
	switch e {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventActivated:
		return "activated"
	case EventDeactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}

// Handler is implemented by the gateway layer to receive admission
// decisions, lifecycle events and decoded ASDUs from a Server.
type Handler interface {
	// Accept is called immediately after a TCP connection is accepted,
	// before any APCI exchange, so the gateway's redundancy group manager
	// can admit or refuse it based on the peer's IP (and, if distinct
	// group members share an IP, its port). Returning false closes the
	// socket immediately.
	Accept(conn *Connection) bool

	// ConnectionEvent notifies a lifecycle transition for an admitted
	// connection.
	ConnectionEvent(conn *Connection, event ConnectionEvent)

	// ASDU delivers one fully decoded ASDU received over an activated
	// connection. A returned error is logged but never torn the
	// connection down — link-layer faults do that, not application ones.
	ASDU(conn *Connection, a *asdu.ASDU) error
}
