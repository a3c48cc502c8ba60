// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package gateway

import (
	"net"

	"github.com/riclolsen/iec104north/internal/cs104"
)

// Accept implements cs104.Handler: admit the connection by binding it to
// the first free slot of the redundancy group containing the peer's IP,
// refusing peers with no configured group or no free slot.
func (g *Gateway) Accept(conn *cs104.Connection) bool {
	host, port := splitHostPort(conn.RemoteAddr())
	group, slot, ok := g.redundancy.Bind(host, port)
	if !ok {
		g.Warn("refusing connection from %s: no free slot", conn.RemoteAddr())
		return false
	}
	session := newSession(conn, group, slot)
	conn.SetPath(group.Name, byte(slot.Letter))

	g.mu.Lock()
	g.sessions[session.Handle] = session
	g.byConn[conn] = session
	g.mu.Unlock()
	return true
}

func splitHostPort(addr net.Addr) (host, port string) {
	h, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), ""
	}
	return h, p
}

// ConnectionEvent implements cs104.Handler: drive the Session's lifecycle
// state machine, the tracker purges on DEACTIVATED/CLOSED, and the per-path
// and global audit streams.
func (g *Gateway) ConnectionEvent(conn *cs104.Connection, event cs104.ConnectionEvent) {
	g.mu.Lock()
	session := g.byConn[conn]
	g.mu.Unlock()
	if session == nil {
		return
	}

	switch event {
	case cs104.EventOpened:
		session.setState(SessionPassive)
		g.audit.PerPath(session.Group.Index, session.Slot.Letter, PathPassive)

	case cs104.EventActivated:
		session.setState(SessionActive)
		_, _, demoted, _ := g.redundancy.Activate(session.Slot.IP, session.Slot.Port)
		for _, s := range demoted {
			g.mu.Lock()
			for _, other := range g.sessions {
				if other.Slot == s && other.State() == SessionActive {
					other.setState(SessionPassive)
				}
			}
			g.mu.Unlock()
			g.audit.PerPath(session.Group.Index, s.Letter, PathPassive)
		}
		g.audit.PerPath(session.Group.Index, session.Slot.Letter, PathActive)
		g.audit.Global(GlobalConnected)

	case cs104.EventDeactivated:
		session.setState(SessionPassive)
		g.redundancy.SetActive(session.Slot.IP, session.Slot.Port, false)
		g.tracker.PurgeBySession(session.Handle)
		g.audit.PerPath(session.Group.Index, session.Slot.Letter, PathPassive)

	case cs104.EventClosed:
		session.setState(SessionClosed)
		g.tracker.PurgeBySession(session.Handle)
		g.redundancy.Release(session.Slot.IP, session.Slot.Port)

		g.mu.Lock()
		delete(g.sessions, session.Handle)
		delete(g.byConn, conn)
		g.mu.Unlock()

		g.audit.PerPath(session.Group.Index, session.Slot.Letter, PathDisconnected)
		if !g.redundancy.AnySessionOpen() {
			g.audit.Global(GlobalDisconnected)
		}
	}
}
