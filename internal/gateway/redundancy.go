// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package gateway

import "sync"

// PathLetter labels the first and second slot of a redundancy group for
// operator audit clarity.
type PathLetter byte

const (
	PathA PathLetter = 'A'
	PathB PathLetter = 'B'
)

// Slot is one connection slot within a redundancy group: a configured
// client IP, the remote port bound to it once a peer connects (empty when
// disconnected), its path letter, and whether it is the group's currently
// active connection.
type Slot struct {
	IP     string
	Port   string
	Letter PathLetter
	Active bool
}

// Group is a redundancy group: an ordered list of slots. At most one slot
// in a group is active at a time; the first slot is A, the second B.
type Group struct {
	Index int
	Name  string
	Slots []*Slot
}

// RedundancyManager owns every configured Group and answers two lookups:
// by IP alone (connection admission) and by (IP, port) (slot release on
// disconnect). Slot state (port, active flag) is guarded by a plain
// sync.Mutex: connection-event dispatch here is synchronous and never
// calls back into code that re-acquires the lock, so no re-entrancy is
// needed.
type RedundancyManager struct {
	mu     sync.Mutex
	groups []*Group
}

// NewRedundancyManager builds a manager from the configured groups, slot
// letters assigned by configuration order (first IP => A, second => B).
func NewRedundancyManager(cfgs []RedundancyGroupConfig) *RedundancyManager {
	m := &RedundancyManager{}
	for i, cfg := range cfgs {
		g := &Group{Index: i, Name: cfg.Name}
		for j, ip := range cfg.IPs {
			letter := PathA
			if j == 1 {
				letter = PathB
			}
			g.Slots = append(g.Slots, &Slot{IP: ip, Letter: letter})
		}
		m.groups = append(m.groups, g)
	}
	return m
}

// Groups returns every configured group, for audit emission and the
// Status API. Callers must not mutate the returned slots directly.
func (m *RedundancyManager) Groups() []*Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Group(nil), m.groups...)
}

// FindByIP locates the group containing ip in any slot.
func (m *RedundancyManager) FindByIP(ip string) *Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		for _, s := range g.Slots {
			if s.IP == ip {
				return g
			}
		}
	}
	return nil
}

// Bind finds the first slot in the group containing ip whose port is
// empty, and records peerPort against it. Returns the bound group, slot
// and true on success; false if no group contains ip or every slot for ip
// is already occupied.
func (m *RedundancyManager) Bind(ip, peerPort string) (*Group, *Slot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		for _, s := range g.Slots {
			if s.IP == ip && s.Port == "" {
				s.Port = peerPort
				return g, s, true
			}
		}
	}
	return nil, nil, false
}

// Release clears the slot matching (ip, port): its port and active flag
// are cleared, its path letter retained.
func (m *RedundancyManager) Release(ip, port string) (*Group, *Slot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		for _, s := range g.Slots {
			if s.IP == ip && s.Port == port {
				s.Port = ""
				s.Active = false
				return g, s, true
			}
		}
	}
	return nil, nil, false
}

// SetActive sets or clears the active flag of the slot matching (ip, port).
func (m *RedundancyManager) SetActive(ip, port string, active bool) (*Group, *Slot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		for _, s := range g.Slots {
			if s.IP == ip && s.Port == port {
				s.Active = active
				return g, s, true
			}
		}
	}
	return nil, nil, false
}

// Activate marks the slot matching (ip, port) active and demotes any other
// active slot of the same group, keeping at most one slot per group active.
// The demoted slots are returned so the caller can audit their transition.
func (m *RedundancyManager) Activate(ip, port string) (*Group, *Slot, []*Slot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		for _, s := range g.Slots {
			if s.IP == ip && s.Port == port {
				var demoted []*Slot
				for _, other := range g.Slots {
					if other != s && other.Active {
						other.Active = false
						demoted = append(demoted, other)
					}
				}
				s.Active = true
				return g, s, demoted, true
			}
		}
	}
	return nil, nil, nil, false
}

// AnySessionOpen reports whether any slot, anywhere, currently has a
// non-empty port (i.e. a live session), used by the connection-event
// handler to decide whether to emit the global "disconnected" audit.
func (m *RedundancyManager) AnySessionOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		for _, s := range g.Slots {
			if s.Port != "" {
				return true
			}
		}
	}
	return false
}
