// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package gateway

import (
	"sync"

	"github.com/riclolsen/iec104north/internal/asdu"
)

// pointKey is the (CA, IOA) identity, unique across the table.
type pointKey struct {
	ca  asdu.CommonAddr
	ioa asdu.InfoObjAddr
}

// Point is a monitored/command point as held in the Point Table. Its Type
// is fixed at registration; Value/Quality/Time are replaced as a whole on
// every update, never mutated field-by-field, so a concurrent reader never
// observes a half-updated point.
type Point struct {
	CA   asdu.CommonAddr
	IOA  asdu.InfoObjAddr
	Type asdu.TypeID // without-timestamp monitored family

	Updated bool // false until the first southern update ever arrives
	Value   asdu.InfoObject
	Time    *asdu.CP56Time2a

	GIGroups uint32
	AllowedCommands []asdu.TypeID
}

// HasGIGroup reports whether this point is reported for QOI = 20+group.
func (p *Point) HasGIGroup(group int) bool {
	if group < 0 || group > 31 {
		return false
	}
	return p.GIGroups&(1<<uint(group)) != 0
}

// AllowsCommand reports whether t is in this point's allowed command set.
func (p *Point) AllowsCommand(t asdu.TypeID) bool {
	for _, c := range p.AllowedCommands {
		if c == t {
			return true
		}
	}
	return false
}

// PointTable is the in-memory registry of monitored/command points keyed
// by (CA, IOA). Reads come from the interrogation and spontaneous paths;
// writes come from the spontaneous dispatcher — a single RWMutex is
// sufficient since the dispatcher is single-threaded and session handlers
// only ever read.
type PointTable struct {
	mu     sync.RWMutex
	points map[pointKey]*Point
	// casInOrder preserves first-registration order so general
	// interrogation over the broadcast CA iterates CAs deterministically.
	casInOrder []asdu.CommonAddr
	caSeen     map[asdu.CommonAddr]bool
}

// NewPointTable builds an empty table from a decoded DataExchangeConfig.
func NewPointTable(cfg DataExchangeConfig) *PointTable {
	t := &PointTable{
		points: make(map[pointKey]*Point),
		caSeen: make(map[asdu.CommonAddr]bool),
	}
	for _, pc := range cfg.Points {
		t.register(pc)
	}
	return t
}

func (t *PointTable) register(pc PointConfig) {
	key := pointKey{ca: pc.CA, ioa: pc.IOA}
	t.points[key] = &Point{
		CA:              pc.CA,
		IOA:             pc.IOA,
		Type:            pc.Type.WithoutTimestamp(),
		GIGroups:        pc.GIGroups,
		AllowedCommands: pc.AllowedCommands,
	}
	if !t.caSeen[pc.CA] {
		t.caSeen[pc.CA] = true
		t.casInOrder = append(t.casInOrder, pc.CA)
	}
}

// Get returns the point at (ca, ioa) and whether it exists.
func (t *PointTable) Get(ca asdu.CommonAddr, ioa asdu.InfoObjAddr) (*Point, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.points[pointKey{ca: ca, ioa: ioa}]
	return p, ok
}

// KnownCA reports whether ca has at least one registered point.
func (t *PointTable) KnownCA(ca asdu.CommonAddr) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.caSeen[ca]
}

// CommonAddresses returns every known CA in first-registration order.
func (t *PointTable) CommonAddresses() []asdu.CommonAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]asdu.CommonAddr, len(t.casInOrder))
	copy(out, t.casInOrder)
	return out
}

// PointsForCA returns a stable-ordered snapshot of every point registered
// under ca. The returned Points are copies: callers may read them freely
// without holding the table's lock.
func (t *PointTable) PointsForCA(ca asdu.CommonAddr) []Point {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Point
	for _, key := range t.sortedKeysForCA(ca) {
		out = append(out, *t.points[key])
	}
	return out
}

func (t *PointTable) sortedKeysForCA(ca asdu.CommonAddr) []pointKey {
	var keys []pointKey
	for k := range t.points {
		if k.ca == ca {
			keys = append(keys, k)
		}
	}
	// Deterministic IOA ascending order, independent of map iteration.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j].ioa < keys[j-1].ioa; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// Update replaces the value/quality/time of the point at (ca, ioa) as a
// whole. Returns false if the point is not registered.
func (t *PointTable) Update(ca asdu.CommonAddr, ioa asdu.InfoObjAddr, value asdu.InfoObject, ts *asdu.CP56Time2a) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.points[pointKey{ca: ca, ioa: ioa}]
	if !ok {
		return false
	}
	updated := &Point{
		CA: p.CA, IOA: p.IOA, Type: p.Type,
		Updated: true, Value: value, Time: ts,
		GIGroups: p.GIGroups, AllowedCommands: p.AllowedCommands,
	}
	t.points[pointKey{ca: ca, ioa: ioa}] = updated
	return true
}

// Snapshot returns every registered point, for the Status API.
func (t *PointTable) Snapshot() []Point {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Point, 0, len(t.points))
	for _, p := range t.points {
		out = append(out, *p)
	}
	return out
}
