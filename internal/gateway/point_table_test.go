// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riclolsen/iec104north/internal/asdu"
)

func newTestPointTable() *PointTable {
	return NewPointTable(DataExchangeConfig{
		Points: []PointConfig{
			{CA: 41, IOA: 2001, Type: asdu.MSpNa1, GIGroups: 1 << 0, AllowedCommands: []asdu.TypeID{asdu.CScNa1}},
			{CA: 41, IOA: 2002, Type: asdu.MDpNa1, GIGroups: 1 << 1},
			{CA: 42, IOA: 3001, Type: asdu.MMeNa1, GIGroups: 1 << 0},
		},
	})
}

func TestPointTableGetAndKnownCA(t *testing.T) {
	pt := newTestPointTable()

	p, ok := pt.Get(41, 2001)
	require.True(t, ok)
	require.Equal(t, asdu.MSpNa1, p.Type)

	_, ok = pt.Get(41, 9999)
	require.False(t, ok)

	require.True(t, pt.KnownCA(41))
	require.True(t, pt.KnownCA(42))
	require.False(t, pt.KnownCA(99))
}

// TestPointTableCommonAddressesOrdering preserves first-registration order,
// required for deterministic broadcast-CA interrogation iteration.
func TestPointTableCommonAddressesOrdering(t *testing.T) {
	pt := newTestPointTable()
	require.Equal(t, []asdu.CommonAddr{41, 42}, pt.CommonAddresses())
}

// TestPointTableGIGroupMembership: a point P appears
// in a GI response for QOI=Q iff P.gi_groups bit (Q-20) is set.
func TestPointTableGIGroupMembership(t *testing.T) {
	pt := newTestPointTable()
	p, _ := pt.Get(41, 2001)
	require.True(t, p.HasGIGroup(0))
	require.False(t, p.HasGIGroup(1))

	p2, _ := pt.Get(41, 2002)
	require.False(t, p2.HasGIGroup(0))
	require.True(t, p2.HasGIGroup(1))
}

func TestPointAllowsCommand(t *testing.T) {
	pt := newTestPointTable()
	p, _ := pt.Get(41, 2001)
	require.True(t, p.AllowsCommand(asdu.CScNa1))
	require.False(t, p.AllowsCommand(asdu.CDcNa1))
}

// TestPointTableUpdateWholeStructReplacement: point
// values are replaced as a whole, never mutated field-by-field.
func TestPointTableUpdateWholeStructReplacement(t *testing.T) {
	pt := newTestPointTable()
	before, _ := pt.Get(41, 2001)
	require.False(t, before.Updated)

	ok := pt.Update(41, 2001, asdu.InfoObject{SPValue: true, Quality: asdu.QualityGood}, nil)
	require.True(t, ok)

	after, _ := pt.Get(41, 2001)
	require.True(t, after.Updated)
	require.True(t, after.Value.SPValue)
	// The GI group bitmask and allowed commands survive the replacement.
	require.True(t, after.HasGIGroup(0))
	require.True(t, after.AllowsCommand(asdu.CScNa1))

	require.False(t, pt.Update(99, 1, asdu.InfoObject{}, nil))
}

func TestPointTableSnapshotCount(t *testing.T) {
	pt := newTestPointTable()
	require.Len(t, pt.Snapshot(), 3)
}
