// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riclolsen/iec104north/internal/cs104"
)

// TestEnsureListenerRunningSelfHealsUnderConnectAlways: under
// ConnectAlways, the monitoring loop re-asserts the
// listener on every tick, not just once at startup, so it recovers if
// the listener dies between ticks.
func TestEnsureListenerRunningSelfHealsUnderConnectAlways(t *testing.T) {
	cfg := &Config{
		Protocol: ProtocolConfig{
			OperatingMode:   ConnectAlways,
			BindIP:          "127.0.0.1",
			Port:            0,
			K:               12,
			W:               8,
			CommonAddrSize:  2,
			InfoObjAddrSize: 3,
			RedundancyGroups: []RedundancyGroupConfig{
				{Name: "control-room", IPs: []string{"10.0.0.1"}},
			},
		},
	}
	g := NewGateway(cfg, nil, nil)
	require.NoError(t, g.Start(nil))
	defer g.Stop()

	require.True(t, g.listenerRunning.Load())

	// Simulate the listener dying without the gateway being told to stop.
	require.NoError(t, g.server.Close())
	g.listenerRunning.Store(false)

	g.ensureListenerRunning()
	require.True(t, g.listenerRunning.Load(), "ConnectAlways must restart a dead listener on the next tick")
}

// TestEnsureListenerRunningNoopWhenAlreadyUp covers the steady-state case:
// re-asserting an already-running listener must not error or flap the
// running flag.
func TestEnsureListenerRunningNoopWhenAlreadyUp(t *testing.T) {
	cfg := &Config{
		Protocol: ProtocolConfig{
			OperatingMode:   ConnectAlways,
			BindIP:          "127.0.0.1",
			Port:            0,
			K:               12,
			W:               8,
			CommonAddrSize:  2,
			InfoObjAddrSize: 3,
			RedundancyGroups: []RedundancyGroupConfig{
				{Name: "control-room", IPs: []string{"10.0.0.1"}},
			},
		},
	}
	g := NewGateway(cfg, nil, nil)
	require.NoError(t, g.Start(nil))
	defer g.Stop()

	g.ensureListenerRunning()
	require.True(t, g.listenerRunning.Load())
}

// TestReconcileListenerEmitsInitSocketFinishedPerActivation: under
// ConnectIfSouthConnxStarted the listener follows south connectivity, and
// the init_socket_finished notification fires once per listener
// activation — re-armed when the listener stops, not once per process.
func TestReconcileListenerEmitsInitSocketFinishedPerActivation(t *testing.T) {
	var initNotices int
	cb := func(op string, names, values []string, dest OperationDestination, svc string) int {
		if op == "north_status" {
			initNotices++
		}
		return 1
	}
	cfg := &Config{
		Protocol: ProtocolConfig{
			OperatingMode:     ConnectIfSouthConnxStarted,
			BindIP:            "127.0.0.1",
			Port:              0,
			K:                 12,
			W:                 8,
			CommonAddrSize:    2,
			InfoObjAddrSize:   3,
			SouthMonitorNames: []string{"plc1"},
			RedundancyGroups: []RedundancyGroupConfig{
				{Name: "control-room", IPs: []string{"10.0.0.1"}},
			},
		},
	}
	g := NewGateway(cfg, cb, nil)
	attachTestServer(g)
	defer g.server.Close()
	require.False(t, g.listenerRunning.Load())

	g.south.Update("plc1", ConnxStarted, GIIdle)
	g.reconcileListener()
	require.True(t, g.listenerRunning.Load())
	require.Equal(t, 1, initNotices)

	g.reconcileListener()
	require.Equal(t, 1, initNotices, "steady state must not re-notify")

	g.south.Update("plc1", ConnxNotConnected, GIIdle)
	g.reconcileListener()
	require.False(t, g.listenerRunning.Load())

	g.south.Update("plc1", ConnxStarted, GIIdle)
	g.reconcileListener()
	require.True(t, g.listenerRunning.Load())
	require.Equal(t, 2, initNotices, "a fresh listener activation notifies again")
}

// TestMonitoringTickRetriesConnectionStatusRequest: the south status
// request is repeated until the host acknowledges it with a positive
// return, then never again.
func TestMonitoringTickRetriesConnectionStatusRequest(t *testing.T) {
	var requests int
	ret := 0
	cb := func(op string, names, values []string, dest OperationDestination, svc string) int {
		if op == "request_connection_status" {
			requests++
			return ret
		}
		return 1
	}
	cfg := &Config{
		Protocol: ProtocolConfig{
			OperatingMode:   ConnectAlways,
			BindIP:          "127.0.0.1",
			Port:            0,
			K:               12,
			W:               8,
			CommonAddrSize:  2,
			InfoObjAddrSize: 3,
			RedundancyGroups: []RedundancyGroupConfig{
				{Name: "control-room", IPs: []string{"10.0.0.1"}},
			},
		},
	}
	g := NewGateway(cfg, cb, nil)
	attachTestServer(g)
	defer g.server.Close()

	g.monitoringTick()
	g.monitoringTick()
	require.Equal(t, 2, requests, "unacknowledged request is retried")

	ret = 1
	g.monitoringTick()
	g.monitoringTick()
	require.Equal(t, 3, requests, "acknowledged request is not repeated")
}

// attachTestServer gives g a server configured for an ephemeral loopback
// port (bound on its first Start) without starting the background
// monitoring loop, so ticks can be driven by hand without racing it.
func attachTestServer(g *Gateway) {
	g.server = cs104.NewServer(g)
	g.server.SetConfig(cs104.Config{ListenAddress: "127.0.0.1:0"})
}
