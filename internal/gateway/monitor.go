// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package gateway

import (
	"context"
	"time"

	"github.com/riclolsen/iec104north/internal/cs104"
)

// monitoringTick is the monitoring loop's cadence.
const monitoringTick = 100 * time.Millisecond

// monitoringLoop runs for the gateway's entire lifetime: it requests the
// south-connection status once at startup (retrying until the host
// acknowledges), starts or stops the T104 listener as south connectivity
// changes under ConnectIfSouthConnxStarted, emits the one-shot "socket
// initialized" north_status each time the listener comes up in that mode,
// and sweeps expired Outstanding Commands.
func (g *Gateway) monitoringLoop(ctx context.Context) {
	ticker := time.NewTicker(monitoringTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.monitoringTick()
		}
	}
}

func (g *Gateway) monitoringTick() {
	if !g.southStatusRequested.Load() && g.opCallback != nil {
		if g.opCallback("request_connection_status", nil, nil, DestinationBroadcast, "") > 0 {
			g.southStatusRequested.Store(true)
		}
	}

	cfg := g.Config()
	switch cfg.Protocol.OperatingMode {
	case ConnectAlways:
		g.ensureListenerRunning()
	case ConnectIfSouthConnxStarted:
		g.reconcileListener()
	}

	g.tracker.SweepExpired(time.Now())
}

// ensureListenerRunning re-asserts the T104 listener on every tick under
// ConnectAlways, self-healing if the listener died between ticks rather
// than only starting it once at Gateway.Start.
func (g *Gateway) ensureListenerRunning() {
	if g.listenerRunning.Load() {
		return
	}
	if err := g.server.Start(); err != nil {
		if err == cs104.ErrServerAlreadyRunning {
			g.listenerRunning.Store(true)
			return
		}
		g.Warn("monitoring loop: failed to (re)start listener: %v", err)
		return
	}
	g.listenerRunning.Store(true)
}

// reconcileListener starts the T104 listener the moment any south monitor
// reports STARTED, and stops it again once every monitor has fallen back
// to NOT_CONNECTED. The init_socket_finished notification fires once per
// listener activation, re-armed each time the listener is stopped.
func (g *Gateway) reconcileListener() {
	running := g.listenerRunning.Load()
	started := g.south.AnyStarted()

	switch {
	case started && !running:
		if err := g.server.Start(); err != nil {
			g.Warn("monitoring loop: failed to start listener: %v", err)
			return
		}
		g.listenerRunning.Store(true)
		if g.initSocketFinished.CAS(false, true) {
			if g.opCallback != nil {
				g.opCallback("north_status", []string{"status"}, []string{"init_socket_finished"}, DestinationBroadcast, "")
			}
		}

	case !started && running && g.south.AllNotConnected():
		if err := g.server.Close(); err != nil {
			g.Warn("monitoring loop: failed to stop listener: %v", err)
			return
		}
		g.listenerRunning.Store(false)
		g.initSocketFinished.Store(false)
	}
}
