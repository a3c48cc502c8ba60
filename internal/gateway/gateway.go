// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package gateway

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/riclolsen/iec104north/internal/asdu"
	"github.com/riclolsen/iec104north/internal/clog"
	"github.com/riclolsen/iec104north/internal/cs104"
)

// Gateway wires every component of the T104 slave together: the point
// table, the outstanding-command tracker, the redundancy group manager,
// the session handling (via cs104.Handler), the spontaneous dispatch (via
// Send), the monitoring loop and the audit emitter. It is the single
// object cmd/iec104northd constructs and owns.
type Gateway struct {
	clog.Clog

	cfg atomic.Value // *Config, swapped whole on reload

	points     *PointTable
	tracker    *Tracker
	redundancy *RedundancyManager
	south      *SouthMonitors
	audit      *Emitter
	opCallback OperationCallback

	server *cs104.Server

	// ClockSetter commits clock-sync commands to the host wall clock. May
	// be left nil (time-sync is then acknowledged per config without ever
	// touching the host clock) — see asdu_handler.go.
	ClockSetter ClockSetter

	mu       sync.Mutex
	sessions map[SessionHandle]*Session
	byConn   map[asduSender]*Session

	listenerRunning      *atomic.Bool
	southStatusRequested *atomic.Bool
	initSocketFinished   *atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewGateway builds a Gateway from a decoded Config. opCallback is the
// single external egress callback; sink receives audit records (may be
// nil to discard them, e.g. in tests).
func NewGateway(cfg *Config, opCallback OperationCallback, sink AuditSink) *Gateway {
	g := &Gateway{
		Clog:                 clog.NewLogger("gateway => "),
		points:               NewPointTable(cfg.DataExchange),
		tracker:              NewTracker(),
		redundancy:           NewRedundancyManager(cfg.Protocol.RedundancyGroups),
		south:                NewSouthMonitors(cfg.Protocol.SouthMonitorNames),
		audit:                NewEmitter(sink),
		opCallback:           opCallback,
		sessions:             make(map[SessionHandle]*Session),
		byConn:               make(map[asduSender]*Session),
		listenerRunning:      atomic.NewBool(false),
		southStatusRequested: atomic.NewBool(false),
		initSocketFinished:   atomic.NewBool(false),
	}
	g.cfg.Store(cfg)
	g.LogMode(true)
	return g
}

// Config returns the currently active configuration snapshot.
func (g *Gateway) Config() *Config { return g.cfg.Load().(*Config) }

// Reload swaps in a new configuration snapshot produced by LoadConfig or
// ApplyPatch. The Point Table, Tracker and Redundancy Manager are not
// rebuilt — only protocol-level gating flags and timers take effect from
// the new snapshot, so an operator can change one key without restarting
// the southbound dataflow.
func (g *Gateway) Reload(cfg *Config) {
	g.cfg.Store(cfg)
}

// params returns the ASDU address-field sizes for the active configuration.
func (g *Gateway) params() *asdu.Params {
	cfg := g.Config()
	p := &asdu.Params{
		CommonAddrSize:  cfg.Protocol.CommonAddrSize,
		CauseSize:       2,
		InfoObjAddrSize: cfg.Protocol.InfoObjAddrSize,
	}
	if p.Valid() != nil {
		return asdu.ParamsStandard104
	}
	return p
}

// Points exposes the Point Table for the Status API.
func (g *Gateway) Points() *PointTable { return g.points }

// Tracker exposes the Outstanding-Command Tracker for the Status API.
func (g *Gateway) Tracker() *Tracker { return g.tracker }

// Redundancy exposes the Redundancy Group Manager for the Status API.
func (g *Gateway) Redundancy() *RedundancyManager { return g.redundancy }

// Audit exposes the Audit Emitter for the Status API.
func (g *Gateway) Audit() *Emitter { return g.audit }

// South exposes the South-Plugin Monitor registry for the Status API.
func (g *Gateway) South() *SouthMonitors { return g.south }

// SessionsSnapshot returns one summary row per live session, for the
// Status API.
func (g *Gateway) SessionsSnapshot() []SessionSummary {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]SessionSummary, 0, len(g.sessions))
	for _, s := range g.sessions {
		out = append(out, SessionSummary{
			Handle: s.Handle,
			Group:  s.Group.Name,
			Path:   byte(s.Slot.Letter),
			Peer:   s.Slot.IP + ":" + s.Slot.Port,
			State:  s.State().String(),
		})
	}
	return out
}

// SessionSummary is a read-only view of a Session for the Status API.
type SessionSummary struct {
	Handle SessionHandle
	Group  string
	Path   byte
	Peer   string
	State  string
}

// Start emits the startup audits, binds the T104 listener when the
// operating mode is ConnectAlways (under ConnectIfSouthConnxStarted the
// monitoring loop binds it later), and begins the monitoring loop.
// tlsConfig may be nil for plain TCP; loading TLS material from disk is the
// caller's concern.
func (g *Gateway) Start(tlsConfig *tls.Config) error {
	cfg := g.Config()
	g.server = cs104.NewServer(g)
	g.server.SetParams(g.params())
	g.server.SetConfig(cs104.Config{
		ListenAddress: net.JoinHostPort(cfg.Protocol.BindIP, strconv.Itoa(cfg.Protocol.Port)),
		K:             cfg.Protocol.K,
		W:             cfg.Protocol.W,
		TimeoutT0:     cfg.Protocol.T0,
		TimeoutT1:     cfg.Protocol.T1,
		TimeoutT2:     cfg.Protocol.T2,
		TimeoutT3:     cfg.Protocol.T3,
		MaxClients:    cfg.Protocol.MaxConnections(),
	})
	if tlsConfig != nil {
		g.server.SetTLS(tlsConfig)
	}

	g.ctx, g.cancel = context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(g.ctx)
	g.group = eg

	g.audit.EmitStartup(g.redundancy.Groups(), cfg.Protocol.MaxGroupCount)

	if cfg.Protocol.OperatingMode == ConnectAlways {
		if err := g.server.Start(); err != nil {
			g.Critical("failed to start listener: %v", err)
			return errors.Wrap(err, "gateway: starting listener")
		}
		g.listenerRunning.Store(true)
	}

	eg.Go(func() error {
		g.monitoringLoop(ctx)
		return nil
	})
	return nil
}

// Stop halts the Monitoring Loop and the listener, and waits for both to
// finish.
func (g *Gateway) Stop() error {
	if g.cancel != nil {
		g.cancel()
	}
	if g.group != nil {
		_ = g.group.Wait()
	}
	if g.server != nil {
		if err := g.server.Close(); err != nil && err != cs104.ErrServerClosed {
			return err
		}
	}
	return nil
}

