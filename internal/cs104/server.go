// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package cs104

import (
	"context"
	"crypto/tls"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/riclolsen/iec104north/internal/asdu"
	"github.com/riclolsen/iec104north/internal/clog"
)

// Server is an IEC 60870-5-104 controlled station (slave): it listens for
// TCP connections, admits each through Handler.Accept, and drives the
// resulting Connection's APCI state machine, generalized from one
// point-to-point link to many concurrently admitted TCP peers so several
// redundancy-group members can be served at once.
type Server struct {
	clog.Clog

	cfg     Config
	params  *asdu.Params
	handler Handler
	tlsCfg  *tls.Config

	listener net.Listener
	mu       sync.Mutex
	conns    map[*Connection]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a Server bound to handler. SetConfig/SetParams/SetTLS
// may be called before Start; all default if omitted.
func NewServer(handler Handler) *Server {
	s := &Server{
		Clog:    clog.NewLogger("cs104 server => "),
		cfg:     DefaultConfig(),
		params:  asdu.ParamsStandard104,
		handler: handler,
		conns:   make(map[*Connection]struct{}),
	}
	s.LogMode(true)
	return s
}

// SetConfig sets the APCI configuration. Must be called before Start.
func (s *Server) SetConfig(cfg Config) *Server {
	if err := cfg.Valid(); err != nil {
		s.Warn("invalid cs104 config: %v, keeping previous", err)
		return s
	}
	s.cfg = cfg
	s.Clog = clog.NewLogger("cs104 server [" + cfg.ListenAddress + "] => ")
	s.LogMode(true)
	return s
}

// SetParams sets the ASDU address-field parameters. Must be called before
// Start.
func (s *Server) SetParams(p *asdu.Params) *Server {
	if err := p.Valid(); err != nil {
		s.Warn("invalid asdu params: %v, keeping standard 104 profile", err)
		return s
	}
	s.params = p
	return s
}

// SetTLS enables TLS termination for accepted connections. Pass nil (the
// default) for plain TCP.
func (s *Server) SetTLS(cfg *tls.Config) *Server {
	s.tlsCfg = cfg
	return s
}

// Start binds the listener and begins accepting connections in the
// background. It returns once the listener is bound.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return ErrServerAlreadyRunning
	}
	var (
		ln  net.Listener
		err error
	)
	if s.tlsCfg != nil {
		ln, err = tls.Listen("tcp", s.cfg.ListenAddress, s.tlsCfg)
	} else {
		ln, err = net.Listen("tcp", s.cfg.ListenAddress)
	}
	if err != nil {
		s.mu.Unlock()
		return errors.Wrap(err, "cs104: listen")
	}
	s.listener = ln
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.Info("listening on %s", s.cfg.ListenAddress)
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	s.mu.Lock()
	ln, ctx := s.listener, s.ctx
	s.mu.Unlock()
	if ln == nil {
		return
	}
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.Error("accept: %v", err)
				return
			}
		}

		s.mu.Lock()
		tooMany := len(s.conns) >= s.cfg.MaxClients
		s.mu.Unlock()
		if tooMany {
			s.Warn("refusing connection from %s: at MaxClients", nc.RemoteAddr())
			_ = nc.Close()
			continue
		}

		conn := newConnection(nc, s.cfg, s.params, s)
		if s.handler != nil && !s.handler.Accept(conn) {
			s.Debug("connection from %s refused by handler", nc.RemoteAddr())
			_ = nc.Close()
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		if s.handler != nil {
			s.handler.ConnectionEvent(conn, EventOpened)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			conn.run()
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

// Broadcast sends an ASDU to every currently activated connection. The
// gateway's spontaneous dispatch does not call it: it sends to each ACTIVE
// session itself.
func (s *Server) Broadcast(a *asdu.ASDU) {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		if c.Activated() {
			_ = c.Send(a)
		}
	}
}

// Connections returns a snapshot of the currently accepted connections.
func (s *Server) Connections() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Close stops accepting new connections and closes every accepted one. The
// server is left ready for a subsequent Start, so the caller can stop and
// restart the listener as south connectivity comes and goes.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.cancel()
	ln := s.listener
	conns := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.listener = nil
	s.cancel = nil
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}
	s.wg.Wait()
	return nil
}
