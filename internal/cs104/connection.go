// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package cs104

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/riclolsen/iec104north/internal/asdu"
	"github.com/riclolsen/iec104north/internal/clog"
)

// Connection is one accepted TCP socket speaking APCI/ASDU. It owns the
// send/receive sequence numbers, the k/w flow-control counters and the
// t1/t3 timers for that single peer. No t2 timer runs: an S-frame
// acknowledgement is sent only once w I-frames have been received.
//
// A Connection is handed to Handler.Accept before any frame is exchanged
// so the gateway layer can bind it to a redundancy group slot; Path and
// RemoteAddr let that binding be recovered later from Handler callbacks.
type Connection struct {
	clog.Clog

	conn   net.Conn
	params *asdu.Params
	cfg    Config
	server *Server

	mu     sync.Mutex
	sendSN uint16 // next send sequence number
	recvSN uint16 // next expected receive sequence number
	ackSN  uint16 // highest send SN acknowledged by peer

	unackedSent int       // I-frames sent since last S/I ack from peer (drives t1)
	unackedRecv int       // I-frames received since our last ack (drives w)
	lastAck     time.Time // start of the t1 window: the peer's last ack, or the first send after it

	sendASDU chan *asdu.ASDU
	rawSend  chan []byte

	activated *atomic.Bool
	closed    *atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// pathLetter and groupName are set once by the redundancy group
	// manager inside Handler.Accept, purely for logging/status purposes;
	// cs104 itself has no notion of redundancy groups.
	pathLetter byte
	groupName  string
}

func newConnection(nc net.Conn, cfg Config, params *asdu.Params, srv *Server) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		Clog:      clog.NewLogger("cs104 conn [" + nc.RemoteAddr().String() + "] => "),
		conn:      nc,
		params:    params,
		cfg:       cfg,
		server:    srv,
		sendASDU:  make(chan *asdu.ASDU, 256),
		rawSend:   make(chan []byte, 256),
		activated: atomic.NewBool(false),
		closed:    atomic.NewBool(false),
		ctx:       ctx,
		cancel:    cancel,
		lastAck:   time.Now(),
	}
	c.LogMode(true)
	return c
}

// RemoteAddr returns the peer's address as seen by net.Conn.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// SetPath records the redundancy group/path letter this connection was
// admitted into. Purely descriptive; cs104 never reads it back.
func (c *Connection) SetPath(groupName string, letter byte) {
	c.mu.Lock()
	c.groupName, c.pathLetter = groupName, letter
	c.mu.Unlock()
}

// Path returns the group name and path letter set via SetPath.
func (c *Connection) Path() (string, byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groupName, c.pathLetter
}

// Activated reports whether the STARTDT handshake has completed and not
// since been undone by STOPDT.
func (c *Connection) Activated() bool { return c.activated.Load() }

// Send enqueues an ASDU for transmission as an I-frame. It returns
// ErrNotActive if STARTDT has not completed and ErrSendQueueFull if the
// outgoing queue is saturated (the caller — the spontaneous dispatcher —
// is expected to treat that as back-pressure, not a fatal error).
func (c *Connection) Send(a *asdu.ASDU) error {
	if c.closed.Load() {
		return ErrUseClosedConnection
	}
	if !c.activated.Load() {
		return ErrNotActive
	}
	select {
	case c.sendASDU <- a:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close tears down the connection and stops all of its goroutines.
func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()
	err := c.conn.Close()
	c.wg.Wait()
	return err
}

func (c *Connection) run() {
	c.wg.Add(3)
	go c.recvLoop()
	go c.sendLoop()
	go c.idleLoop()
	<-c.ctx.Done()
	c.wg.Wait()
	if c.server != nil && c.server.handler != nil {
		c.server.handler.ConnectionEvent(c, EventClosed)
	}
}

// recvLoop reads raw APDUs off the socket and dispatches them by frame
// type, ultimately handing decoded ASDUs to the handler.
func (c *Connection) recvLoop() {
	defer func() {
		c.cancel()
		c.wg.Done()
	}()
	r := bufio.NewReader(c.conn)
	for {
		start, err := r.ReadByte()
		if err != nil {
			c.Debug("recv: connection closed: %v", err)
			return
		}
		if start != StartByte {
			c.Warn("recv: bad start byte 0x%02X, resyncing", start)
			continue
		}
		lenByte, err := r.ReadByte()
		if err != nil {
			return
		}
		apduLen, err := ParseHeader(lenByte)
		if err != nil {
			c.Warn("recv: %v", err)
			return
		}
		body := make([]byte, apduLen)
		if _, err := readFull(r, body); err != nil {
			c.Debug("recv: short read: %v", err)
			return
		}
		frame, err := DecodeAPDU(body)
		if err != nil {
			c.Warn("recv: %v", err)
			continue
		}
		if err := c.handleFrame(frame); err != nil {
			c.Warn("recv: %v", err)
		}
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (c *Connection) handleFrame(f Frame) error {
	switch f.Type() {
	case FrameTypeU:
		return c.handleU(f.APCI)
	case FrameTypeS:
		c.mu.Lock()
		c.ackSN = f.RecvSN()
		c.unackedSent = 0
		c.lastAck = time.Now()
		c.mu.Unlock()
		return nil
	case FrameTypeI:
		return c.handleI(f)
	default:
		return ErrUnknownFrameType
	}
}

func (c *Connection) handleU(a APCI) error {
	switch a.Ctrl1 {
	case UStartDtActivate:
		if err := c.writeRaw(Frame{APCI: NewUFrame(UStartDtConfirm)}); err != nil {
			return err
		}
		c.activated.Store(true)
		if c.server != nil && c.server.handler != nil {
			c.server.handler.ConnectionEvent(c, EventActivated)
		}
	case UStopDtActivate:
		if err := c.writeRaw(Frame{APCI: NewUFrame(UStopDtConfirm)}); err != nil {
			return err
		}
		c.activated.Store(false)
		if c.server != nil && c.server.handler != nil {
			c.server.handler.ConnectionEvent(c, EventDeactivated)
		}
	case UTestFrActivate:
		return c.writeRaw(Frame{APCI: NewUFrame(UTestFrConfirm)})
	case UStartDtConfirm, UStopDtConfirm, UTestFrConfirm:
		// Slave role never originates the corresponding activations.
	default:
		c.Warn("recv: unrecognized U-frame 0x%02X", a.Ctrl1)
	}
	return nil
}

func (c *Connection) handleI(f Frame) error {
	if !c.activated.Load() {
		return errors.New("I-frame received before STARTDT activation")
	}
	c.mu.Lock()
	c.recvSN = incSeq(f.SendSN())
	c.ackSN = f.RecvSN()
	c.unackedSent = 0
	c.lastAck = time.Now()
	c.unackedRecv++
	needAck := c.unackedRecv >= int(c.cfg.W)
	if needAck {
		c.unackedRecv = 0
	}
	recvSN := c.recvSN
	c.mu.Unlock()

	if needAck {
		if err := c.writeRaw(Frame{APCI: NewSFrame(recvSN)}); err != nil {
			return err
		}
	}

	a := asdu.NewEmptyASDU(c.params)
	if err := a.UnmarshalBinary(f.ASDU); err != nil {
		return errors.Wrap(err, "decoding ASDU")
	}
	if c.server != nil && c.server.handler != nil {
		return c.server.handler.ASDU(c, a)
	}
	return nil
}

// sendLoop drains the ASDU queue, respecting the k window, and serializes
// raw APDU writes to the socket alongside U/S-frame traffic queued via
// writeRaw.
func (c *Connection) sendLoop() {
	defer func() {
		c.cancel()
		c.wg.Done()
	}()
	for {
		select {
		case <-c.ctx.Done():
			return
		case raw := <-c.rawSend:
			if _, err := c.conn.Write(raw); err != nil {
				c.Debug("send: write failed: %v", err)
				return
			}
		case a := <-c.sendASDU:
			if err := c.sendWithWindow(a); err != nil {
				c.Debug("send: %v", err)
				return
			}
		}
	}
}

func (c *Connection) sendWithWindow(a *asdu.ASDU) error {
	c.mu.Lock()
	for seqDiff(c.ackSN, c.sendSN) >= c.cfg.K {
		c.mu.Unlock()
		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
		c.mu.Lock()
	}
	sendSN := c.sendSN
	recvSN := c.recvSN
	c.sendSN = incSeq(c.sendSN)
	if c.unackedSent == 0 {
		c.lastAck = time.Now()
	}
	c.unackedSent++
	c.mu.Unlock()

	body, err := a.MarshalBinary()
	if err != nil {
		return err
	}
	raw, err := Frame{APCI: NewIFrame(sendSN, recvSN), ASDU: body}.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = c.conn.Write(raw)
	return err
}

// writeRaw serializes a zero-payload (U/S) frame write through rawSend so
// it never races with an in-flight I-frame write from sendWithWindow.
func (c *Connection) writeRaw(f Frame) error {
	raw, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	select {
	case c.rawSend <- raw:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// idleLoop enforces t1 (unacknowledged I-frame timeout, fatal) and t3
// (idle test-frame interval).
func (c *Connection) idleLoop() {
	defer c.wg.Done()
	t1 := time.NewTicker(c.cfg.TimeoutT1 / 3)
	t3 := time.NewTimer(c.cfg.TimeoutT3)
	defer t1.Stop()
	defer t3.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t1.C:
			c.mu.Lock()
			unacked := c.unackedSent
			since := time.Since(c.lastAck)
			c.mu.Unlock()
			if unacked > 0 && since > c.cfg.TimeoutT1 {
				c.Warn("no acknowledgement within t1, closing connection")
				c.cancel()
				return
			}
		case <-t3.C:
			if err := c.writeRaw(Frame{APCI: NewUFrame(UTestFrActivate)}); err != nil {
				return
			}
			t3.Reset(c.cfg.TimeoutT3)
		}
	}
}
