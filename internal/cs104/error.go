// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package cs104

import "errors"

var (
	ErrUseClosedConnection  = errors.New("cs104: use of closed connection")
	ErrNotActive            = errors.New("cs104: connection has not completed STARTDT")
	ErrSendQueueFull        = errors.New("cs104: send queue is full")
	ErrWindowExceeded       = errors.New("cs104: k-window exceeded, awaiting acknowledgement")
	ErrTimeoutT1            = errors.New("cs104: no acknowledgement within t1")
	ErrServerClosed         = errors.New("cs104: server closed")
	ErrServerAlreadyRunning = errors.New("cs104: server already running")
)
