// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package cs104

import (
	"time"

	"github.com/pkg/errors"
)

// Timeout bounds per IEC 60870-5-104, §9.4.
const (
	DefaultTimeoutT0 = 30 * time.Second // connection establishment
	DefaultTimeoutT1 = 15 * time.Second // send or test APDU acknowledgement
	DefaultTimeoutT2 = 10 * time.Second // acknowledge when no data needs sending, T2 < T1
	DefaultTimeoutT3 = 20 * time.Second // long idle test frame interval

	TimeoutMin   = 1 * time.Second
	TimeoutT0Max = 255 * time.Second
	TimeoutT1Max = 255 * time.Second
	TimeoutT2Max = 255 * time.Second
	TimeoutT3Max = 48 * time.Hour
)

// k/w window bounds, §7.2: k = max unacknowledged I-format APDUs, w = the
// receive count that forces an S-frame acknowledgement.
const (
	DefaultK = 12
	DefaultW = 8
	KWMin    = 1
	KWMax    = 32767
)

// Config is the per-listener APCI configuration. One Config is shared by
// every Connection a Server accepts.
type Config struct {
	// ListenAddress is the TCP address to bind, e.g. ":2404" or
	// "192.0.2.10:2404".
	ListenAddress string

	// K is the maximum number of I-format APDUs the station will send
	// before requiring an acknowledgement.
	K uint16
	// W is the number of received I-format APDUs after which an S-frame
	// is sent even without outgoing data.
	W uint16

	TimeoutT0 time.Duration
	TimeoutT1 time.Duration
	TimeoutT2 time.Duration
	TimeoutT3 time.Duration

	// MaxClients bounds concurrently accepted TCP connections, independent
	// of how many are admitted into a redundancy group.
	MaxClients int
}

// Valid applies defaults and range-checks the configuration in place.
func (c *Config) Valid() error {
	if c == nil {
		return errors.New("cs104: nil config")
	}
	if c.ListenAddress == "" {
		c.ListenAddress = ":2404"
	}
	if c.K == 0 {
		c.K = DefaultK
	} else if c.K < KWMin || c.K > KWMax {
		return errors.New("cs104: k out of range [1, 32767]")
	}
	if c.W == 0 {
		c.W = DefaultW
	} else if c.W < KWMin || c.W > KWMax {
		return errors.New("cs104: w out of range [1, 32767]")
	}
	if c.W > c.K {
		return errors.New("cs104: w must not exceed k")
	}
	if c.TimeoutT0 == 0 {
		c.TimeoutT0 = DefaultTimeoutT0
	} else if c.TimeoutT0 < TimeoutMin || c.TimeoutT0 > TimeoutT0Max {
		return errors.New("cs104: t0 out of range [1, 255]s")
	}
	if c.TimeoutT1 == 0 {
		c.TimeoutT1 = DefaultTimeoutT1
	} else if c.TimeoutT1 < TimeoutMin || c.TimeoutT1 > TimeoutT1Max {
		return errors.New("cs104: t1 out of range [1, 255]s")
	}
	if c.TimeoutT2 == 0 {
		c.TimeoutT2 = DefaultTimeoutT2
	} else if c.TimeoutT2 < TimeoutMin || c.TimeoutT2 > TimeoutT2Max {
		return errors.New("cs104: t2 out of range [1, 255]s")
	}
	if c.TimeoutT2 >= c.TimeoutT1 {
		return errors.New("cs104: t2 must be less than t1")
	}
	if c.TimeoutT3 == 0 {
		c.TimeoutT3 = DefaultTimeoutT3
	} else if c.TimeoutT3 < TimeoutMin || c.TimeoutT3 > TimeoutT3Max {
		return errors.New("cs104: t3 out of range [1s, 48h]")
	}
	if c.MaxClients <= 0 {
		c.MaxClients = 64
	}
	return nil
}

// DefaultConfig returns a Config with the standard 104 defaults (k=12,
// w=8, t0=30s, t1=15s, t2=10s, t3=20s).
func DefaultConfig() Config {
	return Config{
		ListenAddress: ":2404",
		K:             DefaultK,
		W:             DefaultW,
		TimeoutT0:     DefaultTimeoutT0,
		TimeoutT1:     DefaultTimeoutT1,
		TimeoutT2:     DefaultTimeoutT2,
		TimeoutT3:     DefaultTimeoutT3,
		MaxClients:    64,
	}
}
