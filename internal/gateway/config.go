// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package gateway implements the IEC 60870-5-104 north-bound telecontrol
// gateway core: the point table, the redundancy group manager, the session
// handler, the spontaneous dispatcher, the outstanding-command tracker, the
// monitoring loop and the audit emitter. It drives the sibling asdu/cs104
// packages through narrow interfaces and never reaches into their internals.
package gateway

import (
	"crypto/tls"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/riclolsen/iec104north/internal/asdu"
)

// OperatingMode selects when the Monitoring Loop keeps the T104 listener
// running.
type OperatingMode int

const (
	// ConnectAlways keeps the listener running for the gateway's entire
	// lifetime.
	ConnectAlways OperatingMode = iota
	// ConnectIfSouthConnxStarted starts the listener only once any
	// configured south monitor reports STARTED, and stops it again once
	// every monitor falls back to NOT_CONNECTED.
	ConnectIfSouthConnxStarted
)

// RedundancyGroupConfig describes one configured redundancy group: a name
// and up to two peer IP addresses, assigned path letters A and B in order.
type RedundancyGroupConfig struct {
	Name string
	IPs  []string // length 1 or 2
}

// ProtocolConfig is the decoded protocol-stack configuration block:
// listener parameters, APCI timers, addressing widths, gating flags and
// the redundancy topology.
type ProtocolConfig struct {
	Port   int
	BindIP string

	K, W            uint16
	T0, T1, T2, T3  time.Duration
	CommonAddrSize  byte
	InfoObjAddrSize byte
	MaxASDUSize     int
	ASDUQueueSize   int
	MaxGroupCount   int

	OperatingMode OperatingMode

	OriginatorAllowList []byte // empty means "allow all"

	TimeSyncEnabled            bool
	CommandsWithTimeEnabled    bool
	CommandsWithoutTimeEnabled bool

	SouthMonitorNames []string
	RedundancyGroups  []RedundancyGroupConfig

	CmdRecvTimeout time.Duration // validates incoming command timestamps
	CmdExecTimeout time.Duration // bounds wait for southern feedback
}

// Valid applies defaults and range-checks, the same in-place-defaulting
// idiom cs104.Config.Valid uses.
func (c *ProtocolConfig) Valid() error {
	if c == nil {
		return errors.New("gateway: nil protocol config")
	}
	if c.Port == 0 {
		c.Port = 2404
	}
	if c.CommonAddrSize == 0 {
		c.CommonAddrSize = 2
	}
	if c.InfoObjAddrSize == 0 {
		c.InfoObjAddrSize = 3
	}
	if c.MaxASDUSize == 0 {
		c.MaxASDUSize = 253
	}
	if c.ASDUQueueSize == 0 {
		c.ASDUQueueSize = 256
	}
	if c.CmdRecvTimeout == 0 {
		c.CmdRecvTimeout = 10 * time.Second
	}
	if c.CmdExecTimeout == 0 {
		c.CmdExecTimeout = 20 * time.Second
	}
	for _, g := range c.RedundancyGroups {
		if len(g.IPs) == 0 || len(g.IPs) > 2 {
			return errors.Errorf("gateway: redundancy group %q must have 1 or 2 slots", g.Name)
		}
	}
	if c.MaxGroupCount == 0 {
		c.MaxGroupCount = len(c.RedundancyGroups)
	}
	return nil
}

// MaxConnections is the absolute cap on concurrently admitted TCP
// connections: the sum of configured slots across all redundancy groups.
func (c *ProtocolConfig) MaxConnections() int {
	n := 0
	for _, g := range c.RedundancyGroups {
		n += len(g.IPs)
	}
	return n
}

// PointConfig describes one row of the data-exchange (point table) block.
type PointConfig struct {
	CA   asdu.CommonAddr
	IOA  asdu.InfoObjAddr
	Type asdu.TypeID // monitored family, without-timestamp form

	GIGroups uint32 // bit i set => reported for QOI = 20+i

	// AllowedCommands is non-empty when this IOA also doubles as a
	// command point; a monitored point and a command point may share an
	// IOA.
	AllowedCommands []asdu.TypeID
}

// DataExchangeConfig is the decoded point-table configuration block.
type DataExchangeConfig struct {
	Points []PointConfig
}

// TLSMaterial names the on-disk certificate material referenced by the
// TLS configuration block. Resolving these paths into a *tls.Config is
// left to an external TLSLoader — this module only carries the shape.
type TLSMaterial struct {
	OwnCertPath    string
	PrivateKeyPath string
	RemoteCerts    []string
	CACerts        []string
}

// TLSLoader turns TLSMaterial into a usable *tls.Config. Implementations
// live outside this module; a caller passes the result to Gateway.Start,
// which hands it to cs104.Server.SetTLS. cmd/iec104northd uses no loader
// and starts the gateway over plain TCP.
type TLSLoader interface {
	Load(material TLSMaterial) (*tls.Config, error)
}

// CertFilePath resolves a configured certificate file name under dataDir:
// names with a .pem suffix live in <dataDir>/etc/certs/pem/, everything
// else (DER) in <dataDir>/etc/certs/.
func CertFilePath(dataDir, name string) string {
	if strings.HasSuffix(name, ".pem") {
		return filepath.Join(dataDir, "etc", "certs", "pem", name)
	}
	return filepath.Join(dataDir, "etc", "certs", name)
}

// Config is the immutable configuration snapshot the rest of the gateway
// is built around. A reload produces a new *Config; nothing here is ever
// mutated in place once returned from LoadConfig or ApplyPatch.
type Config struct {
	Protocol     ProtocolConfig
	DataExchange DataExchangeConfig
	TLS          TLSMaterial
}
