// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/riclolsen/iec104north/internal/gateway"
)

// bootstrapFile is the on-disk YAML shape cmd/iec104northd reads when run
// standalone (outside the host plugin runtime that normally delivers the
// three JSON configuration strings). It mirrors
// those same three blocks so LoadConfig stays the single source of
// decoding truth; ApplyPatch and the mapstructure/weak-typing path are
// exercised identically whether the blocks arrive as YAML-from-disk or as
// JSON strings from the host.
type bootstrapFile struct {
	Protocol     map[string]interface{} `yaml:"protocol"`
	DataExchange map[string]interface{} `yaml:"dataExchange"`
	TLS          map[string]interface{} `yaml:"tls"`

	HTTPAPIAddr string `yaml:"httpApiAddr"`
}

// loadBootstrap reads path and decodes it into a *gateway.Config plus the
// Status API bind address, re-using gateway.LoadConfig so a standalone run
// sees exactly the same validation a host-driven run does.
func loadBootstrap(path string) (*gateway.Config, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", errors.Wrap(err, "reading bootstrap config file")
	}
	var bf bootstrapFile
	if err := yaml.Unmarshal(raw, &bf); err != nil {
		return nil, "", errors.Wrap(err, "parsing bootstrap config file")
	}

	stackJSON, err := json.Marshal(bf.Protocol)
	if err != nil {
		return nil, "", errors.Wrap(err, "re-encoding protocol block")
	}
	dxJSON, err := json.Marshal(bf.DataExchange)
	if err != nil {
		return nil, "", errors.Wrap(err, "re-encoding data-exchange block")
	}
	var tlsJSON []byte
	if bf.TLS != nil {
		tlsJSON, err = json.Marshal(bf.TLS)
		if err != nil {
			return nil, "", errors.Wrap(err, "re-encoding TLS block")
		}
	}

	cfg, err := gateway.LoadConfig(string(stackJSON), string(dxJSON), string(tlsJSON))
	if err != nil {
		return nil, "", err
	}

	addr := bf.HTTPAPIAddr
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	return cfg, addr, nil
}
