// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package gateway

import (
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// LoadConfig decodes the three configuration strings into an immutable
// *Config. Each string is first unmarshaled into a generic map (matching
// how the host delivers loosely-typed category values) and then decoded
// with mapstructure.Decode using weakly-typed input, so a value written as
// either `"20"` or `20` lands in the same int field.
func LoadConfig(stackJSON, dataExchangeJSON, tlsJSON string) (*Config, error) {
	var stackMap, dxMap, tlsMap map[string]interface{}
	if err := json.Unmarshal([]byte(stackJSON), &stackMap); err != nil {
		return nil, errors.Wrap(err, "gateway: decoding protocol stack JSON")
	}
	if err := json.Unmarshal([]byte(dataExchangeJSON), &dxMap); err != nil {
		return nil, errors.Wrap(err, "gateway: decoding data-exchange JSON")
	}
	if tlsJSON != "" {
		if err := json.Unmarshal([]byte(tlsJSON), &tlsMap); err != nil {
			return nil, errors.Wrap(err, "gateway: decoding TLS JSON")
		}
	}

	cfg := &Config{}
	if err := decodeWeak(stackMap, &cfg.Protocol); err != nil {
		return nil, errors.Wrap(err, "gateway: decoding protocol stack block")
	}
	if err := decodeWeak(dxMap, &cfg.DataExchange); err != nil {
		return nil, errors.Wrap(err, "gateway: decoding data-exchange block")
	}
	if tlsMap != nil {
		if err := decodeWeak(tlsMap, &cfg.TLS); err != nil {
			return nil, errors.Wrap(err, "gateway: decoding TLS block")
		}
	}

	if err := cfg.Protocol.Valid(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeWeak(src map[string]interface{}, dst interface{}) error {
	if src == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           dst,
		TagName:          "json",
	})
	if err != nil {
		return err
	}
	return dec.Decode(src)
}

// ApplyPatch applies an RFC 7396 JSON merge patch over the last-good
// protocol-stack snapshot and returns a freshly validated *Config — the
// live-reconfiguration path, letting an operator change one key without a
// restart. The config stays immutable: this never mutates base in place.
func ApplyPatch(base *Config, mergePatchJSON []byte) (*Config, error) {
	if base == nil {
		return nil, errors.New("gateway: cannot patch a nil config")
	}
	current, err := json.Marshal(base.Protocol)
	if err != nil {
		return nil, errors.Wrap(err, "gateway: marshaling current protocol config")
	}
	patched, err := jsonpatch.MergePatch(current, mergePatchJSON)
	if err != nil {
		return nil, errors.Wrap(err, "gateway: applying merge patch")
	}

	var next ProtocolConfig
	if err := json.Unmarshal(patched, &next); err != nil {
		return nil, errors.Wrap(err, "gateway: decoding patched protocol config")
	}
	if err := next.Valid(); err != nil {
		return nil, errors.Wrap(err, "gateway: patched protocol config invalid")
	}

	out := &Config{Protocol: next, DataExchange: base.DataExchange, TLS: base.TLS}
	return out, nil
}
