/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package sender implements the FMTPv3 sender core: multicast egress,
// the retransmission listener and its per-connection workers, the
// product retention table, the delay queue, and the MAC signer/key
// distributor.
package sender

import (
	"net"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/unidata/fmtp/fmtp/mac"
)

// StaticConfig holds options fixed for the lifetime of a Server.
type StaticConfig struct {
	Group         net.IP
	Port          int
	Interface     string
	TTL           int
	ListenAddr    string
	MacMode       mac.Mode
	MaxPayload    int
}

// DynamicConfig holds options that may be reloaded without restarting
// the Server, mirroring ptp/ptp4u/server.Config's StaticConfig/
// DynamicConfig split.
type DynamicConfig struct {
	// RetxTimeoutPeriod is the single per-product timeout: the delay
	// queue reveal time is now plus a multiple of this value.
	RetxTimeoutPeriod time.Duration `yaml:"retx_timeout_period"`
	// RateBps is the sustained multicast egress rate in bits/sec, 0
	// meaning unlimited.
	RateBps int64 `yaml:"rate_bps"`
}

// Config is the full sender configuration.
type Config struct {
	StaticConfig
	DynamicConfig
}

// ReadDynamicConfig loads a DynamicConfig from a YAML file, mirroring
// ptp/ptp4u/server.ReadDynamicConfig.
func ReadDynamicConfig(path string) (*DynamicConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dc := &DynamicConfig{}
	if err := yaml.Unmarshal(data, dc); err != nil {
		return nil, err
	}
	return dc, nil
}

// Write persists the DynamicConfig as YAML.
func (dc *DynamicConfig) Write(path string) error {
	d, err := yaml.Marshal(dc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, d, 0644)
}
