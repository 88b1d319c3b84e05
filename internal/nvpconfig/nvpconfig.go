// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

// Package nvpconfig reads an optional site-defaults YAML file for the
// nvparm tool. The original C tool has no such file — every default is a
// compile-time constant — but a BMC console utility invoked repeatedly by
// firmware engineers benefits from per-site defaults for the I2C bus,
// EEPROM slave address, MTD device override, and human-friendly partition
// aliases. Flags always take precedence; a missing file or key silently
// falls back to the tool's built-in compile-time defaults.
package nvpconfig

import (
	"os"

	"gopkg.in/yaml.v2"
)

// Defaults are the optional, site-specific default values this tool applies
// when the corresponding CLI flag is not given.
type Defaults struct {
	I2CBus     *uint8            `yaml:"i2c_bus"`
	SlaveAddr  *uint8            `yaml:"slave_addr"`
	MTDDevice  string            `yaml:"mtd_device"`
	Partitions map[string]string `yaml:"partitions"`
}

// DefaultPath is the well-known system location checked when NVPARM_CONFIG
// is unset.
const DefaultPath = "/etc/nvparm.yaml"

// EnvVar is the environment variable consulted when no -config flag is given.
const EnvVar = "NVPARM_CONFIG"

// Load reads the config file at path, falling back to $NVPARM_CONFIG and
// then DefaultPath if path is empty. A missing file is not an error: Load
// returns a zero-value Defaults.
func Load(path string) (Defaults, error) {
	var d Defaults

	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return d, err
	}

	if err := yaml.Unmarshal(data, &d); err != nil {
		return d, err
	}

	return d, nil
}

// ResolvePartition returns the GPT-level partition name or GUID string an
// alias maps to, or name unchanged if it is not a known alias.
func (d Defaults) ResolvePartition(name string) string {
	if d.Partitions == nil {
		return name
	}
	if resolved, ok := d.Partitions[name]; ok {
		return resolved
	}
	return name
}
