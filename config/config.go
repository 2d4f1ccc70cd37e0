// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the host-side TOML configuration consumed by
// cmd/mvm-run: VM resource limits (§5) and a symbolic device-id
// pre-authorization table, so an operator can hand a program capabilities
// without the program itself having to execute GTWAY first.
//
// wagon itself only ever takes flag.Bool/flag.String options in its cmd/
// binaries; M-Token's host surface has a resource-limit and capability
// concern wagon's doesn't, so this package borrows the TOML library
// go-ethereum's stack in this retrieval pack also depends on
// (github.com/BurntSushi/toml) rather than hand-rolling a flat key=value
// format, per SPEC_FULL.md's DOMAIN STACK section.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/m-token/mvm/vm"
)

// Config is the decoded shape of an mvm-run TOML configuration file:
//
//	step_limit = 100000
//	gas_limit = 0
//	call_depth_limit = 32
//	stack_limit = 256
//
//	[capabilities]
//	led = 5
//	servo = 12
type Config struct {
	StepLimit      int            `toml:"step_limit"`
	GasLimit       int            `toml:"gas_limit"`
	CallDepthLimit int            `toml:"call_depth_limit"`
	StackLimit     int            `toml:"stack_limit"`
	Capabilities   map[string]int `toml:"capabilities"`
}

// Load reads and parses the TOML file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	for name, id := range cfg.Capabilities {
		if id < 0 || id > 255 {
			return nil, fmt.Errorf("config: capability %q: device id %d out of range [0,255]", name, id)
		}
	}
	return &cfg, nil
}

// Limits converts the parsed resource fields into a vm.Limits, falling
// back to vm.DefaultLimits for any field left at its zero value, except
// StepLimit/GasLimit where zero is itself the "disabled" value (§4.10,
// §4.4) and is therefore passed through unchanged.
func (c *Config) Limits() vm.Limits {
	l := vm.DefaultLimits
	l.StepLimit = c.StepLimit
	l.GasLimit = c.GasLimit
	if c.CallDepthLimit > 0 {
		l.CallDepthLimit = c.CallDepthLimit
	}
	if c.StackLimit > 0 {
		l.StackLimit = c.StackLimit
	}
	return l
}

// PreAuthorize grants every capability the config names, as if the program
// had executed GTWAY cap_id for each of them before its first token (the
// use case named in the package doc: a hosting harness pre-authorizing a
// program's device access instead of trusting the program to gate itself).
func (c *Config) PreAuthorize(v *vm.VM) {
	for _, id := range c.Capabilities {
		v.Authorize(uint8(id))
	}
}
