// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config_test

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/m-token/mvm/config"
)

const sampleTOML = `
step_limit = 10000
gas_limit = 0
call_depth_limit = 16
stack_limit = 128

[capabilities]
led = 5
servo = 12
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mvm.toml")
	if err := ioutil.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := config.Load(writeFile(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StepLimit != 10000 || cfg.CallDepthLimit != 16 || cfg.StackLimit != 128 {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
	if cfg.Capabilities["led"] != 5 || cfg.Capabilities["servo"] != 12 {
		t.Fatalf("unexpected capabilities: %+v", cfg.Capabilities)
	}

	limits := cfg.Limits()
	if limits.StepLimit != 10000 || limits.CallDepthLimit != 16 || limits.StackLimit != 128 {
		t.Fatalf("unexpected vm.Limits: %+v", limits)
	}
}

func TestLoadRejectsOutOfRangeCapability(t *testing.T) {
	body := `
[capabilities]
bogus = 999
`
	if _, err := config.Load(writeFile(t, body)); err == nil {
		t.Fatal("expected an error for a capability id > 255")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
