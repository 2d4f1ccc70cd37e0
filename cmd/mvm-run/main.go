// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mvm-run loads, optionally validates, and runs or simulates an
// M-Token program file, printing the trace or final result to stdout.
//
// Grounded on cmd/wasm-run/main.go's flag-based driver shape
// (log.SetPrefix/log.SetFlags(0) preamble, a single positional filename
// argument, a -verify-module-equivalent flag gating a validation pass
// before execution, and a run(w io.Writer, fname string, ...) helper split
// out of main so the driver is testable without a subprocess).
package main

import (
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"

	"github.com/m-token/mvm/config"
	"github.com/m-token/mvm/loader"
	"github.com/m-token/mvm/mtoken"
	"github.com/m-token/mvm/validate"
	mvm "github.com/m-token/mvm/vm"
)

func main() {
	log.SetPrefix("mvm-run: ")
	log.SetFlags(0)

	verify := flag.Bool("verify", true, "run the static validator before executing")
	coreOnly := flag.Bool("core-only", false, "reject any opcode >= 100 (public ABI policy, §4.3/§6)")
	simulate := flag.Bool("simulate", false, "record and print a step trace (§4.8) instead of just the final result")
	traceCap := flag.Int("trace-cap", mvm.DefaultTraceCap, "maximum trace rows kept by -simulate")
	confPath := flag.String("config", "", "path to a TOML config file (resource limits + pre-authorized capabilities)")

	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: mvm-run [flags] program.mtok")
		flag.PrintDefaults()
		os.Exit(1)
	}

	opts := runOpts{
		verify:   *verify,
		coreOnly: *coreOnly,
		simulate: *simulate,
		traceCap: *traceCap,
		confPath: *confPath,
	}
	ok, err := run(os.Stdout, flag.Arg(0), opts)
	if err != nil {
		log.Fatal(err)
	}
	if !ok {
		os.Exit(1)
	}
}

type runOpts struct {
	verify   bool
	coreOnly bool
	simulate bool
	traceCap int
	confPath string
}

// run executes the whole mvm-run pipeline against the program at fname,
// writing its result to w. The returned bool is false exactly when the
// program ran to a trap rather than a clean halt (err is reserved for
// load/validate/config failures, which abort before the VM ever steps).
func run(w io.Writer, fname string, opts runOpts) (bool, error) {
	raw, err := ioutil.ReadFile(fname)
	if err != nil {
		return false, fmt.Errorf("could not read program: %w", err)
	}

	prog, err := loader.Load(raw)
	if err != nil {
		return false, fmt.Errorf("could not load program: %w", err)
	}

	policy := validate.Full
	if opts.coreOnly {
		policy = validate.CoreOnly
	}
	if opts.verify {
		if err := validate.VerifyProgram(prog, policy); err != nil {
			return false, fmt.Errorf("program rejected: %w", err)
		}
	}

	var cfg *config.Config
	if opts.confPath != "" {
		cfg, err = config.Load(opts.confPath)
		if err != nil {
			return false, fmt.Errorf("could not load config: %w", err)
		}
	}

	v := mvm.New(prog, mvm.Callbacks{
		IOWrite: func(device uint8, val mtoken.Value) {
			fmt.Fprintf(w, "[io] write device=%d value=%s\n", device, val)
		},
		IORead: func(device uint8) mtoken.Value {
			fmt.Fprintf(w, "[io] read device=%d -> 0\n", device)
			return mtoken.IntValue(0)
		},
		Trace: func(level uint32, msg string) {
			fmt.Fprintf(w, "[trace:%d] %s\n", level, msg)
		},
	})
	if cfg != nil {
		l := cfg.Limits()
		v.SetStepLimit(l.StepLimit)
		v.SetGasLimit(l.GasLimit)
		v.SetCallDepthLimit(l.CallDepthLimit)
		v.SetStackLimit(l.StackLimit)
		cfg.PreAuthorize(v)
	}

	var res mvm.Result
	if opts.simulate {
		cap := opts.traceCap
		if cap <= 0 {
			cap = mvm.DefaultTraceCap
		}
		sim := v.Simulate(cap)
		for _, row := range sim.Trace {
			fmt.Fprintf(w, "step=%d pc=%d op=%s sp=%d top=%d\n", row.Step, row.PC, row.Op, row.SP, row.Top)
		}
		res = sim.Result
	} else {
		res = v.Run()
	}

	if res.Completed {
		fmt.Fprintf(w, "completed: result=%s steps=%d\n", res.Top, res.Steps)
		return true, nil
	}
	fmt.Fprintf(w, "halted: fault=%s pc=%d steps=%d\n", res.Fault, res.PC, res.Steps)
	return false, nil
}
