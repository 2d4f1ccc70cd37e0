// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mvm-dump disassembles an M-Token program file to a text listing
// on stdout. Grounded on cmd/wasm-dump/main.go's flag-driven disassembly
// dump, trimmed to M-Token's one disassembly shape (wasm-dump also prints
// raw section headers/contents/details because WASM modules carry several
// binary sections; a flat M-Token program is just a token stream, so
// mvm-dump has a single -lowered flag instead of -h/-s/-d/-x) and the same
// run(w io.Writer, fname string, ...) split so main stays a thin wrapper.
package main

import (
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"

	"github.com/m-token/mvm/disasm"
	"github.com/m-token/mvm/loader"
)

func main() {
	log.SetPrefix("mvm-dump: ")
	log.SetFlags(0)

	lowered := flag.Bool("lowered", true, "disassemble the lowered form (WH/FR already rewritten to JZ/JMP)")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: mvm-dump [flags] program.mtok")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := run(os.Stdout, flag.Arg(0), *lowered); err != nil {
		log.Fatal(err)
	}
}

func run(w io.Writer, fname string, lowered bool) error {
	raw, err := ioutil.ReadFile(fname)
	if err != nil {
		return fmt.Errorf("could not read program: %w", err)
	}

	var prog *loader.Program
	if lowered {
		prog, err = loader.Load(raw)
	} else {
		prog, err = loader.Tokenize(raw)
	}
	if err != nil {
		return fmt.Errorf("could not load program: %w", err)
	}

	fmt.Fprint(w, disasm.Disassemble(prog).String())
	return nil
}
