// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package disasm renders a loaded M-Token loader.Program as a human-readable
// instruction listing: one row per token, with its byte offset, mnemonic,
// and decoded operands. Grounded on wagon's disasm.Disassemble (one Instr
// record per decoded opcode, consumed by cmd/wasm-dump's printDis) and
// cmd/wasm-dump/main.go's hex+mnemonic column formatting — generalized from
// walking raw WASM function bodies to walking an already-tokenized
// loader.Program, since M-Token's loader does the decoding once up front
// and disasm is a read-only consumer of its Tokens/TokenOffsets tables
// (§2: "disassembler and trace formatter are read-only consumers").
package disasm

import (
	"fmt"
	"strings"

	"github.com/m-token/mvm/loader"
	"github.com/m-token/mvm/mtoken"
)

// Line is one disassembled token: its index, byte offset, and rendered text.
type Line struct {
	Index  int
	Offset int
	Op     mtoken.Op
	Text   string // mnemonic plus formatted operands, e.g. "JZ +4 (-> token 6)" or "V 2"
}

// Disassembly is the full listing of a loaded program.
type Disassembly struct {
	Lines []Line
}

// Disassemble walks prog.Tokens (which may be pre- or post-lowering — it
// only reads Op/Operands/TokenOffsets) and renders one Line per token.
func Disassemble(prog *loader.Program) *Disassembly {
	d := &Disassembly{Lines: make([]Line, 0, len(prog.Tokens))}
	for i, tok := range prog.Tokens {
		d.Lines = append(d.Lines, Line{
			Index:  i,
			Offset: prog.TokenOffsets[i],
			Op:     tok.Op,
			Text:   formatToken(i, tok),
		})
	}
	return d
}

// formatToken renders a token's mnemonic and operands per its OperandShape
// (§3). Jump operands are shown with an explicit sign since they're
// token-index-relative, not absolute (§4.5: "target = last_op_index + 1 + off").
func formatToken(i int, tok loader.Token) string {
	name := tok.Op.Name()
	switch tok.Op.Shape() {
	case mtoken.OperandNone:
		return name
	case mtoken.OperandLiteral, mtoken.OperandIndex, mtoken.OperandArity:
		return fmt.Sprintf("%s %d", name, tok.Operands[0])
	case mtoken.OperandCall:
		return fmt.Sprintf("%s byte_off=%d argc=%d", name, tok.Operands[0], tok.Operands[1])
	case mtoken.OperandJump:
		off := tok.Operands[0]
		target := i + 1 + int(off)
		sign := "+"
		if off < 0 {
			sign = ""
		}
		return fmt.Sprintf("%s %s%d (-> token %d)", name, sign, off, target)
	default:
		return name
	}
}

// String renders the full listing, one line per token, in the
// "offset: mnemonic" column shape cmd/wasm-dump's printDis uses.
func (d *Disassembly) String() string {
	var b strings.Builder
	for _, l := range d.Lines {
		fmt.Fprintf(&b, "%6d | %06x: %s\n", l.Index, l.Offset, l.Text)
	}
	return b.String()
}
