// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package loader implements the M-Token loader: tokenizing a raw byte
// program into opcode tokens (§4.2) and lowering structured WH/FR loops
// into flat JZ/JMP jumps so the interpreter's fast path only ever sees
// jumps (§4.2). Grounded on wagon's disasm.Disassemble (single-pass token
// decode) and exec/internal/compile.Compile (structured-to-jump rewrite).
package loader

import (
	"bytes"
	"fmt"
	"io"

	"github.com/m-token/mvm/mtoken"
)

// Token is a single decoded opcode together with its operands (§3). Operand
// interpretation depends on Op.Shape():
//   - OperandLiteral: Operands[0] is the zigzag-decoded i64 literal.
//   - OperandIndex:   Operands[0] is the u32 index/id/level/ms value.
//   - OperandCall:    Operands[0] is the function byte offset, Operands[1] argc.
//   - OperandArity:   Operands[0] is the arity.
//   - OperandJump:    Operands[0] is the signed token-index-relative offset.
type Token struct {
	Op       mtoken.Op
	Operands []int64
}

// Program is a loaded (tokenized, lowered) M-Token program. Code is the
// authoritative flat byte buffer; TokenOffsets/ByteToToken are the
// loader-maintained index ↔ offset tables (§3) that every jump and return
// address resolves through.
type Program struct {
	Code         []byte
	TokenOffsets []int // TokenOffsets[i] = byte offset of the i-th token
	ByteToToken  []int // ByteToToken[b] = token index at byte b, or -1

	// Tokens is the decoded token sequence of Code, kept around for the
	// disassembler and for diagnostics. It is rebuilt by Serialize and is
	// always in 1:1 correspondence with TokenOffsets.
	Tokens []Token
}

// TokenCount returns the number of opcode tokens in the program.
func (p *Program) TokenCount() int { return len(p.TokenOffsets) }

// newJumpToken builds a JZ/JNZ/JMP token carrying the given token-index-
// relative offset (§3).
func newJumpToken(op mtoken.Op, offset int64) Token {
	return Token{Op: op, Operands: []int64{offset}}
}

// ErrBadEncoding is returned by Tokenize/decodeToken on any malformed byte
// sequence (§4.2: "Failure ⇒ the program is rejected with BadEncoding").
var ErrBadEncoding = mtoken.ErrBadEncoding

// decodeToken reads one opcode and its operands from r's current
// position. It returns the decoded token and the number of bytes
// consumed.
func decodeToken(r *bytes.Reader) (Token, int, error) {
	start := r.Len()
	opVal, err := mtoken.DecodeUvarint(r)
	if err != nil {
		return Token{}, 0, fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}
	if opVal > 255 {
		return Token{}, 0, ErrBadEncoding
	}
	op := mtoken.Op(opVal)

	tok := Token{Op: op}
	switch op.Shape() {
	case mtoken.OperandNone:
		// nothing to do
	case mtoken.OperandLiteral:
		v, err := mtoken.DecodeVarint(r)
		if err != nil {
			return Token{}, 0, err
		}
		tok.Operands = []int64{v}
	case mtoken.OperandIndex:
		v, err := mtoken.DecodeUvarint32(r)
		if err != nil {
			return Token{}, 0, err
		}
		tok.Operands = []int64{int64(v)}
	case mtoken.OperandCall:
		off, err := mtoken.DecodeUvarint32(r)
		if err != nil {
			return Token{}, 0, err
		}
		argc, err := mtoken.DecodeUvarint32(r)
		if err != nil {
			return Token{}, 0, err
		}
		tok.Operands = []int64{int64(off), int64(argc)}
	case mtoken.OperandArity:
		v, err := mtoken.DecodeUvarint32(r)
		if err != nil {
			return Token{}, 0, err
		}
		tok.Operands = []int64{int64(v)}
	case mtoken.OperandJump:
		v, err := mtoken.DecodeVarint(r)
		if err != nil {
			return Token{}, 0, err
		}
		tok.Operands = []int64{v}
	}

	// IF/WH/FR additionally carry a block-type marker byte in this
	// instruction set's reference encoding (mirroring wasm's block_type
	// immediate on block/loop/if, consumed the same way in
	// validate.verifyBody) — M-Token keeps block structure implicit via
	// the following B/E pair instead, so no extra byte is read here.

	consumed := start - r.Len()
	return tok, consumed, nil
}

// Tokenize walks raw front to back, decoding tokens and building the
// TokenOffsets/ByteToToken tables (§3, §4.2). It does not lower WH/FR; call
// Lower on the result to do that.
func Tokenize(raw []byte) (*Program, error) {
	r := bytes.NewReader(raw)
	p := &Program{
		Code:        raw,
		ByteToToken: make([]int, len(raw)),
	}
	for i := range p.ByteToToken {
		p.ByteToToken[i] = -1
	}

	offset := 0
	for {
		if r.Len() == 0 {
			break
		}
		tokIdx := len(p.Tokens)
		tok, n, err := decodeToken(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		p.TokenOffsets = append(p.TokenOffsets, offset)
		for b := offset; b < offset+n; b++ {
			p.ByteToToken[b] = tokIdx
		}
		p.Tokens = append(p.Tokens, tok)
		offset += n
	}
	return p, nil
}
