// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package validate statically verifies a loaded M-Token program before an
// interpreter ever steps it: encoding, block matching, index bounds,
// jump-target legality, per-path stack effect (with branch-merge checks),
// static capability dominance, and reachability (§4.3, run in that order;
// WH/FR never reach this package — they're lowered to JZ/JMP before
// validation runs).
//
// Grounded on validate/validate.go's verifyBody: an opcode switch driving a
// mockVM-style symbolic stack/frame tracker, one case per opcode family.
package validate

import (
	"github.com/m-token/mvm/loader"
	"github.com/m-token/mvm/mtoken"
)

// Policy selects which opcodes a program may use. CoreOnly rejects any
// opcode ≥ 100 (§4.3, §6's frozen-ABI policy).
type Policy int

const (
	Full Policy = iota
	CoreOnly
)

// Bounds on index operands, fixed by the encoding (§3), not by a VM's
// configurable resource limits.
const (
	MaxLocals  = 64
	MaxGlobals = 128
)

// VerifyProgram runs every validation pass over prog in order, returning
// the first failure encountered.
func VerifyProgram(prog *loader.Program, policy Policy) error {
	if err := verifyEncoding(prog, policy); err != nil {
		return err
	}
	if err := verifyBlocks(prog); err != nil {
		return err
	}
	if err := verifyIndexBounds(prog); err != nil {
		return err
	}
	if err := verifyJumpTargets(prog); err != nil {
		return err
	}
	if _, err := verifyBlock(newState(), prog.Tokens, 0, 0); err != nil {
		return err
	}
	if err := verifyCapabilityDominance(prog); err != nil {
		return err
	}
	if err := verifyReachability(prog); err != nil {
		return err
	}
	return nil
}

// verifyEncoding checks that every token is a known opcode (rejecting
// bytes that don't name one, and any WH/FR that reached the validator
// unlowered), and enforces the CoreOnly policy.
func verifyEncoding(prog *loader.Program, policy Policy) error {
	for i, tok := range prog.Tokens {
		switch tok.Op {
		case mtoken.OpWh, mtoken.OpFr:
			return Error{Token: i, Err: StructuredOpcodeError{Op: tok.Op}}
		}
		if tok.Op.Name() == "UNKNOWN" {
			return Error{Token: i, Err: UnknownOpcodeError{Op: tok.Op}}
		}
		if policy == CoreOnly && !tok.Op.IsCore() {
			return Error{Token: i, Err: UnknownOpcodeError{Op: tok.Op}}
		}
	}
	return nil
}

// verifyBlocks checks that every B has a matching E and every IF/FN is
// immediately followed by an opening B.
func verifyBlocks(prog *loader.Program) error {
	depth := 0
	for i, tok := range prog.Tokens {
		switch tok.Op {
		case mtoken.OpIf, mtoken.OpFn:
			if i+1 >= len(prog.Tokens) || prog.Tokens[i+1].Op != mtoken.OpB {
				return Error{Token: i, Err: UnmatchedBlockError{Op: tok.Op}}
			}
		case mtoken.OpB:
			depth++
		case mtoken.OpE:
			depth--
			if depth < 0 {
				return Error{Token: i, Err: UnmatchedBlockError{Op: mtoken.OpE}}
			}
		}
	}
	if depth != 0 {
		return Error{Token: len(prog.Tokens) - 1, Err: UnmatchedBlockError{Op: mtoken.OpB}}
	}
	return nil
}

// verifyIndexBounds checks V/LET against MaxLocals, SET against
// MaxGlobals, and GTWAY's cap_id against the 0-255 bitmap range.
func verifyIndexBounds(prog *loader.Program) error {
	for i, tok := range prog.Tokens {
		switch tok.Op {
		case mtoken.OpV, mtoken.OpLet:
			if idx := uint32(tok.Operands[0]); idx >= MaxLocals {
				return Error{Token: i, Err: InvalidLocalIndexError(idx)}
			}
		case mtoken.OpSet:
			if idx := uint32(tok.Operands[0]); idx >= MaxGlobals {
				return Error{Token: i, Err: InvalidGlobalIndexError(idx)}
			}
		case mtoken.OpGtway:
			if id := uint32(tok.Operands[0]); id > 255 {
				return Error{Token: i, Err: InvalidCapabilityIDError(id)}
			}
		}
	}
	return nil
}

// verifyJumpTargets resolves every JZ/JNZ/JMP's token-index-relative
// offset (target = token_index + 1 + offset, §3) and checks it lands
// inside [0, len(tokens)].
func verifyJumpTargets(prog *loader.Program) error {
	n := len(prog.Tokens)
	for i, tok := range prog.Tokens {
		switch tok.Op {
		case mtoken.OpJz, mtoken.OpJnz, mtoken.OpJmp:
			target := i + 1 + int(tok.Operands[0])
			if target < 0 || target > n {
				return Error{Token: i, Err: InvalidJumpTargetError{From: i, Target: target}}
			}
		}
	}
	return nil
}

// verifyBlock walks tokens[i:] applying opcode stack effects to s,
// recursing into nested IF/FN blocks, until it consumes the E that closes
// the frame opened just before i (enclosing names that opcode, for error
// messages; pass 0 at the top level, where there is no enclosing frame
// and running off the end of tokens is success, not an error).
//
// Grounded on wagon's verifyBody opcode switch walking linearly through a
// function body and recursing at `block`/`loop`/`if`.
func verifyBlock(s *state, tokens []loader.Token, i int, enclosing mtoken.Op) (int, error) {
	for i < len(tokens) {
		tok := tokens[i]
		switch tok.Op {
		case mtoken.OpE:
			return i + 1, nil

		case mtoken.OpFn:
			sub := newState()
			sub.pushFrame(i, mtoken.OpFn)
			i++ // consume FN
			if i >= len(tokens) || tokens[i].Op != mtoken.OpB {
				return 0, Error{Token: i, Err: UnmatchedBlockError{Op: mtoken.OpFn}}
			}
			i++ // consume opening B
			var err error
			i, err = verifyBlock(sub, tokens, i, mtoken.OpFn)
			if err != nil {
				return 0, err
			}

		case mtoken.OpIf:
			if err := s.pop(1, i); err != nil {
				return 0, err
			}
			i++ // consume IF
			if i >= len(tokens) || tokens[i].Op != mtoken.OpB {
				return 0, Error{Token: i, Err: UnmatchedBlockError{Op: mtoken.OpIf}}
			}
			i++ // consume then-block's opening B
			entryHeight := s.height
			s.pushFrame(i-1, mtoken.OpIf)
			var err error
			i, err = verifyBlock(s, tokens, i, mtoken.OpIf)
			if err != nil {
				return 0, err
			}
			afterThen := s.height
			s.popFrame()

			if i < len(tokens) && tokens[i].Op == mtoken.OpB {
				i++ // consume else-block's opening B
				s.height = entryHeight
				s.pushFrame(i-1, mtoken.OpIf)
				i, err = verifyBlock(s, tokens, i, mtoken.OpIf)
				if err != nil {
					return 0, err
				}
				afterElse := s.height
				s.popFrame()
				if afterThen != afterElse {
					return 0, Error{Token: i, Err: StackHeightMismatchError{Want: afterThen, Got: afterElse}}
				}
			} else if afterThen != entryHeight {
				// No else-block: the false path skips the then-block, so it
				// must leave the stack where the IF found it.
				return 0, Error{Token: i, Err: StackHeightMismatchError{Want: entryHeight, Got: afterThen}}
			}

		default:
			if err := s.pop(popCount(tok), i); err != nil {
				return 0, err
			}
			s.push(pushCount(tok))
			i++
		}
	}
	if enclosing != 0 {
		return 0, Error{Token: len(tokens) - 1, Err: UnmatchedBlockError{Op: enclosing}}
	}
	return i, nil
}

func popCount(tok loader.Token) int {
	if tok.Op == mtoken.OpCl {
		if len(tok.Operands) > 1 {
			return int(tok.Operands[1])
		}
		return 0
	}
	e, _ := tok.Op.FixedStackEffect()
	return e.Pop
}

func pushCount(tok loader.Token) int {
	if tok.Op == mtoken.OpCl {
		return 1
	}
	e, _ := tok.Op.FixedStackEffect()
	return e.Push
}
