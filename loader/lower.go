// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package loader

import (
	"errors"
	"fmt"

	"github.com/m-token/mvm/mtoken"
)

// ErrMalformedBlock is returned when a WH/FR/IF/FN token isn't followed by
// the B/E pair the structural encoding requires, or when a WH/FR's
// condition span can't be located on the simulated stack.
var ErrMalformedBlock = errors.New("loader: malformed block structure")

// span is the contiguous token-index range [Start, End] (inclusive) whose
// execution leaves exactly one new value on the simulated stack. Grounded
// on exec/internal/compile.Compile's blocks map, generalized from "which
// byte offset does this branch patch to" into "which token range feeds
// this value".
type span struct {
	Start, End int
}

// Lower rewrites every WH/FR in tokens into a JZ/JMP pair around its body,
// per §4.2's mandatory structured-to-jump pass. The returned slice is a new
// token sequence; tokens is left untouched. Lowering is the one pass
// allowed to see WH/FR — every later stage (validator, interpreter) only
// ever sees JZ/JMP.
func Lower(tokens []Token) ([]Token, error) {
	out, _, err := lowerRange(tokens, 0, len(tokens), nil)
	return out, err
}

// lowerRange lowers tokens[start:end] (a whole program, a single FN body,
// or a single WH/FR body) and returns the rewritten tokens plus the final
// simulated stack (spans); the WH/FR case uses a body's final stack to
// check that the body leaves nothing behind. stack is the span stack to
// start from; FN bodies and WH/FR bodies are each lowered with a fresh
// (nil) one.
func lowerRange(tokens []Token, start, end int, stack []span) ([]Token, []span, error) {
	var out []Token
	outIdx := make(map[int]int) // tokens index -> out index, for tokens copied verbatim
	i := start
	for i < end {
		tok := tokens[i]

		if tok.Op == mtoken.OpFn {
			body, bodyEnd, err := matchingBlock(tokens, i+1, end)
			if err != nil {
				return nil, nil, err
			}
			innerOut, _, err := lowerRange(tokens, body.bStart+1, body.eIdx, nil)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, tok, tokens[body.bStart])
			out = append(out, innerOut...)
			out = append(out, tokens[body.eIdx])
			i = bodyEnd
			continue
		}

		if tok.Op == mtoken.OpWh || tok.Op == mtoken.OpFr {
			if len(stack) == 0 {
				return nil, nil, fmt.Errorf("%w: %s at token %d has no condition on stack", ErrMalformedBlock, tok.Op, i)
			}
			cond := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			var incrStart, incrEnd int = -1, -1
			if tok.Op == mtoken.OpFr && cond.End+1 <= i-1 {
				incrStart, incrEnd = cond.End+1, i-1
			}

			body, bodyEnd, err := matchingBlock(tokens, i+1, end)
			if err != nil {
				return nil, nil, err
			}

			bodyOut, bodyStack, err := lowerRange(tokens, body.bStart+1, body.eIdx, nil)
			if err != nil {
				return nil, nil, err
			}
			if len(bodyStack) != 0 {
				return nil, nil, fmt.Errorf("%w: %s body at token %d has non-zero net stack effect", ErrMalformedBlock, tok.Op, i)
			}

			var incrOut []Token
			if incrStart >= 0 {
				incrOut = append(incrOut, tokens[incrStart:incrEnd+1]...)
				// The increment was already copied verbatim while it was
				// simulated; drop that copy so it only runs after the body.
				if p, ok := outIdx[incrStart]; ok {
					out = out[:p]
				}
			}

			// A jump's target is token-index-relative to the token just
			// past the jump itself (§3: "pc = token_offsets[last_op_index
			// + 1 + off]"), not to the jump's own index.
			//
			// JZ skips past [body][incr][back-edge JMP] when false: the
			// tokens right after the JZ are body+incr, followed by one
			// back-edge JMP token, so the offset just needs to count those
			// len(bodyOut)+len(incrOut)+1 tokens.
			skip := int64(len(bodyOut) + len(incrOut) + 1)
			out = append(out, newJumpToken(mtoken.OpJz, skip))
			out = append(out, bodyOut...)
			out = append(out, incrOut...)

			// Back-edge JMP targets the first condition token, at its
			// position in out (earlier loops may have shifted it).
			jmpIdx := len(out)
			jmpOffset := int64(outIdx[cond.Start]) - int64(jmpIdx+1)
			out = append(out, newJumpToken(mtoken.OpJmp, jmpOffset))

			i = bodyEnd
			continue
		}

		// IF's own B/E are structural to IF, not to a loop: they fall
		// through to the verbatim copy below and IF pops its condition
		// like any other fixed-effect opcode.
		outIdx[i] = len(out)
		out = append(out, tok)
		stack = applyEffect(stack, tok, i)
		i++
	}
	return out, stack, nil
}

type blockSpan struct {
	bStart int // index of the B token
	eIdx   int // index of the matching E token
}

// matchingBlock expects tokens[from] to be a B token opening a structural
// block, and scans forward tracking nesting depth to find its matching E.
// Grounded on disasm.Disassemble's depth-counted block/end matching and
// compile.Compile's analogous scan.
func matchingBlock(tokens []Token, from, end int) (blockSpan, int, error) {
	if from >= end || tokens[from].Op != mtoken.OpB {
		return blockSpan{}, 0, fmt.Errorf("%w: expected B at token %d", ErrMalformedBlock, from)
	}
	depth := 0
	for i := from; i < end; i++ {
		switch tokens[i].Op {
		case mtoken.OpB:
			depth++
		case mtoken.OpE:
			depth--
			if depth == 0 {
				return blockSpan{bStart: from, eIdx: i}, i + 1, nil
			}
		}
	}
	return blockSpan{}, 0, fmt.Errorf("%w: unmatched B at token %d", ErrMalformedBlock, from)
}

// applyEffect advances the simulated span stack past tok at token index i,
// per the linear stack-effect simulation in §4.2: a token's pushed
// value(s) span from the earliest popped operand's start (or i itself, if
// it pops nothing) through i.
func applyEffect(stack []span, tok Token, i int) []span {
	pop, push := tokenEffect(tok)
	newStart := i
	if pop > 0 && pop <= len(stack) {
		newStart = stack[len(stack)-pop].Start
		stack = stack[:len(stack)-pop]
	} else if pop > 0 {
		stack = nil
	}
	for k := 0; k < push; k++ {
		stack = append(stack, span{Start: newStart, End: i})
	}
	return stack
}

// tokenEffect returns a token's (pop, push) counts, resolving the
// operand-dependent opcodes (CL's argc) that mtoken.Op.FixedStackEffect
// can't express alone.
func tokenEffect(tok Token) (pop, push int) {
	switch tok.Op {
	case mtoken.OpCl:
		argc := 0
		if len(tok.Operands) > 1 {
			argc = int(tok.Operands[1])
		}
		return argc, 1
	}
	if e, ok := tok.Op.FixedStackEffect(); ok {
		return e.Pop, e.Push
	}
	return 0, 0
}
