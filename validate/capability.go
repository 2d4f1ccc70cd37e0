// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package validate

import (
	"github.com/m-token/mvm/loader"
	"github.com/m-token/mvm/mtoken"
)

// capSet is a 256-bit capability bitmap (§3/§5's device-id-indexed
// capability set), represented the same width as the one the interpreter
// carries at runtime.
type capSet [4]uint64

func (c capSet) set(id int) capSet {
	c[id/64] |= 1 << uint(id%64)
	return c
}

func (c capSet) has(id int) bool {
	return c[id/64]&(1<<uint(id%64)) != 0
}

func (c capSet) intersect(o capSet) capSet {
	var r capSet
	for i := range c {
		r[i] = c[i] & o[i]
	}
	return r
}

// edges lists every token index's CFG successors for the capability-
// dominance pass: JZ/JNZ branch two ways, JMP/RT/HALT are sinks or
// single-target, IF's false path skips its then-block (and, if present,
// falls into an else-block instead), and FN's only edge in the enclosing
// flow is past its own body — the body is analyzed as an independent
// sub-CFG rooted at its own entry, since it only ever runs via CL.
func edges(tokens []loader.Token) ([][]int, error) {
	succs := make([][]int, len(tokens))
	for i, tok := range tokens {
		switch tok.Op {
		case mtoken.OpJz, mtoken.OpJnz:
			target := i + 1 + int(tok.Operands[0])
			succs[i] = []int{i + 1, target}
		case mtoken.OpJmp:
			target := i + 1 + int(tok.Operands[0])
			succs[i] = []int{target}
		case mtoken.OpRt, mtoken.OpHalt:
			succs[i] = nil
		case mtoken.OpFn:
			_, bEnd, err := findMatchingEnd(tokens, i+1)
			if err != nil {
				return nil, err
			}
			if bEnd+1 <= len(tokens) {
				succs[i] = []int{bEnd + 1}
			}
		case mtoken.OpIf:
			thenEnd, err2 := skipToken(tokens, i)
			if err2 != nil {
				return nil, err2
			}
			succs[i] = []int{i + 2, thenEnd}
		default:
			if i+1 < len(tokens) {
				succs[i] = []int{i + 1}
			}
		}
	}
	return succs, nil
}

// findMatchingEnd scans forward from a B token at index bStart, tracking
// nesting depth, and returns (bStart, index of the matching E).
func findMatchingEnd(tokens []loader.Token, bStart int) (int, int, error) {
	if bStart >= len(tokens) || tokens[bStart].Op != mtoken.OpB {
		return 0, 0, Error{Token: bStart, Err: UnmatchedBlockError{Op: mtoken.OpB}}
	}
	depth := 0
	for i := bStart; i < len(tokens); i++ {
		switch tokens[i].Op {
		case mtoken.OpB:
			depth++
		case mtoken.OpE:
			depth--
			if depth == 0 {
				return bStart, i, nil
			}
		}
	}
	return 0, 0, Error{Token: bStart, Err: UnmatchedBlockError{Op: mtoken.OpB}}
}

// skipToken returns the token index IF's false path lands on: past the
// then-block if there's no else, or the first token of the else-block's
// body if there is one.
func skipToken(tokens []loader.Token, ifIdx int) (int, error) {
	_, thenE, err := findMatchingEnd(tokens, ifIdx+1)
	if err != nil {
		return 0, err
	}
	if thenE+1 < len(tokens) && tokens[thenE+1].Op == mtoken.OpB {
		return thenE + 2, nil // first token inside the else-block
	}
	return thenE + 1, nil // straight past the whole if/else
}

// verifyCapabilityDominance computes, for every token, the set of
// capability bits guaranteed to be set on every path reaching it, via a
// forward "must" dataflow pass (IN = intersection of predecessors'
// OUT; OUT = IN plus any bit a GTWAY at this token sets). An IOW/IOR
// whose device id isn't in its token's IN set is rejected: there exists
// at least one reachable path that executes it without a dominating
// GTWAY (§4.3's capability-dominance pass, §4.9's Unauthorized fault —
// the validator rejects statically what would otherwise only be caught
// at run time).
//
// Backward edges (a lowered loop's back-edge JMP) are not used to
// propagate capabilities forward: a capability granted only inside a
// loop body is not treated as available to a later iteration's entry
// check. This is a conservative simplification, not a soundness gap — it
// can only reject programs a fuller iterative analysis would accept.
func verifyCapabilityDominance(prog *loader.Program) error {
	tokens := prog.Tokens
	n := len(tokens)
	if n == 0 {
		return nil
	}

	succs, err := edges(tokens)
	if err != nil {
		return err
	}
	preds := make([][]int, n)
	for i, s := range succs {
		for _, t := range s {
			if t <= i || t >= n {
				continue // t == n is "falls off the end"; t <= i is a back edge, see doc comment
			}
			preds[t] = append(preds[t], i)
		}
	}

	// Every edge built above goes from a lower token index to a strictly
	// higher one (back edges are excluded), so the predecessor graph is a
	// DAG ordered by token index: a single forward sweep computing IN[i]
	// from already-finalized IN[p] (p < i) is exact, no fixpoint needed.
	in := make([]capSet, n)
	for i := 0; i < n; i++ {
		if len(preds[i]) == 0 {
			in[i] = capSet{} // entry point (or unreachable code): nothing guaranteed
			continue
		}
		merged := outSet(tokens[preds[i][0]], in[preds[i][0]])
		for _, p := range preds[i][1:] {
			merged = merged.intersect(outSet(tokens[p], in[p]))
		}
		in[i] = merged
	}

	for i, tok := range tokens {
		switch tok.Op {
		case mtoken.OpIow, mtoken.OpIor:
			dev := int(tok.Operands[0])
			if !in[i].has(dev) {
				return Error{Token: i, Err: CapabilityError{Token: i, Cap: dev}}
			}
		}
	}
	return nil
}

// outSet returns a token's OUT set given its IN set: GTWAY adds its bit,
// everything else passes the set through unchanged.
func outSet(tok loader.Token, in capSet) capSet {
	if tok.Op == mtoken.OpGtway {
		id := int(tok.Operands[0])
		if id <= 255 {
			return in.set(id)
		}
	}
	return in
}
