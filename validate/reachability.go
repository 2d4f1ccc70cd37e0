// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package validate

import (
	"github.com/m-token/mvm/loader"
	"github.com/m-token/mvm/mtoken"
)

// reachableEdges lists every token index's forward-flow successors for the
// reachability pass (§4.3 check 8): ordinary fall-through, JZ/JNZ forking,
// JMP's single target, RT/HALT as sinks, IF's true path falling straight
// into its own then-block with its false path resolved via skipToken, and
// a sequentially-encountered FN skipping its whole body — matching the
// interpreter's opFn, which always skips over a function body rather than
// falling into it; a body is only ever entered via CL.
//
// Unlike capability.go's edges (deliberately call-isolated, since dominance
// there is conservative about what a callee can assume), CL here also
// reaches into its callee's body, resolved through byte_to_token the same
// way vm.opCl resolves it at run time: without that edge a function body
// would have no predecessor in this graph and would be reported as dead
// code even when it is the target of a live call.
func reachableEdges(prog *loader.Program) ([][]int, map[int]bool, error) {
	tokens := prog.Tokens
	succs := make([][]int, len(tokens))
	exempt := make(map[int]bool)

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
			bStart, bEnd, err := findMatchingEnd(tokens, i+1)
			if err != nil {
				return nil, nil, err
			}
			// The opening B and closing E bracketing a function body are
			// structurally required by verifyBlocks but are never actually
			// stepped onto: a sequentially-encountered FN jumps straight
			// past both (matching opFn), and CL jumps straight past both
			// into the body (matching opCl). A body that ends in RT never
			// falls through to its own E either. Both tokens are therefore
			// exempt from the unreachable check rather than false alarms.
			exempt[bStart] = true
			exempt[bEnd] = true
			if bEnd+1 < len(tokens) {
				succs[i] = []int{bEnd + 1}
			}

		case mtoken.OpIf:
			thenSkip, err := skipToken(tokens, i)
			if err != nil {
				return nil, nil, err
			}
			succs[i] = []int{i + 1, thenSkip}

		case mtoken.OpCl:
			var s []int
			if i+1 < len(tokens) {
				s = append(s, i+1)
			}
			if len(tok.Operands) > 0 {
				off := int(tok.Operands[0])
				if off >= 0 && off < len(prog.ByteToToken) {
					if fnIdx := prog.ByteToToken[off]; fnIdx >= 0 && fnIdx+2 < len(tokens) {
						s = append(s, fnIdx+2) // past FN and its opening B, same as opCl
					}
				}
			}
			succs[i] = s

		default:
			if i+1 < len(tokens) {
				succs[i] = []int{i + 1}
			}
		}
	}
	return succs, exempt, nil
}

// verifyReachability checks that every token is reachable from token 0 via
// fall-through, taken-jump, and call edges (§4.3 check 8). An unreached
// token is rejected with UnreachableError — BadArg in the interpreter's
// fault taxonomy, since it can never be the site of any other runtime
// fault.
func verifyReachability(prog *loader.Program) error {
	tokens := prog.Tokens
	n := len(tokens)
	if n == 0 {
		return nil
	}

	succs, exempt, err := reachableEdges(prog)
	if err != nil {
		return err
	}

	reached := make([]bool, n)
	reached[0] = true
	queue := []int{0}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		for _, t := range succs[i] {
			if t >= 0 && t < n && !reached[t] {
				reached[t] = true
				queue = append(queue, t)
			}
		}
	}

	for i := range tokens {
		if reached[i] || exempt[i] {
			continue
		}
		return Error{Token: i, Err: UnreachableError{}}
	}
	return nil
}
