// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vm

import (
	"fmt"

	"github.com/m-token/mvm/mtoken"
)

// DefaultTraceCap is the default cap on a Simulate trace's row count (§4.8).
const DefaultTraceCap = 1024

// TraceRow is one step of a Simulate trace: the state immediately before
// and after executing a single token.
type TraceRow struct {
	Step    int
	PC      int
	Op      mtoken.Op
	SP      int
	Top     int64
}

// SimResult is Simulate's return value (§4.8).
type SimResult struct {
	Result
	Trace []TraceRow
}

// Simulate wraps Run, recording one TraceRow per step until the VM stops.
// The trace is capped at cap rows (DefaultTraceCap if cap <= 0); once full,
// it is a truncation, not a ring buffer — the earliest rows are kept and
// later ones are silently dropped.
func (vm *VM) Simulate(cap int) SimResult {
	if cap <= 0 {
		cap = DefaultTraceCap
	}
	var trace []TraceRow

	vm.enterRunning()
	for vm.mode == Running {
		stepBefore := vm.steps
		vm.runStep()
		if len(trace) < cap && vm.steps != stepBefore {
			row := TraceRow{
				Step: vm.steps,
				PC:   vm.lastPC,
				Op:   vm.prog.Tokens[vm.lastOpIndex].Op,
				SP:   len(vm.stack),
			}
			if len(vm.stack) > 0 {
				row.Top = vm.stack[len(vm.stack)-1].AsInt()
			}
			trace = append(trace, row)
		}
	}
	return SimResult{Result: vm.result(), Trace: trace}
}

func fmtTrace(pc int, opName string, sp int, top mtoken.Value) string {
	return fmt.Sprintf("pc=%d op=%s sp=%d top=%s", pc, opName, sp, top)
}
