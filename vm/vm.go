// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vm is the M-Token interpreter: a fetch/decode/dispatch loop over
// an already-tokenized and validated loader.Program (§4.4), the per-opcode
// handler contracts of §4.5, and the three-mode state machine of §4.9.
//
// Grounded on wagon/exec.VM: a context (stack/locals/pc) driven by a
// 256-entry opcode handler table (funcTable), generalized from wagon's
// compiled-bytecode dispatch to M-Token's token-index addressing (no JIT,
// no bytecode recompile pass — §9 rules that out explicitly).
package vm

import (
	"fmt"

	"github.com/m-token/mvm/loader"
	"github.com/m-token/mvm/mtoken"
)

// Mode is the VM's run state (§4.9).
type Mode int

const (
	Stopped Mode = iota
	Running
	Faulted
)

func (m Mode) String() string {
	switch m {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

const (
	maxLocals  = 64
	maxGlobals = 128
)

// callFrame is a saved caller frame, pushed by CL and popped by RT: the
// caller's locals (restored verbatim) and the token index to resume at.
type callFrame struct {
	savedLocals [maxLocals]mtoken.Value
	returnTok   int
}

// Callbacks are the host hooks the interpreter invokes for IOW/IOR/WAIT/
// TRACE (§6). A nil field is only safe if the program never reaches the
// opcode that would invoke it.
type Callbacks struct {
	IOWrite func(device uint8, v mtoken.Value)
	IORead  func(device uint8) mtoken.Value
	Sleep   func(ms int32)
	Trace   func(level uint32, msg string)
}

// Limits bounds the resources a single run may consume (§5). A zero value
// in any field disables that particular check, matching §4.10's "only
// active when gas_limit > 0"; New starts every VM from DefaultLimits.
type Limits struct {
	StepLimit      int
	GasLimit       int
	CallDepthLimit int
	StackLimit     int
}

// DefaultLimits mirrors what a freshly constructed VM enforces before the
// host calls any Set*Limit method.
var DefaultLimits = Limits{
	StepLimit:      0,
	GasLimit:       0,
	CallDepthLimit: 32,
	StackLimit:     256,
}

// VM is one M-Token interpreter instance (§5: single-threaded, owned by
// exactly one logical executor; do not share across goroutines without
// external mutual exclusion).
type VM struct {
	prog *loader.Program
	cb   Callbacks

	stack   []mtoken.Value
	locals  [maxLocals]mtoken.Value
	globals [maxGlobals]mtoken.Value
	frames  []callFrame
	caps    capSet
	heap    *heap

	pc          int // token index of the next token to fetch
	lastPC      int // byte offset of the last-fetched token
	lastOpIndex int // token index of the last-fetched token

	steps     int
	gas       int
	callDepth int

	limits Limits

	mode  Mode
	fault Fault

	singleStepLatch   bool
	breakpoints       map[int]int64
	lastBreakpointID  int64
	resumeSkipBp      int
	autoGCThreshold   int
}

// New constructs a VM over an already-loaded and validated program. Callers
// should run prog through validate.VerifyProgram before handing it here —
// the interpreter trusts its input the way §4.11 describes (a rejected
// program never reaches it) and does not re-run static checks.
func New(prog *loader.Program, cb Callbacks) *VM {
	vm := &VM{
		prog:        prog,
		cb:          cb,
		limits:      DefaultLimits,
		mode:        Stopped,
		breakpoints: make(map[int]int64),
		heap:        newHeap(),
		resumeSkipBp: -1,
	}
	return vm
}

func (vm *VM) SetStepLimit(n int)      { vm.limits.StepLimit = n }
func (vm *VM) SetGasLimit(n int)       { vm.limits.GasLimit = n }
func (vm *VM) SetCallDepthLimit(n int) { vm.limits.CallDepthLimit = n }
func (vm *VM) SetStackLimit(n int)     { vm.limits.StackLimit = n }

// Mode reports the VM's current state machine mode.
func (vm *VM) Mode() Mode { return vm.mode }

// Fault reports the fault slot (NoFault if none is set).
func (vm *VM) Fault() Fault { return vm.fault }

// Reset clears stacks, counters, fault and capabilities and rewinds pc to
// the program start; it preserves the loaded program, limits, host
// callbacks, globals, and the allocation list (§4.9).
func (vm *VM) Reset() {
	vm.stack = vm.stack[:0]
	vm.locals = [maxLocals]mtoken.Value{}
	vm.frames = vm.frames[:0]
	vm.caps = capSet{}
	vm.pc = 0
	vm.lastPC = 0
	vm.lastOpIndex = 0
	vm.steps = 0
	vm.gas = 0
	vm.callDepth = 0
	vm.fault = NoFault
	vm.mode = Stopped
	vm.singleStepLatch = false
	vm.resumeSkipBp = -1
}

// Authorize grants device id's capability bit directly, as if the program
// had already executed GTWAY id (§4.5). Intended for a host that
// pre-authorizes a program's device access before running it (e.g. via
// config.Config.PreAuthorize) rather than trusting the program to gate
// itself; capabilities granted this way never clear except by Reset, the
// same as a program-issued GTWAY.
func (vm *VM) Authorize(device uint8) { vm.caps.set(int(device)) }

// SetBreakpoint installs a breakpoint with the given id at token index tok
// (§4.5 BP); it fires the next time the run loop is about to fetch that
// token.
func (vm *VM) SetBreakpoint(tok int, id int64) { vm.breakpoints[tok] = id }

// ClearBreakpoint removes a previously installed breakpoint.
func (vm *VM) ClearBreakpoint(tok int) { delete(vm.breakpoints, tok) }

// Result is what Run/Step return: either a clean halt (Completed, with the
// top-of-stack result) or a trap (fault + the pc it occurred at), per §7's
// user-visible contract.
type Result struct {
	Completed bool
	Halted    bool
	Fault     Fault
	PC        int
	OpIndex   int
	Steps     int
	SP        int
	Top       mtoken.Value
}

func (vm *VM) result() Result {
	r := Result{Halted: true, Fault: vm.fault, PC: vm.lastPC, OpIndex: vm.lastOpIndex, Steps: vm.steps, SP: len(vm.stack)}
	if vm.fault == NoFault {
		r.Completed = true
		if len(vm.stack) > 0 {
			r.Top = vm.stack[len(vm.stack)-1]
		}
	}
	return r
}

// StackSnapshot returns a copy of the current data stack, low to high.
func (vm *VM) StackSnapshot() []mtoken.Value {
	out := make([]mtoken.Value, len(vm.stack))
	copy(out, vm.stack)
	return out
}

// Run drives the VM until it halts, traps, or pauses at a breakpoint or
// single-step latch (§4.4).
func (vm *VM) Run() Result {
	vm.enterRunning()
	for vm.mode == Running {
		vm.runStep()
	}
	return vm.result()
}

// Step executes exactly one fetch/decode/dispatch cycle and then stops,
// regardless of the single-step latch (§6's distinct `step` entry point).
func (vm *VM) Step() Result {
	vm.enterRunning()
	vm.runStep()
	if vm.mode == Running {
		vm.mode = Stopped
	}
	return vm.result()
}

// enterRunning transitions Stopped -> Running, clearing a resumable debug
// fault (Breakpoint/DebugStep) from the prior pause and arming the
// one-token breakpoint-reentry guard so resuming doesn't immediately
// re-trap on the same token.
func (vm *VM) enterRunning() {
	if vm.fault == FaultBreakpoint {
		vm.resumeSkipBp = vm.pc
	} else {
		vm.resumeSkipBp = -1
	}
	if vm.fault == FaultBreakpoint || vm.fault == FaultDebugStep {
		vm.fault = NoFault
	}
	vm.mode = Running
}

// runStep is the body of §4.4's nine-step loop, advancing pc by exactly
// one token.
func (vm *VM) runStep() {
	if vm.pc < 0 || vm.pc >= len(vm.prog.Tokens) {
		vm.trap(FaultPcOob)
		return
	}

	vm.steps++
	if vm.limits.StepLimit > 0 && vm.steps > vm.limits.StepLimit {
		vm.trap(FaultStepLimit)
		return
	}

	vm.lastOpIndex = vm.pc
	vm.lastPC = vm.prog.TokenOffsets[vm.pc]

	if id, ok := vm.breakpoints[vm.pc]; ok && vm.pc != vm.resumeSkipBp {
		vm.mode = Stopped
		vm.fault = FaultBreakpoint
		vm.lastBreakpointID = id
		return
	}
	vm.resumeSkipBp = -1

	tok := vm.prog.Tokens[vm.pc]
	vm.pc++

	h := handlers[tok.Op]
	if h == nil {
		vm.trap(FaultUnknownOp)
		return
	}

	if vm.limits.GasLimit > 0 {
		vm.gas += tok.Op.GasCost()
		if vm.gas > vm.limits.GasLimit {
			vm.trap(FaultGasExhausted)
			return
		}
	}

	h(vm, tok)
	if vm.fault != NoFault {
		return
	}

	if vm.singleStepLatch {
		vm.singleStepLatch = false
		vm.mode = Stopped
		vm.fault = FaultDebugStep
	}
}

// trap sets the fault slot and transitions the state machine: Breakpoint
// and DebugStep are cooperative pauses (Running -> Stopped); every other
// fault is a true error (Running -> Faulted), per §4.9/§4.11.
func (vm *VM) trap(f Fault) {
	vm.fault = f
	if f == FaultBreakpoint || f == FaultDebugStep {
		vm.mode = Stopped
	} else {
		vm.mode = Faulted
	}
}

func (vm *VM) push(v mtoken.Value) bool {
	if vm.limits.StackLimit > 0 && len(vm.stack) >= vm.limits.StackLimit {
		vm.trap(FaultStackOverflow)
		return false
	}
	vm.stack = append(vm.stack, v)
	return true
}

func (vm *VM) pop() (mtoken.Value, bool) {
	if len(vm.stack) == 0 {
		vm.trap(FaultStackUnderflow)
		return mtoken.Value{}, false
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, true
}

func (vm *VM) popN(n int) ([]mtoken.Value, bool) {
	if len(vm.stack) < n {
		vm.trap(FaultStackUnderflow)
		return nil, false
	}
	out := make([]mtoken.Value, n)
	copy(out, vm.stack[len(vm.stack)-n:])
	vm.stack = vm.stack[:len(vm.stack)-n]
	return out, true
}

// blockSkip scans forward from an IF/FN's opening B (bStart is that B's
// index), counting nested B/E, and returns the index of the matching E (§4.7 Block
// Skipper: the interpreter's only way to handle structured blocks, since
// WH/FR never reach it — the loader always lowers those to JZ/JMP first).
func (vm *VM) blockSkip(bStart int) (int, bool) {
	depth := 0
	for i := bStart; i < len(vm.prog.Tokens); i++ {
		switch vm.prog.Tokens[i].Op {
		case mtoken.OpB:
			depth++
		case mtoken.OpE:
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	vm.trap(FaultPcOob)
	return 0, false
}

func (vm *VM) String() string {
	return fmt.Sprintf("vm{mode=%s fault=%s pc=%d sp=%d}", vm.mode, vm.fault, vm.pc, len(vm.stack))
}
