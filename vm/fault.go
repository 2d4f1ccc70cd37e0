// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vm

// Fault is the interpreter's trap taxonomy (§7). Every value has a stable
// display name; no payload strings are part of the ABI, matching wagon's
// structural approach to its own wasm validation errors one opcode-shaped
// failure mode at a time, generalized here to the run-time trap set.
type Fault int

const (
	NoFault Fault = iota

	FaultBadEncoding
	FaultUnknownOp
	FaultPcOob

	FaultStackOverflow
	FaultStackUnderflow
	FaultRetStackOverflow
	FaultRetStackUnderflow

	FaultLocalsOob
	FaultGlobalsOob
	FaultIndexOob

	FaultDivByZero
	FaultModByZero

	FaultTypeMismatch

	FaultBadArg

	FaultStepLimit
	FaultGasExhausted
	FaultCallDepthLimit
	FaultOutOfMemory

	FaultUnauthorized

	FaultAssertFailed

	FaultBreakpoint
	FaultDebugStep
)

var faultNames = map[Fault]string{
	NoFault:               "None",
	FaultBadEncoding:      "BadEncoding",
	FaultUnknownOp:        "UnknownOp",
	FaultPcOob:            "PcOob",
	FaultStackOverflow:    "StackOverflow",
	FaultStackUnderflow:   "StackUnderflow",
	FaultRetStackOverflow: "RetStackOverflow",
	FaultRetStackUnderflow: "RetStackUnderflow",
	FaultLocalsOob:        "LocalsOob",
	FaultGlobalsOob:       "GlobalsOob",
	FaultIndexOob:         "IndexOob",
	FaultDivByZero:        "DivByZero",
	FaultModByZero:        "ModByZero",
	FaultTypeMismatch:     "TypeMismatch",
	FaultBadArg:           "BadArg",
	FaultStepLimit:        "StepLimit",
	FaultGasExhausted:     "GasExhausted",
	FaultCallDepthLimit:   "CallDepthLimit",
	FaultOutOfMemory:      "OutOfMemory",
	FaultUnauthorized:     "Unauthorized",
	FaultAssertFailed:     "AssertFailed",
	FaultBreakpoint:       "Breakpoint",
	FaultDebugStep:        "DebugStep",
}

// String returns the fault's stable display name (§7).
func (f Fault) String() string {
	if n, ok := faultNames[f]; ok {
		return n
	}
	return "Unknown"
}

// IsDebugPause reports whether f is a cooperative pause rather than a true
// error — the caller may resume by calling Run/Step again without Reset
// (§4.9, §4.11).
func (f Fault) IsDebugPause() bool {
	return f == FaultBreakpoint || f == FaultDebugStep
}
