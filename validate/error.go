// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package validate

import (
	"errors"
	"fmt"

	"github.com/m-token/mvm/mtoken"
)

// Error wraps a validation failure with the token index where it was
// encountered, mirroring wagon's validate.Error (byte offset + function
// index) but keyed on M-Token's token index instead.
type Error struct {
	Token int // token index where the error occurred
	Err   error
}

func (e Error) Error() string {
	return fmt.Sprintf("validate: token %d: %v", e.Token, e.Err)
}

func (e Error) Unwrap() error { return e.Err }

// ErrStackUnderflow is returned when an instruction consumes a value but
// the stack (within the current block) is empty.
var ErrStackUnderflow = errors.New("stack underflow")

// ErrStackOverflow names an operand stack exceeding stack_limit (§4.3,
// §4.7). VerifyProgram does not track stack_limit and never returns it.
var ErrStackOverflow = errors.New("stack overflow")

// UnmatchedBlockError is returned when a B has no matching E, an E has no
// opening B, or an IF/FN isn't immediately followed by a B.
type UnmatchedBlockError struct {
	Op mtoken.Op
}

func (e UnmatchedBlockError) Error() string {
	return fmt.Sprintf("unmatched block at %s", e.Op)
}

// StructuredOpcodeError is returned when a WH or FR opcode is found in a
// program reaching the validator. §4.2 mandates these are always lowered
// to JZ/JMP at load time, so their presence here means the loader was
// bypassed or the byte stream was tampered with after loading.
type StructuredOpcodeError struct {
	Op mtoken.Op
}

func (e StructuredOpcodeError) Error() string {
	return fmt.Sprintf("structured opcode %s reached the validator unlowered", e.Op)
}

// InvalidLocalIndexError is returned when a V/LET index is >= 64.
type InvalidLocalIndexError uint32

func (e InvalidLocalIndexError) Error() string {
	return fmt.Sprintf("local index %d out of range (limit 64)", uint32(e))
}

// InvalidGlobalIndexError is returned when a global index is >= 128.
type InvalidGlobalIndexError uint32

func (e InvalidGlobalIndexError) Error() string {
	return fmt.Sprintf("global index %d out of range (limit 128)", uint32(e))
}

// InvalidJumpTargetError is returned when a JZ/JNZ/JMP's resolved target
// token index is outside [0, len(tokens)]. A jump into or out of a
// function body is not checked.
type InvalidJumpTargetError struct {
	From, Target int
}

func (e InvalidJumpTargetError) Error() string {
	return fmt.Sprintf("jump at token %d targets invalid token %d", e.From, e.Target)
}

// StackHeightMismatchError is returned when two branches into the same
// merge point leave the stack at different heights (§4.3 step 5).
type StackHeightMismatchError struct {
	Want, Got int
}

func (e StackHeightMismatchError) Error() string {
	return fmt.Sprintf("stack height mismatch at branch merge: want %d, got %d", e.Want, e.Got)
}

// CapabilityError is returned when an IOW/IOR opcode is reachable
// without a dominating GTWAY that unlocks the corresponding bit (§4.3
// capability-dominance pass; the interpreter's runtime fault for the same
// case is Unauthorized).
type CapabilityError struct {
	Token int
	Cap   int
}

func (e CapabilityError) Error() string {
	return fmt.Sprintf("token %d uses capability %d without a dominating GTWAY", e.Token, e.Cap)
}

// InvalidCapabilityIDError is returned when GTWAY's operand is out of the
// 0-255 device-id range (§9 Open Question: no legacy "unlock all" mode).
type InvalidCapabilityIDError uint32

func (e InvalidCapabilityIDError) Error() string {
	return fmt.Sprintf("capability id %d out of range (0-255)", uint32(e))
}

// UnreachableError is returned when a token has no path to it from token 0
// via fall-through, taken-jump, or call edges (§4.3 check 8).
type UnreachableError struct{}

func (e UnreachableError) Error() string { return "unreachable" }

// UnknownOpcodeError is returned for any byte that doesn't name a known
// opcode, or a core-only-policy program that uses an extension/heap
// opcode (§4.3, §6).
type UnknownOpcodeError struct {
	Op mtoken.Op
}

func (e UnknownOpcodeError) Error() string {
	return fmt.Sprintf("unknown or disallowed opcode %s", e.Op)
}
