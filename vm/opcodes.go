// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vm

import (
	"github.com/m-token/mvm/loader"
	"github.com/m-token/mvm/mtoken"
)

// handler implements one opcode's run-time contract (§4.5). It may pop/push
// the stack, mutate any VM-owned state, and call vm.trap to fault; runStep
// checks vm.fault after every call and stops stepping if one was set.
type handler func(vm *VM, tok loader.Token)

// handlers is the 256-entry opcode dispatch table, indexed directly by
// opcode byte value. Grounded on wagon/exec.VM.funcTable: a flat array of
// closures beats a type switch for a one-byte-wide dispatch key.
var handlers [256]handler

func init() {
	handlers[mtoken.OpHalt] = opHalt
	handlers[mtoken.OpLit] = opLit
	handlers[mtoken.OpV] = opV
	handlers[mtoken.OpLet] = opLet
	handlers[mtoken.OpSet] = opSet

	handlers[mtoken.OpAdd] = binArith(func(a, b int64) int64 { return a + b })
	handlers[mtoken.OpSub] = binArith(func(a, b int64) int64 { return a - b })
	handlers[mtoken.OpMul] = binArith(func(a, b int64) int64 { return a * b })
	handlers[mtoken.OpDiv] = opDiv
	handlers[mtoken.OpMod] = opMod
	handlers[mtoken.OpAnd] = binArith(func(a, b int64) int64 { return a & b })
	handlers[mtoken.OpOr] = binArith(func(a, b int64) int64 { return a | b })
	handlers[mtoken.OpXor] = binArith(func(a, b int64) int64 { return a ^ b })
	handlers[mtoken.OpShl] = binArith(func(a, b int64) int64 { return a << (uint64(b) & 63) })
	handlers[mtoken.OpShr] = binArith(func(a, b int64) int64 { return a >> (uint64(b) & 63) })
	handlers[mtoken.OpNeg] = unArith(func(a int64) int64 { return -a })
	handlers[mtoken.OpNot] = unArith(func(a int64) int64 { return ^a })

	handlers[mtoken.OpLt] = cmp(func(a, b int64) bool { return a < b })
	handlers[mtoken.OpGt] = cmp(func(a, b int64) bool { return a > b })
	handlers[mtoken.OpLe] = cmp(func(a, b int64) bool { return a <= b })
	handlers[mtoken.OpGe] = cmp(func(a, b int64) bool { return a >= b })
	handlers[mtoken.OpEq] = opEq
	handlers[mtoken.OpNeq] = opNeq

	handlers[mtoken.OpDup] = opDup
	handlers[mtoken.OpDrp] = opDrp
	handlers[mtoken.OpRot] = opRot
	handlers[mtoken.OpSwp] = opSwp
	handlers[69] = opSwp // SWP.legacy

	handlers[mtoken.OpNewarr] = opNewarr
	handlers[mtoken.OpIdx] = opIdx
	handlers[mtoken.OpSto] = opSto
	handlers[mtoken.OpLen] = opLen
	handlers[mtoken.OpGet] = opIdx
	handlers[mtoken.OpPut] = opSto

	handlers[mtoken.OpAlloc] = opAlloc
	handlers[mtoken.OpFree] = opFree

	handlers[mtoken.OpB] = opNop
	handlers[mtoken.OpE] = opNop
	handlers[mtoken.OpPh] = opNop

	handlers[mtoken.OpIf] = opIf
	handlers[mtoken.OpJz] = opJz
	handlers[mtoken.OpJnz] = opJnz
	handlers[mtoken.OpJmp] = opJmp
	handlers[mtoken.OpFn] = opFn
	handlers[mtoken.OpCl] = opCl
	handlers[mtoken.OpRt] = opRt

	handlers[mtoken.OpIow] = opIow
	handlers[mtoken.OpIor] = opIor
	handlers[mtoken.OpGtway] = opGtway
	handlers[mtoken.OpWait] = opWait
	handlers[mtoken.OpTrace] = opTrace
	handlers[mtoken.OpGc] = opGc
	handlers[mtoken.OpBp] = opBp
	handlers[mtoken.OpStep] = opStep
}

func opNop(vm *VM, tok loader.Token) {}

func opHalt(vm *VM, tok loader.Token) { vm.mode = Stopped }

func opLit(vm *VM, tok loader.Token) { vm.push(mtoken.IntValue(tok.Operands[0])) }

func opV(vm *VM, tok loader.Token) {
	i := int(tok.Operands[0])
	if i >= maxLocals {
		vm.trap(FaultLocalsOob)
		return
	}
	vm.push(vm.locals[i])
}

func opLet(vm *VM, tok loader.Token) {
	i := int(tok.Operands[0])
	if i >= maxLocals {
		vm.trap(FaultLocalsOob)
		return
	}
	v, ok := vm.pop()
	if !ok {
		return
	}
	vm.locals[i] = v
}

func opSet(vm *VM, tok loader.Token) {
	i := int(tok.Operands[0])
	if i >= maxGlobals {
		vm.trap(FaultGlobalsOob)
		return
	}
	v, ok := vm.pop()
	if !ok {
		return
	}
	vm.globals[i] = v
}

// binArith pops b then a, pushes Int(f(a, b)); arithmetic wraps in two's
// complement via plain int64 overflow (§4.5).
func binArith(f func(a, b int64) int64) handler {
	return func(vm *VM, tok loader.Token) {
		b, ok := vm.pop()
		if !ok {
			return
		}
		a, ok := vm.pop()
		if !ok {
			return
		}
		vm.push(mtoken.IntValue(f(a.AsInt(), b.AsInt())))
	}
}

func unArith(f func(a int64) int64) handler {
	return func(vm *VM, tok loader.Token) {
		a, ok := vm.pop()
		if !ok {
			return
		}
		vm.push(mtoken.IntValue(f(a.AsInt())))
	}
}

func opDiv(vm *VM, tok loader.Token) {
	b, ok := vm.pop()
	if !ok {
		return
	}
	a, ok := vm.pop()
	if !ok {
		return
	}
	if b.AsInt() == 0 {
		vm.trap(FaultDivByZero)
		return
	}
	vm.push(mtoken.IntValue(a.AsInt() / b.AsInt()))
}

// opMod implements C-style remainder (sign follows the dividend), which is
// exactly what Go's % operator already does for int64.
func opMod(vm *VM, tok loader.Token) {
	b, ok := vm.pop()
	if !ok {
		return
	}
	a, ok := vm.pop()
	if !ok {
		return
	}
	if b.AsInt() == 0 {
		vm.trap(FaultModByZero)
		return
	}
	vm.push(mtoken.IntValue(a.AsInt() % b.AsInt()))
}

func cmp(f func(a, b int64) bool) handler {
	return func(vm *VM, tok loader.Token) {
		b, ok := vm.pop()
		if !ok {
			return
		}
		a, ok := vm.pop()
		if !ok {
			return
		}
		vm.push(mtoken.BoolValue(f(a.AsInt(), b.AsInt())))
	}
}

// opEq/opNeq compare across the full Value (kind and payload): mixed-kind
// operands compare unequal without faulting (§4.5).
func opEq(vm *VM, tok loader.Token) {
	b, ok := vm.pop()
	if !ok {
		return
	}
	a, ok := vm.pop()
	if !ok {
		return
	}
	vm.push(mtoken.BoolValue(valuesEqual(a, b)))
}

func opNeq(vm *VM, tok loader.Token) {
	b, ok := vm.pop()
	if !ok {
		return
	}
	a, ok := vm.pop()
	if !ok {
		return
	}
	vm.push(mtoken.BoolValue(!valuesEqual(a, b)))
}

func valuesEqual(a, b mtoken.Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == mtoken.KindFloat {
		return a.F == b.F
	}
	return a.I == b.I
}

func opDup(vm *VM, tok loader.Token) {
	v, ok := vm.pop()
	if !ok {
		return
	}
	vm.push(v)
	vm.push(v)
}

func opDrp(vm *VM, tok loader.Token) {
	vm.pop()
}

// opRot rotates the top three stack slots: (a b c) -> (b c a), the
// canonical Forth ROT.
func opRot(vm *VM, tok loader.Token) {
	vs, ok := vm.popN(3)
	if !ok {
		return
	}
	vm.push(vs[1])
	vm.push(vs[2])
	vm.push(vs[0])
}

func opSwp(vm *VM, tok loader.Token) {
	vs, ok := vm.popN(2)
	if !ok {
		return
	}
	vm.push(vs[1])
	vm.push(vs[0])
}

func opNewarr(vm *VM, tok loader.Token) {
	size, ok := vm.pop()
	if !ok {
		return
	}
	ref, ok := vm.newArr(size.AsInt())
	if !ok {
		return
	}
	vm.push(ref)
}

func opIdx(vm *VM, tok loader.Token) {
	ref, ok := vm.pop2PopRef()
	if !ok {
		return
	}
	arr, ok := vm.array(ref.ref)
	if !ok {
		return
	}
	i := ref.idx
	if i < 0 || i >= int64(len(arr.Elements)) {
		vm.trap(FaultIndexOob)
		return
	}
	vm.push(arr.Elements[i])
}

func opSto(vm *VM, tok loader.Token) {
	val, ok := vm.pop()
	if !ok {
		return
	}
	idx, ok := vm.pop()
	if !ok {
		return
	}
	ref, ok := vm.pop()
	if !ok {
		return
	}
	arr, ok := vm.array(ref)
	if !ok {
		return
	}
	i := idx.AsInt()
	if i < 0 || i >= int64(len(arr.Elements)) {
		vm.trap(FaultIndexOob)
		return
	}
	arr.Elements[i] = val
	vm.push(ref)
}

func opLen(vm *VM, tok loader.Token) {
	ref, ok := vm.pop()
	if !ok {
		return
	}
	arr, ok := vm.array(ref)
	if !ok {
		return
	}
	vm.push(mtoken.IntValue(int64(arr.Len())))
}

type idxRef struct {
	idx int64
	ref mtoken.Value
}

// pop2PopRef pops idx then ref (IDX's order: pop idx, pop ref).
func (vm *VM) pop2PopRef() (idxRef, bool) {
	idx, ok := vm.pop()
	if !ok {
		return idxRef{}, false
	}
	ref, ok := vm.pop()
	if !ok {
		return idxRef{}, false
	}
	return idxRef{idx: idx.AsInt(), ref: ref}, true
}

func opAlloc(vm *VM, tok loader.Token) {
	size, ok := vm.pop()
	if !ok {
		return
	}
	ref, ok := vm.allocBuf(size.AsInt())
	if !ok {
		return
	}
	vm.push(ref)
}

func opFree(vm *VM, tok loader.Token) {
	ref, ok := vm.pop()
	if !ok {
		return
	}
	vm.freeBuf(ref)
}

// opIf implements §4.5/§4.7's structured IF: pop the condition; if truthy,
// fall through into the then-block (pc already sits on its opening B, a
// no-op); if falsy, block-skip to the then-block's matching E. A then-block
// whose matching E is immediately followed by another B is an else-block:
// the false path continues execution just past that B. The true path gets
// no help here or at E (a no-op): once it finishes the then-block it falls
// into the else-block unless the then-block ends with a JMP past it.
func opIf(vm *VM, tok loader.Token) {
	cond, ok := vm.pop()
	if !ok {
		return
	}
	if cond.Truthy() {
		return
	}
	thenEnd, ok := vm.blockSkip(vm.pc)
	if !ok {
		return
	}
	if thenEnd+1 < len(vm.prog.Tokens) && vm.prog.Tokens[thenEnd+1].Op == mtoken.OpB {
		vm.pc = thenEnd + 2
		return
	}
	vm.pc = thenEnd + 1
}

func opJz(vm *VM, tok loader.Token) { jump(vm, tok, false) }
func opJnz(vm *VM, tok loader.Token) { jump(vm, tok, true) }

func jump(vm *VM, tok loader.Token, onTrue bool) {
	cond, ok := vm.pop()
	if !ok {
		return
	}
	if cond.Truthy() != onTrue {
		return
	}
	target := vm.lastOpIndex + 1 + int(tok.Operands[0])
	if target < 0 || target > len(vm.prog.Tokens) {
		vm.trap(FaultPcOob)
		return
	}
	vm.pc = target
}

func opJmp(vm *VM, tok loader.Token) {
	target := vm.lastOpIndex + 1 + int(tok.Operands[0])
	if target < 0 || target > len(vm.prog.Tokens) {
		vm.trap(FaultPcOob)
		return
	}
	vm.pc = target
}

// opFn is a run-time skip: walk past the function body (whose only other
// entry point is CL) and continue. §4.7.
func opFn(vm *VM, tok loader.Token) {
	end, ok := vm.blockSkip(vm.pc)
	if !ok {
		return
	}
	vm.pc = end + 1
}

func opCl(vm *VM, tok loader.Token) {
	if vm.limits.CallDepthLimit > 0 && vm.callDepth >= vm.limits.CallDepthLimit {
		vm.trap(FaultCallDepthLimit)
		return
	}
	argc := 0
	if len(tok.Operands) > 1 {
		argc = int(tok.Operands[1])
	}
	args, ok := vm.popN(argc)
	if !ok {
		return
	}

	target, ok := vm.resolveByteOffset(tok.Operands[0])
	if !ok {
		vm.trap(FaultBadArg)
		return
	}
	if target+1 >= len(vm.prog.Tokens) || vm.prog.Tokens[target].Op != mtoken.OpFn || vm.prog.Tokens[target+1].Op != mtoken.OpB {
		vm.trap(FaultBadArg)
		return
	}

	var frame callFrame
	frame.savedLocals = vm.locals
	frame.returnTok = vm.pc
	vm.frames = append(vm.frames, frame)
	vm.callDepth++

	// §4.5: "pop argc values into locals[0..argc-1] (order: rightmost pop
	// goes to locals[0])" — args[len(args)-1] is the top of the stack (the
	// first value CL pops, i.e. the rightmost call argument), so it lands
	// in locals[0] and the bottom-of-stack (leftmost) argument lands last.
	vm.locals = [maxLocals]mtoken.Value{}
	for i := range args {
		if i >= maxLocals {
			break
		}
		vm.locals[i] = args[len(args)-1-i]
	}

	vm.pc = target + 2 // past FN and its opening B
}

func (vm *VM) resolveByteOffset(off int64) (int, bool) {
	if off < 0 || int(off) >= len(vm.prog.ByteToToken) {
		return 0, false
	}
	tok := vm.prog.ByteToToken[int(off)]
	if tok < 0 {
		return 0, false
	}
	return tok, true
}

func opRt(vm *VM, tok loader.Token) {
	retVal, ok := vm.pop()
	if !ok {
		return
	}
	if len(vm.frames) == 0 {
		vm.trap(FaultRetStackUnderflow)
		return
	}
	frame := vm.frames[len(vm.frames)-1]
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.locals = frame.savedLocals
	vm.callDepth--
	if !vm.push(retVal) {
		return
	}
	vm.pc = frame.returnTok
}

func opIow(vm *VM, tok loader.Token) {
	dev := int(tok.Operands[0])
	if !vm.caps.has(dev) {
		vm.trap(FaultUnauthorized)
		return
	}
	v, ok := vm.pop()
	if !ok {
		return
	}
	if vm.cb.IOWrite != nil {
		vm.cb.IOWrite(uint8(dev), v)
	}
}

func opIor(vm *VM, tok loader.Token) {
	dev := int(tok.Operands[0])
	if !vm.caps.has(dev) {
		vm.trap(FaultUnauthorized)
		return
	}
	var v mtoken.Value
	if vm.cb.IORead != nil {
		v = vm.cb.IORead(uint8(dev))
	}
	vm.push(v)
}

func opGtway(vm *VM, tok loader.Token) {
	id := tok.Operands[0]
	if id > 255 {
		vm.trap(FaultBadArg)
		return
	}
	vm.caps.set(int(id))
}

func opWait(vm *VM, tok loader.Token) {
	if vm.cb.Sleep != nil {
		vm.cb.Sleep(int32(tok.Operands[0]))
	}
}

// opTrace must not alter any other VM state (§4.5): it reads, never
// writes, vm's fields.
func opTrace(vm *VM, tok loader.Token) {
	if vm.cb.Trace == nil {
		return
	}
	var top mtoken.Value
	if len(vm.stack) > 0 {
		top = vm.stack[len(vm.stack)-1]
	}
	msg := fmtTrace(vm.lastPC, vm.prog.Tokens[vm.lastOpIndex].Op.Name(), len(vm.stack), top)
	vm.cb.Trace(uint32(tok.Operands[0]), msg)
}

func opGc(vm *VM, tok loader.Token) { vm.gc() }

func opBp(vm *VM, tok loader.Token) {
	vm.SetBreakpoint(vm.pc, tok.Operands[0])
}

func opStep(vm *VM, tok loader.Token) { vm.singleStepLatch = true }
