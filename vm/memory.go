// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vm

import "github.com/m-token/mvm/mtoken"

const maxAllocSize = 1_000_000

// opaqueBuf is the heap record an OpaqueRef points to: a raw byte buffer
// with no nested references, allocated by ALLOC and freed by FREE or GC
// (§4.6).
type opaqueBuf struct {
	id     int64
	data   []byte
	marked bool
}

// heap is the VM's allocation list (§4.6): every array and ALLOC buffer
// created during a run is linked here until freed explicitly or collected.
// Grounded on exec/memory.go's linear-memory-as-VM-owned-resource idea,
// generalized from one flat byte slice to a set of array and buffer
// allocations, reclaimed by FREE or by the mark-sweep collector (M-Token
// has no linear memory, only heap refs).
type heap struct {
	arrays map[int64]*mtoken.Array
	bufs   map[int64]*opaqueBuf
	nextID int64
}

func newHeap() *heap {
	return &heap{
		arrays: make(map[int64]*mtoken.Array),
		bufs:   make(map[int64]*opaqueBuf),
	}
}

func (h *heap) allocID() int64 {
	h.nextID++
	return h.nextID
}

// newArr allocates an array of size elements (each initialized to Int 0),
// per NEWARR's contract (§4.5).
func (vm *VM) newArr(size int64) (mtoken.Value, bool) {
	if size < 0 || size > maxAllocSize {
		vm.trap(FaultOutOfMemory)
		return mtoken.Value{}, false
	}
	id := vm.heap.allocID()
	arr := &mtoken.Array{ID: id, Elements: make([]mtoken.Value, size)}
	vm.heap.arrays[id] = arr
	return mtoken.ArrayRefValue(id), true
}

func (vm *VM) array(ref mtoken.Value) (*mtoken.Array, bool) {
	if ref.Kind != mtoken.KindArrayRef {
		vm.trap(FaultTypeMismatch)
		return nil, false
	}
	arr, ok := vm.heap.arrays[ref.I]
	if !ok {
		vm.trap(FaultTypeMismatch)
		return nil, false
	}
	return arr, true
}

// allocBuf allocates an opaque size-byte buffer, per ALLOC's contract.
func (vm *VM) allocBuf(size int64) (mtoken.Value, bool) {
	if size < 1 || size > maxAllocSize {
		vm.trap(FaultOutOfMemory)
		return mtoken.Value{}, false
	}
	id := vm.heap.allocID()
	vm.heap.bufs[id] = &opaqueBuf{id: id, data: make([]byte, size)}
	return mtoken.OpaqueRefValue(id), true
}

// freeBuf removes ref from the allocation list, per FREE's contract.
func (vm *VM) freeBuf(ref mtoken.Value) bool {
	if ref.Kind != mtoken.KindOpaqueRef {
		vm.trap(FaultTypeMismatch)
		return false
	}
	if _, ok := vm.heap.bufs[ref.I]; !ok {
		vm.trap(FaultTypeMismatch)
		return false
	}
	delete(vm.heap.bufs, ref.I)
	return true
}

// gc runs mark-sweep collection over the allocation list (§4.6). Roots are
// the data stack, locals, every saved caller frame's locals, and globals;
// from each root the collector follows ArrayRef edges — including nested
// element Values, recursively, with the marked flag breaking cycles — and
// frees every unmarked allocation (array or ALLOC buffer).
func (vm *VM) gc() {
	for _, a := range vm.heap.arrays {
		a.SetMarked(false)
	}
	for _, b := range vm.heap.bufs {
		b.marked = false
	}

	mark := func(v mtoken.Value) {}
	mark = func(v mtoken.Value) {
		switch v.Kind {
		case mtoken.KindArrayRef:
			arr, ok := vm.heap.arrays[v.I]
			if !ok || arr.Marked() {
				return
			}
			arr.SetMarked(true)
			for _, elem := range arr.Elements {
				mark(elem)
			}
		case mtoken.KindOpaqueRef:
			if b, ok := vm.heap.bufs[v.I]; ok {
				b.marked = true
			}
		}
	}

	for _, v := range vm.stack {
		mark(v)
	}
	for _, v := range vm.locals {
		mark(v)
	}
	for _, f := range vm.frames {
		for _, v := range f.savedLocals {
			mark(v)
		}
	}
	for _, v := range vm.globals {
		mark(v)
	}

	for id, a := range vm.heap.arrays {
		if !a.Marked() {
			delete(vm.heap.arrays, id)
		}
	}
	for id, b := range vm.heap.bufs {
		if !b.marked {
			delete(vm.heap.bufs, id)
		}
	}
}

// liveAllocCount reports the allocation list's current size. Nothing in
// the interpreter triggers a collection from it; GC runs only on the GC
// opcode.
func (vm *VM) liveAllocCount() int {
	return len(vm.heap.arrays) + len(vm.heap.bufs)
}
