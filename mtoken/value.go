// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mtoken

import "fmt"

// Kind tags the variant held by a Value (§3's tagged union over
// {Int, Float, Bool, ArrayRef, StringRef, OpaqueRef}).
type Kind uint8

const (
	KindInt Kind = iota
	KindFloat
	KindBool
	KindArrayRef
	KindStringRef
	KindOpaqueRef
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindArrayRef:
		return "array"
	case KindStringRef:
		return "string"
	case KindOpaqueRef:
		return "opaque"
	default:
		return "<unknown kind>"
	}
}

// Value is the tagged-union value M-Token programs push and pop. Int is the
// canonical numeric type; Float exists for I/O interop only. ArrayRef and
// OpaqueRef are reference handles into the VM's heap allocation list;
// duplicating a Value duplicates the reference, never the payload.
type Value struct {
	Kind Kind
	I    int64   // valid when Kind == KindInt, KindBool, or as a ref id for ArrayRef/OpaqueRef/StringRef
	F    float64 // valid when Kind == KindFloat
}

// IntValue constructs an Int value.
func IntValue(v int64) Value { return Value{Kind: KindInt, I: v} }

// BoolValue constructs a Bool value using the 0/non-zero convention (§3).
func BoolValue(b bool) Value {
	if b {
		return Value{Kind: KindBool, I: 1}
	}
	return Value{Kind: KindBool, I: 0}
}

// FloatValue constructs a Float value.
func FloatValue(v float64) Value { return Value{Kind: KindFloat, F: v} }

// ArrayRefValue constructs an ArrayRef pointing at the heap array with the
// given allocation id.
func ArrayRefValue(id int64) Value { return Value{Kind: KindArrayRef, I: id} }

// OpaqueRefValue constructs an OpaqueRef pointing at the heap buffer with
// the given allocation id.
func OpaqueRefValue(id int64) Value { return Value{Kind: KindOpaqueRef, I: id} }

// Truthy implements the 0=false/non-zero=true convention for conditionals.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindFloat:
		return v.F != 0
	default:
		return v.I != 0
	}
}

// AsInt returns the value's integer payload, coercing Bool/ArrayRef/
// OpaqueRef (whose payload is already an int64) and truncating Float.
func (v Value) AsInt() int64 {
	if v.Kind == KindFloat {
		return int64(v.F)
	}
	return v.I
}

func (v Value) String() string {
	switch v.Kind {
	case KindFloat:
		return fmt.Sprintf("%g", v.F)
	case KindBool:
		return fmt.Sprintf("%v", v.I != 0)
	case KindArrayRef:
		return fmt.Sprintf("array@%d", v.I)
	case KindStringRef:
		return fmt.Sprintf("string@%d", v.I)
	case KindOpaqueRef:
		return fmt.Sprintf("opaque@%d", v.I)
	default:
		return fmt.Sprintf("%d", v.I)
	}
}

// Array is the heap record an ArrayRef points to. Arrays use reference
// semantics: copying a Value that carries an ArrayRef copies the handle,
// not the Array itself.
type Array struct {
	ID       int64
	Elements []Value
	marked   bool // used transiently by the mark-sweep collector (§4.6)
}

// Len returns the array's current length.
func (a *Array) Len() int { return len(a.Elements) }

// Marked reports the collector's mark bit (§4.6); callers outside this
// package are the garbage collector itself, which needs to flip it per GC
// cycle without the heap bookkeeping living inside package mtoken.
func (a *Array) Marked() bool { return a.marked }

// SetMarked sets the collector's mark bit.
func (a *Array) SetMarked(v bool) { a.marked = v }
