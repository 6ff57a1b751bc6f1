// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package vm

// Value is a heap-allocated, tagged-union runtime value. Only the
// fields relevant to v.kind are meaningful; the rest are zero. Values
// are immutable after construction except for Ref (tied exactly once
// by RefDef) and a Thunk's owning frame slot (overwritten in place by
// the forked child's Thread.Return once its result is available).
type Value struct {
	kind Kind
	id   int // index into the owning heap's cell table; for diagnostics only

	// Struct
	fields []*Value

	// Union
	tag int
	arg *Value

	// Func
	argc    int
	code    Executable
	statics []*Value

	// Link
	link *linkQueue

	// Port
	port *Port

	// Ref
	refTo  *Value
	refSet bool

	strong int32 // retain count; >0 means this value is a GC root
	marked bool  // scratch bit used by FullGC
	freed  bool  // diagnostic: true once on_free has run
}

// Kind reports the tagged case of v.
func (v *Value) Kind() Kind { return v.kind }

// Fields returns the immutable field vector of a Struct value.
func (v *Value) Fields() []*Value {
	mustKind(v, KindStruct)
	return v.fields
}

// Tag returns the discriminant of a Union value.
func (v *Value) Tag() int {
	mustKind(v, KindUnion)
	return v.tag
}

// Arg returns the payload of a Union value.
func (v *Value) Arg() *Value {
	mustKind(v, KindUnion)
	return v.arg
}

// FuncArgc returns the declared argument count of a Func value.
func (v *Value) FuncArgc() int {
	mustKind(v, KindFunc)
	return v.argc
}

// FuncExecutable returns the compiled body backing a Func value.
func (v *Value) FuncExecutable() Executable {
	mustKind(v, KindFunc)
	return v.code
}

// FuncStatics returns the captured values closed over by a Func value.
func (v *Value) FuncStatics() []*Value {
	mustKind(v, KindFunc)
	return v.statics
}

// RefTarget returns the value a Ref has been tied to, and whether it
// has been tied at all (RefDef runs exactly once per Ref).
func (v *Value) RefTarget() (*Value, bool) {
	mustKind(v, KindRef)
	return v.refTo, v.refSet
}

func mustKind(v *Value, k Kind) {
	if v == nil {
		panic("vm: nil value")
	}
	if v.kind != k {
		panic("vm: value kind mismatch: want " + k.String() + " got " + v.kind.String())
	}
}

// refChainClosesOn reports whether following Ref hops starting at v
// ever reaches target without passing through a non-Ref value first;
// this is the "vacuous value" check RefDef performs: a recursive
// binding whose right-hand side reduces through Refs back to its own
// cell without ever constructing something concrete.
func refChainClosesOn(v, target *Value) bool {
	for v != nil && v.kind == KindRef {
		if v == target {
			return true
		}
		if !v.refSet {
			return false
		}
		v = v.refTo
	}
	return false
}
