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

// Package tc defines the type-checked intermediate tree the (external)
// type checker hands to the compiler: variables carry De Bruijn
// indices, types are erased, and processes are zero-argument
// functions. The core owns each Tc tree by unique reference; Go's
// garbage collector reclaims it once the compiler is done walking it,
// so there is no explicit Free (see DESIGN.md for this Open Question).
package tc

import "github.com/fble-lang/fblevm/internal/ident"

// VarSource distinguishes a De Bruijn variable bound by an enclosing
// local binder (Let, Exec, FuncValue argument, Link) from one captured
// in the enclosing function's static scope.
type VarSource int

const (
	Local VarSource = iota
	Static
)

// VarIndex is a De Bruijn index: {source, index}. Local index 0 is the
// innermost-bound variable; Static indices refer to the enclosing
// function's captured scope, per FuncValue.Scope's declared order.
type VarIndex struct {
	Source VarSource
	Index  int
}

// Node is the common type of every Tc case. Each concrete case below
// implements it as a marker; the compiler type-switches on the
// concrete type (see internal/compile).
type Node interface {
	isTcNode()
}

// TypeValue is a zero-information witness that types exist at runtime.
type TypeValue struct{}

func (*TypeValue) isTcNode() {}

// Var references a De Bruijn-indexed binder.
type Var struct {
	Index VarIndex
}

func (*Var) isTcNode() {}

// Binding is one arm of a Let: a bound variable, its profile wrapper
// name/location, and its right-hand side.
type Binding struct {
	VarName     ident.Name
	ProfileName ident.Name
	ProfileLoc  ident.Loc
	Value       Node
}

// Let binds Bindings (mutually recursively if Recursive, else
// sequentially in scope) and then evaluates Body.
type Let struct {
	Recursive bool
	Bindings  []Binding
	Body      Node
}

func (*Let) isTcNode() {}

// StructValue constructs a struct from Fields, in order.
type StructValue struct {
	Fields []Node
}

func (*StructValue) isTcNode() {}

// UnionValue tags Arg with Tag.
type UnionValue struct {
	Tag int
	Arg Node
}

func (*UnionValue) isTcNode() {}

// Choice is one arm of a UnionSelect: its profile wrapper name/
// location and the expression to run when the condition's tag
// matches this arm's position. Multiple Choices may share the same
// Node pointer (default branches); the compiler deduplicates on that
// pointer identity (see internal/compile's UnionSelect lowering).
type Choice struct {
	ProfileName ident.Name
	ProfileLoc  ident.Loc
	Value       Node
}

// UnionSelect evaluates Condition (a union) and runs the Choice at its
// tag. len(Choices) must equal the arity of Condition's union type.
type UnionSelect struct {
	Condition Node
	Loc       ident.Loc
	Choices   []Choice
}

func (*UnionSelect) isTcNode() {}

// Datatype distinguishes which kind of DataAccess is being performed.
type Datatype int

const (
	StructData Datatype = iota
	UnionData
)

// DataAccess reads field/arg number Tag out of Obj.
type DataAccess struct {
	Datatype Datatype
	Obj      Node
	Tag      int
	Loc      ident.Loc
}

func (*DataAccess) isTcNode() {}

// FuncValue is a function literal: Scope lists the outer De Bruijn
// variables captured, in the order they become statics 0..n-1 of the
// resulting Func value; Argc is the declared argument count; Body is
// compiled with Argc initial locals plus len(Scope) statics in scope.
type FuncValue struct {
	BodyLoc ident.Loc
	Scope   []VarIndex
	Argc    int
	Body    Node
}

func (*FuncValue) isTcNode() {}

// FuncApply calls Func with Args.
type FuncApply struct {
	Func Node
	Args []Node
	Loc  ident.Loc
}

func (*FuncApply) isTcNode() {}

// Link binds two fresh port variables in Body, innermost-first: the
// get port (De Bruijn index 0) and the put port (index 1).
type Link struct {
	GetName ident.Name
	PutName ident.Name
	Loc     ident.Loc
	Body    Node
}

func (*Link) isTcNode() {}

// ExecBinding is one parallel sub-process started by Exec.
type ExecBinding struct {
	ProfileName ident.Name
	ProfileLoc  ident.Loc
	Value       Node
}

// Exec runs Bindings as parallel sub-processes, binds their results as
// locals (in order), then evaluates Body.
type Exec struct {
	Bindings []ExecBinding
	Loc      ident.Loc
	Body     Node
}

func (*Exec) isTcNode() {}

// Profile wraps Body in a profiling block named Name.
type Profile struct {
	Name ident.Name
	Loc  ident.Loc
	Body Node
}

func (*Profile) isTcNode() {}
