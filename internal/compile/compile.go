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

// Package compile lowers a type-checked Tc tree (internal/tc) into the
// bytecode the interpreter runs (internal/vm.Code), per spec.md §4.3's
// compilation rules. Grounded on original_source/fble/src/compile.c's
// Scope/Instr-emission structure; see DESIGN.md for where this
// implementation simplifies compile.c's local-slot reuse and
// tail-profiling optimizations in exchange for a smaller compiler.
package compile

import (
	"fmt"

	"github.com/fble-lang/fblevm/internal/profile"
	"github.com/fble-lang/fblevm/internal/tc"
	"github.com/fble-lang/fblevm/internal/vm"
)

// Compiler lowers Tc trees into vm.Code, allocating one profiling
// block per FuncValue/Profile/Let-binding/Exec-binding/UnionSelect-
// choice it compiles, same as fble's own compiler.
type Compiler struct {
	prof  *profile.Profile
	codes []*vm.Code
}

// New returns a Compiler that records profiling blocks into p. A nil
// p disables profiling entirely (every AddBlock call becomes a no-op).
func New(p *profile.Profile) *Compiler {
	return &Compiler{prof: p}
}

// CompileModule compiles a module's zero-argument process body into a
// standalone Code, named blockName for profiling reports.
func (c *Compiler) CompileModule(body tc.Node, blockName string) *vm.Code {
	return c.Function(body, 0, 0, blockName)
}

// Function compiles one function body (a module's top-level process,
// or a FuncValue's Body) into a standalone *vm.Code with argc
// arguments and nstatics captured statics.
func (c *Compiler) Function(body tc.Node, argc, nstatics int, blockName string) *vm.Code {
	code := vm.NewCode(argc, nstatics, argc)
	code.ProfileBlockID = c.prof.AddBlock(blockName)
	s := newScope(code, argc)
	c.compileTail(s, code, body)
	c.codes = append(c.codes, code)
	return code
}

// Finish stamps every Code compiled so far with the final profiling
// block table. Block ids keep growing as nested FuncValue/Profile/Let/
// Exec/UnionSelect nodes are discovered depth-first, so the table can
// only be considered final once compilation has finished.
func (c *Compiler) Finish() []*vm.Code {
	names := c.prof.BlockTable()
	for _, cd := range c.codes {
		cd.BlockNames = names
	}
	return c.codes
}

// expr compiles node in non-tail position, returning the frame index
// holding its result.
func (c *Compiler) expr(s *scope, code *vm.Code, node tc.Node) vm.FrameIndex {
	switch n := node.(type) {
	case *tc.TypeValue:
		dest := s.alloc()
		s.emit(&vm.TypeInstr{Dest: dest})
		return vm.LocalIndex(dest)

	case *tc.Var:
		return varIndex(s, n.Index)

	case *tc.Let:
		c.bindLet(s, code, n)
		result := c.expr(s, code, n.Body)
		s.unbind(len(n.Bindings))
		return result

	case *tc.StructValue:
		args := make([]vm.FrameIndex, len(n.Fields))
		for i, f := range n.Fields {
			args[i] = c.expr(s, code, f)
		}
		dest := s.alloc()
		s.emit(&vm.StructValueInstr{Args: args, Dest: dest})
		return vm.LocalIndex(dest)

	case *tc.UnionValue:
		arg := c.expr(s, code, n.Arg)
		dest := s.alloc()
		s.emit(&vm.UnionValueInstr{Tag: n.Tag, Arg: arg, Dest: dest})
		return vm.LocalIndex(dest)

	case *tc.UnionSelect:
		return c.compileUnionSelect(s, code, n)

	case *tc.DataAccess:
		obj := c.expr(s, code, n.Obj)
		dest := s.alloc()
		switch n.Datatype {
		case tc.StructData:
			s.emit(&vm.StructAccessInstr{Obj: obj, Tag: n.Tag, Dest: dest, Loc: n.Loc})
		case tc.UnionData:
			s.emit(&vm.UnionAccessInstr{Obj: obj, Tag: n.Tag, Dest: dest, Loc: n.Loc})
		}
		return vm.LocalIndex(dest)

	case *tc.FuncValue:
		return c.compileFuncValue(s, code, n)

	case *tc.FuncApply:
		fn := c.expr(s, code, n.Func)
		args := make([]vm.FrameIndex, len(n.Args))
		for i, a := range n.Args {
			args[i] = c.expr(s, code, a)
		}
		dest := s.alloc()
		s.emit(&vm.CallInstr{Func: fn, Args: args, Dest: dest, Loc: n.Loc})
		return vm.LocalIndex(dest)

	case *tc.Link:
		get, put := s.alloc(), s.alloc()
		s.emit(&vm.LinkInstr{Get: get, Put: put})
		s.bind(put)
		s.bind(get)
		result := c.expr(s, code, n.Body)
		s.unbind(2)
		return result

	case *tc.Exec:
		c.bindExec(s, code, n)
		result := c.expr(s, code, n.Body)
		s.unbind(len(n.Bindings))
		return result

	case *tc.Profile:
		return c.compileProfile(s, code, n)

	default:
		panic(fmt.Sprintf("compile: unhandled tc node %T", node))
	}
}

// compileTail compiles node in tail position: a FuncApply or
// UnionSelect in this position lowers to a frame-replacing tail Call
// or a branching Jump table whose branches are themselves compiled in
// tail position, so a recursive function's call chain never grows the
// interpreter's frame stack (spec.md §4.3, the tail-call guarantee).
// Any other node falls back to expr plus an explicit Return.
func (c *Compiler) compileTail(s *scope, code *vm.Code, node tc.Node) {
	switch n := node.(type) {
	case *tc.FuncApply:
		fn := c.expr(s, code, n.Func)
		args := make([]vm.FrameIndex, len(n.Args))
		for i, a := range n.Args {
			args[i] = c.expr(s, code, a)
		}
		s.queueOp(&vm.ProfileOp{Tag: vm.ProfileAutoExit})
		s.emit(&vm.CallInstr{Func: fn, Args: args, Exit: true, Loc: n.Loc})

	case *tc.UnionSelect:
		c.compileUnionSelectTail(s, code, n)

	case *tc.Let:
		c.bindLet(s, code, n)
		c.compileTail(s, code, n.Body)
		s.unbind(len(n.Bindings))

	case *tc.Exec:
		c.bindExec(s, code, n)
		c.compileTail(s, code, n.Body)
		s.unbind(len(n.Bindings))

	case *tc.Link:
		get, put := s.alloc(), s.alloc()
		s.emit(&vm.LinkInstr{Get: get, Put: put})
		s.bind(put)
		s.bind(get)
		c.compileTail(s, code, n.Body)
		s.unbind(2)

	default:
		result := c.expr(s, code, node)
		s.emit(&vm.ReturnInstr{Result: result})
	}
}

// bindLet compiles a Let's bindings, left to right, and binds them as
// new innermost locals in declaration order. A Recursive let first
// allocates an untied Ref per binding (so mutually recursive right-
// hand sides can refer to each other), then ties each one in turn.
func (c *Compiler) bindLet(s *scope, code *vm.Code, n *tc.Let) {
	if n.Recursive {
		refs := make([]int, len(n.Bindings))
		for i := range n.Bindings {
			refDest := s.alloc()
			s.emit(&vm.RefValueInstr{Dest: refDest})
			refs[i] = refDest
			s.bind(refDest)
		}
		for i, b := range n.Bindings {
			if b.ProfileName.Text != "" {
				s.queueOp(&vm.ProfileOp{Tag: vm.ProfileEnter, Block: c.prof.AddBlock(b.ProfileName.String())})
			}
			val := c.expr(s, code, b.Value)
			s.emit(&vm.RefDefInstr{Ref: refs[i], Value: val, Loc: b.ProfileLoc})
		}
		return
	}
	for _, b := range n.Bindings {
		if b.ProfileName.Text != "" {
			s.queueOp(&vm.ProfileOp{Tag: vm.ProfileEnter, Block: c.prof.AddBlock(b.ProfileName.String())})
		}
		val := c.expr(s, code, b.Value)
		dest := s.alloc()
		s.emit(&vm.CopyInstr{Src: val, Dest: dest})
		s.bind(dest)
	}
}

// bindExec compiles an Exec's bindings by evaluating each to a zero-
// argument proc and forking it, then blocks the parent until every
// fork has joined before binding the destinations (the results, now
// guaranteed real values rather than placeholder Thunks) as new
// innermost locals, in binding order. The JoinInstr is what actually
// enforces §5's "block on the thunks as ordinary ref reads": without
// it, the Exec's body could read a Dests slot before its child wrote
// it and either abort or capture the raw Thunk into a struct/union.
func (c *Compiler) bindExec(s *scope, code *vm.Code, n *tc.Exec) {
	procs := make([]vm.FrameIndex, len(n.Bindings))
	for i, b := range n.Bindings {
		if b.ProfileName.Text != "" {
			s.queueOp(&vm.ProfileOp{Tag: vm.ProfileEnter, Block: c.prof.AddBlock(b.ProfileName.String())})
		}
		procs[i] = c.expr(s, code, b.Value)
	}
	dests := make([]int, len(n.Bindings))
	for i := range n.Bindings {
		dests[i] = s.alloc()
	}
	s.emit(&vm.ForkInstr{Args: procs, Dests: dests, Loc: n.Loc})
	s.emit(&vm.JoinInstr{Targets: dests})
	for _, d := range dests {
		s.bind(d)
	}
}

// compileFuncValue resolves n.Scope (De Bruijn indices into the
// *current*, enclosing scope) to frame indices, compiles the body as
// its own standalone Code, and emits the closure construction.
func (c *Compiler) compileFuncValue(s *scope, code *vm.Code, n *tc.FuncValue) vm.FrameIndex {
	scopeIdx := make([]vm.FrameIndex, len(n.Scope))
	for i, vi := range n.Scope {
		scopeIdx[i] = varIndex(s, vi)
	}
	inner := c.Function(n.Body, n.Argc, len(n.Scope), "<func>")
	dest := s.alloc()
	s.emit(&vm.FuncValueInstr{Code: inner, Scope: scopeIdx, Dest: dest})
	return vm.LocalIndex(dest)
}

// compileProfile lowers a Profile node: queue an Enter op for the body's
// first instruction, compile the body, then carry its result through a
// Copy carrying the matching Exit op. A profiled expression is not
// tail-transparent: its body's own tail calls still grow one frame for
// the Profile wrapper (see DESIGN.md).
func (c *Compiler) compileProfile(s *scope, code *vm.Code, n *tc.Profile) vm.FrameIndex {
	id := c.prof.AddBlock(n.Name.String())
	s.queueOp(&vm.ProfileOp{Tag: vm.ProfileEnter, Block: id})
	val := c.expr(s, code, n.Body)
	dest := s.alloc()
	s.queueOp(&vm.ProfileOp{Tag: vm.ProfileExit, Block: id})
	s.emit(&vm.CopyInstr{Src: val, Dest: dest})
	return vm.LocalIndex(dest)
}

// compileUnionSelect lowers a non-tail UnionSelect: a jump table
// followed by each distinct choice's code (deduplicated by Value
// pointer identity, so two branches sharing one default expression
// compile to one block), each writing its result to a common dest and
// jumping past the remaining branches.
func (c *Compiler) compileUnionSelect(s *scope, code *vm.Code, n *tc.UnionSelect) vm.FrameIndex {
	cond := c.expr(s, code, n.Condition)
	selIdx := s.emit(&vm.UnionSelectInstr{Condition: cond, Loc: n.Loc})
	sel := code.Instr(selIdx).(*vm.UnionSelectInstr)

	dest := s.alloc()
	jumps := make([]int, len(n.Choices))
	seen := map[tc.Node]int{}
	var endJumps []int
	for i, ch := range n.Choices {
		if off, ok := seen[ch.Value]; ok {
			jumps[i] = off
			continue
		}
		off := code.Len() - selIdx - 1
		jumps[i] = off
		seen[ch.Value] = off
		if ch.ProfileName.Text != "" {
			s.queueOp(&vm.ProfileOp{Tag: vm.ProfileEnter, Block: c.prof.AddBlock(ch.ProfileName.String())})
		}
		v := c.expr(s, code, ch.Value)
		s.emit(&vm.CopyInstr{Src: v, Dest: dest})
		endJumps = append(endJumps, s.emit(&vm.JumpInstr{}))
	}
	end := code.Len()
	for _, jidx := range endJumps {
		code.Instr(jidx).(*vm.JumpInstr).Count = end - jidx - 1
	}
	sel.Jumps = jumps
	return vm.LocalIndex(dest)
}

// compileUnionSelectTail lowers a tail-position UnionSelect: each
// distinct choice is itself compiled in tail position, so e.g. a
// recursive function whose last action is a UnionSelect over its own
// calls never grows the frame stack.
func (c *Compiler) compileUnionSelectTail(s *scope, code *vm.Code, n *tc.UnionSelect) {
	cond := c.expr(s, code, n.Condition)
	s.queueOp(&vm.ProfileOp{Tag: vm.ProfileAutoExit})
	selIdx := s.emit(&vm.UnionSelectInstr{Condition: cond, Loc: n.Loc})
	sel := code.Instr(selIdx).(*vm.UnionSelectInstr)

	jumps := make([]int, len(n.Choices))
	seen := map[tc.Node]int{}
	for i, ch := range n.Choices {
		if off, ok := seen[ch.Value]; ok {
			jumps[i] = off
			continue
		}
		off := code.Len() - selIdx - 1
		jumps[i] = off
		seen[ch.Value] = off
		if ch.ProfileName.Text != "" {
			s.queueOp(&vm.ProfileOp{Tag: vm.ProfileEnter, Block: c.prof.AddBlock(ch.ProfileName.String())})
		}
		c.compileTail(s, code, ch.Value)
	}
	sel.Jumps = jumps
}
