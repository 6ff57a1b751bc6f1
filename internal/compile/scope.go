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

package compile

import (
	"github.com/fble-lang/fblevm/internal/tc"
	"github.com/fble-lang/fblevm/internal/vm"
)

// scope tracks the De Bruijn stack of local variables and the frame's
// slot allocator for one function body being lowered, grounded on
// compile.c's Scope/Local pattern. Statics need no bookkeeping here:
// the Tc tree already names each FuncValue's captures explicitly (as
// VarIndex pairs resolved against the enclosing scope), so a callee's
// own Var{Source: Static} references are just positional lookups.
//
// Unlike compile.c's Locals, slots are never recycled once their
// binding goes out of scope: a fresh counter hands out slot indices
// monotonically. This costs a frame some unused slots for deeply
// nested lets, in exchange for a much simpler allocator; see
// DESIGN.md.
type scope struct {
	vars      []int // De Bruijn stack of local slot indices; vars[len-1] is index 0
	code      *vm.Code
	nextLocal int
	pending   *vm.ProfileOp // profiling ops to attach to the next instruction emitted
}

func newScope(code *vm.Code, argc int) *scope {
	s := &scope{code: code, nextLocal: argc}
	s.vars = make([]int, argc)
	for i := 0; i < argc; i++ {
		s.vars[i] = i
	}
	return s
}

// alloc reserves a fresh local slot, growing the Code's frame shape.
func (s *scope) alloc() int {
	idx := s.nextLocal
	s.nextLocal++
	s.code.GrowLocals(s.nextLocal)
	return idx
}

// queueOp queues a profiling op to attach to whatever instruction is
// emitted next via emit, mirroring Scope.pending_profile_ops.
func (s *scope) queueOp(op *vm.ProfileOp) {
	op.Next = nil
	if s.pending == nil {
		s.pending = op
		return
	}
	last := s.pending
	for last.Next != nil {
		last = last.Next
	}
	last.Next = op
}

// emit appends instr to the code, attaching any profiling ops queued
// since the last emit.
func (s *scope) emit(instr vm.Instr) int {
	if s.pending != nil {
		instr.(interface{ SetOps(*vm.ProfileOp) }).SetOps(s.pending)
		s.pending = nil
	}
	return s.code.AddInstr(instr)
}

// localIndex resolves a De Bruijn-indexed local reference (index 0 is
// the innermost binding) to a frame slot.
func (s *scope) localIndex(deBruijn int) vm.FrameIndex {
	return vm.LocalIndex(s.vars[len(s.vars)-1-deBruijn])
}

// bind pushes idx as the new innermost (De Bruijn index 0) variable.
func (s *scope) bind(idx int) {
	s.vars = append(s.vars, idx)
}

// unbind pops the n most recently bound variables.
func (s *scope) unbind(n int) {
	s.vars = s.vars[:len(s.vars)-n]
}

// varIndex resolves a Tc VarIndex (local or static) against the
// current scope.
func varIndex(s *scope, vi tc.VarIndex) vm.FrameIndex {
	if vi.Source == tc.Static {
		return vm.StaticIndex(vi.Index)
	}
	return s.localIndex(vi.Index)
}
