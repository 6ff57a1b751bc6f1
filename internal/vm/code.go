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

import (
	"fmt"
	"sync/atomic"

	"github.com/fble-lang/fblevm/internal/profile"
)

// Code is the bytecode interpreter's Executable: a function compiled
// to a linear instruction stream over an explicit frame of statics
// and locals. It is the only Executable implementation the compiler
// emits; nativeFunc (link/port get/put) is the only other one, used
// purely for host-facing procs.
type Code struct {
	args, statics, locals int
	instrs                []Instr

	// ProfileBlockID names this function's own profiling block, for an
	// external report tool; BlockNames is the module-wide block table
	// this id (and every id referenced from ProfileOps in instrs)
	// indexes into.
	ProfileBlockID profile.BlockID
	BlockNames     []profile.Block

	refs int32
}

// NewCode constructs a Code with a fixed frame shape. Instrs is set
// separately (via AddInstr) since the compiler builds it up
// incrementally while resolving forward jumps.
func NewCode(args, statics, locals int) *Code {
	if locals < args {
		panic("vm: Code.locals must be >= args")
	}
	return &Code{args: args, statics: statics, locals: locals, refs: 1}
}

func (c *Code) NumArgs() int    { return c.args }
func (c *Code) NumStatics() int { return c.statics }
func (c *Code) NumLocals() int  { return c.locals }

// AddInstr appends an instruction, returning its index (the compiler
// uses this to patch forward jumps once a branch target is known).
func (c *Code) AddInstr(in Instr) int {
	c.instrs = append(c.instrs, in)
	return len(c.instrs) - 1
}

// Len returns the number of instructions emitted so far.
func (c *Code) Len() int { return len(c.instrs) }

// GrowLocals ensures the frame has at least n local slots, growing
// NumLocals as the compiler allocates fresh slots while lowering a Tc
// tree (see internal/compile).
func (c *Code) GrowLocals(n int) {
	if n > c.locals {
		c.locals = n
	}
}

// Instr returns the instruction at index i for patching (e.g. a Jump's
// Count, once the compiler learns where the branch lands).
func (c *Code) Instr(i int) Instr { return c.instrs[i] }

// Retain/Release implement Executable's sharing contract: several
// FuncValue instructions (closures created at different call sites
// over one compiled function literal) may reference the same Code.
func (c *Code) Retain()  { atomic.AddInt32(&c.refs, 1) }
func (c *Code) Release() { atomic.AddInt32(&c.refs, -1) }

const defaultTimeSlice = 1024

// Run dispatches instructions of frame := thread.Stack (the frame this
// Code was asked to run) until it must suspend: a time slice expires,
// a Get/Put blocks, a Call/Return hands control to a different frame,
// or an instruction aborts. See Scheduler.driveThread for how the
// handoff on Finished is resolved.
func (c *Code) Run(heap *Heap, sched *Scheduler, thread *Thread) RunStatus {
	frame := thread.Stack
	slice := sched.timeSlice
	if slice <= 0 {
		slice = defaultTimeSlice
	}
	for n := 0; n < slice; n++ {
		instr := c.instrs[frame.pc]
		runProfileOps(thread, instr.Ops())
		status := instr.Exec(heap, sched, thread, frame)
		if status != Running {
			return status
		}
	}
	if thread.Profile != nil {
		thread.Profile.Sample()
	}
	return Yielded
}

// Disassemble renders c's instruction stream as text, for debugging
// and golden-file tests. It is never consulted by Run.
func (c *Code) Disassemble() string {
	s := fmt.Sprintf("code(args=%d statics=%d locals=%d):\n", c.args, c.statics, c.locals)
	for i, in := range c.instrs {
		s += fmt.Sprintf("  %4d: %s\n", i, disasmOne(in))
	}
	return s
}

func disasmOne(in Instr) string {
	switch x := in.(type) {
	case *StructValueInstr:
		return fmt.Sprintf("StructValue args=%v -> L%d", x.Args, x.Dest)
	case *UnionValueInstr:
		return fmt.Sprintf("UnionValue tag=%d arg=%v -> L%d", x.Tag, x.Arg, x.Dest)
	case *StructAccessInstr:
		return fmt.Sprintf("StructAccess obj=%v tag=%d -> L%d", x.Obj, x.Tag, x.Dest)
	case *UnionAccessInstr:
		return fmt.Sprintf("UnionAccess obj=%v tag=%d -> L%d", x.Obj, x.Tag, x.Dest)
	case *UnionSelectInstr:
		return fmt.Sprintf("UnionSelect cond=%v jumps=%v", x.Condition, x.Jumps)
	case *JumpInstr:
		return fmt.Sprintf("Jump +%d", x.Count)
	case *FuncValueInstr:
		return fmt.Sprintf("FuncValue scope=%v -> L%d", x.Scope, x.Dest)
	case *CallInstr:
		return fmt.Sprintf("Call func=%v args=%v exit=%v -> L%d", x.Func, x.Args, x.Exit, x.Dest)
	case *LinkInstr:
		return fmt.Sprintf("Link get=L%d put=L%d", x.Get, x.Put)
	case *ForkInstr:
		return fmt.Sprintf("Fork args=%v dests=%v", x.Args, x.Dests)
	case *JoinInstr:
		return fmt.Sprintf("Join targets=%v", x.Targets)
	case *CopyInstr:
		return fmt.Sprintf("Copy src=%v -> L%d", x.Src, x.Dest)
	case *RefValueInstr:
		return fmt.Sprintf("RefValue -> L%d", x.Dest)
	case *RefDefInstr:
		return fmt.Sprintf("RefDef L%d <- %v", x.Ref, x.Value)
	case *ReturnInstr:
		return fmt.Sprintf("Return %v", x.Result)
	case *TypeInstr:
		return fmt.Sprintf("Type -> L%d", x.Dest)
	case *ReleaseInstr:
		return fmt.Sprintf("Release L%d", x.Target)
	default:
		return fmt.Sprintf("<%T>", in)
	}
}
