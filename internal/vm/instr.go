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

import "github.com/fble-lang/fblevm/internal/profile"

// ProfileOpTag distinguishes the profiling operations the compiler
// attaches to instructions.
type ProfileOpTag int

const (
	ProfileEnter ProfileOpTag = iota
	ProfileReplace
	ProfileExit
	ProfileAutoExit
)

// ProfileOp is a singly-linked list of profiling operations to run
// immediately before the instruction they are attached to.
type ProfileOp struct {
	Tag   ProfileOpTag
	Block profile.BlockID
	Next  *ProfileOp
}

func runProfileOps(t *Thread, op *ProfileOp) {
	if t.Profile == nil {
		return
	}
	for ; op != nil; op = op.Next {
		switch op.Tag {
		case ProfileEnter:
			t.Profile.EnterBlock(op.Block)
		case ProfileReplace:
			t.Profile.ReplaceBlock(op.Block)
		case ProfileExit:
			t.Profile.ExitBlock()
		case ProfileAutoExit:
			t.Profile.AutoExitBlock()
		}
	}
}

// Instr is one bytecode instruction. Exec performs it against the
// given frame (always thread.Stack at call time) and reports how the
// Code.Run dispatch loop should proceed: Running means continue the
// loop (Exec has already advanced frame.pc as needed); any other
// status means hand control back to the driving trampoline.
type Instr interface {
	Ops() *ProfileOp
	Exec(heap *Heap, sched *Scheduler, thread *Thread, frame *Frame) RunStatus
}

type instrBase struct {
	ProfileOps *ProfileOp
}

func (b *instrBase) Ops() *ProfileOp { return b.ProfileOps }

// SetOps attaches op to this instruction, overwriting any ops queued
// by an earlier call. The compiler uses this (promoted through every
// concrete Instr type's embedded instrBase) to attach the profiling
// ops pending at the point each instruction is emitted, mirroring
// compile.c's Scope.pending_profile_ops.
func (b *instrBase) SetOps(op *ProfileOp) { b.ProfileOps = op }

// StructValueInstr -- dest <- Struct{fields: [Get(a) for a in Args]}
type StructValueInstr struct {
	instrBase
	Args []FrameIndex
	Dest int
}

func (in *StructValueInstr) Exec(heap *Heap, sched *Scheduler, thread *Thread, frame *Frame) RunStatus {
	fields := make([]*Value, len(in.Args))
	for i, a := range in.Args {
		fields[i] = frame.Get(a)
	}
	frame.Set(heap, in.Dest, heap.NewStruct(fields))
	frame.pc++
	return Running
}

// UnionValueInstr -- dest <- Union{Tag, arg: Get(Arg)}
type UnionValueInstr struct {
	instrBase
	Tag  int
	Arg  FrameIndex
	Dest int
}

func (in *UnionValueInstr) Exec(heap *Heap, sched *Scheduler, thread *Thread, frame *Frame) RunStatus {
	frame.Set(heap, in.Dest, heap.NewUnion(in.Tag, frame.Get(in.Arg)))
	frame.pc++
	return Running
}

// StructAccessInstr -- dest <- obj.fields[Tag]; fails if obj undefined.
type StructAccessInstr struct {
	instrBase
	Obj  FrameIndex
	Tag  int
	Dest int
	Loc  Loc
}

func (in *StructAccessInstr) Exec(heap *Heap, sched *Scheduler, thread *Thread, frame *Frame) RunStatus {
	obj, status := frame.StrictOrBlock(in.Obj)
	if status == Blocked {
		return Blocked
	}
	if status == Aborted {
		return abort(thread, errUndefinedAccess(in.Loc))
	}
	frame.Set(heap, in.Dest, obj.Fields()[in.Tag])
	frame.pc++
	return Running
}

// UnionAccessInstr -- dest <- obj.arg; fails if undefined or wrong tag.
type UnionAccessInstr struct {
	instrBase
	Obj  FrameIndex
	Tag  int
	Dest int
	Loc  Loc
}

func (in *UnionAccessInstr) Exec(heap *Heap, sched *Scheduler, thread *Thread, frame *Frame) RunStatus {
	obj, status := frame.StrictOrBlock(in.Obj)
	if status == Blocked {
		return Blocked
	}
	if status == Aborted {
		return abort(thread, errUndefinedAccess(in.Loc))
	}
	if obj.Tag() != in.Tag {
		return abort(thread, errWrongTag(in.Loc))
	}
	frame.Set(heap, in.Dest, obj.Arg())
	frame.pc++
	return Running
}

// UnionSelectInstr -- jumps to one of several branches by the
// condition's union tag.
type UnionSelectInstr struct {
	instrBase
	Condition FrameIndex
	Jumps     []int
	Loc       Loc
}

func (in *UnionSelectInstr) Exec(heap *Heap, sched *Scheduler, thread *Thread, frame *Frame) RunStatus {
	obj, status := frame.StrictOrBlock(in.Condition)
	if status == Blocked {
		return Blocked
	}
	if status == Aborted {
		return abort(thread, errUndefinedAccess(in.Loc))
	}
	frame.pc += 1 + in.Jumps[obj.Tag()]
	return Running
}

// JumpInstr -- pc <- pc + 1 + Count.
type JumpInstr struct {
	instrBase
	Count int
}

func (in *JumpInstr) Exec(heap *Heap, sched *Scheduler, thread *Thread, frame *Frame) RunStatus {
	frame.pc += 1 + in.Count
	return Running
}

// FuncValueInstr -- dest <- Func{Code.NumArgs(), Code, statics: [Get(s) for s in Scope]}
type FuncValueInstr struct {
	instrBase
	Code  Executable
	Scope []FrameIndex
	Dest  int
}

func (in *FuncValueInstr) Exec(heap *Heap, sched *Scheduler, thread *Thread, frame *Frame) RunStatus {
	statics := make([]*Value, len(in.Scope))
	for i, s := range in.Scope {
		statics[i] = frame.Get(s)
	}
	frame.Set(heap, in.Dest, heap.NewFunc(in.Code, statics))
	frame.pc++
	return Running
}

// CallInstr calls Func with Args. When Exit is true this is a tail
// call: the current frame is replaced in place instead of a new one
// being pushed, so evaluating the same recursive function N times
// does not grow the frame chain.
type CallInstr struct {
	instrBase
	Func FrameIndex
	Args []FrameIndex
	Dest int
	Exit bool
	Loc  Loc
}

func (in *CallInstr) Exec(heap *Heap, sched *Scheduler, thread *Thread, frame *Frame) RunStatus {
	fn, status := frame.StrictOrBlock(in.Func)
	if status == Blocked {
		return Blocked
	}
	if status == Aborted {
		return abort(thread, errUndefinedCall(in.Loc))
	}
	if fn.Kind() != KindFunc {
		return abort(thread, errUndefinedCall(in.Loc))
	}
	args := make([]*Value, len(in.Args))
	for i, a := range in.Args {
		args[i] = frame.Get(a)
	}
	if in.Exit {
		thread.TailCall(heap, fn, args)
		return Finished
	}
	frame.pc++
	dest := &frame.locals[in.Dest]
	thread.Call(heap, fn, args, dest)
	return Finished
}

// LinkInstr allocates a fresh Link value and wraps it in Get/Put
// function values written to the Get/Put local slots.
type LinkInstr struct {
	instrBase
	Get, Put int
}

func (in *LinkInstr) Exec(heap *Heap, sched *Scheduler, thread *Thread, frame *Frame) RunStatus {
	_, get, put := heap.NewLink()
	frame.Set(heap, in.Get, get)
	frame.Set(heap, in.Put, put)
	frame.pc++
	return Running
}

// ForkInstr spawns one child thread per Arg (each must strictly
// reduce to a zero-argument function), writing a placeholder Thunk
// into each corresponding Dests slot and handing the scheduler the
// spawned children. The parent always yields immediately afterward so
// every child gets at least one scheduling opportunity before the
// parent proceeds. ForkInstr itself does not join: the compiler always
// follows it with a JoinInstr over the same Dests, which is where the
// parent actually blocks until every child's Return has overwritten
// its Thunk (see bindExec, JoinInstr, Thread.Return) — there is no
// separate join counter to maintain.
type ForkInstr struct {
	instrBase
	Args  []FrameIndex
	Dests []int
	Loc   Loc
}

func (in *ForkInstr) Exec(heap *Heap, sched *Scheduler, thread *Thread, frame *Frame) RunStatus {
	// Resolve every Arg before spawning anything: this instruction
	// retries from the top on Blocked (frame.pc is untouched below),
	// and spawning is not idempotent, so a partial spawn followed by a
	// retry would double-spawn the Args already resolved on the first
	// pass.
	procs := make([]*Value, len(in.Args))
	for i, a := range in.Args {
		proc, status := frame.StrictOrBlock(a)
		if status == Blocked {
			return Blocked
		}
		if status == Aborted {
			return abort(thread, errUndefinedCall(in.Loc))
		}
		if proc.Kind() != KindFunc || proc.FuncArgc() != 0 {
			return abort(thread, errNotAProc(in.Loc))
		}
		procs[i] = proc
	}
	for i, proc := range procs {
		thunk := heap.NewThunk()
		frame.Set(heap, in.Dests[i], thunk)

		child := &Thread{Profile: thread.Profile}
		dest := &frame.locals[in.Dests[i]]
		child.Call(heap, proc, nil, dest)
		sched.spawn(child)
	}
	frame.pc++
	return Yielded
}

// JoinInstr blocks the parent until every one of Targets has stopped
// being a Thunk, implementing the Exec/Fork join (§5): a forked
// child's result is written straight into its Dests slot by its own
// Return (see ForkInstr, Thread.Return), so joining is just waiting
// for each of those slots to stop holding the placeholder Thunk that
// ForkInstr put there. The compiler always emits this immediately
// after the ForkInstr that produced the same Targets, so by the time
// an Exec's body runs, every bound name already names a real value —
// never a raw Thunk smuggled through a struct or union field.
type JoinInstr struct {
	instrBase
	Targets []int
}

func (in *JoinInstr) Exec(heap *Heap, sched *Scheduler, thread *Thread, frame *Frame) RunStatus {
	for _, idx := range in.Targets {
		if v := frame.locals[idx]; v != nil && v.kind == KindThunk {
			return Blocked
		}
	}
	frame.pc++
	return Running
}

// CopyInstr -- dest <- Get(Src).
type CopyInstr struct {
	instrBase
	Src  FrameIndex
	Dest int
}

func (in *CopyInstr) Exec(heap *Heap, sched *Scheduler, thread *Thread, frame *Frame) RunStatus {
	frame.Set(heap, in.Dest, frame.Get(in.Src))
	frame.pc++
	return Running
}

// RefValueInstr -- dest <- Ref{untied}.
type RefValueInstr struct {
	instrBase
	Dest int
}

func (in *RefValueInstr) Exec(heap *Heap, sched *Scheduler, thread *Thread, frame *Frame) RunStatus {
	frame.Set(heap, in.Dest, heap.NewRef())
	frame.pc++
	return Running
}

// RefDefInstr ties Ref to Value, completing a recursive-let binding.
// It aborts with a vacuous-value error if Value's Ref chain closes
// back on Ref without passing through a concrete constructor.
type RefDefInstr struct {
	instrBase
	Ref   int
	Value FrameIndex
	Loc   Loc
}

func (in *RefDefInstr) Exec(heap *Heap, sched *Scheduler, thread *Thread, frame *Frame) RunStatus {
	ref := frame.locals[in.Ref]
	val := frame.Get(in.Value)
	if err := heap.TieRef(ref, val); err != nil {
		return abort(thread, locatedError(in.Loc, err.Error()))
	}
	frame.pc++
	return Running
}

// ReturnInstr pops the current frame, writing Result to the caller
// (or the thread's own Result, at the bottom frame).
type ReturnInstr struct {
	instrBase
	Result FrameIndex
}

func (in *ReturnInstr) Exec(heap *Heap, sched *Scheduler, thread *Thread, frame *Frame) RunStatus {
	thread.Return(heap, frame.Get(in.Result))
	return Finished
}

// TypeInstr -- dest <- Type.
type TypeInstr struct {
	instrBase
	Dest int
}

func (in *TypeInstr) Exec(heap *Heap, sched *Scheduler, thread *Thread, frame *Frame) RunStatus {
	frame.Set(heap, in.Dest, heap.NewType())
	frame.pc++
	return Running
}

// ReleaseInstr empties Target's local slot.
type ReleaseInstr struct {
	instrBase
	Target int
}

func (in *ReleaseInstr) Exec(heap *Heap, sched *Scheduler, thread *Thread, frame *Frame) RunStatus {
	frame.Release(heap, in.Target)
	frame.pc++
	return Running
}
