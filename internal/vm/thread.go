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

// Frame is one in-progress call: the Func being executed, its program
// counter, its local slots, where its result goes, and the caller
// frame it will resume (nil at the bottom of a thread's stack). A
// forked child's result lands in its own dest slot the same way an
// ordinary call's does (via resultSlot); see ForkInstr and
// Frame.StrictOrBlock for how a reader blocks on that slot until the
// child writes it.
type Frame struct {
	funcVal    *Value
	pc         int
	locals     []*Value
	resultSlot **Value // where Return writes: a slot in the caller's locals, a fork parent's dest slot, or nil for a thread's root call
	tail       *Frame
}

// newFrame builds a frame for a call to fn(args...), retaining fn and
// each argument: a frame's funcVal and locals each hold exactly one
// strong reference for as long as the frame is live.
func newFrame(heap *Heap, fn *Value, args []*Value, resultSlot **Value, tail *Frame) *Frame {
	heap.Retain(fn)
	exec := fn.FuncExecutable()
	locals := make([]*Value, exec.NumLocals())
	for i, a := range args {
		heap.Retain(a)
		locals[i] = a
	}
	return &Frame{funcVal: fn, locals: locals, resultSlot: resultSlot, tail: tail}
}

// Thread is one cooperatively scheduled strand of execution: a call
// stack plus a profiling context. Only one Thread runs at a time; see
// Scheduler.
type Thread struct {
	Stack   *Frame
	Profile *profile.Thread

	result    *Value // set once the bottom frame returns with no resultSlot (a thread's root call)
	hasResult bool

	abortErr error // set by abort(); the scheduler surfaces it and drops this thread
}

// Call pushes a new frame for fn(args...) on top of thread's stack,
// with its result destined for dest: a pointer into the caller
// frame's locals slice, a fork parent's destination slot, or nil for
// a thread's initial (root) call.
func (t *Thread) Call(heap *Heap, fn *Value, args []*Value, dest **Value) {
	t.Stack = newFrame(heap, fn, args, dest, t.Stack)
}

// TailCall implements the spec's frame-replacement tail call: takes
// strong references to fn/args before dropping the current frame's
// locals, then overwrites funcVal/pc/locals in place. resultSlot and
// tail are unchanged, so this is safe even when fn was reachable only
// through the frame being replaced.
func (t *Thread) TailCall(heap *Heap, fn *Value, args []*Value) {
	heap.Retain(fn)
	for _, a := range args {
		heap.Retain(a)
	}
	old := t.Stack
	for _, l := range old.locals {
		heap.Release(l)
	}
	heap.Release(old.funcVal)

	exec := fn.FuncExecutable()
	locals := make([]*Value, exec.NumLocals())
	copy(locals, args)
	old.funcVal = fn
	old.locals = locals
	old.pc = 0
}

// Return pops the current frame, releasing its locals and funcVal,
// and delivers result either through the frame's resultSlot (an
// ordinary call's caller, or a forked child's parent destination) or,
// for a thread's root frame, into the thread's own Result. It does
// not itself report a RunStatus: the driving trampoline (see
// Scheduler.driveThread) always re-examines thread.Stack afterward to
// decide whether to keep going or the thread is done.
func (t *Thread) Return(heap *Heap, result *Value) {
	frame := t.Stack
	for _, l := range frame.locals {
		heap.Release(l)
	}
	heap.Release(frame.funcVal)

	if frame.resultSlot != nil {
		if old := *frame.resultSlot; old != nil {
			heap.Release(old)
		}
		heap.Retain(result)
		*frame.resultSlot = result
	} else {
		heap.Retain(result)
		t.result = result
		t.hasResult = true
	}

	t.Stack = frame.tail
}

// Result returns the thread's final value once it has finished.
func (t *Thread) Result() (*Value, bool) { return t.result, t.hasResult }

// Set writes v into the frame-addressed local slot idx, releasing any
// previous occupant first (a local slot holds at most one strong
// reference, per the spec's frame-locals design note).
func (f *Frame) Set(heap *Heap, local int, v *Value) {
	if old := f.locals[local]; old != nil {
		heap.Release(old)
	}
	heap.Retain(v)
	f.locals[local] = v
}

// Release empties a local slot explicitly (the RELEASE instruction).
func (f *Frame) Release(heap *Heap, local int) {
	if old := f.locals[local]; old != nil {
		heap.Release(old)
		f.locals[local] = nil
	}
}
