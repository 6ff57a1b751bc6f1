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

// Executable is the callable body backing a Func value. The compiler
// produces exactly one concrete implementation (*Code, the bytecode
// interpreter below); the interface exists so the frame/thread layer
// does not need to know how a function body is represented, matching
// the spec's FbleExecutable split between run and on_free.
type Executable interface {
	// NumArgs, NumStatics, NumLocals describe the frame shape a call
	// to this executable requires. Invariant: NumLocals >= NumArgs;
	// arguments occupy the first NumArgs local slots.
	NumArgs() int
	NumStatics() int
	NumLocals() int

	// Run interprets starting at thread's current frame until it
	// cannot make further progress without suspending, returning why.
	Run(heap *Heap, threads *Scheduler, thread *Thread) RunStatus

	// Retain/Release implement the spec's refcounting for compiled
	// code: a *Code may be the child of several FuncValue instructions
	// sharing one compiled body (e.g. UnionSelect branch dedup at the
	// Tc level does not apply here, but nested closures over the same
	// top-level function do reuse one Code across many Func values).
	Retain()
	Release()
}
