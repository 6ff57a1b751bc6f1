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

// FrameSection selects which half of a frame a FrameIndex addresses.
type FrameSection int

const (
	Statics FrameSection = iota
	Locals
)

// FrameIndex is the bytecode-level address of a value within an
// executing frame: either one of the function's captured statics, or
// one of its local slots (arguments occupy the first NumArgs of
// these).
type FrameIndex struct {
	Section FrameSection
	Index   int
}

func StaticIndex(i int) FrameIndex { return FrameIndex{Section: Statics, Index: i} }
func LocalIndex(i int) FrameIndex  { return FrameIndex{Section: Locals, Index: i} }

// Get reads the value at idx out of the frame without following Ref
// chains (a raw frame-slot read, used to fetch the Ref/Thunk itself or
// any already-strict value).
func (f *Frame) Get(idx FrameIndex) *Value {
	switch idx.Section {
	case Statics:
		return f.funcVal.FuncStatics()[idx.Index]
	case Locals:
		return f.locals[idx.Index]
	default:
		panic("vm: invalid frame section")
	}
}

// Strict reads idx and follows Ref chains down to a usable value,
// implementing the interpreter's StrictValue access pattern; an
// untied Ref or an unresolved Thunk reports false.
func (f *Frame) Strict(idx FrameIndex) (*Value, bool) {
	return Deref(f.Get(idx))
}

// StrictOrBlock reads idx like Strict, but distinguishes *why* the
// chain didn't bottom out in a usable value, which Strict's plain bool
// can't: an unresolved Thunk means a forked child (§5's Exec/Fork)
// hasn't written its result yet, so the caller should report Blocked
// and retry this same instruction once the scheduler drives that
// thread further; an untied Ref is a vacuous recursive definition,
// which no amount of waiting fixes, so the caller should abort.
func (f *Frame) StrictOrBlock(idx FrameIndex) (*Value, RunStatus) {
	v := f.Get(idx)
	for {
		if v == nil {
			return nil, Aborted
		}
		switch v.kind {
		case KindRef:
			if !v.refSet {
				return nil, Aborted
			}
			v = v.refTo
		case KindThunk:
			return nil, Blocked
		default:
			return v, Running
		}
	}
}
