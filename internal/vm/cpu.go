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

import "golang.org/x/sys/cpu"

// portable forces Deref's simpler, allocation-free loop even on
// hardware the fast path was tuned against, matching vm/interp.go's
// own "var portable = ... !cpu.X86.HasAVX512" escape hatch. Here
// HasAVX2 stands in purely as a "modern amd64" proxy: nothing in this
// package emits SIMD, so the two Deref paths differ only in loop
// shape, not in the instructions a CPU actually executes.
var portable = !cpu.X86.HasAVX2

// Deref follows a chain of Ref values down to the first non-Ref value
// (or to the first Ref that has not yet been tied). It implements the
// spec's StrictValue read: a Thunk counts the same as an untied Ref,
// since both represent "not yet available".
//
// Returns (value, true) if the chain bottoms out at a usable value,
// or (nil, false) if it is blocked on an untied Ref or unresolved
// Thunk, or if v itself is nil (an empty Link/Port read).
func Deref(v *Value) (*Value, bool) {
	if portable {
		return derefPortable(v)
	}
	return derefFast(v)
}

// derefPortable checks v's kind on every hop, re-testing for nil each
// time through the loop.
func derefPortable(v *Value) (*Value, bool) {
	for {
		if v == nil {
			return nil, false
		}
		switch v.kind {
		case KindRef:
			if !v.refSet {
				return nil, false
			}
			v = v.refTo
		case KindThunk:
			return nil, false
		default:
			return v, true
		}
	}
}

// derefFast assumes v is non-nil on entry (the common case: callers
// already hold a live frame slot) and only re-checks for nil after a
// Ref hop, skipping one redundant comparison per iteration.
func derefFast(v *Value) (*Value, bool) {
	if v == nil {
		return nil, false
	}
	for {
		switch v.kind {
		case KindRef:
			if !v.refSet {
				return nil, false
			}
			v = v.refTo
			if v == nil {
				return nil, false
			}
		case KindThunk:
			return nil, false
		default:
			return v, true
		}
	}
}
