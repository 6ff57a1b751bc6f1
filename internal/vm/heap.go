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

import "runtime"

// Heap is a tracing, cycle-safe value heap. It is not safe for
// concurrent use from multiple goroutines; the spec's single-threaded
// executor invariant (§5) means exactly one goroutine ever touches a
// given Heap at a time.
//
// Values are allocated in fixed-size slabs (grounded on the teacher's
// vm.malloc page allocator, which grows its VMM region in 1MiB pages
// rather than per-object) so that FullGC's sweep walks contiguous
// slices instead of chasing a linked allocation list.
type Heap struct {
	slabs    [][]Value
	slabSize int
	freeList []*Value // freed cells available for reuse
	live     []*Value // every cell currently tracked for sweep

	allocsSinceGC int
	gcThreshold   int // MaybeGC triggers a FullGC once this many allocations have happened; 0 disables auto-GC

	unit *Value // cached zero-field struct, a permanent GC root

	onFree func(*Value) // test hook: observe every freed cell

	leakCheck bool
}

const defaultSlabSize = 256

// NewHeap constructs an empty heap. gcThreshold of 0 disables automatic
// collection; callers must invoke FullGC themselves.
func NewHeap(gcThreshold int) *Heap {
	h := &Heap{slabSize: defaultSlabSize, gcThreshold: gcThreshold}
	h.unit = h.New(KindStruct)
	h.unit.fields = nil
	h.Retain(h.unit)
	return h
}

// Unit returns the heap's single cached empty-struct value, used as
// the result of Put/Link operations that carry no payload.
func (h *Heap) Unit() *Value { return h.unit }

// New allocates a zero-initialized cell of the given kind. The caller
// is expected to populate kind-specific fields (and call AddRef for
// any of them that point at other heap values) before the cell is
// reachable from any root.
func (h *Heap) New(kind Kind) *Value {
	var v *Value
	if n := len(h.freeList); n > 0 {
		v = h.freeList[n-1]
		h.freeList = h.freeList[:n-1]
		id := v.id
		*v = Value{id: id}
	} else {
		v = h.grow()
	}
	v.kind = kind
	h.live = append(h.live, v)
	h.allocsSinceGC++
	return v
}

func (h *Heap) grow() *Value {
	slab := make([]Value, h.slabSize)
	base := len(h.slabs) * h.slabSize
	h.slabs = append(h.slabs, slab)
	for i := range slab {
		slab[i].id = base + i
	}
	for i := len(slab) - 1; i >= 1; i-- {
		h.freeList = append(h.freeList, &slab[i])
	}
	return &slab[0]
}

// Retain increments v's strong refcount, making it (transitively) a GC
// root until a matching Release. Values with refcount > 0 always
// survive FullGC.
func (h *Heap) Retain(v *Value) {
	if v == nil {
		return
	}
	v.strong++
}

// Release decrements v's strong refcount. It does not immediately free
// v; collection only happens inside FullGC, matching the spec's
// explicit on-demand full_gc() contract.
func (h *Heap) Release(v *Value) {
	if v == nil {
		return
	}
	if v.strong == 0 {
		panic("vm: Release of value with zero strong refcount")
	}
	v.strong--
}

// AddRef records that src holds a reference to dst. Structurally the
// edge is already present in src's fields once the caller populates
// them; AddRef exists as a hook so heap implementations that need an
// explicit write barrier have a place to do it, and so callers state
// the invariant (call before src is reachable) at the call site. It is
// always safe to call more than once for the same edge.
func (h *Heap) AddRef(src, dst *Value) {
	_ = src
	_ = dst
}

// OnFreeHook installs a callback invoked exactly once per value
// collected by FullGC, primarily for tests asserting GC behavior.
func (h *Heap) OnFreeHook(f func(*Value)) { h.onFree = f }

// SetLeakCheck sets the heap's leak-check flag. With it on, collect
// calls runtime.KeepAlive on each cell it frees; no finalizers are
// installed and no leak report is produced.
// Test-only; never enable in a production evaluator.
func (h *Heap) SetLeakCheck(on bool) { h.leakCheck = on }

// MaybeGC triggers FullGC if the configured allocation threshold has
// been crossed since the last collection. A threshold of 0 disables
// this; callers (the scheduler, typically) still may call FullGC
// directly at any time.
func (h *Heap) MaybeGC() {
	if h.gcThreshold > 0 && h.allocsSinceGC >= h.gcThreshold {
		h.FullGC()
	}
}

// FullGC performs a complete mark-sweep collection: every value with a
// nonzero strong refcount is a root; the mark phase follows Refs
// (outgoing heap references) transitively; anything left unmarked is
// swept and OnFree runs exactly once for each.
func (h *Heap) FullGC() {
	for _, v := range h.live {
		v.marked = false
	}
	var stack []*Value
	for _, v := range h.live {
		if v.strong > 0 {
			stack = append(stack, v)
		}
	}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if v == nil || v.marked {
			continue
		}
		v.marked = true
		Refs(v, func(child *Value) {
			if child != nil && !child.marked {
				stack = append(stack, child)
			}
		})
	}

	kept := h.live[:0]
	for _, v := range h.live {
		if v.marked {
			kept = append(kept, v)
			continue
		}
		h.collect(v)
	}
	h.live = kept
	h.allocsSinceGC = 0
}

// collect runs on_free for v and returns its cell to the free list.
func (h *Heap) collect(v *Value) {
	switch v.kind {
	case KindFunc:
		if v.code != nil {
			v.code.Release()
		}
	case KindLink:
		v.link = nil
	case KindPort:
		// Port slots are owned externally by the host; the heap only
		// drops its reference.
	}
	v.freed = true
	if h.onFree != nil {
		h.onFree(v)
	}
	if h.leakCheck {
		runtime.KeepAlive(v)
	}
	id := v.id
	*v = Value{id: id}
	h.freeList = append(h.freeList, v)
}

// Refs enumerates the outgoing heap references of v, i.e. every child
// value that FullGC's mark phase must also visit. Unallocated slots
// (nil) and the Unit sentinel's own fields are handled transparently.
func Refs(v *Value, cb func(*Value)) {
	if v == nil {
		return
	}
	switch v.kind {
	case KindStruct:
		for _, f := range v.fields {
			cb(f)
		}
	case KindUnion:
		cb(v.arg)
	case KindFunc:
		for _, s := range v.statics {
			cb(s)
		}
	case KindRef:
		if v.refSet {
			cb(v.refTo)
		}
	case KindLink:
		if v.link != nil {
			for n := v.link.head; n != nil; n = n.next {
				cb(n.value)
			}
		}
	}
}
