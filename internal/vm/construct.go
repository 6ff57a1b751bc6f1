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

// NewStruct allocates an immutable Struct value from already-heap-
// resident fields. Each field is add_ref'd before the struct is
// returned, per the heap's "before it becomes reachable" invariant.
func (h *Heap) NewStruct(fields []*Value) *Value {
	v := h.New(KindStruct)
	v.fields = append([]*Value(nil), fields...)
	for _, f := range v.fields {
		h.AddRef(v, f)
	}
	return v
}

// NewUnion allocates an immutable Union value tagging arg with tag.
func (h *Heap) NewUnion(tag int, arg *Value) *Value {
	v := h.New(KindUnion)
	v.tag = tag
	v.arg = arg
	h.AddRef(v, arg)
	return v
}

// NewFunc allocates a Func value closing over statics and backed by
// code. code.Retain is called since the Func now shares ownership of
// it (matching FuncValue's emission of a child Code per spec §4.3.1).
func (h *Heap) NewFunc(code Executable, statics []*Value) *Value {
	v := h.New(KindFunc)
	v.argc = code.NumArgs()
	v.code = code
	v.statics = append([]*Value(nil), statics...)
	for _, s := range v.statics {
		h.AddRef(v, s)
	}
	code.Retain()
	return v
}

// NewType allocates the zero-information Type value.
func (h *Heap) NewType() *Value {
	return h.New(KindType)
}

// NewRef allocates an untied forward reference cell.
func (h *Heap) NewRef() *Value {
	return h.New(KindRef)
}

// NewThunk allocates a placeholder standing in for an in-progress
// forked computation's result. It is installed into exactly one frame
// local slot (the Fork/Exec destination) and is never aliased
// elsewhere, so resolving it is a matter of overwriting that slot
// directly (via the forked child's own Return, see Thread.Return)
// rather than mutating the Thunk itself. The compiler's JoinInstr,
// emitted right after the ForkInstr that allocates it, blocks until
// that overwrite happens before the Exec body runs; any other strict
// read of a slot that might still hold one (Frame.StrictOrBlock) also
// blocks rather than treating it like an untied Ref.
func (h *Heap) NewThunk() *Value {
	return h.New(KindThunk)
}

// TieRef ties an untied Ref to value, completing a recursive-let
// binding. It reports a "vacuous value" failure if value's Ref chain
// would close back on ref without ever passing through a concrete
// constructor — i.e. ref := ref, directly or through other Refs.
func (h *Heap) TieRef(ref, value *Value) error {
	mustKind(ref, KindRef)
	if ref.refSet {
		panic("vm: RefDef on an already-tied Ref")
	}
	if refChainClosesOn(value, ref) {
		return errVacuousValue
	}
	ref.refTo = value
	ref.refSet = true
	h.AddRef(ref, value)
	return nil
}

// NewLink allocates a fresh Link value and wraps it in a (get, put)
// pair of Func values, exactly as the LINK_INSTR does. get takes no
// arguments and dequeues (or blocks); put takes one argument, enqueues
// it, and returns Unit (it never blocks: Link, unlike Port, is an
// unbounded FIFO).
func (h *Heap) NewLink() (link, get, put *Value) {
	link = h.New(KindLink)
	link.link = &linkQueue{}

	get = h.NewFunc(&nativeFunc{argc: 0, kind: "link-get", run: linkGet}, []*Value{link})
	put = h.NewFunc(&nativeFunc{argc: 1, kind: "link-put", run: linkPut}, []*Value{link})
	return link, get, put
}

// NewPortFuncs wraps a host-owned single-slot Port in a (get, put)
// pair of Func values. Unlike Link, Put blocks while the slot is full.
func (h *Heap) NewPortFuncs(port *Value) (get, put *Value) {
	mustKind(port, KindPort)
	get = h.NewFunc(&nativeFunc{argc: 0, kind: "port-get", run: portGet}, []*Value{port})
	put = h.NewFunc(&nativeFunc{argc: 1, kind: "port-put", run: portPut}, []*Value{port})
	return get, put
}

// NewPort allocates a Port value with an initially-empty slot.
func (h *Heap) NewPort() *Value {
	v := h.New(KindPort)
	v.port = &Port{}
	return v
}

func linkGet(h *Heap, thread *Thread, args []*Value, statics []*Value) (*Value, RunStatus) {
	link := statics[0]
	v, ok := link.link.get()
	if !ok {
		return nil, Blocked
	}
	return v, Finished
}

func linkPut(h *Heap, thread *Thread, args []*Value, statics []*Value) (*Value, RunStatus) {
	link := statics[0]
	h.Retain(args[0])
	link.link.put(args[0])
	h.AddRef(link, args[0])
	return h.Unit(), Finished
}

func portGet(h *Heap, thread *Thread, args []*Value, statics []*Value) (*Value, RunStatus) {
	port := statics[0]
	if port.port.Data == nil {
		return nil, Blocked
	}
	v := port.port.Data
	port.port.Data = nil
	return v, Finished
}

func portPut(h *Heap, thread *Thread, args []*Value, statics []*Value) (*Value, RunStatus) {
	port := statics[0]
	if port.port.Data != nil {
		return nil, Blocked
	}
	h.Retain(args[0])
	port.port.Data = args[0]
	h.AddRef(port, args[0])
	return h.Unit(), Finished
}
