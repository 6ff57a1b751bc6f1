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

import "testing"

func TestStructAndUnionAccess(t *testing.T) {
	h := NewHeap(0)
	unit := h.Unit()
	s := h.NewStruct([]*Value{unit, unit})
	h.Retain(s)

	if s.Kind() != KindStruct {
		t.Fatalf("got kind %v, want KindStruct", s.Kind())
	}
	if len(s.Fields()) != 2 {
		t.Fatalf("got %d fields, want 2", len(s.Fields()))
	}

	u := h.NewUnion(1, unit)
	h.Retain(u)
	if u.Tag() != 1 {
		t.Fatalf("got tag %d, want 1", u.Tag())
	}
	if u.Arg() != unit {
		t.Fatalf("union arg is not unit")
	}

	h.Release(s)
	h.Release(u)
}

func TestFullGCReclaimsUnrootedCell(t *testing.T) {
	h := NewHeap(0)
	var freed []int
	h.OnFreeHook(func(v *Value) { freed = append(freed, v.id) })

	v := h.New(KindType)
	id := v.id
	h.Retain(v)
	h.Release(v)
	h.FullGC()

	found := false
	for _, f := range freed {
		if f == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("cell %d was not collected by FullGC after its last release", id)
	}
}

func TestReleaseWithoutRetainPanics(t *testing.T) {
	h := NewHeap(0)
	v := h.New(KindType)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic releasing a cell with a zero strong refcount")
		}
	}()
	h.Release(v)
}

func TestDerefFollowsTiedRefChain(t *testing.T) {
	h := NewHeap(0)
	unit := h.Unit()

	r1 := h.NewRef()
	r2 := h.NewRef()
	h.Retain(r1)
	h.Retain(r2)

	if _, ok := Deref(r1); ok {
		t.Fatal("untied ref should not deref")
	}

	if err := h.TieRef(r2, unit); err != nil {
		t.Fatalf("TieRef(r2, unit): %v", err)
	}
	if err := h.TieRef(r1, r2); err != nil {
		t.Fatalf("TieRef(r1, r2): %v", err)
	}

	got, ok := Deref(r1)
	if !ok || got != unit {
		t.Fatalf("Deref(r1) = %v, %v; want unit, true", got, ok)
	}

	h.Release(r1)
	h.Release(r2)
}

func TestTieRefRejectsVacuousCycle(t *testing.T) {
	h := NewHeap(0)
	r := h.NewRef()
	h.Retain(r)
	defer h.Release(r)

	r2 := h.NewRef()
	h.Retain(r2)
	defer h.Release(r2)
	if err := h.TieRef(r2, r); err != nil {
		t.Fatalf("TieRef(r2, r): %v", err)
	}

	if err := h.TieRef(r, r2); err == nil {
		t.Fatal("expected a vacuous-value error tying a ref chain back onto itself")
	}
}

func TestFullGCCollectsUnreachableCycle(t *testing.T) {
	h := NewHeap(0)
	var freed int
	h.OnFreeHook(func(*Value) { freed++ })

	// r1 -> r2 -> s -> r1: the struct keeps the cycle non-vacuous, so
	// TieRef accepts it.
	r1 := h.NewRef()
	r2 := h.NewRef()
	h.Retain(r1)
	if err := h.TieRef(r1, r2); err != nil {
		t.Fatalf("TieRef(r1, r2): %v", err)
	}
	s := h.NewStruct([]*Value{r1})
	if err := h.TieRef(r2, s); err != nil {
		t.Fatalf("TieRef(r2, s): %v", err)
	}

	h.Release(r1)
	h.FullGC()

	if freed < 3 {
		t.Fatalf("FullGC freed %d cells, want at least 3 for the unreachable r1 -> r2 -> s -> r1 cycle", freed)
	}
}
