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

package ident

import "testing"

func TestNameEqualIgnoresLocation(t *testing.T) {
	a := NewName("Foo", Normal, Loc{Source: "a.fble", Line: 1, Col: 1})
	b := NewName("Foo", Normal, Loc{Source: "b.fble", Line: 42, Col: 7})
	if !a.Equal(b) {
		t.Fatalf("names with the same text/namespace but different locations should be Equal")
	}
	if a.Hash() != b.Hash() {
		t.Fatalf("names with identical text should hash identically")
	}
}

func TestNameNamespacesAreDistinct(t *testing.T) {
	v := NewName("Point", Normal, Loc{})
	ty := NewName("Point", Type, Loc{})
	if v.Equal(ty) {
		t.Fatalf("a value name and a type name spelled the same should not be Equal")
	}
}

func TestModulePathEqual(t *testing.T) {
	p1 := ModulePath{Names: []Name{NewName("Foo", Normal, Loc{}), NewName("Bar", Normal, Loc{})}}
	p2 := ModulePath{Names: []Name{NewName("Foo", Normal, Loc{}), NewName("Bar", Normal, Loc{})}}
	p3 := ModulePath{Names: []Name{NewName("Foo", Normal, Loc{})}}
	if !p1.Equal(p2) {
		t.Fatalf("identical module paths should be Equal")
	}
	if p1.Equal(p3) {
		t.Fatalf("module paths of different lengths should not be Equal")
	}
	if p1.String() != "Foo/Bar" {
		t.Fatalf("got %q, want %q", p1.String(), "Foo/Bar")
	}
}

func TestLocString(t *testing.T) {
	if got := (Loc{}).String(); got != "<unknown>" {
		t.Fatalf("got %q, want <unknown> for a zero Loc", got)
	}
	got := Loc{Source: "m.fble", Line: 3, Col: 9}.String()
	if got != "m.fble:3:9" {
		t.Fatalf("got %q, want m.fble:3:9", got)
	}
}
