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

// Package ident defines names and module paths, the two identifier
// kinds the core consumes from the (external) loader and type checker.
package ident

import "github.com/dchest/siphash"

// Namespace distinguishes ordinary value names from type names; the two
// live in separate scopes even when spelled identically.
type Namespace int

const (
	Normal Namespace = iota
	Type
)

func (n Namespace) String() string {
	if n == Type {
		return "type"
	}
	return "normal"
}

// Loc is a source location attached to a name or an instruction, used
// only to render located error messages; it carries no semantic weight.
type Loc struct {
	Source string
	Line   int
	Col    int
}

func (l Loc) String() string {
	if l.Source == "" {
		return "<unknown>"
	}
	return l.Source + ":" + itoa(l.Line) + ":" + itoa(l.Col)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// hashK0 and hashK1 are the process-local siphash keys behind
// Name.Hash; the hashes are never persisted or compared across runs,
// so any fixed key pair is fine.
const hashK0, hashK1 = 0x636f6d70696c6572, 0x6e616d6568617368

// Name is a single identifier: a namespace-qualified string plus the
// source location it was declared at. Names are refcounted externally
// by the loader; the core only ever reads them.
type Name struct {
	Text string
	NS   Namespace
	Loc  Loc
	hash uint64
	hset bool
}

// NewName constructs a Name, pre-computing its lookup hash.
func NewName(text string, ns Namespace, loc Loc) Name {
	return Name{Text: text, NS: ns, Loc: loc, hash: siphash.Hash(hashK0, hashK1, []byte(text)), hset: true}
}

// Hash returns the cached siphash of the name's text, used as a fast
// pre-filter before the authoritative string/namespace comparison in
// Equal. Two names with different text may share a hash (collision);
// Equal always falls back to exact comparison.
func (n Name) Hash() uint64 {
	if !n.hset {
		return siphash.Hash(hashK0, hashK1, []byte(n.Text))
	}
	return n.hash
}

// Equal compares names by (namespace, text) only; source location is
// not part of identity.
func (n Name) Equal(o Name) bool {
	return n.NS == o.NS && n.Text == o.Text
}

func (n Name) String() string {
	return n.Text
}

// ModulePath is an ordered sequence of names identifying a module.
type ModulePath struct {
	Names []Name
}

// Equal reports whether two module paths name the same module:
// componentwise Name equality, same length.
func (p ModulePath) Equal(o ModulePath) bool {
	if len(p.Names) != len(o.Names) {
		return false
	}
	for i := range p.Names {
		if !p.Names[i].Equal(o.Names[i]) {
			return false
		}
	}
	return true
}

func (p ModulePath) String() string {
	s := ""
	for i, n := range p.Names {
		if i > 0 {
			s += "/"
		}
		s += n.Text
	}
	return s
}
