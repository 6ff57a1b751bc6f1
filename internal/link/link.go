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

// Package link assembles separately compiled modules into one driver
// program, grounded on fble's own module-linking pass
// (original_source/fble/src/link.c): each module becomes a function of
// its direct dependencies' values, and the linker threads modules
// together in dependency order so each one runs exactly once.
package link

import (
	"fmt"

	"github.com/fble-lang/fblevm/internal/ident"
	"github.com/fble-lang/fblevm/internal/profile"
	"github.com/fble-lang/fblevm/internal/vm"
)

// Module is one compiled compilation unit: Code.NumArgs() must equal
// len(Deps), since the compiler lowers a module body with its
// dependencies bound as the module function's positional arguments
// (Var{Source: Local, Index: i} referring to the i-th-from-last
// dependency, per the De Bruijn convention the rest of the compiler
// uses).
type Module struct {
	Path ident.ModulePath
	Deps []ident.ModulePath
	Code *vm.Code
}

// Linker builds a driver Code that loads a module set in dependency
// order and returns one entry module's resulting value.
type Linker struct {
	prof *profile.Profile
}

// New returns a Linker recording its synthetic driver block (and
// nothing else — modules already carry their own profiling blocks
// from compilation) into p. A nil p disables profiling.
func New(p *profile.Profile) *Linker {
	return &Linker{prof: p}
}

// Link builds the driver Code for entry out of modules, which must
// include entry and, transitively, everything it depends on. It
// reports an error if the dependency graph has a cycle (module
// dependencies, unlike Let bindings, may never be mutually recursive)
// or references a path absent from modules.
func (lk *Linker) Link(modules []*Module, entry ident.ModulePath) (*vm.Code, error) {
	byPath := make(map[string]*Module, len(modules))
	for _, m := range modules {
		byPath[m.Path.String()] = m
	}
	if _, ok := byPath[entry.String()]; !ok {
		return nil, fmt.Errorf("link: entry module %s not present", entry)
	}

	order, err := topoSort(modules, byPath, entry)
	if err != nil {
		return nil, err
	}

	driver := vm.NewCode(0, 0, 0)
	driver.ProfileBlockID = lk.prof.AddBlock("<module-driver>")

	slot := make(map[string]int, len(order))
	next := 0
	alloc := func() int {
		i := next
		next++
		driver.GrowLocals(next)
		return i
	}

	for _, m := range order {
		args := make([]vm.FrameIndex, len(m.Deps))
		for i, d := range m.Deps {
			depSlot, ok := slot[d.String()]
			if !ok {
				return nil, fmt.Errorf("link: %s depends on unlinked module %s", m.Path, d)
			}
			args[i] = vm.LocalIndex(depSlot)
		}
		fnSlot := alloc()
		driver.AddInstr(&vm.FuncValueInstr{Code: m.Code, Dest: fnSlot})
		resultSlot := alloc()
		driver.AddInstr(&vm.CallInstr{Func: vm.LocalIndex(fnSlot), Args: args, Dest: resultSlot})
		slot[m.Path.String()] = resultSlot
	}

	driver.AddInstr(&vm.ReturnInstr{Result: vm.LocalIndex(slot[entry.String()])})
	return driver, nil
}

// topoSort orders the transitive closure of entry's dependencies so
// that every module appears after all of its Deps, detecting cycles
// along the way.
func topoSort(modules []*Module, byPath map[string]*Module, entry ident.ModulePath) ([]*Module, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(modules))
	var order []*Module

	var visit func(path string) error
	visit = func(path string) error {
		switch state[path] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("link: module dependency cycle at %s", path)
		}
		m, ok := byPath[path]
		if !ok {
			return fmt.Errorf("link: unknown module %s", path)
		}
		state[path] = visiting
		for _, d := range m.Deps {
			if err := visit(d.String()); err != nil {
				return err
			}
		}
		state[path] = done
		order = append(order, m)
		return nil
	}

	if err := visit(entry.String()); err != nil {
		return nil, err
	}
	return order, nil
}
