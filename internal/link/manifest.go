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

package link

import (
	"fmt"
	"os"

	"golang.org/x/exp/slices"
	yamlv2 "gopkg.in/yaml.v2"

	"github.com/fble-lang/fblevm/internal/ident"
	"github.com/fble-lang/fblevm/internal/vm"
)

// Manifest is an on-disk list of modules and their direct
// dependencies, the form a build step hands the linker when modules
// were compiled independently (e.g. one package per file) and need to
// be assembled without recompiling the whole program to rediscover the
// dependency graph.
type Manifest struct {
	Entry   string          `yaml:"entry"`
	Modules []ManifestEntry `yaml:"modules"`
}

// ManifestEntry names one compiled module and the module paths (as
// rendered by ident.ModulePath.String) it directly depends on.
type ManifestEntry struct {
	Path string   `yaml:"path"`
	Deps []string `yaml:"deps"`
}

// LoadManifest parses a Manifest from YAML at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("link: reading manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yamlv2.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("link: parsing manifest %s: %w", path, err)
	}
	return &m, nil
}

// EntryPath parses the manifest's entry module path as a slash-separated
// ident.ModulePath, matching ident.ModulePath.String's rendering.
func (m *Manifest) EntryPath() ident.ModulePath {
	return parseModulePath(m.Entry)
}

// BuildModules joins a Manifest's dependency graph with a path-keyed
// table of already-compiled Code (one per module, from compile.Function
// with argc == len(deps)) into the []*Module shape Linker.Link wants.
// Entries are processed in path order (not manifest order), so the
// same manifest always yields the same []*Module regardless of how a
// build tool assembled it, and any "names module ... with no compiled
// code" error always reports the same entry first.
func BuildModules(m *Manifest, code map[string]*vm.Code) ([]*Module, error) {
	entries := append([]ManifestEntry(nil), m.Modules...)
	slices.SortFunc(entries, func(a, b ManifestEntry) bool { return a.Path < b.Path })

	mods := make([]*Module, 0, len(entries))
	for _, e := range entries {
		c, ok := code[e.Path]
		if !ok {
			return nil, fmt.Errorf("link: manifest names module %s with no compiled code", e.Path)
		}
		if c.NumArgs() != len(e.Deps) {
			return nil, fmt.Errorf("link: module %s compiled with %d args, manifest lists %d deps", e.Path, c.NumArgs(), len(e.Deps))
		}
		deps := make([]ident.ModulePath, len(e.Deps))
		for i, d := range e.Deps {
			deps[i] = parseModulePath(d)
		}
		mods = append(mods, &Module{Path: parseModulePath(e.Path), Deps: deps, Code: c})
	}
	return mods, nil
}

func parseModulePath(s string) ident.ModulePath {
	if s == "" {
		return ident.ModulePath{}
	}
	var names []ident.Name
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '/' {
			names = append(names, ident.NewName(s[start:i], ident.Normal, ident.Loc{}))
			start = i + 1
		}
	}
	return ident.ModulePath{Names: names}
}
