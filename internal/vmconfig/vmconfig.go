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

// Package vmconfig loads the interpreter's tunable knobs from YAML,
// in the style of this repo's other on-disk configuration (compact
// structs, sane zero-value defaults, loaded once at startup).
package vmconfig

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Tuning holds the knobs that shape one Scheduler run: how many
// instructions a thread gets per time slice before it must yield, how
// large the heap's allocation slabs are, and whether leak checking
// (expensive, development-only) is on.
type Tuning struct {
	TimeSlice    int  `json:"timeSlice,omitempty"`
	SlabSize     int  `json:"slabSize,omitempty"`
	GCThreshold  int  `json:"gcThreshold,omitempty"`
	LeakCheck    bool `json:"leakCheck,omitempty"`
	ProfileDump  bool `json:"profileDump,omitempty"`
}

// Default returns the tuning fble's own interpreter ships with: a
// 1024-instruction time slice, 256-value slabs, and GC triggered every
// 4096 allocations.
func Default() Tuning {
	return Tuning{
		TimeSlice:   1024,
		SlabSize:    256,
		GCThreshold: 4096,
	}
}

// Load reads a Tuning from a YAML file at path, filling any field the
// file omits from Default(). A missing file is not an error: it
// yields Default() unchanged, since tuning a run is always optional.
func Load(path string) (Tuning, error) {
	t := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return Tuning{}, fmt.Errorf("vmconfig: reading %s: %w", path, err)
	}
	var overlay Tuning
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Tuning{}, fmt.Errorf("vmconfig: parsing %s: %w", path, err)
	}
	if overlay.TimeSlice != 0 {
		t.TimeSlice = overlay.TimeSlice
	}
	if overlay.SlabSize != 0 {
		t.SlabSize = overlay.SlabSize
	}
	if overlay.GCThreshold != 0 {
		t.GCThreshold = overlay.GCThreshold
	}
	t.LeakCheck = overlay.LeakCheck
	t.ProfileDump = overlay.ProfileDump
	return t, nil
}
