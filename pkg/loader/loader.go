// Copyright 2024 The LucidVM Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package loader defines the boundary between the emulator core and
// whatever parses a guest executable's on-disk format (spec.md explicitly
// scopes ELF parsing out of the core: "the core queries the loader for
// the executable path and the initial stack size").
package loader

import (
	"debug/elf"
	"fmt"
)

// DefaultStackSize is used when a loader implementation has no better
// figure (e.g. the binary carries no PT_GNU_STACK hint).
const DefaultStackSize = 8 * 1024 * 1024

// Loader is the core's only view of the guest executable. The core never
// imports an ELF parser directly; FromELF in this package is the concrete
// implementation, which cmd/sentry32 uses.
type Loader interface {
	// ExecutablePath is the path the core records as
	// ctx.ExePath, returned by readlink("/proc/self/exe") (spec §4.10).
	ExecutablePath() string
	// InitialStackSize is the guest stack region size the core reserves
	// at process creation (spec §4.4).
	InitialStackSize() uint32
}

// elfLoader is the stdlib-debug/elf-backed Loader implementation.
type elfLoader struct {
	path      string
	stackSize uint32
}

// FromELF opens path, validates it is a 32-bit x86 executable, and
// returns a Loader reporting its stack size. No pack dependency offers
// 32-bit ELF program-header inspection, so this one boundary adapter
// uses the standard library (see DESIGN.md).
func FromELF(path string) (Loader, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loader: opening %s: %w", path, err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("loader: %s is not a 32-bit ELF binary", path)
	}
	if f.Machine != elf.EM_386 {
		return nil, fmt.Errorf("loader: %s is not an x86 binary (machine=%s)", path, f.Machine)
	}

	stackSize := uint32(DefaultStackSize)
	for _, p := range f.Progs {
		if p.Type == elf.PT_GNU_STACK && p.Memsz != 0 && p.Memsz <= 1<<31 {
			stackSize = uint32(p.Memsz)
		}
	}

	return &elfLoader{path: path, stackSize: stackSize}, nil
}

func (l *elfLoader) ExecutablePath() string   { return l.path }
func (l *elfLoader) InitialStackSize() uint32 { return l.stackSize }
