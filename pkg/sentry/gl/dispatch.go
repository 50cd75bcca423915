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

package gl

import (
	_ "embed"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/lucidvm/sentry32/pkg/sentry/arch"
	"github.com/lucidvm/sentry32/pkg/sentry/kernel"
)

//go:embed manifest.toml
var manifestData []byte

// manifestCall is one [[calls]] entry in manifest.toml.
type manifestCall struct {
	Code int    `toml:"code"`
	Name string `toml:"name"`
}

// manifest is the parsed shape of manifest.toml (spec §4.9).
type manifest struct {
	Version struct {
		Major int `toml:"major"`
		Minor int `toml:"minor"`
	} `toml:"version"`
	Calls []manifestCall `toml:"calls"`
}

// Handler is one auxiliary-runtime call's host-side stub. Args mirrors
// the syscall dispatcher's calling convention (spec §4.1) even though
// the call-code register is ebx here rather than eax (spec §4.9): reuse
// keeps the two dispatch tables structurally identical, which is the
// point of this being a "template".
type Handler func(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, error)

// Entry is one numbered call: its manifest name plus (if registered) its
// host-side stub.
type Entry struct {
	Name string
	Fn   Handler
}

// Table is the auxiliary runtime's call-code → Entry table, loaded once
// from the embedded manifest (spec §4.9 "second dispatch table").
type Table struct {
	Version Version
	entries map[int]*Entry
}

// Load parses the embedded manifest into a Table. Every call named in
// the manifest gets an entry; calls with no registered Handler (the
// common case for this template — see Register) fall back to
// unimplementedStub, which fails fatally by name rather than panicking
// on a nil function pointer.
func Load() (*Table, error) {
	var m manifest
	if _, err := toml.Decode(string(manifestData), &m); err != nil {
		return nil, fmt.Errorf("gl: parsing manifest: %w", err)
	}
	t := &Table{
		Version: Version{Major: m.Version.Major, Minor: m.Version.Minor},
		entries: make(map[int]*Entry, len(m.Calls)),
	}
	for _, c := range m.Calls {
		t.entries[c.Code] = &Entry{Name: c.Name, Fn: unimplementedStub(c.Name)}
	}
	return t, nil
}

// Register installs fn as the host-side stub for the named call,
// overwriting the default unimplemented stub. Callers with a real
// runtime binding (outside this emulator core's scope, per spec.md's
// Non-goals) use this to plug themselves into the table.
func (t *Table) Register(name string, fn Handler) bool {
	for _, e := range t.entries {
		if e.Name == name {
			e.Fn = fn
			return true
		}
	}
	return false
}

func unimplementedStub(name string) Handler {
	return func(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, error) {
		return 0, kernel.Fatalf("gl", "call %q has no registered handler", name)
	}
}

// Init performs the version-negotiation handshake (spec §4.9): the
// guest-declared version must share this table's major version and must
// not ask for a minor newer than what this table provides.
func (t *Table) Init(guestVersion Version) error {
	if !t.Version.Compatible(guestVersion) {
		return kernel.Fatalf("gl", "version mismatch: runtime is %d.%d, guest requires %d.%d",
			t.Version.Major, t.Version.Minor, guestVersion.Major, guestVersion.Minor)
	}
	return nil
}

// Dispatch looks up code in t and invokes its handler (spec §4.9: the
// call-code register is ebx, already extracted into code by the caller).
// An out-of-range or unregistered code is a fatal condition, mirroring
// the syscall dispatcher's own "invalid-call" rule (spec §4.1).
func Dispatch(ctx *kernel.Context, t *Table, code int, args arch.SyscallArguments) (uintptr, error) {
	e, ok := t.entries[code]
	if !ok {
		return 0, kernel.Fatalf("gl", "unrecognized call code %d", code)
	}
	return e.Fn(ctx, args)
}
