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
	"testing"

	"github.com/lucidvm/sentry32/pkg/sentry/arch"
	"github.com/lucidvm/sentry32/pkg/sentry/kernel"
)

func TestLoadParsesManifest(t *testing.T) {
	tbl, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tbl.Version.Major == 0 && tbl.Version.Minor == 0 {
		t.Fatal("Load did not populate a version from the manifest")
	}
	if len(tbl.entries) == 0 {
		t.Fatal("Load produced an empty call table")
	}
}

func TestVersionCompatible(t *testing.T) {
	have := Version{Major: 1, Minor: 2}
	cases := []struct {
		want Version
		ok   bool
	}{
		{Version{Major: 1, Minor: 0}, true},
		{Version{Major: 1, Minor: 2}, true},
		{Version{Major: 1, Minor: 3}, false},
		{Version{Major: 2, Minor: 0}, false},
	}
	for _, c := range cases {
		if got := have.Compatible(c.want); got != c.ok {
			t.Errorf("Compatible(%+v wants %+v) = %v, want %v", have, c.want, got, c.ok)
		}
	}
}

func TestInitRejectsIncompatibleVersion(t *testing.T) {
	tbl, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := tbl.Init(Version{Major: tbl.Version.Major + 1}); err == nil {
		t.Fatal("Init accepted an incompatible major version")
	}
	if err := tbl.Init(tbl.Version); err != nil {
		t.Fatalf("Init rejected the manifest's own version: %v", err)
	}
}

func TestDispatchUnregisteredCallIsFatal(t *testing.T) {
	tbl, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var code int
	var name string
	for c, e := range tbl.entries {
		code, name = c, e.Name
		break
	}
	_, derr := Dispatch(nil, tbl, code, arch.SyscallArguments{})
	if derr == nil || !kernel.IsFatal(derr) {
		t.Fatalf("Dispatch(%s) = %v, want fatal (no handler registered)", name, derr)
	}
}

func TestRegisterOverridesStub(t *testing.T) {
	tbl, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var name string
	for _, e := range tbl.entries {
		name = e.Name
		break
	}
	called := false
	if !tbl.Register(name, func(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, error) {
		called = true
		return 7, nil
	}) {
		t.Fatalf("Register(%q) reported not found", name)
	}

	var code int
	for c, e := range tbl.entries {
		if e.Name == name {
			code = c
			break
		}
	}
	result, derr := Dispatch(nil, tbl, code, arch.SyscallArguments{})
	if derr != nil {
		t.Fatalf("Dispatch after Register: %v", derr)
	}
	if !called || result != 7 {
		t.Fatalf("Dispatch did not invoke the registered handler: called=%v result=%d", called, result)
	}
}

func TestDispatchUnknownCodeIsFatal(t *testing.T) {
	tbl, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, derr := Dispatch(nil, tbl, -1, arch.SyscallArguments{})
	if derr == nil || !kernel.IsFatal(derr) {
		t.Fatalf("Dispatch(unknown code) = %v, want fatal", derr)
	}
}

func TestRegisterUnknownNameReportsFalse(t *testing.T) {
	tbl, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tbl.Register("glDoesNotExist", func(*kernel.Context, arch.SyscallArguments) (uintptr, error) {
		return 0, nil
	}) {
		t.Fatal("Register reported success for a name not in the manifest")
	}
}
