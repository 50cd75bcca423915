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

// Package gl is the auxiliary-runtime dispatch template (spec §4.9): a
// guest-callable table of numbered calls, distinct from the int 0x80
// syscall surface, that a hosted OpenGL shim uses to reach host-side
// handler stubs. The call table itself is data, not code, loaded once
// from an embedded TOML manifest.
package gl

// Version is the {major, minor} pair a manifest declares itself built
// against (spec §4.9).
type Version struct {
	Major int
	Minor int
}

// Compatible reports whether a guest requesting 'want' can be served by
// a runtime manifest declaring 'have': the major version must match
// exactly and the manifest's minor must be at least the guest's
// requested minor (additive, backward-compatible extensions only).
func (have Version) Compatible(want Version) bool {
	return have.Major == want.Major && have.Minor >= want.Minor
}
