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

package guest

import "strings"

// StringMap is an unordered set of (name, value) pairs supporting
// value->name lookup (for trace output) and bitmask decomposition into
// "A|B|C" form. Instances are built once at init and shared immutably
// (spec §4.2, §9 "module-level string maps -> static tables").
type StringMap struct {
	entries []stringMapEntry
}

type stringMapEntry struct {
	name  string
	value uint64
}

// NewStringMap builds a StringMap from an ordered list of (name, value)
// pairs. Order is preserved for deterministic bitmap decomposition.
func NewStringMap(pairs ...struct {
	Name  string
	Value uint64
}) *StringMap {
	sm := &StringMap{entries: make([]stringMapEntry, 0, len(pairs))}
	for _, p := range pairs {
		sm.entries = append(sm.entries, stringMapEntry{name: p.Name, value: p.Value})
	}
	return sm
}

// Name returns the symbolic name for value, or "" if none is registered.
func (sm *StringMap) Name(value uint64) string {
	for _, e := range sm.entries {
		if e.value == value {
			return e.name
		}
	}
	return ""
}

// Value returns the value registered for name and whether it was found.
func (sm *StringMap) Value(name string) (uint64, bool) {
	for _, e := range sm.entries {
		if e.name == name {
			return e.value, true
		}
	}
	return 0, false
}

// Bitmap decomposes a bitmask into its registered component names joined by
// "|", consuming bits left-to-right through the registered entries. Any
// residual bits not covered by an entry are rendered as a trailing hex
// term, so the decomposition is always lossless for trace purposes.
func (sm *StringMap) Bitmap(mask uint64) string {
	if mask == 0 {
		if name := sm.Name(0); name != "" {
			return name
		}
		return "0"
	}
	var parts []string
	remaining := mask
	for _, e := range sm.entries {
		if e.value == 0 {
			continue
		}
		if remaining&e.value == e.value {
			parts = append(parts, e.name)
			remaining &^= e.value
		}
	}
	if remaining != 0 {
		parts = append(parts, hex(remaining))
	}
	if len(parts) == 0 {
		return hex(mask)
	}
	return strings.Join(parts, "|")
}

func hex(v uint64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0x0"
	}
	var buf [18]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return "0x" + string(buf[i:])
}
