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

package kernel

import "sync"

// PIDTable is the arena holding every live Context, keyed by pid (spec §9
// design note: "cyclic parent/child context graph -> arena with integer
// pid handles"). A weak back-reference is just a pid lookup that may come
// back nil; Context itself still keeps direct *Context pointers for
// Parent/GroupParent/Children since Go's GC handles the cycles, but the
// table is the authoritative existence check and iteration order for the
// scheduler and for waitpid's zombie search.
type PIDTable struct {
	mu      sync.Mutex
	next    int32
	byPID   map[int32]*Context
}

// NewPIDTable creates an empty table; pid 1 is the first pid Alloc hands
// out.
func NewPIDTable() *PIDTable {
	return &PIDTable{byPID: make(map[int32]*Context), next: 1}
}

// Alloc reserves and returns the next monotonic pid (spec §3: "Integer pid
// (unique, monotonic)").
func (t *PIDTable) Alloc() int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	pid := t.next
	t.next++
	return pid
}

// Insert records ctx under its own PID.
func (t *PIDTable) Insert(ctx *Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byPID[ctx.PID] = ctx
}

// Lookup returns the context for pid, or nil.
func (t *PIDTable) Lookup(pid int32) *Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byPID[pid]
}

// Remove drops pid from the table (called once a zombie has been reaped).
func (t *PIDTable) Remove(pid int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byPID, pid)
}

// All returns a snapshot slice of every live context, in unspecified
// order; used by the scheduler's event-reexamination pass.
func (t *PIDTable) All() []*Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Context, 0, len(t.byPID))
	for _, c := range t.byPID {
		out = append(out, c)
	}
	return out
}
