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

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// FDKind tags what a guest fd's host side actually is (spec §3).
type FDKind int

const (
	// FDRegular is a host-backed regular file.
	FDRegular FDKind = iota
	// FDVirtual is an emulator-generated file backed by a temporary host
	// file that is unlinked when the guest closes it (e.g. /proc/self/maps).
	FDVirtual
	// FDPipe is one end of a host pipe.
	FDPipe
	// FDSocket is a host socket.
	FDSocket
	// FDStd is one of the inherited stdin/stdout/stderr descriptors.
	FDStd
)

// FDEntry is one row of the file-descriptor table (spec §3).
type FDEntry struct {
	GuestFD int
	HostFD  int
	Kind    FDKind
	Path    string
	Flags   uint32
}

// FDTable is the bidirectional guest<->host fd mapping (spec §4.3). It may
// be shared between contexts cloned without CLONE_FILES unset, i.e.
// created with fd-table sharing requested.
type FDTable struct {
	mu      sync.Mutex
	entries map[int]*FDEntry
	byHost  map[int]int // host fd -> guest fd
	refs    int32
}

// NewFDTable creates a table with guest fds 0/1/2 wired to the host's
// stdin/stdout/stderr (spec §3 invariant).
func NewFDTable() *FDTable {
	t := &FDTable{
		entries: make(map[int]*FDEntry),
		byHost:  make(map[int]int),
		refs:    1,
	}
	t.entries[0] = &FDEntry{GuestFD: 0, HostFD: int(os.Stdin.Fd()), Kind: FDStd}
	t.entries[1] = &FDEntry{GuestFD: 1, HostFD: int(os.Stdout.Fd()), Kind: FDStd}
	t.entries[2] = &FDEntry{GuestFD: 2, HostFD: int(os.Stderr.Fd()), Kind: FDStd}
	for gfd, e := range t.entries {
		t.byHost[e.HostFD] = gfd
	}
	return t
}

// IncRef records an additional fd-table-sharing owner.
func (t *FDTable) IncRef() {
	t.mu.Lock()
	t.refs++
	t.mu.Unlock()
}

// DecRef releases one owner, returning true if this was the last.
func (t *FDTable) DecRef() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refs--
	return t.refs == 0
}

// Fork returns an independent copy of t for a clone that does not share
// the fd table, duplicating each host fd so the two tables are truly
// independent (closing one side does not affect the other).
func (t *FDTable) Fork() (*FDTable, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := &FDTable{
		entries: make(map[int]*FDEntry, len(t.entries)),
		byHost:  make(map[int]int, len(t.entries)),
		refs:    1,
	}
	for gfd, e := range t.entries {
		hostFD := e.HostFD
		if e.Kind != FDStd {
			dup, err := unix.Dup(e.HostFD)
			if err != nil {
				return nil, err
			}
			hostFD = dup
		}
		ce := *e
		ce.HostFD = hostFD
		cp.entries[gfd] = &ce
		cp.byHost[hostFD] = gfd
	}
	return cp, nil
}

// New allocates the lowest free guest fd >= 3 and installs entry there,
// per spec §4.3.
func (t *FDTable) New(kind FDKind, hostFD int, path string, flags uint32) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	gfd := 3
	for {
		if _, used := t.entries[gfd]; !used {
			break
		}
		gfd++
	}
	e := &FDEntry{GuestFD: gfd, HostFD: hostFD, Kind: kind, Path: path, Flags: flags}
	t.entries[gfd] = e
	t.byHost[hostFD] = gfd
	return gfd
}

// NewAt installs entry at exactly guestFD (used at startup for fds 0/1/2
// and by dup2-like operations), overwriting anything already there.
func (t *FDTable) NewAt(guestFD int, kind FDKind, hostFD int, path string, flags uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[guestFD] = &FDEntry{GuestFD: guestFD, HostFD: hostFD, Kind: kind, Path: path, Flags: flags}
	t.byHost[hostFD] = guestFD
}

// Get returns the entry for guestFD, or nil if there is none.
func (t *FDTable) Get(guestFD int) *FDEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[guestFD]
}

// Free removes guestFD's entry, unlinking its backing host file first if
// it is a virtual entry (spec §4.3, §4.10). Guest fds 0/1/2 are never
// actually closed: the entry is left in place and Free reports success
// as if the close happened, per spec §3's std-fd invariant.
func (t *FDTable) Free(guestFD int) *FDEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[guestFD]
	if !ok {
		return nil
	}
	if e.Kind == FDStd {
		return e
	}
	delete(t.entries, guestFD)
	delete(t.byHost, e.HostFD)
	if e.Kind == FDVirtual && e.Path != "" {
		os.Remove(e.Path)
	}
	return e
}

// HostFDOf returns the host fd backing guestFD, or -1 if none.
func (t *FDTable) HostFDOf(guestFD int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[guestFD]; ok {
		return e.HostFD
	}
	return -1
}

// GuestFDOf returns the guest fd backed by hostFD, or -1 if none.
func (t *FDTable) GuestFDOf(hostFD int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gfd, ok := t.byHost[hostFD]; ok {
		return gfd
	}
	return -1
}

// Len reports the number of live entries, used by round-trip tests (spec
// §8: "open then close restores the fd table size").
func (t *FDTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
