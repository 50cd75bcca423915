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

// Package mm implements the guest virtual-address space: a page-granular
// map of page-aligned address to page record, the downward-growing mmap
// allocator, and brk/mmap/munmap/mremap/mprotect (spec §3, §4.4).
//
// A single Memory may be shared between several kernel.Context values
// created with VM-sharing clone; sharing is expressed by holding the same
// *Memory pointer and bumping its refcount, not by copying data (spec §3
// invariant: "exactly one owner of each Memory handle per sharing group").
package mm

import (
	"sync"

	"github.com/google/btree"
	"github.com/mohae/deepcopy"

	"github.com/lucidvm/sentry32/pkg/abi/guest"
)

// Perm is a page permission bit-set. PermInit marks pages filled by
// PopulateFromReader; Write clears it on the pages it touches (first
// touch), while Read and Access leave it set.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
	PermInit
)

// Has reports whether all bits of want are set in p.
func (p Perm) Has(want Perm) bool { return p&want == want }

type page struct {
	data []byte
	perm Perm
}

// extent is a half-open mapped address range [Start, End), used to index
// the occupied regions of the address space for the downward allocator
// (spec §4.4 map_space_down) and for brk's overlap check.
type extent struct {
	Start, End uint32
}

// Less implements btree.Item, ordering extents by start address.
func (e extent) Less(than btree.Item) bool {
	return e.Start < than.(extent).Start
}

// Memory is one guest address space. It is safe for concurrent use, though
// the cooperative scheduler in practice serializes access to a shared
// Memory to the duration of one syscall (spec §9).
type Memory struct {
	mu sync.Mutex

	pages   map[uint32]*page
	mapped  *btree.BTree // of extent, non-overlapping, merged
	heapBreak uint32
	heapStart uint32

	refs int32
}

// New creates a Memory with the given initial program break.
func New(heapStart uint32) *Memory {
	return &Memory{
		pages:     make(map[uint32]*page),
		mapped:    btree.New(32),
		heapBreak: heapStart,
		heapStart: heapStart,
		refs:      1,
	}
}

// IncRef records an additional VM-sharing owner.
func (m *Memory) IncRef() {
	m.mu.Lock()
	m.refs++
	m.mu.Unlock()
}

// DecRef releases one VM-sharing owner, returning true if this was the
// last one (spec §3 invariant: refcount drops to zero only when every
// context in the sharing group has exited).
func (m *Memory) DecRef() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs--
	return m.refs == 0
}

// Fork returns a deep, independent copy of m for a clone without
// CLONE_VM (spec §4.6): a write by the parent after the clone must not be
// observed by the child.
func (m *Memory) Fork() *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := &Memory{
		pages:     make(map[uint32]*page, len(m.pages)),
		mapped:    btree.New(32),
		heapBreak: m.heapBreak,
		heapStart: m.heapStart,
		refs:      1,
	}
	for addr, p := range m.pages {
		cp.pages[addr] = &page{data: deepcopy.Copy(p.data).([]byte), perm: p.perm}
	}
	m.mapped.Ascend(func(it btree.Item) bool {
		cp.mapped.ReplaceOrInsert(it.(extent))
		return true
	})
	return cp
}

// HeapBreak returns the current end of the program break.
func (m *Memory) HeapBreak() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heapBreak
}

func pageAddr(addr uint32) uint32 { return guest.PageAlignDown(addr) }

// rangeOverlaps reports whether any extent in m.mapped intersects
// [start, end).
func (m *Memory) rangeOverlaps(start, end uint32) bool {
	overlap := false
	// Any extent starting before `end` could still overlap; walk from the
	// highest extent down, stopping at the first that ends at or before start.
	m.mapped.Descend(func(it btree.Item) bool {
		e := it.(extent)
		if e.Start >= end {
			return true
		}
		if e.End > start {
			overlap = true
		}
		return e.End > start // keep scanning while extents could still overlap
	})
	return overlap
}

// insertExtent adds [start, end) to the mapped-range index, merging with
// adjacent/overlapping extents.
func (m *Memory) insertExtent(start, end uint32) {
	var toRemove []extent
	m.mapped.Ascend(func(it btree.Item) bool {
		e := it.(extent)
		if e.End < start || e.Start > end {
			return true
		}
		if e.Start < start {
			start = e.Start
		}
		if e.End > end {
			end = e.End
		}
		toRemove = append(toRemove, e)
		return true
	})
	for _, e := range toRemove {
		m.mapped.Delete(e)
	}
	m.mapped.ReplaceOrInsert(extent{start, end})
}

// removeExtent removes [start, end) from the mapped-range index, splitting
// any extent that only partially overlaps it.
func (m *Memory) removeExtent(start, end uint32) {
	var toRemove []extent
	var toAdd []extent
	m.mapped.Ascend(func(it btree.Item) bool {
		e := it.(extent)
		if e.End <= start || e.Start >= end {
			return true
		}
		toRemove = append(toRemove, e)
		if e.Start < start {
			toAdd = append(toAdd, extent{e.Start, start})
		}
		if e.End > end {
			toAdd = append(toAdd, extent{end, e.End})
		}
		return true
	})
	for _, e := range toRemove {
		m.mapped.Delete(e)
	}
	for _, e := range toAdd {
		m.mapped.ReplaceOrInsert(e)
	}
}

// mapPages installs fresh, zeroed pages covering [start, end) with perm,
// unconditionally discarding anything already mapped there.
func (m *Memory) mapPages(start, end uint32, perm Perm) {
	for addr := start; addr < end; addr += guest.MemPageSize {
		m.pages[addr] = &page{data: make([]byte, guest.MemPageSize), perm: perm}
	}
	m.insertExtent(start, end)
}

// unmapPages removes pages covering [start, end).
func (m *Memory) unmapPages(start, end uint32) {
	for addr := start; addr < end; addr += guest.MemPageSize {
		delete(m.pages, addr)
	}
	m.removeExtent(start, end)
}

// Brk implements the brk(2) handler's address-space mutation (spec §4.4).
// newBreak == 0 returns the current break without mutating anything.
func (m *Memory) Brk(newBreak uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if newBreak == 0 {
		return m.heapBreak, nil
	}

	oldAligned := guest.PageRound(m.heapBreak - m.heapStart) + m.heapStart
	newAligned := guest.PageRound(newBreak-m.heapStart) + m.heapStart

	if newBreak < m.heapBreak {
		// Shrink: always succeeds; free pages above the new break.
		if newAligned < oldAligned {
			m.unmapPages(newAligned, oldAligned)
		}
		m.heapBreak = newBreak
		return newBreak, nil
	}

	if newAligned > oldAligned {
		if m.rangeOverlaps(oldAligned, newAligned) {
			// POSIX semantics: overlap with an existing mapping fails the
			// call, returning the old break (spec §4.4).
			return m.heapBreak, nil
		}
		m.mapPages(oldAligned, newAligned, PermRead|PermWrite)
	}
	m.heapBreak = newBreak
	return newBreak, nil
}

// MapFixed installs len bytes (rounded up) of perm-protected pages at the
// exact address addr, discarding any existing mapping in the range (spec
// §4.4 MAP_FIXED).
func (m *Memory) MapFixed(addr, length uint32, perm Perm) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := addr + guest.PageRound(length)
	m.unmapPages(addr, end)
	m.mapPages(addr, end, perm)
	return addr
}

// MapSpaceDown implements the sole non-fixed mmap placement policy (spec
// §4.4): search at or below hint for a free run of length bytes (rounded
// up to whole pages); on failure,
// fall back to guest.MmapFallbackBase and search downward from there.
// minAddr bounds how far down the search may go before failing.
func (m *Memory) MapSpaceDown(hint uint32, length uint32, minAddr uint32) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := guest.PageRound(length)
	if addr, ok := m.findSpaceDown(hint, size, minAddr); ok {
		return addr, true
	}
	if hint != guest.MmapFallbackBase {
		if addr, ok := m.findSpaceDown(guest.MmapFallbackBase, size, minAddr); ok {
			return addr, true
		}
	}
	return 0, false
}

// findSpaceDown walks mapped extents descending from hint, returning the
// highest address <= hint at which size contiguous bytes are free.
func (m *Memory) findSpaceDown(hint, size, minAddr uint32) (uint32, bool) {
	candidate := guest.PageAlignDown(hint)
	if candidate < minAddr || candidate+size < candidate {
		// below the search floor, or overflow guard
		return 0, false
	}
	for {
		end := candidate + size
		if !m.rangeOverlaps(candidate, end) {
			return candidate, true
		}
		// Step below the lowest overlapping extent's start.
		var next uint32
		found := false
		m.mapped.Descend(func(it btree.Item) bool {
			e := it.(extent)
			if e.Start < end && e.End > candidate {
				if e.Start >= size {
					next = e.Start - size
				} else {
					next = 0
				}
				found = true
			}
			return true
		})
		if !found || next < minAddr || next >= candidate {
			return 0, false
		}
		candidate = next
	}
}

// MapAnon installs a fresh anonymous mapping at addr (already resolved by
// the caller via MapFixed or MapSpaceDown) with perm.
func (m *Memory) MapAnon(addr, length uint32, perm Perm) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mapPages(addr, addr+guest.PageRound(length), perm)
}

// PopulateFromReader copies data read from r (a host file positioned at
// the mapping's backing offset) into the pages covering [addr, addr+len),
// page by page, tagging the written pages with PermInit until first
// access (spec §4.4 file-backed mmap population).
func (m *Memory) PopulateFromReader(addr, length uint32, perm Perm, read func([]byte) (int, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := addr + guest.PageRound(length)
	m.mapPages(addr, end, perm|PermInit)
	remaining := int(length)
	for a := addr; a < end && remaining > 0; a += guest.MemPageSize {
		p := m.pages[a]
		n := guest.MemPageSize
		if n > remaining {
			n = remaining
		}
		if _, err := read(p.data[:n]); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

// Unmap implements munmap(2) (spec §4.4): addr must be page-aligned, len
// is rounded up.
func (m *Memory) Unmap(addr, length uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmapPages(addr, addr+guest.PageRound(length))
}

// Protect updates the permission bits of every page in [addr, addr+len),
// silently skipping holes (spec §4.4 mprotect).
func (m *Memory) Protect(addr, length uint32, perm Perm) {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := addr + guest.PageRound(length)
	for a := addr; a < end; a += guest.MemPageSize {
		if p, ok := m.pages[a]; ok {
			p.perm = perm
		}
	}
}

// Access reports whether every page in [addr, addr+len) is present, and if
// so whether all of them satisfy want.
func (m *Memory) Access(addr, length uint32, want Perm) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := guest.PageAlignDown(addr)
	end := addr + length
	for a := start; a < end; a += guest.MemPageSize {
		p, ok := m.pages[a]
		if !ok || !p.perm.Has(want) {
			return false
		}
	}
	return true
}

// Region describes one mapped extent for /proc/self/maps rendering
// (spec §4.10); Perm is the permission of the extent's first page.
// Adjacent mappings merge into one extent whatever their permissions, and
// Protect does not split extents, so later pages of an extent may carry a
// different permission than the one reported.
type Region struct {
	Start, End uint32
	Perm       Perm
}

// Regions returns every mapped extent in ascending address order.
func (m *Memory) Regions() []Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Region
	m.mapped.Ascend(func(it btree.Item) bool {
		e := it.(extent)
		perm := PermRead | PermWrite
		if p, ok := m.pages[e.Start]; ok {
			perm = p.perm &^ PermInit
		}
		out = append(out, Region{Start: e.Start, End: e.End, Perm: perm})
		return true
	})
	return out
}

// clearInit drops the PermInit bit on every page touched by [addr,
// addr+n), modeling first-touch (spec §3 invariant).
func (m *Memory) clearInit(addr, n uint32) {
	start := guest.PageAlignDown(addr)
	end := addr + n
	for a := start; a < end; a += guest.MemPageSize {
		if p, ok := m.pages[a]; ok {
			p.perm &^= PermInit
		}
	}
}

// Read copies len(buf) bytes from guest address addr into buf.
func (m *Memory) Read(addr uint32, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forEachByte(addr, len(buf), func(i int, p *page, off int) error {
		buf[i] = p.data[off]
		return nil
	}); err != nil {
		return err
	}
	return nil
}

// Write copies buf into guest memory starting at addr, clearing PermInit
// on touched pages.
func (m *Memory) Write(addr uint32, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forEachByte(addr, len(buf), func(i int, p *page, off int) error {
		p.data[off] = buf[i]
		return nil
	}); err != nil {
		return err
	}
	m.clearInit(addr, uint32(len(buf)))
	return nil
}

// Zero fills n bytes at addr with zero.
func (m *Memory) Zero(addr uint32, n uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forEachByte(addr, int(n), func(i int, p *page, off int) error {
		p.data[off] = 0
		return nil
	})
}

// Copy copies n bytes from src to dst within this address space.
func (m *Memory) Copy(dst, src uint32, n uint32) error {
	buf := make([]byte, n)
	if err := m.Read(src, buf); err != nil {
		return err
	}
	return m.Write(dst, buf)
}

// ReadString reads a NUL-terminated string starting at addr, bounded by
// maxLen (the caller's buffer size), per spec §3 ("string reads bounded by
// caller buffer").
func (m *Memory) ReadString(addr uint32, maxLen int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, 0, 64)
	for i := 0; i < maxLen; i++ {
		a := addr + uint32(i)
		p, ok := m.pages[pageAddr(a)]
		if !ok {
			return "", errFault
		}
		b := p.data[a-pageAddr(a)]
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
	return string(buf), nil
}

// forEachByte is the shared bounds-checked byte walker backing
// Read/Write/Zero: it fails fast with errFault if any touched page is
// unmapped.
func (m *Memory) forEachByte(addr uint32, n int, fn func(i int, p *page, off int) error) error {
	for i := 0; i < n; i++ {
		a := addr + uint32(i)
		p, ok := m.pages[pageAddr(a)]
		if !ok {
			return errFault
		}
		if err := fn(i, p, int(a-pageAddr(a))); err != nil {
			return err
		}
	}
	return nil
}

// errFault is returned when a guest memory access touches an unmapped
// page; handlers translate this to -EFAULT.
var errFault = &faultError{}

type faultError struct{}

func (*faultError) Error() string { return "guest memory fault" }

// IsFault reports whether err is a guest memory access fault.
func IsFault(err error) bool {
	_, ok := err.(*faultError)
	return ok
}
