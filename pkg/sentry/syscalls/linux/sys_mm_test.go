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

package linux

import (
	"testing"

	"github.com/lucidvm/sentry32/pkg/abi/guest"
	"github.com/lucidvm/sentry32/pkg/sentry/arch"
	"github.com/lucidvm/sentry32/pkg/sentry/kernel"
	"github.com/lucidvm/sentry32/pkg/sentry/mm"
)

func TestBrkGrows(t *testing.T) {
	ctx := newTestContext(t)
	target := ctx.Memory.HeapBreak() + guest.MemPageSize

	result, ctl, err := Brk(ctx, arch.SyscallArguments{{target}})
	if err != nil || ctl != nil {
		t.Fatalf("Brk = (ctl=%v, err=%v)", ctl, err)
	}
	if uint32(result) != target {
		t.Fatalf("Brk returned %#x, want %#x", result, target)
	}
	if !ctx.Memory.Access(ctx.Memory.HeapBreak()-guest.MemPageSize, 4, mm.PermRead|mm.PermWrite) {
		t.Fatal("grown heap page is not readable/writable")
	}
}

func TestMmapAnonymousRoundTrip(t *testing.T) {
	ctx := newTestContext(t)
	result, ctl, err := Mmap(ctx, arch.SyscallArguments{
		{0}, {guest.MemPageSize}, {guest.ProtRead | guest.ProtWrite}, {guest.MapAnonymous}, {uint32(int32(-1))}, {0},
	})
	if err != nil || ctl != nil {
		t.Fatalf("Mmap = (ctl=%v, err=%v)", ctl, err)
	}
	if !ctx.Memory.Access(uint32(result), 4, mm.PermRead|mm.PermWrite) {
		t.Fatal("mmap'd region is not accessible")
	}
}

func TestMmapFixedOverwritesInPlace(t *testing.T) {
	ctx := newTestContext(t)
	const addr = 0x20000000
	ctx.Memory.MapAnon(addr, guest.MemPageSize, mm.PermRead)

	result, ctl, err := Mmap(ctx, arch.SyscallArguments{
		{addr}, {guest.MemPageSize}, {guest.ProtRead | guest.ProtWrite}, {guest.MapAnonymous | guest.MapFixed}, {uint32(int32(-1))}, {0},
	})
	if err != nil || ctl != nil {
		t.Fatalf("Mmap(MAP_FIXED) = (ctl=%v, err=%v)", ctl, err)
	}
	if uint32(result) != addr {
		t.Fatalf("Mmap(MAP_FIXED) returned %#x, want %#x", result, uint32(addr))
	}
	if !ctx.Memory.Access(addr, 4, mm.PermWrite) {
		t.Fatal("MAP_FIXED did not install the new (writable) permission")
	}
}

func TestMunmapRemovesAccess(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Memory.MapAnon(0x30000000, guest.MemPageSize, mm.PermRead)

	_, ctl, err := Munmap(ctx, arch.SyscallArguments{{0x30000000}, {guest.MemPageSize}})
	if err != nil || ctl != nil {
		t.Fatalf("Munmap = (ctl=%v, err=%v)", ctl, err)
	}
	if ctx.Memory.Access(0x30000000, 4, mm.PermRead) {
		t.Fatal("region still accessible after Munmap")
	}
}

func TestMprotectChangesPermission(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Memory.MapAnon(0x40000000, guest.MemPageSize, mm.PermRead)

	_, ctl, err := Mprotect(ctx, arch.SyscallArguments{{0x40000000}, {guest.MemPageSize}, {guest.ProtRead | guest.ProtWrite}})
	if err != nil || ctl != nil {
		t.Fatalf("Mprotect = (ctl=%v, err=%v)", ctl, err)
	}
	if !ctx.Memory.Access(0x40000000, 4, mm.PermWrite) {
		t.Fatal("region not writable after Mprotect")
	}
}

func TestMremapShrinkUnmapsTail(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Memory.MapAnon(0x50000000, guest.MemPageSize*2, mm.PermRead|mm.PermWrite)

	result, ctl, err := Mremap(ctx, arch.SyscallArguments{{0x50000000}, {guest.MemPageSize * 2}, {guest.MemPageSize}, {0}})
	if err != nil || ctl != nil {
		t.Fatalf("Mremap(shrink) = (ctl=%v, err=%v)", ctl, err)
	}
	if uint32(result) != 0x50000000 {
		t.Fatalf("Mremap(shrink) returned %#x, want unchanged base", result)
	}
	if ctx.Memory.Access(0x50000000+guest.MemPageSize, 4, mm.PermRead) {
		t.Fatal("tail page still accessible after shrinking Mremap")
	}
	if !ctx.Memory.Access(0x50000000, 4, mm.PermRead) {
		t.Fatal("retained head page lost accessibility after shrinking Mremap")
	}
}

func TestMremapGrowsInPlaceWhenFollowingSpaceIsFree(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Memory.MapAnon(0x51000000, guest.MemPageSize, mm.PermRead|mm.PermWrite)

	result, ctl, err := Mremap(ctx, arch.SyscallArguments{
		{0x51000000}, {guest.MemPageSize}, {guest.MemPageSize * 2}, {0},
	})
	if err != nil || ctl != nil {
		t.Fatalf("Mremap(grow in place) = (ctl=%v, err=%v)", ctl, err)
	}
	if uint32(result) != 0x51000000 {
		t.Fatalf("Mremap(grow in place) returned %#x, want unchanged base", result)
	}
	if !ctx.Memory.Access(0x51000000+guest.MemPageSize, 4, mm.PermRead|mm.PermWrite) {
		t.Fatal("grown tail page is not accessible")
	}
}

func TestMremapGrowWithoutMayMoveIsFatalWhenInPlaceFails(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Memory.MapAnon(0x52000000, guest.MemPageSize, mm.PermRead|mm.PermWrite)
	// Occupy the page immediately after, forcing the in-place grow to fail.
	ctx.Memory.MapAnon(0x52000000+guest.MemPageSize, guest.MemPageSize, mm.PermRead)

	_, _, err := Mremap(ctx, arch.SyscallArguments{
		{0x52000000}, {guest.MemPageSize}, {guest.MemPageSize * 2}, {0},
	})
	if !kernel.IsFatal(err) {
		t.Fatalf("Mremap(grow blocked, no MAP_MAYMOVE) = %v, want a fatal error", err)
	}
}

func TestMremapMovesAndCopiesDataWhenMayMoveSet(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Memory.MapAnon(0x53000000, guest.MemPageSize, mm.PermRead|mm.PermWrite)
	ctx.Memory.MapAnon(0x53000000+guest.MemPageSize, guest.MemPageSize, mm.PermRead)
	if err := ctx.Memory.Write(0x53000000, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	result, ctl, err := Mremap(ctx, arch.SyscallArguments{
		{0x53000000}, {guest.MemPageSize}, {guest.MemPageSize * 2}, {guest.MapMayMove},
	})
	if err != nil || ctl != nil {
		t.Fatalf("Mremap(move) = (ctl=%v, err=%v)", ctl, err)
	}
	newAddr := uint32(result)
	if newAddr == 0x53000000 {
		t.Fatal("Mremap(move) returned the old address")
	}
	if ctx.Memory.Access(0x53000000, 4, 0) {
		t.Fatal("old region still mapped after Mremap(move)")
	}
	buf := make([]byte, 4)
	if err := ctx.Memory.Read(newAddr, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if buf[0] != 1 || buf[1] != 2 || buf[2] != 3 || buf[3] != 4 {
		t.Fatalf("Mremap(move) did not copy old contents, got %v", buf)
	}
	if !ctx.Memory.Access(newAddr, guest.MemPageSize*2, mm.PermRead|mm.PermWrite) {
		t.Fatal("moved region is not fully accessible at the new size")
	}
}

func TestMmap2OffsetIsPageUnits(t *testing.T) {
	ctx := newTestContext(t)
	result, ctl, err := Mmap2(ctx, arch.SyscallArguments{
		{0}, {guest.MemPageSize}, {guest.ProtRead}, {guest.MapAnonymous}, {uint32(int32(-1))}, {1},
	})
	if err != nil || ctl != nil {
		t.Fatalf("Mmap2 = (ctl=%v, err=%v)", ctl, err)
	}
	if !ctx.Memory.Access(uint32(result), 4, mm.PermRead) {
		t.Fatal("mmap2'd region is not accessible")
	}
}

func TestMsyncIsNoop(t *testing.T) {
	ctx := newTestContext(t)
	result, ctl, err := Msync(ctx, arch.SyscallArguments{{0}, {0}, {0}})
	if err != nil || ctl != nil || result != 0 {
		t.Fatalf("Msync = (%d, %v, %v), want (0, nil, nil)", result, ctl, err)
	}
}
