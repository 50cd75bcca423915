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
	"github.com/lucidvm/sentry32/pkg/abi/guest"
	"github.com/lucidvm/sentry32/pkg/sentry/arch"
	"github.com/lucidvm/sentry32/pkg/sentry/kernel"
	"github.com/lucidvm/sentry32/pkg/sentry/mm"
)

// mmapMinAddr is the lowest address the downward allocator will ever
// place a mapping at, mirroring Linux's vm.mmap_min_addr default: distinct
// from guest.MmapFallbackBase, which is only the search's starting hint.
const mmapMinAddr = 0x10000

// Brk implements brk(2) (spec §4.4).
func Brk(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	newBreak := args[0].Uint()
	result, err := ctx.Memory.Brk(newBreak)
	if err != nil {
		return 0, nil, guest.Err(guest.ENOMEM)
	}
	return uintptr(result), nil, nil
}

// permFromProt translates guest PROT_* bits to mm.Perm (identity bit
// layout, asserted equal at startup).
func permFromProt(prot uint32) mm.Perm {
	var p mm.Perm
	if prot&guest.ProtRead != 0 {
		p |= mm.PermRead
	}
	if prot&guest.ProtWrite != 0 {
		p |= mm.PermWrite
	}
	if prot&guest.ProtExec != 0 {
		p |= mm.PermExec
	}
	return p
}

// mmapCommon implements the shared mmap/mmap2 body once the byte offset
// has been recovered (spec §4.4).
func mmapCommon(ctx *kernel.Context, addr, length, prot, flags uint32, hostFD int, offset uint32) (uintptr, error) {
	length = guest.PageRound(length)
	if length == 0 {
		return 0, guest.Err(guest.EINVAL)
	}
	perm := permFromProt(prot)

	if flags&guest.MapFixed != 0 {
		result := ctx.Memory.MapFixed(addr, length, perm)
		if hostFD >= 0 {
			if err := populateFromFD(ctx, result, length, perm, hostFD, offset); err != nil {
				return 0, err
			}
		}
		return uintptr(result), nil
	}

	placed, ok := ctx.Memory.MapSpaceDown(addr, length, mmapMinAddr)
	if !ok {
		return 0, guest.Err(guest.ENOMEM)
	}
	if hostFD >= 0 {
		if err := populateFromFD(ctx, placed, length, perm, hostFD, offset); err != nil {
			return 0, err
		}
	} else {
		ctx.Memory.MapAnon(placed, length, perm)
	}
	return uintptr(placed), nil
}

// populateFromFD maps length bytes at addr and fills them by reading from
// hostFD starting at offset, modeling a file-backed mmap's first-touch
// population (spec §4.4 "init" permission bit).
func populateFromFD(ctx *kernel.Context, addr, length uint32, perm mm.Perm, hostFD int, offset uint32) error {
	read := func(b []byte) (int, error) {
		return fdPread(hostFD, b, int64(offset))
	}
	if err := ctx.Memory.PopulateFromReader(addr, length, perm, read); err != nil {
		return guest.Err(guest.EFAULT)
	}
	return nil
}

// Mmap implements mmap(2), whose offset argument is a byte offset.
func Mmap(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return mmapSyscall(ctx, args, args[5].Uint())
}

// Mmap2 implements mmap2(2), whose offset argument is in 4096-byte units.
func Mmap2(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return mmapSyscall(ctx, args, args[5].Uint()<<guest.MemPageShift)
}

func mmapSyscall(ctx *kernel.Context, args arch.SyscallArguments, offset uint32) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	length := args[1].SizeT()
	prot := args[2].Uint()
	flags := args[3].Uint()
	fd := args[4].Int()

	hostFD := -1
	if flags&guest.MapAnonymous == 0 {
		hostFD = ctx.FDs.HostFDOf(int(fd))
		if hostFD < 0 {
			return 0, nil, guest.Err(guest.EBADF)
		}
	}
	result, err := mmapCommon(ctx, addr, length, prot, flags, hostFD, offset)
	if err != nil {
		return 0, nil, err
	}
	return result, nil, nil
}

// Munmap implements munmap(2).
func Munmap(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	length := guest.PageRound(args[1].SizeT())
	ctx.Memory.Unmap(addr, length)
	return 0, nil, nil
}

// Mprotect implements mprotect(2).
func Mprotect(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	length := guest.PageRound(args[1].SizeT())
	perm := permFromProt(args[2].Uint())
	ctx.Memory.Protect(addr, length, perm)
	return 0, nil, nil
}

// Mremap implements mremap(2) (spec §4.4): shrinking always succeeds by
// unmapping the tail; growing first tries to extend in place, and falls
// back to relocating the whole mapping via the downward allocator when
// MAP_MAYMOVE is set, matching the original's sys_mremap_impl.
func Mremap(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	oldAddr := args[0].Pointer()
	oldSize := guest.PageRound(args[1].SizeT())
	newSize := guest.PageRound(args[2].SizeT())
	flags := args[3].Uint()

	if newSize <= oldSize {
		if newSize < oldSize {
			ctx.Memory.Unmap(oldAddr+newSize, oldSize-newSize)
		}
		return uintptr(oldAddr), nil, nil
	}

	growAddr := oldAddr + oldSize
	growLen := newSize - oldSize
	if addr, ok := ctx.Memory.MapSpaceDown(growAddr, growLen, growAddr); ok && addr == growAddr {
		ctx.Memory.MapAnon(growAddr, growLen, mm.PermRead|mm.PermWrite)
		return uintptr(oldAddr), nil, nil
	}

	if flags&guest.MapMayMove == 0 {
		return 0, nil, kernel.Fatalf("mremap", "growth requires a move but MAP_MAYMOVE is unset")
	}

	newAddr, ok := ctx.Memory.MapSpaceDown(guest.MmapFallbackBase, newSize, mmapMinAddr)
	if !ok {
		return 0, nil, kernel.Fatalf("mremap", "out of guest memory")
	}
	ctx.Memory.MapAnon(newAddr, newSize, mm.PermRead|mm.PermWrite)
	copyLen := oldSize
	if newSize < copyLen {
		copyLen = newSize
	}
	if err := ctx.Memory.Copy(newAddr, oldAddr, copyLen); err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	ctx.Memory.Unmap(oldAddr, oldSize)
	return uintptr(newAddr), nil, nil
}

// Msync implements msync(2) as a no-op: there is no separate backing
// store to flush to since this emulator's file-backed mappings are
// populated once at mmap time and never written back (spec §4.4, §9
// Non-goals).
func Msync(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return 0, nil, nil
}
