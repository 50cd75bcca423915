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

import "golang.org/x/sys/unix"

// Guest open(2) flag bits. O_RDONLY/O_WRONLY/O_RDWR occupy the low two
// bits and match the host; the rest are translated explicitly since their
// guest bit positions are not guaranteed to match the host's (notably
// O_NONBLOCK, which the original emulator calls out by name).
const (
	ORdonly   = 0x00000000
	OWronly   = 0x00000001
	ORdwr     = 0x00000002
	OAccmode  = 0x00000003
	OCreat    = 0x00000040
	OExcl     = 0x00000080
	ONoctty   = 0x00000100
	OTrunc    = 0x00000200
	OAppend   = 0x00000400
	ONonblock = 0x00000800
	ODirect   = 0x00004000
	ODirectory = 0x00010000
)

// openFlagsMap names each guest open(2) flag bit so OpenFlagsTrace can
// decompose a mask for trace; the guest->host bit translation itself is
// done by the open(2) handler.
var openFlagsMap = NewStringMap(
	namedBit{"O_CREAT", OCreat}, namedBit{"O_EXCL", OExcl},
	namedBit{"O_NOCTTY", ONoctty}, namedBit{"O_TRUNC", OTrunc},
	namedBit{"O_APPEND", OAppend}, namedBit{"O_NONBLOCK", ONonblock},
	namedBit{"O_DIRECT", ODirect}, namedBit{"O_DIRECTORY", ODirectory},
)

// OpenFlagsTrace renders a guest open(2) flags value for the debug tracer.
func OpenFlagsTrace(flags uint32) string {
	accmode := flags & OAccmode
	var base string
	switch accmode {
	case OWronly:
		base = "O_WRONLY"
	case ORdwr:
		base = "O_RDWR"
	default:
		base = "O_RDONLY"
	}
	rest := openFlagsMap.Bitmap(uint64(flags &^ OAccmode))
	if rest == "0" {
		return base
	}
	return base + "|" + rest
}

// PROT_* bits for mmap/mprotect. These match the host 1:1 (asserted in
// assertProtAndMapMatch) so no runtime translation is needed.
const (
	ProtNone  = 0x0
	ProtRead  = 0x1
	ProtWrite = 0x2
	ProtExec  = 0x4
)

// MAP_* bits for mmap. These match the host 1:1 on x86 Linux.
const (
	MapShared    = 0x01
	MapPrivate   = 0x02
	MapFixed     = 0x10
	MapAnonymous = 0x20
	MapMayMove   = 0x01 // mremap-only flag namespace
)

// Wait option bits for waitpid(2) (spec §4.3).
const (
	WNoHang   = 0x00000001
	WUntraced = 0x00000002
)

// namedBit is a (name, value) pair used to build StringMaps of flag bits.
type namedBit = struct {
	Name  string
	Value uint64
}

func init() {
	assertProtAndMapMatch()
}

// assertProtAndMapMatch halts startup if the PROT_*/MAP_* constants this
// emulator hardcodes disagree with the host's, per spec §4.2.
func assertProtAndMapMatch() {
	type pair struct {
		name        string
		guest, host int
	}
	pairs := []pair{
		{"PROT_READ", ProtRead, unix.PROT_READ},
		{"PROT_WRITE", ProtWrite, unix.PROT_WRITE},
		{"PROT_EXEC", ProtExec, unix.PROT_EXEC},
		{"MAP_SHARED", MapShared, unix.MAP_SHARED},
		{"MAP_PRIVATE", MapPrivate, unix.MAP_PRIVATE},
		{"MAP_FIXED", MapFixed, unix.MAP_FIXED},
		{"MAP_ANONYMOUS", MapAnonymous, unix.MAP_ANONYMOUS},
	}
	for _, p := range pairs {
		if p.guest != p.host {
			panic("guest/host mismatch for " + p.name)
		}
	}
}

// MmapFallbackBase is the fixed base the downward allocator retries from
// when a hinted placement search fails (spec §4.4).
const MmapFallbackBase = 0xb7fb0000

// MemPageShift is the shift mmap2's page-unit offset argument is left by
// to recover a byte offset.
const MemPageShift = 12

// MemPageSize and MemPageMask follow from MemPageShift.
const (
	MemPageSize = 1 << MemPageShift
	MemPageMask = MemPageSize - 1
)

// PageRound rounds addr/len up to the next page boundary.
func PageRound(n uint32) uint32 {
	return (n + MemPageMask) &^ MemPageMask
}

// PageAlignDown rounds addr down to the previous page boundary.
func PageAlignDown(addr uint32) uint32 {
	return addr &^ MemPageMask
}

// IsPageAligned reports whether addr is page-aligned.
func IsPageAligned(addr uint32) bool {
	return addr&MemPageMask == 0
}
