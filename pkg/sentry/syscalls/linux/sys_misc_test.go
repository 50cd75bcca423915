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
	"encoding/binary"
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/lucidvm/sentry32/pkg/sentry/arch"
	"github.com/lucidvm/sentry32/pkg/sentry/kernel"
)

func encodeUserDesc(entryNumber, baseAddr, limit uint32, seg32Bit, limitInPages bool) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], entryNumber)
	binary.LittleEndian.PutUint32(buf[4:8], baseAddr)
	binary.LittleEndian.PutUint32(buf[8:12], limit)
	var bits uint32
	if seg32Bit {
		bits |= 0x1
	}
	if limitInPages {
		bits |= 0x10
	}
	binary.LittleEndian.PutUint32(buf[12:16], bits)
	return buf
}

func TestNewunameWritesIdentity(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Memory.MapAnon(0x08050000, 0x1000, 1|2)

	_, ctl, err := Newuname(ctx, arch.SyscallArguments{{0x08050000}})
	if err != nil || ctl != nil {
		t.Fatalf("Newuname = (ctl=%v, err=%v)", ctl, err)
	}
	buf := make([]byte, Uname.Size())
	ctx.Memory.Read(0x08050000, buf)
	sysname := string(buf[:65])
	sysname = sysname[:strings.IndexByte(sysname, 0)]
	if sysname != "Linux" {
		t.Fatalf("sysname = %q, want Linux", sysname)
	}
}

func TestSetThreadAreaAutoAllocatesEntrySix(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Memory.MapAnon(0x08050000, 0x1000, 1|2)
	ctx.Memory.Write(0x08050000, encodeUserDesc(0xffffffff, 0xdeadbeef, 0xfffff, true, true))

	_, ctl, err := SetThreadArea(ctx, arch.SyscallArguments{{0x08050000}})
	if err != nil || ctl != nil {
		t.Fatalf("SetThreadArea = (ctl=%v, err=%v)", ctl, err)
	}
	if ctx.TLSEntryNumber != 6 || ctx.TLSBase != 0xdeadbeef {
		t.Fatalf("TLSEntryNumber=%d TLSBase=%#x, want 6 / 0xdeadbeef", ctx.TLSEntryNumber, ctx.TLSBase)
	}
	if ctx.TLSLimit != 0xfffff<<12 {
		t.Fatalf("TLSLimit = %#x, want limit-in-pages shifted value", ctx.TLSLimit)
	}

	written := make([]byte, 4)
	ctx.Memory.Read(0x08050000, written)
	if binary.LittleEndian.Uint32(written) != 6 {
		t.Fatalf("entry_number written back = %d, want 6", binary.LittleEndian.Uint32(written))
	}
}

func TestSetThreadAreaRejects16BitSegment(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Memory.MapAnon(0x08050000, 0x1000, 1|2)
	ctx.Memory.Write(0x08050000, encodeUserDesc(0xffffffff, 0, 0, false, false))

	_, _, err := SetThreadArea(ctx, arch.SyscallArguments{{0x08050000}})
	if err == nil || !kernel.IsFatal(err) {
		t.Fatalf("SetThreadArea(16-bit segment) = %v, want fatal", err)
	}
}

func TestSetThreadAreaUpdatesExistingEntry(t *testing.T) {
	ctx := newTestContext(t)
	ctx.TLSBase = 0x1000
	ctx.Memory.MapAnon(0x08050000, 0x1000, 1|2)
	ctx.Memory.Write(0x08050000, encodeUserDesc(6, 0x2000, 0, true, false))

	_, _, err := SetThreadArea(ctx, arch.SyscallArguments{{0x08050000}})
	if err != nil {
		t.Fatalf("SetThreadArea(update): %v", err)
	}
	if ctx.TLSBase != 0x2000 {
		t.Fatalf("TLSBase = %#x, want 0x2000", ctx.TLSBase)
	}
}

func TestSocketcallUnsupportedCallIsFatal(t *testing.T) {
	ctx := newTestContext(t)
	_, _, err := Socketcall(ctx, arch.SyscallArguments{{99}, {0}})
	if err == nil || !kernel.IsFatal(err) {
		t.Fatalf("Socketcall(unsupported) = %v, want fatal", err)
	}
}

func TestSocketcallSocketCreatesStreamSocket(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Memory.MapAnon(0x08050000, 0x1000, 1|2)
	argBuf := make([]byte, 12)
	binary.LittleEndian.PutUint32(argBuf[0:4], unix.AF_INET)
	binary.LittleEndian.PutUint32(argBuf[4:8], unix.SOCK_STREAM)
	binary.LittleEndian.PutUint32(argBuf[8:12], 0)
	ctx.Memory.Write(0x08050000, argBuf)

	result, ctl, err := Socketcall(ctx, arch.SyscallArguments{{1}, {0x08050000}})
	if err != nil || ctl != nil {
		t.Fatalf("Socketcall(socket) = (ctl=%v, err=%v)", ctl, err)
	}
	e := ctx.FDs.Get(int(result))
	if e == nil || e.Kind != kernel.FDSocket {
		t.Fatalf("entry = %+v, want FDSocket", e)
	}
	unix.Close(e.HostFD)
}

func TestDecodeEncodeSockaddrRoundTrip(t *testing.T) {
	raw := make([]byte, 8)
	raw[0] = unix.AF_INET
	raw[1] = 0
	raw[2] = 0x1f // port high byte (8000 = 0x1f40)
	raw[3] = 0x40
	raw[4], raw[5], raw[6], raw[7] = 127, 0, 0, 1

	sa, err := decodeSockaddr(raw)
	if err != nil {
		t.Fatalf("decodeSockaddr: %v", err)
	}
	inet, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		t.Fatalf("decodeSockaddr returned %T, want *unix.SockaddrInet4", sa)
	}
	if inet.Port != 8000 || inet.Addr != [4]byte{127, 0, 0, 1} {
		t.Fatalf("decoded sockaddr = %+v, want port 8000 addr 127.0.0.1", inet)
	}

	encoded := encodeSockaddr(inet)
	if len(encoded) != 16 {
		t.Fatalf("encodeSockaddr length = %d, want 16", len(encoded))
	}
	if encoded[2] != 0x1f || encoded[3] != 0x40 {
		t.Fatalf("encoded port bytes = %v, want [0x1f 0x40]", encoded[2:4])
	}
	if encoded[4] != 127 || encoded[7] != 1 {
		t.Fatalf("encoded address bytes = %v, want 127.x.x.1", encoded[4:8])
	}
}

func TestDecodeSockaddrRejectsUnknownFamily(t *testing.T) {
	raw := make([]byte, 8)
	raw[0], raw[1] = 0xff, 0xff
	if _, err := decodeSockaddr(raw); err == nil || !kernel.IsFatal(err) {
		t.Fatalf("decodeSockaddr(unknown family) = %v, want fatal", err)
	}
}
