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
	"golang.org/x/sys/unix"

	"github.com/lucidvm/sentry32/pkg/abi/guest"
	"github.com/lucidvm/sentry32/pkg/sentry/arch"
	"github.com/lucidvm/sentry32/pkg/sentry/kernel"
)

// Uname is the fixed identity this emulator reports through newuname(2);
// package-level so a CLI flag or test can override it before Dispatch
// runs.
var Uname = guest.Utsname{}

func init() {
	guest.SetString(&Uname.Sysname, "Linux")
	guest.SetString(&Uname.Nodename, "sentry32")
	guest.SetString(&Uname.Release, "2.6.32-sentry32")
	guest.SetString(&Uname.Version, "#1")
	guest.SetString(&Uname.Machine, "i686")
}

// Newuname implements newuname(2).
func Newuname(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	buf := make([]byte, Uname.Size())
	Uname.Marshal(buf)
	if err := ctx.Memory.Write(args[0].Pointer(), buf); err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	return 0, nil, nil
}

// SetThreadArea implements set_thread_area(2) (spec §4.6, §6): only
// 32-bit segments are supported, and the entry number is always assigned
// 6 when the guest requests automatic allocation (entry_number == -1).
func SetThreadArea(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	var desc guest.UserDesc
	buf := make([]byte, desc.Size())
	if err := ctx.Memory.Read(addr, buf); err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	desc.Unmarshal(buf)
	if !desc.Seg32Bit {
		return 0, nil, kernel.Fatalf("set_thread_area", "only 32-bit segments supported")
	}
	limit := desc.Limit
	if desc.LimitInPages {
		limit <<= guest.MemPageShift
	}

	if int32(desc.EntryNumber) == -1 {
		if ctx.TLSBase != 0 {
			return 0, nil, kernel.Fatalf("set_thread_area", "glibc segment already set")
		}
		ctx.TLSEntryNumber = 6
		ctx.TLSBase = desc.BaseAddr
		ctx.TLSLimit = limit
		var out [4]byte
		out[0], out[1], out[2], out[3] = 6, 0, 0, 0
		if err := ctx.Memory.Write(addr, out[:]); err != nil {
			return 0, nil, guest.Err(guest.EFAULT)
		}
		return 0, nil, nil
	}
	if desc.EntryNumber != 6 {
		return 0, nil, kernel.Fatalf("set_thread_area", "invalid entry number %d", desc.EntryNumber)
	}
	if ctx.TLSBase == 0 {
		return 0, nil, kernel.Fatalf("set_thread_area", "glibc segment not set")
	}
	ctx.TLSBase = desc.BaseAddr
	ctx.TLSLimit = limit
	return 0, nil, nil
}

// socketcall call codes this emulator recognizes (spec §6's supported
// subset: socket/connect/getpeername).
const (
	sysSocket      = 1
	sysConnect     = 3
	sysGetpeername = 7
)

// Socketcall implements the socketcall(2) multiplexer for its supported
// subset (spec §6). The argument vector is read from guest memory at
// args[1], matching the original's single indirect-args-block ABI.
func Socketcall(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	call := args[0].Uint()
	argsAddr := args[1].Pointer()

	switch call {
	case sysSocket:
		return socketcallSocket(ctx, argsAddr)
	case sysConnect:
		return socketcallConnect(ctx, argsAddr)
	case sysGetpeername:
		return socketcallGetpeername(ctx, argsAddr)
	default:
		return 0, nil, kernel.Fatalf("socketcall", "unsupported call %d", call)
	}
}

func readU32(ctx *kernel.Context, addr uint32) (uint32, error) {
	var buf [4]byte
	if err := ctx.Memory.Read(addr, buf[:]); err != nil {
		return 0, guest.Err(guest.EFAULT)
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

func socketcallSocket(ctx *kernel.Context, argsAddr uint32) (uintptr, *kernel.SyscallControl, error) {
	family, err := readU32(ctx, argsAddr)
	if err != nil {
		return 0, nil, err
	}
	typ, err := readU32(ctx, argsAddr+4)
	if err != nil {
		return 0, nil, err
	}
	protocol, err := readU32(ctx, argsAddr+8)
	if err != nil {
		return 0, nil, err
	}
	if typ&0xff != unix.SOCK_STREAM {
		return 0, nil, kernel.Fatalf("socketcall", "only SOCK_STREAM supported, got type 0x%x", typ)
	}
	hostFD, serr := unix.Socket(int(family), int(typ&0xff), int(protocol))
	if serr != nil {
		return 0, nil, guest.Err(guest.FromHost(serr))
	}
	gfd := ctx.FDs.New(kernel.FDSocket, hostFD, "", guest.ORdwr)
	return uintptr(gfd), nil, nil
}

func socketcallConnect(ctx *kernel.Context, argsAddr uint32) (uintptr, *kernel.SyscallControl, error) {
	gfd, err := readU32(ctx, argsAddr)
	if err != nil {
		return 0, nil, err
	}
	addrPtr, err := readU32(ctx, argsAddr+4)
	if err != nil {
		return 0, nil, err
	}
	addrLen, err := readU32(ctx, argsAddr+8)
	if err != nil {
		return 0, nil, err
	}
	if addrLen < 2 || addrLen > 256 {
		return 0, nil, kernel.Fatalf("socketcall", "connect: implausible addrlen %d", addrLen)
	}
	raw := make([]byte, addrLen)
	if rerr := ctx.Memory.Read(addrPtr, raw); rerr != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}

	hostFD := ctx.FDs.HostFDOf(int(gfd))
	if hostFD < 0 {
		return 0, nil, guest.Err(guest.EBADF)
	}
	sa, serr := decodeSockaddr(raw)
	if serr != nil {
		return 0, nil, serr
	}
	if cerr := unix.Connect(hostFD, sa); cerr != nil {
		return 0, nil, guest.Err(guest.FromHost(cerr))
	}
	return 0, nil, nil
}

func socketcallGetpeername(ctx *kernel.Context, argsAddr uint32) (uintptr, *kernel.SyscallControl, error) {
	gfd, err := readU32(ctx, argsAddr)
	if err != nil {
		return 0, nil, err
	}
	addrPtr, err := readU32(ctx, argsAddr+4)
	if err != nil {
		return 0, nil, err
	}
	hostFD := ctx.FDs.HostFDOf(int(gfd))
	if hostFD < 0 {
		return 0, nil, guest.Err(guest.EBADF)
	}
	sa, serr := unix.Getpeername(hostFD)
	if serr != nil {
		return 0, nil, guest.Err(guest.FromHost(serr))
	}
	raw := encodeSockaddr(sa)
	if werr := ctx.Memory.Write(addrPtr, raw); werr != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	return 0, nil, nil
}

// decodeSockaddr reads the guest's flat {family:u16, data...} sockaddr
// encoding into a host unix.Sockaddr, supporting AF_INET (the only family
// the supported socketcall subset needs).
func decodeSockaddr(raw []byte) (unix.Sockaddr, error) {
	if len(raw) < 2 {
		return nil, guest.Err(guest.EINVAL)
	}
	family := uint16(raw[0]) | uint16(raw[1])<<8
	switch family {
	case unix.AF_INET:
		if len(raw) < 8 {
			return nil, guest.Err(guest.EINVAL)
		}
		sa := &unix.SockaddrInet4{Port: int(raw[2])<<8 | int(raw[3])}
		copy(sa.Addr[:], raw[4:8])
		return sa, nil
	default:
		return nil, kernel.Fatalf("socketcall", "unsupported address family %d", family)
	}
}

// encodeSockaddr is decodeSockaddr's inverse, used by getpeername.
func encodeSockaddr(sa unix.Sockaddr) []byte {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		buf := make([]byte, 16)
		buf[0] = byte(unix.AF_INET)
		buf[1] = byte(unix.AF_INET >> 8)
		buf[2] = byte(sa.Port >> 8)
		buf[3] = byte(sa.Port)
		copy(buf[4:8], sa.Addr[:])
		return buf
	default:
		return make([]byte, 16)
	}
}
