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
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/lucidvm/sentry32/pkg/abi/guest"
	"github.com/lucidvm/sentry32/pkg/sentry/arch"
	"github.com/lucidvm/sentry32/pkg/sentry/kernel"
)

// fdPread reads from hostFD at offset without disturbing its current file
// position, used by mmap's file-backed population.
func fdPread(hostFD int, b []byte, offset int64) (int, error) {
	return unix.Pread(hostFD, b, offset)
}

// Open implements open(2). /proc/self/maps is intercepted: its content is
// rendered from the context's live Memory regions into a temp host file,
// which is opened in its place and unlinked on close (spec §4.10,
// grounded in the original's sys_open_impl special case for that path).
// Other /proc/* paths simply fall through to the host filesystem.
func Open(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	path, err := ctx.Memory.ReadString(args[0].Pointer(), 4096)
	if err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	flags := int(args[1].Int())
	mode := args[2].ModeT()

	if path == "/proc/self/maps" {
		return openProcSelfMaps(ctx)
	}

	// Named guest flag bits are translated to the host's; the access mode
	// and any other bits pass through unchanged.
	hostFlags, named := 0, 0
	for _, b := range [...][2]int{
		{guest.OCreat, unix.O_CREAT}, {guest.OExcl, unix.O_EXCL},
		{guest.ONoctty, unix.O_NOCTTY}, {guest.OTrunc, unix.O_TRUNC},
		{guest.OAppend, unix.O_APPEND}, {guest.ONonblock, unix.O_NONBLOCK},
		{guest.ODirect, unix.O_DIRECT}, {guest.ODirectory, unix.O_DIRECTORY},
	} {
		named |= b[0]
		if flags&b[0] != 0 {
			hostFlags |= b[1]
		}
	}
	hostFlags |= flags &^ named

	hostFD, oerr := unix.Open(path, hostFlags, uint32(mode))
	if oerr != nil {
		return 0, nil, guest.Err(guest.FromHost(oerr))
	}
	gfd := ctx.FDs.New(kernel.FDRegular, hostFD, path, uint32(flags))
	return uintptr(gfd), nil, nil
}

// openProcSelfMaps synthesizes a /proc/self/maps rendering of the
// context's current address space into a temp file and opens that,
// tagging the resulting entry FDVirtual so Close unlinks the backing
// file (spec §4.10).
func openProcSelfMaps(ctx *kernel.Context) (uintptr, *kernel.SyscallControl, error) {
	tmp, terr := os.CreateTemp("", "sentry32-maps-*")
	if terr != nil {
		return 0, nil, guest.Err(guest.EIO)
	}
	path := tmp.Name()

	for _, r := range ctx.Memory.Regions() {
		perm := "---p"
		permBytes := []byte(perm)
		if r.Perm.Has(1) { // PermRead
			permBytes[0] = 'r'
		}
		if r.Perm.Has(2) { // PermWrite
			permBytes[1] = 'w'
		}
		if r.Perm.Has(4) { // PermExec
			permBytes[2] = 'x'
		}
		fmt.Fprintf(tmp, "%08x-%08x %s 00000000 00:00 0\n", r.Start, r.End, string(permBytes))
	}
	if cerr := tmp.Close(); cerr != nil {
		os.Remove(path)
		return 0, nil, guest.Err(guest.EIO)
	}

	hostFD, oerr := unix.Open(path, unix.O_RDONLY, 0)
	if oerr != nil {
		os.Remove(path)
		return 0, nil, guest.Err(guest.FromHost(oerr))
	}
	gfd := ctx.FDs.New(kernel.FDVirtual, hostFD, path, guest.ORdonly)
	return uintptr(gfd), nil, nil
}

// Close implements close(2).
func Close(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	gfd := int(args[0].Int())
	e := ctx.FDs.Free(gfd)
	if e == nil {
		return 0, nil, guest.Err(guest.EBADF)
	}
	if e.Kind != kernel.FDStd {
		unix.Close(e.HostFD)
	}
	return 0, nil, nil
}

// Read implements read(2) (spec §4.5): a non-blocking fast path checks
// host readiness first; if not ready and the fd is not O_NONBLOCK, the
// context suspends instead of blocking the whole emulator.
func Read(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	gfd := int(args[0].Int())
	addr := args[1].Pointer()
	count := args[2].SizeT()

	e := ctx.FDs.Get(gfd)
	if e == nil {
		return 0, nil, guest.Err(guest.EBADF)
	}
	if e.Kind != kernel.FDStd && e.Flags&guest.ONonblock == 0 && !pollReadyHost(e.HostFD, unix.POLLIN) {
		ctx.SetSuspended(kernel.SuspendCause{Kind: kernel.SuspendRead, FD: gfd, Events: unix.POLLIN})
		return 0, kernel.Suspend, nil
	}

	buf := make([]byte, count)
	n, rerr := unix.Read(e.HostFD, buf)
	if rerr != nil {
		return 0, nil, guest.Err(guest.FromHost(rerr))
	}
	if n > 0 {
		if werr := ctx.Memory.Write(addr, buf[:n]); werr != nil {
			return 0, nil, guest.Err(guest.EFAULT)
		}
	}
	return uintptr(n), nil, nil
}

// Write implements write(2), with the same suspend-on-not-ready pattern
// as Read.
func Write(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	gfd := int(args[0].Int())
	addr := args[1].Pointer()
	count := args[2].SizeT()

	e := ctx.FDs.Get(gfd)
	if e == nil {
		return 0, nil, guest.Err(guest.EBADF)
	}
	if e.Kind != kernel.FDStd && e.Flags&guest.ONonblock == 0 && !pollReadyHost(e.HostFD, unix.POLLOUT) {
		ctx.SetSuspended(kernel.SuspendCause{Kind: kernel.SuspendWrite, FD: gfd, Events: unix.POLLOUT})
		return 0, kernel.Suspend, nil
	}

	buf := make([]byte, count)
	if err := ctx.Memory.Read(addr, buf); err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	n, werr := unix.Write(e.HostFD, buf)
	if werr != nil {
		return 0, nil, guest.Err(guest.FromHost(werr))
	}
	return uintptr(n), nil, nil
}

// pollReadyHost is Read/Write's own zero-timeout readiness probe,
// distinct from the scheduler's recheck (same operation, different
// caller).
func pollReadyHost(hostFD int, events int16) bool {
	fds := []unix.PollFd{{Fd: int32(hostFD), Events: events}}
	n, err := unix.Poll(fds, 0)
	return err == nil && n > 0 && fds[0].Revents&events != 0
}

// Lseek implements lseek(2).
func Lseek(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	gfd := int(args[0].Int())
	offset := int64(int32(args[1].Int()))
	whence := int(args[2].Int())
	hostFD := ctx.FDs.HostFDOf(gfd)
	if hostFD < 0 {
		return 0, nil, guest.Err(guest.EBADF)
	}
	off, err := unix.Seek(hostFD, offset, whence)
	if err != nil {
		return 0, nil, guest.Err(guest.FromHost(err))
	}
	return uintptr(uint32(off)), nil, nil
}

// Llseek implements _llseek(2): 64-bit seek via split high/low offset
// words and a result pointer.
func Llseek(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	gfd := int(args[0].Int())
	offsetHigh := int64(args[1].Uint())
	offsetLow := int64(args[2].Uint())
	resultAddr := args[3].Pointer()
	whence := int(args[4].Int())

	hostFD := ctx.FDs.HostFDOf(gfd)
	if hostFD < 0 {
		return 0, nil, guest.Err(guest.EBADF)
	}
	offset := offsetHigh<<32 | offsetLow
	off, err := unix.Seek(hostFD, offset, whence)
	if err != nil {
		return 0, nil, guest.Err(guest.FromHost(err))
	}
	var buf [8]byte
	u := uint64(off)
	for i := 0; i < 8; i++ {
		buf[i] = byte(u >> (8 * i))
	}
	if werr := ctx.Memory.Write(resultAddr, buf[:]); werr != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	return 0, nil, nil
}

// Dup implements dup(2).
func Dup(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	gfd := int(args[0].Int())
	e := ctx.FDs.Get(gfd)
	if e == nil {
		return 0, nil, guest.Err(guest.EBADF)
	}
	newHost, err := unix.Dup(e.HostFD)
	if err != nil {
		return 0, nil, guest.Err(guest.FromHost(err))
	}
	newGfd := ctx.FDs.New(e.Kind, newHost, e.Path, e.Flags)
	return uintptr(newGfd), nil, nil
}

// Pipe implements pipe(2): writes the two new guest fds into the
// two-int array at args[0].
func Pipe(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	var hostFDs [2]int
	if err := unix.Pipe2(hostFDs[:], 0); err != nil {
		return 0, nil, guest.Err(guest.FromHost(err))
	}
	rfd := ctx.FDs.New(kernel.FDPipe, hostFDs[0], "", 0)
	wfd := ctx.FDs.New(kernel.FDPipe, hostFDs[1], "", 0)
	var buf [8]byte
	buf[0], buf[1], buf[2], buf[3] = byte(rfd), byte(rfd>>8), byte(rfd>>16), byte(rfd>>24)
	buf[4], buf[5], buf[6], buf[7] = byte(wfd), byte(wfd>>8), byte(wfd>>16), byte(wfd>>24)
	if err := ctx.Memory.Write(args[0].Pointer(), buf[:]); err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	return 0, nil, nil
}

// Ioctl implements ioctl(2), restricted to the termios command range
// 0x5401-0x5408 with the documented-intent fix to the original's
// transparent `||` bug (spec §9 Open Question): a flat 60-byte buffer
// (struct termios is 60 bytes on both x86 and x86-64) is copied in,
// passed to the host ioctl(2) unmodified, and copied back out.
func Ioctl(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	gfd := int(args[0].Int())
	cmd := args[1].Uint()
	argAddr := args[2].Pointer()

	hostFD := ctx.FDs.HostFDOf(gfd)
	if hostFD < 0 {
		return 0, nil, guest.Err(guest.EBADF)
	}
	if !(cmd >= 0x5401 && cmd <= 0x5408) {
		return 0, nil, kernel.Fatalf("ioctl", "unsupported command 0x%x", cmd)
	}

	var buf [60]byte
	if err := ctx.Memory.Read(argAddr, buf[:]); err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(hostFD), uintptr(cmd), uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return 0, nil, guest.Err(guest.FromHost(errno))
	}
	if err := ctx.Memory.Write(argAddr, buf[:]); err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	return 0, nil, nil
}

// Readlink implements readlink(2). /proc/self/exe is intercepted to
// return the loader-recorded executable path (spec §4.10); this handler
// takes that path from ctx.ExePath, set once at process creation.
func Readlink(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	path, err := ctx.Memory.ReadString(args[0].Pointer(), 4096)
	if err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	bufAddr := args[1].Pointer()
	bufSize := int(args[2].SizeT())

	var dest string
	if path == "/proc/self/exe" {
		dest = ctx.ExePath
	} else {
		b := make([]byte, 4096)
		n, lerr := unix.Readlink(path, b)
		if lerr != nil {
			return 0, nil, guest.Err(guest.FromHost(lerr))
		}
		dest = string(b[:n])
	}

	n := len(dest)
	if n > bufSize {
		n = bufSize // MIN(strlen(dest), bufsz), the documented-intent fix (spec §9)
	}
	if werr := ctx.Memory.Write(bufAddr, []byte(dest[:n])); werr != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	return uintptr(n), nil, nil
}

// Access implements access(2).
func Access(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	path, err := ctx.Memory.ReadString(args[0].Pointer(), 4096)
	if err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	mode := args[1].Uint()
	if aerr := unix.Access(path, mode); aerr != nil {
		return 0, nil, guest.Err(guest.FromHost(aerr))
	}
	return 0, nil, nil
}

// Unlink implements unlink(2).
func Unlink(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	path, err := ctx.Memory.ReadString(args[0].Pointer(), 4096)
	if err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	if uerr := unix.Unlink(path); uerr != nil {
		return 0, nil, guest.Err(guest.FromHost(uerr))
	}
	return 0, nil, nil
}

// Rename implements rename(2).
func Rename(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	oldPath, err := ctx.Memory.ReadString(args[0].Pointer(), 4096)
	if err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	newPath, err := ctx.Memory.ReadString(args[1].Pointer(), 4096)
	if err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	if rerr := unix.Rename(oldPath, newPath); rerr != nil {
		return 0, nil, guest.Err(guest.FromHost(rerr))
	}
	return 0, nil, nil
}

// Mkdir implements mkdir(2).
func Mkdir(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	path, err := ctx.Memory.ReadString(args[0].Pointer(), 4096)
	if err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	mode := args[1].ModeT()
	if merr := unix.Mkdir(path, mode); merr != nil {
		return 0, nil, guest.Err(guest.FromHost(merr))
	}
	return 0, nil, nil
}

// Chmod implements chmod(2).
func Chmod(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	path, err := ctx.Memory.ReadString(args[0].Pointer(), 4096)
	if err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	mode := args[1].ModeT()
	if cerr := unix.Chmod(path, mode); cerr != nil {
		return 0, nil, guest.Err(guest.FromHost(cerr))
	}
	return 0, nil, nil
}

// Fchmod implements fchmod(2).
func Fchmod(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	gfd := int(args[0].Int())
	mode := args[1].ModeT()
	hostFD := ctx.FDs.HostFDOf(gfd)
	if hostFD < 0 {
		return 0, nil, guest.Err(guest.EBADF)
	}
	if err := unix.Fchmod(hostFD, mode); err != nil {
		return 0, nil, guest.Err(guest.FromHost(err))
	}
	return 0, nil, nil
}

// Utime implements utime(2).
func Utime(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	path, err := ctx.Memory.ReadString(args[0].Pointer(), 4096)
	if err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	addr := args[1].Pointer()
	if addr == 0 {
		if terr := unix.Utimes(path, nil); terr != nil {
			return 0, nil, guest.Err(guest.FromHost(terr))
		}
		return 0, nil, nil
	}
	var buf [8]byte
	if rerr := ctx.Memory.Read(addr, buf[:]); rerr != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	var ub guest.Utimbuf
	ub.Unmarshal(buf[:])
	tv := []unix.Timeval{
		{Sec: int64(ub.Actime), Usec: 0},
		{Sec: int64(ub.Modtime), Usec: 0},
	}
	if terr := unix.Utimes(path, tv); terr != nil {
		return 0, nil, guest.Err(guest.FromHost(terr))
	}
	return 0, nil, nil
}

// Getdents implements getdents(2), re-encoding each host dirent into the
// guest layout (spec §6): 32-bit ino/off, 16-bit reclen rounded per
// `(15+len(name))/4*4`, name, trailing d_type byte. The host d_type is
// not recovered from the raw buffer here (this emulator parses names via
// the portable unix.ParseDirent helper rather than hand-rolling the
// host's own dirent64 layout), so d_type is always reported as
// DT_UNKNOWN; guest libcs fall back to fstat in that case.
func Getdents(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	gfd := int(args[0].Int())
	addr := args[1].Pointer()
	count := int(args[2].SizeT())

	hostFD := ctx.FDs.HostFDOf(gfd)
	if hostFD < 0 {
		return 0, nil, guest.Err(guest.EBADF)
	}

	hostBuf := make([]byte, count)
	n, err := unix.ReadDirent(hostFD, hostBuf)
	if err != nil {
		return 0, nil, guest.Err(guest.FromHost(err))
	}
	if n == 0 {
		return 0, nil, nil
	}
	_, _, names := unix.ParseDirent(hostBuf[:n], -1, nil)

	out := make([]byte, count)
	guestOff := 0
	for i, name := range names {
		reclen := int(guest.DirentReclen(name))
		if guestOff+reclen > count {
			return 0, nil, kernel.Fatalf("getdents", "guest buffer too small")
		}
		guest.MarshalDirent(out[guestOff:], uint32(i+1), uint32(guestOff+reclen), name, 0)
		guestOff += reclen
	}
	if guestOff > 0 {
		if werr := ctx.Memory.Write(addr, out[:guestOff]); werr != nil {
			return 0, nil, guest.Err(guest.EFAULT)
		}
	}
	return uintptr(guestOff), nil, nil
}

// buildReadFDSet translates a guest fd_set at addr (n bits) into a host
// unix.FdSet, returning (set, ok). ok is false if any set bit names an
// fd not in ctx's table, matching the original's all-or-nothing EBADF
// (spec §9 Open Question: out-of-range guest fd is an explicit failure,
// not silently skipped).
func buildReadFDSet(ctx *kernel.Context, addr uint32, n int) (*unix.FdSet, bool, error) {
	set := &unix.FdSet{}
	if addr == 0 {
		return set, true, nil
	}
	nbytes := (n + 7) / 8
	buf := make([]byte, nbytes)
	if err := ctx.Memory.Read(addr, buf); err != nil {
		return nil, false, guest.Err(guest.EFAULT)
	}
	for i := 0; i < n; i++ {
		if buf[i>>3]&(1<<uint(i&7)) == 0 {
			continue
		}
		hostFD := ctx.FDs.HostFDOf(i)
		if hostFD < 0 {
			return nil, false, nil
		}
		set.Bits[hostFD/64] |= 1 << uint(hostFD%64)
	}
	return set, true, nil
}

// writeFDSet translates host-ready bits in set back into guest_fds at
// addr, zeroing it first.
func writeFDSet(ctx *kernel.Context, addr uint32, n int, set *unix.FdSet) error {
	if addr == 0 {
		return nil
	}
	nbytes := (n + 7) / 8
	buf := make([]byte, nbytes)
	for hostFD := 0; hostFD < len(set.Bits)*64; hostFD++ {
		if set.Bits[hostFD/64]&(1<<uint(hostFD%64)) == 0 {
			continue
		}
		gfd := ctx.FDs.GuestFDOf(hostFD)
		if gfd < 0 || gfd >= n {
			continue
		}
		buf[gfd>>3] |= 1 << uint(gfd&7)
	}
	return ctx.Memory.Write(addr, buf)
}

// Select implements _newselect(2), non-blocking only (spec §6's supported
// set): any non-zero timeout is a fatal condition, matching the
// original's "blocking select not supported".
func Select(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	n := int(args[0].Int())
	inAddr := args[1].Pointer()
	outAddr := args[2].Pointer()
	exAddr := args[3].Pointer()
	tvAddr := args[4].Pointer()

	if tvAddr != 0 {
		var tv guest.Timeval
		buf := make([]byte, tv.Size())
		if err := ctx.Memory.Read(tvAddr, buf); err != nil {
			return 0, nil, guest.Err(guest.EFAULT)
		}
		tv.Unmarshal(buf)
		if tv.Sec != 0 || tv.Usec != 0 {
			return 0, nil, kernel.Fatalf("select", "blocking select (tv_sec=%d tv_usec=%d) not supported", tv.Sec, tv.Usec)
		}
	}

	in, ok, err := buildReadFDSet(ctx, inAddr, n)
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return 0, nil, guest.Err(guest.EBADF)
	}
	out, ok, err := buildReadFDSet(ctx, outAddr, n)
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return 0, nil, guest.Err(guest.EBADF)
	}
	ex, ok, err := buildReadFDSet(ctx, exAddr, n)
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return 0, nil, guest.Err(guest.EBADF)
	}

	zero := unix.Timeval{}
	ready, serr := unix.Select(maxHostFD(in, out, ex)+1, in, out, ex, &zero)
	if serr != nil {
		return 0, nil, guest.Err(guest.FromHost(serr))
	}

	if werr := writeFDSet(ctx, inAddr, n, in); werr != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	if werr := writeFDSet(ctx, outAddr, n, out); werr != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	if werr := writeFDSet(ctx, exAddr, n, ex); werr != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	return uintptr(ready), nil, nil
}

// maxHostFD returns the highest fd set across the three sets, for the
// nfds argument select(2) expects.
func maxHostFD(sets ...*unix.FdSet) int {
	max := -1
	for _, s := range sets {
		for i, word := range s.Bits {
			if word == 0 {
				continue
			}
			for b := 63; b >= 0; b-- {
				if word&(1<<uint(b)) != 0 {
					fd := i*64 + b
					if fd > max {
						max = fd
					}
					break
				}
			}
		}
	}
	return max
}

// Fcntl64 implements the subset of fcntl64(2) guest programs in this
// emulator's target set actually issue: F_GETFL, F_SETFL, F_DUPFD,
// F_GETFD, F_SETFD.
func Fcntl64(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	const (
		fGetfl = 3
		fSetfl = 4
		fDupfd = 0
		fGetfd = 1
		fSetfd = 2
	)
	gfd := int(args[0].Int())
	cmd := args[1].Int()
	e := ctx.FDs.Get(gfd)
	if e == nil {
		return 0, nil, guest.Err(guest.EBADF)
	}
	switch cmd {
	case fGetfl:
		return uintptr(e.Flags), nil, nil
	case fSetfl:
		e.Flags = args[2].Uint()
		return 0, nil, nil
	case fDupfd:
		newHost, err := unix.Dup(e.HostFD)
		if err != nil {
			return 0, nil, guest.Err(guest.FromHost(err))
		}
		return uintptr(ctx.FDs.New(e.Kind, newHost, e.Path, e.Flags)), nil, nil
	case fGetfd, fSetfd:
		return 0, nil, nil
	default:
		return 0, nil, kernel.Fatalf("fcntl64", "unsupported cmd %d", cmd)
	}
}
