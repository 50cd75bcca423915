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

// Package guest holds the guest-visible ABI: errno codes, flag bitmasks,
// syscall numbers and struct layouts for the emulated 32-bit x86 Linux
// guest, along with the translation tables between guest and host values.
package guest

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Errno is a guest errno value (1..34 and ENOSYS), matching the Linux x86 ABI.
type Errno int

// Guest errno codes. Values match the host on Linux; assertErrnoEquality
// verifies this at startup instead of translating at call time.
const (
	EPERM   Errno = 1
	ENOENT  Errno = 2
	ESRCH   Errno = 3
	EINTR   Errno = 4
	EIO     Errno = 5
	ENXIO   Errno = 6
	E2BIG   Errno = 7
	ENOEXEC Errno = 8
	EBADF   Errno = 9
	ECHILD  Errno = 10
	EAGAIN  Errno = 11
	ENOMEM  Errno = 12
	EACCES  Errno = 13
	EFAULT  Errno = 14
	ENOTBLK Errno = 15
	EBUSY   Errno = 16
	EEXIST  Errno = 17
	EXDEV   Errno = 18
	ENODEV  Errno = 19
	ENOTDIR Errno = 20
	EISDIR  Errno = 21
	EINVAL  Errno = 22
	ENFILE  Errno = 23
	EMFILE  Errno = 24
	ENOTTY  Errno = 25
	ETXTBSY Errno = 26
	EFBIG   Errno = 27
	ENOSPC  Errno = 28
	ESPIPE  Errno = 29
	EROFS   Errno = 30
	EMLINK  Errno = 31
	EPIPE   Errno = 32
	EDOM    Errno = 33
	ERANGE  Errno = 34
	ENOSYS  Errno = 38
)

// errnoNames is the string-map backing Errno's trace representation.
var errnoNames = map[Errno]string{
	EPERM: "EPERM", ENOENT: "ENOENT", ESRCH: "ESRCH", EINTR: "EINTR",
	EIO: "EIO", ENXIO: "ENXIO", E2BIG: "E2BIG", ENOEXEC: "ENOEXEC",
	EBADF: "EBADF", ECHILD: "ECHILD", EAGAIN: "EAGAIN", ENOMEM: "ENOMEM",
	EACCES: "EACCES", EFAULT: "EFAULT", ENOTBLK: "ENOTBLK", EBUSY: "EBUSY",
	EEXIST: "EEXIST", EXDEV: "EXDEV", ENODEV: "ENODEV", ENOTDIR: "ENOTDIR",
	EISDIR: "EISDIR", EINVAL: "EINVAL", ENFILE: "ENFILE", EMFILE: "EMFILE",
	ENOTTY: "ENOTTY", ETXTBSY: "ETXTBSY", EFBIG: "EFBIG", ENOSPC: "ENOSPC",
	ESPIPE: "ESPIPE", EROFS: "EROFS", EMLINK: "EMLINK", EPIPE: "EPIPE",
	EDOM: "EDOM", ERANGE: "ERANGE", ENOSYS: "ENOSYS",
}

// hostMatch pairs a host errno with the guest code it is asserted equal to.
var hostMatch = map[Errno]unix.Errno{
	EPERM: unix.EPERM, ENOENT: unix.ENOENT, ESRCH: unix.ESRCH, EINTR: unix.EINTR,
	EIO: unix.EIO, ENXIO: unix.ENXIO, E2BIG: unix.E2BIG, ENOEXEC: unix.ENOEXEC,
	EBADF: unix.EBADF, ECHILD: unix.ECHILD, EAGAIN: unix.EAGAIN, ENOMEM: unix.ENOMEM,
	EACCES: unix.EACCES, EFAULT: unix.EFAULT, ENOTBLK: unix.ENOTBLK, EBUSY: unix.EBUSY,
	EEXIST: unix.EEXIST, EXDEV: unix.EXDEV, ENODEV: unix.ENODEV, ENOTDIR: unix.ENOTDIR,
	EISDIR: unix.EISDIR, EINVAL: unix.EINVAL, ENFILE: unix.ENFILE, EMFILE: unix.EMFILE,
	ENOTTY: unix.ENOTTY, ETXTBSY: unix.ETXTBSY, EFBIG: unix.EFBIG, ENOSPC: unix.ENOSPC,
	ESPIPE: unix.ESPIPE, EROFS: unix.EROFS, EMLINK: unix.EMLINK, EPIPE: unix.EPIPE,
	EDOM: unix.EDOM, ERANGE: unix.ERANGE, ENOSYS: unix.ENOSYS,
}

func init() {
	assertErrnoEquality()
}

// assertErrnoEquality halts startup if a guest errno's numeric value
// disagrees with the host's, removing the need to translate these values
// at call time (spec: constant translator, §4.2).
func assertErrnoEquality() {
	for guestErrno, hostErrno := range hostMatch {
		if int(guestErrno) != int(hostErrno) {
			panic(fmt.Sprintf("guest/host errno mismatch for %s: guest=%d host=%d",
				errnoNames[guestErrno], guestErrno, hostErrno))
		}
	}
}

// String implements fmt.Stringer, used by the debug tracer.
func (e Errno) String() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Errno(%d)", int(e))
}

// Negative returns the guest syscall-return encoding of this errno: a
// negative value in -1..-4095 that the guest C library inspects for sign.
func (e Errno) Negative() uintptr {
	return uintptr(int32(-int(e)))
}

// GuestError wraps an Errno as an error value, the "expected failure"
// outcome class (spec §7): a syscall handler returns one to signal that
// the guest made a request that legitimately fails (bad fd, ENOENT, ...),
// as opposed to a FatalError (emulator bug/unsupported feature).
type GuestError struct{ Errno Errno }

func (e GuestError) Error() string { return e.Errno.String() }

// Err constructs a GuestError for errno.
func Err(errno Errno) error { return GuestError{Errno: errno} }

// AsGuestError reports whether err is a GuestError and returns its Errno.
func AsGuestError(err error) (Errno, bool) {
	ge, ok := err.(GuestError)
	if !ok {
		return 0, false
	}
	return ge.Errno, true
}

// FromHost translates a host error (typically a unix.Errno from a
// golang.org/x/sys/unix call) into a guest Errno. Since the two numeric
// spaces were asserted equal at startup, a unix.Errno with a guest
// counterpart keeps its value; a unix.Errno without one, and any other
// error type, maps to EIO as a conservative default.
func FromHost(err error) Errno {
	if err == nil {
		return 0
	}
	if errno, ok := err.(unix.Errno); ok {
		if errno == 0 {
			return 0
		}
		if name, ok := errnoNames[Errno(errno)]; ok {
			_ = name
			return Errno(errno)
		}
		return EIO
	}
	return EIO
}
