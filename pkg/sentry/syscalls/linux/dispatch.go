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

// Package linux implements the guest-visible syscall surface (spec §4,
// §6): one Handler per supported syscall number, registered into a table
// indexed by guest syscall number, with the errno/fatal three-class
// outcome model of spec §7.
package linux

import (
	"github.com/lucidvm/sentry32/pkg/abi/guest"
	"github.com/lucidvm/sentry32/pkg/sentry/arch"
	"github.com/lucidvm/sentry32/pkg/sentry/kernel"
)

// Handler implements one guest syscall number (spec §4.1). ctx is the
// context the syscall was issued from, explicit rather than ambient (spec
// §9 redesign: "pass the acting context explicitly"). A non-nil
// *kernel.SyscallControl with Suspended set means ctx has already been
// parked via ctx.SetSuspended and the returned (uintptr, error) must be
// discarded by the caller.
type Handler func(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error)

// Entry names a registered Handler for tracing (spec §4.3).
type Entry struct {
	Name string
	Fn   Handler
}

// Table is the guest-syscall-number-indexed dispatch table.
type Table [guest.NumSyscalls]*Entry

// unsupported wraps a handler that always reports a syscall as an
// unimplemented-but-recognized case: a fatal condition here, since the
// supported set is meant to be exhaustive for the guest programs this
// emulator targets (spec §1 "unsupported calls are a fatal condition, not
// silently degraded").
func unsupported(name string) *Entry {
	return &Entry{
		Name: name,
		Fn: func(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
			return 0, nil, kernel.Fatalf(name, "recognized but not implemented")
		},
	}
}

// entry is a small registration helper mirroring the teacher's
// Supported/PartiallySupported constructors, collapsed to the two
// outcomes this emulator actually uses.
func entry(name string, fn Handler) *Entry {
	return &Entry{Name: name, Fn: fn}
}

// NewTable builds the full dispatch table (spec §6's supported call set).
func NewTable() *Table {
	t := &Table{}
	set := func(no int, e *Entry) { t[no] = e }

	set(guest.SysExit, entry("exit", Exit))
	set(guest.SysClose, entry("close", Close))
	set(guest.SysRead, entry("read", Read))
	set(guest.SysWrite, entry("write", Write))
	set(guest.SysOpen, entry("open", Open))
	set(guest.SysWaitpid, entry("waitpid", Waitpid))
	set(guest.SysUnlink, entry("unlink", Unlink))
	set(guest.SysExecve, entry("execve", Execve))
	set(guest.SysTime, entry("time", Time))
	set(guest.SysChmod, entry("chmod", Chmod))
	set(guest.SysLseek, entry("lseek", Lseek))
	set(guest.SysGetpid, entry("getpid", Getpid))
	set(guest.SysUtime, entry("utime", Utime))
	set(guest.SysAccess, entry("access", Access))
	set(guest.SysKill, entry("kill", Kill))
	set(guest.SysRename, entry("rename", Rename))
	set(guest.SysMkdir, entry("mkdir", Mkdir))
	set(guest.SysDup, entry("dup", Dup))
	set(guest.SysPipe, entry("pipe", Pipe))
	set(guest.SysTimes, entry("times", Times))
	set(guest.SysBrk, entry("brk", Brk))
	set(guest.SysIoctl, entry("ioctl", Ioctl))
	set(guest.SysGetppid, entry("getppid", Getppid))
	set(guest.SysSetrlimit, entry("setrlimit", Setrlimit))
	set(guest.SysGetrusage, entry("getrusage", Getrusage))
	set(guest.SysGettimeofday, entry("gettimeofday", Gettimeofday))
	set(guest.SysReadlink, entry("readlink", Readlink))
	set(guest.SysMmap, entry("mmap", Mmap))
	set(guest.SysMunmap, entry("munmap", Munmap))
	set(guest.SysFchmod, entry("fchmod", Fchmod))
	set(guest.SysSocketcall, entry("socketcall", Socketcall))
	set(guest.SysSetitimer, entry("setitimer", Setitimer))
	set(guest.SysGetitimer, entry("getitimer", Getitimer))
	set(guest.SysSigreturn, entry("sigreturn", SigReturn))
	set(guest.SysClone, entry("clone", Clone))
	set(guest.SysNewuname, entry("newuname", Newuname))
	set(guest.SysMprotect, entry("mprotect", Mprotect))
	set(guest.SysLlseek, entry("_llseek", Llseek))
	set(guest.SysGetdents, entry("getdents", Getdents))
	set(guest.SysSelect, entry("_newselect", Select))
	set(guest.SysMsync, entry("msync", Msync))
	set(guest.SysMremap, entry("mremap", Mremap))
	set(guest.SysGetrlimit, entry("getrlimit", Getrlimit))
	set(guest.SysMmap2, entry("mmap2", Mmap2))
	set(guest.SysFcntl64, entry("fcntl64", Fcntl64))
	set(guest.SysSetThreadArea, entry("set_thread_area", SetThreadArea))

	return t
}

// Dispatch runs one step of ctx: either a fresh syscall entry, or (if ctx
// was just woken by the scheduler) the retry of one already in flight
// (spec §4.5 "the scheduler retries the whole syscall"; no partial
// progress is preserved across a suspend). It writes the guest-visible
// result to ctx.Regs.Eax and returns a non-nil error only when the guest
// program has hit an unsupported or buggy condition that halts the
// emulator (spec §7 fatal class).
func Dispatch(ctx *kernel.Context, table *Table) error {
	if _, err := ctx.TakeWakeup(); err != nil {
		return resolveWakeError(ctx, err)
	}

	sysno := int(arch.SyscallNo(&ctx.Regs))
	if sysno < 0 || sysno >= guest.NumSyscalls || table[sysno] == nil {
		return kernel.Fatalf("dispatch", "unrecognized syscall number %d", sysno)
	}
	e := table[sysno]
	args := arch.ArgsFromRegs(&ctx.Regs)

	result, ctl, err := e.Fn(ctx, args)
	if ctl != nil && ctl.Suspended {
		// ctx is parked; leave Regs untouched until the scheduler wakes it.
		return nil
	}
	if err != nil {
		if errno, ok := guest.AsGuestError(err); ok {
			arch.SetReturn(&ctx.Regs, errno.Negative())
			return nil
		}
		if kernel.IsFatal(err) {
			return err
		}
		return kernel.Fatalf(e.Name, "unhandled error: %v", err)
	}
	arch.SetReturn(&ctx.Regs, result)
	return nil
}

// DispatchTraced wraps Dispatch with Tracer.Enter/Exit logging (spec
// §1.1's debug tracer), for the CLI's --trace mode. tracer may be nil, in
// which case this is exactly Dispatch.
func DispatchTraced(ctx *kernel.Context, table *Table, tracer *Tracer) error {
	if tracer == nil {
		return Dispatch(ctx, table)
	}
	sysno := int(arch.SyscallNo(&ctx.Regs))
	name := "?"
	if sysno >= 0 && sysno < guest.NumSyscalls && table[sysno] != nil {
		name = table[sysno].Name
	}
	tracer.Enter(ctx, sysno, name, arch.ArgsFromRegs(&ctx.Regs))
	err := Dispatch(ctx, table)
	tracer.Exit(ctx, sysno, name, uintptr(ctx.Regs.Eax), err)
	return err
}

// resolveWakeError turns a scheduler-delivered wakeup error (signal
// interruption, or a guest error the scheduler itself determined, such as
// a closed fd) directly into the eax value, without re-entering the
// handler: the handler never ran on this turn, so there is nothing to
// retry.
func resolveWakeError(ctx *kernel.Context, err error) error {
	if kernel.IsInterrupted(err) {
		arch.SetReturn(&ctx.Regs, guest.EINTR.Negative())
		return nil
	}
	if errno, ok := guest.AsGuestError(err); ok {
		arch.SetReturn(&ctx.Regs, errno.Negative())
		return nil
	}
	return kernel.Fatalf("dispatch", "unresolved wakeup error: %v", err)
}
