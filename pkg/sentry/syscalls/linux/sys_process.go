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
	"strings"

	"github.com/lucidvm/sentry32/pkg/abi/guest"
	"github.com/lucidvm/sentry32/pkg/sentry/arch"
	"github.com/lucidvm/sentry32/pkg/sentry/kernel"
)

// Exit implements exit(2): the context becomes a zombie, retained until
// its parent reaps it with waitpid (spec §3, §4.3).
func Exit(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	ctx.Exit(args[0].Int())
	if ctx.Parent != nil && ctx.ExitSignal != 0 {
		kernel.Kill(ctx.Parent, ctx.ExitSignal)
	}
	return 0, nil, nil
}

// Getpid implements getpid(2).
func Getpid(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(ctx.PID), nil, nil
}

// Getppid implements getppid(2).
func Getppid(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	if ctx.Parent == nil {
		return 0, nil, nil
	}
	return uintptr(ctx.Parent.PID), nil, nil
}

// Times implements times(2): this emulator has no real host CPU-time
// accounting per guest context, so it reports all-zero tick counts, which
// is a legal (if uninformative) answer and matches what guest libcs that
// merely print elapsed process time tolerate (spec §4.3 "no-op
// accounting calls report zero rather than faking activity").
func Times(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	if addr != 0 {
		var t guest.Tms
		buf := make([]byte, t.Size())
		t.Marshal(buf)
		if err := ctx.Memory.Write(addr, buf); err != nil {
			return 0, nil, guest.Err(guest.EFAULT)
		}
	}
	return 0, nil, nil
}

// Getrusage implements getrusage(2), reporting all-zero accounting for the
// same reason as Times.
func Getrusage(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[1].Pointer()
	var ru guest.Rusage32
	buf := make([]byte, ru.Size())
	ru.Marshal(buf)
	if err := ctx.Memory.Write(addr, buf); err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	return 0, nil, nil
}

// Setrlimit implements setrlimit(2) (spec §4.3, §6).
func Setrlimit(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	resource := args[0].Uint()
	addr := args[1].Pointer()
	buf := make([]byte, 8)
	if err := ctx.Memory.Read(addr, buf); err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	var rl guest.Rlimit32
	rl.Unmarshal(buf)
	if ctx.Rlimits == nil {
		ctx.Rlimits = make(map[uint32]guest.Rlimit32)
	}
	ctx.Rlimits[resource] = rl
	return 0, nil, nil
}

// Getrlimit implements getrlimit(2). A resource never set reports
// RLIM_INFINITY for both cur and max.
func Getrlimit(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	resource := args[0].Uint()
	addr := args[1].Pointer()
	rl, ok := ctx.Rlimits[resource]
	if !ok {
		rl = guest.Rlimit32{Cur: 0xffffffff, Max: 0xffffffff}
	}
	buf := make([]byte, rl.Size())
	rl.Marshal(buf)
	if err := ctx.Memory.Write(addr, buf); err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	return 0, nil, nil
}

// Kill implements kill(2): deliver sig to the context with pid target,
// looked up in ctx's PID table (spec §4.8).
func Kill(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	pid := args[0].Int()
	sig := guest.Signal(args[1].Int())
	target := ctx.Table.Lookup(pid)
	if target == nil {
		return 0, nil, guest.Err(guest.ESRCH)
	}
	kernel.Kill(target, sig)
	return 0, nil, nil
}

// Waitpid implements waitpid(2) (spec §4.3): reaps a zombie child
// matching pid (-1 = any), or suspends on SuspendWaitPID until one
// appears, unless WNOHANG is set.
func Waitpid(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	pid := args[0].Int()
	statusAddr := args[1].Pointer()
	options := args[2].Uint()

	if child := reapZombie(ctx, pid); child != nil {
		if statusAddr != 0 {
			var buf [4]byte
			status := uint32(child.ExitCode&0xff) << 8
			buf[0] = byte(status)
			buf[1] = byte(status >> 8)
			buf[2] = byte(status >> 16)
			buf[3] = byte(status >> 24)
			if err := ctx.Memory.Write(statusAddr, buf[:]); err != nil {
				return 0, nil, guest.Err(guest.EFAULT)
			}
		}
		return uintptr(child.PID), nil, nil
	}
	if options&guest.WNoHang != 0 {
		return 0, nil, nil
	}
	ctx.SetSuspended(kernel.SuspendCause{Kind: kernel.SuspendWaitPID, WaitPID: pid})
	return 0, kernel.Suspend, nil
}

// reapZombie removes and returns the first zombie child of ctx matching
// pid (-1 = any), or nil.
func reapZombie(ctx *kernel.Context, pid int32) *kernel.Context {
	for i, ch := range ctx.Children {
		if !ch.IsZombie() {
			continue
		}
		if pid != -1 && ch.PID != pid {
			continue
		}
		ctx.Children = append(ctx.Children[:i], ctx.Children[i+1:]...)
		ctx.Table.Remove(ch.PID)
		return ch
	}
	return nil
}

// Clone implements clone(2) via kernel.Clone (spec §4.6), validating the
// flag set before delegating.
func Clone(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	flags := args[0].Uint()
	if flags&^uint32(kernel.SupportedCloneFlags) != 0 {
		return 0, nil, kernel.Fatalf("clone", "unsupported clone flags 0x%x", flags)
	}

	cargs := kernel.CloneArgs{
		Flags:         flags,
		NewStack:      args[1].Uint(),
		ParentTIDAddr: args[2].Pointer(),
		ChildTIDAddr:  args[3].Pointer(),
	}
	if flags&kernel.CloneSettls != 0 {
		var desc guest.UserDesc
		buf := make([]byte, desc.Size())
		if err := ctx.Memory.Read(args[4].Pointer(), buf); err != nil {
			return 0, nil, guest.Err(guest.EFAULT)
		}
		desc.Unmarshal(buf)
		cargs.TLS = &desc
	}

	child, err := kernel.Clone(ctx.Table, ctx, cargs)
	if err != nil {
		return 0, nil, kernel.Fatalf("clone", "%v", err)
	}

	if flags&kernel.CloneParentSettid != 0 && cargs.ParentTIDAddr != 0 {
		var buf [4]byte
		buf[0] = byte(child.PID)
		buf[1] = byte(child.PID >> 8)
		buf[2] = byte(child.PID >> 16)
		buf[3] = byte(child.PID >> 24)
		ctx.Memory.Write(cargs.ParentTIDAddr, buf[:])
	}
	if flags&kernel.CloneChildSettid != 0 && cargs.ChildTIDAddr != 0 {
		var buf [4]byte
		buf[0] = byte(child.PID)
		buf[1] = byte(child.PID >> 8)
		buf[2] = byte(child.PID >> 16)
		buf[3] = byte(child.PID >> 24)
		child.Memory.Write(cargs.ChildTIDAddr, buf[:])
	}
	return uintptr(child.PID), nil, nil
}

// Execve implements the narrow trampoline form this emulator supports:
// `/bin/sh -c <command>` only (spec §6.1, following the original's "only
// ever invoked as a vfork-then-exec shell trampoline" usage). Any other
// argv[0] is an unsupported-path fatal, matching the original's scope.
func Execve(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	path, err := ctx.Memory.ReadString(args[0].Pointer(), 4096)
	if err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	if path != "/bin/sh" {
		return 0, nil, kernel.Fatalf("execve", "unsupported argv[0] %q: only /bin/sh -c <command> is modeled", path)
	}

	argv, err := readArgv(ctx, args[1].Pointer())
	if err != nil {
		return 0, nil, err
	}
	if len(argv) < 3 || argv[1] != "-c" {
		return 0, nil, kernel.Fatalf("execve", "unsupported /bin/sh invocation %q: only -c <command> is modeled", strings.Join(argv, " "))
	}

	// The command string itself is not executed by this layer (instruction
	// execution is out of scope, spec §1); the handler only validates the
	// shape of the call so a guest that hits this path gets a clean fatal
	// instead of a confusing crash further down.
	return 0, nil, kernel.Fatalf("execve", "execve trampoline recognized for %q but not executed by this layer", argv[2])
}

// readArgv reads a NUL-terminated, NULL-terminated-array argv vector out
// of guest memory.
func readArgv(ctx *kernel.Context, addr uint32) ([]string, error) {
	var out []string
	for i := 0; ; i++ {
		var buf [4]byte
		if err := ctx.Memory.Read(addr+uint32(i*4), buf[:]); err != nil {
			return nil, guest.Err(guest.EFAULT)
		}
		ptr := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
		if ptr == 0 {
			break
		}
		s, err := ctx.Memory.ReadString(ptr, 4096)
		if err != nil {
			return nil, guest.Err(guest.EFAULT)
		}
		out = append(out, s)
		if len(out) > 64 {
			return nil, kernel.Fatalf("execve", "argv too long")
		}
	}
	return out, nil
}
