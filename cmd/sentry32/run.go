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

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"
	"github.com/kr/pty"
	"github.com/sirupsen/logrus"

	"github.com/lucidvm/sentry32/pkg/loader"
	"github.com/lucidvm/sentry32/pkg/sentry/kernel"
	"github.com/lucidvm/sentry32/pkg/sentry/mm"
	"github.com/lucidvm/sentry32/pkg/sentry/syscalls/linux"
)

// initialStackTop is where the reserved guest stack region ends, and
// guestHeapStart is the conventional initial program break for a
// statically-linked 32-bit Linux ELF (spec §4.4).
const (
	initialStackTop = 0xc0000000
	guestHeapStart  = 0x08048000
)

var stackPerm = mm.PermRead | mm.PermWrite

func nowUsec() int64 { return time.Now().UnixNano() / 1000 }

// Run implements the "run" subcommand: wires a loader, a root Context, a
// Scheduler and the syscall dispatch table together, then feeds it a
// recorded trap file (see replay.go) the way the (out-of-scope, per
// spec.md §1) instruction executor would feed it live traps.
type Run struct {
	exe     string
	replay  string
	trace   bool
	tty     bool
	maxIter int
}

func (*Run) Name() string     { return "run" }
func (*Run) Synopsis() string { return "load a guest executable and replay a recorded trap file against it" }
func (*Run) Usage() string {
	return "run -exe <path> -replay <path> [-trace] [-tty]\n"
}

func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.exe, "exe", "", "path to the guest ELF executable")
	f.StringVar(&r.replay, "replay", "", "path to a newline-delimited JSON trap record file")
	f.BoolVar(&r.trace, "trace", false, "log every dispatched syscall at debug level")
	f.BoolVar(&r.tty, "tty", false, "back guest fds 0/1/2 with a real pty instead of this process's own stdio")
	f.IntVar(&r.maxIter, "max-iterations", 1000, "scheduler re-poll budget while waiting on a suspended context")
}

func (r *Run) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if r.exe == "" || r.replay == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}

	log := logrus.New()
	if r.trace {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := runReplay(r, log); err != nil {
		log.WithError(err).Error("run failed")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func runReplay(r *Run, log *logrus.Logger) error {
	ld, err := loader.FromELF(r.exe)
	if err != nil {
		return err
	}

	table := kernel.NewPIDTable()
	root := kernel.NewRoot(table, guestHeapStart)
	root.ExePath = ld.ExecutablePath()
	root.Memory.MapAnon(initialStackTop-ld.InitialStackSize(), ld.InitialStackSize(), stackPerm)
	root.StartedUsec = nowUsec()

	if r.tty {
		closeTTY, err := attachPty(root)
		if err != nil {
			return fmt.Errorf("attach pty: %w", err)
		}
		defer closeTTY()
	}

	records, err := readTrapFile(r.replay)
	if err != nil {
		return err
	}

	dispatch := linux.NewTable()
	var tracer *linux.Tracer
	if r.trace {
		tracer = linux.NewTracer(log)
	}
	sched := kernel.NewScheduler(table, nowUsec)

	for i, rec := range records {
		root.Regs = rec.toRegs()
		if err := linux.DispatchTraced(root, dispatch, tracer); err != nil {
			return fmt.Errorf("trap %d: %w", i, err)
		}
		if err := drainSuspended(root, dispatch, tracer, sched, r.maxIter); err != nil {
			return fmt.Errorf("trap %d: %w", i, err)
		}
		if root.IsZombie() {
			fmt.Fprintf(os.Stdout, "guest exited with code %d after %d traps\n", root.ExitCode, i+1)
			return nil
		}
	}
	fmt.Fprintf(os.Stdout, "replay exhausted after %d traps; guest still running\n", len(records))
	return nil
}

// attachPty opens a host pty and rebinds root's guest fds 0/1/2 onto the
// slave side, so the termios ioctl subset (spec §8) has a real terminal to
// operate on instead of this process's own (possibly non-tty) stdio. It
// pumps the master side to/from this process's own stdio in the
// background and returns a cleanup func that stops the pumps and closes
// both ends.
func attachPty(root *kernel.Context) (func(), error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, err
	}

	slaveFD := int(slave.Fd())
	root.FDs.NewAt(0, kernel.FDStd, slaveFD, "", 0)
	root.FDs.NewAt(1, kernel.FDStd, slaveFD, "", 0)
	root.FDs.NewAt(2, kernel.FDStd, slaveFD, "", 0)

	done := make(chan struct{})
	go func() { io.Copy(os.Stdout, master); close(done) }()
	go io.Copy(master, os.Stdin)

	return func() {
		slave.Close()
		master.Close()
		<-done
	}, nil
}

// drainSuspended polls the scheduler until root is no longer Suspended or
// the iteration budget runs out. A wake only means the host condition
// root was parked on is now satisfied (spec §4.5: "the scheduler retries
// the whole syscall, discarding the original handler's return value"), so
// root's syscall is re-dispatched from scratch each time it wakes, using
// the register file untouched since the original trap.
func drainSuspended(root *kernel.Context, dispatch *linux.Table, tracer *linux.Tracer, sched *kernel.Scheduler, maxIter int) error {
	for i := 0; root.Suspended() && i < maxIter; i++ {
		woken := sched.ProcessEvents()
		rootWoken := false
		for _, c := range woken {
			if c == root {
				rootWoken = true
			}
		}
		if !rootWoken {
			time.Sleep(time.Millisecond)
			continue
		}
		if err := linux.DispatchTraced(root, dispatch, tracer); err != nil {
			return err
		}
	}
	return nil
}
