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

// Package kernel holds the per-guest-thread Context, the fd table, the
// cooperative scheduler, and clone/timer/signal bookkeeping (spec §3,
// §4.5-§4.8, §5).
package kernel

import (
	"github.com/lucidvm/sentry32/pkg/abi/guest"
	"github.com/lucidvm/sentry32/pkg/sentry/arch"
	"github.com/lucidvm/sentry32/pkg/sentry/mm"
)

// RunState tags a Context's scheduling state (spec §3 "suspend
// descriptor"): exactly one of Running, Zombie or Suspended.
type RunState int

const (
	Running RunState = iota
	Zombie
	Suspended
)

// SuspendCause is the tagged variant of why a Context is parked. Exactly
// one field is meaningful, selected by Kind.
type SuspendCause struct {
	Kind SuspendKind

	// Read/Write
	FD     int
	Events uint32

	// WaitPid
	WaitPID int32

	// Nanosleep/Poll deadline, monotonic microseconds.
	Deadline int64

	// Poll
	PollFDs []PollFD
}

// SuspendKind enumerates the wake conditions a Context can be parked on
// (spec §3).
type SuspendKind int

const (
	SuspendNone SuspendKind = iota
	SuspendRead
	SuspendWrite
	SuspendWaitPID
	SuspendSignal
	SuspendNanosleep
	SuspendPoll
)

// PollFD is one fd/events pair for a parked select/poll.
type PollFD struct {
	FD     int
	Events uint32
}

// IntervalTimer is one of the three POSIX interval timers (spec §4.7).
type IntervalTimer struct {
	// ExpiryUsec is the absolute expiry in the scheduler's monotonic
	// microsecond clock; zero means disarmed.
	ExpiryUsec int64
	// IntervalUsec is the reload interval in microseconds; zero means
	// one-shot.
	IntervalUsec int64
}

// Which identifies one of the three interval timer slots.
type Which int

const (
	ITimerReal Which = iota
	ITimerVirtual
	ITimerProf
	numITimers
)

// Context is one guest thread of execution (spec §3).
type Context struct {
	PID int32

	// Table is the shared PID table this context and its whole family
	// tree are registered in, carried so handlers that need to create or
	// look up siblings (clone, waitpid) don't need it threaded through
	// every call (spec §9: "arena-of-pid-handles").
	Table *PIDTable

	Parent       *Context
	GroupParent  *Context
	Children     []*Context

	Regs arch.Regs

	Memory *mm.Memory
	FDs    *FDTable

	SignalMask    guest.SignalSet
	SignalPending guest.SignalSet

	State   RunState
	Suspend SuspendCause
	ExitCode int32

	ITimers [numITimers]IntervalTimer

	TLSEntryNumber uint32
	TLSBase        uint32
	TLSLimit       uint32

	ClearChildTID uint32
	ExitSignal    guest.Signal

	// Rlimits holds per-resource (cur, max) pairs as set by setrlimit(2);
	// a resource absent from the map reports unlimited (spec §4.3's
	// rlimit struct, §6).
	Rlimits map[uint32]guest.Rlimit32

	// StartedUsec is the monotonic microsecond timestamp at which this
	// context began running, used to synthesize times(2)/getrusage(2)
	// (spec §4.3).
	StartedUsec int64

	// ExePath is the loader-recorded executable path, returned by
	// readlink("/proc/self/exe") (spec §4.10). Inherited unchanged by
	// clone/Fork since it names the same running image.
	ExePath string

	// wakeupResult is written by the scheduler before a Suspended context
	// is resumed, so the retried handler observes the real host result
	// (spec §4.5: "the handler's own return value is discarded").
	wakeupResult uintptr
	wakeupErr    error
}

// NewRoot creates the root context, with a fresh Memory and FDTable,
// registering it in table.
func NewRoot(table *PIDTable, heapStart uint32) *Context {
	c := &Context{
		PID:    table.Alloc(),
		Table:  table,
		Memory: mm.New(heapStart),
		FDs:    NewFDTable(),
	}
	c.GroupParent = c
	table.Insert(c)
	return c
}

// IsZombie reports whether this context has exited and has not yet been
// reaped (spec §3 invariant: retained until the parent reaps it).
func (c *Context) IsZombie() bool { return c.State == Zombie }

// Suspended reports whether this context is currently parked.
func (c *Context) Suspended() bool { return c.State == Suspended }

// SetSuspended parks the context on cause (spec §4.5). It only records
// the state and cause; it does not signal the scheduler.
func (c *Context) SetSuspended(cause SuspendCause) {
	c.State = Suspended
	c.Suspend = cause
}

// Wake transitions a Suspended context back to Running, recording the
// real result the scheduler observed so the dispatcher can write it to
// eax instead of whatever the original (discarded) handler call returned.
func (c *Context) Wake(result uintptr, err error) {
	c.State = Running
	c.Suspend = SuspendCause{}
	c.wakeupResult = result
	c.wakeupErr = err
}

// TakeWakeup consumes and clears the pending wakeup result.
func (c *Context) TakeWakeup() (uintptr, error) {
	r, err := c.wakeupResult, c.wakeupErr
	c.wakeupResult, c.wakeupErr = 0, nil
	return r, err
}

// Exit transitions the context to Zombie, recording its exit code and
// clearing clear_child_tid in its own memory if requested (spec §3, §4.6).
func (c *Context) Exit(code int32) {
	c.State = Zombie
	c.ExitCode = code
	if c.ClearChildTID != 0 && c.Memory != nil {
		var zero [4]byte
		c.Memory.Write(c.ClearChildTID, zero[:])
	}
}
