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

package kernel

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/lucidvm/sentry32/pkg/abi/guest"
)

// Scheduler runs the single-threaded cooperative loop over guest Contexts
// (spec §5). Exactly one context is ever "current" while its syscall is
// being handled; the background host-thread timer is the only source of
// real parallelism, and it communicates only by requesting a re-run of
// ProcessEvents (spec §9 "a helper thread with a wake channel").
type Scheduler struct {
	Table *PIDTable
	// Now returns the current monotonic time in microseconds; supplied by
	// the embedding loader (spec §6: "the embedding scheduler supplies ...
	// the monotonic time source").
	Now func() int64

	mu      sync.Mutex
	wake    chan struct{}
	pending bool
}

// NewScheduler creates a Scheduler bound to table, using now for the
// monotonic clock.
func NewScheduler(table *PIDTable, now func() int64) *Scheduler {
	return &Scheduler{Table: table, Now: now, wake: make(chan struct{}, 1)}
}

// RequestEvents asks the scheduler to re-run ProcessEvents as soon as
// possible, cancelling any current host-thread wait (spec §4.7 "setting a
// new timer cancels the scheduler's current timer wait").
func (s *Scheduler) RequestEvents() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// ProcessEvents re-examines every Suspended context, waking those whose
// condition is now satisfied (spec §4.1 "process_events_schedule"). It
// returns the contexts that transitioned to Running this pass, which the
// caller must re-dispatch their syscall for (spec §4.5: "the scheduler
// retries the operation").
func (s *Scheduler) ProcessEvents() []*Context {
	now := s.Now()
	var woken []*Context
	for _, c := range s.Table.All() {
		if c.State != Suspended {
			continue
		}
		if s.wakeCondition(c, now) {
			woken = append(woken, c)
		}
	}
	return woken
}

// wakeCondition checks and, if satisfied, performs the wake for c's
// suspend cause, returning whether c woke.
func (s *Scheduler) wakeCondition(c *Context, now int64) bool {
	switch c.Suspend.Kind {
	case SuspendRead, SuspendWrite:
		hostFD := c.FDs.HostFDOf(c.Suspend.FD)
		if hostFD < 0 {
			c.Wake(0, guest.Err(guest.EBADF))
			return true
		}
		if pollReady(hostFD, c.Suspend.Events) {
			c.Wake(0, nil)
			return true
		}
	case SuspendWaitPID:
		if findZombieChild(c, c.Suspend.WaitPID) != nil {
			c.Wake(0, nil)
			return true
		}
	case SuspendNanosleep:
		if now >= c.Suspend.Deadline {
			c.Wake(0, nil)
			return true
		}
	case SuspendPoll:
		if now >= c.Suspend.Deadline {
			c.Wake(0, nil)
			return true
		}
		for _, p := range c.Suspend.PollFDs {
			hostFD := c.FDs.HostFDOf(p.FD)
			if hostFD >= 0 && pollReady(hostFD, p.Events) {
				c.Wake(0, nil)
				return true
			}
		}
	case SuspendSignal:
		if c.SignalPending != 0 {
			c.Wake(0, nil)
			return true
		}
	}
	if c.SignalPending != 0 && c.Suspend.Kind != SuspendSignal {
		c.Wake(0, errInterrupted)
		return true
	}
	return false
}

// findZombieChild returns a zombie child of parent matching pid (-1 =
// any), or nil (spec §4.5 waitpid).
func findZombieChild(parent *Context, pid int32) *Context {
	for _, ch := range parent.Children {
		if !ch.IsZombie() {
			continue
		}
		if pid == -1 || ch.PID == pid {
			return ch
		}
	}
	return nil
}

// pollReady does a zero-timeout poll of hostFD for events, used both for
// the non-blocking fast path and for the scheduler's readiness recheck
// (spec §4.5).
func pollReady(hostFD int, events uint32) bool {
	fds := []unix.PollFd{{Fd: int32(hostFD), Events: int16(events)}}
	n, err := unix.Poll(fds, 0)
	return err == nil && n > 0 && fds[0].Revents&int16(events) != 0
}

// RunHostTimer starts the background host-thread timer (spec §9): a
// goroutine that blocks on a short backoff-scheduled tick, waking the
// scheduler whenever it might have work (an interval timer due, or a
// fd whose readiness changed since the last check). It runs under an
// errgroup so a fatal error anywhere tears the whole emulator down
// cleanly, and stops when ctx is cancelled.
func (s *Scheduler) RunHostTimer(ctx context.Context, g *errgroup.Group, minInterval time.Duration) {
	g.Go(func() error {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = minInterval
		b.MaxInterval = 50 * time.Millisecond
		ticker := time.NewTimer(b.NextBackOff())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-s.wake:
				b.Reset()
				ticker.Reset(minInterval)
			case <-ticker.C:
				ticker.Reset(b.NextBackOff())
			}
			s.RequestEvents()
		}
	})
}
