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
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/lucidvm/sentry32/pkg/sentry/arch"
	"github.com/lucidvm/sentry32/pkg/sentry/kernel"
)

// Tracer logs every dispatched syscall at debug level, plus a
// rate-limited warning the first few times an unrecognized syscall
// number is seen per call number (rather than once globally or
// unthrottled, so a guest looping on one missing call doesn't flood
// the log but a second, different missing call is still reported).
type Tracer struct {
	log *logrus.Logger

	mu       sync.Mutex
	limiters map[int]*rate.Limiter
}

// NewTracer builds a Tracer writing through log.
func NewTracer(log *logrus.Logger) *Tracer {
	return &Tracer{log: log, limiters: make(map[int]*rate.Limiter)}
}

// Enter logs a syscall about to be dispatched.
func (t *Tracer) Enter(ctx *kernel.Context, sysno int, name string, args arch.SyscallArguments) {
	t.log.WithFields(logrus.Fields{
		"pid":  ctx.PID,
		"call": name,
		"no":   sysno,
	}).Debug("syscall enter")
}

// Exit logs a syscall's result.
func (t *Tracer) Exit(ctx *kernel.Context, sysno int, name string, result uintptr, err error) {
	entry := t.log.WithFields(logrus.Fields{
		"pid":  ctx.PID,
		"call": name,
		"no":   sysno,
	})
	if err != nil {
		entry.WithError(err).Debug("syscall exit (error)")
		return
	}
	entry.WithField("result", result).Debug("syscall exit")
}

// limiterFor returns this tracer's rate.Limiter for sysno, creating one
// (1 event/sec, burst 3) on first use.
func (t *Tracer) limiterFor(sysno int) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[sysno]
	if !ok {
		l = rate.NewLimiter(rate.Limit(1), 3)
		t.limiters[sysno] = l
	}
	return l
}

// Unimplemented logs, at most a few times per second per call number,
// that sysno has no table entry. Dispatch and DispatchTraced do not call
// it: an unrecognized call there is still fatal (spec §4.1's
// "invalid-call" path).
func (t *Tracer) Unimplemented(sysno int) {
	if !t.limiterFor(sysno).Allow() {
		return
	}
	t.log.WithField("no", sysno).Warn("unimplemented syscall")
}
