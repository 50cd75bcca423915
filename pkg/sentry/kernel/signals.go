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

import "github.com/lucidvm/sentry32/pkg/abi/guest"

// Kill adds sig to target's pending set and, if target was parked for any
// cause, cancels that suspension (spec §4.8): target goes back to Running
// with the interruption recorded as its wakeup error, which the dispatcher
// resolves to -EINTR when it next runs target.
func Kill(target *Context, sig guest.Signal) {
	target.SignalPending = target.SignalPending.Add(sig)
	if target.State == Suspended {
		target.State = Running
		target.Suspend = SuspendCause{}
		target.wakeupErr = errInterrupted
	}
}

type interruptedError string

func (e interruptedError) Error() string { return string(e) }

// errInterrupted is the synthetic wakeup error used when a signal cancels
// a blocking syscall; handlers translate this into -EINTR.
var errInterrupted = interruptedError("interrupted by signal")

// IsInterrupted reports whether err is the signal-interruption sentinel.
func IsInterrupted(err error) bool {
	_, ok := err.(interruptedError)
	return ok
}

// SigReturn replaces the signal mask with restoreMask, the minimal surface
// sigreturn(2) needs here: restoring the mask that was in effect before
// the handler ran. The pending set is left unchanged. Full signal-frame handling (the saved
// ucontext/siginfo on the guest stack) is the signal subsystem's concern,
// which spec.md explicitly treats as consumed, not specified, by this
// layer (spec §1 "Explicitly out of scope").
func (c *Context) SigReturn(restoreMask guest.SignalSet) {
	c.SignalMask = restoreMask
}
