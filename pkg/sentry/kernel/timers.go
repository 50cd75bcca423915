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

// SetITimer installs a new interval timer for which, returning the
// previous value (spec §4.7). nowUsec is the caller's current
// wall-clock time in microseconds.
func (c *Context) SetITimer(which Which, valueUsec, intervalUsec int64, nowUsec int64) IntervalTimer {
	old := c.ITimers[which]
	if old.ExpiryUsec != 0 {
		old.ExpiryUsec -= nowUsec
	}
	var next IntervalTimer
	if valueUsec != 0 {
		next.ExpiryUsec = nowUsec + valueUsec
		next.IntervalUsec = intervalUsec
	}
	c.ITimers[which] = next
	return old
}

// GetITimer returns the current value of timer which, relative to
// nowUsec (spec §4.7 getitimer).
func (c *Context) GetITimer(which Which, nowUsec int64) IntervalTimer {
	t := c.ITimers[which]
	if t.ExpiryUsec == 0 {
		return IntervalTimer{}
	}
	remaining := t.ExpiryUsec - nowUsec
	if remaining < 0 {
		remaining = 0
	}
	return IntervalTimer{ExpiryUsec: remaining, IntervalUsec: t.IntervalUsec}
}

// AdvanceExpiredTimers checks all three interval timers against nowUsec,
// queuing SIGALRM (ITimerReal)/SIGVTALRM/SIGPROF-equivalent delivery via
// deliver for every timer that has expired, and reloads each from its
// interval (spec §4.7: "on expiry, a signal is queued and the expiry is
// advanced by the interval"). It reports whether any timer fired.
func (c *Context) AdvanceExpiredTimers(nowUsec int64, deliver func(which Which)) bool {
	fired := false
	for w := Which(0); w < numITimers; w++ {
		t := &c.ITimers[w]
		if t.ExpiryUsec == 0 || t.ExpiryUsec > nowUsec {
			continue
		}
		deliver(w)
		fired = true
		if t.IntervalUsec != 0 {
			t.ExpiryUsec += t.IntervalUsec
			for t.ExpiryUsec <= nowUsec {
				t.ExpiryUsec += t.IntervalUsec
			}
		} else {
			t.ExpiryUsec = 0
		}
	}
	return fired
}
