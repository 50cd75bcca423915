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
	"time"

	"github.com/lucidvm/sentry32/pkg/abi/guest"
	"github.com/lucidvm/sentry32/pkg/sentry/arch"
	"github.com/lucidvm/sentry32/pkg/sentry/kernel"
)

// Time implements time(2).
func Time(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	t := time.Now().Unix()
	addr := args[0].Pointer()
	if addr != 0 {
		var buf [4]byte
		u := uint32(t)
		buf[0], buf[1], buf[2], buf[3] = byte(u), byte(u>>8), byte(u>>16), byte(u>>24)
		if err := ctx.Memory.Write(addr, buf[:]); err != nil {
			return 0, nil, guest.Err(guest.EFAULT)
		}
	}
	return uintptr(uint32(t)), nil, nil
}

// Gettimeofday implements gettimeofday(2). The timezone argument, if
// given, is always reported as UTC (0, 0) since the emulator has no
// guest-visible notion of a local timezone.
func Gettimeofday(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	now := time.Now()
	tvAddr := args[0].Pointer()
	tzAddr := args[1].Pointer()
	if tvAddr != 0 {
		tv := guest.Timeval{Sec: int32(now.Unix()), Usec: int32(now.Nanosecond() / 1000)}
		buf := make([]byte, tv.Size())
		tv.Marshal(buf)
		if err := ctx.Memory.Write(tvAddr, buf); err != nil {
			return 0, nil, guest.Err(guest.EFAULT)
		}
	}
	if tzAddr != 0 {
		var buf [8]byte
		if err := ctx.Memory.Write(tzAddr, buf[:]); err != nil {
			return 0, nil, guest.Err(guest.EFAULT)
		}
	}
	return 0, nil, nil
}

// nowUsec is the wall-clock time in microseconds used by
// setitimer/getitimer; cmd/sentry32 computes the scheduler's timer clock
// with the same formula (spec §4.7).
func nowUsec() int64 {
	return time.Now().UnixNano() / 1000
}

// Setitimer implements setitimer(2) (spec §4.7): installs a new interval
// timer on ctx and writes the previous one to the old-value pointer if
// given. It does not signal the scheduler.
func Setitimer(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	which := args[0].Uint()
	if which >= 3 {
		return 0, nil, kernel.Fatalf("setitimer", "invalid which=%d", which)
	}
	valueAddr := args[1].Pointer()
	oldAddr := args[2].Pointer()

	var iv guest.Itimerval
	if valueAddr != 0 {
		buf := make([]byte, iv.Size())
		if err := ctx.Memory.Read(valueAddr, buf); err != nil {
			return 0, nil, guest.Err(guest.EFAULT)
		}
		iv.Unmarshal(buf)
	}

	valueUsec := int64(iv.Value.Sec)*1_000_000 + int64(iv.Value.Usec)
	intervalUsec := int64(iv.Interval.Sec)*1_000_000 + int64(iv.Interval.Usec)
	old := ctx.SetITimer(kernel.Which(which), valueUsec, intervalUsec, nowUsec())

	if oldAddr != 0 {
		oldIV := usecToItimerval(old)
		buf := make([]byte, oldIV.Size())
		oldIV.Marshal(buf)
		if err := ctx.Memory.Write(oldAddr, buf); err != nil {
			return 0, nil, guest.Err(guest.EFAULT)
		}
	}
	return 0, nil, nil
}

// Getitimer implements getitimer(2).
func Getitimer(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	which := args[0].Uint()
	if which >= 3 {
		return 0, nil, kernel.Fatalf("getitimer", "invalid which=%d", which)
	}
	valueAddr := args[1].Pointer()

	cur := ctx.GetITimer(kernel.Which(which), nowUsec())
	iv := usecToItimerval(cur)
	buf := make([]byte, iv.Size())
	iv.Marshal(buf)
	if err := ctx.Memory.Write(valueAddr, buf); err != nil {
		return 0, nil, guest.Err(guest.EFAULT)
	}
	return 0, nil, nil
}

// usecToItimerval splits a kernel.IntervalTimer's microsecond fields back
// into the guest's {interval, value} Timeval pair.
func usecToItimerval(t kernel.IntervalTimer) guest.Itimerval {
	return guest.Itimerval{
		Value:    guest.Timeval{Sec: int32(t.ExpiryUsec / 1_000_000), Usec: int32(t.ExpiryUsec % 1_000_000)},
		Interval: guest.Timeval{Sec: int32(t.IntervalUsec / 1_000_000), Usec: int32(t.IntervalUsec % 1_000_000)},
	}
}
