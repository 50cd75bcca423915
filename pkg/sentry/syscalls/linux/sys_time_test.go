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
	"testing"
	"time"

	"github.com/lucidvm/sentry32/pkg/abi/guest"
	"github.com/lucidvm/sentry32/pkg/sentry/arch"
)

func TestTimeWritesCurrentSeconds(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Memory.MapAnon(0x08050000, 0x1000, 1|2)

	before := time.Now().Unix()
	result, ctl, err := Time(ctx, arch.SyscallArguments{{0x08050000}})
	after := time.Now().Unix()
	if err != nil || ctl != nil {
		t.Fatalf("Time = (ctl=%v, err=%v)", ctl, err)
	}
	if int64(result) < before || int64(result) > after {
		t.Fatalf("Time returned %d, want within [%d, %d]", result, before, after)
	}

	var buf [4]byte
	ctx.Memory.Read(0x08050000, buf[:])
	stored := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	if uintptr(stored) != result {
		t.Fatalf("stored time_t = %d, want %d", stored, result)
	}
}

func TestTimeWithNullPointerStillReturnsValue(t *testing.T) {
	ctx := newTestContext(t)
	result, ctl, err := Time(ctx, arch.SyscallArguments{{0}})
	if err != nil || ctl != nil || result == 0 {
		t.Fatalf("Time(NULL) = (%d, %v, %v), want a nonzero timestamp and no error", result, ctl, err)
	}
}

func TestGettimeofdayWritesTimevalAndZeroTimezone(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Memory.MapAnon(0x08050000, 0x1000, 1|2)

	_, ctl, err := Gettimeofday(ctx, arch.SyscallArguments{{0x08050000}, {0x08050100}})
	if err != nil || ctl != nil {
		t.Fatalf("Gettimeofday = (ctl=%v, err=%v)", ctl, err)
	}

	var tv guest.Timeval
	buf := make([]byte, tv.Size())
	ctx.Memory.Read(0x08050000, buf)
	tv.Unmarshal(buf)
	if tv.Sec == 0 {
		t.Fatal("Gettimeofday wrote a zero tv_sec")
	}

	tz := make([]byte, 8)
	ctx.Memory.Read(0x08050100, tz)
	for i, b := range tz {
		if b != 0 {
			t.Fatalf("timezone byte[%d] = %#x, want 0 (always UTC)", i, b)
		}
	}
}

func TestSetitimerThenGetitimerRoundTrip(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Memory.MapAnon(0x08050000, 0x1000, 1|2)

	iv := guest.Itimerval{
		Value:    guest.Timeval{Sec: 2, Usec: 0},
		Interval: guest.Timeval{Sec: 1, Usec: 0},
	}
	buf := make([]byte, iv.Size())
	iv.Marshal(buf)
	ctx.Memory.Write(0x08050000, buf)

	_, ctl, err := Setitimer(ctx, arch.SyscallArguments{{uint32(0)}, {0x08050000}, {0}})
	if err != nil || ctl != nil {
		t.Fatalf("Setitimer = (ctl=%v, err=%v)", ctl, err)
	}

	ctx.Memory.MapAnon(0x08051000, 0x1000, 1|2)
	_, ctl, err = Getitimer(ctx, arch.SyscallArguments{{uint32(0)}, {0x08051000}})
	if err != nil || ctl != nil {
		t.Fatalf("Getitimer = (ctl=%v, err=%v)", ctl, err)
	}

	var got guest.Itimerval
	readBack := make([]byte, got.Size())
	ctx.Memory.Read(0x08051000, readBack)
	got.Unmarshal(readBack)
	if got.Interval.Sec != 1 {
		t.Fatalf("round-tripped interval.Sec = %d, want 1", got.Interval.Sec)
	}
	if got.Value.Sec <= 0 || got.Value.Sec > 2 {
		t.Fatalf("round-tripped value.Sec = %d, want in (0, 2]", got.Value.Sec)
	}
}

func TestSetitimerRejectsInvalidWhich(t *testing.T) {
	ctx := newTestContext(t)
	_, _, err := Setitimer(ctx, arch.SyscallArguments{{3}, {0}, {0}})
	if err == nil {
		t.Fatal("Setitimer(which=3) succeeded, want a fatal invalid-which error")
	}
}

func TestGetitimerRejectsInvalidWhich(t *testing.T) {
	ctx := newTestContext(t)
	_, _, err := Getitimer(ctx, arch.SyscallArguments{{3}, {0}})
	if err == nil {
		t.Fatal("Getitimer(which=3) succeeded, want a fatal invalid-which error")
	}
}
