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
	"testing"

	"github.com/lucidvm/sentry32/pkg/abi/guest"
	"github.com/lucidvm/sentry32/pkg/sentry/arch"
	"github.com/lucidvm/sentry32/pkg/sentry/kernel"
)

func writeCString(t *testing.T, ctx *kernel.Context, addr uint32, s string) {
	t.Helper()
	ctx.Memory.MapAnon(addr&^0xfff, 0x2000, 1|2)
	if err := ctx.Memory.Write(addr, append([]byte(s), 0)); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestOpenInterceptsProcSelfMaps(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Memory.MapAnon(0x08049000, 0x1000, 1|4)
	writeCString(t, ctx, 0x08050000, "/proc/self/maps")

	result, ctl, err := Open(ctx, arch.SyscallArguments{{0x08050000}, {0}, {0}})
	if err != nil || ctl != nil {
		t.Fatalf("Open(/proc/self/maps) = (%d, %v, %v)", result, ctl, err)
	}
	e := ctx.FDs.Get(int(result))
	if e == nil || e.Kind != kernel.FDVirtual {
		t.Fatalf("entry = %+v, want FDVirtual", e)
	}

	buf := make([]byte, 256)
	ctx.Memory.MapAnon(0x08060000, 0x1000, 1|2)
	rr, _, rerr := Read(ctx, arch.SyscallArguments{{uint32(result)}, {0x08060000}, {uint32(len(buf))}})
	if rerr != nil {
		t.Fatalf("Read back maps content: %v", rerr)
	}
	content, _ := ctx.Memory.ReadString(0x08060000, int(rr)+1)
	if !strings.Contains(content, "08049000-0804a000") {
		t.Fatalf("maps content = %q, want a line for the mapped region", content)
	}
}

func TestCloseStdFDStaysUsable(t *testing.T) {
	ctx := newTestContext(t)
	for gfd := 0; gfd < 3; gfd++ {
		_, ctl, err := Close(ctx, arch.SyscallArguments{{uint32(gfd)}})
		if err != nil || ctl != nil {
			t.Fatalf("Close(%d) = (ctl=%v, err=%v)", gfd, ctl, err)
		}
		if ctx.FDs.Get(gfd) == nil {
			t.Fatalf("fd %d missing from table after guest close", gfd)
		}
	}
}

func TestCloseUnknownFDIsEBADF(t *testing.T) {
	ctx := newTestContext(t)
	_, ctl, err := Close(ctx, arch.SyscallArguments{{999}})
	if ctl != nil {
		t.Fatal("Close returned non-nil control")
	}
	if errno, ok := guest.AsGuestError(err); !ok || errno != guest.EBADF {
		t.Fatalf("Close(unknown fd) error = %v, want EBADF", err)
	}
}

func TestReadlinkTruncatesToBufferSize(t *testing.T) {
	ctx := newTestContext(t)
	ctx.ExePath = "/opt/guest/a-long-executable-name"
	writeCString(t, ctx, 0x08050000, "/proc/self/exe")

	bufAddr := uint32(0x08060000)
	ctx.Memory.MapAnon(bufAddr&^0xfff, 0x1000, 1|2)
	n, ctl, err := Readlink(ctx, arch.SyscallArguments{{0x08050000}, {bufAddr}, {8}})
	if err != nil || ctl != nil {
		t.Fatalf("Readlink = (%d, %v, %v)", n, ctl, err)
	}
	if n != 8 {
		t.Fatalf("Readlink returned length %d, want 8 (truncated)", n)
	}
	buf := make([]byte, 8)
	ctx.Memory.Read(bufAddr, buf)
	if string(buf) != ctx.ExePath[:8] {
		t.Fatalf("truncated content = %q, want %q", buf, ctx.ExePath[:8])
	}
}

func TestIoctlRejectsOutOfRangeCommand(t *testing.T) {
	ctx := newTestContext(t)
	ctx.FDs.NewAt(3, kernel.FDRegular, 0, "", 0)

	_, _, err := Ioctl(ctx, arch.SyscallArguments{{3}, {0x9999}, {0}})
	if err == nil || !kernel.IsFatal(err) {
		t.Fatalf("Ioctl(out-of-range cmd) = %v, want fatal", err)
	}
}

func TestIoctlUnknownFDIsEBADF(t *testing.T) {
	ctx := newTestContext(t)
	_, _, err := Ioctl(ctx, arch.SyscallArguments{{999}, {0x5401}, {0}})
	if errno, ok := guest.AsGuestError(err); !ok || errno != guest.EBADF {
		t.Fatalf("Ioctl(unknown fd) error = %v, want EBADF", err)
	}
}
