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

	"github.com/lucidvm/sentry32/pkg/abi/guest"
	"github.com/lucidvm/sentry32/pkg/sentry/arch"
)

func TestSigReturnRestoresMask(t *testing.T) {
	ctx := newTestContext(t)
	ctx.SignalMask = guest.SignalSet(0).Add(guest.SIGTERM)

	var restore guest.SignalSet
	restore = restore.Add(guest.SIGINT).Add(guest.SIGCHLD)

	_, ctl, err := SigReturn(ctx, arch.SyscallArguments{{uint32(restore)}})
	if err != nil || ctl != nil {
		t.Fatalf("SigReturn = (ctl=%v, err=%v)", ctl, err)
	}
	if ctx.SignalMask != restore {
		t.Fatalf("SignalMask = %v, want %v", ctx.SignalMask, restore)
	}
	if !ctx.SignalMask.Has(guest.SIGINT) || !ctx.SignalMask.Has(guest.SIGCHLD) {
		t.Fatal("restored mask missing expected bits")
	}
	if ctx.SignalMask.Has(guest.SIGTERM) {
		t.Fatal("restored mask retained a bit that SigReturn should have overwritten")
	}
}
