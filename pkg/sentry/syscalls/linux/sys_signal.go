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
	"github.com/lucidvm/sentry32/pkg/abi/guest"
	"github.com/lucidvm/sentry32/pkg/sentry/arch"
	"github.com/lucidvm/sentry32/pkg/sentry/kernel"
)

// SigReturn implements sigreturn(2): restores the signal mask that was
// saved when the handler was entered (spec §4.8). Full signal-frame
// unwinding is outside this layer's scope (spec §1); the mask argument
// here is whatever the guest's handler trampoline saved at ebx, which is
// as much of sigreturn's contract as this emulator implements.
func SigReturn(ctx *kernel.Context, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	ctx.SigReturn(guest.SignalSet(args[0].Uint()))
	return 0, nil, nil
}
