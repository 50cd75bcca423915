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

// SyscallControl is the side channel a syscall handler uses to tell the
// dispatcher the call did not complete synchronously (spec §4.1, §4.5): the
// handler has already parked ctx via SetSuspended, and the dispatcher must
// not write a return value to eax until the scheduler wakes it and the
// handler runs again.
type SyscallControl struct {
	// Suspended is true when the handler parked the context instead of
	// returning a result. The (uintptr, error) the handler returned
	// alongside a non-nil SyscallControl are ignored.
	Suspended bool
}

// Suspend is the sentinel *SyscallControl handlers return to park the
// current context. ctx must already have been put into the Suspended
// state via ctx.SetSuspended before returning this.
var Suspend = &SyscallControl{Suspended: true}
