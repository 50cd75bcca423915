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

import "fmt"

// FatalError is the third outcome class of spec §7: the emulator contract
// is that unsupported guest behavior halts the emulator rather than
// surfacing as a spurious guest error. Handlers return a *FatalError
// instead of calling os.Exit themselves so the dispatcher can log and
// terminate uniformly with caller context attached.
type FatalError struct {
	Handler string
	Reason  string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %s (this is a bug or an unsupported guest feature; "+
		"please report it along with the syscall trace)", e.Handler, e.Reason)
}

// Fatalf constructs a FatalError attributed to handler.
func Fatalf(handler, format string, args ...any) error {
	return &FatalError{Handler: handler, Reason: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err is a FatalError.
func IsFatal(err error) bool {
	_, ok := err.(*FatalError)
	return ok
}
