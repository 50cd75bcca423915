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

package guest

// Signal is a guest signal number, 1..64. Values 1..31 are the Linux x86
// numbers and are used unchanged; no startup check compares them with the
// host's.
type Signal int

const (
	SIGHUP  Signal = 1
	SIGINT  Signal = 2
	SIGQUIT Signal = 3
	SIGILL  Signal = 4
	SIGTRAP Signal = 5
	SIGABRT Signal = 6
	SIGBUS  Signal = 7
	SIGFPE  Signal = 8
	SIGKILL Signal = 9
	SIGUSR1 Signal = 10
	SIGSEGV Signal = 11
	SIGUSR2 Signal = 12
	SIGPIPE Signal = 13
	SIGALRM Signal = 14
	SIGTERM Signal = 15
	SIGCHLD Signal = 17
	SIGCONT Signal = 18
	SIGSTOP Signal = 19
	SIGTSTP Signal = 20
)

var signalNames = map[Signal]string{
	SIGHUP: "SIGHUP", SIGINT: "SIGINT", SIGQUIT: "SIGQUIT", SIGILL: "SIGILL",
	SIGTRAP: "SIGTRAP", SIGABRT: "SIGABRT", SIGBUS: "SIGBUS", SIGFPE: "SIGFPE",
	SIGKILL: "SIGKILL", SIGUSR1: "SIGUSR1", SIGSEGV: "SIGSEGV", SIGUSR2: "SIGUSR2",
	SIGPIPE: "SIGPIPE", SIGALRM: "SIGALRM", SIGTERM: "SIGTERM", SIGCHLD: "SIGCHLD",
	SIGCONT: "SIGCONT", SIGSTOP: "SIGSTOP", SIGTSTP: "SIGTSTP",
}

// String implements fmt.Stringer for trace output.
func (s Signal) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return "SIG" + itoa(int(s))
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [12]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// SignalSet is a 64-bit bitmask of pending/blocked signals, bit N-1 for
// signal N.
type SignalSet uint64

// Has reports whether sig is a member of the set.
func (s SignalSet) Has(sig Signal) bool {
	if sig < 1 || sig > 64 {
		return false
	}
	return s&(1<<uint(sig-1)) != 0
}

// Add returns the set with sig added.
func (s SignalSet) Add(sig Signal) SignalSet {
	if sig < 1 || sig > 64 {
		return s
	}
	return s | (1 << uint(sig-1))
}

// Remove returns the set with sig removed.
func (s SignalSet) Remove(sig Signal) SignalSet {
	if sig < 1 || sig > 64 {
		return s
	}
	return s &^ (1 << uint(sig-1))
}
