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

// Syscall numbers for the supported subset of the Linux 2.6 x86 int-0x80
// ABI (spec §6). NumSyscalls bounds the dispatch table; call numbers
// outside (0, NumSyscalls) are fatal (spec §4.1).
const (
	SysExit       = 1
	SysClose      = 2
	SysRead       = 3
	SysWrite      = 4
	SysOpen       = 5
	SysWaitpid    = 7
	SysUnlink     = 10
	SysExecve     = 11
	SysTime       = 13
	SysChmod      = 15
	SysLseek      = 19
	SysGetpid     = 20
	SysUtime      = 30
	SysAccess     = 33
	SysKill       = 37
	SysRename     = 38
	SysMkdir      = 39
	SysDup        = 41
	SysPipe       = 42
	SysTimes      = 43
	SysBrk        = 45
	SysIoctl      = 54
	SysGetppid    = 64
	SysSetrlimit  = 75
	SysGetrusage  = 77
	SysGettimeofday = 78
	SysReadlink   = 85
	SysMmap       = 90
	SysMunmap     = 91
	SysFchmod     = 94
	SysSocketcall = 102
	SysSetitimer  = 104
	SysGetitimer  = 105
	SysSigreturn  = 119
	SysClone      = 120
	SysNewuname   = 122
	SysMprotect   = 125
	SysLlseek     = 140
	SysGetdents   = 141
	SysSelect     = 142
	SysMsync      = 144
	SysMremap     = 163
	SysGetrlimit  = 191
	SysMmap2      = 192
	SysFcntl64    = 221
	SysSetThreadArea = 243

	// NumSyscalls bounds the dispatch table; it is above the highest
	// syscall number this emulator knows about (SysSetThreadArea).
	NumSyscalls = 256
)

// syscallNames backs the debug tracer's call-number->name lookup.
var syscallNames = map[int]string{
	SysExit: "exit", SysClose: "close", SysRead: "read", SysWrite: "write",
	SysOpen: "open", SysWaitpid: "waitpid", SysUnlink: "unlink",
	SysExecve: "execve", SysTime: "time", SysChmod: "chmod",
	SysLseek: "lseek", SysGetpid: "getpid", SysUtime: "utime",
	SysAccess: "access", SysKill: "kill", SysRename: "rename",
	SysMkdir: "mkdir", SysDup: "dup", SysPipe: "pipe", SysTimes: "times",
	SysBrk: "brk", SysIoctl: "ioctl", SysGetppid: "getppid",
	SysSetrlimit: "setrlimit", SysGetrusage: "getrusage",
	SysGettimeofday: "gettimeofday", SysReadlink: "readlink",
	SysMmap: "mmap", SysMunmap: "munmap", SysFchmod: "fchmod",
	SysSocketcall: "socketcall", SysSetitimer: "setitimer",
	SysGetitimer: "getitimer", SysSigreturn: "sigreturn",
	SysClone: "clone", SysNewuname: "newuname", SysMprotect: "mprotect",
	SysLlseek: "_llseek", SysGetdents: "getdents", SysSelect: "_newselect",
	SysMsync: "msync", SysMremap: "mremap", SysGetrlimit: "getrlimit",
	SysMmap2: "mmap2", SysFcntl64: "fcntl64",
	SysSetThreadArea: "set_thread_area",
}

// SyscallName returns the symbolic name of a syscall number for trace
// output, or "" if unknown.
func SyscallName(no int) string {
	return syscallNames[no]
}
