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

import "encoding/binary"

// All guest structs below are little-endian and packed exactly as a 32-bit
// x86 Linux guest would lay them out; they are read/written through the
// Marshal/Unmarshal methods rather than unsafe casts, since the host may
// have a different word size or endianness (spec §3, §6).

// Timeval mirrors struct timeval: two 32-bit words (sec, usec).
type Timeval struct {
	Sec  int32
	Usec int32
}

// Size is the marshaled size in guest memory.
func (Timeval) Size() int { return 8 }

// Marshal writes t into b, which must be at least Size() bytes.
func (t Timeval) Marshal(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(t.Sec))
	binary.LittleEndian.PutUint32(b[4:8], uint32(t.Usec))
}

// Unmarshal reads a Timeval out of b.
func (t *Timeval) Unmarshal(b []byte) {
	t.Sec = int32(binary.LittleEndian.Uint32(b[0:4]))
	t.Usec = int32(binary.LittleEndian.Uint32(b[4:8]))
}

// Itimerval mirrors struct itimerval: {interval, value} Timevals.
type Itimerval struct {
	Interval Timeval
	Value    Timeval
}

// Size is the marshaled size in guest memory.
func (Itimerval) Size() int { return 16 }

// Marshal writes iv into b.
func (iv Itimerval) Marshal(b []byte) {
	iv.Interval.Marshal(b[0:8])
	iv.Value.Marshal(b[8:16])
}

// Unmarshal reads an Itimerval out of b.
func (iv *Itimerval) Unmarshal(b []byte) {
	iv.Interval.Unmarshal(b[0:8])
	iv.Value.Unmarshal(b[8:16])
}

// Tms mirrors struct tms: four 32-bit clock-tick counts.
type Tms struct {
	Utime  int32
	Stime  int32
	Cutime int32
	Cstime int32
}

// Size is the marshaled size in guest memory.
func (Tms) Size() int { return 16 }

// Marshal writes t into b.
func (t Tms) Marshal(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(t.Utime))
	binary.LittleEndian.PutUint32(b[4:8], uint32(t.Stime))
	binary.LittleEndian.PutUint32(b[8:12], uint32(t.Cutime))
	binary.LittleEndian.PutUint32(b[12:16], uint32(t.Cstime))
}

// Rlimit32 mirrors struct rlimit on a 32-bit guest: two 32-bit words.
// 0xffffffff denotes RLIM_INFINITY.
type Rlimit32 struct {
	Cur uint32
	Max uint32
}

// Size is the marshaled size in guest memory.
func (Rlimit32) Size() int { return 8 }

// Marshal writes r into b.
func (r Rlimit32) Marshal(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], r.Cur)
	binary.LittleEndian.PutUint32(b[4:8], r.Max)
}

// Unmarshal reads an Rlimit32 out of b.
func (r *Rlimit32) Unmarshal(b []byte) {
	r.Cur = binary.LittleEndian.Uint32(b[0:4])
	r.Max = binary.LittleEndian.Uint32(b[4:8])
}

// Rusage32 mirrors struct rusage on a 32-bit guest: eighteen 32-bit words,
// the first four being {utime, stime} Timevals and the rest the long-typed
// accounting fields, all zero-filled beyond what this emulator tracks.
type Rusage32 struct {
	Utime, Stime                             Timeval
	Maxrss, Ixrss, Idrss, Isrss              int32
	Minflt, Majflt, Nswap                    int32
	Inblock, Oublock, Msgsnd, Msgrcv          int32
	Nsignals, Nvcsw, Nivcsw                  int32
}

// Size is the marshaled size in guest memory: 18 32-bit words.
func (Rusage32) Size() int { return 18 * 4 }

// Marshal writes ru into b.
func (ru Rusage32) Marshal(b []byte) {
	ru.Utime.Marshal(b[0:8])
	ru.Stime.Marshal(b[8:16])
	fields := []int32{
		ru.Maxrss, ru.Ixrss, ru.Idrss, ru.Isrss,
		ru.Minflt, ru.Majflt, ru.Nswap,
		ru.Inblock, ru.Oublock, ru.Msgsnd, ru.Msgrcv,
		ru.Nsignals, ru.Nvcsw, ru.Nivcsw,
	}
	off := 16
	for _, f := range fields {
		binary.LittleEndian.PutUint32(b[off:off+4], uint32(f))
		off += 4
	}
}

// Utsname mirrors struct utsname: six fixed 65-byte fields.
type Utsname struct {
	Sysname    [65]byte
	Nodename   [65]byte
	Release    [65]byte
	Version    [65]byte
	Machine    [65]byte
	Domainname [65]byte
}

// Size is the marshaled size in guest memory.
func (Utsname) Size() int { return 65 * 6 }

// Marshal writes u into b.
func (u Utsname) Marshal(b []byte) {
	fields := [][]byte{u.Sysname[:], u.Nodename[:], u.Release[:], u.Version[:], u.Machine[:], u.Domainname[:]}
	off := 0
	for _, f := range fields {
		copy(b[off:off+65], f)
		off += 65
	}
}

// SetString copies s (NUL-terminated, truncated to 64 bytes) into a
// 65-byte utsname field.
func SetString(field *[65]byte, s string) {
	n := copy(field[:64], s)
	for i := n; i < 65; i++ {
		field[i] = 0
	}
}

// UserDesc mirrors struct user_desc used by set_thread_area (spec §4.6,
// §6): entry_number, base_addr, limit, then a bitfield word.
type UserDesc struct {
	EntryNumber  uint32
	BaseAddr     uint32
	Limit        uint32
	Seg32Bit     bool
	Contents     uint8 // 2 bits
	ReadExecOnly bool
	LimitInPages bool
	SegNotPresent bool
	Useable      bool
}

// Size is the marshaled size in guest memory: 3 words + 1 bitfield word.
func (UserDesc) Size() int { return 16 }

// Unmarshal reads a UserDesc out of b, decoding the trailing bitfield word.
func (u *UserDesc) Unmarshal(b []byte) {
	u.EntryNumber = binary.LittleEndian.Uint32(b[0:4])
	u.BaseAddr = binary.LittleEndian.Uint32(b[4:8])
	u.Limit = binary.LittleEndian.Uint32(b[8:12])
	bits := binary.LittleEndian.Uint32(b[12:16])
	u.Seg32Bit = bits&0x1 != 0
	u.Contents = uint8((bits >> 1) & 0x3)
	u.ReadExecOnly = bits&0x8 != 0
	u.LimitInPages = bits&0x10 != 0
	u.SegNotPresent = bits&0x20 != 0
	u.Useable = bits&0x40 != 0
}

// Utimbuf mirrors struct utimbuf: two 32-bit words (actime, modtime).
type Utimbuf struct {
	Actime  int32
	Modtime int32
}

// Size is the marshaled size in guest memory.
func (Utimbuf) Size() int { return 8 }

// Unmarshal reads a Utimbuf out of b.
func (u *Utimbuf) Unmarshal(b []byte) {
	u.Actime = int32(binary.LittleEndian.Uint32(b[0:4]))
	u.Modtime = int32(binary.LittleEndian.Uint32(b[4:8]))
}

// DirentReclen rounds a name length up to the guest's 4-byte aligned
// d_reclen convention: (15 + len(name)) / 4 * 4 (spec §6). That is the
// 10-byte fixed header, the name, its NUL and the trailing d_type byte
// (12 + len(name)) rounded up to a multiple of 4.
func DirentReclen(name string) uint16 {
	return uint16((15 + len(name)) / 4 * 4)
}

// MarshalDirent writes one guest dirent record (ino, off, reclen, name,
// trailing d_type byte at reclen-1) into b, returning the bytes written.
func MarshalDirent(b []byte, ino uint32, off uint32, name string, dtype byte) int {
	reclen := DirentReclen(name)
	binary.LittleEndian.PutUint32(b[0:4], ino)
	binary.LittleEndian.PutUint32(b[4:8], off)
	binary.LittleEndian.PutUint16(b[8:10], reclen)
	copy(b[10:], name)
	b[10+len(name)] = 0
	if int(reclen) > 0 {
		b[reclen-1] = dtype
	}
	return int(reclen)
}
