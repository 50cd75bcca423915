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

package mm

import (
	"bytes"
	"testing"

	"github.com/lucidvm/sentry32/pkg/abi/guest"
)

const heapStart = 0x08048000

func TestBrkGrowAndShrink(t *testing.T) {
	m := New(heapStart)
	if got, _ := m.Brk(0); got != heapStart {
		t.Fatalf("Brk(0) = %#x, want %#x", got, heapStart)
	}

	newBreak := heapStart + guest.MemPageSize*3 + 10
	got, err := m.Brk(newBreak)
	if err != nil {
		t.Fatalf("Brk(grow): %v", err)
	}
	if got != newBreak {
		t.Fatalf("Brk(grow) = %#x, want %#x", got, newBreak)
	}
	if !m.Access(heapStart, guest.MemPageSize, PermRead|PermWrite) {
		t.Fatal("grown heap page is not accessible")
	}

	got, err = m.Brk(heapStart + 5)
	if err != nil {
		t.Fatalf("Brk(shrink): %v", err)
	}
	if got != heapStart+5 {
		t.Fatalf("Brk(shrink) = %#x, want %#x", got, heapStart+5)
	}
	if m.Access(heapStart+guest.MemPageSize*2, 4, PermRead) {
		t.Fatal("page beyond shrunk break is still accessible")
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	m := New(heapStart)
	m.MapAnon(heapStart, guest.MemPageSize, PermRead|PermWrite)

	want := []byte("hello, guest")
	if err := m.Write(heapStart+8, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := make([]byte, len(want))
	if err := m.Read(heapStart+8, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Read = %q, want %q", got, want)
	}
}

func TestReadUnmappedFaults(t *testing.T) {
	m := New(heapStart)
	buf := make([]byte, 4)
	if err := m.Read(0xdeadb000, buf); err == nil {
		t.Fatal("Read of unmapped address did not fault")
	} else if !IsFault(err) {
		t.Fatalf("Read of unmapped address returned non-fault error: %v", err)
	}
}

func TestMapSpaceDownDoesNotOverlap(t *testing.T) {
	m := New(heapStart)
	a, ok := m.MapSpaceDown(guest.MmapFallbackBase, guest.MemPageSize, 0x10000)
	if !ok {
		t.Fatal("MapSpaceDown: no space found")
	}
	m.MapAnon(a, guest.MemPageSize, PermRead|PermWrite)

	b, ok := m.MapSpaceDown(guest.MmapFallbackBase, guest.MemPageSize, 0x10000)
	if !ok {
		t.Fatal("MapSpaceDown (second): no space found")
	}
	if b == a {
		t.Fatalf("second MapSpaceDown returned the same address %#x as the first", a)
	}
	if b > a {
		t.Fatalf("second placement %#x should be below the first %#x (downward allocator)", b, a)
	}
}

func TestMapFixedOverwritesExisting(t *testing.T) {
	m := New(heapStart)
	m.MapAnon(0x20000000, guest.MemPageSize, PermRead)
	if err := m.Write(0x20000000, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	m.MapFixed(0x20000000, guest.MemPageSize, PermRead|PermWrite)
	buf := make([]byte, 3)
	if err := m.Read(0x20000000, buf); err != nil {
		t.Fatalf("Read after MapFixed: %v", err)
	}
	if !bytes.Equal(buf, []byte{0, 0, 0}) {
		t.Fatalf("MapFixed did not discard prior contents: got %v", buf)
	}
}

func TestProtectAndAccess(t *testing.T) {
	m := New(heapStart)
	m.MapAnon(0x30000000, guest.MemPageSize, PermRead)
	if m.Access(0x30000000, 4, PermWrite) {
		t.Fatal("page should not be writable yet")
	}
	m.Protect(0x30000000, guest.MemPageSize, PermRead|PermWrite)
	if !m.Access(0x30000000, 4, PermWrite) {
		t.Fatal("page should be writable after Protect")
	}
}

func TestUnmap(t *testing.T) {
	m := New(heapStart)
	m.MapAnon(0x40000000, guest.MemPageSize, PermRead|PermWrite)
	m.Unmap(0x40000000, guest.MemPageSize)
	if m.Access(0x40000000, 4, PermRead) {
		t.Fatal("page still accessible after Unmap")
	}
}

func TestForkIsIndependent(t *testing.T) {
	m := New(heapStart)
	m.MapAnon(0x50000000, guest.MemPageSize, PermRead|PermWrite)
	m.Write(0x50000000, []byte{9})

	child := m.Fork()
	child.Write(0x50000000, []byte{7})

	parentBuf := make([]byte, 1)
	m.Read(0x50000000, parentBuf)
	if parentBuf[0] != 9 {
		t.Fatalf("parent page mutated by child write: got %v", parentBuf)
	}
}

func TestRegionsReflectsMappings(t *testing.T) {
	m := New(heapStart)
	m.MapAnon(0x60000000, guest.MemPageSize, PermRead|PermExec)
	regions := m.Regions()
	found := false
	for _, r := range regions {
		if r.Start == 0x60000000 {
			found = true
			if !r.Perm.Has(PermRead) || !r.Perm.Has(PermExec) || r.Perm.Has(PermWrite) {
				t.Fatalf("region perm = %v, want read+exec only", r.Perm)
			}
		}
	}
	if !found {
		t.Fatal("Regions() did not report the mapped extent")
	}
}

func TestReadStringStopsAtNUL(t *testing.T) {
	m := New(heapStart)
	m.MapAnon(0x70000000, guest.MemPageSize, PermRead|PermWrite)
	m.Write(0x70000000, []byte("abc\x00def"))
	s, err := m.ReadString(0x70000000, 64)
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if s != "abc" {
		t.Fatalf("ReadString = %q, want %q", s, "abc")
	}
}
