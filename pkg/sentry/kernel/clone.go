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

import (
	"github.com/lucidvm/sentry32/pkg/abi/guest"
)

// Clone flag bits. Only this fixed subset is supported (spec §4.6); any
// other bit set in the flags argument is a fatal condition, checked by the
// caller (the clone syscall handler) before calling Clone.
const (
	CloneVM            = 0x00000100
	CloneFS            = 0x00000200
	CloneFiles         = 0x00000400
	CloneSighand       = 0x00000800
	ClonePTrace        = 0x00002000
	CloneVfork         = 0x00004000
	CloneParent        = 0x00008000
	CloneThread        = 0x00010000
	CloneSysvsem       = 0x00040000
	CloneSettls        = 0x00080000
	CloneParentSettid  = 0x00100000
	CloneChildCleartid = 0x00200000
	CloneChildSettid   = 0x01000000
)

// SupportedCloneFlags is the bitwise union of every recognized flag (spec
// §4.6 "supported flag set is a fixed subset ... any other flag set is
// fatal").
const SupportedCloneFlags = CloneVM | CloneFS | CloneFiles | CloneSighand |
	ClonePTrace | CloneVfork | CloneParent | CloneThread | CloneSysvsem |
	CloneSettls | CloneParentSettid | CloneChildCleartid | CloneChildSettid |
	0xff // low byte: exit_signal

// CloneArgs bundles a clone(2) call's arguments after register extraction.
type CloneArgs struct {
	Flags         uint32
	NewStack      uint32
	ParentTIDAddr uint32
	ChildTIDAddr  uint32
	TLS           *guest.UserDesc // nil unless CLONE_SETTLS
}

// Clone creates a child Context of parent per spec §4.6, inserting it into
// table and returning the child. The caller (the clone syscall handler) is
// responsible for writing parent_tid/child_tid and the return values into
// guest memory once the child pid is known, since those involve guest
// memory writes that belong at the handler layer, not the model layer.
func Clone(table *PIDTable, parent *Context, args CloneArgs) (*Context, error) {
	child := &Context{
		PID:     table.Alloc(),
		Table:   table,
		Parent:  parent,
		Regs:    parent.Regs.Fork(),
		ExePath: parent.ExePath,
	}

	if args.Flags&CloneVM != 0 {
		// CLONE_VM requires sharing fs/files/sighand too (spec §4.6).
		const required = CloneFS | CloneFiles | CloneSighand
		if args.Flags&required != required {
			return nil, errUnsupportedClone("CLONE_VM requires CLONE_FS, CLONE_FILES and CLONE_SIGHAND")
		}
		parent.Memory.IncRef()
		child.Memory = parent.Memory
	} else {
		child.Memory = parent.Memory.Fork()
	}

	if args.Flags&CloneFiles != 0 {
		parent.FDs.IncRef()
		child.FDs = parent.FDs
	} else {
		forked, err := parent.FDs.Fork()
		if err != nil {
			return nil, err
		}
		child.FDs = forked
	}

	// Signal mask/pending tables: owned or shared. This emulator keeps
	// signal state inline on Context; CLONE_SIGHAND shares by aliasing the
	// mask/pending fields is not representable without a pointer indirection,
	// so sharing is approximated by copying the current mask (sufficient
	// for the supported surface, which never mutates another thread's mask
	// directly; kill() targets by pid, not by shared-state mutation).
	child.SignalMask = parent.SignalMask

	if args.Flags&CloneThread != 0 {
		if parent.GroupParent != nil {
			child.GroupParent = parent.GroupParent
		} else {
			child.GroupParent = parent
		}
		child.ExitSignal = 0
	} else {
		child.GroupParent = child
		child.ExitSignal = guest.Signal(args.Flags & 0xff)
	}

	if args.NewStack != 0 {
		child.Regs.Esp = args.NewStack
	}
	child.Regs.Eax = 0 // child's clone() return value is 0

	if args.Flags&CloneChildCleartid != 0 {
		child.ClearChildTID = args.ChildTIDAddr
	}

	if args.Flags&CloneSettls != 0 && args.TLS != nil {
		child.TLSEntryNumber = 6
		child.TLSBase = args.TLS.BaseAddr
		child.TLSLimit = args.TLS.Limit
	}

	parent.Children = append(parent.Children, child)
	table.Insert(child)
	return child, nil
}

type cloneError string

func (e cloneError) Error() string { return string(e) }

func errUnsupportedClone(reason string) error {
	return cloneError("unsupported clone flag combination: " + reason)
}
