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

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/lucidvm/sentry32/pkg/sentry/arch"
)

// trapRecord is one software-interrupt trap this core reacts to: the
// register file at the moment the guest executed `int 0x80` (spec §1,
// §6). The instruction decoder/executor that produces these traps is out
// of this repo's scope (spec.md §1 Non-goals); cmd/sentry32 stands in for
// that missing upstream component by reading traps from a recorded
// newline-delimited JSON file, so this dispatch core can be driven and
// demonstrated without an x86 interpreter.
type trapRecord struct {
	Eax, Ebx, Ecx, Edx uint32
	Esi, Edi, Ebp, Esp uint32
	Eip, Eflags        uint32
}

func (r trapRecord) toRegs() arch.Regs {
	return arch.Regs{
		Eax: r.Eax, Ebx: r.Ebx, Ecx: r.Ecx, Edx: r.Edx,
		Esi: r.Esi, Edi: r.Edi, Ebp: r.Ebp, Esp: r.Esp,
		Eip: r.Eip, Eflags: r.Eflags,
	}
}

// readTrapFile reads a newline-delimited JSON trap-record file. Blank
// lines are skipped so the file can be hand-edited.
func readTrapFile(path string) ([]trapRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening replay file: %w", err)
	}
	defer f.Close()

	var records []trapRecord
	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		var r trapRecord
		if err := dec.Decode(&r); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("parsing replay file: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}
