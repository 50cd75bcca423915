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
	"context"
	"flag"

	"github.com/google/subcommands"
)

// Trace is "run" with tracing forced on, its own top-level command so a
// user doesn't need to remember the -trace flag for the common
// debugging case (spec §1.1 CLI).
type Trace struct {
	Run
}

func (*Trace) Name() string     { return "trace" }
func (*Trace) Synopsis() string { return "like run, but with syscall tracing always on" }
func (*Trace) Usage() string    { return "trace -exe <path> -replay <path>\n" }

func (t *Trace) SetFlags(f *flag.FlagSet) {
	t.Run.SetFlags(f)
	t.Run.trace = true
}

func (t *Trace) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	t.Run.trace = true
	return t.Run.Execute(ctx, f, args...)
}
