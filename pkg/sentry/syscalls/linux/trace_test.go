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
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/lucidvm/sentry32/pkg/sentry/arch"
)

func newTestTracer() (*Tracer, *bytes.Buffer) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.DebugLevel)
	log.SetFormatter(&logrus.TextFormatter{DisableColors: true})
	return NewTracer(log), &buf
}

func TestTracerEnterExitLog(t *testing.T) {
	ctx := newTestContext(t)
	tracer, buf := newTestTracer()

	tracer.Enter(ctx, 20, "getpid", arch.SyscallArguments{})
	if !strings.Contains(buf.String(), "syscall enter") {
		t.Fatalf("log missing enter line: %q", buf.String())
	}

	buf.Reset()
	tracer.Exit(ctx, 20, "getpid", 1, nil)
	if !strings.Contains(buf.String(), "syscall exit") {
		t.Fatalf("log missing exit line: %q", buf.String())
	}
}

func TestTracerUnimplementedRateLimits(t *testing.T) {
	tracer, buf := newTestTracer()
	for i := 0; i < 10; i++ {
		tracer.Unimplemented(9999)
	}
	n := strings.Count(buf.String(), "unimplemented syscall")
	if n == 0 {
		t.Fatal("Unimplemented never logged")
	}
	if n >= 10 {
		t.Fatalf("Unimplemented logged %d times for 10 calls, rate limiting had no effect", n)
	}
}

func TestTracerUnimplementedDistinctSysnosIndependentlyLimited(t *testing.T) {
	tracer, buf := newTestTracer()
	tracer.Unimplemented(100)
	tracer.Unimplemented(200)
	n := strings.Count(buf.String(), "unimplemented syscall")
	if n != 2 {
		t.Fatalf("first call for two distinct sysnos logged %d times, want 2", n)
	}
}
