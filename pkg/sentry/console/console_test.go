// Copyright 2026 The rvkernel Authors.
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

package console

import (
	"bytes"
	"os"
	"testing"

	"rvkernel.dev/rvkernel/pkg/log"
	"rvkernel.dev/rvkernel/pkg/sentry/pgalloc"
	"rvkernel.dev/rvkernel/pkg/sentry/platform/emu"
)

func TestPrintf(t *testing.T) {
	var buf bytes.Buffer
	Printf(NewWriter(&buf), "app%d exit with code %d\n", 3, 42)
	if got, want := buf.String(), "app3 exit with code 42\n"; got != want {
		t.Errorf("Printf wrote %q, want %q", got, want)
	}
}

func TestFirmware(t *testing.T) {
	arena, err := pgalloc.New(1)
	if err != nil {
		t.Fatalf("pgalloc.New failed: %v", err)
	}
	defer arena.Close()
	var buf bytes.Buffer
	Print(Firmware{emu.New(arena, &buf)}, "hi")
	if got := buf.String(); got != "hi" {
		t.Errorf("firmware console wrote %q, want %q", got, "hi")
	}
}

func TestLogEmitter(t *testing.T) {
	var buf bytes.Buffer
	l := &log.BasicLogger{Level: log.Debug, Emitter: LogEmitter{NewWriter(&buf)}}
	l.Infof("load app%d", 0)
	l.Warningf("app%d was killed", 1)
	l.Debugf("done\n")
	want := "[ INFO] load app0\n[ WARN] app1 was killed\n[DEBUG] done\n"
	if got := buf.String(); got != want {
		t.Errorf("emitted %q, want %q", got, want)
	}
}

func TestNewTerminalRejectsFiles(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "console")
	if err != nil {
		t.Fatalf("CreateTemp failed: %v", err)
	}
	defer f.Close()
	if _, err := NewTerminal(f, false); err == nil {
		t.Errorf("NewTerminal on a regular file succeeded")
	}
}
