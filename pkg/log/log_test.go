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

package log

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func (w *testWriter) String() string {
	return strings.Join(w.lines, "")
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	want := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestWriterAppendsNewline(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("no newline")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}
	if diff := cmp.Diff([]string{"no newline", "\n"}, tw.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestLevelFiltering(t *testing.T) {
	tw := &testWriter{}
	l := &BasicLogger{Level: Info, Emitter: &Writer{Next: tw}}
	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Warningf("shown %d", 3)
	l.SetLevel(Debug)
	l.Debugf("shown %d", 4)

	want := "shown 2\nshown 3\nshown 4\n"
	if diff := cmp.Diff(want, tw.String()); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestGoogleEmitterFormat(t *testing.T) {
	tw := &testWriter{}
	e := GoogleEmitter{&Writer{Next: tw}}
	ts := time.Date(2026, time.March, 4, 5, 6, 7, 8000, time.UTC)
	e.Emit(0, Warning, ts, "hello %s", "world")

	if len(tw.lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(tw.lines), tw.lines)
	}
	got := tw.lines[0]
	if !strings.HasPrefix(got, "W0304 05:06:07.000008 ") {
		t.Errorf("bad header: %q", got)
	}
	if !strings.Contains(got, "log_test.go:") {
		t.Errorf("missing caller in %q", got)
	}
	if !strings.HasSuffix(got, "] hello world\n") {
		t.Errorf("bad message: %q", got)
	}
}

func TestMultiEmitter(t *testing.T) {
	a, b := &testWriter{}, &testWriter{}
	m := MultiEmitter{&Writer{Next: a}, &Writer{Next: b}}
	m.Emit(0, Info, time.Now(), "x=%d", 7)
	if diff := cmp.Diff(a.lines, b.lines); diff != "" {
		t.Errorf("emitters disagree (-a +b):\n%s", diff)
	}
	if diff := cmp.Diff("x=7\n", a.String()); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestRateLimitedLogger(t *testing.T) {
	tw := &testWriter{}
	base := &BasicLogger{Level: Debug, Emitter: &Writer{Next: tw}}
	rl := RateLimitedLogger(base, time.Hour)
	for i := 0; i < 5; i++ {
		rl.Infof("tick %d", i)
	}
	if diff := cmp.Diff("tick 0\n", tw.String()); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	if !rl.IsLogging(Debug) {
		t.Errorf("IsLogging(Debug) = false, want true")
	}
}

func TestFileOptsBuild(t *testing.T) {
	opts := FileOpts{
		Command: "run",
		Start:   time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC),
	}
	for _, tc := range []struct {
		pattern string
		want    string
	}{
		{"/tmp/k.log", "/tmp/k.log"},
		{"/tmp/%COMMAND%.log", "/tmp/run.log"},
		{"/tmp/logs/", "/tmp/logs/rvk.20260102-030405.000000.run.txt"},
	} {
		if got := opts.Build(tc.pattern); got != tc.want {
			t.Errorf("Build(%q) = %q, want %q", tc.pattern, got, tc.want)
		}
	}
}
