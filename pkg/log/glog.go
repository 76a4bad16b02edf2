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
	"os"
	"runtime"
	"strings"
	"time"
)

// GoogleEmitter is a wrapper that emits logs in a format compatible with
// package github.com/golang/glog.
type GoogleEmitter struct {
	// Emitter is the underlying emitter.
	Emitter
}

// pid fills the thread id column. glog pads it to 7 characters.
var pid = fmt.Sprintf("%7d", os.Getpid())

// levelLetters are the glog level columns, indexed by level.
var levelLetters = [...]byte{
	Warning: 'W',
	Info:    'I',
	Debug:   'D',
}

// Emit emits the message, google-style.
//
// Log lines have this form:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg...
//
// where L is the level letter, the timestamp is in the local month, day and
// microsecond-resolution clock, and file:line is the caller.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	letter := byte('?')
	if int(level) < len(levelLetters) {
		letter = levelLetters[level]
	}
	file, line := "x", 0
	if _, f, l, ok := runtime.Caller(depth + 1); ok {
		file, line = f[strings.LastIndexByte(f, '/')+1:], l
	}
	_, month, day := timestamp.Date()
	hour, minute, second := timestamp.Clock()
	header := fmt.Sprintf("%c%02d%02d %02d:%02d:%02d.%06d %s %s:%d] ",
		letter, int(month), day, hour, minute, second, timestamp.Nanosecond()/1000, pid, file, line)

	// The header is prepended to the format, so it must not carry verbs.
	header = strings.ReplaceAll(header, "%", "%%")
	g.Emitter.Emit(depth+1, level, timestamp, header+format+"\n", args...)
}
