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
	"fmt"
	"time"

	"rvkernel.dev/rvkernel/pkg/log"
)

// LogEmitter is a log.Emitter rendering "[ INFO] msg" lines to a Console.
type LogEmitter struct {
	Console
}

func levelTag(level log.Level) string {
	switch level {
	case log.Warning:
		return "[ WARN]"
	case log.Info:
		return "[ INFO]"
	case log.Debug:
		return "[DEBUG]"
	default:
		return "[?????]"
	}
}

// Emit implements log.Emitter.Emit.
func (e LogEmitter) Emit(_ int, level log.Level, _ time.Time, format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	Print(e.Console, levelTag(level))
	e.PutChar(' ')
	Print(e.Console, msg)
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		e.PutChar('\n')
	}
}
