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

// Package console provides the console capability: a byte sink the kernel
// prints to and routes fd 0 writes and kernel logs through.
package console

import (
	"fmt"
	"io"
	"sync"

	"rvkernel.dev/rvkernel/pkg/sentry/platform"
)

// Console is a character output device.
type Console interface {
	// PutChar emits one byte.
	PutChar(c byte)
}

// Firmware is a Console backed by the firmware's legacy putchar.
type Firmware struct {
	platform.Firmware
}

// PutChar implements Console.PutChar.
func (f Firmware) PutChar(c byte) {
	f.ConsolePutChar(c)
}

// Writer is a Console that writes to an io.Writer. Write errors are
// dropped.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Console writing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// PutChar implements Console.PutChar.
func (w *Writer) PutChar(c byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.w.Write([]byte{c})
}

// Printer adapts a Console to io.Writer.
type Printer struct {
	Console
}

// Write implements io.Writer.Write.
func (p Printer) Write(b []byte) (int, error) {
	for _, c := range b {
		p.PutChar(c)
	}
	return len(b), nil
}

// Printf formats to c.
func Printf(c Console, format string, v ...any) {
	fmt.Fprintf(Printer{c}, format, v...)
}

// Print writes s to c.
func Print(c Console, s string) {
	for i := 0; i < len(s); i++ {
		c.PutChar(s[i])
	}
}
