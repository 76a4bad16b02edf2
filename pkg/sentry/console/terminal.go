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
	"os"
	"sync"

	"github.com/containerd/console"
)

// Terminal is a Console on a host terminal.
type Terminal struct {
	mu  sync.Mutex
	con console.Console
	raw bool
}

// NewTerminal wraps f, which must be a terminal. In raw mode the terminal's
// output processing is disabled and newlines are expanded to "\r\n" here.
func NewTerminal(f *os.File, raw bool) (*Terminal, error) {
	con, err := console.ConsoleFromFile(f)
	if err != nil {
		return nil, fmt.Errorf("%s is not a terminal: %w", f.Name(), err)
	}
	if raw {
		if err := con.SetRaw(); err != nil {
			return nil, fmt.Errorf("setting %s raw: %w", f.Name(), err)
		}
	}
	return &Terminal{con: con, raw: raw}, nil
}

// PutChar implements Console.PutChar.
func (t *Terminal) PutChar(c byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.raw && c == '\n' {
		t.con.Write([]byte{'\r', '\n'})
		return
	}
	t.con.Write([]byte{c})
}

// Size returns the terminal's dimensions.
func (t *Terminal) Size() (width, height uint16, err error) {
	ws, err := t.con.Size()
	if err != nil {
		return 0, 0, err
	}
	return ws.Width, ws.Height, nil
}

// Close restores the terminal's original mode.
func (t *Terminal) Close() error {
	return t.con.Reset()
}
