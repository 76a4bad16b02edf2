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

// Package apps contains the user programs bundled with the kernel. Each is
// assembled with rvasm into a static RV64 executable on demand.
package apps

import (
	"fmt"
	"sort"

	"rvkernel.dev/rvkernel/pkg/abi/linux"
	"rvkernel.dev/rvkernel/pkg/rvasm"
	"rvkernel.dev/rvkernel/pkg/sentry/fs"
)

// App is a bundled program.
type App struct {
	// Name is the file name the image is stored under.
	Name string

	// Description is a one-line summary.
	Description string

	// ABI is the semver constraint the kernel ABI must satisfy.
	ABI string

	// Manual apps never finish on their own and are only booted when
	// named.
	Manual bool

	build func(a *rvasm.Assembler)
}

// Image assembles the app into an ELF image.
func (app App) Image() ([]byte, error) {
	a := rvasm.New()
	app.build(a)
	img, err := rvasm.Program(a)
	if err != nil {
		return nil, fmt.Errorf("assembling %s: %w", app.Name, err)
	}
	return img, nil
}

var registry = map[string]App{}

func register(app App) {
	if _, ok := registry[app.Name]; ok {
		panic(fmt.Sprintf("app %q registered twice", app.Name))
	}
	registry[app.Name] = app
}

// All returns every bundled app, sorted by name.
func All() []App {
	out := make([]App, 0, len(registry))
	for _, app := range registry {
		out = append(out, app)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the app called name.
func Lookup(name string) (App, bool) {
	app, ok := registry[name]
	return app, ok
}

// Populate stores every app's image in m under its name.
func Populate(m *fs.MemFS) error {
	for _, app := range All() {
		img, err := app.Image()
		if err != nil {
			return err
		}
		if err := m.Add(app.Name, img); err != nil {
			return err
		}
	}
	return nil
}

// syscall emits a syscall with the arguments already in a0..a5.
func syscall(a *rvasm.Assembler, sysno int64) {
	a.LI(rvasm.A7, sysno)
	a.ECALL()
}

// puts writes s to the console, storing it as the data blob label.
func puts(a *rvasm.Assembler, label string, s string) {
	a.Data(label, []byte(s))
	a.LI(rvasm.A0, linux.FDConsole)
	a.LA(rvasm.A1, label)
	a.LI(rvasm.A2, int64(len(s)))
	syscall(a, linux.SYS_WRITE)
}

func exit(a *rvasm.Assembler, code int64) {
	a.LI(rvasm.A0, code)
	syscall(a, linux.SYS_EXIT)
}
