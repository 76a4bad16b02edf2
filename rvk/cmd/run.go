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
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"rvkernel.dev/rvkernel/pkg/abi/linux"
	"rvkernel.dev/rvkernel/pkg/apps"
	"rvkernel.dev/rvkernel/pkg/log"
	"rvkernel.dev/rvkernel/pkg/sentry/console"
	"rvkernel.dev/rvkernel/pkg/sentry/fs"
	"rvkernel.dev/rvkernel/pkg/sentry/kernel"
	"rvkernel.dev/rvkernel/pkg/sentry/pgalloc"
	"rvkernel.dev/rvkernel/pkg/sentry/platform"
	"rvkernel.dev/rvkernel/pkg/sentry/platform/emu"
	"rvkernel.dev/rvkernel/pkg/sentry/syscalls"
	"rvkernel.dev/rvkernel/rvk/config"
)

// lockRetryInterval is how often a held image directory lock is retried.
const lockRetryInterval = 100 * time.Millisecond

// Run implements subcommands.Command for the "run" command.
type Run struct{}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "boot programs and run them until all have exited"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] [app...] - boot the named programs in order and run them until all have exited.

Without arguments the apps listed in the config file are booted. Without
those, every image in storage is booted, except bundled programs that never
exit on their own.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Run) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	reason := args[1].(*platform.ResetReason)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, unix.SIGTERM)
	defer stop()

	res, err := runKernel(ctx, conf, f.Args(), os.Stdout, syscalls.Default)
	if err != nil {
		Fatalf("running kernel: %v", err)
	}
	*reason = res
	return subcommands.ExitSuccess
}

// runKernel boots names on a fresh machine and runs the kernel to
// completion. It returns the reason the machine was shut down with. Machine
// console output goes to out, unless conf.TTY is set.
func runKernel(ctx context.Context, conf *config.Config, names []string, out io.Writer, registry *syscalls.Registry) (platform.ResetReason, error) {
	arena, err := pgalloc.New(conf.MemoryPages)
	if err != nil {
		return 0, fmt.Errorf("allocating %d pages of memory: %w", conf.MemoryPages, err)
	}
	defer arena.Close()

	if conf.TTY {
		term, err := console.NewTerminal(os.Stdout, true)
		if err != nil {
			return 0, err
		}
		defer term.Close()
		log.Infof("Console: %s", describeTerminal(term))
		out = console.Printer{Console: term}
	}
	machine := emu.New(arena, out)
	con := console.Firmware{Firmware: machine}
	if conf.LogToConsole {
		prev := log.Log().Emitter
		log.SetTarget(&log.MultiEmitter{prev, console.LogEmitter{Console: con}})
		defer log.SetTarget(prev)
	}

	storage, closeStorage, err := openStorage(ctx, conf)
	if err != nil {
		return 0, err
	}
	defer closeStorage()

	boot, err := bootList(conf, names, storage)
	if err != nil {
		return 0, err
	}

	k, err := kernel.New(kernel.Config{
		Quantum:     conf.Quantum,
		Cooperative: conf.Cooperative,
		MaxTasks:    conf.MaxTasks,
	}, machine, arena, con, storage, registry)
	if err != nil {
		return 0, err
	}
	defer k.Release()

	for _, app := range boot {
		if err := checkABI(app); err != nil {
			log.Warningf("Skipping %s: %v", app.Name, err)
			continue
		}
		image, err := loadImage(storage, app)
		if err != nil {
			log.Warningf("Skipping %s: %v", app.Name, err)
			continue
		}
		if _, err := k.Boot(app.Name, image); err != nil {
			log.Warningf("Skipping %s: %v", app.Name, err)
		}
	}

	err = k.Run(ctx)
	reason, _ := machine.Halted()
	var perr *kernel.PanicError
	switch {
	case err == nil:
	case errors.As(err, &perr):
		// Already reported on the console; the reset reason carries it.
		err = nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Infof("Kernel stopped: %v", err)
		err = nil
	}
	for _, p := range k.Tasks() {
		if code, ok := k.ExitCode(p.PID); ok && p.Parent == kernel.NoParent {
			log.Infof("app%d exited with code %d", p.PID, code)
		}
	}
	return reason, err
}

// terminalSizer is a terminal that knows its dimensions.
type terminalSizer interface {
	Size() (width, height uint16, err error)
}

var _ terminalSizer = (*console.Terminal)(nil)

// describeTerminal renders t's dimensions for the startup log.
func describeTerminal(t terminalSizer) string {
	w, h, err := t.Size()
	if err != nil {
		return fmt.Sprintf("terminal of unknown size: %v", err)
	}
	return fmt.Sprintf("%dx%d terminal", w, h)
}

// openStorage returns the storage conf selects and a function releasing it.
func openStorage(ctx context.Context, conf *config.Config) (fs.Storage, func(), error) {
	if conf.AppsDir != "" {
		h, err := fs.NewReadOnlyHostFS(ctx, conf.AppsDir, lockRetryInterval)
		if err != nil {
			return nil, nil, err
		}
		return h, func() { h.Close() }, nil
	}
	m := fs.NewMemFS()
	if err := apps.Populate(m); err != nil {
		return nil, nil, err
	}
	return m, func() {}, nil
}

// bootList resolves the programs to boot. Apps named on the command line
// take their settings from the config when it lists them.
func bootList(conf *config.Config, names []string, storage fs.Storage) ([]config.App, error) {
	if len(names) > 0 {
		byName := make(map[string]config.App, len(conf.Apps))
		for _, app := range conf.Apps {
			byName[app.Name] = app
		}
		out := make([]config.App, 0, len(names))
		for _, name := range names {
			app, ok := byName[name]
			if !ok {
				app = config.App{Name: name}
			}
			out = append(out, app)
		}
		return out, nil
	}
	if len(conf.Apps) > 0 {
		return conf.Apps, nil
	}
	entries, err := storage.Readdir("/")
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	var out []config.App
	for _, name := range entries {
		if app, ok := apps.Lookup(name); ok && app.Manual {
			continue
		}
		out = append(out, config.App{Name: name})
	}
	return out, nil
}

// checkABI checks app's ABI constraint, falling back to the constraint of
// the bundled app of the same name.
func checkABI(app config.App) error {
	constraint := app.ABI
	if constraint == "" {
		if bundled, ok := apps.Lookup(app.Name); ok {
			constraint = bundled.ABI
		}
	}
	return linux.CheckABI(constraint)
}

// loadImage reads app's image from its host path or from storage.
func loadImage(storage fs.Storage, app config.App) ([]byte, error) {
	if app.Path != "" {
		return os.ReadFile(app.Path)
	}
	h, err := storage.Open(app.Name, fs.RDONLY)
	if err != nil {
		return nil, err
	}
	return fs.ReadAll(h)
}
