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
	"flag"
	"fmt"
	"runtime"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"rvkernel.dev/rvkernel/pkg/apps"
	"rvkernel.dev/rvkernel/pkg/log"
	"rvkernel.dev/rvkernel/pkg/sentry/fs"
	"rvkernel.dev/rvkernel/rvk/config"
)

// BuildApps implements subcommands.Command for the "build-apps" command.
type BuildApps struct {
	dir  string
	jobs int
}

// Name implements subcommands.Command.Name.
func (*BuildApps) Name() string {
	return "build-apps"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*BuildApps) Synopsis() string {
	return "write the bundled programs' images to a directory"
}

// Usage implements subcommands.Command.Usage.
func (*BuildApps) Usage() string {
	return `build-apps [flags] [app...] - assemble bundled programs and write their images to a directory.

The directory defaults to --apps-dir. Without arguments every bundled program
is written.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *BuildApps) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.dir, "dir", "", "directory to write images to; defaults to --apps-dir.")
	f.IntVar(&b.jobs, "j", runtime.NumCPU(), "number of images to assemble concurrently.")
}

// Execute implements subcommands.Command.Execute.
func (b *BuildApps) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	dir := b.dir
	if dir == "" {
		dir = conf.AppsDir
	}
	if dir == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	list, err := selectApps(f.Args())
	if err != nil {
		Fatalf("%v", err)
	}

	h, err := fs.NewHostFS(ctx, dir, lockRetryInterval)
	if err != nil {
		Fatalf("%v", err)
	}
	defer h.Close()
	if err := writeImages(ctx, h, list, b.jobs); err != nil {
		Fatalf("writing images to %q: %v", dir, err)
	}
	return subcommands.ExitSuccess
}

// selectApps returns the bundled apps called names, or all of them.
func selectApps(names []string) ([]apps.App, error) {
	if len(names) == 0 {
		return apps.All(), nil
	}
	out := make([]apps.App, 0, len(names))
	for _, name := range names {
		app, ok := apps.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("no bundled app %q", name)
		}
		out = append(out, app)
	}
	return out, nil
}

// writeImages assembles list and stores each image under its name, at most
// jobs at a time. The first failure cancels the rest.
func writeImages(ctx context.Context, storage fs.Storage, list []apps.App, jobs int) error {
	g, ctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for _, app := range list {
		app := app
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := app.Image()
			if err != nil {
				return err
			}
			h, err := storage.Open(app.Name, fs.WRONLY|fs.CREATE|fs.TRUNC)
			if err != nil {
				return fmt.Errorf("creating %s: %w", app.Name, err)
			}
			if _, err := h.Write(img); err != nil {
				return fmt.Errorf("writing %s: %w", app.Name, err)
			}
			log.Infof("Wrote %s (%d bytes)", app.Name, len(img))
			return nil
		})
	}
	return g.Wait()
}
