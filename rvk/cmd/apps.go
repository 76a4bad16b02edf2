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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"rvkernel.dev/rvkernel/pkg/abi/linux"
	"rvkernel.dev/rvkernel/pkg/apps"
)

// Apps implements subcommands.Command for the "apps" command.
type Apps struct {
	output string
}

// AppDoc describes a bundled program.
type AppDoc struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ABI         string `json:"abi"`
	Manual      bool   `json:"manual,omitempty"`

	// Compatible is whether this kernel satisfies ABI.
	Compatible bool `json:"compatible"`
}

// Name implements subcommands.Command.Name.
func (*Apps) Name() string {
	return "apps"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Apps) Synopsis() string {
	return "list the bundled programs"
}

// Usage implements subcommands.Command.Usage.
func (*Apps) Usage() string {
	return `apps [options] - list the bundled programs.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (a *Apps) SetFlags(f *flag.FlagSet) {
	f.StringVar(&a.output, "o", "table", "Output format (table, json).")
}

// Execute implements subcommands.Command.Execute.
func (a *Apps) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	var out func(io.Writer, []AppDoc) error
	switch a.output {
	case "table":
		out = outputAppsTable
	case "json":
		out = outputAppsJSON
	default:
		Fatalf("Unsupported output format %q", a.output)
	}
	if err := out(os.Stdout, appDocs()); err != nil {
		Fatalf("Error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

func appDocs() []AppDoc {
	var docs []AppDoc
	for _, app := range apps.All() {
		docs = append(docs, AppDoc{
			Name:        app.Name,
			Description: app.Description,
			ABI:         app.ABI,
			Manual:      app.Manual,
			Compatible:  linux.CheckABI(app.ABI) == nil,
		})
	}
	return docs
}

func outputAppsTable(w io.Writer, docs []AppDoc) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintf(tw, "NAME\tABI\tDESCRIPTION\n"); err != nil {
		return err
	}
	for _, d := range docs {
		desc := d.Description
		if d.Manual {
			desc += " (manual)"
		}
		if !d.Compatible {
			desc += " (incompatible)"
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, d.ABI, desc); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func outputAppsJSON(w io.Writer, docs []AppDoc) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(docs)
}
