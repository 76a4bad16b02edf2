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
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/google/subcommands"
	"rvkernel.dev/rvkernel/pkg/abi/linux"
	"rvkernel.dev/rvkernel/pkg/sentry/console"
	"rvkernel.dev/rvkernel/pkg/sentry/kernel"
	"rvkernel.dev/rvkernel/pkg/sentry/pgalloc"
	"rvkernel.dev/rvkernel/pkg/sentry/platform/emu"
	"rvkernel.dev/rvkernel/pkg/sentry/syscalls"
	"rvkernel.dev/rvkernel/rvk/config"
)

// Syscalls implements subcommands.Command for the "syscalls" command.
type Syscalls struct {
	output string
}

// SyscallDoc represents a single item of syscall documentation.
type SyscallDoc struct {
	Num  uint64 `json:"num"`
	Name string `json:"name"`

	// Slot is the capability serving the call.
	Slot string `json:"slot"`

	// Support is "full" when the kernel installs the slot.
	Support string `json:"support"`

	// Since is the first ABI version with the call.
	Since string `json:"since"`
}

type outputFunc func(io.Writer, []SyscallDoc) error

// A map of output type names to output functions.
var outputMap = map[string]outputFunc{
	"table": outputTable,
	"json":  outputJSON,
	"csv":   outputCSV,
}

// baseABI is the ABI version the calls outside the lifecycle slot date
// from.
const baseABI = "1.0.0"

// Name implements subcommands.Command.Name.
func (*Syscalls) Name() string {
	return "syscalls"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Syscalls) Synopsis() string {
	return "Print compatibility information for syscalls."
}

// Usage implements subcommands.Command.Usage.
func (*Syscalls) Usage() string {
	return `syscalls [options] - Print compatibility information for syscalls.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Syscalls) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.output, "o", "table", "Output format (table, csv, json).")
}

// Execute implements subcommands.Command.Execute.
func (s *Syscalls) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	out, ok := outputMap[s.output]
	if !ok {
		Fatalf("Unsupported output format %q", s.output)
	}
	docs, err := syscallDocs()
	if err != nil {
		Fatalf("%v", err)
	}
	if err := out(os.Stdout, docs); err != nil {
		Fatalf("Error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

// syscallDocs builds a kernel on a minimal machine with a private registry
// and reports how each call is served.
func syscallDocs() ([]SyscallDoc, error) {
	arena, err := pgalloc.New(config.MinMemoryPages)
	if err != nil {
		return nil, err
	}
	defer arena.Close()
	m := emu.New(arena, io.Discard)
	registry := syscalls.NewRegistry()
	k, err := kernel.New(kernel.Config{}, m, arena, console.Firmware{Firmware: m}, nil, registry)
	if err != nil {
		return nil, err
	}
	defer k.Release()

	var docs []SyscallDoc
	for _, e := range registry.Table() {
		doc := SyscallDoc{
			Num:     uint64(e.Sysno),
			Name:    e.Sysno.String(),
			Slot:    e.Slot.String(),
			Support: "none",
			Since:   baseABI,
		}
		if e.Installed {
			doc.Support = "full"
		}
		if e.Slot == syscalls.SlotLifecycle {
			doc.Since = linux.LifecycleABI.String()
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// outputTable outputs the syscall info in tabular format.
func outputTable(w io.Writer, docs []SyscallDoc) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", "NUM", "NAME", "SLOT", "SUPPORT", "SINCE"); err != nil {
		return err
	}
	for _, d := range docs {
		if _, err := fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", d.Num, d.Name, d.Slot, d.Support, d.Since); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// outputJSON outputs the syscall info in JSON format.
func outputJSON(w io.Writer, docs []SyscallDoc) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(docs)
}

// outputCSV outputs the syscall info in CSV format.
func outputCSV(w io.Writer, docs []SyscallDoc) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write([]string{"num", "name", "slot", "support", "since"}); err != nil {
		return err
	}
	for _, d := range docs {
		row := []string{strconv.FormatUint(d.Num, 10), d.Name, d.Slot, d.Support, d.Since}
		if err := csvWriter.Write(row); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}
