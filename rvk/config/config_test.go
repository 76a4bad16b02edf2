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
package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"rvkernel.dev/rvkernel/pkg/sentry/kernel"
)

func newFlags(t *testing.T) *flag.FlagSet {
	t.Helper()
	f := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(f)
	return f
}

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rvk.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlags(t))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		LogFormat:    "text",
		LogToConsole: true,
		Quantum:      kernel.DefaultQuantum,
		MaxTasks:     kernel.DefaultMaxTasks,
		MemoryPages:  defaultMemoryPages,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("default config mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFlags(t *testing.T) {
	f := newFlags(t)
	if err := f.Parse([]string{"--debug", "--quantum=100", "--max-tasks=4", "--apps-dir=/tmp/apps", "--cooperative"}); err != nil {
		t.Fatal(err)
	}
	c, err := NewFromFlags(f)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Debug {
		t.Errorf("Debug=false, want true")
	}
	if want := uint64(100); c.Quantum != want {
		t.Errorf("Quantum=%d, want %d", c.Quantum, want)
	}
	if want := 4; c.MaxTasks != want {
		t.Errorf("MaxTasks=%d, want %d", c.MaxTasks, want)
	}
	if want := "/tmp/apps"; c.AppsDir != want {
		t.Errorf("AppsDir=%q, want %q", c.AppsDir, want)
	}
	if !c.Cooperative {
		t.Errorf("Cooperative=false, want true")
	}
}

func TestConfigFile(t *testing.T) {
	path := writeFile(t, `
debug = true
quantum = 500
memory_pages = 128
log_format = "json"

[[apps]]
name = "hello"

[[apps]]
name = "forktest"
abi = ">= 1.1.0"

[[apps]]
name = "custom"
path = "/srv/custom.elf"
`)
	f := newFlags(t)
	if err := f.Parse([]string{"--config", path, "--quantum=700"}); err != nil {
		t.Fatal(err)
	}
	c, err := NewFromFlags(f)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		Debug:        true,
		LogFormat:    "json",
		LogToConsole: true,
		// The flag wins over the file.
		Quantum:     700,
		MaxTasks:    kernel.DefaultMaxTasks,
		MemoryPages: 128,
		Apps: []App{
			{Name: "hello"},
			{Name: "forktest", ABI: ">= 1.1.0"},
			{Name: "custom", Path: "/srv/custom.elf"},
		},
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
	}{
		{name: "syntax", contents: "debug = = true"},
		{name: "type", contents: `quantum = "fast"`},
		{name: "app without name", contents: "[[apps]]\npath = \"/x\""},
		{name: "bad constraint", contents: "[[apps]]\nname = \"x\"\nabi = \"not a version\""},
		{name: "too little memory", contents: "memory_pages = 1"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFlags(t)
			if err := f.Parse([]string{"--config", writeFile(t, tc.contents)}); err != nil {
				t.Fatal(err)
			}
			if _, err := NewFromFlags(f); err == nil {
				t.Errorf("NewFromFlags succeeded, want error")
			}
		})
	}
}

func TestMissingConfigFile(t *testing.T) {
	f := newFlags(t)
	if err := f.Parse([]string{"--config", filepath.Join(t.TempDir(), "absent.toml")}); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFromFlags(f); err == nil {
		t.Errorf("NewFromFlags succeeded, want error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			LogFormat:   "text",
			Quantum:     1,
			MaxTasks:    1,
			MemoryPages: MinMemoryPages,
		}
	}
	for _, tc := range []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{name: "valid", modify: func(*Config) {}, ok: true},
		{name: "json", modify: func(c *Config) { c.LogFormat = "json" }, ok: true},
		{name: "bad format", modify: func(c *Config) { c.LogFormat = "xml" }},
		{name: "zero tasks", modify: func(c *Config) { c.MaxTasks = 0 }},
		{name: "zero quantum", modify: func(c *Config) { c.Quantum = 0 }},
		{name: "zero quantum cooperative", modify: func(c *Config) { c.Quantum, c.Cooperative = 0, true }, ok: true},
		{name: "memory too large", modify: func(c *Config) { c.MemoryPages = MaxMemoryPages + 1 }},
		{name: "app constraint", modify: func(c *Config) { c.Apps = []App{{Name: "a", ABI: "^1.0"}} }, ok: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.modify(c)
			err := c.Validate()
			if got := err == nil; got != tc.ok {
				t.Errorf("Validate() = %v, want ok=%t", err, tc.ok)
			}
		})
	}
}

func TestCopy(t *testing.T) {
	c := &Config{LogFormat: "text", Apps: []App{{Name: "hello"}}}
	cp := c.Copy()
	if diff := cmp.Diff(c, cp); diff != "" {
		t.Errorf("copy mismatch (-want +got):\n%s", diff)
	}
	cp.Apps[0].Name = "yield"
	if c.Apps[0].Name != "hello" {
		t.Errorf("modifying the copy changed the original: %q", c.Apps[0].Name)
	}
}
