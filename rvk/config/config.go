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
// Package config provides basic infrastructure to set configuration settings
// for rvk. Each setting is a flag, and a TOML file named by --config may seed
// any of them. Flags given on the command line win over the file.
package config

import (
	"flag"
	"fmt"
	"reflect"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"github.com/mohae/deepcopy"
	"rvkernel.dev/rvkernel/pkg/log"
)

// Bounds on MemoryPages. The lower bound leaves room for the portal, page
// tables and a few small programs.
const (
	MinMemoryPages = 64
	MaxMemoryPages = 1 << 20
)

// App names a program to boot.
type App struct {
	// Name is the storage path of the image, and the name it is logged by.
	Name string `toml:"name"`

	// Path, if set, is a host file to load the image from instead of
	// storage.
	Path string `toml:"path"`

	// ABI is a semver constraint the kernel ABI must satisfy. Empty uses
	// the constraint of the bundled app of the same name, if any.
	ABI string `toml:"abi"`
}

// Config holds configuration that is not part of the boot list given on the
// command line.
type Config struct {
	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// LogFormat is the log format: text or json.
	LogFormat string `flag:"log-format" toml:"log_format"`

	// DebugLog is the path pattern of the debug log file. Empty discards
	// logs that are not sent to the console.
	DebugLog string `flag:"debug-log" toml:"debug_log"`

	// LogToConsole renders kernel logs on the machine console.
	LogToConsole bool `flag:"log-to-console" toml:"log_to_console"`

	// Quantum is the scheduling time slice in timer ticks.
	Quantum uint64 `flag:"quantum" toml:"quantum"`

	// Cooperative disables timer preemption.
	Cooperative bool `flag:"cooperative" toml:"cooperative"`

	// MaxTasks is the task table capacity.
	MaxTasks int `flag:"max-tasks" toml:"max_tasks"`

	// MemoryPages is the size of physical memory in pages.
	MemoryPages int `flag:"memory-pages" toml:"memory_pages"`

	// AppsDir is a host directory serving as storage. Empty uses an
	// in-memory filesystem holding the bundled apps.
	AppsDir string `flag:"apps-dir" toml:"apps_dir"`

	// TTY puts the host terminal in raw mode and uses it as the console.
	TTY bool `flag:"tty" toml:"tty"`

	// Apps is the default boot list. It can only be set from a file.
	Apps []App `toml:"apps"`
}

// NewFromFlags creates a new Config with values coming from the given flag
// set. If the "config" flag names a file, its values replace the flag
// defaults, and flags set explicitly replace those in turn.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	if err := conf.setFromFlags(flagSet, nil); err != nil {
		return nil, err
	}
	if f := flagSet.Lookup(configFlag); f != nil && f.Value.String() != "" {
		if _, err := toml.DecodeFile(f.Value.String(), conf); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", f.Value.String(), err)
		}
		set := make(map[string]bool)
		flagSet.Visit(func(f *flag.Flag) { set[f.Name] = true })
		if err := conf.setFromFlags(flagSet, set); err != nil {
			return nil, err
		}
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// setFromFlags copies flag values into tagged fields. If only is not nil,
// just the flags it names are copied.
func (c *Config) setFromFlags(flagSet *flag.FlagSet, only map[string]bool) error {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		if only != nil && !only[name] {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			return fmt.Errorf("flag %q not found", name)
		}
		getter, ok := fl.Value.(flag.Getter)
		if !ok {
			return fmt.Errorf("flag %q has no value getter", name)
		}
		field := obj.Field(i)
		v := reflect.ValueOf(getter.Get())
		if !v.Type().AssignableTo(field.Type()) {
			return fmt.Errorf("flag %q is %v, field is %v", name, v.Type(), field.Type())
		}
		field.Set(v)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if c.MemoryPages < MinMemoryPages || c.MemoryPages > MaxMemoryPages {
		return fmt.Errorf("memory-pages must be in [%d, %d], got %d", MinMemoryPages, MaxMemoryPages, c.MemoryPages)
	}
	if c.MaxTasks <= 0 {
		return fmt.Errorf("max-tasks must be positive, got %d", c.MaxTasks)
	}
	if c.Quantum == 0 && !c.Cooperative {
		return fmt.Errorf("quantum must be positive unless cooperative")
	}
	for i, app := range c.Apps {
		if app.Name == "" {
			return fmt.Errorf("apps[%d]: missing name", i)
		}
		if app.ABI != "" {
			if _, err := semver.NewConstraint(app.ABI); err != nil {
				return fmt.Errorf("apps[%d] (%s): invalid ABI constraint %q: %w", i, app.Name, app.ABI, err)
			}
		}
	}
	return nil
}

// Copy returns a deep copy of c.
func (c *Config) Copy() *Config {
	return deepcopy.Copy(c).(*Config)
}

// Log logs the configuration.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		if name, ok := st.Field(i).Tag.Lookup("flag"); ok {
			log.Infof("\t%s: %v", name, obj.Field(i).Interface())
		}
	}
	for _, app := range c.Apps {
		log.Infof("\tapp: %s path=%q abi=%q", app.Name, app.Path, app.ABI)
	}
}
