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

	"rvkernel.dev/rvkernel/pkg/sentry/kernel"
)

// configFlag names the TOML file that seeds the configuration.
const configFlag = "config"

// Default memory size in pages (16 MiB).
const defaultMemoryPages = 4096

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String(configFlag, "", "TOML file to read settings from. Flags given on the command line take precedence.")

	// Debugging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.String("debug-log", "", "file path where debug logs are written. If it ends with '/', log files are created inside the directory with default names. The following variables are available: %TIMESTAMP%, %COMMAND%.")
	flagSet.Bool("log-to-console", true, "render kernel logs on the machine console.")

	// Flags that control the kernel.
	flagSet.Uint64("quantum", kernel.DefaultQuantum, "scheduling time slice in timer ticks.")
	flagSet.Bool("cooperative", false, "disable timer preemption; tasks switch only when they yield or exit.")
	flagSet.Int("max-tasks", kernel.DefaultMaxTasks, "task table capacity.")
	flagSet.Int("memory-pages", defaultMemoryPages, "physical memory size in 4 KiB pages.")

	// Flags that control the machine's collaborators.
	flagSet.String("apps-dir", "", "host directory to load program images from. If unset, the bundled programs are served from memory.")
	flagSet.Bool("tty", false, "use the host terminal in raw mode as the console.")
}
