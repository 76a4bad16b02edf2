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

package linux

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ABIVersion is the version of the user ABI the kernel implements. The minor
// version was bumped when the process lifecycle calls (getpid, fork, exec,
// wait4) were added.
var ABIVersion = semver.MustParse("1.1.0")

// LifecycleABI is the first ABI version with the process lifecycle calls.
var LifecycleABI = semver.MustParse("1.1.0")

// CheckABI reports whether the kernel ABI satisfies constraint. An empty
// constraint accepts any version.
func CheckABI(constraint string) error {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid ABI constraint %q: %w", constraint, err)
	}
	if ok, errs := c.Validate(ABIVersion); !ok {
		if len(errs) > 0 {
			return fmt.Errorf("kernel ABI %s does not satisfy %q: %w", ABIVersion, constraint, errs[0])
		}
		return fmt.Errorf("kernel ABI %s does not satisfy %q", ABIVersion, constraint)
	}
	return nil
}
