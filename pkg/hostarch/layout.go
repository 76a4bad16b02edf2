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

package hostarch

const (
	// TrampolineVPN is the highest Sv39 virtual page. It holds the portal in
	// every address space.
	TrampolineVPN VPN = 1<<VPNBits - 1

	// TrampolineAddr is the canonical address of TrampolineVPN.
	TrampolineAddr Addr = 0xffff_ffff_ffff_f000

	// TrampolineFlags are the portal mapping's flags. The mapping is global
	// and never user-accessible.
	TrampolineFlags = Global | Execute | Write | Read | Valid

	// UserStackPages is the size of the initial user stack.
	UserStackPages = 2

	// UserStackTop is the initial user stack pointer.
	UserStackTop Addr = 1 << 38

	// UserStackFlags are the flags of the user stack mapping.
	UserStackFlags = User | Write | Read | Valid

	// SatpModeSv39 is the satp mode field selecting Sv39 translation.
	SatpModeSv39 = 8

	// SatpBare is the selector for untranslated (kernel) execution.
	SatpBare = 0
)

// UserStack is the page range of the initial user stack, ending just below
// UserStackTop.
var UserStack = VPNRange{
	Start: VPN(1<<26 - UserStackPages),
	End:   VPN(1 << 26),
}

// Satp builds an Sv39 address-space selector for the given root table.
func Satp(root PPN) uint64 {
	return SatpModeSv39<<60 | uint64(root)
}

// SatpMode returns the mode field of a selector.
func SatpMode(satp uint64) uint64 {
	return satp >> 60
}

// SatpPPN returns the root table of a selector.
func SatpPPN(satp uint64) PPN {
	return PPN(satp & (1<<44 - 1))
}
