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
	"encoding/binary"
	"time"
)

// Clock identifiers for use with clock_gettime(2).
const (
	CLOCK_REALTIME  = 0
	CLOCK_MONOTONIC = 1
)

// TimerFrequency is the rate of the hart's time counter in ticks per second.
const TimerFrequency = 12_500_000

// Timespec represents struct timespec in <time.h>.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// SizeOfTimespec is the size of a Timespec struct in bytes.
const SizeOfTimespec = 16

// Unix returns the second and nanosecond.
func (ts Timespec) Unix() (sec int64, nsec int64) {
	return ts.Sec, ts.Nsec
}

// ToNsec returns the nanosecond representation.
func (ts Timespec) ToNsec() int64 {
	return ts.Sec*1e9 + ts.Nsec
}

// ToTime returns the Go time.Time representation.
func (ts Timespec) ToTime() time.Time {
	return time.Unix(ts.Sec, ts.Nsec)
}

// MarshalBytes serializes ts into dst as two little-endian int64 values. dst
// must be at least SizeOfTimespec bytes.
func (ts *Timespec) MarshalBytes(dst []byte) []byte {
	binary.LittleEndian.PutUint64(dst[0:8], uint64(ts.Sec))
	binary.LittleEndian.PutUint64(dst[8:16], uint64(ts.Nsec))
	return dst[SizeOfTimespec:]
}

// UnmarshalBytes deserializes ts from src.
func (ts *Timespec) UnmarshalBytes(src []byte) []byte {
	ts.Sec = int64(binary.LittleEndian.Uint64(src[0:8]))
	ts.Nsec = int64(binary.LittleEndian.Uint64(src[8:16]))
	return src[SizeOfTimespec:]
}

// NsecToTimespec translates nanoseconds to Timespec.
func NsecToTimespec(nsec int64) (ts Timespec) {
	ts.Sec = nsec / 1e9
	ts.Nsec = nsec % 1e9
	return
}

// TicksToNsec converts time counter ticks to nanoseconds. The multiplication
// comes first so that sub-microsecond ticks are not truncated away.
func TicksToNsec(ticks uint64) int64 {
	return int64(ticks * 10000 / 125)
}

// TicksToTimespec converts time counter ticks to a Timespec.
func TicksToTimespec(ticks uint64) Timespec {
	return NsecToTimespec(TicksToNsec(ticks))
}
