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

package bitmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddRemove(t *testing.T) {
	b := New(130)
	for _, i := range []uint32{0, 3, 64, 129} {
		b.Add(i)
	}
	b.Add(3)
	if got := b.GetNumOnes(); got != 4 {
		t.Errorf("GetNumOnes() = %d, want 4", got)
	}
	if diff := cmp.Diff([]uint32{0, 3, 64, 129}, b.ToSlice()); diff != "" {
		t.Errorf("ToSlice mismatch (-want +got):\n%s", diff)
	}
	b.Remove(64)
	b.Remove(64)
	if b.IsSet(64) || b.GetNumOnes() != 3 {
		t.Errorf("Remove(64) left %v", b.ToSlice())
	}
}

func TestFirstZero(t *testing.T) {
	b := New(70)
	b.AddRange(0, 66)
	got, err := b.FirstZero(0)
	if err != nil || got != 66 {
		t.Errorf("FirstZero(0) = %d, %v; want 66, nil", got, err)
	}
	b.AddRange(66, 70)
	if _, err := b.FirstZero(0); err == nil {
		t.Errorf("FirstZero on a full bitmap succeeded")
	}
	if !b.IsSet(69) || b.IsSet(70) {
		t.Errorf("bits beyond size must read as unset")
	}
}

func TestZeroRun(t *testing.T) {
	b := New(16)
	b.Add(1)
	b.Add(4)
	for _, tc := range []struct {
		n       uint32
		want    uint32
		wantErr bool
	}{
		{n: 1, want: 0},
		{n: 2, want: 2},
		{n: 3, want: 5},
		{n: 11, want: 5},
		{n: 12, wantErr: true},
		{n: 0, wantErr: true},
	} {
		got, err := b.ZeroRun(0, tc.n)
		if (err != nil) != tc.wantErr {
			t.Errorf("ZeroRun(0, %d) err = %v, wantErr %v", tc.n, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("ZeroRun(0, %d) = %d, want %d", tc.n, got, tc.want)
		}
	}
}

func TestClearRange(t *testing.T) {
	b := New(200)
	b.AddRange(10, 150)
	b.ClearRange(20, 140)
	if got := b.GetNumOnes(); got != 20 {
		t.Errorf("GetNumOnes() = %d, want 20", got)
	}
}
