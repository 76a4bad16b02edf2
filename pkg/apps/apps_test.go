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

package apps

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"rvkernel.dev/rvkernel/pkg/abi/linux"
	"rvkernel.dev/rvkernel/pkg/sentry/fs"
	"rvkernel.dev/rvkernel/pkg/sentry/loader"
	"rvkernel.dev/rvkernel/pkg/sentry/mm"
	"rvkernel.dev/rvkernel/pkg/sentry/pgalloc"
)

func TestAllSorted(t *testing.T) {
	var names []string
	for _, app := range All() {
		names = append(names, app.Name)
	}
	want := []string{"exectest", "exit42", "forktest", "hello", "illegal", "segv", "sleep", "spin", "yield"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestImagesLoad(t *testing.T) {
	arena, err := pgalloc.New(64)
	if err != nil {
		t.Fatalf("pgalloc.New failed: %v", err)
	}
	defer arena.Close()
	portal, err := arena.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	for _, app := range All() {
		t.Run(app.Name, func(t *testing.T) {
			if err := linux.CheckABI(app.ABI); err != nil {
				t.Errorf("CheckABI(%q) = %v", app.ABI, err)
			}
			img, err := app.Image()
			if err != nil {
				t.Fatalf("Image failed: %v", err)
			}
			as, err := mm.New(arena, portal)
			if err != nil {
				t.Fatalf("mm.New failed: %v", err)
			}
			if _, err := loader.Load(as, img); err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			as.Release()
		})
	}
}

func TestPopulate(t *testing.T) {
	m := fs.NewMemFS()
	if err := Populate(m); err != nil {
		t.Fatalf("Populate failed: %v", err)
	}
	names, err := m.Readdir("/")
	if err != nil {
		t.Fatalf("Readdir failed: %v", err)
	}
	if len(names) != len(All()) {
		t.Errorf("Readdir returned %d names, want %d", len(names), len(All()))
	}
	if _, ok := Lookup("hello"); !ok {
		t.Errorf("Lookup(hello) failed")
	}
}
