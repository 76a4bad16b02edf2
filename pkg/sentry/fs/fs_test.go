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

package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type storage interface {
	Storage
	Add(path string, data []byte) error
}

// hostStorage adds Add to HostFS for the shared tests.
type hostStorage struct {
	*HostFS
}

func (h hostStorage) Add(path string, data []byte) error {
	f, err := h.Open(path, CREATE|WRONLY)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

func newStorages(t *testing.T) map[string]storage {
	t.Helper()
	h, err := NewHostFS(context.Background(), t.TempDir(), time.Millisecond)
	if err != nil {
		t.Fatalf("NewHostFS failed: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return map[string]storage{
		"mem":  NewMemFS(),
		"host": hostStorage{h},
	}
}

func TestReadAllChunks(t *testing.T) {
	data := make([]byte, 3*chunkSize+17)
	for i := range data {
		data[i] = byte(i * 7)
	}
	for name, s := range newStorages(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Add("/app", data); err != nil {
				t.Fatalf("Add failed: %v", err)
			}
			h, err := s.Open("/app", RDONLY)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			got, err := ReadAll(h)
			if err != nil {
				t.Fatalf("ReadAll failed: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("ReadAll returned %d bytes, want %d matching bytes", len(got), len(data))
			}
		})
	}
}

func TestOpenFlags(t *testing.T) {
	for name, s := range newStorages(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Open("missing", RDONLY); !errors.Is(err, ErrNotFound) {
				t.Errorf("Open(missing) = %v, want ErrNotFound", err)
			}
			if _, err := s.Open("a/b", RDONLY); !errors.Is(err, ErrInvalidPath) {
				t.Errorf("Open(a/b) = %v, want ErrInvalidPath", err)
			}

			s.Add("f", []byte("contents"))
			h, err := s.Open("f", TRUNC)
			if err != nil {
				t.Fatalf("Open(TRUNC) failed: %v", err)
			}
			if n, _ := h.Size(); n != 0 {
				t.Errorf("size after TRUNC = %d, want 0", n)
			}
			if _, err := h.Write([]byte("x")); !errors.Is(err, ErrPermission) {
				t.Errorf("Write on read-only handle = %v, want ErrPermission", err)
			}

			h, err = s.Open("new", CREATE|RDWR)
			if err != nil {
				t.Fatalf("Open(CREATE) failed: %v", err)
			}
			if _, err := h.Write([]byte("hello")); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			got, err := io.ReadAll(mustOpen(t, s, "new"))
			if err != nil || string(got) != "hello" {
				t.Errorf("read back (%q, %v), want %q", got, err, "hello")
			}

			names, err := s.Readdir("/")
			if err != nil {
				t.Fatalf("Readdir failed: %v", err)
			}
			if diff := cmp.Diff([]string{"f", "new"}, names); diff != "" {
				t.Errorf("Readdir mismatch (-want +got):\n%s", diff)
			}
			if _, err := s.Readdir("/sub"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Readdir(/sub) = %v, want ErrNotFound", err)
			}
		})
	}
}

func mustOpen(t *testing.T, s Storage, path string) *FileHandle {
	t.Helper()
	h, err := s.Open(path, RDONLY)
	if err != nil {
		t.Fatalf("Open(%q) failed: %v", path, err)
	}
	return h
}

func TestHostFSLock(t *testing.T) {
	dir := t.TempDir()
	first, err := NewHostFS(context.Background(), dir, time.Millisecond)
	if err != nil {
		t.Fatalf("NewHostFS failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := NewHostFS(ctx, dir, 5*time.Millisecond); err == nil {
		t.Fatalf("second NewHostFS acquired a held lock")
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	second, err := NewHostFS(context.Background(), dir, time.Millisecond)
	if err != nil {
		t.Fatalf("NewHostFS after Close failed: %v", err)
	}
	second.Close()
}

func TestOpenFlagsString(t *testing.T) {
	for _, tc := range []struct {
		flags OpenFlags
		want  string
	}{
		{RDONLY, "RDONLY"},
		{WRONLY | CREATE, "WRONLY|CREATE"},
		{RDWR | TRUNC, "RDWR|TRUNC"},
	} {
		if got := tc.flags.String(); got != tc.want {
			t.Errorf("%#x.String() = %q, want %q", uint32(tc.flags), got, tc.want)
		}
	}
}

func TestHostOpenMode(t *testing.T) {
	for _, tc := range []struct {
		flags OpenFlags
		want  int
	}{
		{RDONLY, os.O_RDONLY},
		{WRONLY, os.O_WRONLY},
		{RDWR, os.O_RDWR},
		{TRUNC, os.O_RDWR | os.O_TRUNC},
		{WRONLY | CREATE, os.O_WRONLY | os.O_CREATE | os.O_TRUNC},
		{RDWR | TRUNC, os.O_RDWR | os.O_TRUNC},
	} {
		if got := hostOpenMode(tc.flags); got != tc.want {
			t.Errorf("hostOpenMode(%v) = %#x, want %#x", tc.flags, got, tc.want)
		}
	}
}

func TestHostFSOpenReadOnlyFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	dir := t.TempDir()
	p := filepath.Join(dir, "hello")
	if err := os.WriteFile(p, []byte("image"), 0444); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	h, err := NewReadOnlyHostFS(context.Background(), dir, time.Millisecond)
	if err != nil {
		t.Fatalf("NewReadOnlyHostFS failed: %v", err)
	}
	defer h.Close()
	got, err := ReadAll(mustOpen(t, h, "hello"))
	if err != nil || string(got) != "image" {
		t.Errorf("ReadAll = (%q, %v), want %q", got, err, "image")
	}
}

func TestHostFSSharedLock(t *testing.T) {
	dir := t.TempDir()
	w, err := NewHostFS(context.Background(), dir, time.Millisecond)
	if err != nil {
		t.Fatalf("NewHostFS failed: %v", err)
	}
	if err := (hostStorage{w}).Add("app", []byte("image")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	w.Close()

	first, err := NewReadOnlyHostFS(context.Background(), dir, time.Millisecond)
	if err != nil {
		t.Fatalf("NewReadOnlyHostFS failed: %v", err)
	}
	defer first.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	second, err := NewReadOnlyHostFS(ctx, dir, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("second NewReadOnlyHostFS failed: %v", err)
	}
	defer second.Close()
	if _, err := NewHostFS(ctx, dir, 5*time.Millisecond); err == nil {
		t.Fatalf("NewHostFS acquired a lock shared by readers")
	}

	if _, err := first.Open("app", RDONLY); err != nil {
		t.Errorf("Open(RDONLY) failed: %v", err)
	}
	for _, flags := range []OpenFlags{WRONLY, RDWR, TRUNC, CREATE | WRONLY} {
		if _, err := first.Open("app", flags); !errors.Is(err, ErrPermission) {
			t.Errorf("Open(%v) = %v, want ErrPermission", flags, err)
		}
	}
}
