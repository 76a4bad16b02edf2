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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"

	"rvkernel.dev/rvkernel/pkg/log"
)

// lockFilename is the lock file HostFS holds in its directory.
const lockFilename = ".rvk.lock"

// HostFS is a Storage backed by a host directory. A writable HostFS holds
// the directory's lock exclusively, so that kernels never observe an image
// builder's partial writes. A read-only HostFS shares the lock with other
// readers.
type HostFS struct {
	dir      string
	lock     *flock.Flock
	readOnly bool
}

// NewHostFS opens dir for reading and writing, creating it if needed, and
// takes its lock exclusively. A held lock is retried every interval until
// ctx is done.
func NewHostFS(ctx context.Context, dir string, interval time.Duration) (*HostFS, error) {
	return newHostFS(ctx, dir, interval, false)
}

// NewReadOnlyHostFS opens dir for reading and takes a shared lock on it.
// Opening a file for writing, creating or truncating fails with
// ErrPermission.
func NewReadOnlyHostFS(ctx context.Context, dir string, interval time.Duration) (*HostFS, error) {
	return newHostFS(ctx, dir, interval, true)
}

func newHostFS(ctx context.Context, dir string, interval time.Duration, readOnly bool) (*HostFS, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating image directory %q: %v", dir, err)
	}
	f := filepath.Join(dir, lockFilename)
	l := flock.NewFlock(f)
	tryLock := l.TryLock
	if readOnly {
		tryLock = l.TryRLock
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	op := func() error {
		locked, err := tryLock()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !locked {
			log.Debugf("Lock %q is held, retrying", f)
			return fmt.Errorf("lock %q is held", f)
		}
		return nil
	}
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("error acquiring lock on %q: %w", f, err)
	}
	return &HostFS{dir: dir, lock: l, readOnly: readOnly}, nil
}

// Dir returns the backing directory.
func (h *HostFS) Dir() string {
	return h.dir
}

// Close releases the directory lock.
func (h *HostFS) Close() error {
	return h.lock.Unlock()
}

func (h *HostFS) path(path string) (string, string, error) {
	name, err := cleanName(path)
	if err != nil {
		return "", "", err
	}
	if name == lockFilename {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return name, filepath.Join(h.dir, name), nil
}

// Open implements Storage.Open.
func (h *HostFS) Open(path string, flags OpenFlags) (*FileHandle, error) {
	_, p, err := h.path(path)
	if err != nil {
		return nil, err
	}
	mode := hostOpenMode(flags)
	if h.readOnly && mode&(os.O_WRONLY|os.O_RDWR) != 0 {
		return nil, fmt.Errorf("%w: opening %q %v on a read-only directory", ErrPermission, path, flags)
	}
	f, err := os.OpenFile(p, mode, 0644)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	f.Close()
	return NewFileHandle(hostInode(p), flags), nil
}

// hostOpenMode returns the os.OpenFile flags for flags. Creating or
// truncating a file needs write access even for a read-only handle.
func hostOpenMode(flags OpenFlags) int {
	var mode int
	switch r, w := flags.ReadWrite(); {
	case r && w:
		mode = os.O_RDWR
	case w:
		mode = os.O_WRONLY
	default:
		mode = os.O_RDONLY
	}
	if flags&(CREATE|TRUNC) != 0 {
		if mode == os.O_RDONLY {
			mode = os.O_RDWR
		}
		mode |= os.O_TRUNC
	}
	if flags&CREATE != 0 {
		mode |= os.O_CREATE
	}
	return mode
}

// Find implements Storage.Find.
func (h *HostFS) Find(path string) (Inode, error) {
	_, p, err := h.path(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !fi.Mode().IsRegular()) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return hostInode(p), nil
}

// Readdir implements Storage.Readdir.
func (h *HostFS) Readdir(path string) ([]string, error) {
	if err := checkRoot(path); err != nil {
		return nil, err
	}
	ents, err := os.ReadDir(h.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if e.Type().IsRegular() && e.Name() != lockFilename {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// hostInode is a host file named by its path.
type hostInode string

// ReadAt implements Inode.ReadAt.
func (i hostInode) ReadAt(off int64, buf []byte) (int, error) {
	f, err := os.Open(string(i))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := f.ReadAt(buf, off)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// WriteAt implements Inode.WriteAt.
func (i hostInode) WriteAt(off int64, buf []byte) (int, error) {
	f, err := os.OpenFile(string(i), os.O_WRONLY, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.WriteAt(buf, off)
}

// Size implements Inode.Size.
func (i hostInode) Size() (int64, error) {
	fi, err := os.Stat(string(i))
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Clear implements Inode.Clear.
func (i hostInode) Clear() error {
	return os.Truncate(string(i), 0)
}
