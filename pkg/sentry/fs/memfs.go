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
	"fmt"
	"sort"
	"sync"
)

// MemFS is an in-memory Storage.
type MemFS struct {
	mu    sync.Mutex
	files map[string]*memInode
}

// NewMemFS returns an empty MemFS.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string]*memInode)}
}

// Add stores a file, replacing any existing one.
func (m *MemFS) Add(path string, data []byte) error {
	name, err := cleanName(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = &memInode{data: append([]byte(nil), data...)}
	return nil
}

// Open implements Storage.Open.
func (m *MemFS) Open(path string, flags OpenFlags) (*FileHandle, error) {
	name, err := cleanName(path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inode, ok := m.files[name]
	switch {
	case ok && flags&(CREATE|TRUNC) != 0:
		inode.Clear()
	case !ok && flags&CREATE != 0:
		inode = &memInode{}
		m.files[name] = inode
	case !ok:
		return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	return NewFileHandle(inode, flags), nil
}

// Find implements Storage.Find.
func (m *MemFS) Find(path string) (Inode, error) {
	name, err := cleanName(path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inode, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	return inode, nil
}

// Readdir implements Storage.Readdir.
func (m *MemFS) Readdir(path string) ([]string, error) {
	if err := checkRoot(path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

type memInode struct {
	mu   sync.Mutex
	data []byte
}

// ReadAt implements Inode.ReadAt.
func (i *memInode) ReadAt(off int64, buf []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(len(i.data)) {
		return 0, nil
	}
	return copy(buf, i.data[off:]), nil
}

// WriteAt implements Inode.WriteAt.
func (i *memInode) WriteAt(off int64, buf []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if end := off + int64(len(buf)); end > int64(len(i.data)) {
		i.data = append(i.data, make([]byte, end-int64(len(i.data)))...)
	}
	return copy(i.data[off:], buf), nil
}

// Size implements Inode.Size.
func (i *memInode) Size() (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return int64(len(i.data)), nil
}

// Clear implements Inode.Clear.
func (i *memInode) Clear() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.data = nil
	return nil
}
