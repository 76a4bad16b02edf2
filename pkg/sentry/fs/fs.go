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

// Package fs provides the storage capability: a flat directory of program
// images the kernel loads from and exec resolves paths through.
package fs

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrNotFound is returned for paths that name no file.
	ErrNotFound = errors.New("no such file")

	// ErrInvalidPath is returned for paths outside the flat root directory.
	ErrInvalidPath = errors.New("invalid path")

	// ErrPermission is returned for reads of write-only handles and writes
	// of read-only ones.
	ErrPermission = errors.New("permission denied")
)

// OpenFlags are the flags of Storage.Open.
type OpenFlags uint32

// Access modes and creation flags.
const (
	RDONLY OpenFlags = 0
	WRONLY OpenFlags = 1 << 0
	RDWR   OpenFlags = 1 << 1
	CREATE OpenFlags = 1 << 9
	TRUNC  OpenFlags = 1 << 10
)

// ReadWrite returns whether a handle opened with f may read and write.
func (f OpenFlags) ReadWrite() (readable, writable bool) {
	switch {
	case f&WRONLY != 0:
		return false, true
	case f&RDWR != 0:
		return true, true
	default:
		return true, false
	}
}

// String implements fmt.Stringer.String.
func (f OpenFlags) String() string {
	var parts []string
	switch r, w := f.ReadWrite(); {
	case r && w:
		parts = append(parts, "RDWR")
	case w:
		parts = append(parts, "WRONLY")
	default:
		parts = append(parts, "RDONLY")
	}
	if f&CREATE != 0 {
		parts = append(parts, "CREATE")
	}
	if f&TRUNC != 0 {
		parts = append(parts, "TRUNC")
	}
	return strings.Join(parts, "|")
}

// Inode is a file's contents.
type Inode interface {
	// ReadAt reads into buf from offset off. It returns 0 at end of file.
	ReadAt(off int64, buf []byte) (int, error)

	// WriteAt writes buf at offset off, extending the file as needed.
	WriteAt(off int64, buf []byte) (int, error)

	// Size returns the file's length.
	Size() (int64, error)

	// Clear truncates the file to zero length.
	Clear() error
}

// Storage is the storage capability.
type Storage interface {
	// Open opens path. With CREATE a missing file is created and an
	// existing one truncated; with TRUNC an existing file is truncated.
	Open(path string, flags OpenFlags) (*FileHandle, error)

	// Find returns the inode of path.
	Find(path string) (Inode, error)

	// Readdir lists the directory at path.
	Readdir(path string) ([]string, error)
}

// FileHandle is an open file with a position.
type FileHandle struct {
	Inode
	readable bool
	writable bool
	offset   int64
}

// NewFileHandle returns a handle on inode opened with flags.
func NewFileHandle(inode Inode, flags OpenFlags) *FileHandle {
	r, w := flags.ReadWrite()
	return &FileHandle{Inode: inode, readable: r, writable: w}
}

// Readable returns whether the handle may read.
func (h *FileHandle) Readable() bool { return h.readable }

// Writable returns whether the handle may write.
func (h *FileHandle) Writable() bool { return h.writable }

// Read implements io.Reader.Read.
func (h *FileHandle) Read(buf []byte) (int, error) {
	if !h.readable {
		return 0, ErrPermission
	}
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := h.ReadAt(h.offset, buf)
	h.offset += int64(n)
	if err == nil && n == 0 {
		return 0, io.EOF
	}
	return n, err
}

// Write implements io.Writer.Write.
func (h *FileHandle) Write(buf []byte) (int, error) {
	if !h.writable {
		return 0, ErrPermission
	}
	n, err := h.WriteAt(h.offset, buf)
	h.offset += int64(n)
	return n, err
}

// chunkSize is the unit ReadAll reads in.
const chunkSize = 512

// ReadAll reads the whole file behind h from the start.
func ReadAll(h *FileHandle) ([]byte, error) {
	if !h.readable {
		return nil, ErrPermission
	}
	var (
		out    []byte
		buf    [chunkSize]byte
		offset int64
	)
	for {
		n, err := h.ReadAt(offset, buf[:])
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out, nil
		}
		offset += int64(n)
		out = append(out, buf[:n]...)
	}
}

// cleanName returns the file name of path in the flat root directory.
func cleanName(path string) (string, error) {
	name := strings.TrimPrefix(path, "/")
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, '/') {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return name, nil
}

// checkRoot validates a directory path, which must name the root.
func checkRoot(path string) error {
	if path != "" && path != "/" && path != "." {
		return fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	return nil
}
