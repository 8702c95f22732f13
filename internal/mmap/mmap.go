// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap provides memory-mapped views of device files (PCIe BARs,
// DMA buffers, shared-memory objects) with 32-bit word access.
package mmap // import "github.com/go-lpc/crorc/internal/mmap"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")
)

// Handle is a memory-mapped region.
type Handle struct {
	data  []byte
	unmap bool // whether data was obtained from unix.Mmap
}

// HandleFrom wraps an already allocated region.
// Closing the returned handle does not unmap data.
func HandleFrom(data []byte) *Handle {
	return &Handle{data: data}
}

// Open maps size bytes of the named file.
// If size is not strictly positive, the whole file is mapped.
func Open(fname string, size int, writable bool) (*Handle, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR | os.O_SYNC
	}
	f, err := os.OpenFile(fname, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not open %q: %w", fname, err)
	}
	defer f.Close()

	if size <= 0 {
		fi, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("mmap: could not stat %q: %w", fname, err)
		}
		size = int(fi.Size())
	}

	h, err := Map(f, size, writable)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not map %q: %w", fname, err)
	}
	return h, nil
}

// Map maps size bytes of the provided file, starting at offset 0.
// The file may be closed once Map returns.
func Map(f *os.File, size int, writable bool) (*Handle, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmap: invalid size %d", size)
	}
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	h := &Handle{data: data, unmap: true}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h, nil
}

// Close closes the mmap handle.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	if h.data == nil {
		return nil
	}
	data := h.data
	h.data = nil
	if !h.unmap {
		return nil
	}
	runtime.SetFinalizer(h, nil)

	return unix.Munmap(data)
}

// Len returns the length of the underlying memory-mapped file.
func (h *Handle) Len() int {
	return len(h.data)
}

// Bytes returns the mapped region.
func (h *Handle) Bytes() []byte {
	return h.data
}

// At returns the byte at index i.
func (h *Handle) At(i int) byte {
	return h.data[i]
}

// LoadU32 atomically loads the 32-bit word at byte offset off.
// off must be 4-byte aligned.
func (h *Handle) LoadU32(off int64) uint32 {
	return atomic.LoadUint32(h.word(off))
}

// StoreU32 atomically stores v at byte offset off.
// off must be 4-byte aligned.
func (h *Handle) StoreU32(off int64, v uint32) {
	atomic.StoreUint32(h.word(off), v)
}

func (h *Handle) word(off int64) *uint32 {
	if off%4 != 0 {
		panic(fmt.Errorf("mmap: unaligned word offset 0x%x", off))
	}
	return (*uint32)(unsafe.Pointer(&h.data[off : off+4][0]))
}

// ReadAt implements the io.ReaderAt interface.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements the io.WriterAt interface.
func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid WriteAt offset %d", off)
	}
	n := copy(h.data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

var (
	_ io.ReaderAt = (*Handle)(nil)
	_ io.WriterAt = (*Handle)(nil)
	_ io.Closer   = (*Handle)(nil)
)
