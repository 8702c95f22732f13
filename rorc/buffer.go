// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rorc

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"github.com/go-lpc/crorc/internal/mmap"
)

// Buffer is a DMA buffer, seen by the firmware through its scatter-gather
// list.
type Buffer interface {
	ID() int
	Size() int64
	Bytes() []byte
	SGList() []SGEntry
	// MaxDescriptors returns the number of descriptors the buffer can
	// hold when used as a report buffer.
	MaxDescriptors() int
}

// SGEntry is a scatter-gather list entry: a physically contiguous segment
// of a DMA buffer.
type SGEntry struct {
	Addr uint64 // bus address
	Len  uint32 // length in bytes
}

// sgRecordSize is the size of a scatter-gather record in the sglist
// files exported by the kernel allocator: {addr u64, len u32, pad u32}.
const sgRecordSize = 16

const pageSize = 4096

// MemBuffer is a heap allocated, page aligned, buffer.
// It is used with emulated firmware.
type MemBuffer struct {
	id  int
	buf []byte
}

// NewMemBuffer allocates a buffer of the provided size.
func NewMemBuffer(id, size int) (*MemBuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("rorc: invalid buffer size %d: %w", size, ErrNoBuffer)
	}
	raw := make([]byte, size+pageSize)
	beg := int(-uintptr(unsafe.Pointer(&raw[0])) & (pageSize - 1))
	return &MemBuffer{
		id:  id,
		buf: raw[beg : beg+size : beg+size],
	}, nil
}

func (buf *MemBuffer) ID() int             { return buf.id }
func (buf *MemBuffer) Size() int64         { return int64(len(buf.buf)) }
func (buf *MemBuffer) Bytes() []byte       { return buf.buf }
func (buf *MemBuffer) MaxDescriptors() int { return len(buf.buf) / DescriptorSize }

func (buf *MemBuffer) SGList() []SGEntry {
	return []SGEntry{{
		Addr: uint64(uintptr(unsafe.Pointer(&buf.buf[0]))),
		Len:  uint32(len(buf.buf)),
	}}
}

// MappedBuffer is a kernel allocated DMA buffer, mapped into the
// process address space.
type MappedBuffer struct {
	id  int
	h   *mmap.Handle
	sgl []SGEntry
}

// MapBuffer maps the DMA buffer exported by the kernel allocator as the
// mem file, and loads its scatter-gather list from the sglist file.
func MapBuffer(id int, mem, sglist string) (*MappedBuffer, error) {
	raw, err := os.ReadFile(sglist)
	if err != nil {
		return nil, fmt.Errorf("rorc: could not read scatter-gather list of buffer %d: %w", id, err)
	}
	sgl, err := decodeSGList(raw)
	if err != nil {
		return nil, fmt.Errorf("rorc: could not decode scatter-gather list of buffer %d: %w", id, err)
	}

	h, err := mmap.Open(mem, 0, true)
	if err != nil {
		return nil, fmt.Errorf("rorc: could not map buffer %d: %w", id, err)
	}
	if h.Len() == 0 {
		_ = h.Close()
		return nil, fmt.Errorf("rorc: empty buffer %d: %w", id, ErrNoBuffer)
	}

	return &MappedBuffer{id: id, h: h, sgl: sgl}, nil
}

func (buf *MappedBuffer) ID() int             { return buf.id }
func (buf *MappedBuffer) Size() int64         { return int64(buf.h.Len()) }
func (buf *MappedBuffer) Bytes() []byte       { return buf.h.Bytes() }
func (buf *MappedBuffer) SGList() []SGEntry   { return buf.sgl }
func (buf *MappedBuffer) MaxDescriptors() int { return buf.h.Len() / DescriptorSize }

// Close unmaps the buffer.
func (buf *MappedBuffer) Close() error {
	return buf.h.Close()
}

func decodeSGList(raw []byte) ([]SGEntry, error) {
	if len(raw)%sgRecordSize != 0 {
		return nil, fmt.Errorf("rorc: invalid scatter-gather list size %d", len(raw))
	}
	sgl := make([]SGEntry, 0, len(raw)/sgRecordSize)
	for len(raw) > 0 {
		sgl = append(sgl, SGEntry{
			Addr: binary.LittleEndian.Uint64(raw[0:8]),
			Len:  binary.LittleEndian.Uint32(raw[8:12]),
		})
		raw = raw[sgRecordSize:]
	}
	return sgl, nil
}

var (
	_ Buffer = (*MemBuffer)(nil)
	_ Buffer = (*MappedBuffer)(nil)
)
