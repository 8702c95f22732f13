// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rorc

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// DescriptorSize is the size in bytes of a report-buffer descriptor.
const DescriptorSize = 16

const (
	sizeMask    uint32 = 0x3fffffff // significant bits of the size fields
	timeoutFlag uint32 = 1 << 31    // read-completion timeout, in CalcSize
)

// Descriptor is an event descriptor, as written by the firmware into
// the report buffer.
// Its layout is fixed by the firmware: 16 bytes, little-endian, no padding.
type Descriptor struct {
	ReportedSize uint32 // event size reported by the link, in 32b words (bits 31:30 reserved)
	CalcSize     uint32 // event size computed by the DMA engine, in 32b words (bit 31: timeout)
	Offset       uint64 // byte offset of the event in the event buffer
}

// sizeInfo is the decoded form of the descriptor size fields.
type sizeInfo struct {
	words    uint32 // calculated size, in 32b words
	reported uint32 // reported size, in 32b words
	timedOut bool   // read-completion timeout
}

func (d Descriptor) sizes() sizeInfo {
	return sizeInfo{
		words:    d.CalcSize & sizeMask,
		reported: d.ReportedSize & sizeMask,
		timedOut: d.CalcSize&timeoutFlag != 0,
	}
}

// Words returns the calculated event size, in 32b words.
func (d Descriptor) Words() uint32 { return d.CalcSize & sizeMask }

// TimedOut reports whether the firmware flagged a read-completion timeout.
func (d Descriptor) TimedOut() bool { return d.CalcSize&timeoutFlag != 0 }

func (d Descriptor) String() string {
	sz := d.sizes()
	return fmt.Sprintf(
		"Descriptor{calc=%d, reported=%d, offset=0x%x, timeout=%v}",
		sz.words, sz.reported, d.Offset, sz.timedOut,
	)
}

// ReportRing is the circular array of descriptors of a report buffer.
//
// The firmware fills slots in ring order, writing CalcSize last.
// A slot with a zero CalcSize has not been written yet.
type ReportRing struct {
	descs []Descriptor
}

// NewReportRing creates a descriptor ring over the provided memory.
// The memory must be 8-byte aligned and a non-empty multiple of
// DescriptorSize long.
func NewReportRing(mem []byte) (ReportRing, error) {
	switch {
	case len(mem) == 0:
		return ReportRing{}, fmt.Errorf("rorc: empty report buffer: %w", ErrRingSize)
	case len(mem)%DescriptorSize != 0:
		return ReportRing{}, fmt.Errorf(
			"rorc: report buffer size %d is not a multiple of %d: %w",
			len(mem), DescriptorSize, ErrRingSize,
		)
	case uintptr(unsafe.Pointer(&mem[0]))%8 != 0:
		return ReportRing{}, fmt.Errorf("rorc: misaligned report buffer: %w", ErrRingSize)
	}
	ptr := (*Descriptor)(unsafe.Pointer(&mem[0]))
	return ReportRing{descs: unsafe.Slice(ptr, len(mem)/DescriptorSize)}, nil
}

// Len returns the number of slots in the ring.
func (r ReportRing) Len() int { return len(r.descs) }

// posted returns whether the firmware has written slot i.
func (r ReportRing) posted(i int) bool {
	return atomic.LoadUint32(&r.descs[i].CalcSize) != 0
}

// load returns a copy of slot i.
// CalcSize is loaded first, so the other fields are read after the
// firmware has published the whole descriptor.
func (r ReportRing) load(i int) Descriptor {
	p := &r.descs[i]
	calc := atomic.LoadUint32(&p.CalcSize)
	return Descriptor{
		ReportedSize: atomic.LoadUint32(&p.ReportedSize),
		CalcSize:     calc,
		Offset:       atomic.LoadUint64(&p.Offset),
	}
}

// clear zeroes n slots starting at slot beg, wrapping around the end
// of the ring.
func (r ReportRing) clear(beg, n int) {
	if n <= 0 {
		return
	}
	end := beg + n
	if end <= len(r.descs) {
		zero(r.descs[beg:end])
		return
	}
	zero(r.descs[beg:])
	zero(r.descs[:end-len(r.descs)])
}

// zero resets descs, CalcSize last.
func zero(descs []Descriptor) {
	for i := range descs {
		p := &descs[i]
		atomic.StoreUint32(&p.ReportedSize, 0)
		atomic.StoreUint64(&p.Offset, 0)
		atomic.StoreUint32(&p.CalcSize, 0)
	}
}
