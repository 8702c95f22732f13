// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rorc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Registers gives access to the memory-mapped registers of a C-RORC BAR.
type Registers interface {
	io.ReaderAt
	io.WriterAt
}

// window is a view over a block of 32-bit registers.
// The first error encountered is kept and all following accesses
// are no-ops until the error is cleared.
type window struct {
	rw   Registers
	base int64
	err  error
	xbuf [pubBlockSize]byte
}

func newWindow(rw Registers, base int64) window {
	return window{rw: rw, base: base}
}

func (w *window) readU32(off int64) uint32 {
	if w.err != nil {
		return 0
	}
	_, w.err = w.rw.ReadAt(w.xbuf[:4], w.base+off)
	if w.err != nil {
		w.err = fmt.Errorf("rorc: could not read register 0x%x: %w", w.base+off, w.err)
		return 0
	}
	return binary.LittleEndian.Uint32(w.xbuf[:4])
}

func (w *window) writeU32(off int64, v uint32) {
	if w.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(w.xbuf[:4], v)
	_, w.err = w.rw.WriteAt(w.xbuf[:4], w.base+off)
	if w.err != nil {
		w.err = fmt.Errorf("rorc: could not write register 0x%x: %w", w.base+off, w.err)
		return
	}
}

// readU64 reads a 64-bit value split over a (low, high) register pair.
func (w *window) readU64(lo, hi int64) uint64 {
	l := w.readU32(lo)
	h := w.readU32(hi)
	return uint64(h)<<32 | uint64(l)
}

// writeU64 writes a 64-bit value split over a (low, high) register pair.
func (w *window) writeU64(lo, hi int64, v uint64) {
	w.writeU32(lo, uint32(v))
	w.writeU32(hi, uint32(v>>32))
}

// setOffsets publishes the event-buffer and report-buffer read pointers
// together with the DMA control word, in one block write.
// The sync-pointers bit is set on the control word so the firmware
// latches both pointers at once.
func (w *window) setOffsets(eb, rb uint64, ctrl uint32) {
	if w.err != nil {
		return
	}
	buf := w.xbuf[:pubBlockSize]
	binary.LittleEndian.PutUint32(buf[regEBReadL-regEBReadL:], uint32(eb))
	binary.LittleEndian.PutUint32(buf[regEBReadH-regEBReadL:], uint32(eb>>32))
	binary.LittleEndian.PutUint32(buf[regRBReadL-regEBReadL:], uint32(rb))
	binary.LittleEndian.PutUint32(buf[regRBReadH-regEBReadL:], uint32(rb>>32))
	binary.LittleEndian.PutUint32(buf[regDMACtrl-regEBReadL:], ctrl|dmaCtrlSyncPtrs)

	_, w.err = w.rw.WriteAt(buf, w.base+regEBReadL)
	if w.err != nil {
		w.err = fmt.Errorf("rorc: could not publish buffer offsets (eb=0x%x, rb=0x%x): %w", eb, rb, w.err)
	}
}
