// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rorc

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"testing"

	"github.com/go-lpc/crorc/internal/mmap"
)

// spyRegs records all the register writes.
type spyRegs struct {
	*mmap.Handle
	writes []spyWrite
	fail   bool // fail all accesses
}

type spyWrite struct {
	off  int64
	data []byte
}

func newSpyRegs(nchans int) *spyRegs {
	regs := &spyRegs{
		Handle: mmap.HandleFrom(make([]byte, (maxChannels+1)*int(chanStride))),
	}
	regs.StoreU32(regTypeChannels, 0xc0de<<16|uint32(nchans))
	return regs
}

func (regs *spyRegs) ReadAt(p []byte, off int64) (int, error) {
	if regs.fail {
		return 0, fmt.Errorf("bus error")
	}
	return regs.Handle.ReadAt(p, off)
}

func (regs *spyRegs) WriteAt(p []byte, off int64) (int, error) {
	if regs.fail {
		return 0, fmt.Errorf("bus error")
	}
	regs.writes = append(regs.writes, spyWrite{off: off, data: append([]byte(nil), p...)})
	return regs.Handle.WriteAt(p, off)
}

func (regs *spyRegs) reset() { regs.writes = regs.writes[:0] }

func newTestLogger() *log.Logger {
	return log.New(io.Discard, "rorc: ", 0)
}

// testChannel is a configured channel with its raw buffers.
type testChannel struct {
	*Channel
	regs *spyRegs
	eb   []byte
	rb   []byte
}

func newTestChannel(t *testing.T, ebSize, nslots int, opts ...Option) *testChannel {
	t.Helper()

	regs := newSpyRegs(2)
	dev, err := NewDevice(regs, WithLogger(newTestLogger()))
	if err != nil {
		t.Fatalf("could not create device: %+v", err)
	}

	eb, err := NewMemBuffer(0, ebSize)
	if err != nil {
		t.Fatalf("could not create event buffer: %+v", err)
	}
	rb, err := NewMemBuffer(1, nslots*DescriptorSize)
	if err != nil {
		t.Fatalf("could not create report buffer: %+v", err)
	}

	c, err := dev.ConfigureChannel(0, eb, rb, opts...)
	if err != nil {
		t.Fatalf("could not configure channel: %+v", err)
	}
	regs.reset()

	return &testChannel{
		Channel: c,
		regs:    regs,
		eb:      eb.Bytes(),
		rb:      rb.Bytes(),
	}
}

// rampEvent returns the words of a pattern generator ramp event,
// trailer included.
func rampEvent(id int64, size uint32) []uint32 {
	evt := []uint32{
		0xffffffff, uint32(id) & 0xfff, uint32(id>>12) & 0xffffff,
		0, 0, 0, 0, 0,
	}
	for j := uint32(8); j < size; j++ {
		evt = append(evt, j-8)
	}
	return AppendTrailer(evt, size, size)
}

// putEvent writes evt at byte offset off of the event buffer,
// wrapping around its end.
func putEvent(eb []byte, off uint64, evt []uint32) {
	pos := int(off)
	for _, w := range evt {
		binary.LittleEndian.PutUint32(eb[pos:], w)
		pos = (pos + 4) % len(eb)
	}
}

// putDesc writes a descriptor into a report buffer slot.
func putDesc(rb []byte, slot int, d Descriptor) {
	buf := rb[slot*DescriptorSize:]
	binary.LittleEndian.PutUint32(buf[0:], d.ReportedSize)
	binary.LittleEndian.PutUint32(buf[4:], d.CalcSize)
	binary.LittleEndian.PutUint64(buf[8:], d.Offset)
}

// emulator posts hand-crafted events into a test channel.
type emulator struct {
	tc   *testChannel
	slot int
	off  uint64
	id   int64
}

func (emu *emulator) post(reported, calc uint32, evt []uint32) Descriptor {
	putEvent(emu.tc.eb, emu.off, evt)
	d := Descriptor{ReportedSize: reported, CalcSize: calc, Offset: emu.off}
	putDesc(emu.tc.rb, emu.slot, d)
	emu.off = (emu.off + uint64(4*len(evt))) % uint64(len(emu.tc.eb))
	emu.slot = (emu.slot + 1) % (len(emu.tc.rb) / DescriptorSize)
	return d
}

func (emu *emulator) ramp(size uint32) Descriptor {
	evt := rampEvent(emu.id, size)
	emu.id++
	return emu.post(size, size, evt)
}

func slotIsZero(rb []byte, slot int) bool {
	for _, v := range rb[slot*DescriptorSize : (slot+1)*DescriptorSize] {
		if v != 0 {
			return false
		}
	}
	return true
}
