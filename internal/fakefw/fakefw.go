// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakefw emulates the DMA engine and pattern generator of the
// C-RORC firmware, for tests and hardware-free runs.
package fakefw // import "github.com/go-lpc/crorc/internal/fakefw"

import (
	"context"
	"encoding/binary"
	"io"
	"math/bits"
	"sync"
	"time"

	"github.com/go-lpc/crorc/internal/mmap"
	"github.com/go-lpc/crorc/rorc"
)

// register map, as seen by the firmware.
const (
	regTypeChannels = 0x00
	regFwDate       = 0x04
	regFwRevision   = 0x08

	chanStride   = 0x100
	regEBReadL   = 0x18
	regDMACtrl   = 0x28
	regPGCtrl    = 0x60
	regPGPattern = 0x64
	regPGSize    = 0x68
	regPGNumEvts = 0x6c

	dmaCtrlEnable = 1 << 0
	pgCtrlEnable  = 1 << 0
	pgModeOff     = 4
	pgModeMask    = 0x7

	fwType     = 0xc0de
	fwDate     = 0x20220301
	fwRevision = 0x9a4b

	defaultSize = 64 // default event size, in words
)

// BAR is an in-memory register BAR.
// It may be shared between a readout goroutine and an emulator goroutine.
type BAR struct {
	mu sync.Mutex
	h  *mmap.Handle
}

// NewBAR returns the register BAR of a firmware with nchans DMA channels.
func NewBAR(nchans int) *BAR {
	bar := &BAR{
		h: mmap.HandleFrom(make([]byte, (nchans+1)*chanStride)),
	}
	bar.h.StoreU32(regTypeChannels, fwType<<16|uint32(nchans))
	bar.h.StoreU32(regFwDate, fwDate)
	bar.h.StoreU32(regFwRevision, fwRevision)
	return bar
}

func (bar *BAR) ReadAt(p []byte, off int64) (int, error) {
	bar.mu.Lock()
	defer bar.mu.Unlock()
	return bar.h.ReadAt(p, off)
}

func (bar *BAR) WriteAt(p []byte, off int64) (int, error) {
	bar.mu.Lock()
	defer bar.mu.Unlock()
	return bar.h.WriteAt(p, off)
}

// U32 returns the register at offset off.
func (bar *BAR) U32(off int64) uint32 {
	bar.mu.Lock()
	defer bar.mu.Unlock()
	return bar.h.LoadU32(off)
}

// Option configures a Firmware.
type Option func(*Firmware)

// WithEventSize sets the size of generated events, in 32b words.
// By default, the size programmed in the pattern generator is used.
func WithEventSize(words uint32) Option {
	return func(fw *Firmware) {
		fw.size = words
	}
}

// WithFirstID sets the ID of the first generated event.
func WithFirstID(id int64) Option {
	return func(fw *Firmware) {
		fw.id = id
	}
}

// WithSizeMismatch makes every n-th event report a wrong size.
func WithSizeMismatch(n int) Option {
	return func(fw *Firmware) {
		fw.faults.size = n
	}
}

// WithTimeouts flags every n-th event with a read-completion timeout.
func WithTimeouts(n int) Option {
	return func(fw *Firmware) {
		fw.faults.timeout = n
	}
}

// WithIDGaps drops one event ID before every n-th event.
func WithIDGaps(n int) Option {
	return func(fw *Firmware) {
		fw.faults.gap = n
	}
}

// Firmware emulates the DMA engine of one channel.
//
// Events are written into the event buffer and announced by descriptors
// in the report buffer, CalcSize last.
// Report slots are only written once cleared by software, and event
// buffer space is only reused once software published a read pointer
// past it.
type Firmware struct {
	regs io.ReaderAt
	base int64
	eb   *mmap.Handle
	rb   *mmap.Handle

	slot  int    // next report slot
	wr    uint64 // next event buffer write offset
	used  uint64 // bytes of the event buffer not yet released
	inflt []event

	n      int   // number of generated events
	id     int64 // next event ID
	size   uint32
	faults struct {
		size    int
		timeout int
		gap     int
	}

	evt  []uint32
	xbuf [8]byte
}

type event struct {
	slot int
	off  uint64
	n    uint64
}

// New creates an emulator for DMA channel ch, writing into the provided
// event and report buffers.
func New(regs io.ReaderAt, ch int, eb, rb []byte, opts ...Option) *Firmware {
	fw := &Firmware{
		regs: regs,
		base: int64(ch+1) * chanStride,
		eb:   mmap.HandleFrom(eb),
		rb:   mmap.HandleFrom(rb),
	}
	for _, opt := range opts {
		opt(fw)
	}
	return fw
}

// Generated returns the number of events generated so far.
func (fw *Firmware) Generated() int { return fw.n }

func (fw *Firmware) readU32(off int64) uint32 {
	_, err := fw.regs.ReadAt(fw.xbuf[:4], fw.base+off)
	if err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(fw.xbuf[:4])
}

func (fw *Firmware) readU64(off int64) uint64 {
	_, err := fw.regs.ReadAt(fw.xbuf[:8], fw.base+off)
	if err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(fw.xbuf[:8])
}

// Post generates up to n events and returns the number of events
// actually posted.
// Fewer events are posted when the DMA engine is disabled or when
// software did not release enough space.
func (fw *Firmware) Post(n int) int {
	if fw.readU32(regDMACtrl)&dmaCtrlEnable == 0 {
		return 0
	}
	for i := 0; i < n; i++ {
		if !fw.post() {
			return i
		}
	}
	return n
}

// Run generates events while the pattern generator is enabled, until
// ctx is canceled or the programmed number of events is reached.
func (fw *Firmware) Run(ctx context.Context, period time.Duration) {
	tck := time.NewTicker(period)
	defer tck.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tck.C:
			ctrl := fw.readU32(regPGCtrl)
			if ctrl&pgCtrlEnable == 0 {
				continue
			}
			n := 1 << 10
			if tot := int(fw.readU32(regPGNumEvts)); tot > 0 {
				if fw.n >= tot {
					continue
				}
				n = min(n, tot-fw.n)
			}
			fw.Post(n)
		}
	}
}

// release frees the event buffer space of the events consumed by
// software, as told by the published read pointer.
func (fw *Firmware) release() {
	ebr := fw.readU64(regEBReadL)
	for i, evt := range fw.inflt {
		if evt.off != ebr || fw.rb.LoadU32(int64(evt.slot*rorc.DescriptorSize+4)) != 0 {
			continue
		}
		for _, e := range fw.inflt[:i+1] {
			fw.used -= e.n
		}
		fw.inflt = append(fw.inflt[:0], fw.inflt[i+1:]...)
		return
	}
}

func (fw *Firmware) post() bool {
	fw.release()

	slot := int64(fw.slot * rorc.DescriptorSize)
	if fw.rb.LoadU32(slot+4) != 0 {
		return false
	}

	var (
		n  = fw.n + 1
		id = fw.id
	)
	if fw.faults.gap > 0 && n%fw.faults.gap == 0 {
		id++
	}

	calc := fw.eventSize()
	reported := calc
	if fw.faults.size > 0 && n%fw.faults.size == 0 {
		reported++
	}
	fw.evt = fw.generate(fw.evt[:0], id, calc)
	fw.evt = rorc.AppendTrailer(fw.evt, reported, calc)

	nbytes := uint64(4 * len(fw.evt))
	if fw.used+nbytes > uint64(fw.eb.Len()) {
		return false
	}
	fw.n = n
	fw.id = id + 1

	off := fw.wr
	buf := fw.eb.Bytes()
	pos := off
	for _, w := range fw.evt {
		binary.LittleEndian.PutUint32(buf[pos:], w)
		pos = (pos + 4) % uint64(len(buf))
	}

	if fw.faults.timeout > 0 && n%fw.faults.timeout == 0 {
		calc |= 1 << 31
	}
	fw.rb.StoreU32(slot+0, reported)
	fw.rb.StoreU32(slot+8, uint32(off))
	fw.rb.StoreU32(slot+12, uint32(off>>32))
	fw.rb.StoreU32(slot+4, calc)

	fw.inflt = append(fw.inflt, event{slot: fw.slot, off: off, n: nbytes})
	fw.used += nbytes
	fw.wr = pos
	fw.slot = (fw.slot + 1) % (fw.rb.Len() / rorc.DescriptorSize)
	return true
}

func (fw *Firmware) eventSize() uint32 {
	if fw.size > 0 {
		return fw.size
	}
	if v := fw.readU32(regPGSize); v > 0 {
		return v
	}
	return defaultSize
}

// generate appends an event of size words to evt: a common data header
// carrying the event ID, followed by the pattern generator payload.
func (fw *Firmware) generate(evt []uint32, id int64, size uint32) []uint32 {
	hdr := [8]uint32{
		0xffffffff,
		uint32(id) & 0xfff,
		uint32(id>>12) & 0xffffff,
	}
	evt = append(evt, hdr[:min(int(size), len(hdr))]...)

	var (
		ctrl    = fw.readU32(regPGCtrl)
		mode    = rorc.PatternMode(ctrl >> pgModeOff & pgModeMask)
		pattern = fw.readU32(regPGPattern)
	)
	for k := uint32(0); k+uint32(len(hdr)) < size; k++ {
		var w uint32
		switch mode {
		case rorc.PatternShift:
			w = bits.RotateLeft32(pattern, int(k))
		case rorc.PatternToggle:
			w = pattern
			if k%2 == 1 {
				w = ^pattern
			}
		case rorc.PatternConstant:
			w = pattern
		default:
			w = k
		}
		evt = append(evt, w)
	}
	return evt
}
