// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rorc

import (
	"fmt"
	"log"
	"time"

	"github.com/go-lpc/crorc/internal/mmap"
)

// Device is a C-RORC board, accessed through its register BAR.
type Device struct {
	msg  *log.Logger
	regs Registers
	bar  *mmap.Handle // BAR mapping owned by the device, if any
	cfg  config

	nchans int
	chans  [maxChannels]*Channel
}

// Open maps the register BAR resource file of a C-RORC board,
// e.g. /sys/bus/pci/devices/0000:03:00.0/resource1.
func Open(bar string, opts ...Option) (*Device, error) {
	h, err := mmap.Open(bar, 0, true)
	if err != nil {
		return nil, fmt.Errorf("rorc: could not map BAR %q: %w", bar, err)
	}

	dev, err := NewDevice(h, opts...)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	dev.bar = h
	return dev, nil
}

// NewDevice creates a device from its registers.
func NewDevice(regs Registers, opts ...Option) (*Device, error) {
	dev := &Device{
		regs: regs,
		cfg:  newConfig(),
	}
	for _, opt := range opts {
		opt(&dev.cfg)
	}
	// a statistics block belongs to a single channel.
	dev.cfg.stats = nil
	dev.msg = dev.cfg.msg

	win := newWindow(regs, 0)
	v := win.readU32(regTypeChannels)
	if win.err != nil {
		return nil, fmt.Errorf("rorc: could not read number of DMA channels: %w", win.err)
	}
	dev.nchans = min(int(v&0xffff), maxChannels)
	if dev.nchans == 0 {
		return nil, fmt.Errorf("rorc: firmware has no DMA channel (type=0x%08x): %w", v, ErrChannel)
	}

	return dev, nil
}

// NumChannels returns the number of DMA channels of the firmware.
func (dev *Device) NumChannels() int { return dev.nchans }

// FirmwareInfo describes the firmware loaded on a board.
type FirmwareInfo struct {
	Type     uint16
	Channels int
	Date     uint32 // build date, as 0xYYYYMMDD
	Revision uint32
	Uptime   time.Duration
}

func (fw FirmwareInfo) String() string {
	return fmt.Sprintf(
		"type=0x%04x channels=%d date=%08x rev=0x%x uptime=%v",
		fw.Type, fw.Channels, fw.Date, fw.Revision, fw.Uptime,
	)
}

// FirmwareInfo reads the firmware identification registers.
func (dev *Device) FirmwareInfo() (FirmwareInfo, error) {
	win := newWindow(dev.regs, 0)
	var (
		tc  = win.readU32(regTypeChannels)
		fw  FirmwareInfo
		clk = 8 * time.Nanosecond
	)
	fw.Type = uint16(tc >> 16)
	fw.Channels = int(tc & 0xffff)
	fw.Date = win.readU32(regFwDate)
	fw.Revision = win.readU32(regFwRevision)
	fw.Uptime = time.Duration(win.readU32(regUptime)) * clk
	if win.err != nil {
		return fw, fmt.Errorf("rorc: could not read firmware info: %w", win.err)
	}
	return fw, nil
}

// Close disables all the configured DMA channels and releases the
// device.
func (dev *Device) Close() error {
	var err error
	for _, ch := range dev.chans {
		if ch == nil {
			continue
		}
		e := ch.Close()
		if e != nil && err == nil {
			err = e
		}
	}
	if dev.bar != nil {
		e := dev.bar.Close()
		if e != nil && err == nil {
			err = fmt.Errorf("rorc: could not unmap BAR: %w", e)
		}
		dev.bar = nil
	}
	return err
}

func chanBase(ch int) int64 {
	return int64(ch+1) * chanStride
}

// ConfigureChannel programs the event and report buffers of a DMA
// channel, enables it and returns the corresponding readout session.
func (dev *Device) ConfigureChannel(ch int, eb, rb Buffer, opts ...Option) (*Channel, error) {
	if ch < 0 || ch >= dev.nchans {
		return nil, fmt.Errorf("rorc: channel %d out of range [0, %d): %w", ch, dev.nchans, ErrChannel)
	}
	if dev.chans[ch] != nil {
		return nil, fmt.Errorf("rorc: channel %d already configured: %w", ch, ErrChannel)
	}

	cfg := dev.cfg
	for _, opt := range opts {
		opt(&cfg)
	}

	err := validBuffer(eb, "event")
	if err != nil {
		return nil, fmt.Errorf("rorc: could not configure channel %d: %w", ch, err)
	}
	err = validBuffer(rb, "report")
	if err != nil {
		return nil, fmt.Errorf("rorc: could not configure channel %d: %w", ch, err)
	}

	evts, err := NewEventRing(eb.Bytes())
	if err != nil {
		return nil, fmt.Errorf("rorc: could not configure channel %d: %w", ch, err)
	}
	reps, err := NewReportRing(rb.Bytes())
	if err != nil {
		return nil, fmt.Errorf("rorc: could not configure channel %d: %w", ch, err)
	}

	if !cfg.pattern.valid() {
		return nil, fmt.Errorf("rorc: could not configure channel %d: %v: %w", ch, cfg.pattern, ErrPatternMode)
	}
	var chk *Checker
	if cfg.checks != ChkNone {
		chk, err = NewChecker(ch, cfg.checks, cfg.pattern, cfg.ref)
		if err != nil {
			return nil, fmt.Errorf("rorc: could not configure channel %d: %w", ch, err)
		}
	}

	stats := cfg.stats
	if stats == nil {
		stats = new(Stats)
	}
	stats.Reset(ch)

	c := &Channel{
		id:     ch,
		dev:    dev,
		msg:    cfg.msg,
		win:    newWindow(dev.regs, chanBase(ch)),
		eb:     evts,
		rb:     reps,
		rbSize: uint64(rb.Size()),
		stats:  stats,
		chk:    chk,
		dmp: dumper{
			dir: cfg.dir,
			ch:  ch,
			msg: cfg.msg,
		},
	}

	err = c.program(eb, rb, cfg.maxPld)
	if err != nil {
		return nil, fmt.Errorf("rorc: could not configure channel %d: %w", ch, err)
	}

	dev.chans[ch] = c
	c.msg.Printf(
		"ch=%d: configured (eb=%d bytes, rb=%d descriptors, checks=%v)",
		ch, evts.Size(), reps.Len(), cfg.checks,
	)
	return c, nil
}

func validBuffer(buf Buffer, name string) error {
	if buf == nil || len(buf.Bytes()) == 0 {
		return fmt.Errorf("%s buffer: %w", name, ErrNoBuffer)
	}
	sgl := buf.SGList()
	switch n := len(sgl); {
	case n == 0:
		return fmt.Errorf("%s buffer %d has no scatter-gather entry: %w", name, buf.ID(), ErrNoBuffer)
	case n > maxSGEntries:
		return fmt.Errorf(
			"%s buffer %d has %d scatter-gather entries (max=%d): %w",
			name, buf.ID(), n, maxSGEntries, ErrSGListTooLarge,
		)
	}
	return nil
}
