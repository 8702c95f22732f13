// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rorc

import (
	"fmt"
	"log"
	"time"
)

// Channel is the readout session of a configured DMA channel.
//
// A Channel must be used by a single goroutine.
type Channel struct {
	id  int
	dev *Device
	msg *log.Logger
	win window

	eb     EventRing
	rb     ReportRing
	rbSize uint64 // report buffer size, in bytes

	ctrl   uint32 // DMA control word
	pgCtrl uint32 // pattern generator control word

	stats *Stats
	chk   *Checker // nil when validation is disabled
	dmp   dumper
}

// ID returns the DMA channel index.
func (c *Channel) ID() int { return c.id }

// Stats returns a snapshot of the channel statistics.
func (c *Channel) Stats() Stats { return *c.stats }

// Err returns the first register access error, if any.
func (c *Channel) Err() error { return c.win.err }

// program writes the buffers description into the firmware and
// enables the DMA engine.
func (c *Channel) program(eb, rb Buffer, maxPld uint32) error {
	c.win.writeU32(regDMACtrl, dmaCtrlReset)

	for i, sg := range eb.SGList() {
		c.writeSG(i, sg, 0)
	}
	for i, sg := range rb.SGList() {
		c.writeSG(i, sg, sgCtrlRB)
	}
	c.win.writeU32(regEBNumSG, uint32(len(eb.SGList())))
	c.win.writeU64(regEBSizeL, regEBSizeH, uint64(eb.Size()))
	c.win.writeU32(regRBNumSG, uint32(len(rb.SGList())))
	c.win.writeU64(regRBSizeL, regRBSizeH, uint64(rb.Size()))
	c.win.writeU32(regMaxPld, maxPld)

	// the firmware only writes into cleared report slots.
	c.rb.clear(0, c.rb.Len())

	c.ctrl = dmaCtrlEnable
	c.win.setOffsets(0, 0, c.ctrl)
	return c.win.err
}

func (c *Channel) writeSG(i int, sg SGEntry, flags uint32) {
	c.win.writeU64(regSGAddrL, regSGAddrH, sg.Addr)
	c.win.writeU32(regSGLen, sg.Len)
	c.win.writeU32(regSGCtrl, sgCtrlWrite|flags|uint32(i)&sgCtrlIdxMask)
}

// Poll consumes all the events posted by the firmware since the last
// call, and returns their number.
//
// Events are consumed in ring order, from the cursor up to the first
// slot not yet written by the firmware.
// Consumed report slots are cleared and the new read pointers are
// published to the firmware in a single register write.
// Events failing validation are counted (and possibly dumped to disk)
// but still consumed.
//
// Poll only returns an error when the registers could not be accessed.
func (c *Channel) Poll() (int, error) {
	if c.win.err != nil {
		return 0, c.win.err
	}

	cur := int(c.stats.Index)
	if !c.rb.posted(cur) {
		return 0, nil
	}

	var (
		beg   = cur
		n     = c.rb.Len()
		epi   = 0
		ebOff uint64 // event buffer high-water mark
		rbOff uint64 // report buffer high-water mark
	)
	for epi < n && c.rb.posted(cur) {
		d := c.rb.load(cur)
		if c.chk != nil {
			id, err := c.chk.Check(d, c.eb, cur, c.stats.LastID)
			if err != nil {
				c.stats.ErrorCount++
				c.dmp.dump(d, cur, c.chk.snapshot(), err)
			}
			c.stats.LastID = id
		}
		c.stats.BytesReceived += uint64(d.Words()) << 2

		ebOff = d.Offset
		rbOff = uint64(cur*DescriptorSize) % c.rbSize

		cur = (cur + 1) % n
		c.stats.NEvents++
		epi++
	}
	c.stats.Index = uint64(cur)

	c.rb.clear(beg, epi)
	c.stats.update(uint64(epi))

	c.win.setOffsets(ebOff, rbOff, c.ctrl)
	if c.win.err != nil {
		return epi, fmt.Errorf("rorc: ch=%d: %w", c.id, c.win.err)
	}
	return epi, nil
}

// Close disables the DMA channel and waits for in-flight transfers to
// complete.
func (c *Channel) Close() error {
	if c.dev == nil {
		return nil
	}
	defer func() {
		c.dev.chans[c.id] = nil
		c.dev = nil
	}()

	c.ctrl &^= dmaCtrlEnable
	c.win.writeU32(regDMACtrl, c.ctrl)

	const (
		retries = 100
		delay   = 10 * time.Microsecond
	)
	for i := 0; i < retries; i++ {
		v := c.win.readU32(regDMACtrl)
		if c.win.err != nil {
			return fmt.Errorf("rorc: could not disable channel %d: %w", c.id, c.win.err)
		}
		if v&dmaCtrlBusy == 0 {
			c.msg.Printf("ch=%d: closed (%v)", c.id, c.stats)
			return nil
		}
		time.Sleep(delay)
	}
	return fmt.Errorf("rorc: channel %d still busy after %v", c.id, retries*delay)
}
