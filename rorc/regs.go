// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rorc

// device-level registers, relative to the start of BAR1.
const (
	regTypeChannels int64 = 0x00 // firmware type (31:16) | number of DMA channels (15:0)
	regFwDate       int64 = 0x04 // firmware build date (0xYYYYMMDD)
	regFwRevision   int64 = 0x08 // firmware revision
	regUptime       int64 = 0x0c // uptime, in 8ns ticks
)

// per-channel registers, relative to the channel window.
// The channel window of DMA channel ch starts at (ch+1)*chanStride.
const (
	chanStride int64 = 0x100

	regEBNumSG  int64 = 0x00 // event buffer: number of scatter-gather entries
	regEBSizeL  int64 = 0x04 // event buffer: size in bytes (31:0)
	regEBSizeH  int64 = 0x08 // event buffer: size in bytes (63:32)
	regRBNumSG  int64 = 0x0c // report buffer: number of scatter-gather entries
	regRBSizeL  int64 = 0x10 // report buffer: size in bytes (31:0)
	regRBSizeH  int64 = 0x14 // report buffer: size in bytes (63:32)
	regEBReadL  int64 = 0x18 // event buffer: software read pointer (31:0)
	regEBReadH  int64 = 0x1c // event buffer: software read pointer (63:32)
	regRBReadL  int64 = 0x20 // report buffer: software read pointer (31:0)
	regRBReadH  int64 = 0x24 // report buffer: software read pointer (63:32)
	regDMACtrl  int64 = 0x28 // DMA control word
	regEBWriteL int64 = 0x2c // event buffer: firmware write pointer (31:0)
	regEBWriteH int64 = 0x30 // event buffer: firmware write pointer (63:32)
	regRBWriteL int64 = 0x34 // report buffer: firmware write pointer (31:0)
	regRBWriteH int64 = 0x38 // report buffer: firmware write pointer (63:32)
	regMaxPld   int64 = 0x3c // max DMA payload, in bytes

	regSGAddrL int64 = 0x40 // scatter-gather entry: bus address (31:0)
	regSGAddrH int64 = 0x44 // scatter-gather entry: bus address (63:32)
	regSGLen   int64 = 0x48 // scatter-gather entry: length in bytes
	regSGCtrl  int64 = 0x4c // scatter-gather entry: control (see sgCtrl*)

	regPGCtrl    int64 = 0x60 // pattern generator: control
	regPGPattern int64 = 0x64 // pattern generator: initial pattern
	regPGSize    int64 = 0x68 // pattern generator: event size, in words
	regPGNumEvts int64 = 0x6c // pattern generator: number of events (0: continuous)

	// the software read pointers and the DMA control word are contiguous,
	// so they can be published with a single block write.
	pubBlockSize = regDMACtrl + 4 - regEBReadL
)

const (
	dmaCtrlEnable   uint32 = 1 << 0  // enable DMA engine
	dmaCtrlBusy     uint32 = 1 << 1  // DMA transfer in flight (read-only)
	dmaCtrlReset    uint32 = 1 << 2  // reset firmware pointers
	dmaCtrlSyncPtrs uint32 = 1 << 31 // latch the software read pointers

	sgCtrlWrite    uint32 = 1 << 31 // strobe: write entry into descriptor RAM
	sgCtrlRB       uint32 = 1 << 30 // entry targets the report buffer RAM
	sgCtrlIdxMask  uint32 = 0xffff
	defaultMaxPld  uint32 = 256
	pgCtrlEnable   uint32 = 1 << 0
	pgCtrlModeMask uint32 = 0x7
	pgCtrlModeOff         = 4
)
