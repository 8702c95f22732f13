// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rorc drives the DMA channels of a C-RORC readout receiver card.
//
// Each DMA channel owns two ring buffers: an event buffer, where the
// firmware writes variable-length event records, and a report buffer,
// where it posts one fixed-size descriptor per event.
// Software polls the report buffer for non-zero descriptors, validates
// the events they point to, clears the consumed slots and publishes the
// new read pointers back to the firmware.
package rorc // import "github.com/go-lpc/crorc/rorc"

const (
	maxChannels  = 12   // DMA channels of a fully populated C-RORC
	maxSGEntries = 2048 // scatter-gather entries per buffer in descriptor RAM
	maxDumps     = 100  // diagnostic dumps per channel
)
