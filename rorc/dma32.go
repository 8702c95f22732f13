// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !crorc_dma128

package rorc

// DMAWordBits is the width of the firmware DMA words.
const DMAWordBits = 32

// trailerEnd returns the number of 32b words spanned by an event of
// the provided size, including its trailer.
func trailerEnd(words uint32) int { return int(words) + 1 }

// checkTrailer checks the word following the payload echoes the reported
// event size.
func checkTrailer(evt []uint32, sz sizeInfo) (int, uint32, uint32, bool) {
	i := int(sz.words)
	if i >= len(evt) {
		return i, 0, sz.reported, false
	}
	return i, evt[i], sz.reported, evt[i] == sz.reported
}

// AppendTrailer appends the firmware end-of-event trailer of an event
// with the provided reported and calculated sizes to evt.
func AppendTrailer(evt []uint32, reported, calc uint32) []uint32 {
	return append(evt, reported)
}
