// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build crorc_dma128

package rorc

// DMAWordBits is the width of the firmware DMA words.
const DMAWordBits = 128

func roundup4(v int) int { return (v + 3) &^ 3 }

// trailerEnd returns the number of 32b words spanned by an event of
// the provided size, up to the reported size echo of its trailer.
// The trailer starts on the next 128b boundary.
func trailerEnd(words uint32) int { return roundup4(int(words)) + 1 }

// checkTrailer checks the word following the 128b-aligned payload
// echoes the reported event size, and the next one, when captured,
// the calculated size.
func checkTrailer(evt []uint32, sz sizeInfo) (int, uint32, uint32, bool) {
	i := roundup4(int(sz.words))
	switch {
	case i >= len(evt):
		return i, 0, sz.reported, false
	case evt[i] != sz.reported:
		return i, evt[i], sz.reported, false
	case i+1 < len(evt) && evt[i+1] != sz.words:
		return i + 1, evt[i+1], sz.words, false
	}
	return i, evt[i], sz.reported, true
}

// AppendTrailer appends the firmware end-of-event trailer of an event
// with the provided reported and calculated sizes to evt.
// The payload is padded to the next 128b boundary and the trailer
// occupies a full 128b DMA word.
func AppendTrailer(evt []uint32, reported, calc uint32) []uint32 {
	for len(evt)%4 != 0 {
		evt = append(evt, 0)
	}
	return append(evt, reported, calc, 0, 0)
}
