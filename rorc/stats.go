// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rorc

import (
	"fmt"
	"math"
	"unsafe"
)

// Stats holds the statistics of a DMA channel.
//
// Its layout is fixed: it may be shared with monitoring processes
// through a shared memory block.
type Stats struct {
	NEvents        uint64 // number of events received
	BytesReceived  uint64 // number of payload bytes received
	MinEPI         uint64 // minimum number of events per poll iteration
	MaxEPI         uint64 // maximum number of events per poll iteration
	Index          uint64 // report-buffer cursor
	SetOffsetCount uint64 // number of read pointer updates
	ErrorCount     uint64 // number of events failing validation
	LastID         int64  // ID of the last event, -1 if undefined
	Channel        uint32 // DMA channel
	_              uint32
}

// StatsSize is the size in bytes of the Stats layout.
const StatsSize = int(unsafe.Sizeof(Stats{}))

// Reset zeroes the statistics of channel ch.
func (st *Stats) Reset(ch int) {
	*st = Stats{
		MinEPI:  math.MaxUint64,
		LastID:  -1,
		Channel: uint32(ch),
	}
}

// update records a poll iteration that consumed epi events.
func (st *Stats) update(epi uint64) {
	st.MinEPI = min(st.MinEPI, epi)
	st.MaxEPI = max(st.MaxEPI, epi)
	st.SetOffsetCount++
}

func (st Stats) String() string {
	minEPI := "-"
	if st.MinEPI != math.MaxUint64 {
		minEPI = fmt.Sprintf("%d", st.MinEPI)
	}
	return fmt.Sprintf(
		"ch=%d events=%d bytes=%d epi=[%s, %d] offsets=%d errors=%d last-id=%d index=%d",
		st.Channel, st.NEvents, st.BytesReceived, minEPI, st.MaxEPI,
		st.SetOffsetCount, st.ErrorCount, st.LastID, st.Index,
	)
}

// statsAt returns a Stats view over the provided memory.
func statsAt(mem []byte) (*Stats, error) {
	if len(mem) < StatsSize {
		return nil, fmt.Errorf("rorc: stats block too small (%d < %d)", len(mem), StatsSize)
	}
	if uintptr(unsafe.Pointer(&mem[0]))%8 != 0 {
		return nil, fmt.Errorf("rorc: misaligned stats block")
	}
	return (*Stats)(unsafe.Pointer(&mem[0])), nil
}
