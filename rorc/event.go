// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rorc

import (
	"encoding/binary"
	"fmt"
)

// EventRing is the circular event buffer of a DMA channel.
// Events are addressed by the byte offsets carried by their descriptors
// and may wrap around the end of the buffer.
type EventRing struct {
	buf []byte
}

// NewEventRing creates an event ring over the provided memory, whose
// size must be a non-zero multiple of 4 bytes.
func NewEventRing(mem []byte) (EventRing, error) {
	if len(mem) == 0 || len(mem)%4 != 0 {
		return EventRing{}, fmt.Errorf(
			"rorc: event buffer size %d is not a multiple of 4: %w",
			len(mem), ErrRingSize,
		)
	}
	return EventRing{buf: mem}, nil
}

// Size returns the size of the ring, in bytes.
func (r EventRing) Size() int { return len(r.buf) }

// Words returns the capacity of the ring, in 32b words.
func (r EventRing) Words() int { return len(r.buf) / 4 }

// read copies len(dst) little-endian 32b words starting at byte offset off
// into dst, wrapping around the end of the ring.
func (r EventRing) read(dst []uint32, off uint64) {
	pos := int(off % uint64(len(r.buf)))
	pos &^= 3
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint32(r.buf[pos:])
		pos += 4
		if pos == len(r.buf) {
			pos = 0
		}
	}
}

