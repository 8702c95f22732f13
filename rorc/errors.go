// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rorc

import (
	"errors"
	"fmt"
)

// Configuration errors.
// They are returned, wrapped, by Device.ConfigureChannel and NewChecker.
var (
	ErrNoBuffer       = errors.New("rorc: buffer not initialized")
	ErrSGListTooLarge = errors.New("rorc: scatter-gather list too large")
	ErrRingSize       = errors.New("rorc: invalid ring size")
	ErrPatternMode    = errors.New("rorc: unknown pattern mode")
	ErrNoReference    = errors.New("rorc: no reference event")
	ErrChannel        = errors.New("rorc: invalid DMA channel")
)

// CheckError describes an event that failed validation.
type CheckError struct {
	Check   Check  // the check that failed
	Channel int    // DMA channel
	Slot    int    // report-buffer slot of the event
	Word    int    // index of the offending word, or -1
	Got     uint64 // offending value
	Want    uint64 // expected value
}

func (e *CheckError) Error() string {
	if e.Word < 0 {
		return fmt.Sprintf(
			"rorc: ch=%d slot=%d: %s check failed (got=0x%x, want=0x%x)",
			e.Channel, e.Slot, e.Check, e.Got, e.Want,
		)
	}
	return fmt.Sprintf(
		"rorc: ch=%d slot=%d: %s check failed at word %d (got=0x%x, want=0x%x)",
		e.Channel, e.Slot, e.Check, e.Word, e.Got, e.Want,
	)
}
