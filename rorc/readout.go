// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rorc

import (
	"context"
	"fmt"
	"time"
)

// DefaultIdle is the pause between two sweeps that found no event.
const DefaultIdle = 100 * time.Microsecond

// Readout polls a set of DMA channels until stopped.
type Readout struct {
	chans []*Channel
	idle  time.Duration
	sweep func(n int) error
}

// ReadoutOption configures a Readout.
type ReadoutOption func(*Readout)

// WithIdle sets the pause between two sweeps that found no event.
// The pause must be short enough for the report buffers not to fill up.
func WithIdle(d time.Duration) ReadoutOption {
	return func(rdo *Readout) {
		rdo.idle = d
	}
}

// WithSweepFunc sets a function called after each sweep over all the
// channels, with the number of events consumed during that sweep.
// A non-nil error stops the readout.
func WithSweepFunc(f func(n int) error) ReadoutOption {
	return func(rdo *Readout) {
		rdo.sweep = f
	}
}

// NewReadout creates a readout loop over the provided channels.
func NewReadout(chans []*Channel, opts ...ReadoutOption) *Readout {
	rdo := &Readout{
		chans: chans,
		idle:  DefaultIdle,
	}
	for _, opt := range opts {
		opt(rdo)
	}
	return rdo
}

// Run polls all the channels in turn until ctx is canceled.
// Cancellation is checked once per sweep, so a sweep in progress always
// runs to completion.
// Run returns nil when ctx is canceled, and the first register access
// error otherwise.
func (rdo *Readout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := rdo.Sweep()
		if err != nil {
			return err
		}

		if rdo.sweep != nil {
			err = rdo.sweep(n)
			if err != nil {
				return fmt.Errorf("rorc: sweep callback failed: %w", err)
			}
		}

		if n == 0 {
			time.Sleep(rdo.idle)
		}
	}
}

// Sweep polls each channel once and returns the total number of
// consumed events.
func (rdo *Readout) Sweep() (int, error) {
	tot := 0
	for _, c := range rdo.chans {
		n, err := c.Poll()
		tot += n
		if err != nil {
			return tot, err
		}
	}
	return tot, nil
}
