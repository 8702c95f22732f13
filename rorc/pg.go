// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rorc

import (
	"fmt"
)

// PGConfig configures the pattern generator of a DMA channel.
type PGConfig struct {
	Mode    PatternMode
	Pattern uint32 // initial pattern (shift, toggle and constant modes)
	Size    uint32 // event size, in 32b words, header included
	Events  uint32 // number of events to generate, 0 for continuous
}

// ConfigurePatternGenerator stops the pattern generator of the channel
// and programs it with the provided configuration.
func (c *Channel) ConfigurePatternGenerator(cfg PGConfig) error {
	if !cfg.Mode.valid() {
		return fmt.Errorf("rorc: ch=%d: could not configure pattern generator: %v: %w", c.id, cfg.Mode, ErrPatternMode)
	}
	if cfg.Size <= cdhWords || cfg.Size > sizeMask {
		return fmt.Errorf("rorc: ch=%d: invalid pattern generator event size %d", c.id, cfg.Size)
	}

	c.pgCtrl = (uint32(cfg.Mode) & pgCtrlModeMask) << pgCtrlModeOff
	c.win.writeU32(regPGCtrl, c.pgCtrl)
	c.win.writeU32(regPGPattern, cfg.Pattern)
	c.win.writeU32(regPGSize, cfg.Size)
	c.win.writeU32(regPGNumEvts, cfg.Events)
	if c.win.err != nil {
		return fmt.Errorf("rorc: ch=%d: could not configure pattern generator: %w", c.id, c.win.err)
	}
	return nil
}

// StartPatternGenerator enables the pattern generator.
func (c *Channel) StartPatternGenerator() error {
	c.win.writeU32(regPGCtrl, c.pgCtrl|pgCtrlEnable)
	if c.win.err != nil {
		return fmt.Errorf("rorc: ch=%d: could not start pattern generator: %w", c.id, c.win.err)
	}
	return nil
}

// StopPatternGenerator disables the pattern generator.
func (c *Channel) StopPatternGenerator() error {
	c.win.writeU32(regPGCtrl, c.pgCtrl&^pgCtrlEnable)
	if c.win.err != nil {
		return fmt.Errorf("rorc: ch=%d: could not stop pattern generator: %w", c.id, c.win.err)
	}
	return nil
}
