// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rorc

import (
	"log"
	"os"
)

type config struct {
	msg *log.Logger

	checks  Check
	pattern PatternMode
	ref     []uint32
	dir     string // dump directory
	stats   *Stats // external statistics block
	maxPld  uint32
}

func newConfig() config {
	return config{
		msg:     log.New(os.Stdout, "rorc: ", 0),
		pattern: PatternRamp,
		maxPld:  defaultMaxPld,
	}
}

// Option configures a device or a DMA channel.
// Options passed to Open or NewDevice are the defaults of all the
// channels of the device.
type Option func(*config)

// WithLogger sets the logger.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithChecks sets the validations run on each received event.
// Validation is disabled with ChkNone.
func WithChecks(chk Check) Option {
	return func(cfg *config) {
		cfg.checks = chk
	}
}

// WithPattern sets the expected pattern generator mode.
func WithPattern(mode PatternMode) Option {
	return func(cfg *config) {
		cfg.pattern = mode
	}
}

// WithReference sets the reference event used by ChkFile.
func WithReference(ref []uint32) Option {
	return func(cfg *config) {
		cfg.ref = ref
	}
}

// WithDumpDir sets the directory where events failing validation are
// dumped. Dumps are disabled when dir is empty.
func WithDumpDir(dir string) Option {
	return func(cfg *config) {
		cfg.dir = dir
	}
}

// WithStats sets the block where channel statistics are accumulated,
// e.g. a shared memory block.
// WithStats is a per-channel option: it is ignored by NewDevice and Open.
func WithStats(st *Stats) Option {
	return func(cfg *config) {
		cfg.stats = st
	}
}

// WithMaxPayload sets the maximum DMA payload size, in bytes.
func WithMaxPayload(n uint32) Option {
	return func(cfg *config) {
		cfg.maxPld = n
	}
}
