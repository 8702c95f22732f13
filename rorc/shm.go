// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rorc

import (
	"fmt"
	"os"

	"github.com/fabiokung/shm"
	"golang.org/x/sys/unix"

	"github.com/go-lpc/crorc/internal/mmap"
)

// SharedStatsKey returns the key of the shared statistics block of
// channel ch of device dev.
func SharedStatsKey(dev, ch int) int {
	return 0x2000 + dev*0x100 + ch
}

// SharedStatsName returns the name of the POSIX shared memory object
// holding the statistics of channel ch of device dev.
func SharedStatsName(dev, ch int) string {
	return fmt.Sprintf("/crorc_stats_%d", SharedStatsKey(dev, ch))
}

// SharedStats is a channel statistics block living in shared memory.
// The readout process creates it and accumulates into it, monitoring
// processes open it read-only.
type SharedStats struct {
	name string
	h    *mmap.Handle
	st   *Stats
}

// CreateSharedStats creates (or reuses) the shared statistics block of
// channel ch of device dev.
func CreateSharedStats(dev, ch int) (*SharedStats, error) {
	name := SharedStatsName(dev, ch)
	f, err := shm.Open(name, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("rorc: could not create shared stats %q: %w", name, err)
	}
	defer f.Close()

	err = unix.Ftruncate(int(f.Fd()), int64(StatsSize))
	if err != nil {
		return nil, fmt.Errorf("rorc: could not resize shared stats %q: %w", name, err)
	}

	return mapSharedStats(name, f, true)
}

// OpenSharedStats opens, read-only, the shared statistics block of
// channel ch of device dev.
func OpenSharedStats(dev, ch int) (*SharedStats, error) {
	name := SharedStatsName(dev, ch)
	f, err := shm.Open(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("rorc: could not open shared stats %q: %w", name, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("rorc: could not stat shared stats %q: %w", name, err)
	}
	if fi.Size() < int64(StatsSize) {
		return nil, fmt.Errorf("rorc: shared stats %q too small (%d bytes)", name, fi.Size())
	}

	return mapSharedStats(name, f, false)
}

func mapSharedStats(name string, f *os.File, writable bool) (*SharedStats, error) {
	h, err := mmap.Map(f, StatsSize, writable)
	if err != nil {
		return nil, fmt.Errorf("rorc: could not map shared stats %q: %w", name, err)
	}
	st, err := statsAt(h.Bytes())
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("rorc: invalid shared stats %q: %w", name, err)
	}
	return &SharedStats{name: name, h: h, st: st}, nil
}

// Name returns the name of the shared memory object.
func (s *SharedStats) Name() string { return s.name }

// Stats returns the shared block, to be passed to WithStats.
// Only the readout process may modify it.
func (s *SharedStats) Stats() *Stats { return s.st }

// Snapshot returns a copy of the current statistics.
func (s *SharedStats) Snapshot() Stats { return *s.st }

// Close unmaps the shared block.
func (s *SharedStats) Close() error {
	s.st = nil
	return s.h.Close()
}

// Unlink removes the shared memory object.
// Processes still mapping it keep their view.
func (s *SharedStats) Unlink() error {
	err := shm.Unlink(s.name)
	if err != nil {
		return fmt.Errorf("rorc: could not unlink shared stats %q: %w", s.name, err)
	}
	return nil
}
