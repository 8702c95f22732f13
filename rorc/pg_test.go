// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rorc

import (
	"errors"
	"math"
	"testing"
)

func TestPatternGenerator(t *testing.T) {
	tc := newTestChannel(t, 4096, 4)
	base := chanBase(0)

	err := tc.ConfigurePatternGenerator(PGConfig{
		Mode:    PatternToggle,
		Pattern: 0xa5a5a5a5,
		Size:    64,
		Events:  1000,
	})
	if err != nil {
		t.Fatalf("could not configure pattern generator: %+v", err)
	}

	for _, reg := range []struct {
		name string
		off  int64
		want uint32
	}{
		{"ctrl", regPGCtrl, uint32(PatternToggle) << pgCtrlModeOff},
		{"pattern", regPGPattern, 0xa5a5a5a5},
		{"size", regPGSize, 64},
		{"events", regPGNumEvts, 1000},
	} {
		if got := tc.regs.LoadU32(base + reg.off); got != reg.want {
			t.Fatalf("invalid %s register: got=0x%x, want=0x%x", reg.name, got, reg.want)
		}
	}

	err = tc.StartPatternGenerator()
	if err != nil {
		t.Fatalf("could not start pattern generator: %+v", err)
	}
	if got := tc.regs.LoadU32(base + regPGCtrl); got&pgCtrlEnable == 0 {
		t.Fatalf("pattern generator not enabled: ctrl=0x%x", got)
	}

	err = tc.StopPatternGenerator()
	if err != nil {
		t.Fatalf("could not stop pattern generator: %+v", err)
	}
	if got, want := tc.regs.LoadU32(base+regPGCtrl), uint32(PatternToggle)<<pgCtrlModeOff; got != want {
		t.Fatalf("invalid control word: got=0x%x, want=0x%x", got, want)
	}

	err = tc.ConfigurePatternGenerator(PGConfig{Mode: PatternMode(5), Size: 64})
	if !errors.Is(err, ErrPatternMode) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrPatternMode)
	}

	err = tc.ConfigurePatternGenerator(PGConfig{Mode: PatternRamp, Size: 4})
	if err == nil {
		t.Fatalf("expected an error with a too small event")
	}

	tc.regs.fail = true
	err = tc.StartPatternGenerator()
	if err == nil {
		t.Fatalf("expected an error with a failing bus")
	}
}

func TestStats(t *testing.T) {
	var st Stats
	st.Reset(3)
	if st.MinEPI != math.MaxUint64 || st.LastID != -1 || st.Channel != 3 {
		t.Fatalf("invalid reset stats: %+v", st)
	}
	if got, want := st.String(), "ch=3 events=0 bytes=0 epi=[-, 0] offsets=0 errors=0 last-id=-1 index=0"; got != want {
		t.Fatalf("invalid string:\ngot= %q\nwant=%q", got, want)
	}

	st.update(5)
	st.update(2)
	st.update(7)
	if st.MinEPI != 2 || st.MaxEPI != 7 || st.SetOffsetCount != 3 {
		t.Fatalf("invalid epi stats: %+v", st)
	}

	if got, want := StatsSize, 72; got != want {
		t.Fatalf("invalid stats layout size: got=%d, want=%d", got, want)
	}

	mem := make([]byte, StatsSize)
	p, err := statsAt(mem)
	if err != nil {
		t.Fatalf("could not map stats: %+v", err)
	}
	p.Reset(1)
	p.NEvents = 42
	if got := mem[0]; got != 42 {
		t.Fatalf("stats view does not alias memory: got=%d", got)
	}

	_, err = statsAt(mem[:StatsSize-1])
	if err == nil {
		t.Fatalf("expected an error with a too small block")
	}
}
