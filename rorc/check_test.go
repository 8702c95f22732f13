// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rorc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCheckString(t *testing.T) {
	for _, tc := range []struct {
		chk  Check
		want string
	}{
		{ChkNone, "none"},
		{ChkSizes, "sizes"},
		{ChkSizes | ChkSOE, "sizes|soe"},
		{ChkAll, "sizes|soe|pattern|file|eoe|id"},
		{ChkEOE | 1<<10, "eoe|0x400"},
	} {
		t.Run(tc.want, func(t *testing.T) {
			if got, want := tc.chk.String(), tc.want; got != want {
				t.Fatalf("invalid string: got=%q, want=%q", got, want)
			}
		})
	}
}

func TestParseCheck(t *testing.T) {
	for _, tc := range []struct {
		str  string
		want Check
		err  bool
	}{
		{"", ChkNone, false},
		{"none", ChkNone, false},
		{"sizes", ChkSizes, false},
		{"sizes,soe", ChkSizes | ChkSOE, false},
		{"SOE|eoe", ChkSOE | ChkEOE, false},
		{"all", ChkAll, false},
		{"sizes, id", ChkSizes | ChkID, false},
		{"sizes,crc", 0, true},
	} {
		t.Run(tc.str, func(t *testing.T) {
			got, err := ParseCheck(tc.str)
			switch {
			case err != nil && !tc.err:
				t.Fatalf("could not parse %q: %+v", tc.str, err)
			case err == nil && tc.err:
				t.Fatalf("expected an error parsing %q", tc.str)
			case err != nil:
				return
			}
			if got != tc.want {
				t.Fatalf("invalid check: got=%v, want=%v", got, tc.want)
			}

			rt, err := ParseCheck(got.String())
			if err != nil {
				t.Fatalf("could not parse back %q: %+v", got.String(), err)
			}
			if rt != got {
				t.Fatalf("invalid round-trip: got=%v, want=%v", rt, got)
			}
		})
	}
}

func TestParsePattern(t *testing.T) {
	for _, p := range []PatternMode{PatternRamp, PatternShift, PatternToggle, PatternConstant} {
		got, err := ParsePattern(p.String())
		if err != nil {
			t.Fatalf("could not parse %v: %+v", p, err)
		}
		if got != p {
			t.Fatalf("invalid pattern: got=%v, want=%v", got, p)
		}
	}

	_, err := ParsePattern("sawtooth")
	if !errors.Is(err, ErrPatternMode) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrPatternMode)
	}
}

func TestNewChecker(t *testing.T) {
	_, err := NewChecker(0, ChkPattern, PatternMode(7), nil)
	if !errors.Is(err, ErrPatternMode) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrPatternMode)
	}

	_, err = NewChecker(0, ChkFile, PatternRamp, nil)
	if !errors.Is(err, ErrNoReference) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrNoReference)
	}

	chk, err := NewChecker(0, ChkSizes|ChkFile, PatternRamp, []uint32{1})
	if err != nil {
		t.Fatalf("could not create checker: %+v", err)
	}
	if got, want := chk.Mask(), ChkSizes|ChkFile; got != want {
		t.Fatalf("invalid mask: got=%v, want=%v", got, want)
	}
}

// checkEvent validates one event written at the start of a fresh
// event ring.
func checkEvent(t *testing.T, chk *Checker, d Descriptor, evt []uint32, last int64) (int64, error) {
	t.Helper()
	mem := make([]byte, 4096)
	putEvent(mem, d.Offset, evt)
	eb, err := NewEventRing(mem)
	if err != nil {
		t.Fatalf("could not create event ring: %+v", err)
	}
	return chk.Check(d, eb, 3, last)
}

func failedCheck(err error) Check {
	var cerr *CheckError
	if errors.As(err, &cerr) {
		return cerr.Check
	}
	return ChkNone
}

func TestChecker(t *testing.T) {
	const (
		size = 16
		id   = 0x123456789
	)
	var (
		valid = func() []uint32 { return rampEvent(id, size) }
		desc  = Descriptor{ReportedSize: size, CalcSize: size}
		all   = ChkSizes | ChkSOE | ChkPattern | ChkEOE | ChkID
	)

	for _, tc := range []struct {
		name string
		mask Check
		mode PatternMode
		desc Descriptor
		evt  func() []uint32
		last int64
		want Check // failed check, ChkNone if valid
	}{
		{
			name: "valid",
			mask: all,
			desc: desc,
			evt:  valid,
			last: id - 1,
		},
		{
			name: "valid-first-event",
			mask: all,
			desc: desc,
			evt:  valid,
			last: -1,
		},
		{
			name: "no-checks",
			mask: ChkNone,
			desc: Descriptor{ReportedSize: 3, CalcSize: 1<<31 | size},
			evt:  func() []uint32 { return make([]uint32, size+4) },
			last: 42,
		},
		{
			name: "timeout",
			mask: all,
			desc: Descriptor{ReportedSize: size, CalcSize: 1<<31 | size},
			evt:  valid,
			last: -1,
			want: ChkSizes,
		},
		{
			name: "size-mismatch",
			mask: all,
			desc: Descriptor{ReportedSize: size + 1, CalcSize: size},
			evt:  valid,
			last: -1,
			want: ChkSizes,
		},
		{
			name: "reserved-bits-ignored",
			mask: ChkSizes,
			desc: Descriptor{ReportedSize: 3<<30 | size, CalcSize: size},
			evt:  valid,
			last: -1,
		},
		{
			name: "size-mismatch-short-circuits-soe",
			mask: all,
			desc: Descriptor{ReportedSize: size - 1, CalcSize: size},
			evt: func() []uint32 {
				evt := valid()
				evt[0] = 0
				return evt
			},
			last: -1,
			want: ChkSizes,
		},
		{
			name: "soe",
			mask: all,
			desc: desc,
			evt: func() []uint32 {
				evt := valid()
				evt[0] = 0xfffffffe
				return evt
			},
			last: -1,
			want: ChkSOE,
		},
		{
			name: "pattern",
			mask: all,
			desc: desc,
			evt: func() []uint32 {
				evt := valid()
				evt[12]++
				return evt
			},
			last: -1,
			want: ChkPattern,
		},
		{
			name: "pattern-mode",
			mask: ChkPattern,
			mode: PatternToggle,
			desc: desc,
			evt:  valid,
			last: -1,
			want: ChkPattern,
		},
		{
			name: "pattern-before-eoe",
			mask: all,
			desc: desc,
			evt: func() []uint32 {
				evt := valid()
				evt[9] = 0
				evt[size] = 0
				return evt
			},
			last: -1,
			want: ChkPattern,
		},
		{
			name: "eoe",
			mask: all,
			desc: desc,
			evt: func() []uint32 {
				evt := valid()
				evt[size] = size + 1
				return evt
			},
			last: -1,
			want: ChkEOE,
		},
		{
			name: "eoe-disabled",
			mask: ChkSizes | ChkSOE | ChkPattern,
			desc: desc,
			evt: func() []uint32 {
				evt := valid()
				evt[size] = 0
				return evt
			},
			last: -1,
		},
		{
			name: "id-gap",
			mask: all,
			desc: desc,
			evt:  valid,
			last: id - 2,
			want: ChkID,
		},
		{
			name: "id-disabled",
			mask: ChkSizes | ChkSOE,
			desc: desc,
			evt:  valid,
			last: id - 2,
		},
		{
			name: "id-wraps",
			mask: ChkID,
			desc: desc,
			evt:  func() []uint32 { return rampEvent(0, size) },
			last: 1<<36 - 1,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			chk, err := NewChecker(2, tc.mask, tc.mode, nil)
			if err != nil {
				t.Fatalf("could not create checker: %+v", err)
			}
			got, err := checkEvent(t, chk, tc.desc, tc.evt(), tc.last)
			if fail := failedCheck(err); fail != tc.want {
				t.Fatalf("invalid check result: got=%v, want=%v (err=%v)", fail, tc.want, err)
			}
			if err != nil {
				var cerr *CheckError
				_ = errors.As(err, &cerr)
				if cerr.Channel != 2 || cerr.Slot != 3 {
					t.Fatalf("invalid error location: ch=%d, slot=%d", cerr.Channel, cerr.Slot)
				}
			}

			if tc.name == "no-checks" {
				if got != 0 {
					t.Fatalf("invalid id: got=%d, want=0", got)
				}
				return
			}
			want := int64(id)
			if tc.name == "id-wraps" {
				want = 0
			}
			if got != want {
				t.Fatalf("invalid id: got=0x%x, want=0x%x", got, want)
			}
		})
	}
}

func TestCheckerSnapshotSize(t *testing.T) {
	const reported = 16
	mem := make([]byte, 1<<20)
	putEvent(mem, 0, rampEvent(7, reported))
	eb, err := NewEventRing(mem)
	if err != nil {
		t.Fatalf("could not create event ring: %+v", err)
	}

	for _, tc := range []struct {
		name string
		mask Check
		calc uint32
		want Check
	}{
		{"huge-size", ChkSizes, 0x3ffffff0, ChkSizes},
		{"huge-size-timeout", ChkSizes, 1<<31 | 0x3ffffff0, ChkSizes},
		{"timeout", ChkSizes, 1<<31 | reported, ChkSizes},
		{"huge-size-eoe", ChkEOE, 0x3ffffff0, ChkEOE},
		{"huge-size-pattern", ChkPattern, 0x3ffffff0, ChkPattern},
	} {
		t.Run(tc.name, func(t *testing.T) {
			chk, err := NewChecker(0, tc.mask, PatternRamp, nil)
			if err != nil {
				t.Fatalf("could not create checker: %+v", err)
			}
			d := Descriptor{ReportedSize: reported, CalcSize: tc.calc}
			id, err := chk.Check(d, eb, 0, -1)
			if fail := failedCheck(err); fail != tc.want {
				t.Fatalf("invalid check result: got=%v, want=%v (err=%v)", fail, tc.want, err)
			}
			if id != 7 {
				t.Fatalf("invalid id: got=%d, want=7", id)
			}
			if got, limit := len(chk.snapshot()), reported+4; got > limit {
				t.Fatalf("invalid snapshot size: got=%d words, want<=%d", got, limit)
			}
		})
	}
}

func TestCheckerFile(t *testing.T) {
	const size = 16
	evt := rampEvent(7, size)
	ref := append([]uint32(nil), evt[:size]...)
	desc := Descriptor{ReportedSize: size, CalcSize: size}

	chk, err := NewChecker(0, ChkFile, PatternRamp, ref)
	if err != nil {
		t.Fatalf("could not create checker: %+v", err)
	}

	_, err = checkEvent(t, chk, desc, evt, -1)
	if err != nil {
		t.Fatalf("invalid reference check: %+v", err)
	}

	bad := append([]uint32(nil), evt...)
	bad[5] = 0xdead
	_, err = checkEvent(t, chk, desc, bad, -1)
	var cerr *CheckError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected a check error, got %+v", err)
	}
	if cerr.Check != ChkFile || cerr.Word != 5 {
		t.Fatalf("invalid check error: %+v", cerr)
	}

	short := Descriptor{ReportedSize: size - 1, CalcSize: size - 1}
	_, err = checkEvent(t, chk, short, evt, -1)
	if got := failedCheck(err); got != ChkFile {
		t.Fatalf("invalid check result: got=%v, want=%v", got, ChkFile)
	}
}

func TestCheckerWrap(t *testing.T) {
	const size = 32
	mem := make([]byte, 256)
	eb, err := NewEventRing(mem)
	if err != nil {
		t.Fatalf("could not create event ring: %+v", err)
	}

	off := uint64(len(mem) - 40)
	putEvent(mem, off, rampEvent(99, size))

	chk, err := NewChecker(0, ChkSizes|ChkSOE|ChkPattern|ChkEOE|ChkID, PatternRamp, nil)
	if err != nil {
		t.Fatalf("could not create checker: %+v", err)
	}
	d := Descriptor{ReportedSize: size, CalcSize: size, Offset: off}
	id, err := chk.Check(d, eb, 0, 98)
	if err != nil {
		t.Fatalf("could not validate wrapping event: %+v", err)
	}
	if id != 99 {
		t.Fatalf("invalid id: got=%d, want=99", id)
	}
}

func TestLoadReference(t *testing.T) {
	raw := make([]byte, 12)
	binary.LittleEndian.PutUint32(raw[0:], 0xffffffff)
	binary.LittleEndian.PutUint32(raw[4:], 1)
	binary.LittleEndian.PutUint32(raw[8:], 0xcafe)

	ref, err := LoadReference(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("could not load reference: %+v", err)
	}
	if got, want := ref, []uint32{0xffffffff, 1, 0xcafe}; !equalWords(got, want) {
		t.Fatalf("invalid reference: got=%x, want=%x", got, want)
	}

	_, err = LoadReference(bytes.NewReader(raw[:10]))
	if err == nil {
		t.Fatalf("expected an error on a truncated reference")
	}

	_, err = LoadReference(bytes.NewReader(nil))
	if !errors.Is(err, ErrNoReference) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrNoReference)
	}

	fname := filepath.Join(t.TempDir(), "ref.ddl")
	err = os.WriteFile(fname, raw, 0644)
	if err != nil {
		t.Fatalf("could not create reference file: %+v", err)
	}
	ref, err = LoadReferenceFile(fname)
	if err != nil {
		t.Fatalf("could not load reference file: %+v", err)
	}
	if len(ref) != 3 {
		t.Fatalf("invalid reference length: got=%d, want=3", len(ref))
	}

	_, err = LoadReferenceFile(filepath.Join(t.TempDir(), "missing.ddl"))
	if err == nil {
		t.Fatalf("expected an error on a missing reference file")
	}
}

func equalWords(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
