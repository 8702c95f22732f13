// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rorc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Check is a set of event validations.
type Check uint32

const (
	ChkSizes   Check = 1 << iota // calculated and reported sizes match, no timeout
	ChkSOE                       // start-of-event marker
	ChkPattern                   // payload follows the pattern generator
	ChkFile                      // payload matches a reference event
	ChkEOE                       // end-of-event trailer echoes the reported size
	ChkID                        // event IDs are contiguous

	ChkNone Check = 0
	ChkAll        = ChkSizes | ChkSOE | ChkPattern | ChkFile | ChkEOE | ChkID
)

var checkNames = []struct {
	chk  Check
	name string
}{
	{ChkSizes, "sizes"},
	{ChkSOE, "soe"},
	{ChkPattern, "pattern"},
	{ChkFile, "file"},
	{ChkEOE, "eoe"},
	{ChkID, "id"},
}

func (c Check) String() string {
	if c == ChkNone {
		return "none"
	}
	var names []string
	for _, v := range checkNames {
		if c&v.chk != 0 {
			names = append(names, v.name)
			c &^= v.chk
		}
	}
	if c != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(c)))
	}
	return strings.Join(names, "|")
}

// ParseCheck parses a comma or pipe separated list of check names,
// as returned by Check.String.
func ParseCheck(s string) (Check, error) {
	var chk Check
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '|' || r == ' '
	}) {
		switch tok = strings.ToLower(tok); tok {
		case "none":
		case "all":
			chk |= ChkAll
		default:
			found := false
			for _, v := range checkNames {
				if v.name == tok {
					chk |= v.chk
					found = true
					break
				}
			}
			if !found {
				return 0, fmt.Errorf("rorc: unknown check %q", tok)
			}
		}
	}
	return chk, nil
}

// PatternMode is a pattern generator mode.
type PatternMode uint8

const (
	PatternRamp     PatternMode = iota // incrementing words
	PatternShift                       // walking bit
	PatternToggle                      // alternating pattern and its complement
	PatternConstant                    // constant pattern
)

func (p PatternMode) String() string {
	switch p {
	case PatternRamp:
		return "ramp"
	case PatternShift:
		return "shift"
	case PatternToggle:
		return "toggle"
	case PatternConstant:
		return "constant"
	default:
		return fmt.Sprintf("PatternMode(%d)", uint8(p))
	}
}

func (p PatternMode) valid() bool { return p <= PatternConstant }

// ParsePattern returns the pattern mode with the provided name.
func ParsePattern(s string) (PatternMode, error) {
	for p := PatternRamp; p.valid(); p++ {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("rorc: %q: %w", s, ErrPatternMode)
}

const (
	soeMarker  = 0xffffffff
	cdhWords   = 8 // common data header, in 32b words
	idBits     = 36
	idMask     = 1<<idBits - 1
	idLowMask  = 0xfff    // ID bits 11:0, in header word 1
	idHighMask = 0xffffff // ID bits 35:12, in header word 2
)

// eventID decodes the 36b event ID from the common data header.
func eventID(w1, w2 uint32) int64 {
	return int64(w2&idHighMask)<<12 | int64(w1&idLowMask)
}

// Checker validates events of one DMA channel.
type Checker struct {
	ch      int
	mask    Check
	pattern PatternMode
	ref     []uint32
	snap    []uint32 // snapshot of the event being validated
}

// NewChecker returns a checker running the provided checks on the events
// of channel ch.
// A reference event is required when ChkFile is requested.
func NewChecker(ch int, mask Check, pattern PatternMode, ref []uint32) (*Checker, error) {
	if !pattern.valid() {
		return nil, fmt.Errorf("rorc: could not create checker for ch=%d: %v: %w", ch, pattern, ErrPatternMode)
	}
	if mask&ChkFile != 0 && len(ref) == 0 {
		return nil, fmt.Errorf("rorc: could not create checker for ch=%d: %w", ch, ErrNoReference)
	}
	return &Checker{
		ch:      ch,
		mask:    mask,
		pattern: pattern,
		ref:     ref,
	}, nil
}

// Mask returns the checks run by this checker.
func (c *Checker) Mask() Check { return c.mask }

// Check validates the event described by d, located in eb, and returns
// its ID.
// slot is the report-buffer slot of d, last the ID of the previous event
// (-1 when undefined).
//
// The ID is returned even when validation fails, so the caller can
// resynchronize on the event stream.
// Events too short to carry a header leave the ID unchanged.
// Validation errors are of type *CheckError.
func (c *Checker) Check(d Descriptor, eb EventRing, slot int, last int64) (int64, error) {
	sz := d.sizes()
	words := int(sz.words)

	// the snapshot is bounded by the reported size, so a corrupted
	// calculated size never copies more than reported+4 words.
	n := max(trailerEnd(sz.reported), 3)
	n = min(n, eb.Words())
	if cap(c.snap) < n {
		c.snap = make([]uint32, n)
	}
	evt := c.snap[:n]
	eb.read(evt, d.Offset)

	id := last
	if len(evt) >= 3 && words >= 3 {
		id = eventID(evt[1], evt[2])
	}

	fail := func(chk Check, word int, got, want uint64) (int64, error) {
		return id, &CheckError{
			Check:   chk,
			Channel: c.ch,
			Slot:    slot,
			Word:    word,
			Got:     got,
			Want:    want,
		}
	}

	if c.mask&ChkSizes != 0 {
		if sz.timedOut {
			return fail(ChkSizes, -1, uint64(d.CalcSize), uint64(sz.words))
		}
		if sz.words != sz.reported {
			return fail(ChkSizes, -1, uint64(sz.words), uint64(sz.reported))
		}
	}

	if c.mask&ChkSOE != 0 {
		if evt[0] != soeMarker {
			return fail(ChkSOE, 0, uint64(evt[0]), soeMarker)
		}
	}

	if c.mask&ChkPattern != 0 {
		if c.pattern != PatternRamp {
			return fail(ChkPattern, -1, uint64(c.pattern), uint64(PatternRamp))
		}
		if words > len(evt) {
			return fail(ChkPattern, -1, uint64(words), uint64(len(evt)))
		}
		for j := cdhWords; j < words; j++ {
			if want := uint32(j - cdhWords); evt[j] != want {
				return fail(ChkPattern, j, uint64(evt[j]), uint64(want))
			}
		}
	}

	if c.mask&ChkFile != 0 && c.ref != nil {
		if len(c.ref) != words {
			return fail(ChkFile, -1, uint64(words), uint64(len(c.ref)))
		}
		if words > len(evt) {
			return fail(ChkFile, len(evt), 0, uint64(c.ref[len(evt)]))
		}
		for j, want := range c.ref {
			if evt[j] != want {
				return fail(ChkFile, j, uint64(evt[j]), uint64(want))
			}
		}
	}

	if c.mask&ChkEOE != 0 {
		if j, got, want, ok := checkTrailer(evt, sz); !ok {
			return fail(ChkEOE, j, uint64(got), uint64(want))
		}
	}

	if c.mask&ChkID != 0 && last != -1 {
		if want := (last + 1) & idMask; id != want {
			return fail(ChkID, -1, uint64(id), uint64(want))
		}
	}

	return id, nil
}

// snapshot returns the event words captured by the last call to Check.
func (c *Checker) snapshot() []uint32 { return c.snap }

// LoadReference reads a reference event made of little-endian 32b words.
func LoadReference(r io.Reader) ([]uint32, error) {
	var (
		ref []uint32
		buf [4]byte
		br  = bufio.NewReader(r)
	)
	for {
		_, err := io.ReadFull(br, buf[:])
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("rorc: could not read reference word %d: %w", len(ref), err)
		}
		ref = append(ref, binary.LittleEndian.Uint32(buf[:]))
	}
	if len(ref) == 0 {
		return nil, fmt.Errorf("rorc: empty reference event: %w", ErrNoReference)
	}
	return ref, nil
}

// LoadReferenceFile reads a reference event from the named file.
func LoadReferenceFile(fname string) ([]uint32, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("rorc: could not open reference file: %w", err)
	}
	defer f.Close()

	ref, err := LoadReference(f)
	if err != nil {
		return nil, fmt.Errorf("rorc: could not load reference file %q: %w", fname, err)
	}
	return ref, nil
}
