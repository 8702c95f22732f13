// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/crorc/rorc"
)

func TestMonitor(t *testing.T) {
	var subjects []string
	mon := newMonitor(1, time.Second)
	mon.notify = func(subject, body string) {
		subjects = append(subjects, subject)
	}

	var st rorc.Stats
	st.Reset(2)

	mon.compare(st) // first snapshot
	if len(subjects) != 0 {
		t.Fatalf("unexpected alert: %q", subjects)
	}

	st.NEvents = 100
	mon.compare(st)
	if len(subjects) != 0 {
		t.Fatalf("unexpected alert: %q", subjects)
	}

	st.NEvents = 200
	st.ErrorCount = 3
	mon.compare(st)
	if len(subjects) != 1 {
		t.Fatalf("missing error alert")
	}
	if !strings.Contains(subjects[0], "dev=1 ch=2") {
		t.Fatalf("invalid alert subject: %q", subjects[0])
	}

	// stalled channel: alerts are capped.
	for i := 0; i < 10; i++ {
		mon.compare(st)
	}
	if got, want := len(subjects), 4; got != want {
		t.Fatalf("invalid number of alerts: got=%d, want=%d", got, want)
	}
	if got, want := mon.alerts[2], 11; got != want {
		t.Fatalf("invalid alert count: got=%d, want=%d", got, want)
	}
}

func TestMonitorSharedStats(t *testing.T) {
	const dev, ch = 11, 4

	w, err := rorc.CreateSharedStats(dev, ch)
	if err != nil {
		t.Skipf("no POSIX shared memory: %+v", err)
	}
	defer w.Unlink()
	defer w.Close()

	w.Stats().Reset(ch)
	w.Stats().NEvents = 42

	err = run(dev, []int{ch}, time.Second, true)
	if err != nil {
		t.Fatalf("could not read shared stats: %+v", err)
	}

	err = run(dev, []int{ch + 1}, time.Second, true)
	if err == nil {
		t.Fatalf("expected an error with missing shared stats")
	}
}

func TestParseChannels(t *testing.T) {
	chs, err := parseChannels("0, 2,5")
	if err != nil {
		t.Fatalf("could not parse channels: %+v", err)
	}
	if len(chs) != 3 || chs[0] != 0 || chs[1] != 2 || chs[2] != 5 {
		t.Fatalf("invalid channels: %v", chs)
	}
	for _, s := range []string{"", "x", "1,,y"} {
		_, err := parseChannels(s)
		if err == nil {
			t.Fatalf("expected an error parsing %q", s)
		}
	}
}
