// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rorc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/davecgh/go-spew/spew"
)

var dumpCfg = spew.ConfigState{
	Indent:                  "  ",
	DisableMethods:          true,
	DisablePointerAddresses: true,
}

// dumper writes diagnostic files for events failing validation.
type dumper struct {
	dir string // output directory; dumps are disabled when empty
	ch  int
	n   int // number of dumps written
	msg *log.Logger
}

func (dmp *dumper) enabled() bool {
	return dmp.dir != "" && dmp.n < maxDumps
}

// dump writes the event words and a human readable report for an event
// that failed validation.
// Errors are logged and otherwise ignored.
func (dmp *dumper) dump(d Descriptor, slot int, evt []uint32, cause error) {
	if !dmp.enabled() {
		return
	}
	idx := dmp.n
	dmp.n++

	base := filepath.Join(dmp.dir, fmt.Sprintf("ch%d_%d", dmp.ch, idx))
	err := dmp.writeDDL(base+".ddl", evt)
	if err != nil {
		dmp.msg.Printf("could not write event dump: %+v", err)
	}
	err = dmp.writeLog(base+".log", d, slot, evt, cause)
	if err != nil {
		dmp.msg.Printf("could not write event report: %+v", err)
	}
}

func (dmp *dumper) writeDDL(fname string, evt []uint32) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("rorc: could not create %q: %w", fname, err)
	}
	defer f.Close()

	buf := make([]byte, 4*len(evt))
	for i, v := range evt {
		binary.LittleEndian.PutUint32(buf[4*i:], v)
	}
	_, err = f.Write(buf)
	if err != nil {
		return fmt.Errorf("rorc: could not write %q: %w", fname, err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("rorc: could not close %q: %w", fname, err)
	}
	return nil
}

func (dmp *dumper) writeLog(fname string, d Descriptor, slot int, evt []uint32, cause error) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("rorc: could not create %q: %w", fname, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "channel: %d\nslot:    %d\nerror:   %v\n\n", dmp.ch, slot, cause)
	fmt.Fprintf(w, "descriptor:\n%s\n", dumpCfg.Sdump(d))
	fmt.Fprintf(w, "event: %d words\n", len(evt))
	for i, v := range evt {
		fmt.Fprintf(w, "%06d: 0x%08x\n", i, v)
	}

	err = w.Flush()
	if err != nil {
		return fmt.Errorf("rorc: could not flush %q: %w", fname, err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("rorc: could not close %q: %w", fname, err)
	}
	return nil
}
