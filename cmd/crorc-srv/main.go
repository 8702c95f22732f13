// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command crorc-srv starts a TDAQ server driving the readout of a C-RORC
// board.
//
// Usage: crorc-srv [OPTIONS] [BAR|sim] [BUFFERS-DIR]
//
// The /config command selects the checks, the pattern generator mode, the
// dump directory and the channels to read out.
// Channel statistics are published on the /stats output.
package main // import "github.com/go-lpc/crorc/cmd/crorc-srv"

import (
	"context"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
)

func main() {
	cmd := flags.New()

	dev := newServer(cmd.Args, log.New(os.Stdout, "rorc: ", 0))

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/stats", dev.output)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
