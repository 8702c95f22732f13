// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/crorc/internal/fakefw"
	"github.com/go-lpc/crorc/rorc"
	"golang.org/x/sync/errgroup"
)

// runConfig is the readout configuration sent with the /config command.
type runConfig struct {
	checks   rorc.Check
	pattern  rorc.PatternMode
	dumps    string
	channels []int
	size     uint32 // emulated event size
}

func defaultConfig() runConfig {
	return runConfig{
		checks:   rorc.ChkSizes | rorc.ChkSOE | rorc.ChkEOE | rorc.ChkID,
		pattern:  rorc.PatternRamp,
		channels: []int{0},
		size:     256,
	}
}

// decodeConfig decodes a /config request body:
// checks, pattern and dump directory as strings, followed by the number
// of channels, the channel indices and the emulated event size as u32.
func decodeConfig(r io.Reader) (runConfig, error) {
	var (
		cfg = defaultConfig()
		dec = tdaq.NewDecoder(r)
		err error

		checks  = dec.ReadStr()
		pattern = dec.ReadStr()
		dumps   = dec.ReadStr()
		n       = int(dec.ReadU32())
	)
	chans := make([]int, 0, n)
	for i := 0; i < n; i++ {
		chans = append(chans, int(dec.ReadU32()))
	}
	size := dec.ReadU32()
	if err := dec.Err(); err != nil {
		return cfg, fmt.Errorf("could not decode configuration: %w", err)
	}

	cfg.checks, err = rorc.ParseCheck(checks)
	if err != nil {
		return cfg, err
	}
	cfg.pattern, err = rorc.ParsePattern(pattern)
	if err != nil {
		return cfg, err
	}
	cfg.dumps = dumps
	if len(chans) > 0 {
		cfg.channels = chans
	}
	if size > 0 {
		cfg.size = size
	}
	return cfg, nil
}

func encodeConfig(w io.Writer, cfg runConfig) error {
	enc := tdaq.NewEncoder(w)
	enc.WriteStr(cfg.checks.String())
	enc.WriteStr(cfg.pattern.String())
	enc.WriteStr(cfg.dumps)
	enc.WriteU32(uint32(len(cfg.channels)))
	for _, ch := range cfg.channels {
		enc.WriteU32(uint32(ch))
	}
	enc.WriteU32(cfg.size)
	return enc.Err()
}

// encodeStats encodes the statistics published on the /stats output.
func encodeStats(w io.Writer, sts []rorc.Stats) error {
	enc := tdaq.NewEncoder(w)
	enc.WriteU32(uint32(len(sts)))
	for _, st := range sts {
		enc.WriteU32(st.Channel)
		enc.WriteU64(st.NEvents)
		enc.WriteU64(st.BytesReceived)
		enc.WriteU64(st.ErrorCount)
		enc.WriteI64(st.LastID)
	}
	return enc.Err()
}

// server drives a C-RORC readout from run-control commands.
type server struct {
	bar  string // BAR resource file, or "sim"
	bufs string // directory of the DMA buffers
	freq time.Duration

	msg *log.Logger
	cfg runConfig

	mu    sync.Mutex
	dev   *rorc.Device
	fbar  *fakefw.BAR
	chans []*rorc.Channel
	fws   []*fakefw.Firmware
	mbufs []io.Closer

	running bool        // channels are owned by the readout goroutine
	snaps   []rorc.Stats // last recorded channel statistics

	last time.Time
	data chan []byte
}

func newServer(args []string, msg *log.Logger) *server {
	srv := &server{
		bar:  "sim",
		freq: 1 * time.Second,
		msg:  msg,
		cfg:  defaultConfig(),
		data: make(chan []byte, 16),
	}
	if len(args) > 0 {
		srv.bar = args[0]
	}
	if len(args) > 1 {
		srv.bufs = args[1]
	}
	return srv
}

func (srv *server) sim() bool { return srv.bar == "sim" }

func (srv *server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	cfg, err := decodeConfig(bytes.NewReader(req.Body))
	if err != nil {
		ctx.Msg.Errorf("could not decode /config request: %+v", err)
		return err
	}
	srv.cfg = cfg
	ctx.Msg.Infof("checks=%v pattern=%v channels=%v", cfg.checks, cfg.pattern, cfg.channels)
	return nil
}

func (srv *server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	err := srv.init()
	if err != nil {
		ctx.Msg.Errorf("could not initialize readout: %+v", err)
		return err
	}
	return nil
}

func (srv *server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	return srv.reset()
}

func (srv *server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	return srv.start()
}

func (srv *server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	err := srv.stop()
	for _, st := range srv.stats() {
		ctx.Msg.Infof("%v", st)
	}
	return err
}

func (srv *server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return srv.reset()
}

func (srv *server) init() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.dev != nil {
		return fmt.Errorf("readout already initialized")
	}

	var (
		err  error
		opts = []rorc.Option{
			rorc.WithLogger(srv.msg),
			rorc.WithChecks(srv.cfg.checks),
			rorc.WithPattern(srv.cfg.pattern),
			rorc.WithDumpDir(srv.cfg.dumps),
		}
	)

	switch {
	case srv.sim():
		nchans := 0
		for _, ch := range srv.cfg.channels {
			nchans = max(nchans, ch+1)
		}
		srv.fbar = fakefw.NewBAR(nchans)
		srv.dev, err = rorc.NewDevice(srv.fbar, opts...)
	default:
		srv.dev, err = rorc.Open(srv.bar, opts...)
	}
	if err != nil {
		srv.dev = nil
		return fmt.Errorf("could not open device: %w", err)
	}

	for _, ch := range srv.cfg.channels {
		err = srv.configure(ch)
		if err != nil {
			_ = srv.closeDevice()
			return fmt.Errorf("could not configure channel %d: %w", ch, err)
		}
	}
	return nil
}

func (srv *server) configure(ch int) error {
	var (
		eb, rb rorc.Buffer
		err    error
	)
	switch {
	case srv.sim():
		eb, err = rorc.NewMemBuffer(2*ch, 1<<20)
		if err != nil {
			return err
		}
		rb, err = rorc.NewMemBuffer(2*ch+1, 1024*rorc.DescriptorSize)
		if err != nil {
			return err
		}
	default:
		for i, dst := range []*rorc.Buffer{&eb, &rb} {
			id := 2*ch + i
			fname := filepath.Join(srv.bufs, fmt.Sprintf("buf%03d", id))
			buf, err := rorc.MapBuffer(id, fname+".mem", fname+".sgl")
			if err != nil {
				return err
			}
			srv.mbufs = append(srv.mbufs, buf)
			*dst = buf
		}
	}

	c, err := srv.dev.ConfigureChannel(ch, eb, rb)
	if err != nil {
		return err
	}
	srv.chans = append(srv.chans, c)

	if srv.sim() {
		err = c.ConfigurePatternGenerator(rorc.PGConfig{
			Mode:    srv.cfg.pattern,
			Pattern: 1,
			Size:    srv.cfg.size,
		})
		if err != nil {
			return err
		}
		srv.fws = append(srv.fws, fakefw.New(srv.fbar, ch, eb.Bytes(), rb.Bytes()))
	}
	return nil
}

func (srv *server) start() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.dev == nil {
		return fmt.Errorf("readout not initialized")
	}
	if srv.running {
		return fmt.Errorf("readout already running")
	}
	if !srv.sim() {
		return nil
	}
	for _, c := range srv.chans {
		err := c.StartPatternGenerator()
		if err != nil {
			return fmt.Errorf("could not start pattern generator of channel %d: %w", c.ID(), err)
		}
	}
	return nil
}

// stop stops the pattern generators.
// A running readout stops them itself when it returns.
func (srv *server) stop() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.running {
		return nil
	}
	return srv.halt()
}

func (srv *server) halt() error {
	if !srv.sim() {
		return nil
	}
	for _, c := range srv.chans {
		err := c.StopPatternGenerator()
		if err != nil {
			return fmt.Errorf("could not stop pattern generator of channel %d: %w", c.ID(), err)
		}
	}
	return nil
}

func (srv *server) reset() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.running {
		return fmt.Errorf("readout still running")
	}
	return srv.closeDevice()
}

func (srv *server) closeDevice() error {
	if srv.dev == nil {
		return nil
	}
	err := srv.dev.Close()
	for _, buf := range srv.mbufs {
		_ = buf.Close()
	}
	srv.dev = nil
	srv.fbar = nil
	srv.chans = nil
	srv.fws = nil
	srv.mbufs = nil
	srv.snaps = nil
	if err != nil {
		return fmt.Errorf("could not close device: %w", err)
	}
	return nil
}

// stats returns the last recorded channel statistics.
func (srv *server) stats() []rorc.Stats {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return append([]rorc.Stats(nil), srv.snaps...)
}

// record snapshots the statistics of chans.
// It must be called from the goroutine polling chans.
func (srv *server) record(chans []*rorc.Channel) []rorc.Stats {
	sts := make([]rorc.Stats, len(chans))
	for i, c := range chans {
		sts[i] = c.Stats()
	}
	srv.mu.Lock()
	srv.snaps = sts
	srv.mu.Unlock()
	return sts
}

// publish records the channel statistics and queues them for the
// /stats output, at most once per period.
func (srv *server) publish(chans []*rorc.Channel) func(n int) error {
	return func(n int) error {
		if time.Since(srv.last) < srv.freq {
			return nil
		}
		srv.last = time.Now()

		buf := new(bytes.Buffer)
		err := encodeStats(buf, srv.record(chans))
		if err != nil {
			return fmt.Errorf("could not encode statistics: %w", err)
		}
		select {
		case srv.data <- buf.Bytes():
		default:
			// no consumer.
		}
		return nil
	}
}

func (srv *server) output(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-srv.data:
		dst.Body = data
	}
	return nil
}

func (srv *server) run(ctx tdaq.Context) error {
	return srv.readout(ctx.Ctx)
}

// readout polls the configured channels until ctx is canceled.
// The channels are owned by the calling goroutine until readout returns.
func (srv *server) readout(ctx context.Context) error {
	srv.mu.Lock()
	var (
		chans = srv.chans
		fws   = srv.fws
	)
	switch {
	case len(chans) == 0:
		srv.mu.Unlock()
		return fmt.Errorf("readout not initialized")
	case srv.running:
		srv.mu.Unlock()
		return fmt.Errorf("readout already running")
	}
	srv.running = true
	srv.mu.Unlock()

	grp, gctx := errgroup.WithContext(ctx)
	for _, fw := range fws {
		fw := fw
		grp.Go(func() error {
			fw.Run(gctx, time.Millisecond)
			return nil
		})
	}

	rdo := rorc.NewReadout(chans, rorc.WithSweepFunc(srv.publish(chans)))
	grp.Go(func() error {
		return rdo.Run(gctx)
	})

	err := grp.Wait()
	for _, st := range srv.record(chans) {
		srv.msg.Printf("%v", st)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.running = false
	if e := srv.halt(); e != nil && err == nil {
		err = e
	}
	return err
}
