// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command crorc-dma reads out DMA channels of a C-RORC board in
// stand-alone mode.
//
// Usage: crorc-dma [OPTIONS]
//
// Example:
//
//	$> crorc-dma -channels=0-5 -groups=2 -checks=all -dump-dir=./dumps
//	$> crorc-dma -sim -channels=0,1 -sim-events=100000 -report=1s
//	$> crorc-dma -config=./crorc.yaml -run=42
package main // import "github.com/go-lpc/crorc/cmd/crorc-dma"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-lpc/crorc/internal/fakefw"
	"github.com/go-lpc/crorc/rorc"
	"github.com/go-lpc/crorc/rundb"
	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	log.SetPrefix("crorc-dma: ")
	log.SetFlags(0)

	fname := addFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := loadConfig(flag.CommandLine, *fname)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)
	go func() {
		select {
		case <-stop:
			log.Printf("stopping readout...")
			cancel()
		case <-ctx.Done():
		}
	}()

	err = run(ctx, cfg)
	if err != nil {
		log.Fatalf("could not run readout: %+v", err)
	}
}

type readout struct {
	msg *log.Logger
	cfg config

	dev   *rorc.Device
	bar   *fakefw.BAR
	db    *rundb.DB
	ref   []uint32
	chans []*rorc.Channel
	fws   []*fakefw.Firmware
	shms  []*rorc.SharedStats
	bufs  []io.Closer
}

func run(ctx context.Context, cfg config) error {
	out := io.Writer(os.Stdout)
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 4,
			MaxAge:     30, // days
			Compress:   true,
		})
	}

	rdo := &readout{
		msg: log.New(out, "crorc-dma: ", 0),
		cfg: cfg,
	}
	defer rdo.close()

	if cfg.PMon {
		p, err := pmon.Monitor(os.Getpid())
		if err != nil {
			return fmt.Errorf("could not start monitoring: %w", err)
		}
		f, err := os.Create(fmt.Sprintf("crorc-dma-%d-pmon.log", cfg.Run))
		if err != nil {
			return fmt.Errorf("could not create pmon log file: %w", err)
		}
		defer f.Close()
		p.W = f
		p.Freq = cfg.Freq

		go func() {
			err := p.Run()
			if err != nil {
				rdo.msg.Printf("could not run pmon: %+v", err)
			}
		}()
		defer func() {
			err := p.Kill()
			if err != nil {
				rdo.msg.Printf("could not stop monitoring: %+v", err)
			}
		}()
	}

	err := rdo.setup(ctx, log.New(out, "rorc: ", 0))
	if err != nil {
		return fmt.Errorf("could not setup readout: %w", err)
	}

	grp, ctx := errgroup.WithContext(ctx)
	for i, fw := range rdo.fws {
		fw := fw
		period := time.Millisecond
		rdo.msg.Printf("starting emulated firmware for channel %d...", rdo.chans[i].ID())
		grp.Go(func() error {
			fw.Run(ctx, period)
			return nil
		})
	}

	for i, chans := range groups(rdo.chans, cfg.Groups) {
		i, chans := i, chans
		loop := rorc.NewReadout(
			chans,
			rorc.WithIdle(cfg.Idle),
			rorc.WithSweepFunc(rdo.reporter(chans)),
		)
		grp.Go(func() error {
			rdo.msg.Printf("readout loop %d: %d channel(s)", i, len(chans))
			return loop.Run(ctx)
		})
	}

	err = grp.Wait()
	if err != nil {
		return fmt.Errorf("readout failed: %w", err)
	}

	return rdo.summary(context.Background())
}

func (rdo *readout) setup(ctx context.Context, rmsg *log.Logger) error {
	cfg := rdo.cfg
	chs, err := parseChannels(cfg.Channels)
	if err != nil {
		return fmt.Errorf("could not parse channels: %w", err)
	}

	checks, err := rorc.ParseCheck(cfg.Checks)
	if err != nil {
		return fmt.Errorf("could not parse checks: %w", err)
	}

	pattern, err := rorc.ParsePattern(cfg.Pattern)
	if err != nil {
		return fmt.Errorf("could not parse pattern mode: %w", err)
	}

	opts := []rorc.Option{
		rorc.WithLogger(rmsg),
		rorc.WithChecks(checks),
		rorc.WithPattern(pattern),
		rorc.WithDumpDir(cfg.DumpDir),
	}

	if cfg.Reference != "" {
		rdo.ref, err = rorc.LoadReferenceFile(cfg.Reference)
		if err != nil {
			return fmt.Errorf("could not load reference event: %w", err)
		}
		opts = append(opts, rorc.WithReference(rdo.ref))
	}

	switch {
	case cfg.Sim:
		rdo.bar = fakefw.NewBAR(chs[len(chs)-1] + 1)
		rdo.dev, err = rorc.NewDevice(rdo.bar, opts...)
	default:
		rdo.dev, err = rorc.Open(cfg.BAR, opts...)
	}
	if err != nil {
		return fmt.Errorf("could not open device: %w", err)
	}

	info, err := rdo.dev.FirmwareInfo()
	if err != nil {
		return fmt.Errorf("could not read firmware info: %w", err)
	}
	rdo.msg.Printf("firmware: %v", info)

	if cfg.DB != "" {
		rdo.db, err = rundb.Open(cfg.DB)
		if err != nil {
			return fmt.Errorf("could not open run db: %w", err)
		}
	}

	for _, ch := range chs {
		err = rdo.configure(ctx, ch, pattern)
		if err != nil {
			return fmt.Errorf("could not configure channel %d: %w", ch, err)
		}
	}

	return nil
}

func (rdo *readout) configure(ctx context.Context, ch int, pattern rorc.PatternMode) error {
	cfg := rdo.cfg

	var opts []rorc.Option
	if rdo.db != nil {
		dbcfg, err := rdo.db.ChannelConfig(ctx, cfg.Device, ch)
		if err != nil {
			return fmt.Errorf("could not retrieve channel configuration: %w", err)
		}
		opts = append(opts, dbcfg.Options()...)
		if dbcfg.DumpDir == "" {
			opts = append(opts, rorc.WithDumpDir(cfg.DumpDir))
		}
		pattern = dbcfg.Pattern
	}

	shm, err := rorc.CreateSharedStats(cfg.Device, ch)
	switch {
	case err != nil:
		rdo.msg.Printf("could not create shared stats for channel %d: %+v", ch, err)
	default:
		rdo.shms = append(rdo.shms, shm)
		opts = append(opts, rorc.WithStats(shm.Stats()))
	}

	eb, rb, err := rdo.buffers(ch)
	if err != nil {
		return err
	}

	c, err := rdo.dev.ConfigureChannel(ch, eb, rb, opts...)
	if err != nil {
		return err
	}
	rdo.chans = append(rdo.chans, c)

	if !cfg.Sim {
		return nil
	}

	err = c.ConfigurePatternGenerator(rorc.PGConfig{
		Mode:    pattern,
		Pattern: 1,
		Size:    cfg.SimSize,
		Events:  cfg.SimEvents,
	})
	if err != nil {
		return fmt.Errorf("could not configure pattern generator: %w", err)
	}
	err = c.StartPatternGenerator()
	if err != nil {
		return fmt.Errorf("could not start pattern generator: %w", err)
	}
	rdo.fws = append(rdo.fws, fakefw.New(rdo.bar, ch, eb.Bytes(), rb.Bytes()))

	return nil
}

// buffers returns the event and report buffers of channel ch.
func (rdo *readout) buffers(ch int) (eb, rb rorc.Buffer, err error) {
	if rdo.cfg.Sim {
		eb, err = rorc.NewMemBuffer(2*ch, rdo.cfg.EBSize)
		if err != nil {
			return nil, nil, fmt.Errorf("could not create event buffer: %w", err)
		}
		rb, err = rorc.NewMemBuffer(2*ch+1, rdo.cfg.RBSlots*rorc.DescriptorSize)
		if err != nil {
			return nil, nil, fmt.Errorf("could not create report buffer: %w", err)
		}
		return eb, rb, nil
	}

	mapBuffer := func(id int) (*rorc.MappedBuffer, error) {
		fname := filepath.Join(rdo.cfg.Buffers, fmt.Sprintf("buf%03d", id))
		buf, err := rorc.MapBuffer(id, fname+".mem", fname+".sgl")
		if err != nil {
			return nil, err
		}
		rdo.bufs = append(rdo.bufs, buf)
		return buf, nil
	}

	ebuf, err := mapBuffer(2 * ch)
	if err != nil {
		return nil, nil, fmt.Errorf("could not map event buffer: %w", err)
	}
	rbuf, err := mapBuffer(2*ch + 1)
	if err != nil {
		return nil, nil, fmt.Errorf("could not map report buffer: %w", err)
	}
	return ebuf, rbuf, nil
}

// reporter returns a sweep function logging the statistics of chans at
// regular intervals.
func (rdo *readout) reporter(chans []*rorc.Channel) func(n int) error {
	if rdo.cfg.Report <= 0 {
		return nil
	}
	last := time.Now()
	return func(n int) error {
		if time.Since(last) < rdo.cfg.Report {
			return nil
		}
		last = time.Now()
		for _, c := range chans {
			rdo.msg.Printf("%v", c.Stats())
		}
		return nil
	}
}

func (rdo *readout) summary(ctx context.Context) error {
	for _, c := range rdo.chans {
		st := c.Stats()
		rdo.msg.Printf("%v", st)
		if rdo.db == nil {
			continue
		}
		err := rdo.db.RecordStats(ctx, rdo.cfg.Run, rdo.cfg.Device, st)
		if err != nil {
			return fmt.Errorf("could not record statistics: %w", err)
		}
	}
	return nil
}

func (rdo *readout) close() {
	if rdo.dev != nil {
		err := rdo.dev.Close()
		if err != nil {
			rdo.msg.Printf("could not close device: %+v", err)
		}
	}
	for _, buf := range rdo.bufs {
		_ = buf.Close()
	}
	for _, shm := range rdo.shms {
		_ = shm.Close()
		_ = shm.Unlink()
	}
	if rdo.db != nil {
		_ = rdo.db.Close()
	}
}

// groups distributes chans over n readout loops.
func groups(chans []*rorc.Channel, n int) [][]*rorc.Channel {
	n = max(1, min(n, len(chans)))
	grps := make([][]*rorc.Channel, n)
	for i, c := range chans {
		grps[i%n] = append(grps[i%n], c)
	}
	return grps
}
