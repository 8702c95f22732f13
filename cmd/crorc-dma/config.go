// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/crorc/rorc"
	"github.com/spf13/viper"
)

type config struct {
	Device    int           `mapstructure:"device"`
	BAR       string        `mapstructure:"bar"`
	Buffers   string        `mapstructure:"buffers"`
	Channels  string        `mapstructure:"channels"`
	Groups    int           `mapstructure:"groups"`
	Checks    string        `mapstructure:"checks"`
	Pattern   string        `mapstructure:"pattern"`
	Reference string        `mapstructure:"reference"`
	DumpDir   string        `mapstructure:"dump-dir"`
	Idle      time.Duration `mapstructure:"idle"`
	Report    time.Duration `mapstructure:"report"`
	LogFile   string        `mapstructure:"log-file"`
	DB        string        `mapstructure:"db"`
	Run       uint32        `mapstructure:"run"`

	Sim       bool   `mapstructure:"sim"`
	SimSize   uint32 `mapstructure:"sim-size"`
	SimEvents uint32 `mapstructure:"sim-events"`
	EBSize    int    `mapstructure:"eb-size"`
	RBSlots   int    `mapstructure:"rb-slots"`

	PMon bool          `mapstructure:"pmon"`
	Freq time.Duration `mapstructure:"freq"`
}

// addFlags declares the command line flags on fset and returns the
// name of the configuration file flag.
func addFlags(fset *flag.FlagSet) *string {
	fset.Int("device", 0, "C-RORC device index")
	fset.String("bar", "/sys/bus/pci/devices/0000:03:00.0/resource0", "path to the BAR1 resource file")
	fset.String("buffers", "/dev/shm/crorc", "directory holding the DMA buffers and their scatter-gather lists")
	fset.String("channels", "0", "list of DMA channels to read out (e.g. 0,2,4-7)")
	fset.Int("groups", 1, "number of concurrent readout loops")
	fset.String("checks", "sizes,soe,eoe,id", "event checks to run")
	fset.String("pattern", "ramp", "pattern generator mode")
	fset.String("reference", "", "path to a reference event")
	fset.String("dump-dir", "", "directory where to dump faulty events")
	fset.Duration("idle", rorc.DefaultIdle, "pause between empty readout sweeps")
	fset.Duration("report", 10*time.Second, "statistics reporting interval")
	fset.String("log-file", "", "path to a rotating log file")
	fset.String("db", "", "run database DSN")
	fset.Uint("run", 0, "run number")

	fset.Bool("sim", false, "read out an emulated firmware")
	fset.Uint("sim-size", 256, "emulated event size in 32b words")
	fset.Uint("sim-events", 0, "number of emulated events per channel (0: unlimited)")
	fset.Int("eb-size", 1<<20, "emulated event buffer size in bytes")
	fset.Int("rb-slots", 1024, "emulated report buffer size in descriptors")

	fset.Bool("pmon", false, "enable pmon monitoring")
	fset.Duration("freq", 1*time.Second, "pmon frequency")

	return fset.String("config", "", "path to a YAML configuration file")
}

// loadConfig merges the flag defaults, the optional configuration file
// and the flags explicitly set on the command line, in that order.
func loadConfig(fset *flag.FlagSet, fname string) (config, error) {
	var (
		cfg config
		v   = viper.New()
	)

	fset.VisitAll(func(f *flag.Flag) {
		if f.Name == "config" {
			return
		}
		v.SetDefault(f.Name, f.Value.String())
	})

	if fname != "" {
		v.SetConfigFile(fname)
		err := v.ReadInConfig()
		if err != nil {
			return cfg, fmt.Errorf("could not read config file %q: %w", fname, err)
		}
	}

	fset.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			return
		}
		v.Set(f.Name, f.Value.String())
	})

	err := v.Unmarshal(&cfg)
	if err != nil {
		return cfg, fmt.Errorf("could not decode configuration: %w", err)
	}

	if cfg.Groups < 1 {
		cfg.Groups = 1
	}

	return cfg, nil
}

// parseChannels parses a comma separated list of channels and channel
// ranges.
func parseChannels(s string) ([]int, error) {
	var (
		set = make(map[int]struct{})
		chs []int
	)
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(tok, "-")
		beg, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid channel %q: %w", tok, err)
		}
		end := beg
		if isRange {
			end, err = strconv.Atoi(hi)
			if err != nil {
				return nil, fmt.Errorf("invalid channel range %q: %w", tok, err)
			}
		}
		if beg < 0 || end < beg {
			return nil, fmt.Errorf("invalid channel range %q", tok)
		}
		for ch := beg; ch <= end; ch++ {
			if _, dup := set[ch]; dup {
				continue
			}
			set[ch] = struct{}{}
			chs = append(chs, ch)
		}
	}
	if len(chs) == 0 {
		return nil, fmt.Errorf("no channel in %q", s)
	}
	sort.Ints(chs)
	return chs, nil
}
