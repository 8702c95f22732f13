// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command crorc-stat monitors the statistics published by C-RORC readout
// processes.
//
// Alerts are sent by e-mail when a channel stops receiving events or when
// its error counter increases. The mail server is configured with the
// MAIL_USERNAME, MAIL_PASSWORD, MAIL_SERVER, MAIL_PORT and MAIL_TGTS
// environment variables.
//
// Usage: crorc-stat [OPTIONS]
//
// Example:
//
//	$> crorc-stat -dev=0 -channels=0,1,2 -freq=10s
package main // import "github.com/go-lpc/crorc/cmd/crorc-stat"

import (
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/crorc/rorc"
	mail "gopkg.in/gomail.v2"
)

func main() {
	var (
		dev   = flag.Int("dev", 0, "C-RORC device index")
		chans = flag.String("channels", "0", "comma separated list of channels to monitor")
		freq  = flag.Duration("freq", 30*time.Second, "probing interval")
		once  = flag.Bool("once", false, "print statistics once and exit")
	)

	flag.Parse()

	log.SetPrefix("crorc-stat: ")
	log.SetFlags(0)

	chs, err := parseChannels(*chans)
	if err != nil {
		log.Fatalf("could not parse channels: %+v", err)
	}

	err = run(*dev, chs, *freq, *once)
	if err != nil {
		log.Fatalf("could not monitor statistics: %+v", err)
	}
}

func parseChannels(s string) ([]int, error) {
	var chs []int
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		ch, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("invalid channel %q: %w", tok, err)
		}
		chs = append(chs, ch)
	}
	if len(chs) == 0 {
		return nil, fmt.Errorf("no channel in %q", s)
	}
	return chs, nil
}

func run(dev int, chs []int, freq time.Duration, once bool) error {
	mon := newMonitor(dev, freq)
	defer mon.close()

	for _, ch := range chs {
		shm, err := rorc.OpenSharedStats(dev, ch)
		if err != nil {
			return fmt.Errorf("could not open statistics of channel %d: %w", ch, err)
		}
		mon.shms = append(mon.shms, shm)
	}

	mon.sample()
	if once {
		return nil
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	tick := time.NewTicker(freq)
	defer tick.Stop()

	for {
		select {
		case <-stop:
			return nil
		case <-tick.C:
			mon.sample()
		}
	}
}

type monitor struct {
	dev  int
	freq time.Duration
	shms []*rorc.SharedStats

	prev   map[uint32]rorc.Stats
	alerts map[uint32]int // keep track of the number of alerts per channel
	notify func(subject, body string)
}

func newMonitor(dev int, freq time.Duration) *monitor {
	return &monitor{
		dev:    dev,
		freq:   freq,
		prev:   make(map[uint32]rorc.Stats),
		alerts: make(map[uint32]int),
		notify: alertMail,
	}
}

func (mon *monitor) close() {
	for _, shm := range mon.shms {
		_ = shm.Close()
	}
}

func (mon *monitor) sample() {
	for _, shm := range mon.shms {
		st := shm.Snapshot()
		log.Printf("dev=%d %v", mon.dev, st)
		mon.compare(st)
	}
}

// compare checks st against the previous snapshot of the same channel.
func (mon *monitor) compare(st rorc.Stats) {
	ref, ok := mon.prev[st.Channel]
	mon.prev[st.Channel] = st
	if !ok {
		// nothing to compare against.
		return
	}

	switch {
	case st.NEvents == ref.NEvents:
		mon.alert(st, fmt.Sprintf("no event in the last %v", mon.freq))
	case st.ErrorCount > ref.ErrorCount:
		mon.alert(st, fmt.Sprintf(
			"%d faulty events out of %d in the last %v",
			st.ErrorCount-ref.ErrorCount, st.NEvents-ref.NEvents, mon.freq,
		))
	}
}

func (mon *monitor) alert(st rorc.Stats, cause string) {
	log.Printf("dev=%d ch=%d: %s", mon.dev, st.Channel, cause)
	mon.alerts[st.Channel]++

	const maxAlerts = 5
	if mon.alerts[st.Channel] < maxAlerts {
		mon.notify(
			fmt.Sprintf("[crorc-stat] dev=%d ch=%d alert", mon.dev, st.Channel),
			fmt.Sprintf("cause: %s\nstats: %v", cause, st),
		)
	}
}

var (
	alertMailUsr  = os.Getenv("MAIL_USERNAME")
	alertMailPwd  = os.Getenv("MAIL_PASSWORD")
	alertMailSrv  = os.Getenv("MAIL_SERVER")
	alertMailPort = atoi(os.Getenv("MAIL_PORT"))
	alertMailTgts = strings.Split(os.Getenv("MAIL_TGTS"), ",")
)

func alertMail(subject, body string) {
	if alertMailUsr == "" || alertMailPwd == "" ||
		alertMailSrv == "" || alertMailPort == 0 ||
		len(alertMailTgts) == 0 {
		log.Printf("could not send mail alert: missing credentials")
		return
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", alertMailUsr)
	msg.SetHeader("Bcc", alertMailTgts...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	dial := mail.NewDialer(alertMailSrv, alertMailPort, alertMailUsr, alertMailPwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err := dial.DialAndSend(msg)
	if err != nil {
		log.Printf("could not send mail alert: %+v", err)
	}
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
