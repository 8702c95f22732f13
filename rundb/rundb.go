// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rundb holds types to retrieve the readout configuration of C-RORC
// channels from the run database, and to record end-of-run statistics.
package rundb // import "github.com/go-lpc/crorc/rundb"

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-lpc/crorc/rorc"
	_ "github.com/go-sql-driver/mysql"
)

var (
	drvName = "mysql"
	timeout = 5 * time.Second
)

// ErrNoConfig is returned when no configuration exists for a channel.
var ErrNoConfig = errors.New("rundb: no channel configuration")

// DB exposes convenience methods to retrieve channel configurations
// and store run statistics.
type DB struct {
	db *sql.DB
}

// Open opens a connection to the run database described by dsn,
// e.g. "user:password@tcp(localhost:3306)/crorc".
func Open(dsn string) (*DB, error) {
	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("rundb: could not open db: %w", err)
	}

	err = ping(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db}, nil
}

func ping(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("rundb: could not ping db: %w", err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// ChannelConfig is the readout configuration of a channel.
type ChannelConfig struct {
	Checks  rorc.Check
	Pattern rorc.PatternMode
	DumpDir string
}

// Options returns the channel options corresponding to cfg.
func (cfg ChannelConfig) Options() []rorc.Option {
	return []rorc.Option{
		rorc.WithChecks(cfg.Checks),
		rorc.WithPattern(cfg.Pattern),
		rorc.WithDumpDir(cfg.DumpDir),
	}
}

// ChannelConfig returns the most recent configuration of channel ch
// of device dev.
func (db *DB) ChannelConfig(ctx context.Context, dev, ch int) (ChannelConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cfg ChannelConfig
	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT checks, pattern, dump_dir FROM channels
WHERE (
	device=? AND channel=?
)
ORDER BY datetime DESC LIMIT 1
`,
		dev, ch,
	)
	if err != nil {
		return cfg, fmt.Errorf("rundb: could not query channel cfg: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var (
			checks  string
			pattern string
			dir     sql.NullString
		)
		err = rows.Scan(&checks, &pattern, &dir)
		if err != nil {
			return cfg, fmt.Errorf("rundb: could not scan channel cfg: %w", err)
		}
		cfg.Checks, err = rorc.ParseCheck(checks)
		if err != nil {
			return cfg, fmt.Errorf("rundb: invalid checks for dev=%d ch=%d: %w", dev, ch, err)
		}
		cfg.Pattern, err = rorc.ParsePattern(pattern)
		if err != nil {
			return cfg, fmt.Errorf("rundb: invalid pattern for dev=%d ch=%d: %w", dev, ch, err)
		}
		cfg.DumpDir = dir.String
		n++
	}

	if err := rows.Err(); err != nil {
		return cfg, fmt.Errorf("rundb: could not scan db for channel cfg: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return cfg, fmt.Errorf("rundb: context error while retrieving channel cfg: %w", err)
	}

	if n == 0 {
		return cfg, fmt.Errorf("rundb: dev=%d ch=%d: %w", dev, ch, ErrNoConfig)
	}

	return cfg, nil
}

// RecordStats stores the statistics of a channel at the end of a run.
func (db *DB) RecordStats(ctx context.Context, run uint32, dev int, st rorc.Stats) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// an unset minimum has no SQL BIGINT representation.
	var minEPI sql.NullInt64
	if st.NEvents > 0 {
		minEPI = sql.NullInt64{Int64: int64(st.MinEPI), Valid: true}
	}

	_, err := db.db.ExecContext(
		ctx,
		`
INSERT INTO run_stats (
	run, device, channel, events, bytes, min_epi, max_epi, offsets, errors, last_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		int64(run), int64(dev), int64(st.Channel),
		int64(st.NEvents), int64(st.BytesReceived),
		minEPI, int64(st.MaxEPI),
		int64(st.SetOffsetCount), int64(st.ErrorCount),
		st.LastID,
	)
	if err != nil {
		return fmt.Errorf("rundb: could not record stats for run=%d dev=%d ch=%d: %w", run, dev, st.Channel, err)
	}
	return nil
}
