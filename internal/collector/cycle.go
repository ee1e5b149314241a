/*
Package collector runs the collection pipeline: it finds the current
access log, reads the lines appended since the previous cycle, and turns
them into the counters served by the metrics endpoint.

A Cycle is one pass of the pipeline. The Scheduler runs cycles serially
in its own goroutine and publishes each outcome to a metrics.Aggregator.
*/
package collector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/compassvpn/user-metrics/internal/ipfilter"
	"github.com/compassvpn/user-metrics/internal/logparse"
	"github.com/compassvpn/user-metrics/internal/logsource"
	"github.com/compassvpn/user-metrics/internal/tracker"
)

// Result holds the counters produced by one cycle.
type Result struct {
	Unique  int64 // distinct admissible addresses
	Total   int64 // connections from admissible addresses
	Blocked int64 // in-window lines routed to the blocked outbound
	// Parsed counts in-window lines with a valid address; Filtered is the
	// subset whose address was not admissible.
	Parsed   int64
	Filtered int64

	File      string
	Lines     int
	Identity  string
	Offset    int64
	Rotated   bool
	Truncated bool
}

// Cursor returns the log position reached by the cycle.
func (r Result) Cursor() logsource.Cursor {
	return logsource.Cursor{Identity: r.Identity, Offset: r.Offset}
}

// CycleConfig holds the dependencies of a Cycle.
type CycleConfig struct {
	// LogPath is the base access log; rotated siblings are found next to it.
	LogPath string
	// Window is the lookback: lines older than now-Window are ignored.
	Window time.Duration

	Cursor     *logsource.Tracker
	Parser     *logparse.Parser
	Classifier *ipfilter.Classifier
	// Tracker configures the per-cycle connection tracker. Its TTL is
	// always Window.
	Tracker tracker.Options

	Now    func() time.Time
	Logger *slog.Logger
}

// Cycle is one pass of the pipeline.
type Cycle struct {
	logPath    string
	window     time.Duration
	cursor     *logsource.Tracker
	parser     *logparse.Parser
	classifier *ipfilter.Classifier
	trackerOpt tracker.Options
	now        func() time.Time
	logger     *slog.Logger
}

// NewCycle creates a Cycle. Nil Cursor, Parser and Classifier get fresh
// defaults.
func NewCycle(cfg *CycleConfig) *Cycle {
	c := &Cycle{
		logPath:    cfg.LogPath,
		window:     cfg.Window,
		cursor:     cfg.Cursor,
		parser:     cfg.Parser,
		classifier: cfg.Classifier,
		trackerOpt: cfg.Tracker,
		now:        cfg.Now,
		logger:     cfg.Logger,
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.classifier == nil {
		c.classifier = ipfilter.New(ipfilter.Options{})
	}
	if c.parser == nil {
		c.parser = logparse.New(logparse.Config{Normalizer: c.classifier, Logger: c.logger})
	}
	if c.cursor == nil {
		c.cursor = logsource.NewTracker(logsource.Cursor{}, c.logger)
	}
	c.trackerOpt.TTL = c.window
	c.trackerOpt.Now = c.now
	return c
}

// Cursor exposes the cycle's log cursor.
func (c *Cycle) Cursor() *logsource.Tracker {
	return c.cursor
}

// Run reads the lines appended to the newest log file since the previous
// run and counts those inside the lookback window. On error the cursor is
// reset and the returned Result must not be published.
func (c *Cycle) Run(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	cands, err := logsource.Locate(c.logPath)
	if err != nil {
		c.cursor.Reset()
		return Result{}, err
	}
	cand := cands[0]
	c.logger.Debug("reading access log",
		"path", cand.Path,
		"compressed", cand.Compressed,
		"candidates", len(cands),
	)

	var (
		res    = Result{File: cand.Path}
		cutoff = c.now().Add(-c.window)
		conns  = tracker.New(c.trackerOpt)
	)

	stats, err := c.cursor.Read(cand, func(line string) {
		ev, ok := c.parser.Parse(line)
		if !ok || ev.Addr == "" || ev.Time.Before(cutoff) {
			return
		}
		res.Parsed++
		if ev.Blocked {
			res.Blocked++
		}
		if !c.classifier.Admissible(ev.Addr) {
			res.Filtered++
			return
		}
		conns.Record(ev.Addr)
	})
	res.Lines = stats.Lines
	res.Rotated = stats.Rotated
	res.Truncated = stats.Truncated
	if err != nil {
		return res, fmt.Errorf("collect %s: %w", cand.Path, err)
	}

	cur := c.cursor.Cursor()
	res.Identity = cur.Identity
	res.Offset = cur.Offset
	res.Unique, res.Total = conns.Stats()

	return res, nil
}
