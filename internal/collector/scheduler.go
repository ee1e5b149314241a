package collector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/compassvpn/user-metrics/internal/metrics"
	"github.com/compassvpn/user-metrics/internal/state"
)

// DefaultIdleAfter is how long without activity before the wait doubles.
const DefaultIdleAfter = 5 * time.Minute

const storeTimeout = 5 * time.Second

// State is the scheduler's position in its loop.
type State int32

const (
	Idle State = iota
	Collecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Collecting:
		return "collecting"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Runner runs one collection cycle. *Cycle implements it.
type Runner interface {
	Run(ctx context.Context) (Result, error)
}

// SchedulerConfig holds the dependencies of a Scheduler.
type SchedulerConfig struct {
	Cycle      Runner
	Aggregator *metrics.Aggregator
	// Store receives the cursor after every successful cycle. Nil skips saving.
	Store state.Store
	// Metrics records the scheduler's own health. Nil creates a private set.
	Metrics *metrics.SelfMetrics

	Interval time.Duration
	// IdleAfter is the inactivity period after which the interval doubles.
	// Zero uses DefaultIdleAfter.
	IdleAfter time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// Scheduler runs cycles on an adaptive interval and publishes their
// results. A failed or panicking cycle publishes zero counters and the
// loop carries on.
type Scheduler struct {
	cycle     Runner
	agg       *metrics.Aggregator
	store     state.Store
	metrics   *metrics.SelfMetrics
	interval  time.Duration
	idleAfter time.Duration
	now       func() time.Time
	logger    *slog.Logger

	state atomic.Int32

	mu           sync.Mutex
	lastActivity time.Time
}

// NewScheduler creates a Scheduler in the Idle state.
func NewScheduler(cfg *SchedulerConfig) *Scheduler {
	s := &Scheduler{
		cycle:     cfg.Cycle,
		agg:       cfg.Aggregator,
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		interval:  cfg.Interval,
		idleAfter: cfg.IdleAfter,
		now:       cfg.Now,
		logger:    cfg.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.metrics == nil {
		s.metrics = metrics.NewSelfMetrics()
	}
	if s.agg == nil {
		s.agg = metrics.NewAggregator("")
	}
	if s.idleAfter <= 0 {
		s.idleAfter = DefaultIdleAfter
	}
	s.lastActivity = s.now()
	return s
}

// State reports whether a cycle is running.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// NextInterval returns how long to wait before the next cycle: the base
// interval, doubled once nothing has been parsed for IdleAfter.
func (s *Scheduler) NextInterval() time.Duration {
	s.mu.Lock()
	idle := s.now().Sub(s.lastActivity)
	s.mu.Unlock()

	if idle > s.idleAfter {
		return 2 * s.interval
	}
	return s.interval
}

// Run collects immediately, then once per interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.RunOnce(ctx) //nolint:errcheck // logged and published inside

	timer := time.NewTimer(s.NextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.RunOnce(ctx) //nolint:errcheck // logged and published inside
			wait := s.NextInterval()
			if wait != s.interval {
				s.logger.Debug("no recent activity, backing off", "wait", wait)
			}
			timer.Reset(wait)
		}
	}
}

// RunOnce runs a single cycle and publishes its outcome. Panics inside the
// cycle are recovered and returned as errors.
func (s *Scheduler) RunOnce(ctx context.Context) (res Result, err error) {
	s.state.Store(int32(Collecting))
	defer s.state.Store(int32(Idle))

	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("collection cycle panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			res, err = Result{}, fmt.Errorf("collection cycle panic: %v", r)
		}
		s.finish(ctx, start, res, err)
	}()

	return s.cycle.Run(ctx)
}

func (s *Scheduler) finish(ctx context.Context, start time.Time, res Result, err error) {
	now := s.now()
	s.metrics.CycleDuration.Observe(now.Sub(start).Seconds())

	if err != nil {
		s.metrics.Cycles.WithLabelValues("error").Inc()
		s.metrics.CursorResets.WithLabelValues(metrics.ResetError).Inc()
		s.metrics.CursorOffset.Set(0)
		s.agg.PublishZero(now)
		s.logger.Error("collection cycle failed", "error", err)
		return
	}

	s.metrics.Cycles.WithLabelValues("success").Inc()
	s.metrics.LinesParsed.Add(float64(res.Parsed))
	s.metrics.AddressesFiltered.Add(float64(res.Filtered))
	s.metrics.CursorOffset.Set(float64(res.Offset))
	s.metrics.LastSuccess.Set(float64(now.Unix()))
	if res.Rotated {
		s.metrics.CursorResets.WithLabelValues(metrics.ResetRotated).Inc()
	}
	if res.Truncated {
		s.metrics.CursorResets.WithLabelValues(metrics.ResetTruncated).Inc()
	}

	s.agg.Publish(metrics.Snapshot{
		UniqueClients:    res.Unique,
		TotalConnections: res.Total,
		BlockedCount:     res.Blocked,
		CollectedAt:      now,
	})

	if res.Parsed > 0 {
		s.mu.Lock()
		s.lastActivity = now
		s.mu.Unlock()
	}

	s.logger.Info("collection cycle complete",
		"file", res.File,
		"lines", res.Lines,
		"unique", res.Unique,
		"total", res.Total,
		"blocked", res.Blocked,
		"filtered", res.Filtered,
		"offset", res.Offset,
		"duration", now.Sub(start),
	)

	s.saveCursor(ctx, res)
}

// saveCursor persists the cursor. Failures only cost a re-read after restart.
func (s *Scheduler) saveCursor(ctx context.Context, res Result) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	if err := s.store.Save(ctx, res.Cursor()); err != nil {
		s.logger.Warn("failed to save log cursor", "error", err)
	}
}
