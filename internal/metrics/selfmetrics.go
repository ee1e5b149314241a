package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/compassvpn/user-metrics/internal/version"
)

// Cursor reset reasons.
const (
	ResetRotated   = "rotated"
	ResetTruncated = "truncated"
	ResetError     = "error"
)

// SelfMetrics describes the exporter's own health: how cycles go, how
// much of the log they consume, and the Go runtime underneath.
type SelfMetrics struct {
	Registry *prometheus.Registry

	Cycles            *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	LinesParsed       prometheus.Counter
	AddressesFiltered prometheus.Counter
	CursorOffset      prometheus.Gauge
	CursorResets      *prometheus.CounterVec
	LastSuccess       prometheus.Gauge
}

// NewSelfMetrics creates the metrics on a private registry, together with
// the Go runtime and process collectors.
func NewSelfMetrics() *SelfMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	f.NewGauge(prometheus.GaugeOpts{
		Name: "usermetrics_build_info",
		Help: "Build information; always 1.",
		ConstLabels: prometheus.Labels{
			"version": version.Short(),
			"commit":  version.ShortCommit(),
		},
	}).Set(1)

	return &SelfMetrics{
		Registry: reg,
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usermetrics_cycles_total",
			Help: "Collection cycles run, by result.",
		}, []string{"result"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "usermetrics_cycle_duration_seconds",
			Help:    "Duration of collection cycles.",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		LinesParsed: f.NewCounter(prometheus.CounterOpts{
			Name: "usermetrics_lines_parsed_total",
			Help: "Log lines within the lookback window that carried a valid address.",
		}),
		AddressesFiltered: f.NewCounter(prometheus.CounterOpts{
			Name: "usermetrics_addresses_filtered_total",
			Help: "Addresses skipped as private, loopback, or known resolvers.",
		}),
		CursorOffset: f.NewGauge(prometheus.GaugeOpts{
			Name: "usermetrics_cursor_offset_bytes",
			Help: "Bytes of the current log file consumed so far.",
		}),
		CursorResets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usermetrics_cursor_resets_total",
			Help: "Times the log cursor restarted from zero, by reason.",
		}, []string{"reason"}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "usermetrics_last_success_timestamp_seconds",
			Help: "Unix time of the last successful collection cycle.",
		}),
	}
}

// WriteGatherer encodes everything g gathers in the text exposition format.
func WriteGatherer(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
