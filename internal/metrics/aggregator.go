/*
Package metrics holds the latest collection results and renders them in
the Prometheus text exposition format.

The Aggregator has a single writer (the collection scheduler) and any
number of readers (HTTP handlers). Snapshots are immutable and swapped
through an atomic pointer, so a reader always sees the counters of one
cycle together, never a mix of two.
*/
package metrics

import (
	"sync/atomic"
	"time"
)

// DefaultDonor labels metrics when no donor is configured.
const DefaultDonor = "vmvm"

// Snapshot is the result of one collection cycle.
type Snapshot struct {
	UniqueClients    int64
	TotalConnections int64
	BlockedCount     int64
	Donor            string
	CollectedAt      time.Time
}

// BlockedPercentage returns BlockedCount as a percentage of
// TotalConnections, or 0 when there were no connections.
func (s Snapshot) BlockedPercentage() float64 {
	if s.TotalConnections <= 0 {
		return 0
	}
	return float64(s.BlockedCount) / float64(s.TotalConnections) * 100
}

// Aggregator publishes snapshots from the scheduler to readers.
type Aggregator struct {
	donor string
	cur   atomic.Pointer[Snapshot]
}

// NewAggregator creates an Aggregator whose initial snapshot reports all
// counters as zero.
func NewAggregator(donor string) *Aggregator {
	if donor == "" {
		donor = DefaultDonor
	}
	a := &Aggregator{donor: donor}
	a.cur.Store(&Snapshot{Donor: donor})
	return a
}

// Publish replaces the current snapshot. A snapshot without a donor label
// gets the aggregator's.
func (a *Aggregator) Publish(s Snapshot) {
	if s.Donor == "" {
		s.Donor = a.donor
	}
	a.cur.Store(&s)
}

// PublishZero replaces the current snapshot with zero counters, as after a
// failed cycle.
func (a *Aggregator) PublishZero(at time.Time) {
	a.Publish(Snapshot{CollectedAt: at})
}

// Snapshot returns the most recently published snapshot.
func (a *Aggregator) Snapshot() Snapshot {
	return *a.cur.Load()
}

// Donor returns the label attached to published snapshots.
func (a *Aggregator) Donor() string {
	return a.donor
}
