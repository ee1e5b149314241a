/*
Package tracker keeps a bounded, time-to-live map of client addresses to
connection counts.

The map never holds more than MaxEntries addresses: a new address
arriving at capacity evicts the least recently seen one. Entries idle for
longer than the TTL are swept, but sweeps are throttled by size and
interval so that recording stays cheap on busy logs.
*/
package tracker

import (
	"sync"
	"time"
)

// Defaults applied by New for zero-valued Options fields.
const (
	DefaultMaxEntries     = 5000
	DefaultSweepThreshold = 1000
	DefaultSweepInterval  = 30 * time.Second
)

// Options configures a Tracker.
type Options struct {
	// TTL is how long an entry may go unseen before it can be swept.
	TTL time.Duration
	// MaxEntries caps the number of tracked addresses.
	MaxEntries int
	// SweepThreshold is the entry count below which sweeps are skipped.
	SweepThreshold int
	// SweepInterval is the minimum time between two sweeps.
	SweepInterval time.Duration
	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
}

// Entry is the state kept per address.
type Entry struct {
	Count    int64
	LastSeen time.Time
}

// Tracker counts connections per address. It is safe for concurrent use.
type Tracker struct {
	ttl            time.Duration
	maxEntries     int
	sweepThreshold int
	sweepInterval  time.Duration
	now            func() time.Time

	mu        sync.Mutex
	entries   map[string]*Entry
	lastSweep time.Time
}

// New creates an empty Tracker.
func New(opts Options) *Tracker {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.SweepThreshold <= 0 {
		opts.SweepThreshold = DefaultSweepThreshold
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Tracker{
		ttl:            opts.TTL,
		maxEntries:     opts.MaxEntries,
		sweepThreshold: opts.SweepThreshold,
		sweepInterval:  opts.SweepInterval,
		now:            opts.Now,
		entries:        make(map[string]*Entry),
		lastSweep:      opts.Now(),
	}
}

// Record counts one connection from addr. When addr is new and the
// tracker is full, the entry with the oldest LastSeen is evicted first.
func (t *Tracker) Record(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	if e, ok := t.entries[addr]; ok {
		e.Count++
		e.LastSeen = now
		return
	}

	if len(t.entries) >= t.maxEntries {
		t.evictOldest()
	}
	t.entries[addr] = &Entry{Count: 1, LastSeen: now}
}

// evictOldest removes the least recently seen entry. O(n) over a bounded map.
func (t *Tracker) evictOldest() {
	var (
		oldest     string
		oldestSeen time.Time
		found      bool
	)
	for addr, e := range t.entries {
		if !found || e.LastSeen.Before(oldestSeen) {
			oldest, oldestSeen, found = addr, e.LastSeen, true
		}
	}
	if found {
		delete(t.entries, oldest)
	}
}

// Sweep removes expired entries if the throttling conditions allow it and
// returns how many were removed.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sweep(false)
}

// ForceSweep removes expired entries regardless of size and interval
// throttling.
func (t *Tracker) ForceSweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sweep(true)
}

func (t *Tracker) sweep(force bool) int {
	now := t.now()
	if !force && (len(t.entries) < t.sweepThreshold || now.Sub(t.lastSweep) < t.sweepInterval) {
		return 0
	}

	removed := 0
	for addr, e := range t.entries {
		if now.Sub(e.LastSeen) > t.ttl {
			delete(t.entries, addr)
			removed++
		}
	}
	t.lastSweep = now
	return removed
}

// Stats sweeps (subject to throttling) and returns the number of distinct
// addresses and the sum of their counts.
func (t *Tracker) Stats() (unique, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sweep(false)

	for _, e := range t.entries {
		total += e.Count
	}
	return int64(len(t.entries)), total
}

// Len returns the number of tracked addresses.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Get returns a copy of the entry for addr.
func (t *Tracker) Get(addr string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[addr]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}
