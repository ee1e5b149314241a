package logsource

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Cursor marks how much of a log file has been consumed.
type Cursor struct {
	// Identity distinguishes one file from the next one written at the
	// same path ("dev:inode" on unix). Empty means nothing consumed yet.
	Identity string `json:"identity"`
	// Offset is the number of content bytes already consumed.
	Offset int64 `json:"offset"`
}

// IsZero reports whether c is the initial cursor.
func (c Cursor) IsZero() bool {
	return c.Identity == "" && c.Offset == 0
}

// ReadStats describes one pass over a log file.
type ReadStats struct {
	Path      string
	Start     int64 // offset the pass started at
	End       int64 // offset after the pass
	Lines     int
	Rotated   bool // identity changed since the previous pass
	Truncated bool // file shrank below the stored offset
}

// Tracker reads a log incrementally. It owns the process-wide cursor; the
// offset moves forward only after a pass completes without error, and any
// error resets the cursor so the next pass starts from a clean state.
type Tracker struct {
	mu     sync.Mutex
	cur    Cursor
	logger *slog.Logger
}

// NewTracker creates a Tracker starting at initial, which is usually the
// zero Cursor or one restored from a state store.
func NewTracker(initial Cursor, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{cur: initial, logger: logger}
}

// Cursor returns the current cursor.
func (t *Tracker) Cursor() Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}

// Reset returns the cursor to its initial state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.cur = Cursor{}
	t.mu.Unlock()
}

// Read opens c, positions it after the bytes consumed by earlier passes,
// and calls fn for every complete line appended since. A changed file
// identity (rotation) or a file smaller than the stored offset
// (truncation) restarts from the beginning of the file.
func (t *Tracker) Read(c Candidate, fn func(line string)) (ReadStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := ReadStats{Path: c.Path}

	r, err := Open(c)
	if err != nil {
		t.cur = Cursor{}
		return stats, err
	}
	defer r.Close() //nolint:errcheck // read-only

	id := fileIdentity(c.Path, r.Info())
	offset := t.cur.Offset

	if id != t.cur.Identity {
		if t.cur.Identity != "" {
			stats.Rotated = true
			t.logger.Debug("log file rotated, resetting position",
				"path", c.Path,
				"old_identity", t.cur.Identity,
				"new_identity", id,
			)
		}
		offset = 0
	}

	if !r.Compressed() && r.Info().Size() < offset {
		stats.Truncated = true
		t.logger.Debug("log file shrunk, resetting position",
			"path", c.Path,
			"size", r.Info().Size(),
			"offset", offset,
		)
		offset = 0
	}

	if err := r.Skip(offset); err != nil {
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.cur = Cursor{}
			return stats, err
		}
		stats.Truncated = true
		t.logger.Debug("compressed log shorter than position, rereading",
			"path", c.Path,
			"offset", offset,
		)
		offset = 0
		if err := r.Rewind(); err != nil {
			t.cur = Cursor{}
			return stats, err
		}
	}

	if offset > 0 {
		t.logger.Debug("seeking to position", "path", c.Path, "offset", offset)
	}
	stats.Start = offset

	consumed, lines, err := Lines(r, fn)
	stats.Lines = lines
	if err != nil {
		t.cur = Cursor{}
		return stats, fmt.Errorf("read log %s: %w", c.Path, err)
	}

	stats.End = offset + consumed
	t.cur = Cursor{Identity: id, Offset: stats.End}

	return stats, nil
}
