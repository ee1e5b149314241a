/*
Package logparse extracts connection events from xray access log lines.

Two generations of the log format are understood:

	2025/03/01 12:00:01 from 5.123.36.145:42103 accepted tcp:example.com:443 [in -> blocked]
	2025/03/01 12:00:02 from tcp:5.123.36.145:42103 accepted tcp:example.com:443 [in >> out]
	2024/11/20 08:15:42 from [2a09:dc43::1]:53518 accepted tcp:example.com:443

A line yields an Event only when it starts with a well-formed timestamp.
*/
package logparse

import (
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// TimeLayout is the timestamp prefix xray writes on every access log line.
const TimeLayout = "2006/01/02 15:04:05"

// BlockedMarker marks a connection routed to the "blocked" outbound.
const BlockedMarker = "-> blocked]"

var (
	timestampRE = regexp.MustCompile(`^(\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2})`)
	currentRE   = regexp.MustCompile(`from (?:tcp:)?(\d+\.\d+\.\d+\.\d+|\S+):`)
	legacyRE    = regexp.MustCompile(`from (?:\[([0-9a-fA-F:]+)\]|(\d+\.\d+\.\d+\.\d+)):`)
)

// Event is a single connection extracted from a log line.
type Event struct {
	Time time.Time
	// Addr is the normalized client address, or "" when the line carries
	// no valid address.
	Addr    string
	Blocked bool
}

// Normalizer validates and canonicalizes a raw address string.
type Normalizer interface {
	Normalize(raw string) (string, bool)
}

// Config holds parser dependencies.
type Config struct {
	// Normalizer validates extracted addresses. Required.
	Normalizer Normalizer
	// Location is the zone the log timestamps are written in. Nil uses time.Local.
	Location *time.Location
	// Logger receives per-line diagnostics at DEBUG. Nil discards them.
	Logger *slog.Logger
}

// Parser turns raw lines into Events. It holds no per-line state, so
// parsing the same line twice yields the same Event.
type Parser struct {
	norm   Normalizer
	loc    *time.Location
	logger *slog.Logger
}

// New creates a Parser.
func New(cfg Config) *Parser {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Parser{norm: cfg.Normalizer, loc: loc, logger: logger}
}

// Parse extracts an Event from line. It returns false when the line has no
// well-formed timestamp; it never panics on malformed input.
func (p *Parser) Parse(line string) (ev Event, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Debug("log line parse panic", "panic", r, "line", line)
			ev, ok = Event{}, false
		}
	}()

	if !utf8.ValidString(line) {
		line = strings.ToValidUTF8(line, "")
	}

	// The marker check does not depend on the other fields.
	ev.Blocked = strings.Contains(line, BlockedMarker)

	m := timestampRE.FindStringSubmatch(line)
	if m == nil {
		return Event{}, false
	}
	ts, err := time.ParseInLocation(TimeLayout, m[1], p.loc)
	if err != nil {
		p.logger.Debug("invalid log timestamp", "timestamp", m[1])
		return Event{}, false
	}
	ev.Time = ts

	raw, found := extractAddr(line)
	if !found {
		return ev, true
	}
	addr, valid := p.norm.Normalize(raw)
	if !valid {
		p.logger.Debug("invalid address in log line", "raw", raw)
		return ev, true
	}
	ev.Addr = addr

	return ev, true
}

// extractAddr tries the current format first, then the legacy one.
func extractAddr(line string) (string, bool) {
	if m := currentRE.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	if m := legacyRE.FindStringSubmatch(line); m != nil {
		if m[1] != "" {
			return m[1], true
		}
		return m[2], true
	}
	return "", false
}
