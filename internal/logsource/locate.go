/*
Package logsource finds the active access log among its rotated siblings
and reads it incrementally.

Locate ranks the base log and every sibling sharing its name prefix
(xray_access.log.1, xray_access.log.2.gz, ...) by modification time.
Tracker remembers the identity and byte offset of the last consumed
line, so each pass reads only what was appended since the previous one
and starts over when the file is rotated or truncated.
*/
package logsource

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoLogFiles is returned by Locate when neither the base log nor any
// rotated sibling exists.
var ErrNoLogFiles = errors.New("no log files found")

// Candidate is a log file that may hold the most recent entries.
type Candidate struct {
	Path       string
	Compressed bool
	ModTime    time.Time
	Size       int64
}

// Locate returns the base log and its rotated siblings, most recently
// modified first.
func Locate(base string) ([]Candidate, error) {
	dir := filepath.Dir(base)
	name := filepath.Base(base)

	var out []Candidate

	if fi, err := os.Stat(base); err == nil && fi.Mode().IsRegular() {
		out = append(out, Candidate{
			Path:    base,
			ModTime: fi.ModTime(),
			Size:    fi.Size(),
		})
	}

	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list log dir %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.Name() == name || !strings.HasPrefix(e.Name(), name) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		// Stat follows symlinks, matching what a reader would open.
		fi, statErr := os.Stat(path)
		if statErr != nil || !fi.Mode().IsRegular() {
			continue
		}
		out = append(out, Candidate{
			Path:       path,
			Compressed: strings.HasSuffix(e.Name(), ".gz"),
			ModTime:    fi.ModTime(),
			Size:       fi.Size(),
		})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("locate %s: %w", base, ErrNoLogFiles)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ModTime.After(out[j].ModTime)
	})

	return out, nil
}
