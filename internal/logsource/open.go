package logsource

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

const readBufferSize = 64 * 1024

// Reader reads a plain or gzip-compressed log file. Offsets passed to
// Skip are in decompressed bytes for compressed files.
type Reader struct {
	f    *os.File
	gz   *gzip.Reader
	info fs.FileInfo
}

// Open opens c for reading, decompressing it transparently when
// c.Compressed is set.
func Open(c Candidate) (*Reader, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", c.Path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat log %s: %w", c.Path, err)
	}

	r := &Reader{f: f, info: info}
	// An empty compressed file has no gzip header; read it as plain.
	if c.Compressed && info.Size() > 0 {
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("open gzip log %s: %w", c.Path, err)
		}
		r.gz = gz
	}

	return r, nil
}

// Info returns the file info captured when the file was opened.
func (r *Reader) Info() fs.FileInfo {
	return r.info
}

// Compressed reports whether the file is read through gzip.
func (r *Reader) Compressed() bool {
	return r.gz != nil
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if r.gz != nil {
		return r.gz.Read(p)
	}
	return r.f.Read(p)
}

// Skip positions the reader n bytes into the content. For compressed files
// it returns io.ErrUnexpectedEOF when the content is shorter than n.
func (r *Reader) Skip(n int64) error {
	if n <= 0 {
		return nil
	}
	if r.gz == nil {
		if _, err := r.f.Seek(n, io.SeekStart); err != nil {
			return fmt.Errorf("seek log %s: %w", r.f.Name(), err)
		}
		return nil
	}

	if _, err := io.CopyN(io.Discard, r.gz, n); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return fmt.Errorf("skip gzip log %s: %w", r.f.Name(), err)
	}
	return nil
}

// Rewind moves the reader back to the start of the content.
func (r *Reader) Rewind() error {
	if _, err := r.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind log %s: %w", r.f.Name(), err)
	}
	if r.gz != nil {
		if err := r.gz.Reset(r.f); err != nil {
			return fmt.Errorf("rewind gzip log %s: %w", r.f.Name(), err)
		}
	}
	return nil
}

// Close closes the decompressor, if any, and the file.
func (r *Reader) Close() error {
	if r.gz != nil {
		_ = r.gz.Close()
	}
	return r.f.Close()
}

// Lines calls fn for every newline-terminated line in r, without the line
// terminator. A trailing fragment with no newline is not delivered and not
// counted in consumed, so a line still being written is picked up whole on
// the next pass.
func Lines(r io.Reader, fn func(line string)) (consumed int64, lines int, err error) {
	br := bufio.NewReaderSize(r, readBufferSize)
	for {
		line, readErr := br.ReadString('\n')
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return consumed, lines, nil
			}
			return consumed, lines, readErr
		}
		consumed += int64(len(line))
		lines++
		fn(strings.TrimRight(line, "\r\n"))
	}
}
