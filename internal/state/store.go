/*
Package state persists the log cursor between runs.

The exporter works without persistence: the memory store forgets the
cursor on restart, and the first cycle re-reads the whole log. The sqlite
and redis stores let a restarted exporter resume where it stopped.
*/
package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/compassvpn/user-metrics/internal/logsource"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// DefaultRedisKey is the hash holding the cursor when none is configured.
const DefaultRedisKey = "usermetrics:cursor"

// ErrUnknownBackend is returned by Open for an unrecognized backend name.
var ErrUnknownBackend = errors.New("unknown state backend")

// Store loads and saves a log cursor.
type Store interface {
	// Load returns the saved cursor, or a zero cursor when nothing was saved.
	Load(ctx context.Context) (logsource.Cursor, error)
	Save(ctx context.Context, c logsource.Cursor) error
	Close() error
}

// RedisOptions configures the redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Options selects and configures a backend.
type Options struct {
	Backend string
	Path    string
	Redis   RedisOptions
}

// Open creates the store named by opts.Backend. An empty backend means memory.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendSQLite:
		return OpenSQLite(opts.Path)
	case BackendRedis:
		return OpenRedis(ctx, opts.Redis)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
