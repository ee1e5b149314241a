package state_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compassvpn/user-metrics/internal/logsource"
	"github.com/compassvpn/user-metrics/internal/state"
)

// _roundTrip checks the behavior every backend shares.
func _roundTrip(t *testing.T, s state.Store) {
	t.Helper()
	ctx := context.Background()

	c, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, c.IsZero(), "fresh store must load a zero cursor")

	want := logsource.Cursor{Identity: "2049:131077", Offset: 4096}
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	want = logsource.Cursor{Identity: "2049:131078", Offset: 12}
	require.NoError(t, s.Save(ctx, want))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMemory(t *testing.T) {
	_roundTrip(t, state.NewMemory())
}

func TestSQLite(t *testing.T) {
	s, err := state.OpenSQLite(":memory:")
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck // test cleanup

	_roundTrip(t, s)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := state.OpenSQLite(path)
	require.NoError(t, err)
	want := logsource.Cursor{Identity: "2049:7", Offset: 99}
	require.NoError(t, s.Save(ctx, want))
	require.NoError(t, s.Close())

	s, err = state.OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck // test cleanup

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSQLite_EmptyPath(t *testing.T) {
	_, err := state.OpenSQLite("")
	assert.Error(t, err)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("USER_METRICS_TEST_REDIS")
	if addr == "" {
		t.Skip("USER_METRICS_TEST_REDIS not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := state.OpenRedis(ctx, state.RedisOptions{
		Addr: addr,
		Key:  fmt.Sprintf("usermetrics:test:%d", time.Now().UnixNano()),
	})
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck // test cleanup

	_roundTrip(t, s)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := state.Open(ctx, state.Options{})
	require.NoError(t, err)
	assert.IsType(t, &state.Memory{}, s)

	s, err = state.Open(ctx, state.Options{Backend: state.BackendSQLite, Path: ":memory:"})
	require.NoError(t, err)
	assert.IsType(t, &state.SQLite{}, s)
	require.NoError(t, s.Close())

	_, err = state.Open(ctx, state.Options{Backend: "etcd"})
	assert.ErrorIs(t, err, state.ErrUnknownBackend)
}
