package collector_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compassvpn/user-metrics/internal/collector"
	"github.com/compassvpn/user-metrics/internal/ipfilter"
	"github.com/compassvpn/user-metrics/internal/logparse"
	"github.com/compassvpn/user-metrics/internal/logsource"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// scenarioLog has two public clients in both line formats (three
// connections, one blocked), a private and a resolver address, a line
// without an address, and a line outside the two-minute window.
var scenarioLog = []string{
	"2025/03/01 11:50:00 from 45.9.9.9:40000 accepted tcp:old.example.com:443 [in >> direct]",
	"2025/03/01 11:59:00 from 5.123.36.145:42103 accepted tcp:ads.example.com:443 [in -> blocked]",
	"2025/03/01 11:59:10 from [2a09:dc43:0:0::1]:53518 accepted tcp:www.google.com:443 [in >> direct]",
	"2025/03/01 11:59:20 from tcp:5.123.36.145:42110 accepted udp:1.1.1.1:53 [in >> direct]",
	"2025/03/01 11:59:30 from 192.168.1.5:6000 accepted tcp:example.com:80 [in >> direct]",
	"2025/03/01 11:59:40 [Info] app/dispatcher: default route for tcp:example.com:443",
	"2025/03/01 11:59:50 from 1.1.1.1:53 accepted udp:example.com:53 [in >> direct]",
}

func _writeLog(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func _appendLog(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck // test helper
	_, err = f.WriteString(strings.Join(lines, "\n") + "\n")
	require.NoError(t, err)
}

func _newCycle(path string) *collector.Cycle {
	cls := ipfilter.New(ipfilter.Options{})
	return collector.NewCycle(&collector.CycleConfig{
		LogPath:    path,
		Window:     2 * time.Minute,
		Classifier: cls,
		Parser:     logparse.New(logparse.Config{Normalizer: cls, Location: time.UTC}),
		Now:        func() time.Time { return testNow },
	})
}

func TestCycle_Scenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xray_access.log")
	_writeLog(t, path, scenarioLog...)

	res, err := _newCycle(path).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Unique)
	assert.Equal(t, int64(3), res.Total)
	assert.Equal(t, int64(1), res.Blocked)
	assert.Equal(t, int64(5), res.Parsed)
	assert.Equal(t, int64(2), res.Filtered)
	assert.Equal(t, len(scenarioLog), res.Lines)
	assert.Equal(t, path, res.File)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, fi.Size(), res.Offset)
	assert.NotEmpty(t, res.Identity)
}

func TestCycle_OnlyNewLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xray_access.log")
	_writeLog(t, path, scenarioLog...)
	c := _newCycle(path)

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Total, "nothing appended since the previous cycle")
	assert.Zero(t, res.Lines)

	_appendLog(t, path, "2025/03/01 11:59:55 from 45.3.3.3:1000 accepted tcp:example.com:443 [in -> blocked]")

	res, err = c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Unique)
	assert.Equal(t, int64(1), res.Total)
	assert.Equal(t, int64(1), res.Blocked)
}

func TestCycle_Rotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xray_access.log")
	_writeLog(t, path, scenarioLog...)
	c := _newCycle(path)

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Rename(path, path+".1"))
	_writeLog(t, path, "2025/03/01 11:59:58 from 45.4.4.4:1000 accepted tcp:example.com:443 [in >> direct]")
	// The rotated file must not be the newest candidate.
	old := testNow.Add(-time.Hour)
	require.NoError(t, os.Chtimes(path+".1", old, old))

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Rotated)
	assert.Equal(t, path, res.File)
	assert.Equal(t, int64(1), res.Unique)
	assert.Equal(t, int64(1), res.Total)
}

func TestCycle_MissingLogResetsCursor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xray_access.log")
	_writeLog(t, path, scenarioLog...)
	c := _newCycle(path)

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, c.Cursor().Cursor().IsZero())

	require.NoError(t, os.Remove(path))

	_, err = c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, logsource.ErrNoLogFiles))
	assert.True(t, c.Cursor().Cursor().IsZero())
}

func TestCycle_CanceledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xray_access.log")
	_writeLog(t, path, scenarioLog...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := _newCycle(path).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
