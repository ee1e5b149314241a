package version_test

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/compassvpn/user-metrics/internal/version"
)

func TestFull(t *testing.T) {
	orig := version.Commit
	t.Cleanup(func() { version.Commit = orig })
	version.Commit = "0123456789abcdef"

	full := version.Full()
	assert.True(t, strings.HasPrefix(full, "usermetrics dev "))
	assert.Contains(t, full, "commit: 0123456")
	assert.NotContains(t, full, "0123456789")
	assert.Contains(t, full, runtime.GOOS+"/"+runtime.GOARCH)
}

func TestShortCommit_Short(t *testing.T) {
	orig := version.Commit
	t.Cleanup(func() { version.Commit = orig })
	version.Commit = "abc"

	assert.Equal(t, "abc", version.ShortCommit())
	assert.Equal(t, "dev", version.Short())
}
