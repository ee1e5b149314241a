//go:build unix

package logsource

import (
	"fmt"
	"io/fs"
	"syscall"
)

// fileIdentity returns "dev:inode", which changes when a rotator renames the
// log away and a fresh file takes its place.
func fileIdentity(path string, fi fs.FileInfo) string {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return path
	}
	return fmt.Sprintf("%d:%d", st.Dev, st.Ino)
}
