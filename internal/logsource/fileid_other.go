//go:build !unix

package logsource

import "io/fs"

// fileIdentity falls back to the path where inodes are unavailable;
// rotation is then detected only through truncation.
func fileIdentity(path string, _ fs.FileInfo) string {
	return path
}
