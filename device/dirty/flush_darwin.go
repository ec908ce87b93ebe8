//go:build darwin

package dirty

import (
	"golang.org/x/sys/unix"
)

// fdatasync performs file descriptor sync.
//
// On macOS, if fullfsync is true, use F_FULLFSYNC so data reaches the
// physical disk rather than the drive cache. Otherwise, use regular fsync.
func fdatasync(fd uintptr, fullfsync bool) error {
	if fullfsync {
		_, err := unix.FcntlInt(fd, unix.F_FULLFSYNC, 0)
		return err
	}
	// macOS doesn't have fdatasync, use fsync
	return unix.Fsync(int(fd))
}
