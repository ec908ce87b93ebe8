//go:build linux || freebsd

package dirty

import (
	"golang.org/x/sys/unix"
)

// fdatasync performs file descriptor sync.
//
// On Linux/FreeBSD, fdatasync() provides sufficient guarantees.
// The fullfsync parameter is ignored on Linux/FreeBSD.
func fdatasync(fd uintptr, _ bool) error {
	return unix.Fdatasync(int(fd))
}
