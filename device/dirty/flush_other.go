//go:build !linux && !freebsd && !darwin && !windows

package dirty

import "syscall"

// fdatasync falls back to fsync where no data-only sync is available.
func fdatasync(fd uintptr, _ bool) error {
	return syscall.Fsync(int(fd))
}
