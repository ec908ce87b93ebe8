//go:build windows

package dirty

import (
	"golang.org/x/sys/windows"
)

// fdatasync performs file handle sync using FlushFileBuffers.
// The fullfsync parameter is ignored on Windows.
func fdatasync(fd uintptr, _ bool) error {
	return windows.FlushFileBuffers(windows.Handle(fd))
}
