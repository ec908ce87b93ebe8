//go:build unix

package mmfile

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Map maps the file at path into memory and returns its contents.
func Map(path string) ([]byte, func() error, error) {
	return MapRange(path, 0, -1)
}

// MapRange maps n bytes starting at off of the file at path read-only.
// A negative n maps through the end of the file. The returned slice is
// exactly the requested range even though the mapping starts on a page boundary.
func MapRange(path string, off, n int64) ([]byte, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close() // safe before return; mapping keeps pages alive

	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := info.Size()
	if off < 0 || off > size {
		return nil, nil, fmt.Errorf("mmfile: offset %d outside file of %d bytes", off, size)
	}
	if n < 0 || n > size-off {
		n = size - off
	}
	if n == 0 {
		return []byte{}, func() error { return nil }, nil
	}

	pageOff := off - off%int64(os.Getpagesize())
	length := n + (off - pageOff)
	if length > int64(^uint(0)>>1) {
		return nil, nil, fmt.Errorf("mmfile: range too large to map (%d bytes)", length)
	}
	data, err := unix.Mmap(int(f.Fd()), pageOff, int(length), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error {
		if data == nil {
			return nil
		}
		err := unix.Munmap(data)
		data = nil
		if errors.Is(err, unix.EINVAL) {
			// Treat double-unmap as no-op for callers.
			return nil
		}
		return err
	}
	return data[off-pageOff:], cleanup, nil
}
