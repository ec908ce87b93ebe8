//go:build !unix && !windows

package mmfile

// Map reads the entire file when mmap is not available.
func Map(path string) ([]byte, func() error, error) {
	return MapRange(path, 0, -1)
}

// MapRange reads n bytes at off when mmap is not available. A negative n
// reads through the end of the file.
func MapRange(path string, off, n int64) ([]byte, func() error, error) {
	return readRange(path, off, n)
}
