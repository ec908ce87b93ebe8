//go:build windows

package mmfile

// Map reads the entire file; mapping is not used on Windows.
func Map(path string) ([]byte, func() error, error) {
	return MapRange(path, 0, -1)
}

// MapRange reads n bytes at off of the file at path. A negative n reads
// through the end of the file.
func MapRange(path string, off, n int64) ([]byte, func() error, error) {
	return readRange(path, off, n)
}
