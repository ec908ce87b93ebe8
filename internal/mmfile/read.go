//go:build !unix

package mmfile

import (
	"fmt"
	"io"
	"os"
)

func readRange(path string, off, n int64) ([]byte, func() error, error) {
	noop := func() error { return nil }
	f, err := os.Open(path)
	if err != nil {
		return nil, noop, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, noop, err
	}
	size := info.Size()
	if off < 0 || off > size {
		return nil, noop, fmt.Errorf("mmfile: offset %d outside file of %d bytes", off, size)
	}
	if n < 0 || n > size-off {
		n = size - off
	}
	data := make([]byte, n)
	if _, err := f.ReadAt(data, off); err != nil && err != io.EOF {
		return nil, noop, err
	}
	return data, noop, nil
}
