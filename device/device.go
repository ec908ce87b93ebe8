package device

import (
	"github.com/joshuapare/hexkit/internal/buf"
	"github.com/joshuapare/hexkit/pkg/types"
)

// Device is a byte-addressable storage backend.
//
// A Device is owned by exactly one document; implementations guard their
// internal caches but callers must serialize mutations.
type Device interface {
	// Name identifies the device in logs and errors (a path for files).
	Name() string

	// Size returns the current size in bytes.
	Size() int64

	// ReadOnly reports whether writes and resizes are rejected.
	ReadOnly() bool

	// FixedSize reports whether the size may not change.
	FixedSize() bool

	// Read returns up to n bytes at off. Reads crossing the end are clamped;
	// a read starting at or beyond the end fails with a seek error unless n is 0.
	Read(off, n int64) ([]byte, error)

	// Write stores p at off and returns how many bytes were persisted.
	// Fewer than len(p) bytes results in a *types.WriteIncompleteError.
	Write(off int64, p []byte) (int, error)

	// Resize truncates or zero-extends the device.
	Resize(size int64) error

	// Sync makes all successful writes durable.
	Sync() error

	// Close releases the device. Further calls fail.
	Close() error
}

// Stager is implemented by devices that can be replaced wholesale. Savers
// write the full document into the staging device and commit it when every
// byte has been written.
type Stager interface {
	Stage() (Staging, error)
}

// Staging is a writable device that replaces its origin on Commit.
type Staging interface {
	Device

	// Commit makes the staged content the origin's content and returns the
	// device now holding it. The origin stays readable until it is closed.
	Commit() (Device, error)

	// Abort discards the staged content.
	Abort() error
}

// checkRead validates a read request against size and returns the clamped length.
func checkRead(size, off, n int64) (int64, error) {
	if off < 0 || n < 0 {
		return 0, types.Errorf(types.ErrKindSeek, nil, "read at offset %d length %d: negative argument", off, n)
	}
	if off > size || (off == size && n > 0) {
		return 0, types.Errorf(types.ErrKindSeek, nil, "read at offset %d beyond size %d", off, size)
	}
	n, _ = buf.Clamp(size, off, n)
	return n, nil
}

// checkWrite validates a write request and returns how many bytes fit.
func checkWrite(readOnly bool, size, off int64, n int) (int, error) {
	if readOnly {
		return 0, types.ErrReadOnly
	}
	if off < 0 || off > size {
		return 0, types.Errorf(types.ErrKindSeek, nil, "write at offset %d beyond size %d", off, size)
	}
	return int(min(int64(n), size-off)), nil
}

// checkResize validates a resize request.
func checkResize(readOnly, fixed bool, size int64) error {
	if readOnly {
		return types.ErrReadOnly
	}
	if fixed {
		return types.ErrFrozenSize
	}
	if size < 0 {
		return types.Errorf(types.ErrKindSeek, nil, "resize to negative size %d", size)
	}
	return nil
}

func errClosed(name string) error {
	return types.Errorf(types.ErrKindIO, nil, "device %q is closed", name)
}
