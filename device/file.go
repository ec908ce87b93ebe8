package device

import (
	"errors"
	"io"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/joshuapare/hexkit/device/dirty"
	"github.com/joshuapare/hexkit/internal/buf"
	"github.com/joshuapare/hexkit/pkg/types"
)

// FileDevice reads and writes an open file, or a fixed window of one.
type FileDevice struct {
	mu       sync.Mutex
	fs       afero.Fs
	f        afero.File
	path     string
	start    int64 // file offset of device offset 0
	size     int64
	ranged   bool
	readOnly bool
	fixed    bool
	closed   bool

	// read window
	cacheSize int64
	boundary  int64
	cacheOff  int64
	cache     []byte

	release func()
}

type fileConfig struct {
	start     int64
	size      int64
	ranged    bool
	readOnly  bool
	fixed     bool
	cacheSize int64
	boundary  int64
}

func newFileDevice(fs afero.Fs, f afero.File, path string, cfg fileConfig) *FileDevice {
	return &FileDevice{
		fs:        fs,
		f:         f,
		path:      path,
		start:     cfg.start,
		size:      cfg.size,
		ranged:    cfg.ranged,
		readOnly:  cfg.readOnly,
		fixed:     cfg.fixed || cfg.ranged,
		cacheSize: cfg.cacheSize,
		boundary:  max(cfg.boundary, 1),
	}
}

func (d *FileDevice) Name() string { return d.path }

func (d *FileDevice) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

func (d *FileDevice) ReadOnly() bool { return d.readOnly }

func (d *FileDevice) FixedSize() bool { return d.fixed }

// Range returns the file window backing the device.
func (d *FileDevice) Range() (start, length int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.start, d.size
}

func (d *FileDevice) Read(off, n int64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errClosed(d.path)
	}
	n, err := checkRead(d.size, off, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if n == 0 {
		return out, nil
	}
	if d.cacheSize <= 0 || n > d.cacheSize {
		if err := d.readAt(out, off); err != nil {
			return nil, err
		}
		return out, nil
	}
	if !d.cached(off, n) {
		if err := d.fill(off, n); err != nil {
			return nil, err
		}
	}
	copy(out, d.cache[off-d.cacheOff:])
	return out, nil
}

// cached reports whether the read window covers [off, off+n).
func (d *FileDevice) cached(off, n int64) bool {
	return d.cache != nil && off >= d.cacheOff && off+n <= d.cacheOff+int64(len(d.cache))
}

// fill loads a window around off, aligned to the cache boundary, that
// contains [off, off+n).
func (d *FileDevice) fill(off, n int64) error {
	start := max(off-d.cacheSize/2, 0)
	start -= start % d.boundary
	if off+n > start+d.cacheSize {
		start = off - off%d.boundary
	}
	if off+n > start+d.cacheSize {
		start = off
	}
	length := min(d.cacheSize, d.size-start)

	if int64(cap(d.cache)) >= length {
		d.cache = d.cache[:length]
	} else {
		d.cache = make([]byte, length)
	}
	if err := d.readAt(d.cache, start); err != nil {
		d.cache = nil
		return err
	}
	d.cacheOff = start
	return nil
}

func (d *FileDevice) readAt(p []byte, off int64) error {
	got, err := d.f.ReadAt(p, d.start+off)
	if got == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return types.Errorf(types.ErrKindIO, err, "read %q at offset %d", d.path, off)
}

// invalidate drops the read window if it intersects [off, off+n).
func (d *FileDevice) invalidate(off, n int64) {
	if d.cache == nil {
		return
	}
	if _, _, ok := buf.Intersect(d.cacheOff, int64(len(d.cache)), off, n); ok {
		d.cache = nil
	}
}

func (d *FileDevice) Write(off int64, p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errClosed(d.path)
	}
	n, err := checkWrite(d.readOnly, d.size, off, len(p))
	if err != nil {
		return 0, err
	}
	d.invalidate(off, int64(len(p)))
	written, err := d.f.WriteAt(p[:n], d.start+off)
	if err != nil {
		return written, &types.WriteIncompleteError{Offset: off, Written: written, Requested: len(p),
			Err: types.Errorf(types.ErrKindIO, err, "write %q", d.path)}
	}
	if written < len(p) {
		return written, &types.WriteIncompleteError{Offset: off, Written: written, Requested: len(p)}
	}
	return written, nil
}

func (d *FileDevice) Resize(size int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed(d.path)
	}
	if err := checkResize(d.readOnly, d.fixed, size); err != nil {
		return err
	}
	if size == d.size {
		return nil
	}
	if err := d.f.Truncate(d.start + size); err != nil {
		return types.Errorf(types.ErrKindIO, err, "resize %q to %d", d.path, size)
	}
	lo := min(size, d.size)
	d.invalidate(lo, max(size, d.size)-lo)
	d.size = size
	return nil
}

func (d *FileDevice) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed(d.path)
	}
	if d.readOnly {
		return nil
	}
	if err := dirty.SyncFile(d.f, dirty.FlushAuto); err != nil {
		return types.Errorf(types.ErrKindIO, err, "sync %q", d.path)
	}
	return nil
}

func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.cache = nil
	err := d.f.Close()
	if d.release != nil {
		d.release()
		d.release = nil
	}
	return err
}

// ToMemory consumes d and returns a memory device over data, which must be
// the device's full content. The file handle and the open registration move
// to the memory device, which writes its content back on Sync.
func (d *FileDevice) ToMemory(data []byte) (*MemoryDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errClosed(d.path)
	}
	if int64(len(data)) != d.size {
		return nil, types.Errorf(types.ErrKindIO, nil, "%q holds %d bytes, got %d", d.path, d.size, len(data))
	}

	m := &MemoryDevice{
		name:     d.path,
		data:     data,
		readOnly: d.readOnly,
		fixed:    d.fixed,
		release:  d.release,
	}
	if d.readOnly {
		d.f.Close()
	} else {
		m.backing = &backing{f: d.f, off: d.start, ranged: d.ranged}
	}
	d.closed = true
	d.cache = nil
	d.release = nil
	return m, nil
}

// Stage creates a temporary file next to the device's file. Committing it
// renames the temporary file over the original. Ranged devices cannot be
// replaced.
func (d *FileDevice) Stage() (Staging, error) {
	if d.readOnly {
		return nil, types.ErrReadOnly
	}
	if d.ranged {
		return nil, types.Errorf(types.ErrKindFrozenSize, nil, "ranged device %q cannot be replaced", d.path)
	}
	dir, base := filepath.Split(d.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := afero.TempFile(d.fs, dir, "."+base+".hexkit-*")
	if err != nil {
		return nil, types.Errorf(types.ErrKindIO, err, "stage %q", d.path)
	}
	staged := newFileDevice(d.fs, tmp, tmp.Name(), fileConfig{
		cacheSize: d.cacheSize,
		boundary:  d.boundary,
	})
	return &fileStaging{FileDevice: staged, origin: d}, nil
}

type fileStaging struct {
	*FileDevice
	origin *FileDevice
}

// Commit syncs the temporary file, renames it over the origin's path and
// reopens it. The origin keeps its handle, so it still reads the bytes it
// had before the rename until closed.
func (s *fileStaging) Commit() (Device, error) {
	tmpPath := s.path
	if err := s.Sync(); err != nil {
		return nil, err
	}
	if err := s.FileDevice.Close(); err != nil {
		return nil, types.Errorf(types.ErrKindIO, err, "close %q", tmpPath)
	}

	o := s.origin
	if err := o.fs.Rename(tmpPath, o.path); err != nil {
		_ = o.fs.Remove(tmpPath)
		return nil, types.Errorf(types.ErrKindIO, err, "rename %q to %q", tmpPath, o.path)
	}
	f, err := o.fs.OpenFile(o.path, rwFlag, 0)
	if err != nil {
		return nil, types.Errorf(types.ErrKindIO, err, "reopen %q", o.path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, types.Errorf(types.ErrKindIO, err, "stat %q", o.path)
	}

	next := newFileDevice(o.fs, f, o.path, fileConfig{
		size:      info.Size(),
		fixed:     o.fixed,
		cacheSize: o.cacheSize,
		boundary:  o.boundary,
	})
	o.mu.Lock()
	next.release, o.release = o.release, nil
	o.mu.Unlock()
	return next, nil
}

func (s *fileStaging) Abort() error {
	tmpPath := s.path
	err := s.FileDevice.Close()
	if rerr := s.origin.fs.Remove(tmpPath); err == nil {
		err = rerr
	}
	return err
}
