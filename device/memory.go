package device

import (
	"sync"

	"github.com/spf13/afero"

	"github.com/joshuapare/hexkit/device/dirty"
	"github.com/joshuapare/hexkit/pkg/types"
)

// MemoryOptions configures a MemoryDevice.
type MemoryOptions struct {
	ReadOnly  bool
	FixedSize bool
}

// MemoryDevice keeps all bytes in memory.
//
// A device loaded from a file remembers its origin and writes its content
// back on Sync. Mapped content is copied to the heap on the first mutation.
type MemoryDevice struct {
	mu       sync.RWMutex
	name     string
	data     []byte
	readOnly bool
	fixed    bool
	closed   bool

	unmap func() error // non-nil while data is a read-only mapping

	backing *backing
	changed bool
	release func()
}

// backing is the file region a memory-loaded device was read from.
type backing struct {
	f      afero.File
	off    int64
	ranged bool
}

// NewMemory returns a device over data. The device takes ownership of data.
func NewMemory(name string, data []byte, opts MemoryOptions) *MemoryDevice {
	if data == nil {
		data = []byte{}
	}
	return &MemoryDevice{
		name:     name,
		data:     data,
		readOnly: opts.ReadOnly,
		fixed:    opts.FixedSize,
	}
}

func (m *MemoryDevice) Name() string { return m.name }

func (m *MemoryDevice) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data))
}

func (m *MemoryDevice) ReadOnly() bool { return m.readOnly }

func (m *MemoryDevice) FixedSize() bool { return m.fixed }

func (m *MemoryDevice) Read(off, n int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed(m.name)
	}
	n, err := checkRead(int64(len(m.data)), off, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, m.data[off:off+n])
	return out, nil
}

func (m *MemoryDevice) Write(off int64, p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errClosed(m.name)
	}
	n, err := checkWrite(m.readOnly, int64(len(m.data)), off, len(p))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if err := m.own(); err != nil {
			return 0, &types.WriteIncompleteError{Offset: off, Requested: len(p), Err: err}
		}
		copy(m.data[off:], p[:n])
		m.changed = true
	}
	if n < len(p) {
		return n, &types.WriteIncompleteError{Offset: off, Written: n, Requested: len(p)}
	}
	return n, nil
}

func (m *MemoryDevice) Resize(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed(m.name)
	}
	if err := checkResize(m.readOnly, m.fixed, size); err != nil {
		return err
	}
	if size == int64(len(m.data)) {
		return nil
	}
	if err := m.own(); err != nil {
		return err
	}
	if size <= int64(cap(m.data)) {
		old := len(m.data)
		m.data = m.data[:size]
		if int(size) > old {
			clear(m.data[old:])
		}
	} else {
		grown := make([]byte, size)
		copy(grown, m.data)
		m.data = grown
	}
	m.changed = true
	return nil
}

// Sync writes the content back to the file it was loaded from, if any.
func (m *MemoryDevice) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed(m.name)
	}
	if m.backing == nil || !m.changed {
		return nil
	}
	b := m.backing
	if _, err := b.f.WriteAt(m.data, b.off); err != nil {
		return types.Errorf(types.ErrKindIO, err, "write back %q", m.name)
	}
	if !b.ranged {
		if err := b.f.Truncate(int64(len(m.data))); err != nil {
			return types.Errorf(types.ErrKindIO, err, "truncate %q", m.name)
		}
	}
	if err := dirty.SyncFile(b.f, dirty.FlushAuto); err != nil {
		return types.Errorf(types.ErrKindIO, err, "sync %q", m.name)
	}
	m.changed = false
	return nil
}

func (m *MemoryDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	var err error
	if m.unmap != nil {
		err = m.unmap()
		m.unmap = nil
	}
	m.data = nil
	if m.backing != nil {
		if cerr := m.backing.f.Close(); err == nil {
			err = cerr
		}
		m.backing = nil
	}
	if m.release != nil {
		m.release()
		m.release = nil
	}
	return err
}

// Stage returns an empty growable device that replaces m on Commit.
func (m *MemoryDevice) Stage() (Staging, error) {
	if m.readOnly {
		return nil, types.ErrReadOnly
	}
	return &memoryStaging{
		MemoryDevice: NewMemory(m.name, nil, MemoryOptions{}),
		origin:       m,
	}, nil
}

// own copies mapped content to the heap. Callers hold m.mu.
func (m *MemoryDevice) own() error {
	if m.unmap == nil {
		return nil
	}
	owned := make([]byte, len(m.data))
	copy(owned, m.data)
	err := m.unmap()
	m.unmap = nil
	m.data = owned
	return err
}

type memoryStaging struct {
	*MemoryDevice
	origin *MemoryDevice
}

// Commit writes the staged content back through the origin's file backing,
// then hands that backing and the origin's registration to the staged device.
// On failure the origin keeps both.
func (s *memoryStaging) Commit() (Device, error) {
	o := s.origin
	next := s.MemoryDevice

	o.mu.RLock()
	b := o.backing
	o.mu.RUnlock()

	next.mu.Lock()
	next.fixed = o.fixed
	next.backing = b
	next.changed = true
	next.mu.Unlock()

	if err := next.Sync(); err != nil {
		next.mu.Lock()
		next.backing = nil
		next.mu.Unlock()
		return nil, err
	}

	o.mu.Lock()
	o.backing = nil
	next.release, o.release = o.release, nil
	o.mu.Unlock()
	return next, nil
}

func (s *memoryStaging) Abort() error {
	return s.MemoryDevice.Close()
}
