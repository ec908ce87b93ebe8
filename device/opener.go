package device

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/joshuapare/hexkit/internal/buf"
	"github.com/joshuapare/hexkit/internal/logger"
	"github.com/joshuapare/hexkit/internal/mmfile"
	"github.com/joshuapare/hexkit/pkg/types"
)

const (
	roFlag = os.O_RDONLY
	rwFlag = os.O_RDWR
)

// LoadOptions controls how a path is opened.
type LoadOptions struct {
	// ReadOnly opens without write access.
	ReadOnly bool

	// FixedSize forbids resizing. Ranged devices are always fixed-size.
	FixedSize bool

	// Memory loads the content fully into memory. The load fails with a
	// *types.LoadLimitError when it exceeds the memory load limit.
	Memory bool

	// Create creates an empty file when path does not exist.
	Create bool

	// RangeStart and RangeLength expose only a window of the file.
	// A zero RangeLength opens the whole file.
	RangeStart  int64
	RangeLength int64

	// MemoryLoadLimit overrides the opener's limit when non-zero.
	MemoryLoadLimit int64
}

func (o LoadOptions) ranged() bool { return o.RangeLength > 0 }

// OpenerOptions configures an Opener.
type OpenerOptions struct {
	Fs     afero.Fs // defaults to the OS filesystem
	Limits types.Limits
	Logger *slog.Logger
}

// Opener opens devices by path and tracks which paths are open.
type Opener struct {
	fs     afero.Fs
	osfs   bool
	limits types.Limits
	log    *slog.Logger

	mu   sync.Mutex
	open map[string][]*registration
}

type registration struct {
	ranged   bool
	start    int64
	length   int64
	readOnly bool
}

// NewOpener creates an opener. Zero limits fall back to types.DefaultLimits.
func NewOpener(opts OpenerOptions) *Opener {
	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	_, osfs := fsys.(*afero.OsFs)

	limits := opts.Limits
	if limits == (types.Limits{}) {
		limits = types.DefaultLimits()
	}
	return &Opener{
		fs:     fsys,
		osfs:   osfs,
		limits: limits.Normalize(),
		log:    logger.Or(opts.Logger),
		open:   make(map[string][]*registration),
	}
}

// Fs returns the filesystem devices are opened on.
func (o *Opener) Fs() afero.Fs { return o.fs }

// Open opens path as a device.
//
// A read-write open that is denied permission falls back to read-only; the
// returned device reports ReadOnly in that case. Opening a path that is
// already open fails with types.ErrConflict unless both opens are ranged and
// their windows are disjoint or both read-only.
func (o *Opener) Open(path string, opts LoadOptions) (Device, error) {
	key := filepath.Clean(path)

	f, readOnly, err := o.openFile(key, opts)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, types.Errorf(types.ErrKindIO, err, "stat %q", key)
	}

	start, length := int64(0), info.Size()
	if opts.ranged() {
		if _, err := buf.CheckRange(info.Size(), opts.RangeStart, opts.RangeLength); err != nil {
			f.Close()
			return nil, types.Errorf(types.ErrKindSeek, err, "range of %q", key)
		}
		start, length = opts.RangeStart, opts.RangeLength
	}

	if opts.Memory {
		if err := o.CheckMemoryLoad(key, length, opts); err != nil {
			f.Close()
			return nil, err
		}
	}

	release, err := o.reserve(key, &registration{
		ranged:   opts.ranged(),
		start:    start,
		length:   length,
		readOnly: readOnly,
	})
	if err != nil {
		f.Close()
		return nil, err
	}

	if opts.Memory {
		dev, err := o.loadMemory(f, key, start, length, readOnly, opts)
		if err != nil {
			f.Close()
			release()
			return nil, err
		}
		dev.release = release
		o.log.Debug("device opened", "path", key, "memory", true, "size", length, "read_only", readOnly)
		return dev, nil
	}

	dev := newFileDevice(o.fs, f, key, fileConfig{
		start:     start,
		size:      length,
		ranged:    opts.ranged(),
		readOnly:  readOnly,
		fixed:     opts.FixedSize,
		cacheSize: o.limits.CacheSize,
		boundary:  o.limits.CacheBoundary,
	})
	dev.release = release
	o.log.Debug("device opened", "path", key, "memory", false, "size", length, "read_only", readOnly)
	return dev, nil
}

// Limits returns the limits devices are opened with.
func (o *Opener) Limits() types.Limits { return o.limits }

// CheckMemoryLoad fails with a *types.LoadLimitError when loading length
// bytes of path into memory would exceed the memory load limit.
func (o *Opener) CheckMemoryLoad(path string, length int64, opts LoadOptions) error {
	limit := opts.MemoryLoadLimit
	if limit == 0 {
		limit = o.limits.MemoryLoadLimit
	}
	if limit > 0 && length > limit {
		o.log.Warn("memory load rejected", "path", path, "size", length, "limit", limit)
		return &types.LoadLimitError{Requested: length, Limit: limit}
	}
	return nil
}

// IsOpen reports whether any device for path is currently open.
func (o *Opener) IsOpen(path string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.open[filepath.Clean(path)]) > 0
}

func (o *Opener) openFile(path string, opts LoadOptions) (afero.File, bool, error) {
	if opts.ReadOnly {
		f, err := o.fs.OpenFile(path, roFlag, 0)
		if err != nil {
			return nil, false, types.Errorf(types.ErrKindIO, err, "open %q", path)
		}
		return f, true, nil
	}

	flag := rwFlag
	if opts.Create && !opts.ranged() {
		flag |= os.O_CREATE
	}
	f, err := o.fs.OpenFile(path, flag, 0o644)
	if err == nil {
		return f, false, nil
	}
	if !errors.Is(err, fs.ErrPermission) {
		return nil, false, types.Errorf(types.ErrKindIO, err, "open %q", path)
	}

	f, roErr := o.fs.OpenFile(path, roFlag, 0)
	if roErr != nil {
		return nil, false, types.Errorf(types.ErrKindIO, err, "open %q", path)
	}
	o.log.Info("opened read-only after permission failure", "path", path, "error", err)
	return f, true, nil
}

func (o *Opener) loadMemory(f afero.File, path string, start, length int64, readOnly bool, opts LoadOptions) (*MemoryDevice, error) {
	dev := &MemoryDevice{
		name:     path,
		readOnly: readOnly,
		fixed:    opts.FixedSize || opts.ranged(),
	}

	if o.osfs && length > 0 {
		var data []byte
		var unmap func() error
		var err error
		if opts.ranged() {
			data, unmap, err = mmfile.MapRange(path, start, length)
		} else {
			data, unmap, err = mmfile.Map(path)
		}
		if err == nil && int64(len(data)) != length {
			_ = unmap()
			err = fmt.Errorf("mapped %d bytes, want %d", len(data), length)
		}
		if err == nil {
			dev.data, dev.unmap = data, unmap
		} else {
			o.log.Debug("mapping failed, reading instead", "path", path, "error", err)
		}
	}
	if dev.data == nil {
		data := make([]byte, length)
		if got, err := f.ReadAt(data, start); int64(got) != length {
			return nil, types.Errorf(types.ErrKindIO, err, "load %q", path)
		}
		dev.data = data
	}

	if readOnly {
		f.Close()
	} else {
		dev.backing = &backing{f: f, off: start, ranged: opts.ranged()}
	}
	return dev, nil
}

func (o *Opener) reserve(key string, r *registration) (func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, e := range o.open[key] {
		if !r.ranged || !e.ranged {
			return nil, types.Errorf(types.ErrKindConflict, nil, "%q is already open", key)
		}
		if _, _, overlap := buf.Intersect(r.start, r.length, e.start, e.length); overlap && !(r.readOnly && e.readOnly) {
			return nil, types.Errorf(types.ErrKindConflict, nil,
				"range [%d, %d) of %q overlaps an open range", r.start, r.start+r.length, key)
		}
	}
	o.open[key] = append(o.open[key], r)

	var once sync.Once
	return func() {
		once.Do(func() { o.unregister(key, r) })
	}, nil
}

func (o *Opener) unregister(key string, r *registration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	list := o.open[key]
	for i, e := range list {
		if e == r {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(o.open, key)
		return
	}
	o.open[key] = list
}
