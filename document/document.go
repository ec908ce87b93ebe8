package document

import (
	"io"
	"log/slog"
	"sync"

	"github.com/joshuapare/hexkit/chain"
	"github.com/joshuapare/hexkit/device"
	"github.com/joshuapare/hexkit/internal/logger"
	"github.com/joshuapare/hexkit/pkg/types"
)

// Option configures a Document.
type Option func(*Document)

// WithLogger sets the logger used for save events. Defaults to logger.L.
func WithLogger(l *slog.Logger) Option {
	return func(d *Document) { d.log = l }
}

// WithReadOnly starts the document read-only.
func WithReadOnly(readOnly bool) Option {
	return func(d *Document) { d.readOnly = readOnly }
}

// WithFixedSize starts the document with a frozen length.
func WithFixedSize(fixed bool) Option {
	return func(d *Document) { d.fixed = fixed }
}

// WithLimits overrides the history depth, merge limit and save block size.
func WithLimits(l types.Limits) Option {
	return func(d *Document) { d.limits = l.Normalize() }
}

// Document is an editable view over a device.
type Document struct {
	mu      sync.RWMutex
	dev     device.Device
	retired []device.Device // replaced devices still referenced by history
	chain   *chain.Chain
	hist    history

	readOnly bool
	fixed    bool
	closed   bool

	limits types.Limits
	log    *slog.Logger

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// New returns a document over dev. The document owns dev and closes it on
// Close. A read-only or fixed-size device forces the matching policy.
func New(dev device.Device, opts ...Option) *Document {
	d := &Document{
		dev:    dev,
		limits: types.DefaultLimits(),
		subs:   make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = logger.Or(d.log)
	d.readOnly = d.readOnly || dev.ReadOnly()
	d.fixed = d.fixed || dev.FixedSize()
	d.chain = chain.OfDevice(dev)
	d.chain.SetMergeLimit(d.limits.MergeLimit)
	d.hist = newHistory(d.limits.HistoryLimit)
	return d
}

// Name returns the name of the current device.
func (d *Document) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dev.Name()
}

// Device returns the device the document currently saves to.
func (d *Document) Device() device.Device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dev
}

// Len returns the logical length in bytes.
func (d *Document) Len() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.chain.Len()
}

// SpanCount returns the number of spans in the overlay.
func (d *Document) SpanCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.chain.Count()
}

// Read returns the n bytes at pos. Device failures are reported as
// *types.DocumentReadError.
func (d *Document) Read(pos, n int64) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, errClosed
	}
	return d.chain.Read(pos, n)
}

// ReadAll returns the whole content.
func (d *Document) ReadAll() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, errClosed
	}
	return d.chain.Read(0, d.chain.Len())
}

// ReadAt implements io.ReaderAt.
func (d *Document) ReadAt(p []byte, off int64) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return 0, errClosed
	}
	size := d.chain.Len()
	if off >= size {
		if len(p) == 0 && off == size {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := min(int64(len(p)), size-off)
	b, err := d.chain.Read(off, n)
	if err != nil {
		return 0, err
	}
	copy(p, b)
	if n < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// ExportRange returns the spans covering [pos, pos+n) without reading
// device bytes. Spans may be inserted into another document with
// InsertSpans.
func (d *Document) ExportRange(pos, n int64) ([]chain.Span, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, errClosed
	}
	return d.chain.Export(pos, n)
}

// IsModified reports whether the content differs from the last save.
func (d *Document) IsModified() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hist.modified()
}

// IsRangeModified reports whether any byte of [pos, pos+n) differs from
// the saved content at the same position.
func (d *Document) IsRangeModified(pos, n int64) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.chain.RangeModified(d.dev, pos, n)
}

// ReadOnly reports whether mutations are rejected.
func (d *Document) ReadOnly() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.readOnly
}

// FixedSize reports whether length changes are rejected.
func (d *Document) FixedSize() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fixed
}

// SetReadOnly changes the read-only policy. A document over a read-only
// device cannot be made writable.
func (d *Document) SetReadOnly(readOnly bool) error {
	d.mu.Lock()
	if !readOnly && d.dev.ReadOnly() {
		d.mu.Unlock()
		return types.ErrReadOnly
	}
	changed := d.readOnly != readOnly
	d.readOnly = readOnly
	d.mu.Unlock()

	if changed {
		d.notify([]Change{{Kind: ReadOnlyChanged}})
	}
	return nil
}

// SetFixedSize changes the fixed-size policy. A document over a fixed-size
// device cannot be made resizable.
func (d *Document) SetFixedSize(fixed bool) error {
	d.mu.Lock()
	if !fixed && d.dev.FixedSize() {
		d.mu.Unlock()
		return types.ErrFrozenSize
	}
	changed := d.fixed != fixed
	d.fixed = fixed
	d.mu.Unlock()

	if changed {
		d.notify([]Change{{Kind: FixedSizeChanged}})
	}
	return nil
}

// Close closes the current device and every device replaced by earlier
// saves. The document cannot be used afterwards.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	err := d.dev.Close()
	for _, r := range d.retired {
		if cerr := r.Close(); err == nil {
			err = cerr
		}
	}
	d.retired = nil
	d.chain.Reset()
	d.hist = newHistory(d.limits.HistoryLimit)
	return err
}

var errClosed = types.Errorf(types.ErrKindIO, nil, "document is closed")
