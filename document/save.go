package document

import (
	"context"
	"errors"
	"time"

	"github.com/joshuapare/hexkit/chain"
	"github.com/joshuapare/hexkit/device"
	"github.com/joshuapare/hexkit/device/dirty"
	"github.com/joshuapare/hexkit/internal/buf"
	"github.com/joshuapare/hexkit/pkg/types"
)

// Save strategies, as reported in logs.
const (
	strategyInPlace = "in-place"
	strategyReplace = "replace"
	strategySaveAs  = "save-as"
)

// Save commits the content to the document's device.
//
// On success IsModified becomes false and the undo history is kept. On
// failure the content and modified state are unchanged and the error is a
// *types.SaveError.
func (d *Document) Save(ctx context.Context) error {
	d.mu.Lock()
	changes, err := d.saveLocked(ctx)
	d.mu.Unlock()
	d.notify(changes)
	return err
}

// SaveAs writes the content into target and makes target the document's
// device. The previous device is never written; it stays open while the
// history may still reference it and is closed by Close.
func (d *Document) SaveAs(ctx context.Context, target device.Device) error {
	d.mu.Lock()
	changes, err := d.saveAsLocked(ctx, target)
	d.mu.Unlock()
	d.notify(changes)
	return err
}

func (d *Document) saveLocked(ctx context.Context) ([]Change, error) {
	if d.closed {
		return nil, errClosed
	}
	before := d.stateLocked()
	d.hist.flush()
	if !d.hist.modified() {
		return diff(nil, before, d.stateLocked()), nil
	}
	if d.dev.ReadOnly() {
		return nil, d.saveError(d.dev, -1, 0, false, types.ErrReadOnly)
	}

	start := time.Now()
	var (
		strategy string
		written  int64
		err      error
	)
	if d.alignedLocked() {
		strategy = strategyInPlace
		written, err = d.saveInPlace(ctx)
	} else if st, ok := d.dev.(device.Stager); ok {
		strategy = strategyReplace
		written, err = d.saveReplace(ctx, st)
	} else {
		strategy = strategyInPlace
		if err = d.materializeLocked(); err == nil {
			written, err = d.saveInPlace(ctx)
		}
	}
	if err != nil {
		d.log.Error("save failed", "device", d.dev.Name(), "strategy", strategy, "error", err)
		return nil, err
	}

	d.hist.markSaved()
	d.log.Info("save completed", "device", d.dev.Name(), "strategy", strategy,
		"bytes_written", written, "size", d.chain.Len(), "duration", time.Since(start))
	return diff(nil, before, d.stateLocked()), nil
}

// alignedLocked reports whether every span backed by the current device
// sits at its own device offset, so only the other spans need writing.
func (d *Document) alignedLocked() bool {
	aligned := true
	d.chain.Walk(func(pos int64, s chain.Span) bool {
		if s.Kind == chain.KindDevice && s.Dev == d.dev && !s.AlignedWith(d.dev, pos) {
			aligned = false
		}
		return aligned
	})
	return aligned
}

// materializeLocked turns misplaced spans of the current device into
// literal spans, leaving only aligned device spans.
func (d *Document) materializeLocked() error {
	spans := d.chain.Spans()
	var pos int64
	for i, s := range spans {
		if s.Kind == chain.KindDevice && s.Dev == d.dev && !s.AlignedWith(d.dev, pos) {
			b, err := s.Dev.Read(s.Offset, s.Len)
			if err != nil {
				return d.saveError(d.dev, i, pos, false, err)
			}
			spans[i] = chain.FromBytes(b)
		}
		pos += s.Len
	}
	d.chain.Reset(spans...)
	return nil
}

// region is a span that must be written at a device offset.
type region struct {
	index int
	pos   int64
	span  chain.Span
}

func (d *Document) saveInPlace(ctx context.Context) (int64, error) {
	dev := d.dev
	oldSize, newSize := dev.Size(), d.chain.Len()
	if oldSize != newSize && dev.FixedSize() {
		return 0, d.saveError(dev, -1, 0, false, types.ErrFrozenSize)
	}

	var regions []region
	var i int
	d.chain.Walk(func(pos int64, s chain.Span) bool {
		if !s.AlignedWith(dev, pos) {
			regions = append(regions, region{index: i, pos: pos, span: s})
		}
		i++
		return true
	})

	// History spans over bytes about to change must keep their old content.
	overwritten := make([]buf.Range, 0, len(regions)+1)
	for _, r := range regions {
		overwritten = append(overwritten, buf.Range{Off: r.pos, Len: r.span.Len})
	}
	if newSize < oldSize {
		overwritten = append(overwritten, buf.Range{Off: newSize, Len: oldSize - newSize})
	}
	if err := d.dissolveLocked(dev, overwritten); err != nil {
		return 0, d.saveError(dev, -1, 0, false, err)
	}

	partial := false
	if newSize > oldSize {
		if err := dev.Resize(newSize); err != nil {
			return 0, d.saveError(dev, -1, 0, false, err)
		}
		partial = true
	}

	tracker := dirty.NewTracker(dev)
	for _, r := range regions {
		if err := d.writeSpan(ctx, dev, r.pos, r.span, tracker); err != nil {
			return tracker.Bytes(), d.saveError(dev, r.index, r.pos, partial || !tracker.Empty(), err)
		}
	}

	if newSize < oldSize {
		if err := dev.Resize(newSize); err != nil {
			return tracker.Bytes(), d.saveError(dev, -1, 0, partial || !tracker.Empty(), err)
		}
	}
	written := tracker.Bytes()
	synced := !tracker.Empty()
	if err := tracker.Flush(ctx, dirty.FlushAuto); err != nil {
		return written, d.saveError(dev, -1, 0, partial || synced, err)
	}
	if !synced && newSize != oldSize {
		if err := dev.Sync(); err != nil {
			return written, d.saveError(dev, -1, 0, true, err)
		}
	}

	d.chain.Reset(chain.FromDevice(dev, 0, newSize))
	return written, nil
}

func (d *Document) saveReplace(ctx context.Context, st device.Stager) (int64, error) {
	old := d.dev
	staging, err := st.Stage()
	if err != nil {
		return 0, d.saveError(old, -1, 0, false, err)
	}

	written, err := d.writeAll(ctx, staging)
	if err != nil {
		if aerr := staging.Abort(); aerr != nil {
			d.log.Warn("discarding staged save failed", "device", old.Name(), "error", aerr)
		}
		// The original device has not been touched.
		var se *types.SaveError
		if errors.As(err, &se) {
			se.Device, se.Partial = old.Name(), false
		}
		return written, err
	}

	next, err := staging.Commit()
	if err != nil {
		if aerr := staging.Abort(); aerr != nil {
			d.log.Debug("discarding staged save failed", "device", old.Name(), "error", aerr)
		}
		return written, d.saveError(old, -1, 0, false, err)
	}

	d.retired = append(d.retired, old)
	d.dev = next
	d.chain.Reset(chain.FromDevice(next, 0, next.Size()))
	return written, nil
}

func (d *Document) saveAsLocked(ctx context.Context, target device.Device) ([]Change, error) {
	if d.closed {
		return nil, errClosed
	}
	if target == d.dev {
		return d.saveLocked(ctx)
	}
	if target.ReadOnly() {
		return nil, d.saveError(target, -1, 0, false, types.ErrReadOnly)
	}
	before := d.stateLocked()
	d.hist.flush()

	start := time.Now()
	written, err := d.writeAll(ctx, target)
	if err != nil {
		d.log.Error("save failed", "device", target.Name(), "strategy", strategySaveAs, "error", err)
		return nil, err
	}

	d.retired = append(d.retired, d.dev)
	d.dev = target
	d.chain.Reset(chain.FromDevice(target, 0, target.Size()))
	d.hist.markSaved()
	d.log.Info("save completed", "device", target.Name(), "strategy", strategySaveAs,
		"bytes_written", written, "size", target.Size(), "duration", time.Since(start))

	changes := diff(nil, before, d.stateLocked())
	if d.fixed != target.FixedSize() && target.FixedSize() {
		d.fixed = true
		changes = append(changes, Change{Kind: FixedSizeChanged})
	}
	return changes, nil
}

// writeAll sizes dst to the document length and writes every span.
func (d *Document) writeAll(ctx context.Context, dst device.Device) (int64, error) {
	size := d.chain.Len()
	if dst.Size() != size {
		if err := dst.Resize(size); err != nil {
			return 0, d.saveError(dst, -1, 0, false, err)
		}
	}

	tracker := dirty.NewTracker(dst)
	var (
		index int
		werr  error
	)
	d.chain.Walk(func(pos int64, s chain.Span) bool {
		if err := d.writeSpan(ctx, dst, pos, s, tracker); err != nil {
			werr = d.saveError(dst, index, pos, true, err)
			return false
		}
		index++
		return true
	})
	written := tracker.Bytes()
	if werr != nil {
		return written, werr
	}
	synced := !tracker.Empty()
	if err := tracker.Flush(ctx, dirty.FlushAuto); err != nil {
		return written, d.saveError(dst, -1, 0, true, err)
	}
	if !synced {
		if err := dst.Sync(); err != nil {
			return written, d.saveError(dst, -1, 0, true, err)
		}
	}
	return written, nil
}

// writeSpan copies s to dst at pos in blocks of at most WriteBlock bytes,
// recording every persisted byte in tracker.
func (d *Document) writeSpan(ctx context.Context, dst device.Device, pos int64, s chain.Span, tracker *dirty.Tracker) error {
	block := d.limits.WriteBlock
	var fill []byte
	if s.Kind == chain.KindFill {
		fill = chain.FromFill(min(block, s.Len), s.Fill).Bytes()
	}

	for off := int64(0); off < s.Len; {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(block, s.Len-off)

		var p []byte
		switch s.Kind {
		case chain.KindLiteral:
			p = s.Data[off : off+n]
		case chain.KindFill:
			p = fill[:n]
		case chain.KindDevice:
			b, err := s.Dev.Read(s.Offset+off, n)
			if err != nil {
				return err
			}
			p = b
		}

		m, err := dst.Write(pos+off, p)
		tracker.Add(pos+off, int64(m))
		if err != nil {
			return err
		}
		off += n
	}
	return nil
}

// dissolveLocked replaces every history span of dev that overlaps one of
// ranges with device spans outside the ranges and literal copies inside.
func (d *Document) dissolveLocked(dev device.Device, ranges []buf.Range) error {
	if len(ranges) == 0 {
		return nil
	}
	return d.hist.spans(func(spans []chain.Span) ([]chain.Span, error) {
		var out []chain.Span
		for i, s := range spans {
			pieces, err := dissolveSpan(dev, s, ranges)
			if err != nil {
				return nil, err
			}
			if out == nil && len(pieces) == 1 && pieces[0].Kind == s.Kind {
				continue
			}
			if out == nil {
				out = append(make([]chain.Span, 0, len(spans)+len(pieces)), spans[:i]...)
			}
			out = append(out, pieces...)
		}
		if out == nil {
			return spans, nil
		}
		return out, nil
	})
}

// dissolveSpan splits s at the boundaries of ranges, reading the parts that
// fall inside them.
func dissolveSpan(dev device.Device, s chain.Span, ranges []buf.Range) ([]chain.Span, error) {
	if s.Kind != chain.KindDevice || s.Dev != dev {
		return []chain.Span{s}, nil
	}
	var pieces []chain.Span
	cur := int64(0) // offset within s already emitted
	for _, r := range ranges {
		off, n, ok := buf.Intersect(s.Offset, s.Len, r.Off, r.Len)
		if !ok {
			continue
		}
		if rel := off - s.Offset; rel > cur {
			pieces = append(pieces, s.Slice(cur, rel-cur))
			cur = rel
		}
		b, err := dev.Read(off, n)
		if err != nil {
			return nil, err
		}
		pieces = append(pieces, chain.FromBytes(b))
		cur += n
	}
	if pieces == nil {
		return []chain.Span{s}, nil
	}
	if cur < s.Len {
		pieces = append(pieces, s.Slice(cur, s.Len-cur))
	}
	return pieces, nil
}

func (d *Document) saveError(dev device.Device, span int, pos int64, partial bool, err error) error {
	var se *types.SaveError
	if errors.As(err, &se) {
		return err
	}
	return &types.SaveError{Device: dev.Name(), Span: span, Offset: pos, Partial: partial, Err: err}
}
