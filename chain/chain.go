package chain

import (
	"io"
	"math/rand/v2"

	"github.com/joshuapare/hexkit/device"
	"github.com/joshuapare/hexkit/internal/buf"
	"github.com/joshuapare/hexkit/pkg/types"
)

// Edit records one applied splice. Replaying Inverse undoes it.
type Edit struct {
	Pos      int64
	Removed  []Span
	Inserted []Span
}

// RemovedLen is the number of bytes the edit removed.
func (e Edit) RemovedLen() int64 { return Len(e.Removed) }

// InsertedLen is the number of bytes the edit inserted.
func (e Edit) InsertedLen() int64 { return Len(e.Inserted) }

// Inverse returns the edit that restores the content before e.
func (e Edit) Inverse() Edit {
	return Edit{Pos: e.Pos, Removed: e.Inserted, Inserted: e.Removed}
}

// Chain is an ordered sequence of spans. It is not safe for concurrent use.
type Chain struct {
	root       *node
	rng        *rand.Rand
	mergeLimit int
}

// New returns a chain holding spans in order. Empty spans are dropped.
func New(spans ...Span) *Chain {
	c := &Chain{
		rng:        rand.New(rand.NewPCG(0x9e3779b97f4a7c15, 0xbf58476d1ce4e5b9)),
		mergeLimit: types.DefaultMergeLimit,
	}
	c.root = c.build(spans)
	return c
}

// OfDevice returns a chain passing through all of dev.
func OfDevice(dev device.Device) *Chain {
	return New(FromDevice(dev, 0, dev.Size()))
}

// SetMergeLimit bounds the literal spans produced by merging neighbours.
// Zero disables literal merging.
func (c *Chain) SetMergeLimit(n int) { c.mergeLimit = max(n, 0) }

// Len returns the logical length in bytes.
func (c *Chain) Len() int64 { return sizeOf(c.root) }

// Count returns the number of spans.
func (c *Chain) Count() int { return countOf(c.root) }

// Reset replaces the content with spans.
func (c *Chain) Reset(spans ...Span) { c.root = c.build(spans) }

// Spans returns all spans in order.
func (c *Chain) Spans() []Span {
	out := make([]Span, 0, c.Count())
	walk(c.root, 0, 0, c.Len(), func(_ int64, s Span) bool {
		out = append(out, s)
		return true
	})
	return out
}

// Walk calls fn with the logical position of every span in order until fn
// returns false.
func (c *Chain) Walk(fn func(pos int64, s Span) bool) {
	walk(c.root, 0, 0, c.Len(), fn)
}

// Export returns the spans covering [pos, pos+n), trimmed to the range.
// Literal data is copied; no device bytes are read.
func (c *Chain) Export(pos, n int64) ([]Span, error) {
	end, err := c.checkRange(pos, n)
	if err != nil {
		return nil, err
	}
	var out []Span
	walk(c.root, 0, pos, end, func(start int64, s Span) bool {
		off, m, _ := buf.Intersect(start, s.Len, pos, n)
		out = append(out, s.Slice(off-start, m).Clone())
		return true
	})
	return out, nil
}

// Read returns the n bytes at pos, reading device spans from their device.
// A zero-length read never touches a device.
func (c *Chain) Read(pos, n int64) ([]byte, error) {
	end, err := c.checkRange(pos, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if n == 0 {
		return out, nil
	}
	var rerr error
	walk(c.root, 0, pos, end, func(start int64, s Span) bool {
		off, m, _ := buf.Intersect(start, s.Len, pos, n)
		dst := out[off-pos : off-pos+m]
		switch s.Kind {
		case KindLiteral:
			copy(dst, s.Data[off-start:])
		case KindFill:
			for i := range dst {
				dst[i] = s.Fill
			}
		case KindDevice:
			got, err := s.Dev.Read(s.Offset+off-start, m)
			if err == nil && int64(len(got)) < m {
				err = types.Errorf(types.ErrKindIO, io.ErrUnexpectedEOF,
					"device %q returned %d of %d bytes", s.Dev.Name(), len(got), m)
			}
			if err != nil {
				rerr = &types.DocumentReadError{Offset: off, Err: err}
				return false
			}
			copy(dst, got)
		}
		return true
	})
	if rerr != nil {
		return nil, rerr
	}
	return out, nil
}

// Splice removes removeLen bytes at pos and inserts spans in their place.
// It is the only mutation of a chain; the returned Edit captures enough to
// invert it. Adjacent spans at the splice boundaries are merged when they
// continue one another.
func (c *Chain) Splice(pos, removeLen int64, insert ...Span) (Edit, error) {
	end, err := c.checkRange(pos, removeLen)
	if err != nil {
		return Edit{}, err
	}

	left, rest := split(c.root, pos, c.newNode)
	mid, right := split(rest, end-pos, c.newNode)

	edit := Edit{Pos: pos, Inserted: nonEmpty(insert)}
	if mid != nil {
		edit.Removed = make([]Span, 0, countOf(mid))
		walk(mid, 0, 0, sizeOf(mid), func(_ int64, s Span) bool {
			edit.Removed = append(edit.Removed, s)
			return true
		})
	}

	seam := make([]Span, 0, len(edit.Inserted)+2)
	if left != nil {
		var s Span
		left, s = popLast(left)
		seam = append(seam, s)
	}
	seam = append(seam, edit.Inserted...)
	if right != nil {
		var s Span
		right, s = popFirst(right)
		seam = append(seam, s)
	}

	c.root = merge(merge(left, c.build(c.coalesce(seam))), right)
	return edit, nil
}

// Apply replays e on the chain. Apply(e.Inverse()) undoes e.
func (c *Chain) Apply(e Edit) error {
	_, err := c.Splice(e.Pos, e.RemovedLen(), e.Inserted...)
	return err
}

// RangeModified reports whether any byte of [pos, pos+n) is not a
// pass-through of base at the same position.
func (c *Chain) RangeModified(base device.Device, pos, n int64) (bool, error) {
	end, err := c.checkRange(pos, n)
	if err != nil {
		return false, err
	}
	modified := false
	walk(c.root, 0, pos, end, func(start int64, s Span) bool {
		if !s.AlignedWith(base, start) {
			modified = true
			return false
		}
		return true
	})
	return modified, nil
}

func (c *Chain) checkRange(pos, n int64) (int64, error) {
	end, err := buf.CheckRange(c.Len(), pos, n)
	if err != nil {
		return 0, types.Errorf(types.ErrKindSeek, err, "range [%d, +%d) of %d bytes", pos, n, c.Len())
	}
	return end, nil
}

func (c *Chain) newNode(s Span) *node {
	return &node{span: s, prio: c.rng.Uint64(), size: s.Len, count: 1}
}

func (c *Chain) build(spans []Span) *node {
	var t *node
	for _, s := range spans {
		if s.Len > 0 {
			t = merge(t, c.newNode(s))
		}
	}
	return t
}

// coalesce joins neighbouring spans that continue one another.
func (c *Chain) coalesce(spans []Span) []Span {
	out := spans[:0]
	for _, s := range spans {
		if s.Len == 0 {
			continue
		}
		if n := len(out); n > 0 {
			if j, ok := join(out[n-1], s, c.mergeLimit); ok {
				out[n-1] = j
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

func nonEmpty(spans []Span) []Span {
	out := make([]Span, 0, len(spans))
	for _, s := range spans {
		if s.Len > 0 {
			out = append(out, s)
		}
	}
	return out
}
