// Package chain implements the edit overlay: the ordered sequence of spans
// that makes up a document's logical content.
//
// Spans are either pass-through ranges of a device, literal bytes held in
// memory, or runs of a single repeated byte. The sequence is stored in an
// implicit treap keyed by cumulative length, so locating, splitting and
// splicing at a logical position costs O(log n) in the number of spans.
//
// Literal span data is never modified after it enters a chain; splitting a
// literal span shares its backing array and merging copies.
package chain

import (
	"bytes"

	"github.com/joshuapare/hexkit/device"
)

// Kind tags the variant held by a Span.
type Kind uint8

const (
	KindDevice  Kind = iota + 1 // bytes read lazily from Dev at Offset
	KindLiteral                 // bytes held in Data
	KindFill                    // Len copies of Fill
)

func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindLiteral:
		return "literal"
	case KindFill:
		return "fill"
	}
	return "invalid"
}

// Span is a contiguous run of logical bytes.
type Span struct {
	Kind   Kind
	Len    int64
	Dev    device.Device // KindDevice
	Offset int64         // KindDevice: offset within Dev
	Data   []byte        // KindLiteral
	Fill   byte          // KindFill
}

// FromDevice returns a span passing through n bytes of dev at off.
func FromDevice(dev device.Device, off, n int64) Span {
	return Span{Kind: KindDevice, Len: n, Dev: dev, Offset: off}
}

// FromBytes returns a literal span. The chain takes ownership of b.
func FromBytes(b []byte) Span {
	return Span{Kind: KindLiteral, Len: int64(len(b)), Data: b}
}

// FromFill returns a span of n copies of b.
func FromFill(n int64, b byte) Span {
	return Span{Kind: KindFill, Len: n, Fill: b}
}

// Slice returns the sub-span [off, off+n) of s. Literal slices share data.
func (s Span) Slice(off, n int64) Span {
	out := s
	out.Len = n
	switch s.Kind {
	case KindDevice:
		out.Offset = s.Offset + off
	case KindLiteral:
		out.Data = s.Data[off : off+n : off+n]
	}
	return out
}

// Clone returns s with its own copy of literal data.
func (s Span) Clone() Span {
	if s.Kind == KindLiteral {
		s.Data = bytes.Clone(s.Data)
	}
	return s
}

// AlignedWith reports whether s passes through dev at logical position pos
// unchanged, i.e. its bytes already sit where they belong on dev.
func (s Span) AlignedWith(dev device.Device, pos int64) bool {
	return s.Kind == KindDevice && s.Dev == dev && s.Offset == pos
}

// Bytes returns the span's content for in-memory variants. Device spans
// return nil; their bytes must be read from the device.
func (s Span) Bytes() []byte {
	switch s.Kind {
	case KindLiteral:
		return s.Data
	case KindFill:
		return bytes.Repeat([]byte{s.Fill}, int(s.Len))
	}
	return nil
}

// join merges b onto a when both can be represented as one span.
// Literal merges copy and are bounded by limit.
func join(a, b Span, limit int) (Span, bool) {
	if a.Kind != b.Kind {
		return Span{}, false
	}
	switch a.Kind {
	case KindDevice:
		if a.Dev == b.Dev && a.Offset+a.Len == b.Offset {
			a.Len += b.Len
			return a, true
		}
	case KindFill:
		if a.Fill == b.Fill {
			a.Len += b.Len
			return a, true
		}
	case KindLiteral:
		if a.Len+b.Len <= int64(limit) {
			data := make([]byte, 0, a.Len+b.Len)
			data = append(append(data, a.Data...), b.Data...)
			return FromBytes(data), true
		}
	}
	return Span{}, false
}

// Len sums the lengths of spans.
func Len(spans []Span) int64 {
	var n int64
	for _, s := range spans {
		n += s.Len
	}
	return n
}
