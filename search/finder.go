package search

import (
	"github.com/joshuapare/hexkit/pkg/types"
)

// Source is the data a Finder scans. *document.Document satisfies it, which
// keeps background reads behind the document lock.
type Source interface {
	Len() int64
	Read(pos, n int64) ([]byte, error)
}

// Finder locates a fixed byte pattern.
type Finder struct {
	src     Source
	pattern []byte
	chunk   int64

	// fwd holds the Horspool shifts keyed by the byte under the last
	// pattern position; back mirrors it for the first position.
	fwd  [256]int
	back [256]int
}

// NewFinder builds the shift tables for pattern.
func NewFinder(src Source, pattern []byte) *Finder {
	f := &Finder{
		src:     src,
		pattern: append([]byte(nil), pattern...),
	}
	f.SetChunkSize(types.SearchChunkSize)

	m := len(f.pattern)
	for i := range f.fwd {
		f.fwd[i] = m
		f.back[i] = m
	}
	for j := 0; j < m-1; j++ {
		f.fwd[f.pattern[j]] = m - 1 - j
	}
	for j := m - 1; j > 0; j-- {
		f.back[f.pattern[j]] = j
	}
	return f
}

// SetChunkSize sets how many bytes are read from the source at once. It
// never drops below twice the pattern length.
func (f *Finder) SetChunkSize(n int64) {
	f.chunk = max(n, 2*int64(len(f.pattern)), 1)
}

// Pattern returns the pattern being searched for.
func (f *Finder) Pattern() []byte { return f.pattern }

// Next returns the first match that starts at or after pos and lies within
// limit bytes of it. A limit of zero or less scans to the end.
func (f *Finder) Next(pos, limit int64) (int64, bool, error) {
	m := int64(len(f.pattern))
	end := f.src.Len()
	if limit > 0 && limit < end-pos {
		end = pos + limit
	}
	if m == 0 || pos < 0 || end-pos < m {
		return 0, false, nil
	}

	for start := pos; ; {
		n := min(f.chunk, end-start)
		buf, err := f.src.Read(start, n)
		if err != nil {
			return 0, false, err
		}
		if i := f.forward(buf); i >= 0 {
			return start + int64(i), true, nil
		}
		if start+n >= end {
			return 0, false, nil
		}
		start += n - m + 1
	}
}

// Previous returns the last match that ends at or before pos and starts
// within limit bytes of it. A limit of zero or less scans to the start.
func (f *Finder) Previous(pos, limit int64) (int64, bool, error) {
	m := int64(len(f.pattern))
	end := min(pos, f.src.Len())
	var low int64
	if limit > 0 && limit < end {
		low = end - limit
	}
	if m == 0 || end-low < m {
		return 0, false, nil
	}

	for {
		start := max(low, end-f.chunk)
		buf, err := f.src.Read(start, end-start)
		if err != nil {
			return 0, false, err
		}
		if i := f.backward(buf); i >= 0 {
			return start + int64(i), true, nil
		}
		if start == low {
			return 0, false, nil
		}
		end = start + m - 1
	}
}

func (f *Finder) forward(buf []byte) int {
	p := f.pattern
	m := len(p)
	last := m - 1
	for i := 0; i+m <= len(buf); {
		j := last
		for j >= 0 && buf[i+j] == p[j] {
			j--
		}
		if j < 0 {
			return i
		}
		i += f.fwd[buf[i+last]]
	}
	return -1
}

func (f *Finder) backward(buf []byte) int {
	p := f.pattern
	m := len(p)
	for i := len(buf) - m; i >= 0; {
		j := 0
		for j < m && buf[i+j] == p[j] {
			j++
		}
		if j == m {
			return i
		}
		i -= f.back[buf[i]]
	}
	return -1
}
