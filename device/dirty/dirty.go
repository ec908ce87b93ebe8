package dirty

import (
	"context"
	"sort"
)

// defaultRangeCapacity is the pre-allocated capacity for dirty ranges.
const defaultRangeCapacity = 64

// FlushMode controls durability guarantees for a flush.
type FlushMode int

const (
	// FlushAuto syncs file data (fdatasync, fsync on macOS).
	FlushAuto FlushMode = iota

	// FlushNone records nothing durable; the caller syncs later.
	FlushNone

	// FlushFull additionally requests F_FULLFSYNC on macOS.
	FlushFull
)

// Range represents a dirty byte range (absolute device offsets).
type Range struct {
	Off int64
	Len int64
}

// End returns the exclusive end offset of the range.
func (r Range) End() int64 { return r.Off + r.Len }

// Syncer is anything that can make written bytes durable.
type Syncer interface {
	Sync() error
}

// Tracker accumulates dirty ranges and flushes them once.
//
// NOT thread-safe. Only one goroutine should use it at a time.
type Tracker struct {
	s      Syncer
	ranges []Range
}

// NewTracker creates a dirty tracker flushing through s.
func NewTracker(s Syncer) *Tracker {
	return &Tracker{
		s:      s,
		ranges: make([]Range, 0, defaultRangeCapacity),
	}
}

// Add records a dirty range. Empty ranges are ignored.
func (t *Tracker) Add(off, length int64) {
	if length <= 0 {
		return
	}
	t.ranges = append(t.ranges, Range{Off: off, Len: length})
}

// Empty reports whether nothing was recorded since the last flush.
func (t *Tracker) Empty() bool { return len(t.ranges) == 0 }

// Bytes returns the number of distinct bytes recorded since the last flush.
// Ranges written more than once count once.
func (t *Tracker) Bytes() int64 {
	var n int64
	for _, r := range merge(append([]Range(nil), t.ranges...)) {
		n += r.Len
	}
	return n
}

// Flush makes the recorded ranges durable and clears them.
//
// An empty tracker returns nil without consulting ctx. With FlushNone the
// ranges are cleared without syncing.
func (t *Tracker) Flush(ctx context.Context, mode FlushMode) error {
	if len(t.ranges) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if mode != FlushNone && t.s != nil {
		if err := t.s.Sync(); err != nil {
			return err
		}
	}
	t.ranges = t.ranges[:0]
	return nil
}

// merge sorts rs in place and joins overlapping or adjacent ranges.
func merge(rs []Range) []Range {
	if len(rs) == 0 {
		return nil
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].Off < rs[j].Off })

	merged := make([]Range, 0, len(rs))
	current := rs[0]
	for _, next := range rs[1:] {
		if next.Off <= current.End() {
			if next.End() > current.End() {
				current.Len = next.End() - current.Off
			}
			continue
		}
		merged = append(merged, current)
		current = next
	}
	return append(merged, current)
}
