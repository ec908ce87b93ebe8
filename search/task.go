package search

import (
	"context"
	"fmt"
	"sync"

	"github.com/joshuapare/hexkit/operation"
	"github.com/joshuapare/hexkit/pkg/types"
)

// DefaultWindow is how many bytes a Task scans between checkpoints.
const DefaultWindow = 64 << 10

// Match is one occurrence of the pattern.
type Match struct {
	Pos int64 `json:"pos"`
	Len int64 `json:"len"`
}

func (m Match) String() string {
	return fmt.Sprintf("matched %#x bytes at %#x", m.Len, m.Pos)
}

// Options configures a search Task.
type Options struct {
	Pattern []byte

	// Start and Length bound the scanned range. A Length of zero or less
	// scans to the end of the source.
	Start  int64
	Length int64

	// MaxMatches stops the scan after that many matches. Zero means no limit.
	MaxMatches int

	// Window is the number of bytes scanned between checkpoints.
	Window int64

	// ChunkSize overrides the finder's read size.
	ChunkSize int64

	// OnMatch is called on the worker for every match, before the next
	// checkpoint.
	OnMatch func(Match)
}

// Task scans a source forward and collects every match.
type Task struct {
	src  Source
	opts Options

	mu      sync.Mutex
	matches []Match
}

// NewTask creates a search over src.
func NewTask(src Source, opts Options) *Task {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	return &Task{src: src, opts: opts}
}

// Matches returns the matches found so far.
func (t *Task) Matches() []Match {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Match(nil), t.matches...)
}

// Run implements operation.Task. Every match is published as a "match"
// result; the total is published as "matches" when the scan completes.
func (t *Task) Run(_ context.Context, r operation.Reporter) error {
	if len(t.opts.Pattern) == 0 {
		return types.Errorf(types.ErrKindOperation, nil, "empty search pattern")
	}
	f := NewFinder(t.src, t.opts.Pattern)
	if t.opts.ChunkSize > 0 {
		f.SetChunkSize(t.opts.ChunkSize)
	}

	m := int64(len(t.opts.Pattern))
	start := max(t.opts.Start, 0)
	end := t.src.Len()
	if t.opts.Length > 0 && t.opts.Length < end-start {
		end = start + t.opts.Length
	}
	total := end - start

	r.SetProgressText(fmt.Sprintf("searching %d bytes", max(total, 0)))
	for pos := start; ; {
		if err := r.Checkpoint(); err != nil {
			return err
		}
		if end-pos < m {
			break
		}
		span := min(t.opts.Window+m-1, end-pos)
		at, found, err := f.Next(pos, span)
		if err != nil {
			return fmt.Errorf("search at %#x: %w", pos, err)
		}
		if !found {
			pos += span - m + 1
			r.SetProgress(float64(pos-start) / float64(total))
			continue
		}

		match := Match{Pos: at, Len: m}
		n := t.add(match)
		r.AddResult("match", match)
		r.SetProgressText(fmt.Sprintf("%d matches", n))
		if t.opts.OnMatch != nil {
			t.opts.OnMatch(match)
		}
		if t.opts.MaxMatches > 0 && n >= t.opts.MaxMatches {
			break
		}
		pos = at + 1
		r.SetProgress(float64(pos-start) / float64(total))
	}

	r.AddResult("matches", len(t.Matches()))
	return nil
}

func (t *Task) add(m Match) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.matches = append(t.matches, m)
	return len(t.matches)
}
