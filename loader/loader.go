package loader

import (
	"context"
	"fmt"
	"sync"

	"github.com/joshuapare/hexkit/device"
	"github.com/joshuapare/hexkit/document"
	"github.com/joshuapare/hexkit/operation"
	"github.com/joshuapare/hexkit/pkg/types"
)

// DefaultChunkSize is the number of bytes read between checkpoints.
const DefaultChunkSize = 1 << 20

// Options configures a load.
type Options struct {
	Path string

	// Load selects the access mode and the optional range. Memory is
	// implied.
	Load device.LoadOptions

	ChunkSize int64

	// Document options applied to the loaded document.
	Document []document.Option
}

// Task loads a file, or a range of it, into a memory-backed document.
//
// The file is opened through the opener, so the load holds the path's open
// registration from the first chunk on. A cancelled or failed load closes
// the file and releases it.
type Task struct {
	opener *device.Opener
	opts   Options

	mu  sync.Mutex
	doc *document.Document
}

// NewTask creates a load of opts.Path through opener.
func NewTask(opener *device.Opener, opts Options) *Task {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Task{opener: opener, opts: opts}
}

// Document returns the loaded document, or nil until the load completes.
func (t *Task) Document() *document.Document {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doc
}

// Run implements operation.Task. The document is also published as the
// "document" result.
func (t *Task) Run(_ context.Context, r operation.Reporter) (err error) {
	lo := t.opts.Load
	lo.Memory = false
	dev, err := t.opener.Open(t.opts.Path, lo)
	if err != nil {
		return err
	}
	src, ok := dev.(*device.FileDevice)
	if !ok {
		dev.Close()
		return types.Errorf(types.ErrKindIO, nil, "%q did not open as a file", t.opts.Path)
	}
	defer func() {
		if err != nil {
			src.Close()
		}
	}()

	size := src.Size()
	if err := t.opener.CheckMemoryLoad(src.Name(), size, t.opts.Load); err != nil {
		return err
	}

	data := make([]byte, size)
	for off := int64(0); off < size; {
		if err := r.Checkpoint(); err != nil {
			return err
		}
		n := min(t.opts.ChunkSize, size-off)
		chunk, err := src.Read(off, n)
		if err != nil {
			return fmt.Errorf("load %q at %#x: %w", src.Name(), off, err)
		}
		copy(data[off:], chunk)
		off += n
		r.SetProgress(float64(off) / float64(size))
		r.SetProgressText(fmt.Sprintf("loaded %s of %s", types.FormatSize(off), types.FormatSize(size)))
	}

	mem, err := src.ToMemory(data)
	if err != nil {
		return err
	}
	doc := document.New(mem, t.opts.Document...)

	t.mu.Lock()
	t.doc = doc
	t.mu.Unlock()
	r.AddResult("document", doc)
	return nil
}
