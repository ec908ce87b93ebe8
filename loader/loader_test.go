package loader_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/hexkit/device"
	"github.com/joshuapare/hexkit/document"
	"github.com/joshuapare/hexkit/loader"
	"github.com/joshuapare/hexkit/operation"
	"github.com/joshuapare/hexkit/pkg/types"
)

func seq(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func newOpener(t *testing.T, files map[string][]byte) (*device.Opener, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, data := range files {
		require.NoError(t, afero.WriteFile(fs, name, data, 0o644))
	}
	return device.NewOpener(device.OpenerOptions{Fs: fs}), fs
}

func TestLoadWholeFile(t *testing.T) {
	opener, fs := newOpener(t, map[string][]byte{"/data.bin": seq(1000)})
	task := loader.NewTask(opener, loader.Options{Path: "/data.bin", ChunkSize: 64})

	var progress []float64
	op := operation.New("load", task)
	op.Subscribe(func(s operation.Snapshot) {
		if s.Progress > 0 && (len(progress) == 0 || progress[len(progress)-1] != s.Progress) {
			progress = append(progress, s.Progress)
		}
	})
	require.Equal(t, operation.Completed, op.Execute(context.Background()))
	assert.Len(t, progress, 16, "one progress step per chunk")

	doc := task.Document()
	require.NotNil(t, doc)
	defer doc.Close()
	require.IsType(t, &device.MemoryDevice{}, doc.Device())
	assert.True(t, opener.IsOpen("/data.bin"))

	got, err := doc.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, seq(1000), got)

	res, ok := op.Snapshot().Result("document")
	require.True(t, ok)
	assert.Same(t, doc, res)

	// the loaded document still saves to its file
	require.NoError(t, doc.Insert(0, []byte("head")))
	require.NoError(t, doc.Save(context.Background()))
	onDisk, err := afero.ReadFile(fs, "/data.bin")
	require.NoError(t, err)
	assert.Equal(t, append([]byte("head"), seq(1000)...), onDisk)

	require.NoError(t, doc.Close())
	assert.False(t, opener.IsOpen("/data.bin"))
}

func TestLoadRange(t *testing.T) {
	opener, _ := newOpener(t, map[string][]byte{"/data.bin": seq(256)})
	task := loader.NewTask(opener, loader.Options{
		Path:     "/data.bin",
		Load:     device.LoadOptions{ReadOnly: true, RangeStart: 16, RangeLength: 32},
		Document: []document.Option{document.WithFixedSize(true)},
	})
	require.Equal(t, operation.Completed, operation.New("load", task).Execute(context.Background()))

	doc := task.Document()
	defer doc.Close()
	assert.True(t, doc.ReadOnly())
	assert.True(t, doc.FixedSize())
	got, err := doc.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, seq(256)[16:48], got)
}

func TestLoadLimit(t *testing.T) {
	opener, _ := newOpener(t, map[string][]byte{"/data.bin": seq(100)})
	task := loader.NewTask(opener, loader.Options{
		Path: "/data.bin",
		Load: device.LoadOptions{MemoryLoadLimit: 64},
	})
	op := operation.New("load", task)
	require.Equal(t, operation.Failed, op.Execute(context.Background()))

	var limitErr *types.LoadLimitError
	require.True(t, errors.As(op.Err(), &limitErr))
	assert.Equal(t, int64(100), limitErr.Requested)
	assert.Equal(t, int64(64), limitErr.Limit)
	assert.Nil(t, task.Document())
	assert.False(t, opener.IsOpen("/data.bin"), "a failed load releases the file")
}

func TestLoadLimitSparseFile(t *testing.T) {
	if testing.Short() {
		t.Skip("creates a 2 GiB sparse file")
	}
	path := filepath.Join(t.TempDir(), "huge.bin")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(2<<30))
	require.NoError(t, f.Close())

	limits := types.DefaultLimits()
	limits.MemoryLoadLimit = 1 << 30
	opener := device.NewOpener(device.OpenerOptions{Limits: limits})

	op := operation.New("load", loader.NewTask(opener, loader.Options{Path: path}))
	require.Equal(t, operation.Failed, op.Execute(context.Background()))
	require.ErrorIs(t, op.Err(), types.ErrLoadLimit)

	var limitErr *types.LoadLimitError
	require.ErrorAs(t, op.Err(), &limitErr)
	assert.Equal(t, int64(2<<30), limitErr.Requested)
	assert.Equal(t, int64(1<<30), limitErr.Limit)
}

func TestLoadCancelled(t *testing.T) {
	opener, _ := newOpener(t, map[string][]byte{"/data.bin": seq(1024)})
	task := loader.NewTask(opener, loader.Options{Path: "/data.bin", ChunkSize: 16})

	op := operation.New("load", task)
	op.Subscribe(func(s operation.Snapshot) {
		if s.Status == operation.Running && s.Progress >= 0.25 {
			_ = op.RequestCancel()
		}
	})
	require.Equal(t, operation.Cancelled, op.Execute(context.Background()))

	snap := op.Snapshot()
	assert.GreaterOrEqual(t, snap.Progress, 0.25)
	assert.Less(t, snap.Progress, 1.0)
	assert.Nil(t, task.Document())
	assert.False(t, opener.IsOpen("/data.bin"))
}

func TestLoadConflict(t *testing.T) {
	opener, _ := newOpener(t, map[string][]byte{"/data.bin": seq(16)})
	dev, err := opener.Open("/data.bin", device.LoadOptions{})
	require.NoError(t, err)
	defer dev.Close()

	op := operation.New("load", loader.NewTask(opener, loader.Options{Path: "/data.bin"}))
	require.Equal(t, operation.Failed, op.Execute(context.Background()))
	assert.ErrorIs(t, op.Err(), types.ErrConflict)
}

func TestLoadMissingFile(t *testing.T) {
	opener, _ := newOpener(t, nil)
	op := operation.New("load", loader.NewTask(opener, loader.Options{Path: "/missing.bin"}))
	require.Equal(t, operation.Failed, op.Execute(context.Background()))
	assert.ErrorIs(t, op.Err(), types.ErrIO)
}
