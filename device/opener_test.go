package device_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/hexkit/device"
	"github.com/joshuapare/hexkit/pkg/types"
)

func memFs(t *testing.T, files map[string][]byte) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, data := range files {
		require.NoError(t, afero.WriteFile(fs, name, data, 0o644))
	}
	return fs
}

func smallCache() types.Limits {
	l := types.DefaultLimits()
	l.CacheSize = 16
	l.CacheBoundary = 4
	return l
}

func TestOpenFileDevice(t *testing.T) {
	fs := memFs(t, map[string][]byte{"/data.bin": seq(64)})
	op := device.NewOpener(device.OpenerOptions{Fs: fs, Limits: smallCache()})

	dev, err := op.Open("/data.bin", device.LoadOptions{})
	require.NoError(t, err)
	defer dev.Close()

	require.IsType(t, &device.FileDevice{}, dev)
	assert.Equal(t, int64(64), dev.Size())
	assert.False(t, dev.ReadOnly())
	assert.True(t, op.IsOpen("/data.bin"))

	// within the window, across window refills, and larger than the window
	for _, r := range []struct{ off, n int64 }{{0, 4}, {30, 10}, {2, 3}, {60, 10}, {0, 64}} {
		got, err := dev.Read(r.off, r.n)
		require.NoError(t, err)
		end := min(r.off+r.n, 64)
		assert.Equal(t, seq(64)[r.off:end], got, "read(%d, %d)", r.off, r.n)
	}
}

func TestFileWriteInvalidatesWindow(t *testing.T) {
	fs := memFs(t, map[string][]byte{"/data.bin": seq(64)})
	op := device.NewOpener(device.OpenerOptions{Fs: fs, Limits: smallCache()})
	dev, err := op.Open("/data.bin", device.LoadOptions{})
	require.NoError(t, err)
	defer dev.Close()

	_, err = dev.Read(8, 4)
	require.NoError(t, err)

	n, err := dev.Write(9, []byte{0xEE, 0xEF})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := dev.Read(8, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{8, 0xEE, 0xEF, 11}, got)

	onDisk, err := afero.ReadFile(fs, "/data.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xEE, 0xEF}, onDisk[9:11])
}

func TestFileWriteBeyondEnd(t *testing.T) {
	fs := memFs(t, map[string][]byte{"/data.bin": seq(8)})
	op := device.NewOpener(device.OpenerOptions{Fs: fs})
	dev, err := op.Open("/data.bin", device.LoadOptions{})
	require.NoError(t, err)
	defer dev.Close()

	n, err := dev.Write(6, []byte{1, 2, 3})
	assert.Equal(t, 2, n)
	var wie *types.WriteIncompleteError
	require.ErrorAs(t, err, &wie)
	assert.Equal(t, 2, wie.Written)
	assert.Equal(t, 3, wie.Requested)
	assert.Equal(t, int64(8), dev.Size())

	_, err = dev.Write(9, []byte{1})
	assert.ErrorIs(t, err, types.ErrSeek)
}

func TestFileResize(t *testing.T) {
	fs := memFs(t, map[string][]byte{"/data.bin": seq(8)})
	op := device.NewOpener(device.OpenerOptions{Fs: fs})
	dev, err := op.Open("/data.bin", device.LoadOptions{})
	require.NoError(t, err)
	defer dev.Close()

	require.NoError(t, dev.Resize(12))
	got, err := dev.Read(6, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte{6, 7, 0, 0, 0, 0}, got)

	require.NoError(t, dev.Resize(3))
	assert.Equal(t, int64(3), dev.Size())
	info, err := fs.Stat("/data.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size())
}

func TestOpenMissing(t *testing.T) {
	op := device.NewOpener(device.OpenerOptions{Fs: afero.NewMemMapFs()})

	_, err := op.Open("/missing.bin", device.LoadOptions{})
	require.ErrorIs(t, err, types.ErrIO)
	require.ErrorIs(t, err, os.ErrNotExist)

	dev, err := op.Open("/missing.bin", device.LoadOptions{Create: true})
	require.NoError(t, err)
	assert.Zero(t, dev.Size())
	require.NoError(t, dev.Close())
}

func TestOpenConflicts(t *testing.T) {
	fs := memFs(t, map[string][]byte{"/data.bin": seq(100)})
	op := device.NewOpener(device.OpenerOptions{Fs: fs})

	whole, err := op.Open("/data.bin", device.LoadOptions{})
	require.NoError(t, err)

	_, err = op.Open("/data.bin", device.LoadOptions{ReadOnly: true})
	require.ErrorIs(t, err, types.ErrConflict)

	require.NoError(t, whole.Close())
	assert.False(t, op.IsOpen("/data.bin"))

	a, err := op.Open("/data.bin", device.LoadOptions{RangeStart: 0, RangeLength: 50})
	require.NoError(t, err)
	defer a.Close()

	b, err := op.Open("/data.bin", device.LoadOptions{RangeStart: 50, RangeLength: 50})
	require.NoError(t, err, "disjoint ranges may both be writable")
	defer b.Close()

	_, err = op.Open("/data.bin", device.LoadOptions{RangeStart: 40, RangeLength: 20, ReadOnly: true})
	require.ErrorIs(t, err, types.ErrConflict, "overlapping a writable range")

	_, err = op.Open("/data.bin", device.LoadOptions{})
	require.ErrorIs(t, err, types.ErrConflict, "whole-file open while ranges are open")
}

func TestOpenOverlappingReadOnlyRanges(t *testing.T) {
	fs := memFs(t, map[string][]byte{"/data.bin": seq(100)})
	op := device.NewOpener(device.OpenerOptions{Fs: fs})

	a, err := op.Open("/data.bin", device.LoadOptions{RangeStart: 0, RangeLength: 60, ReadOnly: true})
	require.NoError(t, err)
	defer a.Close()
	b, err := op.Open("/data.bin", device.LoadOptions{RangeStart: 40, RangeLength: 60, ReadOnly: true})
	require.NoError(t, err)
	defer b.Close()
}

func TestOpenRange(t *testing.T) {
	fs := memFs(t, map[string][]byte{"/data.bin": seq(100)})
	op := device.NewOpener(device.OpenerOptions{Fs: fs})

	dev, err := op.Open("/data.bin", device.LoadOptions{RangeStart: 10, RangeLength: 5})
	require.NoError(t, err)
	defer dev.Close()

	assert.True(t, dev.FixedSize())
	assert.Equal(t, int64(5), dev.Size())
	got, err := dev.Read(0, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 11, 12, 13, 14}, got)

	_, err = dev.Write(4, []byte{0xFF})
	require.NoError(t, err)
	onDisk, _ := afero.ReadFile(fs, "/data.bin")
	assert.Equal(t, byte(0xFF), onDisk[14])

	require.ErrorIs(t, dev.Resize(10), types.ErrFrozenSize)

	_, err = op.Open("/data.bin", device.LoadOptions{RangeStart: 90, RangeLength: 20})
	require.ErrorIs(t, err, types.ErrSeek)
}

func TestOpenReadOnlyFallback(t *testing.T) {
	base := memFs(t, map[string][]byte{"/data.bin": seq(8)})
	op := device.NewOpener(device.OpenerOptions{Fs: afero.NewReadOnlyFs(base)})

	dev, err := op.Open("/data.bin", device.LoadOptions{})
	require.NoError(t, err)
	defer dev.Close()

	assert.True(t, dev.ReadOnly())
	_, err = dev.Write(0, []byte{1})
	assert.ErrorIs(t, err, types.ErrReadOnly)
}

func TestOpenMemoryLoadLimit(t *testing.T) {
	fs := memFs(t, map[string][]byte{"/data.bin": seq(100)})
	op := device.NewOpener(device.OpenerOptions{Fs: fs})

	_, err := op.Open("/data.bin", device.LoadOptions{Memory: true, MemoryLoadLimit: 64})
	var lle *types.LoadLimitError
	require.ErrorAs(t, err, &lle)
	assert.Equal(t, int64(100), lle.Requested)
	assert.Equal(t, int64(64), lle.Limit)
	assert.False(t, op.IsOpen("/data.bin"), "a rejected load keeps no registration")

	dev, err := op.Open("/data.bin", device.LoadOptions{Memory: true, RangeStart: 20, RangeLength: 64, MemoryLoadLimit: 64})
	require.NoError(t, err, "the limit applies to the loaded range")
	require.NoError(t, dev.Close())
}

func TestOpenMemoryWritesBack(t *testing.T) {
	fs := memFs(t, map[string][]byte{"/data.bin": seq(8)})
	op := device.NewOpener(device.OpenerOptions{Fs: fs})

	dev, err := op.Open("/data.bin", device.LoadOptions{Memory: true})
	require.NoError(t, err)
	require.IsType(t, &device.MemoryDevice{}, dev)

	_, err = dev.Write(0, []byte{0xAA})
	require.NoError(t, err)
	require.NoError(t, dev.Resize(4))

	onDisk, _ := afero.ReadFile(fs, "/data.bin")
	assert.Equal(t, seq(8), onDisk, "nothing reaches the file before Sync")

	require.NoError(t, dev.Sync())
	onDisk, _ = afero.ReadFile(fs, "/data.bin")
	assert.Equal(t, []byte{0xAA, 1, 2, 3}, onDisk)
	require.NoError(t, dev.Close())
}

func TestOpenMemoryMapped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, seq(5000), 0o644))

	op := device.NewOpener(device.OpenerOptions{Fs: afero.NewOsFs()})
	dev, err := op.Open(path, device.LoadOptions{Memory: true, RangeStart: 4097, RangeLength: 10})
	require.NoError(t, err)
	defer dev.Close()

	got, err := dev.Read(0, 10)
	require.NoError(t, err)
	assert.Equal(t, seq(5000)[4097:4107], got)

	_, err = dev.Write(0, []byte{0xFF})
	require.NoError(t, err, "mapped content is copied before the first write")
	require.NoError(t, dev.Sync())

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), onDisk[4097])
	assert.Len(t, onDisk, 5000, "ranged write-back never truncates")
}

func TestOpenMemoryLargeSparseFile(t *testing.T) {
	if testing.Short() {
		t.Skip("creates a 2 GiB sparse file")
	}
	path := filepath.Join(t.TempDir(), "big.img")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(2<<30))
	require.NoError(t, f.Close())

	limits := types.DefaultLimits()
	limits.MemoryLoadLimit = 1 << 30
	op := device.NewOpener(device.OpenerOptions{Fs: afero.NewOsFs(), Limits: limits})

	_, err = op.Open(path, device.LoadOptions{Memory: true})
	var lle *types.LoadLimitError
	require.ErrorAs(t, err, &lle)
	assert.Equal(t, int64(2<<30), lle.Requested)
	assert.Equal(t, int64(1<<30), lle.Limit)
	assert.ErrorIs(t, err, types.ErrLoadLimit)
}

func TestFileStageCommit(t *testing.T) {
	fs := memFs(t, map[string][]byte{"/dir/data.bin": seq(8)})
	op := device.NewOpener(device.OpenerOptions{Fs: fs})
	dev, err := op.Open("/dir/data.bin", device.LoadOptions{})
	require.NoError(t, err)

	st, err := dev.(device.Stager).Stage()
	require.NoError(t, err)
	require.NoError(t, st.Resize(3))
	_, err = st.Write(0, []byte{7, 7, 7})
	require.NoError(t, err)

	next, err := st.Commit()
	require.NoError(t, err)
	defer next.Close()

	onDisk, _ := afero.ReadFile(fs, "/dir/data.bin")
	assert.Equal(t, []byte{7, 7, 7}, onDisk)

	old, err := dev.Read(0, 8)
	require.NoError(t, err)
	assert.Equal(t, seq(8), old, "the replaced device still reads its original bytes")

	require.NoError(t, dev.Close())
	assert.True(t, op.IsOpen("/dir/data.bin"), "registration moved to the committed device")

	entries, err := afero.ReadDir(fs, "/dir")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no staging file left behind")
}

func TestFileStageAbort(t *testing.T) {
	fs := memFs(t, map[string][]byte{"/dir/data.bin": seq(8)})
	op := device.NewOpener(device.OpenerOptions{Fs: fs})
	dev, err := op.Open("/dir/data.bin", device.LoadOptions{})
	require.NoError(t, err)
	defer dev.Close()

	st, err := dev.(device.Stager).Stage()
	require.NoError(t, err)
	require.NoError(t, st.Abort())

	entries, err := afero.ReadDir(fs, "/dir")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileToMemory(t *testing.T) {
	fs := memFs(t, map[string][]byte{"/data.bin": seq(32)})
	op := device.NewOpener(device.OpenerOptions{Fs: fs})
	dev, err := op.Open("/data.bin", device.LoadOptions{})
	require.NoError(t, err)
	fd := dev.(*device.FileDevice)

	_, err = fd.ToMemory(seq(8))
	require.ErrorIs(t, err, types.ErrIO, "content must cover the device")

	data, err := fd.Read(0, 32)
	require.NoError(t, err)
	mem, err := fd.ToMemory(data)
	require.NoError(t, err)

	_, err = fd.Read(0, 1)
	require.ErrorIs(t, err, types.ErrIO, "the file device is consumed")
	assert.True(t, op.IsOpen("/data.bin"))

	_, err = mem.Write(0, []byte{0xff})
	require.NoError(t, err)
	require.NoError(t, mem.Sync())
	onDisk, err := afero.ReadFile(fs, "/data.bin")
	require.NoError(t, err)
	assert.Equal(t, byte(0xff), onDisk[0])

	require.NoError(t, mem.Close())
	assert.False(t, op.IsOpen("/data.bin"))
}
