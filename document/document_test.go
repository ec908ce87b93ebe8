package document_test

import (
	"bytes"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/hexkit/device"
	"github.com/joshuapare/hexkit/document"
	"github.com/joshuapare/hexkit/pkg/types"
)

func seq(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func newDoc(t *testing.T, n int, opts ...document.Option) *document.Document {
	t.Helper()
	doc := document.New(device.NewMemory("buf", seq(n), device.MemoryOptions{}), opts...)
	t.Cleanup(func() { doc.Close() })
	return doc
}

func content(t *testing.T, doc *document.Document) []byte {
	t.Helper()
	b, err := doc.ReadAll()
	require.NoError(t, err)
	return b
}

func TestInsertThenUndo(t *testing.T) {
	doc := newDoc(t, 10)

	require.NoError(t, doc.Insert(3, []byte{0xFF, 0xFF}))
	got, err := doc.Read(0, 12)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 255, 255, 3, 4, 5, 6, 7, 8, 9}, got)
	assert.True(t, doc.IsModified())

	require.NoError(t, doc.Undo())
	got, err = doc.Read(0, 10)
	require.NoError(t, err)
	assert.Equal(t, seq(10), got)
	assert.Equal(t, int64(10), doc.Len())
	assert.False(t, doc.IsModified())
}

func TestFixedSizePolicy(t *testing.T) {
	doc := newDoc(t, 10, document.WithFixedSize(true))

	require.NoError(t, doc.Write(0, []byte{0xAA}))
	err := doc.Insert(0, []byte{0xAA})
	require.ErrorIs(t, err, types.ErrFrozenSize)
	assert.Equal(t, types.ErrKindFrozenSize, types.KindOf(err))

	require.ErrorIs(t, doc.Remove(5, 1), types.ErrFrozenSize)
	require.ErrorIs(t, doc.InsertFill(10, 3, 0), types.ErrFrozenSize)
	require.ErrorIs(t, doc.Write(9, []byte{1, 2}), types.ErrFrozenSize, "overwrite past the end grows the document")
	require.NoError(t, doc.WriteFill(8, 2, 0xEE))

	want := seq(10)
	want[0], want[8], want[9] = 0xAA, 0xEE, 0xEE
	assert.Equal(t, want, content(t, doc))
}

func TestReadOnlyPolicy(t *testing.T) {
	doc := newDoc(t, 10)
	require.NoError(t, doc.Insert(0, []byte{1}))
	require.NoError(t, doc.SetReadOnly(true))
	before := content(t, doc)

	mutations := map[string]func() error{
		"write":       func() error { return doc.Write(0, []byte{9}) },
		"insert":      func() error { return doc.Insert(0, []byte{9}) },
		"remove":      func() error { return doc.Remove(0, 1) },
		"write fill":  func() error { return doc.WriteFill(0, 2, 9) },
		"insert fill": func() error { return doc.InsertFill(0, 2, 9) },
		"append":      func() error { return doc.Append([]byte{9}) },
		"undo":        doc.Undo,
	}
	for name, fn := range mutations {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, fn(), types.ErrReadOnly)
			assert.Equal(t, before, content(t, doc))
		})
	}

	require.NoError(t, doc.SetReadOnly(false))
	require.NoError(t, doc.Undo())
	assert.Equal(t, seq(10), content(t, doc))
}

func TestReadOnlyDevice(t *testing.T) {
	doc := document.New(device.NewMemory("ro", seq(4), device.MemoryOptions{ReadOnly: true}))
	defer doc.Close()

	assert.True(t, doc.ReadOnly())
	require.ErrorIs(t, doc.SetReadOnly(false), types.ErrReadOnly)
	require.ErrorIs(t, doc.Write(0, []byte{1}), types.ErrReadOnly)
}

func TestUndoRedoEmptyAreNoOps(t *testing.T) {
	doc := newDoc(t, 4)
	require.NoError(t, doc.Undo())
	require.NoError(t, doc.Redo())
	assert.False(t, doc.CanUndo())
	assert.False(t, doc.CanRedo())
	assert.Equal(t, seq(4), content(t, doc))
}

func TestRedoDiscardedByNewEdit(t *testing.T) {
	doc := newDoc(t, 4)
	require.NoError(t, doc.Insert(0, []byte{7}))
	require.NoError(t, doc.Undo())
	assert.True(t, doc.CanRedo())
	assert.Equal(t, "Insert", doc.RedoTitle())

	require.NoError(t, doc.Remove(0, 1))
	assert.False(t, doc.CanRedo())
	require.NoError(t, doc.Redo())
	assert.Equal(t, seq(4)[1:], content(t, doc))
}

func TestUndoRedoRoundTrip(t *testing.T) {
	const size = 256
	rng := rand.New(rand.NewPCG(7, 11))
	doc := newDoc(t, size)
	ref := seq(size)

	steps := 300
	if testing.Short() {
		steps = 60
	}
	for i := 0; i < steps; i++ {
		pos := rng.Int64N(int64(len(ref)) + 1)
		switch rng.IntN(4) {
		case 0:
			b := []byte{byte(rng.Uint32()), byte(rng.Uint32())}
			require.NoError(t, doc.Insert(pos, b))
			ref = append(ref[:pos:pos], append(b, ref[pos:]...)...)
		case 1:
			n := rng.Int64N(int64(len(ref))-pos+1) % 16
			require.NoError(t, doc.Remove(pos, n))
			ref = append(ref[:pos:pos], ref[pos+n:]...)
		case 2:
			b := []byte{byte(rng.Uint32()), byte(rng.Uint32()), byte(rng.Uint32())}
			require.NoError(t, doc.Write(pos, b))
			tail := ref[min(pos+3, int64(len(ref))):]
			ref = append(append(ref[:pos:pos], b...), tail...)
		case 3:
			n, v := rng.Int64N(4), byte(rng.Uint32())
			require.NoError(t, doc.InsertFill(pos, n, v))
			ref = append(ref[:pos:pos], append(bytes.Repeat([]byte{v}, int(n)), ref[pos:]...)...)
		}
		require.Equal(t, ref, content(t, doc), "step %d", i)
	}
	final := content(t, doc)

	for doc.CanUndo() {
		require.NoError(t, doc.Undo())
	}
	assert.Equal(t, seq(size), content(t, doc))
	assert.False(t, doc.IsModified())

	for doc.CanRedo() {
		require.NoError(t, doc.Redo())
	}
	assert.Equal(t, final, content(t, doc))
}

func TestUndoRedoIdempotent(t *testing.T) {
	doc := newDoc(t, 10)
	require.NoError(t, doc.Write(2, []byte{0xA, 0xB, 0xC}))
	after := content(t, doc)

	require.NoError(t, doc.Undo())
	require.NoError(t, doc.Redo())
	assert.Equal(t, after, content(t, doc))
}

func TestGroupedUndo(t *testing.T) {
	doc := newDoc(t, 10)

	err := doc.Group("Replace all", func() error {
		if err := doc.Write(0, []byte{0xEE}); err != nil {
			return err
		}
		doc.BeginGroup("nested")
		defer doc.EndGroup()
		return doc.Insert(5, []byte{1, 2, 3})
	})
	require.NoError(t, err)
	assert.Equal(t, int64(13), doc.Len())
	assert.Equal(t, "Replace all", doc.UndoTitle())

	require.NoError(t, doc.Undo())
	assert.Equal(t, seq(10), content(t, doc))
	assert.False(t, doc.CanUndo())
}

func TestUndoClosesOpenGroup(t *testing.T) {
	doc := newDoc(t, 4)
	doc.BeginGroup("typing")
	require.NoError(t, doc.Insert(0, []byte{1}))
	require.NoError(t, doc.Insert(1, []byte{2}))
	assert.True(t, doc.CanUndo())

	require.NoError(t, doc.Undo())
	assert.Equal(t, seq(4), content(t, doc))
	doc.EndGroup() // already closed
	assert.False(t, doc.CanUndo())
}

func TestHistoryLimit(t *testing.T) {
	limits := types.DefaultLimits()
	limits.HistoryLimit = 3
	doc := newDoc(t, 4, document.WithLimits(limits))

	for i := 0; i < 5; i++ {
		require.NoError(t, doc.Append([]byte{byte(0xA0 + i)}))
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, doc.Undo())
	}
	assert.Equal(t, append(seq(4), 0xA0, 0xA1), content(t, doc))
	assert.True(t, doc.IsModified(), "the saved state fell out of history")
}

func TestAppendWithConcurrentInserts(t *testing.T) {
	doc := newDoc(t, 4)
	const n = 200

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range n {
			assert.NoError(t, doc.Insert(0, []byte{0xBB}))
		}
	}()
	go func() {
		defer wg.Done()
		for range n {
			assert.NoError(t, doc.Append([]byte{0xAA}))
		}
	}()
	wg.Wait()

	want := append(bytes.Repeat([]byte{0xBB}, n), seq(4)...)
	want = append(want, bytes.Repeat([]byte{0xAA}, n)...)
	assert.Equal(t, want, content(t, doc), "appends always land at the end")
}

func TestMutationRangeErrors(t *testing.T) {
	doc := newDoc(t, 4)
	require.ErrorIs(t, doc.Insert(5, []byte{1}), types.ErrSeek)
	require.ErrorIs(t, doc.Remove(3, 2), types.ErrSeek)
	require.ErrorIs(t, doc.Write(5, []byte{1}), types.ErrSeek)
	_, err := doc.Read(2, 3)
	require.ErrorIs(t, err, types.ErrSeek)
	assert.False(t, doc.IsModified())
}

func TestEmptyMutationsRecordNothing(t *testing.T) {
	doc := newDoc(t, 4)
	require.NoError(t, doc.Insert(2, nil))
	require.NoError(t, doc.Remove(2, 0))
	require.NoError(t, doc.Write(2, nil))
	assert.False(t, doc.CanUndo())
}

func TestWritePastEndExtends(t *testing.T) {
	doc := newDoc(t, 4)
	require.NoError(t, doc.Write(3, []byte{9, 9, 9}))
	assert.Equal(t, []byte{0, 1, 2, 9, 9, 9}, content(t, doc))
}

func TestIsRangeModifiedAndExport(t *testing.T) {
	doc := newDoc(t, 10)
	require.NoError(t, doc.Write(4, []byte{0xEE}))

	mod, err := doc.IsRangeModified(0, 4)
	require.NoError(t, err)
	assert.False(t, mod)
	mod, err = doc.IsRangeModified(2, 4)
	require.NoError(t, err)
	assert.True(t, mod)

	spans, err := doc.ExportRange(3, 3)
	require.NoError(t, err)

	other := newDoc(t, 2)
	require.NoError(t, other.InsertSpans(1, spans))
	assert.Equal(t, []byte{0, 3, 0xEE, 5, 1}, content(t, other))

	spans[1].Data[0] = 0x11
	assert.Equal(t, []byte{0, 3, 0xEE, 5, 1}, content(t, other), "pasted spans are owned by the document")
	got, err := doc.Read(4, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xEE}, got)
}

func TestReadAt(t *testing.T) {
	doc := newDoc(t, 10)
	p := make([]byte, 4)

	n, err := doc.ReadAt(p, 8)
	assert.Equal(t, 2, n)
	assert.Error(t, err)
	assert.Equal(t, []byte{8, 9}, p[:n])

	n, err = doc.ReadAt(p, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{2, 3, 4, 5}, p)
}

func TestChangeNotifications(t *testing.T) {
	doc := newDoc(t, 10)

	var got []document.Change
	cancel := doc.Subscribe(func(c document.Change) {
		got = append(got, c)
		_ = doc.Len() // callbacks may re-enter the document
	})

	require.NoError(t, doc.Insert(3, []byte{1, 2}))
	assert.Equal(t, []document.Change{
		{Kind: document.BytesInserted, Pos: 3, Len: 2},
		{Kind: document.Resized, Len: 12},
		{Kind: document.ModifiedChanged},
		{Kind: document.UndoStateChanged},
	}, got)

	got = nil
	require.NoError(t, doc.Write(0, []byte{7}))
	assert.Equal(t, []document.Change{{Kind: document.DataChanged, Pos: 0, Len: 1}}, got)

	got = nil
	require.NoError(t, doc.SetFixedSize(true))
	assert.Equal(t, []document.Change{{Kind: document.FixedSizeChanged}}, got)

	cancel()
	got = nil
	require.NoError(t, doc.Write(0, []byte{8}))
	assert.Empty(t, got)
}

func TestClose(t *testing.T) {
	doc := document.New(device.NewMemory("buf", seq(4), device.MemoryOptions{}))
	require.NoError(t, doc.Close())
	require.NoError(t, doc.Close())

	_, err := doc.Read(0, 1)
	require.ErrorIs(t, err, types.ErrIO)
	require.ErrorIs(t, doc.Insert(0, []byte{1}), types.ErrIO)
}
