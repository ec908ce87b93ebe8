package search_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/hexkit/device"
	"github.com/joshuapare/hexkit/document"
	"github.com/joshuapare/hexkit/operation"
	"github.com/joshuapare/hexkit/pkg/types"
	"github.com/joshuapare/hexkit/search"
)

var pattern = []byte{0xde, 0xad, 0xbe, 0xef}

func newDocument(t *testing.T, size int, at ...int) *document.Document {
	t.Helper()
	data := make([]byte, size)
	for _, pos := range at {
		copy(data[pos:], pattern)
	}
	doc := document.New(device.NewMemory("buffer", data, device.MemoryOptions{}))
	t.Cleanup(func() { _ = doc.Close() })
	return doc
}

func TestTaskFindsAllMatches(t *testing.T) {
	doc := newDocument(t, 1<<20, 100, 5000, 1<<19, 1<<20-4)
	task := search.NewTask(doc, search.Options{Pattern: pattern, Window: 4096})

	op := operation.New("search", task)
	require.Equal(t, operation.Completed, op.Execute(context.Background()))

	want := []search.Match{{Pos: 100, Len: 4}, {Pos: 5000, Len: 4}, {Pos: 1 << 19, Len: 4}, {Pos: 1<<20 - 4, Len: 4}}
	assert.Equal(t, want, task.Matches())

	snap := op.Snapshot()
	assert.Equal(t, 1.0, snap.Progress)
	total, ok := snap.Result("matches")
	require.True(t, ok)
	assert.Equal(t, 4, total)
}

func TestTaskCancelAfterFirstMatch(t *testing.T) {
	doc := newDocument(t, 1<<20, 100, 5000)

	var op *operation.Operation
	task := search.NewTask(doc, search.Options{
		Pattern: pattern,
		OnMatch: func(search.Match) {
			require.NoError(t, op.RequestCancel())
		},
	})
	op = operation.New("search", task)

	assert.Equal(t, operation.Cancelled, op.Execute(context.Background()))
	assert.Equal(t, []search.Match{{Pos: 100, Len: 4}}, task.Matches())
	assert.Len(t, op.Snapshot().Results, 1)
}

func TestTaskMatchLimitAndRange(t *testing.T) {
	doc := newDocument(t, 64<<10, 10, 20, 30, 40)

	limited := search.NewTask(doc, search.Options{Pattern: pattern, MaxMatches: 2})
	require.Equal(t, operation.Completed, operation.New("limited", limited).Execute(context.Background()))
	assert.Equal(t, []search.Match{{Pos: 10, Len: 4}, {Pos: 20, Len: 4}}, limited.Matches())

	ranged := search.NewTask(doc, search.Options{Pattern: pattern, Start: 15, Length: 20})
	require.Equal(t, operation.Completed, operation.New("ranged", ranged).Execute(context.Background()))
	assert.Equal(t, []search.Match{{Pos: 20, Len: 4}, {Pos: 30, Len: 4}}, ranged.Matches())
}

func TestTaskSeesEdits(t *testing.T) {
	doc := newDocument(t, 1024)
	require.NoError(t, doc.Insert(512, pattern))
	require.NoError(t, doc.Write(1000, pattern[:2]))
	require.NoError(t, doc.Write(1002, pattern[2:]))

	task := search.NewTask(doc, search.Options{Pattern: pattern, Window: 16})
	require.Equal(t, operation.Completed, operation.New("search", task).Execute(context.Background()))
	assert.Equal(t, []search.Match{{Pos: 512, Len: 4}, {Pos: 1000, Len: 4}}, task.Matches())
}

func TestTaskEmptyPatternFails(t *testing.T) {
	doc := newDocument(t, 16)
	op := operation.New("search", search.NewTask(doc, search.Options{}))
	require.Equal(t, operation.Failed, op.Execute(context.Background()))
	assert.ErrorIs(t, op.Err(), types.ErrOperation)
}

func TestTaskOnManager(t *testing.T) {
	doc := newDocument(t, 1<<20, 4096)
	m := operation.NewManager(operation.ManagerOptions{Workers: 1})
	defer m.Close()

	task := search.NewTask(doc, search.Options{Pattern: pattern})
	op, err := m.Submit("search", task)
	require.NoError(t, err)
	require.NoError(t, op.Wait(context.Background()))
	assert.Equal(t, operation.Completed, op.Status())
	assert.Equal(t, []search.Match{{Pos: 4096, Len: 4}}, task.Matches())
}
