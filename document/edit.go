package document

import (
	"bytes"

	"github.com/joshuapare/hexkit/chain"
	"github.com/joshuapare/hexkit/pkg/types"
)

// Write overwrites the bytes at pos with data. Bytes past the end extend
// the document, which a fixed-size document rejects.
func (d *Document) Write(pos int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return d.overwrite("Write", pos, chain.FromBytes(bytes.Clone(data)))
}

// WriteFill overwrites n bytes at pos with b.
func (d *Document) WriteFill(pos, n int64, b byte) error {
	if n <= 0 {
		return nil
	}
	return d.overwrite("Fill", pos, chain.FromFill(n, b))
}

// Insert inserts data at pos.
func (d *Document) Insert(pos int64, data []byte) error {
	return d.splice("Insert", pos, 0, chain.FromBytes(bytes.Clone(data)))
}

// InsertFill inserts n copies of b at pos.
func (d *Document) InsertFill(pos, n int64, b byte) error {
	if n < 0 {
		return types.Errorf(types.ErrKindSeek, nil, "negative fill length %d", n)
	}
	return d.splice("Insert", pos, 0, chain.FromFill(n, b))
}

// InsertSpans inserts spans exported from this or another document. The
// caller keeps ownership of spans.
func (d *Document) InsertSpans(pos int64, spans []chain.Span) error {
	owned := make([]chain.Span, len(spans))
	for i, s := range spans {
		owned[i] = s.Clone()
	}
	return d.splice("Paste", pos, 0, owned...)
}

// Append inserts data at the end, as measured under the same lock as the
// insert.
func (d *Document) Append(data []byte) error {
	d.mu.Lock()
	changes, err := d.spliceLocked("Insert", d.chain.Len(), 0, []chain.Span{chain.FromBytes(bytes.Clone(data))})
	d.mu.Unlock()
	d.notify(changes)
	return err
}

// Remove removes n bytes at pos.
func (d *Document) Remove(pos, n int64) error {
	return d.splice("Remove", pos, n)
}

// overwrite replaces len(s) bytes at pos, or up to the end when s extends
// past it.
func (d *Document) overwrite(title string, pos int64, s chain.Span) error {
	d.mu.Lock()
	var changes []Change
	remove, err := d.checkPos(pos)
	if err == nil {
		changes, err = d.spliceLocked(title, pos, min(s.Len, remove), []chain.Span{s})
	}
	d.mu.Unlock()
	d.notify(changes)
	return err
}

func (d *Document) checkPos(pos int64) (int64, error) {
	size := d.chain.Len()
	if pos < 0 || pos > size {
		return 0, types.Errorf(types.ErrKindSeek, nil, "position %d outside document of %d bytes", pos, size)
	}
	return size - pos, nil
}

func (d *Document) splice(title string, pos, removeLen int64, insert ...chain.Span) error {
	d.mu.Lock()
	changes, err := d.spliceLocked(title, pos, removeLen, insert)
	d.mu.Unlock()
	d.notify(changes)
	return err
}

// spliceLocked applies one policy-checked splice and records it.
func (d *Document) spliceLocked(title string, pos, removeLen int64, insert []chain.Span) ([]Change, error) {
	if d.closed {
		return nil, errClosed
	}
	if d.readOnly {
		return nil, types.ErrReadOnly
	}
	if d.fixed && chain.Len(insert) != removeLen {
		return nil, types.ErrFrozenSize
	}
	if removeLen == 0 && chain.Len(insert) == 0 {
		_, err := d.checkPos(pos)
		return nil, err
	}

	before := d.stateLocked()
	e, err := d.chain.Splice(pos, removeLen, insert...)
	if err != nil {
		return nil, err
	}
	d.hist.record(title, e)
	return diff(editChanges(nil, e), before, d.stateLocked()), nil
}

// Undo reverts the most recent command. It is a no-op when there is
// nothing to undo.
func (d *Document) Undo() error {
	d.mu.Lock()
	changes, err := d.stepLocked(true)
	d.mu.Unlock()
	d.notify(changes)
	return err
}

// Redo reapplies the most recently undone command. It is a no-op when
// there is nothing to redo.
func (d *Document) Redo() error {
	d.mu.Lock()
	changes, err := d.stepLocked(false)
	d.mu.Unlock()
	d.notify(changes)
	return err
}

func (d *Document) stepLocked(undo bool) ([]Change, error) {
	if d.closed {
		return nil, errClosed
	}
	before := d.stateLocked()
	d.hist.flush()

	h := &d.hist
	if (undo && !h.canUndo()) || (!undo && !h.canRedo()) {
		return diff(nil, before, d.stateLocked()), nil
	}
	if d.readOnly {
		return diff(nil, before, d.stateLocked()), types.ErrReadOnly
	}

	idx := h.cursor
	if undo {
		idx--
	}
	cmd := h.cmds[idx]

	var delta int64
	for _, e := range cmd.edits {
		delta += e.InsertedLen() - e.RemovedLen()
	}
	if d.fixed && delta != 0 {
		return diff(nil, before, d.stateLocked()), types.ErrFrozenSize
	}

	var changes []Change
	if undo {
		for i := len(cmd.edits) - 1; i >= 0; i-- {
			inv := cmd.edits[i].Inverse()
			if err := d.chain.Apply(inv); err != nil {
				return changes, err
			}
			changes = editChanges(changes, inv)
		}
		h.cursor--
	} else {
		for _, e := range cmd.edits {
			if err := d.chain.Apply(e); err != nil {
				return changes, err
			}
			changes = editChanges(changes, e)
		}
		h.cursor++
	}
	return diff(changes, before, d.stateLocked()), nil
}

// CanUndo reports whether Undo would change the document.
func (d *Document) CanUndo() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hist.canUndo() || (d.hist.group != nil && len(d.hist.group.edits) > 0)
}

// CanRedo reports whether Redo would change the document.
func (d *Document) CanRedo() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hist.canRedo()
}

// UndoTitle names the command Undo would revert.
func (d *Document) UndoTitle() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hist.undoTitle()
}

// RedoTitle names the command Redo would reapply.
func (d *Document) RedoTitle() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hist.redoTitle()
}

// BeginGroup starts collecting edits into a single undo step titled title.
// Groups nest; only the outermost title is kept.
func (d *Document) BeginGroup(title string) {
	d.mu.Lock()
	d.hist.begin(title)
	d.mu.Unlock()
}

// EndGroup closes the innermost group opened by BeginGroup.
func (d *Document) EndGroup() {
	d.mu.Lock()
	before := d.stateLocked()
	d.hist.end()
	changes := diff(nil, before, d.stateLocked())
	d.mu.Unlock()
	d.notify(changes)
}

// Group runs fn with every edit it makes collected into one undo step.
func (d *Document) Group(title string, fn func() error) error {
	d.BeginGroup(title)
	defer d.EndGroup()
	return fn()
}

// editChanges appends the range notifications describing e.
func editChanges(changes []Change, e chain.Edit) []Change {
	removed, inserted := e.RemovedLen(), e.InsertedLen()
	common := min(removed, inserted)
	if common > 0 {
		changes = append(changes, Change{Kind: DataChanged, Pos: e.Pos, Len: common})
	}
	if removed > common {
		changes = append(changes, Change{Kind: BytesRemoved, Pos: e.Pos + common, Len: removed - common})
	}
	if inserted > common {
		changes = append(changes, Change{Kind: BytesInserted, Pos: e.Pos + common, Len: inserted - common})
	}
	return changes
}
