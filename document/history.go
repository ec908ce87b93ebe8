package document

import (
	"github.com/joshuapare/hexkit/chain"
)

// command is one undo step: the edits of a single call or of a group.
type command struct {
	title string
	edits []chain.Edit
}

// history is an arena of commands with a cursor separating the undo side
// (cmds[:cursor]) from the redo side (cmds[cursor:]).
type history struct {
	cmds      []command
	cursor    int
	savepoint int // cursor value matching the saved content, -1 if unreachable
	limit     int

	group *command
	depth int
}

func newHistory(limit int) history {
	return history{limit: limit}
}

func (h *history) canUndo() bool { return h.cursor > 0 }

func (h *history) canRedo() bool { return h.cursor < len(h.cmds) }

func (h *history) modified() bool {
	return h.cursor != h.savepoint || (h.group != nil && len(h.group.edits) > 0)
}

func (h *history) markSaved() { h.savepoint = h.cursor }

// record adds e to the open group or pushes it as its own command.
func (h *history) record(title string, e chain.Edit) {
	if h.group != nil {
		h.group.edits = append(h.group.edits, e)
		return
	}
	h.push(command{title: title, edits: []chain.Edit{e}})
}

// push discards the redo side and appends c, evicting the oldest command
// once the limit is exceeded.
func (h *history) push(c command) {
	h.cmds = append(h.cmds[:h.cursor:h.cursor], c)
	if h.savepoint > h.cursor {
		h.savepoint = -1
	}
	h.cursor++

	if h.limit > 0 && len(h.cmds) > h.limit {
		drop := len(h.cmds) - h.limit
		h.cmds = append(h.cmds[:0:0], h.cmds[drop:]...)
		h.cursor -= drop
		if h.savepoint >= 0 {
			h.savepoint -= drop
			if h.savepoint < 0 {
				h.savepoint = -1
			}
		}
	}
}

func (h *history) begin(title string) {
	if h.depth == 0 {
		h.group = &command{title: title}
	}
	h.depth++
}

// end closes one nesting level and reports whether the outermost group was
// closed.
func (h *history) end() bool {
	if h.depth == 0 {
		return false
	}
	h.depth--
	if h.depth > 0 {
		return false
	}
	g := h.group
	h.group = nil
	if len(g.edits) > 0 {
		h.push(*g)
	}
	return true
}

// flush closes any open group regardless of depth.
func (h *history) flush() {
	if h.depth > 0 {
		h.depth = 1
		h.end()
	}
}

func (h *history) undoTitle() string {
	if !h.canUndo() {
		return ""
	}
	return h.cmds[h.cursor-1].title
}

func (h *history) redoTitle() string {
	if !h.canRedo() {
		return ""
	}
	return h.cmds[h.cursor].title
}

// spans calls fn for every span slice referenced by the history so callers
// may replace them.
func (h *history) spans(fn func([]chain.Span) ([]chain.Span, error)) error {
	visit := func(c *command) error {
		for i := range c.edits {
			e := &c.edits[i]
			var err error
			if e.Removed, err = fn(e.Removed); err != nil {
				return err
			}
			if e.Inserted, err = fn(e.Inserted); err != nil {
				return err
			}
		}
		return nil
	}
	for i := range h.cmds {
		if err := visit(&h.cmds[i]); err != nil {
			return err
		}
	}
	if h.group != nil {
		return visit(h.group)
	}
	return nil
}
