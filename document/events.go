package document

// ChangeKind identifies what a Change describes.
type ChangeKind int

const (
	DataChanged      ChangeKind = iota + 1 // bytes in [Pos, Pos+Len) were overwritten
	BytesInserted                          // Len bytes were inserted at Pos
	BytesRemoved                           // Len bytes were removed at Pos
	Resized                                // the document is now Len bytes long
	ModifiedChanged                        // IsModified flipped
	UndoStateChanged                       // CanUndo or CanRedo flipped
	ReadOnlyChanged                        // the read-only policy changed
	FixedSizeChanged                       // the fixed-size policy changed
)

var changeKindNames = map[ChangeKind]string{
	DataChanged:      "DataChanged",
	BytesInserted:    "BytesInserted",
	BytesRemoved:     "BytesRemoved",
	Resized:          "Resized",
	ModifiedChanged:  "ModifiedChanged",
	UndoStateChanged: "UndoStateChanged",
	ReadOnlyChanged:  "ReadOnlyChanged",
	FixedSizeChanged: "FixedSizeChanged",
}

func (k ChangeKind) String() string {
	if name, ok := changeKindNames[k]; ok {
		return name
	}
	return "ChangeKind(?)"
}

// Change is a notification about the document. Pos and Len are only
// meaningful for the range kinds and Resized.
type Change struct {
	Kind ChangeKind
	Pos  int64
	Len  int64
}

// Subscribe registers fn for change notifications and returns a function
// that unregisters it. fn runs on the goroutine that made the change, after
// the document lock is released, so it may call back into the document.
func (d *Document) Subscribe(fn func(Change)) (cancel func()) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	return func() {
		d.subMu.Lock()
		defer d.subMu.Unlock()
		delete(d.subs, id)
	}
}

func (d *Document) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	d.subMu.Lock()
	fns := make([]func(Change), 0, len(d.subs))
	for id := 0; id < d.nextSub; id++ {
		if fn, ok := d.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	d.subMu.Unlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

// state captures the flags whose transitions are reported.
type state struct {
	size     int64
	modified bool
	canUndo  bool
	canRedo  bool
}

func (d *Document) stateLocked() state {
	return state{
		size:     d.chain.Len(),
		modified: d.hist.modified(),
		canUndo:  d.hist.canUndo(),
		canRedo:  d.hist.canRedo(),
	}
}

// diff appends the flag transitions between before and after.
func diff(changes []Change, before, after state) []Change {
	if before.size != after.size {
		changes = append(changes, Change{Kind: Resized, Len: after.size})
	}
	if before.modified != after.modified {
		changes = append(changes, Change{Kind: ModifiedChanged})
	}
	if before.canUndo != after.canUndo || before.canRedo != after.canRedo {
		changes = append(changes, Change{Kind: UndoStateChanged})
	}
	return changes
}
