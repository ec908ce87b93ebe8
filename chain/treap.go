package chain

// node is an implicit treap node ordered by position; size is the total
// byte length of the subtree and count its number of spans.
type node struct {
	span        Span
	prio        uint64
	size        int64
	count       int
	left, right *node
}

func sizeOf(t *node) int64 {
	if t == nil {
		return 0
	}
	return t.size
}

func countOf(t *node) int {
	if t == nil {
		return 0
	}
	return t.count
}

func (t *node) update() {
	t.size = sizeOf(t.left) + t.span.Len + sizeOf(t.right)
	t.count = countOf(t.left) + 1 + countOf(t.right)
}

// merge concatenates a and b; every position in a precedes b.
func merge(a, b *node) *node {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.prio > b.prio:
		a.right = merge(a.right, b)
		a.update()
		return a
	default:
		b.left = merge(a, b.left)
		b.update()
		return b
	}
}

// split divides t into the first pos bytes and the rest, cutting the span
// that straddles pos in two. newNode supplies nodes for cut-off halves.
func split(t *node, pos int64, newNode func(Span) *node) (l, r *node) {
	if t == nil {
		return nil, nil
	}
	leftSize := sizeOf(t.left)
	switch {
	case pos <= leftSize:
		l, t.left = split(t.left, pos, newNode)
		t.update()
		return l, t
	case pos >= leftSize+t.span.Len:
		t.right, r = split(t.right, pos-leftSize-t.span.Len, newNode)
		t.update()
		return t, r
	default:
		off := pos - leftSize
		tail := newNode(t.span.Slice(off, t.span.Len-off))
		t.span = t.span.Slice(0, off)
		r = merge(tail, t.right)
		t.right = nil
		t.update()
		return t, r
	}
}

// popFirst detaches the leftmost span of a non-empty tree.
func popFirst(t *node) (*node, Span) {
	if t.left == nil {
		return t.right, t.span
	}
	var s Span
	t.left, s = popFirst(t.left)
	t.update()
	return t, s
}

// popLast detaches the rightmost span of a non-empty tree.
func popLast(t *node) (*node, Span) {
	if t.right == nil {
		return t.left, t.span
	}
	var s Span
	t.right, s = popLast(t.right)
	t.update()
	return t, s
}

// walk visits, in order, the spans overlapping [from, to). base is the
// logical position of t's first byte. fn returning false stops the walk.
func walk(t *node, base, from, to int64, fn func(pos int64, s Span) bool) bool {
	if t == nil || from >= to {
		return true
	}
	start := base + sizeOf(t.left)
	end := start + t.span.Len
	if from < start {
		if !walk(t.left, base, from, to, fn) {
			return false
		}
	}
	if from < end && start < to {
		if !fn(start, t.span) {
			return false
		}
	}
	if to > end {
		return walk(t.right, end, from, to, fn)
	}
	return true
}
