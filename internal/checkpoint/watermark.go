// Package checkpoint records how far into the input a run has got, so a
// later run can resume after the last accounted row.
package checkpoint

import "sync"

type node struct {
	offset     int64
	prev, next *node
}

// Watermark tracks source offsets in read order and reports the highest
// offset below which every tracked row has been resolved. Resolution may
// happen in any order.
type Watermark struct {
	mu         sync.Mutex
	base       int64
	start, end *node
}

func NewWatermark(base int64) *Watermark { return &Watermark{base: base} }

// Track appends offset (offsets must be increasing) and returns the func
// that resolves it. The resolve func is idempotent.
func (w *Watermark) Track(offset int64) func() {
	w.mu.Lock()
	n := &node{offset: offset}
	if w.end != nil {
		n.prev = w.end
		w.end.next = n
	} else {
		w.start = n
	}
	w.end = n
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			w.resolveLocked(n)
			w.mu.Unlock()
		})
	}
}

// resolveLocked unlinks n. A resolved node hands its offset to its
// predecessor, so the head always carries the highest contiguous offset
// once it is resolved itself.
func (w *Watermark) resolveLocked(n *node) {
	if n.prev != nil {
		n.prev.offset = n.offset
		n.prev.next = n.next
	} else {
		w.base = n.offset
		w.start = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		w.end = n.prev
	}
}

// Highest is the offset up to which every tracked row is resolved.
func (w *Watermark) Highest() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.base
}

// Pending counts rows tracked but not yet covered by Highest.
func (w *Watermark) Pending() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.end == nil {
		return 0
	}
	return w.end.offset - w.base
}
