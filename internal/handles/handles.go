// Package handles provides a generation-checked handle table mapping opaque
// uint64 tokens to Go values. Tokens embed a slot generation so that a stale
// token from a released entry is detected instead of resolving to whatever
// value reused the slot.
package handles

const genShift = 32

// Table stores Go values behind opaque tokens. The zero token is never
// issued and always resolves to nothing. Table is not safe for concurrent
// use; callers serialize access.
type Table struct {
	slots []slot
	free  []uint32
	live  int
}

type slot struct {
	gen  uint32
	val  any
	used bool
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

// Add stores v and returns its token.
func (t *Table) Add(v any) uint64 {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, slot{})
		idx = uint32(len(t.slots) - 1)
	}
	s := &t.slots[idx]
	s.val = v
	s.used = true
	t.live++
	// Token layout: generation in the high word, slot+1 in the low word so
	// that zero is never a valid token.
	return uint64(s.gen)<<genShift | uint64(idx+1)
}

// Get resolves a token. A zero, stale, or released token reports false.
func (t *Table) Get(token uint64) (any, bool) {
	s := t.lookup(token)
	if s == nil {
		return nil, false
	}
	return s.val, true
}

// Release frees the entry behind token. Releasing an already-released or
// stale token is a no-op and reports false.
func (t *Table) Release(token uint64) bool {
	s := t.lookup(token)
	if s == nil {
		return false
	}
	s.val = nil
	s.used = false
	s.gen++
	t.free = append(t.free, uint32(token&0xffffffff)-1)
	t.live--
	return true
}

// Len reports the number of live entries.
func (t *Table) Len() int {
	return t.live
}

func (t *Table) lookup(token uint64) *slot {
	low := uint32(token & 0xffffffff)
	if low == 0 || int(low) > len(t.slots) {
		return nil
	}
	s := &t.slots[low-1]
	if !s.used || s.gen != uint32(token>>genShift) {
		return nil
	}
	return s
}
