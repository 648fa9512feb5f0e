// Package ordertable implements the fixed-capacity resting-order lookup
// table described in spec.md §4.2 and §3. An order is keyed by its
// exchange-assigned order number (Venue A/B) or by a fixed-width
// alphanumeric order reference (Venue C); both fields live in the same key
// so a single table serves every venue without a type parameter.
package ordertable

import (
	"errors"

	"github.com/csfeeds/feedhandler/internal/symboltable"
)

// Key identifies a resting order. Venue A/B populate Num and leave Ref
// zeroed; Venue C populates Ref (right-space-padded, trailing spaces
// significant) and leaves Num zero.
type Key struct {
	Num uint64
	Ref [20]byte
}

// NumKey builds a Key from a numeric order number (Venue A/B).
func NumKey(n uint64) Key { return Key{Num: n} }

// RefKey builds a Key from an alphanumeric order reference (Venue C),
// right-space-padded or truncated to 20 bytes.
func RefKey(s string) Key {
	var k Key
	copy(k.Ref[:], s)
	for i := len(s); i < len(k.Ref); i++ {
		k.Ref[i] = ' '
	}
	return k
}

// Side indicates which side of the book an order rests on.
type Side byte

const (
	Buy  Side = 'B'
	Sell Side = 'S'
)

// Entry is a resting order, mutated in place by Execute/ExecuteAtPrice/
// ReduceSize/Modify/Replace and removed by Delete or by an execute that
// exhausts its shares (spec.md §3).
type Entry struct {
	Key     Key
	Shares  uint32
	Price   uint64 // integer units of 10^-4, matching wire price fields
	Side    Side
	Stock   [6]byte
	Symbol  *symboltable.Entry // non-owning back-reference
	Context any
}

// ErrDuplicate is returned by Insert when the key already exists.
var ErrDuplicate = errors.New("ordertable: duplicate key")

// ErrNotFound is returned by operations that require an existing order.
var ErrNotFound = errors.New("ordertable: order not found")

// WarnFunc is invoked at >=90% occupancy per spec.md §4.2's cadence.
type WarnFunc func(occupied, capacity int)

// Table is a map of Key to *Entry with a capacity fixed at construction.
// The capacity drives the occupancy warning only; Insert does not refuse
// an order when the table already holds capacity entries. Not safe for
// concurrent use; all mutation happens on the single I/O thread
// (spec.md §5).
type Table struct {
	entries    map[Key]*Entry
	capacity   int
	warn       WarnFunc
	insertsHot int
}

// New creates a table with the given fixed capacity.
func New(capacity int, warn WarnFunc) *Table {
	if warn == nil {
		warn = func(int, int) {}
	}
	return &Table{
		entries:  make(map[Key]*Entry, capacity),
		capacity: capacity,
		warn:     warn,
	}
}

// Len reports current occupancy.
func (t *Table) Len() int { return len(t.entries) }

// Capacity reports the fixed capacity configured at construction.
func (t *Table) Capacity() int { return t.capacity }

// Get returns the entry for key, if present.
func (t *Table) Get(key Key) (*Entry, bool) {
	e, ok := t.entries[key]
	return e, ok
}

// Insert adds a newly created order (Add Order message family).
func (t *Table) Insert(entry *Entry) (*Entry, error) {
	if _, exists := t.entries[entry.Key]; exists {
		return nil, ErrDuplicate
	}
	t.entries[entry.Key] = entry
	t.checkOccupancy()
	return entry, nil
}

// Delete removes key, returning the removed entry.
func (t *Table) Delete(key Key) (*Entry, bool) {
	e, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	return e, ok
}

// Replace atomically removes oldKey and inserts entry under entry.Key,
// matching spec.md §3's "old key removed, new inserted" Replace semantics.
// Returns ErrNotFound if oldKey is absent, or ErrDuplicate if the new key
// collides with a different resident order.
func (t *Table) Replace(oldKey Key, entry *Entry) (*Entry, error) {
	if _, ok := t.entries[oldKey]; !ok {
		return nil, ErrNotFound
	}
	if existing, exists := t.entries[entry.Key]; exists && oldKey != entry.Key {
		_ = existing
		return nil, ErrDuplicate
	}
	delete(t.entries, oldKey)
	t.entries[entry.Key] = entry
	t.checkOccupancy()
	return entry, nil
}

func (t *Table) checkOccupancy() {
	if t.capacity <= 0 {
		return
	}
	if len(t.entries)*100 < 90*t.capacity {
		t.insertsHot = 0
		return
	}
	t.insertsHot++
	if t.insertsHot%100 == 1 {
		t.warn(len(t.entries), t.capacity)
	}
}

// Execute applies an Order Executed message: it subtracts shares from the
// resting order, clamping at zero rather than wrapping (spec.md §9 fixes
// the reference's unguarded subtraction), and removes the order once its
// shares reach zero (spec.md §3). overExecuted reports whether the
// requested shares exceeded what remained, for the caller to warn on.
func (t *Table) Execute(key Key, shares uint32) (entry *Entry, overExecuted bool, removed bool, err error) {
	e, ok := t.entries[key]
	if !ok {
		return nil, false, false, ErrNotFound
	}
	if shares > e.Shares {
		overExecuted = true
		e.Shares = 0
	} else {
		e.Shares -= shares
	}
	if e.Shares == 0 {
		delete(t.entries, key)
		removed = true
	}
	return e, overExecuted, removed, nil
}

// ExecuteAtPrice applies an Order Executed At Price message: shares is set
// directly to the reported remaining quantity and price is updated; the
// order is removed once remaining reaches zero (spec.md §4.4 record table).
func (t *Table) ExecuteAtPrice(key Key, remaining uint32, price uint64) (entry *Entry, removed bool, err error) {
	e, ok := t.entries[key]
	if !ok {
		return nil, false, ErrNotFound
	}
	e.Shares = remaining
	e.Price = price
	if e.Shares == 0 {
		delete(t.entries, key)
		removed = true
	}
	return e, removed, nil
}

// ReduceSize subtracts shares from the resting order, clamping at zero.
// The reference implementation's short-message handler subtracted without
// this guard and could wrap below zero; spec.md §9 treats that as a bug to
// fix, so both the long and short record types share this guarded path.
func (t *Table) ReduceSize(key Key, shares uint32) (entry *Entry, underflowed bool, err error) {
	e, ok := t.entries[key]
	if !ok {
		return nil, false, ErrNotFound
	}
	if shares > e.Shares {
		underflowed = true
		e.Shares = 0
	} else {
		e.Shares -= shares
	}
	return e, underflowed, nil
}

// Modify overwrites shares and price on the resting order (Modify Order
// message family).
func (t *Table) Modify(key Key, shares uint32, price uint64) (*Entry, error) {
	e, ok := t.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	e.Shares = shares
	e.Price = price
	return e, nil
}
