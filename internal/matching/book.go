package matching

import (
	rbt "github.com/emirpasic/gods/v2/trees/redblacktree"
)

// MaxOrdersPerBook is the per-side order book capacity (spec.md §3: "each
// cap ≈ 4096", mirrored from the original's buy_orders/sell_orders arrays
// of MAX_ORDERS each — see DESIGN.md on reconciling this with §6's
// "≤4096 total", which is read here as a rounding of the per-book figure).
const MaxOrdersPerBook = 4096

// priceLevel is the FIFO queue of slot indices resting at one price.
// Orders at the same price are matched in the order they were inserted,
// which is a permitted strengthening of spec.md §4.3.2's "scans linearly
// and matches the first crossing pair found" — no ordering guarantee
// beyond "some crossing pair matches" is required, and this implementation
// provides one.
type priceLevel struct {
	price uint32
	slots []int
}

// book is one side of the order book: a bounded, slot-indexed array that
// owns order lifetime and enforces the capacity cap (the literal
// mechanism of spec.md §4.3 and the original exchange.c), plus a
// red-black tree index from price to FIFO slot queue so that best-price
// lookup (status()'s bid/ask, and the matching worker's crossing search)
// is O(log L) in the number of distinct price levels rather than a
// linear scan of the whole array. This is the conforming strengthening
// spec.md §4.3.2 explicitly allows ("implementations may substitute
// ordered heaps").
type book struct {
	slots  [MaxOrdersPerBook]*Order
	levels *rbt.Tree[uint32, *priceLevel]
}

func newBook(better func(a, b uint32) int) *book {
	return &book{levels: rbt.NewWith[uint32, *priceLevel](better)}
}

// insert places o in the first free slot and indexes it by price. It
// reports false without mutating anything if the book is full.
func (b *book) insert(o *Order) (slot int, ok bool) {
	for i, existing := range b.slots {
		if existing == nil {
			slot, ok = i, true
			break
		}
	}
	if !ok {
		return 0, false
	}
	b.slots[slot] = o

	lvl, found := b.levels.Get(o.Price)
	if !found {
		lvl = &priceLevel{price: o.Price}
		b.levels.Put(o.Price, lvl)
	}
	lvl.slots = append(lvl.slots, slot)
	return slot, true
}

// removeSlot clears slot and drops it from its price level, removing the
// level entirely once it empties out.
func (b *book) removeSlot(slot int) {
	o := b.slots[slot]
	if o == nil {
		return
	}
	b.slots[slot] = nil

	lvl, found := b.levels.Get(o.Price)
	if !found {
		return
	}
	for i, s := range lvl.slots {
		if s == slot {
			lvl.slots = append(lvl.slots[:i], lvl.slots[i+1:]...)
			break
		}
	}
	if len(lvl.slots) == 0 {
		b.levels.Remove(o.Price)
	}
}

// findByID scans the book for an order with the given id. Bounded at
// MaxOrdersPerBook, so this stays cheap even without a secondary index —
// cancel is rare compared to matching.
func (b *book) findByID(id uint32) (slot int, ok bool) {
	for i, o := range b.slots {
		if o != nil && o.ID == id {
			return i, true
		}
	}
	return 0, false
}

// bestPrice returns the best (highest bid / lowest ask, per the book's
// comparator) resting price, or false if the book is empty.
func (b *book) bestPrice() (uint32, bool) {
	node := b.levels.Left()
	if node == nil {
		return 0, false
	}
	return node.Value.price, true
}

// bestSlot returns the slot of the oldest order at the best price level.
func (b *book) bestSlot() (int, bool) {
	node := b.levels.Left()
	if node == nil || len(node.Value.slots) == 0 {
		return 0, false
	}
	return node.Value.slots[0], true
}

// all returns every live order in the book, for teardown.
func (b *book) all() []*Order {
	var out []*Order
	for _, o := range b.slots {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}
