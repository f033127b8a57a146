package matching

import "bourse/internal/traders"

// Side is which side of the book an order rests on.
type Side int

const (
	Buy Side = iota
	Sell
)

// Order is a live resting order (spec.md §3). ID, Side and Price are
// fixed at creation; Remaining is mutated by fills and reaches zero
// exactly when the order is fully matched. The Session reference keeps
// the poster's session alive for the order's entire lifetime — it is
// acquired when the order is created and released when the order leaves
// the book, whether by fill, cancel, or engine teardown.
type Order struct {
	ID        uint32
	Side      Side
	Price     uint32
	Remaining uint32
	Session   *traders.Session
}
