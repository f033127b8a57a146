package matching

import "errors"

// ErrZeroQuantity is returned by PostBuy/PostSell for a zero-quantity
// order; no state is changed.
var ErrZeroQuantity = errors.New("matching: quantity must be non-zero")

// ErrCapacity is returned when a book is full.
var ErrCapacity = errors.New("matching: order book full")

// ErrOrderNotFound is returned by Cancel when no live order has the
// given id in either book.
var ErrOrderNotFound = errors.New("matching: order not found")

// ErrNotOwner is returned by Cancel when the order exists but was posted
// by a different session.
var ErrNotOwner = errors.New("matching: order belongs to a different session")
