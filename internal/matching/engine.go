// Package matching implements the Matching Engine (spec.md §4.3): the
// order books, the price-determination rule, and the background worker
// that drains crossing pairs and dispatches match notifications.
package matching

import (
	"math"
	"sync"

	"bourse/internal/ledger"
	"bourse/internal/logging"
	"bourse/internal/traders"
	"bourse/internal/wire"
)

// Engine holds the two order books, the last-trade price, and the
// monotonic order-id allocator, all protected by a single coarse mutex
// (spec.md §4.3: "a coarse mutex protecting all of the above"). A single
// background worker drains matches; Post/Cancel/Status only ever touch
// the books directly, under mu, and never send packets while holding it.
type Engine struct {
	registry *traders.Registry
	log      *logging.Logger

	mu             sync.Mutex
	bids           *book
	asks           *book
	nextOrderID    uint32
	lastTradePrice uint32
	lastTradeSet   bool

	signal chan struct{} // cap 1: coalesced "pending work" flag
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New creates an engine that dispatches notifications through registry.
func New(registry *traders.Registry, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.New(nil)
	}
	descending := func(a, b uint32) int {
		switch {
		case a > b:
			return -1
		case a < b:
			return 1
		default:
			return 0
		}
	}
	ascending := func(a, b uint32) int {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
	return &Engine{
		registry:    registry,
		log:         log,
		bids:        newBook(descending),
		asks:        newBook(ascending),
		nextOrderID: 1,
		signal:      make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}
}

// Start launches the matching worker goroutine.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.run()
}

// Stop cancels the matching worker and waits for it to exit, then frees
// every order remaining in the books, dropping each one's session
// reference (spec.md §5: "in-flight orders remaining in the books are
// then freed with their session refs dropped, which may destroy the
// sessions").
func (e *Engine) Stop() {
	close(e.stop)
	e.wg.Wait()

	e.mu.Lock()
	remaining := append(e.bids.all(), e.asks.all()...)
	e.mu.Unlock()

	for _, o := range remaining {
		e.registry.Unref(o.Session)
	}
}

func (e *Engine) signalWork() {
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

func (e *Engine) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case <-e.signal:
		}
		e.drain()
	}
}

// drain matches crossing pairs until none remain, then returns so the
// worker can re-wait on the signal.
func (e *Engine) drain() {
	for {
		select {
		case <-e.stop:
			return
		default:
		}
		if !e.matchOnce() {
			return
		}
	}
}

// PostBuy posts a limit buy order, encumbering qty*price funds from the
// session's account. Returns the allocated order id, or 0 on failure
// (zero quantity, insufficient funds, or a full book) with no state
// change (spec.md §4.3).
func (e *Engine) PostBuy(s *traders.Session, qty, price uint32) (uint32, error) {
	return e.post(s, Buy, qty, price)
}

// PostSell posts a limit sell order, encumbering qty units of inventory.
func (e *Engine) PostSell(s *traders.Session, qty, price uint32) (uint32, error) {
	return e.post(s, Sell, qty, price)
}

func (e *Engine) post(s *traders.Session, side Side, qty, price uint32) (uint32, error) {
	if qty == 0 {
		return 0, ErrZeroQuantity
	}

	e.mu.Lock()
	s.Ref() // the order now owns one reference to the session

	var encumbranceErr error
	if side == Buy {
		encumbranceErr = s.Account().DecreaseBalance(mulSaturate(qty, price))
	} else {
		encumbranceErr = s.Account().DecreaseInventory(qty)
	}
	if encumbranceErr != nil {
		e.registry.Unref(s)
		e.mu.Unlock()
		return 0, encumbranceErr
	}

	order := &Order{Side: side, Price: price, Remaining: qty, Session: s}
	b := e.bookFor(side)
	slot, ok := b.insert(order)
	if !ok {
		if side == Buy {
			s.Account().IncreaseBalance(mulSaturate(qty, price))
		} else {
			s.Account().IncreaseInventory(qty)
		}
		e.registry.Unref(s)
		e.mu.Unlock()
		return 0, ErrCapacity
	}
	_ = slot

	order.ID = e.nextOrderID
	e.nextOrderID++
	e.mu.Unlock()

	e.signalWork()

	buyerID, sellerID := order.ID, uint32(0)
	if side == Sell {
		buyerID, sellerID = 0, order.ID
	}
	e.broadcast(wire.Posted, buyerID, sellerID, qty, price)

	return order.ID, nil
}

func (e *Engine) bookFor(side Side) *book {
	if side == Buy {
		return e.bids
	}
	return e.asks
}

// Cancel removes a live order posted by s, refunding its encumbrance and
// reporting the quantity that was outstanding at cancellation.
func (e *Engine) Cancel(s *traders.Session, orderID uint32) (uint32, error) {
	e.mu.Lock()

	slot, side, found := e.findOrder(orderID)
	if !found {
		e.mu.Unlock()
		return 0, ErrOrderNotFound
	}
	b := e.bookFor(side)
	order := b.slots[slot]
	if order.Session != s {
		e.mu.Unlock()
		return 0, ErrNotOwner
	}

	remaining := order.Remaining
	b.removeSlot(slot)
	if side == Buy {
		order.Session.Account().IncreaseBalance(mulSaturate(remaining, order.Price))
	} else {
		order.Session.Account().IncreaseInventory(remaining)
	}
	e.mu.Unlock()

	e.registry.Unref(order.Session)

	buyerID, sellerID := order.ID, uint32(0)
	if side == Sell {
		buyerID, sellerID = 0, order.ID
	}
	e.broadcast(wire.Canceled, buyerID, sellerID, remaining, order.Price)

	return remaining, nil
}

func (e *Engine) findOrder(orderID uint32) (slot int, side Side, found bool) {
	if slot, ok := e.bids.findByID(orderID); ok {
		return slot, Buy, true
	}
	if slot, ok := e.asks.findByID(orderID); ok {
		return slot, Sell, true
	}
	return 0, 0, false
}

// Status fills out the market-facing half of a STATUS reply: the
// account's balance/inventory (zero if acc is nil), the last trade
// price, and the current best bid/ask, all under the engine mutex so
// the reported figures are mutually consistent (spec.md §4.3).
func (e *Engine) Status(acc *ledger.Account) wire.StatusInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	var info wire.StatusInfo
	if acc != nil {
		snap := acc.Snapshot()
		info.Balance = snap.Balance
		info.Inventory = snap.Inventory
	}
	if e.lastTradeSet {
		info.LastTradePrice = e.lastTradePrice
	}
	if p, ok := e.bids.bestPrice(); ok {
		info.Bid = p
	}
	if p, ok := e.asks.bestPrice(); ok {
		info.Ask = p
	}
	return info
}

// tradePrice implements the price rule of spec.md §4.3.1. Caller must
// hold e.mu.
func (e *Engine) tradePrice(sell, buy uint32) uint32 {
	if !e.lastTradeSet {
		return sell
	}
	last := e.lastTradePrice
	switch {
	case sell <= last && last <= buy:
		return last
	case last < sell:
		return sell
	default: // last > buy
		return buy
	}
}

// matchOnce performs a single match step: find a crossing pair, execute
// the trade, and dispatch notifications. Returns false if no crossing
// pair exists, in which case the worker goes back to waiting.
func (e *Engine) matchOnce() bool {
	e.mu.Lock()

	bidSlot, haveBid := e.bids.bestSlot()
	askSlot, haveAsk := e.asks.bestSlot()
	if !haveBid || !haveAsk {
		e.mu.Unlock()
		return false
	}
	bid := e.bids.slots[bidSlot]
	ask := e.asks.slots[askSlot]
	if bid.Price < ask.Price {
		e.mu.Unlock()
		return false
	}

	price := e.tradePrice(ask.Price, bid.Price)
	qty := min(bid.Remaining, ask.Remaining)

	bid.Session.Account().IncreaseInventory(qty)
	ask.Session.Account().IncreaseBalance(mulSaturate(price, qty))
	if price < bid.Price {
		ask2 := mulSaturate(bid.Price-price, qty)
		bid.Session.Account().IncreaseBalance(ask2)
	}

	e.lastTradeSet = true
	e.lastTradePrice = price

	bid.Remaining -= qty
	ask.Remaining -= qty

	var completedBuyer, completedSeller *traders.Session
	if bid.Remaining == 0 {
		e.bids.removeSlot(bidSlot)
		completedBuyer = bid.Session
	}
	if ask.Remaining == 0 {
		e.asks.removeSlot(askSlot)
		completedSeller = ask.Session
	}
	buyOrderID, sellOrderID := bid.ID, ask.ID
	buyerSession, sellerSession := bid.Session, ask.Session

	e.mu.Unlock()

	e.dispatchTrade(buyerSession, sellerSession, buyOrderID, sellOrderID, qty, price)

	if completedBuyer != nil {
		e.registry.Unref(completedBuyer)
	}
	if completedSeller != nil {
		e.registry.Unref(completedSeller)
	}

	return true
}

// dispatchTrade sends BOUGHT to the buyer, SOLD to the seller, and
// broadcasts TRADED to everyone, all outside the engine mutex (spec.md
// §4.3: "match notifications must not be sent under the engine mutex").
// Extra references keep both sessions alive through their sends even if
// a concurrent logout drops the caller's own reference.
func (e *Engine) dispatchTrade(buyer, seller *traders.Session, buyOrderID, sellOrderID, qty, price uint32) {
	sec, nsec := monotonicTimestamp()
	buyer.Ref()
	seller.Ref()

	boughtPayload := wire.NotifyInfo{BuyerOrderID: buyOrderID, SellerOrderID: 0, Quantity: qty, Price: price}.Encode()
	if err := buyer.Send(wire.Header{Type: wire.Bought, TimestampSec: sec, TimestampNsec: nsec}, boughtPayload); err != nil {
		e.log.Debugf("send BOUGHT to %s: %v", buyer.Name(), err)
	}

	soldPayload := wire.NotifyInfo{BuyerOrderID: 0, SellerOrderID: sellOrderID, Quantity: qty, Price: price}.Encode()
	if err := seller.Send(wire.Header{Type: wire.Sold, TimestampSec: sec, TimestampNsec: nsec}, soldPayload); err != nil {
		e.log.Debugf("send SOLD to %s: %v", seller.Name(), err)
	}

	e.registry.Unref(buyer)
	e.registry.Unref(seller)

	tradedPayload := wire.NotifyInfo{BuyerOrderID: buyOrderID, SellerOrderID: sellOrderID, Quantity: qty, Price: price}.Encode()
	if err := e.registry.Broadcast(wire.Header{Type: wire.Traded, TimestampSec: sec, TimestampNsec: nsec}, tradedPayload); err != nil {
		e.log.Debugf("broadcast TRADED: %v", err)
	}
}

func (e *Engine) broadcast(t wire.Type, buyerID, sellerID, qty, price uint32) {
	sec, nsec := monotonicTimestamp()
	payload := wire.NotifyInfo{BuyerOrderID: buyerID, SellerOrderID: sellerID, Quantity: qty, Price: price}.Encode()
	if err := e.registry.Broadcast(wire.Header{Type: t, TimestampSec: sec, TimestampNsec: nsec}, payload); err != nil {
		e.log.Debugf("broadcast: %v", err)
	}
}

func mulSaturate(a, b uint32) uint32 {
	p := uint64(a) * uint64(b)
	if p > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(p)
}
