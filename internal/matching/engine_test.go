package matching

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"bourse/internal/ledger"
	"bourse/internal/traders"
	"bourse/internal/wire"
)

type fakePeer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (p *fakePeer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Write(b)
}

// packets decodes every framed packet written to the peer so far.
func (p *fakePeer) packets(t *testing.T) []wire.Header {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	r := bytes.NewReader(p.buf.Bytes())
	var out []wire.Header
	for {
		h, _, err := wire.ReadPacket(r)
		if err != nil {
			break
		}
		out = append(out, h)
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *traders.Registry) {
	t.Helper()
	l := ledger.New()
	reg := traders.New(l, nil)
	e := New(reg, nil)
	e.Start()
	t.Cleanup(e.Stop)
	return e, reg
}

func login(t *testing.T, reg *traders.Registry, name string) (*traders.Session, *fakePeer) {
	t.Helper()
	peer := &fakePeer{}
	s, err := reg.Login(peer, name)
	if err != nil {
		t.Fatalf("login %s: %v", name, err)
	}
	return s, peer
}

// waitForCondition polls cond until it reports true or the timeout
// elapses, failing the test in the latter case. Matching happens on a
// background worker, so assertions about its effects must poll rather
// than assume synchronous completion.
func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before timeout")
	}
}

func fund(t *testing.T, s *traders.Session, balance, inventory uint32) {
	t.Helper()
	s.Account().IncreaseBalance(balance)
	s.Account().IncreaseInventory(inventory)
}

func TestExactMatchAtCrossingPrice(t *testing.T) {
	e, reg := newTestEngine(t)
	buyer, buyerPeer := login(t, reg, "buyer")
	seller, sellerPeer := login(t, reg, "seller")
	fund(t, buyer, 1000, 0)
	fund(t, seller, 0, 10)

	if _, err := e.PostSell(seller, 10, 100); err != nil {
		t.Fatalf("post sell: %v", err)
	}
	if _, err := e.PostBuy(buyer, 10, 100); err != nil {
		t.Fatalf("post buy: %v", err)
	}

	waitForCondition(t, time.Second, func() bool {
		return buyer.Account().Snapshot().Inventory == 10
	})

	bs := buyer.Account().Snapshot()
	if bs.Inventory != 10 || bs.Balance != 0 {
		t.Fatalf("buyer account = %+v, want inventory 10 balance 0", bs)
	}
	ss := seller.Account().Snapshot()
	if ss.Balance != 1000 || ss.Inventory != 0 {
		t.Fatalf("seller account = %+v, want balance 1000 inventory 0", ss)
	}

	foundBought := false
	for _, h := range buyerPeer.packets(t) {
		if h.Type == wire.Bought {
			foundBought = true
		}
	}
	if !foundBought {
		t.Fatal("buyer never received BOUGHT")
	}
	foundSold := false
	for _, h := range sellerPeer.packets(t) {
		if h.Type == wire.Sold {
			foundSold = true
		}
	}
	if !foundSold {
		t.Fatal("seller never received SOLD")
	}
}

func TestTradePriceAnchorsToLastWithinInterval(t *testing.T) {
	e, reg := newTestEngine(t)
	a, _ := login(t, reg, "a")
	b, _ := login(t, reg, "b")
	c, _ := login(t, reg, "c")
	d, _ := login(t, reg, "d")
	fund(t, a, 10000, 0)
	fund(t, b, 0, 100)
	fund(t, c, 10000, 0)
	fund(t, d, 0, 100)

	// First trade: establishes lastTradePrice = 100 (sell price, no prior trade).
	if _, err := e.PostSell(b, 5, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PostBuy(a, 5, 100); err != nil {
		t.Fatal(err)
	}
	waitForCondition(t, time.Second, func() bool { return a.Account().Snapshot().Inventory == 5 })

	// Second trade crosses [90, 110] and last=100 is inside it: price must be 100.
	if _, err := e.PostSell(d, 5, 90); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PostBuy(c, 5, 110); err != nil {
		t.Fatal(err)
	}
	waitForCondition(t, time.Second, func() bool { return c.Account().Snapshot().Inventory == 5 })

	// buyer c paid price 100 for 5 units = 500, refunded 110*5-500=50 extra escrow back.
	cs := c.Account().Snapshot()
	if cs.Balance != 10000-500 {
		t.Fatalf("buyer balance = %d, want %d", cs.Balance, 10000-500)
	}
	ds := d.Account().Snapshot()
	if ds.Balance != 500 {
		t.Fatalf("seller balance = %d, want 500", ds.Balance)
	}
}

func TestTradePriceAboveInterval(t *testing.T) {
	e, reg := newTestEngine(t)
	a, _ := login(t, reg, "a")
	b, _ := login(t, reg, "b")
	c, _ := login(t, reg, "c")
	d, _ := login(t, reg, "d")
	fund(t, a, 10000, 0)
	fund(t, b, 0, 100)
	fund(t, c, 10000, 0)
	fund(t, d, 0, 100)

	// Establish last trade price = 200.
	if _, err := e.PostSell(b, 5, 200); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PostBuy(a, 5, 200); err != nil {
		t.Fatal(err)
	}
	waitForCondition(t, time.Second, func() bool { return a.Account().Snapshot().Inventory == 5 })

	// Crossing interval [50, 120]: last=200 > buy, so price must clamp to buy=120.
	if _, err := e.PostSell(d, 5, 50); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PostBuy(c, 5, 120); err != nil {
		t.Fatal(err)
	}
	waitForCondition(t, time.Second, func() bool { return c.Account().Snapshot().Inventory == 5 })

	ds := d.Account().Snapshot()
	if ds.Balance != 120*5 {
		t.Fatalf("seller balance = %d, want %d", ds.Balance, 120*5)
	}
}

func TestPartialFillLeavesRemainderResting(t *testing.T) {
	e, reg := newTestEngine(t)
	buyer, _ := login(t, reg, "buyer")
	seller, _ := login(t, reg, "seller")
	fund(t, buyer, 10000, 0)
	fund(t, seller, 0, 5)

	if _, err := e.PostSell(seller, 5, 100); err != nil {
		t.Fatal(err)
	}
	orderID, err := e.PostBuy(buyer, 10, 100)
	if err != nil {
		t.Fatal(err)
	}

	waitForCondition(t, time.Second, func() bool { return buyer.Account().Snapshot().Inventory == 5 })

	status := e.Status(buyer.Account())
	if status.Bid != 100 {
		t.Fatalf("bid = %d, want 100 (5 remaining units resting)", status.Bid)
	}

	remaining, err := e.Cancel(buyer, orderID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if remaining != 5 {
		t.Fatalf("canceled remaining = %d, want 5", remaining)
	}
}

func TestCancelRestoresEncumbrance(t *testing.T) {
	e, reg := newTestEngine(t)
	buyer, _ := login(t, reg, "buyer")
	fund(t, buyer, 1000, 0)

	orderID, err := e.PostBuy(buyer, 10, 50)
	if err != nil {
		t.Fatal(err)
	}
	if got := buyer.Account().Snapshot().Balance; got != 500 {
		t.Fatalf("balance after post = %d, want 500", got)
	}

	remaining, err := e.Cancel(buyer, orderID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if remaining != 10 {
		t.Fatalf("remaining = %d, want 10", remaining)
	}
	if got := buyer.Account().Snapshot().Balance; got != 1000 {
		t.Fatalf("balance after cancel = %d, want 1000 (refunded)", got)
	}
}

func TestCancelByNonOwnerFails(t *testing.T) {
	e, reg := newTestEngine(t)
	owner, _ := login(t, reg, "owner")
	other, _ := login(t, reg, "other")
	fund(t, owner, 1000, 0)

	orderID, err := e.PostBuy(owner, 10, 50)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.Cancel(other, orderID); err != ErrNotOwner {
		t.Fatalf("cancel by non-owner: err = %v, want ErrNotOwner", err)
	}
}

func TestPostZeroQuantityIsNoOp(t *testing.T) {
	e, reg := newTestEngine(t)
	buyer, _ := login(t, reg, "buyer")
	fund(t, buyer, 1000, 0)

	if _, err := e.PostBuy(buyer, 0, 50); err != ErrZeroQuantity {
		t.Fatalf("err = %v, want ErrZeroQuantity", err)
	}
	if got := buyer.Account().Snapshot().Balance; got != 1000 {
		t.Fatalf("balance = %d, want unchanged 1000", got)
	}
}

func TestPostInsufficientFundsFails(t *testing.T) {
	e, reg := newTestEngine(t)
	buyer, _ := login(t, reg, "buyer")
	fund(t, buyer, 100, 0)

	if _, err := e.PostBuy(buyer, 10, 50); err != ledger.ErrInsufficient {
		t.Fatalf("err = %v, want ErrInsufficient", err)
	}
}

func TestOrderIDsAreUniqueAndMonotonic(t *testing.T) {
	e, reg := newTestEngine(t)
	buyer, _ := login(t, reg, "buyer")
	fund(t, buyer, 100000, 0)

	var ids []uint32
	for i := 0; i < 5; i++ {
		id, err := e.PostBuy(buyer, 1, 10)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("order ids not strictly increasing: %v", ids)
		}
	}
}

func TestCancelUnknownOrderFails(t *testing.T) {
	e, reg := newTestEngine(t)
	buyer, _ := login(t, reg, "buyer")
	fund(t, buyer, 1000, 0)

	if _, err := e.Cancel(buyer, 9999); err != ErrOrderNotFound {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestStatusReflectsBestBidAsk(t *testing.T) {
	e, reg := newTestEngine(t)
	buyer, _ := login(t, reg, "buyer")
	seller, _ := login(t, reg, "seller")
	fund(t, buyer, 1000, 0)
	fund(t, seller, 0, 10)

	if _, err := e.PostBuy(buyer, 5, 90); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PostSell(seller, 5, 110); err != nil {
		t.Fatal(err)
	}

	status := e.Status(nil)
	if status.Bid != 90 {
		t.Fatalf("bid = %d, want 90", status.Bid)
	}
	if status.Ask != 110 {
		t.Fatalf("ask = %d, want 110", status.Ask)
	}
}

func TestStopFreesRestingOrders(t *testing.T) {
	l := ledger.New()
	reg := traders.New(l, nil)
	e := New(reg, nil)
	e.Start()

	buyer, _ := login(t, reg, "buyer")
	fund(t, buyer, 1000, 0)
	if _, err := e.PostBuy(buyer, 10, 50); err != nil {
		t.Fatal(err)
	}

	e.Stop()

	// The resting order's reference must have been released; a second
	// matching release (e.g. from Logout) would now underflow and panic.
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic from double-release after teardown")
		}
	}()
	reg.Unref(buyer)
	reg.Unref(buyer)
}

func TestMulSaturateClampsOnOverflow(t *testing.T) {
	got := mulSaturate(1<<20, 1<<20)
	if got != ^uint32(0) {
		t.Fatalf("mulSaturate overflow = %d, want max uint32", got)
	}
	if got := mulSaturate(3, 4); got != 12 {
		t.Fatalf("mulSaturate(3,4) = %d, want 12", got)
	}
}
