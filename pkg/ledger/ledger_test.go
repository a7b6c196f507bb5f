package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// steppingClock hands out strictly increasing timestamps so orders get
// distinct CreatedAt values.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{now: time.UnixMilli(1700000000000)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *steppingClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()

	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	l := NewLedger(s, newSteppingClock())
	t.Cleanup(func() {
		l.Close()
	})
	return l
}

func TestDepositAndWithdraw(t *testing.T) {
	l := newTestLedger(t)

	acc, err := l.Deposit("alice", 100000)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if acc.Balance != 100000 || acc.CumulativeDeposited != 100000 {
		t.Errorf("after deposit: %+v", acc)
	}

	acc, err = l.Withdraw("alice", 40000)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if acc.Balance != 60000 {
		t.Errorf("balance = %d, want 60000", acc.Balance)
	}
	if acc.CumulativeDeposited != 100000 {
		t.Errorf("cumulative deposits must not shrink: %d", acc.CumulativeDeposited)
	}

	if _, err := l.Withdraw("alice", 70000); err == nil {
		t.Error("expected error withdrawing more than balance")
	}
	if _, err := l.Deposit("alice", -5); err == nil {
		t.Error("expected error for negative deposit")
	}
	if _, err := l.Withdraw("ghost", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown account, got %v", err)
	}
}

func TestPlaceBuyOrderReservesFunds(t *testing.T) {
	l := newTestLedger(t)
	l.Deposit("alice", 10000)

	o, err := l.PlaceOrder("alice", "ACME", Buy, 5, 1000)
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if o.ID == 0 || o.Status != Unprocessed {
		t.Errorf("unexpected order: %+v", o)
	}

	acc, _ := l.Balance("alice")
	if acc.Balance != 5000 {
		t.Errorf("balance after reservation = %d, want 5000", acc.Balance)
	}

	// Remaining balance can't cover a second identical order.
	if _, err := l.PlaceOrder("alice", "ACME", Buy, 6, 1000); err == nil {
		t.Error("expected insufficient balance error")
	}
}

func TestPlaceSellOrderDeductsShares(t *testing.T) {
	l := newTestLedger(t)
	l.store.SaveHolding(&Holding{Owner: "bob", Symbol: "ACME", Quantity: 10, AvgPrice: 800})

	if _, err := l.PlaceOrder("bob", "ACME", Sell, 4, 900); err != nil {
		t.Fatalf("place sell: %v", err)
	}
	h, _ := l.store.GetHolding("bob", "ACME")
	if h == nil || h.Quantity != 6 {
		t.Errorf("holding after sell placement: %+v", h)
	}

	// Selling the rest deletes the holding.
	if _, err := l.PlaceOrder("bob", "ACME", Sell, 6, 900); err != nil {
		t.Fatalf("place second sell: %v", err)
	}
	h, _ = l.store.GetHolding("bob", "ACME")
	if h != nil {
		t.Errorf("expected holding deleted at zero, got %+v", h)
	}

	// No shares left.
	if _, err := l.PlaceOrder("bob", "ACME", Sell, 1, 900); err == nil {
		t.Error("expected insufficient shares error")
	}
}

func TestEditBuyOrderSettlesReservationDelta(t *testing.T) {
	l := newTestLedger(t)
	l.Deposit("alice", 10000)
	o, _ := l.PlaceOrder("alice", "ACME", Buy, 5, 1000) // reserves 5000
	createdAt := o.CreatedAt

	// Cheaper edit refunds the difference.
	newPrice := int64(800)
	edited, err := l.EditOrder("alice", o.ID, nil, &newPrice)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	acc, _ := l.Balance("alice")
	if acc.Balance != 6000 { // 5000 remaining + 1000 refunded
		t.Errorf("balance after cheaper edit = %d, want 6000", acc.Balance)
	}
	if edited.CreatedAt <= createdAt {
		t.Error("edit must refresh CreatedAt and lose time priority")
	}

	// Bigger edit takes the difference.
	newQty := int64(10) // 10×800 = 8000, delta 4000
	if _, err := l.EditOrder("alice", o.ID, &newQty, nil); err != nil {
		t.Fatalf("edit qty: %v", err)
	}
	acc, _ = l.Balance("alice")
	if acc.Balance != 2000 {
		t.Errorf("balance after bigger edit = %d, want 2000", acc.Balance)
	}

	// Beyond available funds rejected.
	hugeQty := int64(100)
	if _, err := l.EditOrder("alice", o.ID, &hugeQty, nil); err == nil {
		t.Error("expected insufficient balance on edit")
	}
}

func TestEditSellOrderAdjustsShares(t *testing.T) {
	l := newTestLedger(t)
	l.store.SaveHolding(&Holding{Owner: "bob", Symbol: "ACME", Quantity: 10, AvgPrice: 800})
	o, _ := l.PlaceOrder("bob", "ACME", Sell, 4, 900) // holding 6 left

	bigger := int64(9)
	if _, err := l.EditOrder("bob", o.ID, &bigger, nil); err != nil {
		t.Fatalf("edit up: %v", err)
	}
	h, _ := l.store.GetHolding("bob", "ACME")
	if h == nil || h.Quantity != 1 {
		t.Errorf("holding after edit up: %+v", h)
	}

	smaller := int64(2)
	if _, err := l.EditOrder("bob", o.ID, &smaller, nil); err != nil {
		t.Fatalf("edit down: %v", err)
	}
	h, _ = l.store.GetHolding("bob", "ACME")
	if h == nil || h.Quantity != 8 {
		t.Errorf("holding after edit down: %+v", h)
	}
}

func TestCancelBuyOrderRefundsReservation(t *testing.T) {
	l := newTestLedger(t)
	l.Deposit("alice", 10000)
	o, _ := l.PlaceOrder("alice", "ACME", Buy, 5, 1000)

	if err := l.CancelOrder("alice", o.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	acc, _ := l.Balance("alice")
	if acc.Balance != 10000 {
		t.Errorf("balance after cancel = %d, want 10000", acc.Balance)
	}
	gone, _ := l.store.GetOrder(o.ID)
	if gone != nil {
		t.Errorf("expected order deleted, got %+v", gone)
	}
}

func TestCancelSellOrderRestoresSharesAtBlendedBasis(t *testing.T) {
	l := newTestLedger(t)
	l.store.SaveHolding(&Holding{Owner: "bob", Symbol: "ACME", Quantity: 10, AvgPrice: 800})
	o, _ := l.PlaceOrder("bob", "ACME", Sell, 10, 1200) // holding deleted

	if err := l.CancelOrder("bob", o.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	h, _ := l.store.GetHolding("bob", "ACME")
	if h == nil {
		t.Fatal("holding not restored")
	}
	// Holding was gone, so it comes back at the order's limit price.
	if h.Quantity != 10 || h.AvgPrice != 1200 {
		t.Errorf("restored holding: %+v", h)
	}
}

func TestCancelOnlyUnprocessed(t *testing.T) {
	l := newTestLedger(t)
	l.Deposit("alice", 10000)
	o, _ := l.PlaceOrder("alice", "ACME", Buy, 5, 1000)

	// Simulate full execution.
	o.Quantity = 0
	o.Status = Executed
	l.store.SaveOrder(o)

	if err := l.CancelOrder("alice", o.ID); err == nil {
		t.Error("expected error cancelling executed order")
	}
	if _, err := l.EditOrder("alice", o.ID, nil, nil); err == nil {
		t.Error("expected error editing executed order")
	}
}

func TestOpenOrdersFiltersOwnerAndStatus(t *testing.T) {
	l := newTestLedger(t)
	l.Deposit("alice", 100000)
	l.Deposit("carol", 100000)

	l.PlaceOrder("alice", "ACME", Buy, 1, 100)
	l.PlaceOrder("carol", "ACME", Buy, 1, 100)
	executed, _ := l.PlaceOrder("alice", "GLOBEX", Buy, 1, 100)
	executed.Status = Executed
	executed.Quantity = 0
	l.store.SaveOrder(executed)

	open, err := l.OpenOrders(context.Background(), "alice")
	if err != nil {
		t.Fatalf("open orders: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open order, got %d", len(open))
	}
	if open[0].Owner != "alice" || open[0].Status != Unprocessed {
		t.Errorf("unexpected order: %+v", open[0])
	}
}

func TestApplyFillRejectsStaleSnapshot(t *testing.T) {
	l := newTestLedger(t)
	l.Deposit("alice", 10000)
	l.store.SaveAccount(&Account{Owner: "bob"})
	l.store.SaveHolding(&Holding{Owner: "bob", Symbol: "ACME", Quantity: 5, AvgPrice: 700})

	buy, _ := l.PlaceOrder("alice", "ACME", Buy, 5, 1000)
	sell, _ := l.PlaceOrder("bob", "ACME", Sell, 5, 800)

	ctx := context.Background()
	aliceAcc, _, _ := l.Account(ctx, "alice")
	bobAcc, _, _ := l.Account(ctx, "bob")

	plan := FillPlan{
		Pre: FillState{
			Buy:           *buy,
			Sell:          *sell,
			Accounts:      []Account{bobAcc, aliceAcc},
			Holding:       nil,
			HoldingOwner:  "alice",
			HoldingSymbol: "ACME",
		},
	}
	postBuy := *buy
	postBuy.Quantity = 0
	postBuy.Status = Executed
	postSell := *sell
	postSell.Quantity = 0
	postSell.Status = Executed
	bobAfter := bobAcc
	bobAfter.Balance += 4000
	aliceAfter := aliceAcc
	aliceAfter.Balance += 1000
	plan.Post = FillState{
		Buy:           postBuy,
		Sell:          postSell,
		Accounts:      []Account{bobAfter, aliceAfter},
		Holding:       &Holding{Owner: "alice", Symbol: "ACME", Quantity: 5, AvgPrice: 800},
		HoldingOwner:  "alice",
		HoldingSymbol: "ACME",
	}
	plan.Record = Fill{ID: 1, Symbol: "ACME", BuyOrderID: buy.ID, SellOrderID: sell.ID, Price: 800, Quantity: 5, Consideration: 4000, Refund: 1000}

	// The buy order is cancelled between snapshot and commit.
	if err := l.CancelOrder("alice", buy.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	err := l.ApplyFill(ctx, plan)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// Nothing committed: seller never credited.
	bobNow, _ := l.Balance("bob")
	if bobNow.Balance != 0 {
		t.Errorf("seller balance mutated on conflict: %d", bobNow.Balance)
	}
}

func TestMulMoneyOverflow(t *testing.T) {
	if _, err := MulMoney(1<<40, 1<<40); err == nil {
		t.Error("expected overflow error")
	}
	if v, err := MulMoney(5, 1000); err != nil || v != 5000 {
		t.Errorf("MulMoney(5,1000) = %d, %v", v, err)
	}
	if _, err := MulMoney(-1, 10); err == nil {
		t.Error("expected error for negative operand")
	}
}
