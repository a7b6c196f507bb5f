package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jwyoon/stockmatch/pkg/util"
)

// ErrConflict is returned by ApplyFill when a row changed between the
// engine's snapshot read and the commit, e.g. an order was edited or
// cancelled mid-pass. The fill is discarded and retried next pass.
var ErrConflict = errors.New("ledger: state changed since snapshot")

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("ledger: not found")

// Ledger is the single mutation front for the store. Intake operations
// (deposits, order placement, edits, cancels) and the engine's fill
// commits all serialize through its mutex, so each operation observes
// and produces consistent state.
//
// Exactly one Ledger instance may run against a given store. Two
// concurrent engine instances would double-match resting orders; there
// is no cross-process claim on orders.
type Ledger struct {
	mu    sync.Mutex
	store *Store
	clock util.Clock
}

// NewLedger wraps an open store.
func NewLedger(store *Store, clock util.Clock) *Ledger {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Ledger{store: store, clock: clock}
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

// Deposit credits an owner's cash balance, creating the account on
// first deposit.
func (l *Ledger) Deposit(owner string, amount int64) (*Account, error) {
	if owner == "" {
		return nil, fmt.Errorf("owner cannot be empty")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive: %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc, err := l.store.GetAccount(owner)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &Account{Owner: owner}
	}
	acc.Balance += amount
	acc.CumulativeDeposited += amount

	if err := l.store.SaveAccount(acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// Withdraw debits an owner's cash balance. Reserved buy-order funds are
// already out of the balance and cannot be withdrawn.
func (l *Ledger) Withdraw(owner string, amount int64) (*Account, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("withdraw amount must be positive: %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc, err := l.store.GetAccount(owner)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, fmt.Errorf("account %s: %w", owner, ErrNotFound)
	}
	if acc.Balance < amount {
		return nil, fmt.Errorf("insufficient balance: have %d, need %d", acc.Balance, amount)
	}
	acc.Balance -= amount

	if err := l.store.SaveAccount(acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// PlaceOrder creates a resting order. Buy orders reserve the full cost
// at the owner's limit price up front; sell orders deduct the shares
// from the holding. Reservation and order row commit in one batch.
func (l *Ledger) PlaceOrder(owner, symbol string, side Side, quantity, limitPrice int64) (*Order, error) {
	o := &Order{
		Owner:      owner,
		Symbol:     symbol,
		Side:       side,
		Quantity:   quantity,
		LimitPrice: limitPrice,
		Status:     Unprocessed,
		CreatedAt:  l.clock.Now().UnixMilli(),
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id, err := l.store.NextOrderID()
	if err != nil {
		return nil, err
	}
	o.ID = id

	b := l.store.NewBatch()
	defer b.Close()

	switch side {
	case Buy:
		cost, err := MulMoney(quantity, limitPrice)
		if err != nil {
			return nil, err
		}
		acc, err := l.store.GetAccount(owner)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			return nil, fmt.Errorf("account %s: %w", owner, ErrNotFound)
		}
		if acc.Balance < cost {
			return nil, fmt.Errorf("insufficient balance for buy order: have %d, need %d", acc.Balance, cost)
		}
		acc.Balance -= cost
		if err := b.SetAccount(acc); err != nil {
			return nil, err
		}

	case Sell:
		h, err := l.store.GetHolding(owner, symbol)
		if err != nil {
			return nil, err
		}
		if h == nil || h.Quantity < quantity {
			have := int64(0)
			if h != nil {
				have = h.Quantity
			}
			return nil, fmt.Errorf("insufficient shares of %s to sell: have %d, need %d", symbol, have, quantity)
		}
		h.Quantity -= quantity
		if h.Quantity == 0 {
			if err := b.DeleteHolding(owner, symbol); err != nil {
				return nil, err
			}
		} else {
			if err := b.SetHolding(h); err != nil {
				return nil, err
			}
		}
	}

	if err := b.SetOrder(o); err != nil {
		return nil, err
	}
	if err := b.Commit(); err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}
	return o, nil
}

// EditOrder changes quantity and/or price of an unprocessed order the
// owner still controls. The reservation is settled against the delta:
// a pricier buy takes more cash, a cheaper one refunds; a bigger sell
// takes more shares, a smaller one returns them. Editing refreshes
// CreatedAt, so the order loses its time priority.
func (l *Ledger) EditOrder(owner string, id uint64, quantity, limitPrice *int64) (*Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, err := l.store.GetOrder(id)
	if err != nil {
		return nil, err
	}
	if o == nil || o.Owner != owner {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if o.Status != Unprocessed {
		return nil, fmt.Errorf("cannot edit %s order %d", o.Status, id)
	}

	newQty := o.Quantity
	if quantity != nil {
		newQty = *quantity
	}
	newPrice := o.LimitPrice
	if limitPrice != nil {
		newPrice = *limitPrice
	}
	if newQty <= 0 || newPrice <= 0 {
		return nil, fmt.Errorf("quantity and price must be positive: qty=%d price=%d", newQty, newPrice)
	}

	b := l.store.NewBatch()
	defer b.Close()

	switch o.Side {
	case Buy:
		oldCost, err := MulMoney(o.Quantity, o.LimitPrice)
		if err != nil {
			return nil, err
		}
		newCost, err := MulMoney(newQty, newPrice)
		if err != nil {
			return nil, err
		}

		acc, err := l.store.GetAccount(owner)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			return nil, fmt.Errorf("account %s: %w", owner, ErrNotFound)
		}
		if newCost > oldCost {
			diff := newCost - oldCost
			if acc.Balance < diff {
				return nil, fmt.Errorf("insufficient balance for edit: have %d, need %d", acc.Balance, diff)
			}
			acc.Balance -= diff
		} else {
			acc.Balance += oldCost - newCost
		}
		if err := b.SetAccount(acc); err != nil {
			return nil, err
		}

	case Sell:
		if newQty != o.Quantity {
			h, err := l.store.GetHolding(owner, o.Symbol)
			if err != nil {
				return nil, err
			}
			if newQty > o.Quantity {
				diff := newQty - o.Quantity
				if h == nil || h.Quantity < diff {
					return nil, fmt.Errorf("insufficient shares of %s for edit", o.Symbol)
				}
				h.Quantity -= diff
				if h.Quantity == 0 {
					if err := b.DeleteHolding(owner, o.Symbol); err != nil {
						return nil, err
					}
				} else {
					if err := b.SetHolding(h); err != nil {
						return nil, err
					}
				}
			} else {
				diff := o.Quantity - newQty
				restored, err := restoreShares(h, owner, o.Symbol, diff, o.LimitPrice)
				if err != nil {
					return nil, err
				}
				if err := b.SetHolding(restored); err != nil {
					return nil, err
				}
			}
		}
	}

	o.Quantity = newQty
	o.LimitPrice = newPrice
	o.CreatedAt = l.clock.Now().UnixMilli()

	if err := b.SetOrder(o); err != nil {
		return nil, err
	}
	if err := b.Commit(); err != nil {
		return nil, fmt.Errorf("failed to edit order %d: %w", id, err)
	}
	return o, nil
}

// CancelOrder removes an unprocessed order and unwinds its reservation:
// buys get their cash back, sells get their shares back at the order's
// limit price folded into the cost basis.
func (l *Ledger) CancelOrder(owner string, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, err := l.store.GetOrder(id)
	if err != nil {
		return err
	}
	if o == nil || o.Owner != owner {
		return fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if o.Status != Unprocessed {
		return fmt.Errorf("cannot cancel %s order %d", o.Status, id)
	}

	b := l.store.NewBatch()
	defer b.Close()

	switch o.Side {
	case Buy:
		refund, err := MulMoney(o.Quantity, o.LimitPrice)
		if err != nil {
			return err
		}
		acc, err := l.store.GetAccount(owner)
		if err != nil {
			return err
		}
		if acc == nil {
			return fmt.Errorf("account %s: %w", owner, ErrNotFound)
		}
		acc.Balance += refund
		if err := b.SetAccount(acc); err != nil {
			return err
		}

	case Sell:
		h, err := l.store.GetHolding(owner, o.Symbol)
		if err != nil {
			return err
		}
		restored, err := restoreShares(h, owner, o.Symbol, o.Quantity, o.LimitPrice)
		if err != nil {
			return err
		}
		if err := b.SetHolding(restored); err != nil {
			return err
		}
	}

	if err := b.DeleteOrder(id); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("failed to cancel order %d: %w", id, err)
	}
	return nil
}

// restoreShares folds qty shares at price back into a holding, keeping
// the volume-weighted cost basis. A nil holding is recreated.
func restoreShares(h *Holding, owner, symbol string, qty, price int64) (*Holding, error) {
	if h == nil {
		return &Holding{Owner: owner, Symbol: symbol, Quantity: qty, AvgPrice: price}, nil
	}
	newQty := h.Quantity + qty
	if newQty <= 0 {
		return nil, fmt.Errorf("degenerate holding quantity %d for %s/%s", newQty, owner, symbol)
	}
	oldValue, err := MulMoney(h.Quantity, h.AvgPrice)
	if err != nil {
		return nil, err
	}
	addValue, err := MulMoney(qty, price)
	if err != nil {
		return nil, err
	}
	h.Quantity = newQty
	h.AvgPrice = (oldValue + addValue) / newQty
	return h, nil
}

// Balance returns an owner's account.
func (l *Ledger) Balance(owner string) (*Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, err := l.store.GetAccount(owner)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, fmt.Errorf("account %s: %w", owner, ErrNotFound)
	}
	return acc, nil
}

// Portfolio returns all holdings of an owner.
func (l *Ledger) Portfolio(owner string) ([]Holding, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.HoldingsFor(owner)
}

// OpenOrders returns an owner's unprocessed orders in ID order.
func (l *Ledger) OpenOrders(ctx context.Context, owner string) ([]Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.store.Orders(ctx)
	if err != nil {
		return nil, err
	}
	var open []Order
	for _, o := range all {
		if o.Owner == owner && o.Status == Unprocessed {
			open = append(open, o)
		}
	}
	return open, nil
}

// RecentFills returns the latest fills for a symbol, newest first.
func (l *Ledger) RecentFills(symbol string, limit int) ([]Fill, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.RecentFills(symbol, limit)
}

// ---- engine-facing operations ----
//
// The engine reads value snapshots, computes a FillPlan outside the
// lock, and commits via ApplyFill. ApplyFill re-reads every touched row
// under the lock and rejects the plan with ErrConflict if anything
// moved in between, so a stale snapshot can never corrupt balances.

// Orders returns a snapshot of every order row.
func (l *Ledger) Orders(ctx context.Context) ([]Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Orders(ctx)
}

// Account returns a value snapshot of an account.
func (l *Ledger) Account(ctx context.Context, owner string) (Account, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Account(ctx, owner)
}

// Holding returns a value snapshot of a holding.
func (l *Ledger) Holding(ctx context.Context, owner, symbol string) (Holding, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Holding(ctx, owner, symbol)
}

// NextFillID allocates a fill ID.
func (l *Ledger) NextFillID() (uint64, error) {
	return l.store.NextFillID()
}

// ApplyFill verifies the plan's pre-state against the live store and
// commits the post-state atomically.
func (l *Ledger) ApplyFill(ctx context.Context, plan FillPlan) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.verifyPreState(ctx, plan.Pre); err != nil {
		return err
	}
	return l.store.ApplyFill(ctx, plan)
}

func (l *Ledger) verifyPreState(ctx context.Context, pre FillState) error {
	for _, want := range []Order{pre.Buy, pre.Sell} {
		cur, err := l.store.GetOrder(want.ID)
		if err != nil {
			return err
		}
		if cur == nil || cur.Status != want.Status || cur.Quantity != want.Quantity ||
			cur.LimitPrice != want.LimitPrice || cur.CreatedAt != want.CreatedAt {
			return fmt.Errorf("order %d: %w", want.ID, ErrConflict)
		}
	}
	for _, want := range pre.Accounts {
		cur, err := l.store.GetAccount(want.Owner)
		if err != nil {
			return err
		}
		if cur == nil || cur.Balance != want.Balance {
			return fmt.Errorf("account %s: %w", want.Owner, ErrConflict)
		}
	}
	cur, err := l.store.GetHolding(pre.HoldingOwner, pre.HoldingSymbol)
	if err != nil {
		return err
	}
	if pre.Holding == nil {
		if cur != nil {
			return fmt.Errorf("holding %s/%s: %w", pre.HoldingOwner, pre.HoldingSymbol, ErrConflict)
		}
		return nil
	}
	if cur == nil || cur.Quantity != pre.Holding.Quantity || cur.AvgPrice != pre.Holding.AvgPrice {
		return fmt.Errorf("holding %s/%s: %w", pre.HoldingOwner, pre.HoldingSymbol, ErrConflict)
	}
	return nil
}
