package ledger

import (
	"fmt"
	"math"
)

// All money amounts are int64 minor currency units (cents: 100 = $1.00).
// Share quantities are whole int64 shares. Money never passes through
// binary floating point.

// Side is the direction of an order.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus int8

const (
	// Unprocessed orders are eligible for matching and may still be
	// edited or cancelled by their owner.
	Unprocessed OrderStatus = iota
	// Executed orders are fully filled and immutable. They stay in the
	// store for history but are excluded from every future pass.
	Executed
)

func (s OrderStatus) String() string {
	switch s {
	case Unprocessed:
		return "unprocessed"
	case Executed:
		return "executed"
	default:
		return "unknown"
	}
}

// Order is a resting intent to trade. Quantity is the remaining unfilled
// quantity; it only ever decreases. IDs are assigned from a monotonic
// store sequence, which doubles as the deterministic tie-break when two
// orders share both price and timestamp.
type Order struct {
	ID         uint64      `json:"id"`
	Owner      string      `json:"owner"`
	Symbol     string      `json:"symbol"`
	Side       Side        `json:"side"`
	Quantity   int64       `json:"quantity"`
	LimitPrice int64       `json:"limit_price"` // cents per share
	Status     OrderStatus `json:"status"`
	CreatedAt  int64       `json:"created_at"` // unix milliseconds
}

// Account holds one owner's cash. Balance excludes funds reserved for
// open buy orders; reservations are taken at order placement.
type Account struct {
	Owner string `json:"owner"`
	// Balance in cents. Never negative.
	Balance int64 `json:"balance"`
	// CumulativeDeposited only grows. Informational.
	CumulativeDeposited int64 `json:"cumulative_deposited"`
}

// Holding is one owner's position in one symbol. AvgPrice is the
// volume-weighted average cost basis in cents.
type Holding struct {
	Owner    string `json:"owner"`
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
	AvgPrice int64  `json:"avg_price"`
}

// Fill records one settled match between exactly one buy and one sell
// order. Consideration = Quantity × Price. Refund is the buyer's
// price-improvement credit, zero when the orders crossed exactly.
type Fill struct {
	ID            uint64 `json:"id"`
	Symbol        string `json:"symbol"`
	BuyOrderID    uint64 `json:"buy_order_id"`
	SellOrderID   uint64 `json:"sell_order_id"`
	Buyer         string `json:"buyer"`
	Seller        string `json:"seller"`
	Price         int64  `json:"price"` // clearing price = seller's ask
	Quantity      int64  `json:"quantity"`
	Consideration int64  `json:"consideration"`
	Refund        int64  `json:"refund"`
	Timestamp     int64  `json:"timestamp"` // unix milliseconds
}

// Validate checks order field sanity at intake time.
func (o *Order) Validate() error {
	if o.Owner == "" {
		return fmt.Errorf("order owner cannot be empty")
	}
	if o.Symbol == "" {
		return fmt.Errorf("order symbol cannot be empty")
	}
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("invalid order side: %d", o.Side)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("order quantity must be positive: %d", o.Quantity)
	}
	if o.LimitPrice <= 0 {
		return fmt.Errorf("order limit price must be positive: %d", o.LimitPrice)
	}
	return nil
}

// Validate checks account invariants after any mutation.
func (a *Account) Validate() error {
	if a.Balance < 0 {
		return fmt.Errorf("negative balance for %s: %d", a.Owner, a.Balance)
	}
	if a.CumulativeDeposited < 0 {
		return fmt.Errorf("negative cumulative deposits for %s: %d", a.Owner, a.CumulativeDeposited)
	}
	return nil
}

// Validate checks holding invariants after any mutation.
func (h *Holding) Validate() error {
	if h.Quantity < 0 {
		return fmt.Errorf("negative holding quantity for %s/%s: %d", h.Owner, h.Symbol, h.Quantity)
	}
	if h.AvgPrice < 0 {
		return fmt.Errorf("negative avg price for %s/%s: %d", h.Owner, h.Symbol, h.AvgPrice)
	}
	return nil
}

// MulMoney multiplies a share quantity by a price in cents, rejecting
// negative operands and int64 overflow.
func MulMoney(qty, price int64) (int64, error) {
	if qty < 0 || price < 0 {
		return 0, fmt.Errorf("negative money operands: qty=%d price=%d", qty, price)
	}
	if qty != 0 && price > math.MaxInt64/qty {
		return 0, fmt.Errorf("money overflow: %d x %d", qty, price)
	}
	return qty * price, nil
}

// ParseSide converts the wire strings "buy"/"sell".
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("invalid side %q", s)
	}
}
