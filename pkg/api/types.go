package api

// Request/response types for the REST surface. Money amounts are int64
// cents, quantities whole shares, timestamps unix milliseconds.

type AmountRequest struct {
	Amount int64 `json:"amount"`
}

type PlaceOrderRequest struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"` // "buy" or "sell"
	Quantity   int64  `json:"quantity"`
	LimitPrice int64  `json:"limit_price"`
}

type EditOrderRequest struct {
	Quantity   *int64 `json:"quantity,omitempty"`
	LimitPrice *int64 `json:"limit_price,omitempty"`
}

type BalanceResponse struct {
	Owner               string `json:"owner"`
	Balance             int64  `json:"balance"`
	CumulativeDeposited int64  `json:"cumulative_deposited"`
}

type OrderResponse struct {
	ID         uint64 `json:"id"`
	Owner      string `json:"owner"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Quantity   int64  `json:"quantity"`
	LimitPrice int64  `json:"limit_price"`
	Status     string `json:"status"`
	CreatedAt  int64  `json:"created_at"`
}

type HoldingResponse struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
	AvgPrice int64  `json:"avg_price"`
}

type FillResponse struct {
	ID            uint64 `json:"id"`
	Symbol        string `json:"symbol"`
	Price         int64  `json:"price"`
	Quantity      int64  `json:"quantity"`
	Consideration int64  `json:"consideration"`
	Timestamp     int64  `json:"timestamp"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
