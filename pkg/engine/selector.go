package engine

import (
	"sort"

	"github.com/jwyoon/stockmatch/pkg/ledger"
)

// Order selection for one matching pass: standard price-time priority.
//
// Buys: limit price descending, then CreatedAt ascending, then order ID
// ascending. Sells eligible for a given buy: same symbol, unprocessed,
// limit ≤ the buy's limit, ordered by CreatedAt then ID.
//
// The ID tie-break makes the ordering a total order even when two
// orders share a millisecond timestamp: IDs are the store's insertion
// sequence, so it degrades to pure arrival order.

func selectBuys(orders []ledger.Order) []ledger.Order {
	var buys []ledger.Order
	for _, o := range orders {
		if o.Status == ledger.Unprocessed && o.Side == ledger.Buy {
			buys = append(buys, o)
		}
	}
	sort.Slice(buys, func(i, j int) bool {
		if buys[i].LimitPrice != buys[j].LimitPrice {
			return buys[i].LimitPrice > buys[j].LimitPrice
		}
		if buys[i].CreatedAt != buys[j].CreatedAt {
			return buys[i].CreatedAt < buys[j].CreatedAt
		}
		return buys[i].ID < buys[j].ID
	})
	return buys
}

func selectSells(orders []ledger.Order, buy ledger.Order) []ledger.Order {
	var sells []ledger.Order
	for _, o := range orders {
		if o.Status == ledger.Unprocessed && o.Side == ledger.Sell &&
			o.Symbol == buy.Symbol && o.LimitPrice <= buy.LimitPrice {
			sells = append(sells, o)
		}
	}
	sort.Slice(sells, func(i, j int) bool {
		if sells[i].CreatedAt != sells[j].CreatedAt {
			return sells[i].CreatedAt < sells[j].CreatedAt
		}
		return sells[i].ID < sells[j].ID
	})
	return sells
}
