package engine

import (
	"fmt"

	"github.com/jwyoon/stockmatch/pkg/ledger"
)

// buildFillPlan computes the complete pre/post state of one fill from
// immutable value snapshots. It mutates nothing; a typed error means
// the fill is discarded with no side effects.
//
// Settlement rules:
//   - Clearing price is the resting seller's ask. The buyer reserved
//     funds at their own (higher or equal) limit at placement, so the
//     price improvement fillQty × (bid − ask) is refunded.
//   - Seller is credited the full consideration fillQty × ask.
//   - The buyer's holding cost basis is the volume-weighted average of
//     the old position and this fill.
func buildFillPlan(buy, sell ledger.Order, buyer, seller ledger.Account,
	holding *ledger.Holding, fillQty int64, fillID uint64, now int64) (ledger.FillPlan, *FillError) {

	clearing := sell.LimitPrice

	consideration, err := ledger.MulMoney(fillQty, clearing)
	if err != nil {
		return ledger.FillPlan{}, fillErr(KindArithmetic, buy.ID, sell.ID, err)
	}

	var refund int64
	if clearing < buy.LimitPrice {
		refund, err = ledger.MulMoney(fillQty, buy.LimitPrice-clearing)
		if err != nil {
			return ledger.FillPlan{}, fillErr(KindArithmetic, buy.ID, sell.ID, err)
		}
	}

	pre := ledger.FillState{
		Buy:           buy,
		Sell:          sell,
		Holding:       holding,
		HoldingOwner:  buy.Owner,
		HoldingSymbol: buy.Symbol,
	}

	// Post orders: conserved quantity decrement on both sides, flip to
	// executed exactly at zero.
	postBuy := buy
	postBuy.Quantity -= fillQty
	if postBuy.Quantity == 0 {
		postBuy.Status = ledger.Executed
	}
	postSell := sell
	postSell.Quantity -= fillQty
	if postSell.Quantity == 0 {
		postSell.Status = ledger.Executed
	}
	if postBuy.Quantity < 0 || postSell.Quantity < 0 {
		return ledger.FillPlan{}, fillErr(KindConsistency, buy.ID, sell.ID,
			fmt.Errorf("fill quantity %d exceeds order quantity (buy=%d sell=%d)", fillQty, buy.Quantity, sell.Quantity))
	}

	// Post accounts. A self-trade settles both legs into one row.
	postSeller := seller
	postSeller.Balance += consideration
	var postAccounts []ledger.Account
	if buy.Owner == sell.Owner {
		postSeller.Balance += refund
		pre.Accounts = []ledger.Account{seller}
		postAccounts = []ledger.Account{postSeller}
	} else {
		postBuyer := buyer
		postBuyer.Balance += refund
		pre.Accounts = []ledger.Account{seller, buyer}
		postAccounts = []ledger.Account{postSeller, postBuyer}
	}
	for i := range postAccounts {
		if err := postAccounts[i].Validate(); err != nil {
			return ledger.FillPlan{}, fillErr(KindConsistency, buy.ID, sell.ID, err)
		}
	}

	// Post holding: VWAP cost basis, or a fresh position at the
	// clearing price.
	var postHolding ledger.Holding
	if holding == nil {
		postHolding = ledger.Holding{
			Owner:    buy.Owner,
			Symbol:   buy.Symbol,
			Quantity: fillQty,
			AvgPrice: clearing,
		}
	} else {
		newQty := holding.Quantity + fillQty
		if newQty <= 0 {
			return ledger.FillPlan{}, fillErr(KindArithmetic, buy.ID, sell.ID,
				fmt.Errorf("degenerate holding quantity %d for %s/%s", newQty, buy.Owner, buy.Symbol))
		}
		oldValue, err := ledger.MulMoney(holding.Quantity, holding.AvgPrice)
		if err != nil {
			return ledger.FillPlan{}, fillErr(KindArithmetic, buy.ID, sell.ID, err)
		}
		postHolding = *holding
		postHolding.Quantity = newQty
		postHolding.AvgPrice = (oldValue + consideration) / newQty
	}
	if err := postHolding.Validate(); err != nil {
		return ledger.FillPlan{}, fillErr(KindConsistency, buy.ID, sell.ID, err)
	}

	return ledger.FillPlan{
		Pre: pre,
		Post: ledger.FillState{
			Buy:           postBuy,
			Sell:          postSell,
			Accounts:      postAccounts,
			Holding:       &postHolding,
			HoldingOwner:  buy.Owner,
			HoldingSymbol: buy.Symbol,
		},
		Record: ledger.Fill{
			ID:            fillID,
			Symbol:        buy.Symbol,
			BuyOrderID:    buy.ID,
			SellOrderID:   sell.ID,
			Buyer:         buy.Owner,
			Seller:        sell.Owner,
			Price:         clearing,
			Quantity:      fillQty,
			Consideration: consideration,
			Refund:        refund,
			Timestamp:     now,
		},
	}, nil
}
