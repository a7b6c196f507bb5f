package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jwyoon/stockmatch/pkg/ledger"
	"github.com/jwyoon/stockmatch/pkg/util"
)

// Matcher runs one continuous double-auction pass at a time: buys in
// price-time priority against eligible resting sells, clearing at the
// seller's ask. Each fill settles atomically; a failed fill is logged
// and skipped without touching either order.
type Matcher struct {
	store Store
	clock util.Clock
	log   *zap.SugaredLogger
}

// NewMatcher wires a matcher to a store.
func NewMatcher(store Store, clock util.Clock, log *zap.SugaredLogger) *Matcher {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Matcher{store: store, clock: clock, log: log}
}

// RunPass evaluates the entire selector snapshot exactly once. Orders
// created or modified during the pass wait for the next tick. The error
// return is reserved for pass-level failures (snapshot read failed);
// per-fill failures are contained in the report.
func (m *Matcher) RunPass(ctx context.Context) (PassReport, error) {
	start := m.clock.Now()
	var report PassReport

	snapshot, err := m.store.Orders(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to read order snapshot: %w", err)
	}

	buys := selectBuys(snapshot)
	report.Buys = len(buys)

	for _, buy := range buys {
		// Re-query sells fresh for each buy so fills committed for
		// earlier buys in this pass are reflected and no sell is
		// double-counted.
		current, err := m.store.Orders(ctx)
		if err != nil {
			report.Elapsed = m.clock.Now().Sub(start)
			return report, fmt.Errorf("failed to refresh sell snapshot: %w", err)
		}
		sells := selectSells(current, buy)

		for _, sell := range sells {
			if buy.Quantity == 0 {
				break // fully filled, advance to the next buy
			}

			fillQty := min(buy.Quantity, sell.Quantity)
			if fillQty <= 0 {
				continue
			}

			result := m.settleOne(ctx, &buy, sell, fillQty)
			report.Results = append(report.Results, result)

			if result.Ok() {
				m.log.Infow("fill_committed",
					"symbol", buy.Symbol,
					"buy_order", result.Fill.BuyOrderID,
					"sell_order", result.Fill.SellOrderID,
					"price", result.Fill.Price,
					"quantity", result.Fill.Quantity,
					"refund", result.Fill.Refund)
			} else {
				m.log.Errorw("fill_failed",
					"kind", result.Err.Kind.String(),
					"buy_order", result.Err.BuyOrderID,
					"sell_order", result.Err.SellOrderID,
					"err", result.Err.Err)
			}
		}
	}

	report.Elapsed = m.clock.Now().Sub(start)
	return report, nil
}

// settleOne attempts one fill. On success the caller's buy order value
// is advanced to the committed post-state; on failure nothing moved.
func (m *Matcher) settleOne(ctx context.Context, buy *ledger.Order, sell ledger.Order, fillQty int64) FillResult {
	seller, ok, err := m.store.Account(ctx, sell.Owner)
	if err != nil {
		return FillResult{Err: fillErr(KindStore, buy.ID, sell.ID, err)}
	}
	if !ok {
		return FillResult{Err: fillErr(KindConsistency, buy.ID, sell.ID,
			fmt.Errorf("seller account %s missing", sell.Owner))}
	}

	buyer, ok, err := m.store.Account(ctx, buy.Owner)
	if err != nil {
		return FillResult{Err: fillErr(KindStore, buy.ID, sell.ID, err)}
	}
	if !ok {
		return FillResult{Err: fillErr(KindConsistency, buy.ID, sell.ID,
			fmt.Errorf("buyer account %s missing", buy.Owner))}
	}

	var holding *ledger.Holding
	h, ok, err := m.store.Holding(ctx, buy.Owner, buy.Symbol)
	if err != nil {
		return FillResult{Err: fillErr(KindStore, buy.ID, sell.ID, err)}
	}
	if ok {
		holding = &h
	}

	fillID, err := m.store.NextFillID()
	if err != nil {
		return FillResult{Err: fillErr(KindStore, buy.ID, sell.ID, err)}
	}

	plan, ferr := buildFillPlan(*buy, sell, buyer, seller, holding, fillQty, fillID, m.clock.Now().UnixMilli())
	if ferr != nil {
		return FillResult{Err: ferr}
	}

	if err := m.store.ApplyFill(ctx, plan); err != nil {
		return FillResult{Err: fillErr(KindStore, buy.ID, sell.ID, err)}
	}

	*buy = plan.Post.Buy
	rec := plan.Record
	return FillResult{Fill: &rec}
}

func min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
