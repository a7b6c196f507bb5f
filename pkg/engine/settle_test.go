package engine

import (
	"math"
	"testing"

	"github.com/jwyoon/stockmatch/pkg/ledger"
)

func TestBuildFillPlanRefundAndConsideration(t *testing.T) {
	buy := ledger.Order{ID: 1, Owner: "alice", Symbol: "ACME", Side: ledger.Buy, Quantity: 5, LimitPrice: 1000, Status: ledger.Unprocessed, CreatedAt: 100}
	sell := ledger.Order{ID: 2, Owner: "bob", Symbol: "ACME", Side: ledger.Sell, Quantity: 5, LimitPrice: 800, Status: ledger.Unprocessed, CreatedAt: 50}
	buyer := ledger.Account{Owner: "alice", Balance: 0}
	seller := ledger.Account{Owner: "bob", Balance: 100}

	plan, ferr := buildFillPlan(buy, sell, buyer, seller, nil, 5, 7, 200)
	if ferr != nil {
		t.Fatalf("buildFillPlan: %v", ferr)
	}

	// Clearing at the ask: 5 × 800 = 4000 to the seller, 5 × 200 = 1000
	// price improvement back to the buyer.
	if plan.Record.Price != 800 {
		t.Errorf("clearing price = %d, want 800", plan.Record.Price)
	}
	if plan.Record.Consideration != 4000 {
		t.Errorf("consideration = %d, want 4000", plan.Record.Consideration)
	}
	if plan.Record.Refund != 1000 {
		t.Errorf("refund = %d, want 1000", plan.Record.Refund)
	}

	if len(plan.Post.Accounts) != 2 {
		t.Fatalf("expected 2 post accounts, got %d", len(plan.Post.Accounts))
	}
	if got := plan.Post.Accounts[0].Balance; got != 4100 {
		t.Errorf("seller balance = %d, want 4100", got)
	}
	if got := plan.Post.Accounts[1].Balance; got != 1000 {
		t.Errorf("buyer balance = %d, want 1000", got)
	}

	if plan.Post.Buy.Quantity != 0 || plan.Post.Buy.Status != ledger.Executed {
		t.Errorf("buy not fully executed: %+v", plan.Post.Buy)
	}
	if plan.Post.Sell.Quantity != 0 || plan.Post.Sell.Status != ledger.Executed {
		t.Errorf("sell not fully executed: %+v", plan.Post.Sell)
	}

	h := plan.Post.Holding
	if h == nil || h.Quantity != 5 || h.AvgPrice != 800 {
		t.Errorf("fresh holding = %+v, want qty 5 avg 800", h)
	}
}

func TestBuildFillPlanPartialFillStaysOpen(t *testing.T) {
	buy := ledger.Order{ID: 1, Owner: "alice", Symbol: "ACME", Side: ledger.Buy, Quantity: 10, LimitPrice: 900, Status: ledger.Unprocessed}
	sell := ledger.Order{ID: 2, Owner: "bob", Symbol: "ACME", Side: ledger.Sell, Quantity: 4, LimitPrice: 900, Status: ledger.Unprocessed}

	plan, ferr := buildFillPlan(buy, sell, ledger.Account{Owner: "alice"}, ledger.Account{Owner: "bob"}, nil, 4, 1, 0)
	if ferr != nil {
		t.Fatalf("buildFillPlan: %v", ferr)
	}
	if plan.Post.Buy.Quantity != 6 || plan.Post.Buy.Status != ledger.Unprocessed {
		t.Errorf("buy remainder = %+v, want qty 6 unprocessed", plan.Post.Buy)
	}
	if plan.Post.Sell.Quantity != 0 || plan.Post.Sell.Status != ledger.Executed {
		t.Errorf("sell = %+v, want executed", plan.Post.Sell)
	}
	if plan.Record.Refund != 0 {
		t.Errorf("equal limits must not refund, got %d", plan.Record.Refund)
	}
}

func TestBuildFillPlanVWAPCostBasis(t *testing.T) {
	// 10 @ 800 held, buy 10 more @ 1200: avg = (8000+12000)/20 = 1000.
	buy := ledger.Order{ID: 1, Owner: "alice", Symbol: "ACME", Side: ledger.Buy, Quantity: 10, LimitPrice: 1200, Status: ledger.Unprocessed}
	sell := ledger.Order{ID: 2, Owner: "bob", Symbol: "ACME", Side: ledger.Sell, Quantity: 10, LimitPrice: 1200, Status: ledger.Unprocessed}
	held := &ledger.Holding{Owner: "alice", Symbol: "ACME", Quantity: 10, AvgPrice: 800}

	plan, ferr := buildFillPlan(buy, sell, ledger.Account{Owner: "alice"}, ledger.Account{Owner: "bob"}, held, 10, 1, 0)
	if ferr != nil {
		t.Fatalf("buildFillPlan: %v", ferr)
	}
	h := plan.Post.Holding
	if h.Quantity != 20 || h.AvgPrice != 1000 {
		t.Errorf("post holding = qty %d avg %d, want qty 20 avg 1000", h.Quantity, h.AvgPrice)
	}
	if held.Quantity != 10 || held.AvgPrice != 800 {
		t.Errorf("input holding mutated: %+v", held)
	}
}

func TestBuildFillPlanSelfTradeSingleAccountRow(t *testing.T) {
	buy := ledger.Order{ID: 1, Owner: "alice", Symbol: "ACME", Side: ledger.Buy, Quantity: 3, LimitPrice: 1000, Status: ledger.Unprocessed}
	sell := ledger.Order{ID: 2, Owner: "alice", Symbol: "ACME", Side: ledger.Sell, Quantity: 3, LimitPrice: 700, Status: ledger.Unprocessed}
	acct := ledger.Account{Owner: "alice", Balance: 50}

	plan, ferr := buildFillPlan(buy, sell, acct, acct, nil, 3, 1, 0)
	if ferr != nil {
		t.Fatalf("buildFillPlan: %v", ferr)
	}
	if len(plan.Post.Accounts) != 1 {
		t.Fatalf("self-trade must settle one account row, got %d", len(plan.Post.Accounts))
	}
	// Consideration 3×700 = 2100 plus refund 3×300 = 900 on one row.
	if got := plan.Post.Accounts[0].Balance; got != 50+2100+900 {
		t.Errorf("self-trade balance = %d, want %d", got, 50+2100+900)
	}
}

func TestBuildFillPlanOverfillIsConsistencyError(t *testing.T) {
	buy := ledger.Order{ID: 1, Owner: "alice", Symbol: "ACME", Side: ledger.Buy, Quantity: 2, LimitPrice: 1000, Status: ledger.Unprocessed}
	sell := ledger.Order{ID: 2, Owner: "bob", Symbol: "ACME", Side: ledger.Sell, Quantity: 5, LimitPrice: 1000, Status: ledger.Unprocessed}

	_, ferr := buildFillPlan(buy, sell, ledger.Account{Owner: "alice"}, ledger.Account{Owner: "bob"}, nil, 3, 1, 0)
	if ferr == nil || ferr.Kind != KindConsistency {
		t.Fatalf("expected consistency error, got %v", ferr)
	}
}

func TestBuildFillPlanOverflowIsArithmeticError(t *testing.T) {
	buy := ledger.Order{ID: 1, Owner: "alice", Symbol: "ACME", Side: ledger.Buy, Quantity: math.MaxInt64, LimitPrice: 2, Status: ledger.Unprocessed}
	sell := ledger.Order{ID: 2, Owner: "bob", Symbol: "ACME", Side: ledger.Sell, Quantity: math.MaxInt64, LimitPrice: 2, Status: ledger.Unprocessed}

	_, ferr := buildFillPlan(buy, sell, ledger.Account{Owner: "alice"}, ledger.Account{Owner: "bob"}, nil, math.MaxInt64, 1, 0)
	if ferr == nil || ferr.Kind != KindArithmetic {
		t.Fatalf("expected arithmetic error, got %v", ferr)
	}
}
