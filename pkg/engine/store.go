package engine

import (
	"context"

	"github.com/jwyoon/stockmatch/pkg/ledger"
)

// Store is what the matching engine needs from the ledger: snapshot
// reads and one atomic apply-fill operation. *ledger.Ledger implements
// it; tests substitute fault-injecting wrappers.
type Store interface {
	// Orders returns a snapshot of every order row.
	Orders(ctx context.Context) ([]ledger.Order, error)

	// Account and Holding return value snapshots; the bool reports
	// whether the row exists.
	Account(ctx context.Context, owner string) (ledger.Account, bool, error)
	Holding(ctx context.Context, owner, symbol string) (ledger.Holding, bool, error)

	// NextFillID allocates a fill ID.
	NextFillID() (uint64, error)

	// ApplyFill commits one fill all-or-nothing. It fails without side
	// effects when any touched row changed since the snapshot.
	ApplyFill(ctx context.Context, plan ledger.FillPlan) error
}
