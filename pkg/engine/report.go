package engine

import (
	"time"

	"github.com/jwyoon/stockmatch/pkg/ledger"
)

// FillResult is the structured outcome of one attempted fill: either a
// committed record or a typed error, never both.
type FillResult struct {
	Fill *ledger.Fill
	Err  *FillError
}

// Ok reports whether the fill committed.
func (r FillResult) Ok() bool { return r.Err == nil }

// PassReport aggregates one complete pass over the selector snapshot.
type PassReport struct {
	Buys    int
	Results []FillResult
	Elapsed time.Duration
}

// Filled returns the number of committed fills.
func (p PassReport) Filled() int {
	n := 0
	for _, r := range p.Results {
		if r.Ok() {
			n++
		}
	}
	return n
}

// Failed returns the number of discarded fills.
func (p PassReport) Failed() int {
	return len(p.Results) - p.Filled()
}
