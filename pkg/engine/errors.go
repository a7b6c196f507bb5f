package engine

import "fmt"

// FillErrorKind classifies why one fill was discarded. No kind ever
// aborts the pass; the pair is skipped and stays eligible next tick.
type FillErrorKind int8

const (
	// KindConsistency: a referenced account or holding row is missing
	// or violates an invariant. Upstream data corruption.
	KindConsistency FillErrorKind = iota
	// KindArithmetic: consideration or cost-basis computation failed
	// (overflow, degenerate denominator).
	KindArithmetic
	// KindStore: the atomic write was rejected (conflict, connectivity).
	// The fill retries automatically on the next scheduled pass.
	KindStore
)

func (k FillErrorKind) String() string {
	switch k {
	case KindConsistency:
		return "consistency"
	case KindArithmetic:
		return "arithmetic"
	case KindStore:
		return "store"
	default:
		return "unknown"
	}
}

// FillError is the typed failure of one attempted fill.
type FillError struct {
	Kind        FillErrorKind
	BuyOrderID  uint64
	SellOrderID uint64
	Err         error
}

func (e *FillError) Error() string {
	return fmt.Sprintf("fill %s error (buy=%d sell=%d): %v", e.Kind, e.BuyOrderID, e.SellOrderID, e.Err)
}

func (e *FillError) Unwrap() error { return e.Err }

func fillErr(kind FillErrorKind, buyID, sellID uint64, err error) *FillError {
	return &FillError{Kind: kind, BuyOrderID: buyID, SellOrderID: sellID, Err: err}
}
