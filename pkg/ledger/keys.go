package ledger

import "fmt"

// Pebble key schema. Prefix-based so each entity family supports cheap
// range scans, with zero-padded numeric components for lexicographic
// ordering.
//
//	ord:{id}                  order rows, id zero-padded to 20 digits
//	acc:{owner}               account rows
//	hold:{owner}:{symbol}     holding rows
//	fill:{symbol}:{ts}:{id}   fill history, time-ordered per symbol
//	seq:orders / seq:fills    monotonic ID counters
const (
	prefixOrder   = "ord:"
	prefixAccount = "acc:"
	prefixHolding = "hold:"
	prefixFill    = "fill:"
	keySeqOrders  = "seq:orders"
	keySeqFills   = "seq:fills"
)

func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func orderPrefix() []byte {
	return []byte(prefixOrder)
}

func accountKey(owner string) []byte {
	return []byte(prefixAccount + owner)
}

func holdingKey(owner, symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixHolding, owner, symbol))
}

func holdingPrefix(owner string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixHolding, owner))
}

func fillKey(symbol string, ts int64, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%020d", prefixFill, symbol, ts, id))
}

func fillPrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixFill, symbol))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan by
// incrementing the prefix's last byte.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
