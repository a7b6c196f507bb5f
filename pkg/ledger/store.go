package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// Store is the Pebble-backed ledger: orders, accounts, holdings and fill
// history. Every write is either a single Set committed with pebble.Sync
// or a BatchWrite, so each mutation the engine composes is atomic and
// crash-consistent on its own.
type Store struct {
	db *pebble.DB

	// guards the seq: counters
	seqMu sync.Mutex
}

// NewStore opens a Pebble database at the given path.
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(128 << 20), // 128MB cache
		MemTableSize:          64 << 20,                   // 64MB memtable
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 12,
		LBaseMaxBytes:         64 << 20,
		MaxOpenFiles:          1000,
		BytesPerSync:          512 << 10,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// NextOrderID allocates the next order ID. IDs are a strictly increasing
// insertion sequence, which the selector uses as the final tie-break.
func (s *Store) NextOrderID() (uint64, error) {
	return s.nextSeq([]byte(keySeqOrders))
}

// NextFillID allocates the next fill ID.
func (s *Store) NextFillID() (uint64, error) {
	return s.nextSeq([]byte(keySeqFills))
}

func (s *Store) nextSeq(key []byte) (uint64, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	var next uint64 = 1
	val, closer, err := s.db.Get(key)
	if err == nil {
		next = binary.BigEndian.Uint64(val) + 1
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return 0, fmt.Errorf("failed to read sequence %s: %w", key, err)
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := s.db.Set(key, buf, pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s: %w", key, err)
	}
	return next, nil
}

// SaveOrder persists an order.
func (s *Store) SaveOrder(o *Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order %d: %w", o.ID, err)
	}
	if err := s.db.Set(orderKey(o.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order %d: %w", o.ID, err)
	}
	return nil
}

// GetOrder loads an order. Returns nil if it doesn't exist.
func (s *Store) GetOrder(id uint64) (*Order, error) {
	data, closer, err := s.db.Get(orderKey(id))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %d: %w", id, err)
	}
	defer closer.Close()

	var o Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order %d: %w", id, err)
	}
	return &o, nil
}

// DeleteOrder removes an order. Only the intake cancel path deletes
// orders; the matching engine never does.
func (s *Store) DeleteOrder(id uint64) error {
	if err := s.db.Delete(orderKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete order %d: %w", id, err)
	}
	return nil
}

// Orders returns every order in the store in key (ID) order. The context
// bounds the scan so a stalled store cannot hang a pass forever.
func (s *Store) Orders(ctx context.Context) ([]Order, error) {
	prefix := orderPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open order iterator: %w", err)
	}
	defer iter.Close()

	var orders []Order
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var o Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			continue // skip invalid entries
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// SaveAccount persists an account.
func (s *Store) SaveAccount(a *Account) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal account %s: %w", a.Owner, err)
	}
	if err := s.db.Set(accountKey(a.Owner), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save account %s: %w", a.Owner, err)
	}
	return nil
}

// GetAccount loads an account. Returns nil if it doesn't exist.
func (s *Store) GetAccount(owner string) (*Account, error) {
	data, closer, err := s.db.Get(accountKey(owner))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", owner, err)
	}
	defer closer.Close()

	var a Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account %s: %w", owner, err)
	}
	return &a, nil
}

// Account returns a value snapshot of an account for the engine.
func (s *Store) Account(ctx context.Context, owner string) (Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, false, err
	}
	a, err := s.GetAccount(owner)
	if err != nil || a == nil {
		return Account{}, false, err
	}
	return *a, true, nil
}

// SaveHolding persists a holding.
func (s *Store) SaveHolding(h *Holding) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal holding %s/%s: %w", h.Owner, h.Symbol, err)
	}
	if err := s.db.Set(holdingKey(h.Owner, h.Symbol), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save holding %s/%s: %w", h.Owner, h.Symbol, err)
	}
	return nil
}

// GetHolding loads a holding. Returns nil if it doesn't exist.
func (s *Store) GetHolding(owner, symbol string) (*Holding, error) {
	data, closer, err := s.db.Get(holdingKey(owner, symbol))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holding %s/%s: %w", owner, symbol, err)
	}
	defer closer.Close()

	var h Holding
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to unmarshal holding %s/%s: %w", owner, symbol, err)
	}
	return &h, nil
}

// Holding returns a value snapshot of a holding for the engine.
func (s *Store) Holding(ctx context.Context, owner, symbol string) (Holding, bool, error) {
	if err := ctx.Err(); err != nil {
		return Holding{}, false, err
	}
	h, err := s.GetHolding(owner, symbol)
	if err != nil || h == nil {
		return Holding{}, false, err
	}
	return *h, true, nil
}

// DeleteHolding removes a holding, used when its quantity reaches zero.
func (s *Store) DeleteHolding(owner, symbol string) error {
	if err := s.db.Delete(holdingKey(owner, symbol), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete holding %s/%s: %w", owner, symbol, err)
	}
	return nil
}

// HoldingsFor returns all holdings of one owner.
func (s *Store) HoldingsFor(owner string) ([]Holding, error) {
	prefix := holdingPrefix(owner)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open holding iterator: %w", err)
	}
	defer iter.Close()

	var holdings []Holding
	for iter.First(); iter.Valid(); iter.Next() {
		var h Holding
		if err := json.Unmarshal(iter.Value(), &h); err != nil {
			continue
		}
		holdings = append(holdings, h)
	}
	return holdings, nil
}

// RecentFills returns the most recent fills for a symbol, newest first.
func (s *Store) RecentFills(symbol string, limit int) ([]Fill, error) {
	prefix := fillPrefix(symbol)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open fill iterator: %w", err)
	}
	defer iter.Close()

	var fills []Fill
	for iter.Last(); iter.Valid() && len(fills) < limit; iter.Prev() {
		var f Fill
		if err := json.Unmarshal(iter.Value(), &f); err != nil {
			continue
		}
		fills = append(fills, f)
	}
	return fills, nil
}

// FillState is a consistent view of every row one fill touches: both
// orders, the credited/refunded accounts (one row on a self-trade) and
// the buyer's holding (nil when it does not exist yet).
type FillState struct {
	Buy      Order
	Sell     Order
	Accounts []Account
	Holding  *Holding

	// Identify the buyer holding row even when Holding is nil.
	HoldingOwner  string
	HoldingSymbol string
}

// FillPlan is one settled fill expressed as immutable snapshots: the
// pre-state the engine computed from, the post-state to commit, and the
// fill record. The pre-state lets the ledger detect that a row moved
// between snapshot and commit; the post-state commits in one atomic
// batch, so a crash or rejection leaves no partial fill behind.
type FillPlan struct {
	Pre    FillState
	Post   FillState
	Record Fill
}

// ApplyFill atomically commits every mutation of one fill.
func (s *Store) ApplyFill(ctx context.Context, plan FillPlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := s.NewBatch()
	defer b.Close()

	if err := b.SetOrder(&plan.Post.Buy); err != nil {
		return err
	}
	if err := b.SetOrder(&plan.Post.Sell); err != nil {
		return err
	}
	for i := range plan.Post.Accounts {
		if err := b.SetAccount(&plan.Post.Accounts[i]); err != nil {
			return err
		}
	}
	if plan.Post.Holding != nil {
		if err := b.SetHolding(plan.Post.Holding); err != nil {
			return err
		}
	}
	if err := b.SetFill(&plan.Record); err != nil {
		return err
	}

	if err := b.Commit(); err != nil {
		return fmt.Errorf("failed to commit fill %d: %w", plan.Record.ID, err)
	}
	return nil
}

// BatchWrite stages writes across entity families and commits them as a
// single atomic, synced unit.
type BatchWrite struct {
	batch *pebble.Batch
}

// NewBatch creates a new batch writer.
func (s *Store) NewBatch() *BatchWrite {
	return &BatchWrite{batch: s.db.NewBatch()}
}

func (bw *BatchWrite) SetOrder(o *Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return bw.batch.Set(orderKey(o.ID), data, nil)
}

func (bw *BatchWrite) DeleteOrder(id uint64) error {
	return bw.batch.Delete(orderKey(id), nil)
}

func (bw *BatchWrite) SetAccount(a *Account) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return bw.batch.Set(accountKey(a.Owner), data, nil)
}

func (bw *BatchWrite) SetHolding(h *Holding) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return bw.batch.Set(holdingKey(h.Owner, h.Symbol), data, nil)
}

func (bw *BatchWrite) DeleteHolding(owner, symbol string) error {
	return bw.batch.Delete(holdingKey(owner, symbol), nil)
}

func (bw *BatchWrite) SetFill(f *Fill) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return bw.batch.Set(fillKey(f.Symbol, f.Timestamp, f.ID), data, nil)
}

// Commit writes the batch atomically with fsync.
func (bw *BatchWrite) Commit() error {
	return bw.batch.Commit(pebble.Sync)
}

// Close discards the batch without committing.
func (bw *BatchWrite) Close() error {
	return bw.batch.Close()
}
