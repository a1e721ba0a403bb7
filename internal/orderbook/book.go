// Package orderbook maintains a per-asset decimal price ladder: snapshot
// replace, incremental delta application, tick-size tracking, crossed-
// book self-healing, and canonical-hash verification. All arithmetic and
// comparisons use shopspring/decimal; float64 never appears on a path
// that can affect book state.
package orderbook

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/links234/streamcore/pkg/types"
)

// Book is one asset's two-sided price ladder. All exported methods are
// safe for concurrent use; one asset's book failing an operation never
// affects another asset's Book.
type Book struct {
	mu sync.RWMutex

	assetID string
	market  string

	bids map[string]decimal.Decimal // price.String() -> size
	asks map[string]decimal.Decimal

	tickSize decimal.Decimal
	lastHash string
	updated  time.Time
}

// New creates an empty book for one asset.
func New(assetID, market string) *Book {
	return &Book{
		assetID: assetID,
		market:  market,
		bids:    make(map[string]decimal.Decimal),
		asks:    make(map[string]decimal.Decimal),
	}
}

func (b *Book) AssetID() string { return b.assetID }

// ReplaceWithSnapshot verifies hash against this book's own canonical
// hash of (bids, asks) before replacing the book's state. On mismatch
// the book is left unchanged and a *HashMismatchError is returned.
func (b *Book) ReplaceWithSnapshot(bids, asks []types.PriceLevel, hash string) error {
	if hash != "" {
		local := canonicalHash(bids, asks)
		if local != hash {
			return &HashMismatchError{AssetID: b.assetID, Want: hash, Got: local}
		}
	}
	b.ReplaceWithSnapshotNoHash(bids, asks, hash)
	return nil
}

// ReplaceWithSnapshotNoHash replaces the book's state unconditionally.
func (b *Book) ReplaceWithSnapshotNoHash(bids, asks []types.PriceLevel, hash string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = levelsToMap(bids)
	b.asks = levelsToMap(asks)
	b.lastHash = hash
	b.updated = time.Now()
}

func levelsToMap(levels []types.PriceLevel) map[string]decimal.Decimal {
	m := make(map[string]decimal.Decimal, len(levels))
	for _, l := range levels {
		if l.Size.IsZero() || l.Size.IsNegative() {
			continue
		}
		m[l.Price.String()] = l.Size
	}
	return m
}

// ApplyPriceChange applies a batch of incremental deltas (new absolute
// size at each price) and verifies the resulting book against hash. On
// mismatch the book is left unchanged (the pre-apply state is
// preserved) and a *HashMismatchError is returned.
func (b *Book) ApplyPriceChange(changes []types.PriceChange, hash string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	newBids, newAsks := b.cloneLocked()
	applyDeltas(newBids, newAsks, changes)

	if hash != "" {
		local := canonicalHash(mapToLevels(newBids), mapToLevels(newAsks))
		if local != hash {
			return &HashMismatchError{AssetID: b.assetID, Want: hash, Got: local}
		}
	}

	b.bids = newBids
	b.asks = newAsks
	b.lastHash = hash
	b.updated = time.Now()
	return nil
}

// ApplyPriceChangeNoHash applies deltas without verifying a hash.
func (b *Book) ApplyPriceChangeNoHash(changes []types.PriceChange, hash string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	applyDeltas(b.bids, b.asks, changes)
	b.lastHash = hash
	b.updated = time.Now()
}

func (b *Book) cloneLocked() (map[string]decimal.Decimal, map[string]decimal.Decimal) {
	nb := make(map[string]decimal.Decimal, len(b.bids))
	for k, v := range b.bids {
		nb[k] = v
	}
	na := make(map[string]decimal.Decimal, len(b.asks))
	for k, v := range b.asks {
		na[k] = v
	}
	return nb, na
}

func applyDeltas(bids, asks map[string]decimal.Decimal, changes []types.PriceChange) {
	for _, c := range changes {
		side := bids
		if c.Side == types.Sell {
			side = asks
		}
		key := c.Price.String()
		if c.Size.IsZero() || c.Size.IsNegative() {
			delete(side, key)
			continue
		}
		side[key] = c.Size
	}
}

func mapToLevels(m map[string]decimal.Decimal) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(m))
	for priceStr, size := range m {
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			continue
		}
		out = append(out, types.PriceLevel{Price: price, Size: size})
	}
	return out
}

// SetTickSize updates the minimum price increment for this asset.
func (b *Book) SetTickSize(tick decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickSize = tick
}

func (b *Book) TickSize() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tickSize
}

// ValidateAndClean repeatedly removes the best bid while it is at or
// above the best ask (bid price >= ask price), until the book is no
// longer crossed or the bid side is empty; ask levels are never
// removed. It returns true if anything was removed. A crossed book is
// never left standing; this is the book engine's self-healing procedure
// for feed inconsistency that hash verification alone does not resolve.
func (b *Book) ValidateAndClean() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	cleaned := false
	for {
		bestBid, okBid := bestOf(b.bids, true)
		bestAsk, okAsk := bestOf(b.asks, false)
		if !okBid || !okAsk || bestBid.Price.LessThan(bestAsk.Price) {
			break
		}
		// Crossed: drop the crossing best bid and check again.
		delete(b.bids, bestBid.Price.String())
		cleaned = true
	}
	return cleaned
}

func bestOf(m map[string]decimal.Decimal, wantMax bool) (types.PriceLevel, bool) {
	var best *types.PriceLevel
	for priceStr, size := range m {
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			continue
		}
		lvl := types.PriceLevel{Price: price, Size: size}
		if best == nil {
			best = &lvl
			continue
		}
		if wantMax && price.GreaterThan(best.Price) {
			best = &lvl
		} else if !wantMax && price.LessThan(best.Price) {
			best = &lvl
		}
	}
	if best == nil {
		return types.PriceLevel{}, false
	}
	return *best, true
}

// BestBid returns the highest-priced bid level, if any.
func (b *Book) BestBid() (types.PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestOf(b.bids, true)
}

// BestAsk returns the lowest-priced ask level, if any.
func (b *Book) BestAsk() (types.PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestOf(b.asks, false)
}

// Summary returns a sorted, point-in-time snapshot of the book: bids
// descending by price, asks ascending by price.
func (b *Book) Summary() types.OrderBookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bids := mapToLevels(b.bids)
	asks := mapToLevels(b.asks)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })

	return types.OrderBookSnapshot{
		AssetID: b.assetID,
		Market:  b.market,
		Bids:    bids,
		Asks:    asks,
		Hash:    b.lastHash,
		AsOf:    b.updated,
	}
}

// IsStale reports whether this book hasn't been updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}
