package orderbook

import (
	"context"
	"log/slog"
	"sync"

	"github.com/links234/streamcore/pkg/types"
)

// SnapshotFetcher re-fetches a single asset's order book from the
// source of truth, used to self-heal a hash mismatch.
type SnapshotFetcher interface {
	FetchOrderBook(ctx context.Context, assetID string) (types.OrderBookSnapshot, error)
}

// Manager owns one Book per asset and applies the self-healing
// orchestration this package's callers need: verify hash, and on
// mismatch either re-fetch from REST (if configured) or fall back to an
// unverified apply, always finishing with ValidateAndClean so a crossed
// book never survives either path.
type Manager struct {
	mu    sync.RWMutex
	books map[string]*Book

	fetcher                SnapshotFetcher
	skipHashVerification   bool
	quietHashMismatch      bool
	autoSyncOnHashMismatch bool
	logger                 *slog.Logger
}

// NewManager creates a Manager. fetcher may be nil if
// autoSyncOnHashMismatch is false.
func NewManager(fetcher SnapshotFetcher, skipHashVerification, quietHashMismatch, autoSyncOnHashMismatch bool, logger *slog.Logger) *Manager {
	return &Manager{
		books:                  make(map[string]*Book),
		fetcher:                fetcher,
		skipHashVerification:   skipHashVerification,
		quietHashMismatch:      quietHashMismatch,
		autoSyncOnHashMismatch: autoSyncOnHashMismatch,
		logger:                 logger,
	}
}

// Get returns (creating if necessary) the Book for assetID.
func (m *Manager) Get(assetID string) *Book {
	m.mu.RLock()
	b, ok := m.books[assetID]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.books[assetID]; ok {
		return b
	}
	b = New(assetID, "")
	m.books[assetID] = b
	return b
}

// Books returns a snapshot of every asset currently tracked.
func (m *Manager) Books() map[string]*Book {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Book, len(m.books))
	for k, v := range m.books {
		out[k] = v
	}
	return out
}

// ApplySnapshot runs the full self-heal orchestration for a book
// snapshot event: skip verification if configured, else try verified
// apply, and on failure either REST re-sync or unverified fallback.
// ValidateAndClean always runs afterward.
func (m *Manager) ApplySnapshot(ctx context.Context, snap types.OrderBookSnapshot) {
	book := m.Get(snap.AssetID)

	if m.skipHashVerification {
		book.ReplaceWithSnapshotNoHash(snap.Bids, snap.Asks, snap.Hash)
	} else if err := book.ReplaceWithSnapshot(snap.Bids, snap.Asks, snap.Hash); err != nil {
		m.healHashMismatch(ctx, book, snap.AssetID, err, func() {
			book.ReplaceWithSnapshotNoHash(snap.Bids, snap.Asks, snap.Hash)
		})
	}

	if book.ValidateAndClean() {
		m.logger.Warn("book was cleaned due to crossed market", "asset_id", snap.AssetID)
	}
}

// ApplyPriceChange runs the same self-heal orchestration for an
// incremental delta event.
func (m *Manager) ApplyPriceChange(ctx context.Context, set *types.PriceChangeSet) {
	book := m.Get(set.AssetID)

	if m.skipHashVerification {
		book.ApplyPriceChangeNoHash(set.Changes, set.Hash)
	} else if err := book.ApplyPriceChange(set.Changes, set.Hash); err != nil {
		m.healHashMismatch(ctx, book, set.AssetID, err, func() {
			book.ApplyPriceChangeNoHash(set.Changes, set.Hash)
		})
	}

	if book.ValidateAndClean() {
		m.logger.Warn("book was cleaned due to crossed market", "asset_id", set.AssetID)
	}
}

func (m *Manager) healHashMismatch(ctx context.Context, book *Book, assetID string, cause error, fallback func()) {
	if !m.quietHashMismatch {
		m.logger.Warn("order book hash mismatch", "asset_id", assetID, "error", cause)
	}

	if m.autoSyncOnHashMismatch && m.fetcher != nil {
		snap, err := m.fetcher.FetchOrderBook(ctx, assetID)
		if err != nil {
			m.logger.Warn("rest re-sync after hash mismatch failed, applying unverified", "asset_id", assetID, "error", err)
			fallback()
			return
		}
		book.ReplaceWithSnapshotNoHash(snap.Bids, snap.Asks, snap.Hash)
		return
	}

	m.logger.Warn("applying snapshot without hash validation", "asset_id", assetID)
	fallback()
}
