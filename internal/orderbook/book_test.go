package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/links234/streamcore/pkg/types"
)

func lvl(price, size string) types.PriceLevel {
	return types.PriceLevel{Price: decimal.RequireFromString(price), Size: decimal.RequireFromString(size)}
}

func TestReplaceWithSnapshotNoHashThenBestBidAsk(t *testing.T) {
	t.Parallel()
	b := New("A1", "M1")
	b.ReplaceWithSnapshotNoHash(
		[]types.PriceLevel{lvl("0.49", "50"), lvl("0.48", "10")},
		[]types.PriceLevel{lvl("0.51", "30")},
		"",
	)

	bid, ok := b.BestBid()
	if !ok || !bid.Price.Equal(decimal.RequireFromString("0.49")) || !bid.Size.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("BestBid = %+v, ok=%v", bid, ok)
	}
	ask, ok := b.BestAsk()
	if !ok || !ask.Price.Equal(decimal.RequireFromString("0.51")) {
		t.Fatalf("BestAsk = %+v, ok=%v", ask, ok)
	}
}

func TestReplaceWithSnapshotHashMismatchLeavesBookUnchanged(t *testing.T) {
	t.Parallel()
	b := New("A1", "M1")
	b.ReplaceWithSnapshotNoHash([]types.PriceLevel{lvl("0.4", "10")}, nil, "")

	err := b.ReplaceWithSnapshot([]types.PriceLevel{lvl("0.9", "1")}, nil, "not-the-real-hash")
	if err == nil {
		t.Fatal("expected hash mismatch error")
	}
	bid, _ := b.BestBid()
	if !bid.Price.Equal(decimal.RequireFromString("0.4")) {
		t.Fatalf("book should be unchanged after failed verified replace, got %+v", bid)
	}
}

func TestReplaceWithSnapshotHashMatchApplies(t *testing.T) {
	t.Parallel()
	b := New("A1", "M1")
	bids := []types.PriceLevel{lvl("0.4", "10")}
	hash := canonicalHash(bids, nil)

	if err := b.ReplaceWithSnapshot(bids, nil, hash); err != nil {
		t.Fatalf("ReplaceWithSnapshot: %v", err)
	}
	bid, ok := b.BestBid()
	if !ok || !bid.Price.Equal(decimal.RequireFromString("0.4")) {
		t.Fatalf("BestBid = %+v", bid)
	}
}

func TestApplyPriceChangeUpsertAndRemove(t *testing.T) {
	t.Parallel()
	b := New("A1", "M1")
	b.ReplaceWithSnapshotNoHash([]types.PriceLevel{lvl("0.4", "10")}, nil, "")

	b.ApplyPriceChangeNoHash([]types.PriceChange{
		{Side: types.Buy, Price: decimal.RequireFromString("0.41"), Size: decimal.RequireFromString("5")},
	}, "")
	bid, _ := b.BestBid()
	if !bid.Price.Equal(decimal.RequireFromString("0.41")) {
		t.Fatalf("expected new best bid 0.41, got %+v", bid)
	}

	b.ApplyPriceChangeNoHash([]types.PriceChange{
		{Side: types.Buy, Price: decimal.RequireFromString("0.41"), Size: decimal.Zero},
	}, "")
	bid, ok := b.BestBid()
	if !ok || !bid.Price.Equal(decimal.RequireFromString("0.4")) {
		t.Fatalf("expected removal to fall back to 0.4, got %+v ok=%v", bid, ok)
	}
}

func TestValidateAndCleanRemovesCrossedLevels(t *testing.T) {
	t.Parallel()
	b := New("A1", "M1")
	b.ReplaceWithSnapshotNoHash(
		[]types.PriceLevel{lvl("0.55", "10"), lvl("0.40", "5")},
		[]types.PriceLevel{lvl("0.50", "20")},
		"",
	)

	cleaned := b.ValidateAndClean()
	if !cleaned {
		t.Fatal("expected crossed book to be cleaned")
	}
	bid, ok := b.BestBid()
	if !ok || !bid.Price.Equal(decimal.RequireFromString("0.40")) {
		t.Fatalf("expected crossing bid removed, best bid now %+v ok=%v", bid, ok)
	}
}

func TestSummarySortOrder(t *testing.T) {
	t.Parallel()
	b := New("A1", "M1")
	b.ReplaceWithSnapshotNoHash(
		[]types.PriceLevel{lvl("0.40", "5"), lvl("0.49", "50"), lvl("0.45", "1")},
		[]types.PriceLevel{lvl("0.55", "1"), lvl("0.51", "30")},
		"",
	)

	snap := b.Summary()
	if len(snap.Bids) != 3 || !snap.Bids[0].Price.Equal(decimal.RequireFromString("0.49")) {
		t.Fatalf("bids not sorted descending: %+v", snap.Bids)
	}
	if len(snap.Asks) != 2 || !snap.Asks[0].Price.Equal(decimal.RequireFromString("0.51")) {
		t.Fatalf("asks not sorted ascending: %+v", snap.Asks)
	}
}

func TestCanonicalHashExcludesZeroSize(t *testing.T) {
	t.Parallel()
	withZero := canonicalHash([]types.PriceLevel{lvl("0.4", "10"), lvl("0.3", "0")}, nil)
	withoutZero := canonicalHash([]types.PriceLevel{lvl("0.4", "10")}, nil)
	if withZero != withoutZero {
		t.Fatal("canonical hash should ignore zero-size levels")
	}
}
