package strategyrt

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/links234/streamcore/internal/config"
	"github.com/links234/streamcore/internal/orderclient"
	"github.com/links234/streamcore/pkg/types"
)

func testCfg() config.StrategyConfig {
	return config.StrategyConfig{
		MinSpread:         0.01,
		MaxSpread:         0.10,
		VolumeWindow:      time.Minute,
		MaxActiveOrders:   3,
		BaseDiscount:      0.01,
		DiscountIncrement: 0.005,
		OrderTickInterval: time.Second,
		HeartbeatInterval: 30 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}

func TestSimpleStrategyNameAndTokenID(t *testing.T) {
	t.Parallel()
	s := NewSimpleStrategy("maker-1", "asset-A", testCfg(), slog.Default())
	if s.Name() != "maker-1" || s.TokenID() != "asset-A" {
		t.Fatalf("unexpected identity: %s %s", s.Name(), s.TokenID())
	}
}

func TestProcessPendingOrdersNoOpWithoutBook(t *testing.T) {
	t.Parallel()
	s := NewSimpleStrategy("m", "A1", testCfg(), slog.Default())
	client := orderclient.New(nil, func(ctx context.Context, method, path string, body []byte) (map[string]string, error) {
		t.Fatal("should not place an order with no book")
		return nil, nil
	}, testRatePolicy, testRatePolicy)
	s.SetOrderClient(client)
	s.ProcessPendingOrders(context.Background())
}

func TestProcessPendingOrdersSkipsWhenSpreadOutOfBand(t *testing.T) {
	t.Parallel()
	s := NewSimpleStrategy("m", "A1", testCfg(), slog.Default())
	placed := false
	client := orderclient.New(nil, func(ctx context.Context, method, path string, body []byte) (map[string]string, error) {
		placed = true
		return map[string]string{}, nil
	}, testRatePolicy, testRatePolicy)
	s.SetOrderClient(client)

	s.OrderbookUpdate(context.Background(), types.StreamEvent{
		Kind: types.EventBook,
		Book: &types.OrderBookSnapshot{
			Bids: []types.PriceLevel{{Price: decimal.RequireFromString("0.50"), Size: decimal.RequireFromString("10")}},
			Asks: []types.PriceLevel{{Price: decimal.RequireFromString("0.90"), Size: decimal.RequireFromString("10")}},
		},
	})
	s.ProcessPendingOrders(context.Background())
	if placed {
		t.Fatal("expected no quote placement when spread exceeds MaxSpread")
	}
}

func TestTradeEventAccumulatesAndEvictsWindowVolume(t *testing.T) {
	t.Parallel()
	cfg := testCfg()
	cfg.VolumeWindow = 50 * time.Millisecond
	s := NewSimpleStrategy("m", "A1", cfg, slog.Default())

	s.TradeEvent(context.Background(), types.StreamEvent{
		Kind:  types.EventTrade,
		Trade: &types.Trade{Size: decimal.RequireFromString("100"), Timestamp: time.Now()},
	})
	s.mu.Lock()
	vol := s.windowVolumeLocked()
	s.mu.Unlock()
	if !vol.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("volume = %s, want 100", vol)
	}

	time.Sleep(80 * time.Millisecond)
	s.mu.Lock()
	s.evictStaleLocked()
	vol = s.windowVolumeLocked()
	s.mu.Unlock()
	if !vol.IsZero() {
		t.Fatalf("expected stale fill evicted, volume = %s", vol)
	}
}

func TestQuoteSizeFloorsAtOne(t *testing.T) {
	t.Parallel()
	if got := quoteSize(decimal.Zero); !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("quoteSize(0) = %s, want 1", got)
	}
	if got := quoteSize(decimal.RequireFromString("100")); !got.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("quoteSize(100) = %s, want 10", got)
	}
}
