package strategyrt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/links234/streamcore/internal/config"
	"github.com/links234/streamcore/internal/orderclient"
	"github.com/links234/streamcore/pkg/types"
)

// fill is one trade observed on the subscribed asset, kept only long
// enough to compute a rolling volume window.
type fill struct {
	at   time.Time
	size decimal.Decimal
}

// SimpleStrategy is the normative example strategy: it quotes a ladder
// of bids below the best bid, starting at baseDiscount and widening by
// discountIncrement per additional level, capped at maxActiveOrders
// resting orders, and only quotes at all when the current spread falls
// within [minSpread, maxSpread]. It is deliberately unopinionated about
// everything else a real strategy would want (inventory, toxicity,
// PnL) — those are a market maker's concern, not this runtime's.
type SimpleStrategy struct {
	name    string
	tokenID string
	cfg     config.StrategyConfig
	logger  *slog.Logger

	client *orderclient.Client

	mu      sync.Mutex
	best    types.OrderBookSnapshot
	haveBid bool
	fills   []fill
	active  []types.PendingOrder
}

// NewSimpleStrategy builds a SimpleStrategy quoting the given asset.
func NewSimpleStrategy(name, tokenID string, cfg config.StrategyConfig, logger *slog.Logger) *SimpleStrategy {
	return &SimpleStrategy{
		name:    name,
		tokenID: tokenID,
		cfg:     cfg,
		logger:  logger.With("strategy", name, "asset", tokenID),
	}
}

func (s *SimpleStrategy) Name() string    { return s.name }
func (s *SimpleStrategy) TokenID() string { return s.tokenID }

func (s *SimpleStrategy) SetOrderClient(client *orderclient.Client) {
	s.client = client
}

// OrderbookUpdate records the latest book view for this asset. Quote
// placement itself happens on the order tick, not here, so a burst of
// book updates never triggers a burst of order placements.
func (s *SimpleStrategy) OrderbookUpdate(ctx context.Context, evt types.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch evt.Kind {
	case types.EventBook:
		if evt.Book != nil {
			s.best = *evt.Book
			s.haveBid = len(evt.Book.Bids) > 0 && len(evt.Book.Asks) > 0
		}
	case types.EventPriceChange:
		if evt.PriceChangeSet != nil && evt.PriceChangeSet.BestBid != nil && evt.PriceChangeSet.BestAsk != nil {
			s.best.Bids = []types.PriceLevel{{Price: *evt.PriceChangeSet.BestBid}}
			s.best.Asks = []types.PriceLevel{{Price: *evt.PriceChangeSet.BestAsk}}
			s.haveBid = true
		}
	}
}

// OrderUpdate drops a resting order from the active ladder once it has
// reached a terminal state, so ProcessPendingOrders and Shutdown never
// try to cancel an order that is already Filled or Cancelled.
func (s *SimpleStrategy) OrderUpdate(ctx context.Context, order types.PendingOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.active[:0]
	for _, a := range s.active {
		if a.ExchangeID == order.ExchangeID {
			s.logger.Debug("order resolved", "order_id", order.ExchangeID, "resolution", order.Resolution)
			continue
		}
		kept = append(kept, a)
	}
	s.active = kept
}

// TradeEvent folds a trade into the rolling volume window used to size
// quotes, then evicts entries that fell out of the window.
func (s *SimpleStrategy) TradeEvent(ctx context.Context, evt types.StreamEvent) {
	if evt.Trade == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fills = append(s.fills, fill{at: evt.Trade.Timestamp, size: evt.Trade.Size})
	s.evictStaleLocked()
}

func (s *SimpleStrategy) evictStaleLocked() {
	if len(s.fills) == 0 {
		return
	}
	cutoff := time.Now().Add(-s.cfg.VolumeWindow)
	kept := s.fills[:0]
	for _, f := range s.fills {
		if f.at.After(cutoff) {
			kept = append(kept, f)
		}
	}
	s.fills = kept
}

func (s *SimpleStrategy) windowVolumeLocked() decimal.Decimal {
	total := decimal.Zero
	for _, f := range s.fills {
		total = total.Add(f.size)
	}
	return total
}

// ProcessPendingOrders re-quotes the ladder: it cancels whatever this
// strategy has resting, then places up to MaxActiveOrders new bids
// starting at BaseDiscount below the best bid and widening by
// DiscountIncrement per level, provided the current spread is within
// [MinSpread, MaxSpread].
func (s *SimpleStrategy) ProcessPendingOrders(ctx context.Context) {
	s.mu.Lock()
	if !s.haveBid || s.client == nil || len(s.best.Bids) == 0 || len(s.best.Asks) == 0 {
		s.mu.Unlock()
		return
	}
	bestBid := s.best.Bids[0].Price
	bestAsk := s.best.Asks[0].Price
	volume := s.windowVolumeLocked()
	active := s.active
	s.active = nil
	s.mu.Unlock()

	for _, order := range active {
		if order.ExchangeID == "" {
			continue
		}
		if err := s.client.Cancel(ctx, order.ExchangeID); err != nil {
			s.logger.Warn("cancel resting order failed", "order_id", order.ExchangeID, "error", err)
		}
	}

	spread := bestAsk.Sub(bestBid)
	minSpread := decimal.NewFromFloat(s.cfg.MinSpread)
	maxSpread := decimal.NewFromFloat(s.cfg.MaxSpread)
	if spread.LessThan(minSpread) || spread.GreaterThan(maxSpread) {
		s.logger.Debug("spread out of band, not quoting", "spread", spread.String())
		return
	}

	size := quoteSize(volume)
	var placed []types.PendingOrder
	discount := decimal.NewFromFloat(s.cfg.BaseDiscount)
	increment := decimal.NewFromFloat(s.cfg.DiscountIncrement)
	for level := 0; level < s.cfg.MaxActiveOrders; level++ {
		price := bestBid.Mul(decimal.NewFromInt(1).Sub(discount))
		if price.LessThanOrEqual(decimal.Zero) {
			break
		}
		pending, err := s.client.Place(ctx, orderclient.PlaceParams{
			ClientID: fmt.Sprintf("%s-%d-%d", s.tokenID, time.Now().UnixNano(), level),
			AssetID:  s.tokenID,
			Side:     types.Buy,
			Price:    price,
			Size:     size,
		})
		if err != nil {
			s.logger.Warn("place quote failed", "level", level, "error", err)
			continue
		}
		placed = append(placed, pending)
		discount = discount.Add(increment)
	}

	s.mu.Lock()
	s.active = placed
	s.mu.Unlock()
}

// quoteSize derives an order size from the recent trading volume: a
// tenth of the window's volume, floored at 1 so a quiet market still
// quotes a nominal size.
func quoteSize(windowVolume decimal.Decimal) decimal.Decimal {
	size := windowVolume.Div(decimal.NewFromInt(10))
	if size.LessThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return size
}

// Shutdown cancels every order this strategy has resting, best-effort
// within ctx's deadline.
func (s *SimpleStrategy) Shutdown(ctx context.Context) {
	s.mu.Lock()
	active := s.active
	s.active = nil
	s.mu.Unlock()

	for _, order := range active {
		if order.ExchangeID == "" {
			continue
		}
		if err := s.client.Cancel(ctx, order.ExchangeID); err != nil {
			s.logger.Warn("shutdown cancel failed", "order_id", order.ExchangeID, "error", err)
		}
	}
}
