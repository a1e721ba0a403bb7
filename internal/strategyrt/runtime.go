// Package strategyrt is the strategy runtime: a Strategy contract and a
// dispatch loop that multiplexes the streamer's event channel against a
// periodic order tick and heartbeat tick, with bounded-timeout shutdown
// and channel-lag drop+log instead of ever blocking the streamer.
package strategyrt

import (
	"context"
	"log/slog"
	"time"

	"github.com/links234/streamcore/internal/config"
	"github.com/links234/streamcore/internal/orderclient"
	"github.com/links234/streamcore/internal/wsclient"
	"github.com/links234/streamcore/pkg/types"
)

// Strategy is the contract the runtime drives. Implementations should
// treat every method as called from a single goroutine per strategy
// instance — the runtime never calls two of these concurrently for the
// same Strategy.
type Strategy interface {
	Name() string
	TokenID() string
	SetOrderClient(client *orderclient.Client)
	OrderbookUpdate(ctx context.Context, evt types.StreamEvent)
	TradeEvent(ctx context.Context, evt types.StreamEvent)
	// OrderUpdate is called whenever one of this strategy's own pending
	// orders reaches a terminal state (Filled or Cancelled), never for
	// in-flight transitions. Implementations use it to stop tracking
	// the resolved order so it is never cancelled twice.
	OrderUpdate(ctx context.Context, order types.PendingOrder)
	ProcessPendingOrders(ctx context.Context)
	Shutdown(ctx context.Context)
}

// Runtime drives one Strategy's event loop: the streamer's broadcast
// events filtered to this strategy's asset, a 1s order tick, and a
// heartbeat tick, until its context is canceled.
type Runtime struct {
	strategy Strategy
	events   *wsclient.Stream[types.StreamEvent]
	client   *orderclient.Client

	orderTickInterval time.Duration
	heartbeatInterval time.Duration
	shutdownTimeout   time.Duration

	logger *slog.Logger
}

// NewRuntime builds a Runtime for strategy, consuming events and
// routing order placement through client.
func NewRuntime(strategy Strategy, events *wsclient.Stream[types.StreamEvent], client *orderclient.Client, cfg config.StrategyConfig, logger *slog.Logger) *Runtime {
	strategy.SetOrderClient(client)
	orderTick := cfg.OrderTickInterval
	if orderTick <= 0 {
		orderTick = time.Second
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	return &Runtime{
		strategy:          strategy,
		events:            events,
		client:            client,
		orderTickInterval: orderTick,
		heartbeatInterval: heartbeat,
		shutdownTimeout:   shutdownTimeout,
		logger:            logger,
	}
}

// Run drives the dispatch loop until ctx is canceled, then calls
// Shutdown with a bounded timeout and returns. A lagged event channel
// is logged and dropped, never blocked on; one strategy's panic-free
// slow path never stalls the streamer it reads from.
func (r *Runtime) Run(ctx context.Context) {
	orderTicker := time.NewTicker(r.orderTickInterval)
	defer orderTicker.Stop()
	heartbeatTicker := time.NewTicker(r.heartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return

		case err, ok := <-r.events.Err:
			if !ok {
				continue
			}
			r.logger.Warn("strategy event stream lagged", "strategy", r.strategy.Name(), "error", err)

		case evt, ok := <-r.events.C:
			if !ok {
				r.shutdown()
				return
			}
			if evt.AssetID != "" && evt.AssetID != r.strategy.TokenID() {
				continue
			}
			r.dispatch(ctx, evt)

		case <-orderTicker.C:
			r.strategy.ProcessPendingOrders(ctx)

		case <-heartbeatTicker.C:
			r.logger.Debug("strategy heartbeat", "strategy", r.strategy.Name())
		}
	}
}

func (r *Runtime) dispatch(ctx context.Context, evt types.StreamEvent) {
	switch evt.Kind {
	case types.EventMyTrade:
		r.strategy.TradeEvent(ctx, evt)
		if evt.MyTrade != nil {
			if resolved, ok := r.client.RecordFill(evt.MyTrade.OrderID, evt.MyTrade.Size); ok {
				r.strategy.OrderUpdate(ctx, resolved)
			}
		}
	case types.EventMyOrder:
		if evt.MyOrder != nil {
			if resolved, ok := r.client.RecordOrderEvent(*evt.MyOrder); ok {
				r.strategy.OrderUpdate(ctx, resolved)
			}
		}
	case types.EventTrade:
		r.strategy.TradeEvent(ctx, evt)
	default:
		r.strategy.OrderbookUpdate(ctx, evt)
	}
}

func (r *Runtime) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
	defer cancel()
	r.strategy.Shutdown(shutdownCtx)
	r.events.Close()
}
