// Package streamer is the top-level facade that ties the transport,
// decoder, order book engine and initial-state synchronizer together:
// Start connects and seeds books, Events hands out independent
// subscriber handles, and Stop tears everything down leaving no
// surviving background work.
package streamer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/links234/streamcore/internal/config"
	"github.com/links234/streamcore/internal/decoder"
	"github.com/links234/streamcore/internal/orderbook"
	"github.com/links234/streamcore/internal/restclient"
	"github.com/links234/streamcore/internal/restsync"
	"github.com/links234/streamcore/internal/wsclient"
	"github.com/links234/streamcore/pkg/types"
)

// Streamer is one running instance of the streaming core: a market feed
// connection, optionally a user feed connection, a per-asset order book
// manager they both feed into, and a broadcaster every Events() caller
// gets an independent subscription to.
type Streamer struct {
	cfg    config.Config
	logger *slog.Logger

	rest  *restclient.Client
	books *orderbook.Manager

	marketDecoder *decoder.Decoder
	userDecoder   *decoder.Decoder

	marketConn *wsclient.Conn
	userConn   *wsclient.Conn

	broadcaster *wsclient.Broadcaster[types.StreamEvent]

	lastTradeMu sync.RWMutex
	lastTrade   map[string]decimal.Decimal

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New creates a Streamer. Call Start to connect.
func New(cfg config.Config, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		cfg:       cfg,
		logger:    logger,
		lastTrade: make(map[string]decimal.Decimal),
	}
}

// Start connects to host, subscribes per sub, seeds initial book state
// over REST, and begins dispatching events. It is failure-fast for the
// market feed's first connection attempt: if that dial never succeeds,
// Start returns an error wrapping the *wsclient.ConnectError (reachable
// with errors.As) instead of starting the rest
// of the pipeline against a feed that was never there. Once connected,
// ongoing drops are handled by Conn's own internal reconnect loop and
// never resurface as an error here.
func (s *Streamer) Start(ctx context.Context, sub types.Subscription) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.rest = restclient.New(s.cfg.Host.RESTBaseURL, s.cfg.Transport.RequestTimeout)
	s.books = orderbook.NewManager(s.rest, s.cfg.Book.SkipHashVerification, s.cfg.Book.QuietHashMismatch, s.cfg.Book.AutoSyncOnHashMismatch, s.logger)
	s.broadcaster = wsclient.NewBroadcaster[types.StreamEvent](s.cfg.Transport.EventBufferSize)
	s.marketDecoder = decoder.New(s.logger)

	s.marketConn = wsclient.NewConn(s.cfg.Host.WSMarketURL, wsclient.ChannelMarket, nil, s.cfg.Transport, s.logger)
	if err := s.marketConn.Subscribe(runCtx, sub.MarketAssets, nil); err != nil {
		s.logger.Warn("market subscribe failed (will resend on connect)", "error", err)
	}
	if err := s.marketConn.Start(runCtx); err != nil {
		s.started = false
		cancel()
		return fmt.Errorf("start market feed: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatchLoop(runCtx, s.marketConn, s.marketDecoder)
	}()

	synchronizer := restsync.New(s.rest, s.books, restsync.Config{
		Concurrency:       s.cfg.Sync.Concurrency,
		RequestSpacing:    s.cfg.Sync.RequestSpacing,
		BurstSpacingEvery: s.cfg.Sync.BurstSpacingEvery,
		BurstSpacing:      s.cfg.Sync.BurstSpacing,
		MaxRetries:        s.cfg.Sync.MaxRetries,
	}, s.logger)
	synchronizer.SeedAll(runCtx, sub.MarketAssets)

	if sub.UserAuth != nil && s.cfg.Host.WSUserURL != "" {
		s.userDecoder = decoder.New(s.logger)
		s.userConn = wsclient.NewConn(s.cfg.Host.WSUserURL, wsclient.ChannelUser, sub.UserAuth, s.cfg.Transport, s.logger)
		if err := s.userConn.Subscribe(runCtx, nil, sub.UserMarkets); err != nil {
			s.logger.Warn("user subscribe failed (will resend on connect)", "error", err)
		}
		if err := s.userConn.Start(runCtx); err != nil {
			s.logger.Warn("user feed first connect failed, will keep retrying in background", "error", err)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.userConn.Run(runCtx)
			}()
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.dispatchLoop(runCtx, s.userConn, s.userDecoder)
		}()
	}

	return nil
}

// dispatchLoop decodes every frame, applies any book mutation the event
// implies, and only then broadcasts it — mutation always happens before
// broadcast so a subscriber never observes an event whose effect on the
// book it could also read isn't visible yet. One asset's decode or book
// failure is scoped to that asset/frame and never stops the loop.
func (s *Streamer) dispatchLoop(ctx context.Context, conn *wsclient.Conn, dec *decoder.Decoder) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-conn.Frames():
			if !ok {
				return
			}
			evt, err := dec.Decode(raw)
			if err != nil || evt == nil {
				continue
			}
			s.mutate(ctx, evt)
			s.broadcaster.Publish(*evt)
		}
	}
}

func (s *Streamer) mutate(ctx context.Context, evt *types.StreamEvent) {
	switch evt.Kind {
	case types.EventBook:
		s.books.ApplySnapshot(ctx, *evt.Book)
	case types.EventPriceChange:
		s.books.ApplyPriceChange(ctx, evt.PriceChangeSet)
	case types.EventTickSizeChange:
		s.books.Get(evt.AssetID).SetTickSize(*evt.TickSize)
	case types.EventLastTradePrice:
		s.lastTradeMu.Lock()
		s.lastTrade[evt.AssetID] = *evt.LastTradePrice
		s.lastTradeMu.Unlock()
	}
}

// Events returns a brand new, independent subscriber handle. Every call
// returns a fresh Stream; no two callers share a receiver, and a slow
// subscriber is reported a lag error rather than blocking the streamer.
func (s *Streamer) Events() *wsclient.Stream[types.StreamEvent] {
	return s.broadcaster.Subscribe()
}

// Books returns the current order book manager, letting callers read
// book state directly without holding a reference back into the
// streamer's internals.
func (s *Streamer) Books() *orderbook.Manager {
	return s.books
}

// LastTradePrice returns the most recent trade price seen for assetID,
// if any.
func (s *Streamer) LastTradePrice(assetID string) (decimal.Decimal, bool) {
	s.lastTradeMu.RLock()
	defer s.lastTradeMu.RUnlock()
	v, ok := s.lastTrade[assetID]
	return v, ok
}

// Stop cancels all background work and waits for it to finish, then
// closes every outstanding Events() subscription. It is safe to call
// Stop more than once.
func (s *Streamer) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.marketConn != nil {
		s.marketConn.Disconnect()
	}
	if s.userConn != nil {
		s.userConn.Disconnect()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.logger.Warn("streamer stop timed out waiting for background work")
	}

	if s.broadcaster != nil {
		s.broadcaster.Close()
	}
}
