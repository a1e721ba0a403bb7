// Package restsync is the initial-state synchronizer: it pre-fetches
// order books for a set of assets over REST before the WebSocket feed
// takes over, under a bounded-concurrency, spaced-out rate policy so it
// never looks like a burst to the upstream API.
package restsync

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/links234/streamcore/internal/orderbook"
	"github.com/links234/streamcore/internal/restclient"
)

// Config tunes the synchronizer's rate policy.
type Config struct {
	Concurrency       int
	RequestSpacing    time.Duration
	BurstSpacingEvery int
	BurstSpacing      time.Duration
	MaxRetries        int
}

// Outcome is the result of a SeedAll run.
type Outcome struct {
	SuccessCount int
	FailureCount int
}

// Synchronizer seeds a Manager's books from REST before streaming
// begins.
type Synchronizer struct {
	rest   *restclient.Client
	books  *orderbook.Manager
	cfg    Config
	logger *slog.Logger
}

// New creates a Synchronizer.
func New(rest *restclient.Client, books *orderbook.Manager, cfg Config, logger *slog.Logger) *Synchronizer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Synchronizer{rest: rest, books: books, cfg: cfg, logger: logger}
}

// SeedAll fetches and applies an initial order book snapshot for every
// asset in assetIDs. "No orderbook exists" for an asset is a normal,
// expected outcome and is counted as success-with-empty, not a failure.
// Fetches run under a bounded concurrency semaphore; requests are
// launched one at a time, each after the first waiting RequestSpacing
// after the previous launch, and every BurstSpacingEvery-th request
// additionally waiting BurstSpacing, so the synchronizer never
// presents as a burst to the upstream API regardless of how many
// workers are concurrently active.
func (s *Synchronizer) SeedAll(ctx context.Context, assetIDs []string) Outcome {
	sem := semaphore.NewWeighted(int64(s.cfg.Concurrency))
	var outcome Outcome
	var mu sync.Mutex
	var index int

	done := make(chan struct{})
	remaining := len(assetIDs)
	if remaining == 0 {
		return outcome
	}

	for i, assetID := range assetIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			outcome.FailureCount += remaining - i
			mu.Unlock()
			break
		}
		s.paceRequest(ctx, i)

		go func(assetID string) {
			defer sem.Release(1)

			ok := s.seedOne(ctx, assetID)

			mu.Lock()
			if ok {
				outcome.SuccessCount++
			} else {
				outcome.FailureCount++
			}
			index++
			if index%5000 == 0 {
				s.logger.Info("initial sync progress", "completed", index, "total", len(assetIDs))
			}
			remaining--
			if remaining == 0 {
				close(done)
			}
			mu.Unlock()
		}(assetID)
	}

	select {
	case <-done:
	case <-ctx.Done():
	}

	total := outcome.SuccessCount + outcome.FailureCount
	rate := 0.0
	if total > 0 {
		rate = 100 * float64(outcome.SuccessCount) / float64(total)
	}
	s.logger.Info("initial sync complete", "success", outcome.SuccessCount, "failure", outcome.FailureCount, "success_rate_pct", rate)
	return outcome
}

func (s *Synchronizer) paceRequest(ctx context.Context, idx int) {
	if idx == 0 {
		return
	}
	if s.cfg.BurstSpacingEvery > 0 && idx%s.cfg.BurstSpacingEvery == 0 {
		sleep(ctx, s.cfg.BurstSpacing)
	}
	sleep(ctx, s.cfg.RequestSpacing)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (s *Synchronizer) seedOne(ctx context.Context, assetID string) bool {
	delay := 500 * time.Millisecond
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		snap, err := s.rest.GetOrderBook(ctx, assetID)
		if err == nil {
			s.books.ApplySnapshot(ctx, snap)
			return true
		}

		switch {
		case isNotFound(err):
			// "No orderbook exists" is a normal outcome; treat as
			// success-with-empty rather than a fetch failure.
			s.books.ApplySnapshot(ctx, snap)
			return true
		case isRateLimited(err):
			delay *= 2
			s.logger.Debug("rate limited during initial sync, backing off", "asset_id", assetID, "delay", delay)
			sleep(ctx, delay)
			continue
		case isClientError(err):
			s.logger.Warn("initial sync client error, skipping asset", "asset_id", assetID, "error", err)
			return false
		default:
			if attempt == s.cfg.MaxRetries {
				s.logger.Error("initial sync failed after retries", "asset_id", assetID, "error", err)
				return false
			}
			sleep(ctx, delay)
			if delay < 30*time.Second {
				delay *= 2
			}
		}
	}
	return false
}

func isNotFound(err error) bool {
	var nf *restclient.NotFoundError
	return as(err, &nf) || strings.Contains(strings.ToLower(err.Error()), "no orderbook")
}

func isRateLimited(err error) bool {
	var rl *restclient.RateLimitedError
	return as(err, &rl)
}

func isClientError(err error) bool {
	var ce *restclient.ClientError
	return as(err, &ce)
}

func as(err error, target interface{}) bool {
	switch t := target.(type) {
	case **restclient.NotFoundError:
		v, ok := err.(*restclient.NotFoundError)
		if ok {
			*t = v
		}
		return ok
	case **restclient.RateLimitedError:
		v, ok := err.(*restclient.RateLimitedError)
		if ok {
			*t = v
		}
		return ok
	case **restclient.ClientError:
		v, ok := err.(*restclient.ClientError)
		if ok {
			*t = v
		}
		return ok
	}
	return false
}
