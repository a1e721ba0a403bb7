// streamcore is a client-side streaming core for a binary-outcome
// prediction market exchange.
//
// Architecture:
//
//	main.go                       — entry point: loads config, starts the streamer and a strategy runtime, waits for SIGINT/SIGTERM
//	internal/wsclient/conn.go     — WebSocket transport: dial, heartbeat, reconnect with backoff
//	internal/wsclient/broadcaster.go — fan-out of decoded events to independent subscribers
//	internal/decoder/decoder.go  — wire frame decoding into the typed event union
//	internal/orderbook/book.go   — per-asset price ladder, hash verification, crossed-book self-healing
//	internal/orderbook/manager.go — per-asset book map and hash-mismatch self-heal orchestration
//	internal/restsync/sync.go    — bounded-concurrency initial order book pre-fetch
//	internal/restclient/client.go — REST transport for book fetch/order placement/cancel
//	internal/ratelimit/tokenbucket.go — shared token-bucket rate limiting
//	internal/orderclient/client.go — order placement/cancel given an external Signer
//	internal/streamer/streamer.go — facade tying transport+decoder+book+sync together
//	internal/strategyrt/runtime.go — strategy dispatch loop (events + order tick + heartbeat)
//
// How it works:
//
//	The streamer connects to the market (and optionally user) WebSocket
//	feeds, decodes frames into a typed event union, applies them to a
//	per-asset order book, and broadcasts the result. A strategy runtime
//	drives one or more Strategy instances from that event stream plus a
//	periodic order tick, submitting orders through an order client whose
//	request signing is supplied by the caller.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/links234/streamcore/internal/config"
	"github.com/links234/streamcore/internal/orderclient"
	"github.com/links234/streamcore/internal/restclient"
	"github.com/links234/streamcore/internal/streamer"
	"github.com/links234/streamcore/internal/strategyrt"
	"github.com/links234/streamcore/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("STREAM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	assets := os.Getenv("STREAM_MARKET_ASSETS")
	if assets == "" {
		logger.Error("no market assets configured, set STREAM_MARKET_ASSETS")
		os.Exit(1)
	}
	assetIDs := splitNonEmpty(assets)

	sub := types.Subscription{MarketAssets: assetIDs}
	if cfg.Host.ApiKey != "" {
		sub.UserAuth = &types.UserAuth{
			ApiKey:     cfg.Host.ApiKey,
			Secret:     cfg.Host.Secret,
			Passphrase: cfg.Host.Passphrase,
		}
		sub.UserMarkets = assetIDs
	}

	s := streamer.New(*cfg, logger)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx, sub); err != nil {
		logger.Error("failed to start streamer", "error", err)
		cancel()
		os.Exit(1)
	}

	rest := restclient.New(cfg.Host.RESTBaseURL, cfg.Transport.RequestTimeout)
	var signer orderclient.Signer
	if cfg.Host.Secret != "" {
		signer = orderclient.NewHMACSigner(orderclient.HMACCredentials{
			ApiKey:     cfg.Host.ApiKey,
			Secret:     cfg.Host.Secret,
			Passphrase: cfg.Host.Passphrase,
		})
	}
	client := orderclient.New(rest, signer, cfg.RateLimit.Order, cfg.RateLimit.Cancel)

	var runtimeCancels []context.CancelFunc
	for _, assetID := range assetIDs {
		strat := strategyrt.NewSimpleStrategy(fmt.Sprintf("simple-%s", assetID), assetID, cfg.Strategy, logger)
		rt := strategyrt.NewRuntime(strat, s.Events(), client, cfg.Strategy, logger)
		rtCtx, rtCancel := context.WithCancel(ctx)
		runtimeCancels = append(runtimeCancels, rtCancel)
		go rt.Run(rtCtx)
	}

	logger.Info("streamcore started", "assets", assetIDs, "user_feed", sub.UserAuth != nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	for _, rtCancel := range runtimeCancels {
		rtCancel()
	}
	s.Stop()
	cancel()
}

func splitNonEmpty(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
