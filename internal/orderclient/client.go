// Package orderclient places and cancels orders and tracks running
// statistics, given only an externally supplied signing function —
// credential storage and the signing algorithm itself are out of scope
// for this core; callers provide a Signer that knows how to produce
// auth headers for a request.
package orderclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/links234/streamcore/internal/ratelimit"
	"github.com/links234/streamcore/internal/restclient"
	"github.com/links234/streamcore/pkg/types"
)

// Signer produces the auth headers for one REST request. Client depends
// only on this contract; NewHMACSigner and NewEIP712Signer in this
// package are two example implementations, and callers may supply any
// other.
type Signer func(ctx context.Context, method, path string, body []byte) (map[string]string, error)

// PlaceParams describes an order to submit.
type PlaceParams struct {
	ClientID string
	AssetID  string
	Side     types.Side
	Price    decimal.Decimal
	Size     decimal.Decimal
}

type orderBody struct {
	ClientID string `json:"client_id"`
	AssetID  string `json:"asset_id"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Size     string `json:"size"`
}

// trackedOrder is a resting PendingOrder this client is still watching
// for a terminal MyOrder/MyTrade transition, keyed by ExchangeID.
type trackedOrder struct {
	order  types.PendingOrder
	filled decimal.Decimal
}

// Client places/cancels orders over REST and tracks OrderStatistics.
type Client struct {
	rest     *restclient.Client
	signer   Signer
	orderRL  *ratelimit.TokenBucket
	cancelRL *ratelimit.TokenBucket

	mu      sync.Mutex
	stats   types.OrderStatistics
	pending map[string]*trackedOrder
}

// New creates a Client. signer must not be nil. orderRate and
// cancelRate set each rate limiter's capacity/refill-rate-per-second;
// callers size these to the exchange's own published order/cancel
// rate-limit categories rather than this package hardcoding them.
func New(rest *restclient.Client, signer Signer, orderRate, cancelRate ratelimit.Policy) *Client {
	return &Client{
		rest:     rest,
		signer:   signer,
		orderRL:  ratelimit.New(orderRate.Capacity, orderRate.RatePerSecond),
		cancelRL: ratelimit.New(cancelRate.Capacity, cancelRate.RatePerSecond),
		stats:    types.OrderStatistics{TradedVolume: decimal.Zero},
		pending:  make(map[string]*trackedOrder),
	}
}

// Place submits an order and returns a PendingOrder reflecting the
// exchange's immediate response (accepted/rejected); fills arrive later
// as MyTrade stream events, not from this call.
func (c *Client) Place(ctx context.Context, p PlaceParams) (types.PendingOrder, error) {
	if err := c.orderRL.Wait(ctx); err != nil {
		return types.PendingOrder{}, fmt.Errorf("rate limit wait: %w", err)
	}

	pending := types.PendingOrder{
		ClientID:    p.ClientID,
		AssetID:     p.AssetID,
		Side:        p.Side,
		Price:       p.Price,
		Size:        p.Size,
		SubmittedAt: time.Now(),
		Resolution:  types.ResolutionPending,
	}

	body := orderBody{ClientID: p.ClientID, AssetID: p.AssetID, Side: string(p.Side), Price: p.Price.String(), Size: p.Size.String()}
	raw, err := json.Marshal(body)
	if err != nil {
		return pending, fmt.Errorf("marshal order: %w", err)
	}

	headers, err := c.signer(ctx, "POST", "/order", raw)
	if err != nil {
		c.recordFailure()
		pending.Resolution = types.ResolutionRejected
		return pending, fmt.Errorf("sign order: %w", err)
	}

	orderID, status, err := c.rest.PostOrder(ctx, restclient.PlaceOrderRequest{Headers: headers, Body: body})
	c.recordPlacement()
	if err != nil {
		c.recordFailure()
		pending.Resolution = types.ResolutionRejected
		return pending, err
	}

	pending.ExchangeID = orderID
	if status == "" || status == "live" || status == "matched" {
		pending.Resolution = types.ResolutionAccepted
		c.recordSuccess()
		c.mu.Lock()
		c.pending[orderID] = &trackedOrder{order: pending, filled: decimal.Zero}
		c.mu.Unlock()
	} else {
		pending.Resolution = types.ResolutionRejected
		c.recordFailure()
	}
	return pending, nil
}

// Cancel cancels a previously placed order by its exchange id.
func (c *Client) Cancel(ctx context.Context, exchangeOrderID string) error {
	if err := c.cancelRL.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	headers, err := c.signer(ctx, "DELETE", "/order/"+exchangeOrderID, nil)
	if err != nil {
		return fmt.Errorf("sign cancel: %w", err)
	}
	return c.rest.CancelOrder(ctx, headers, exchangeOrderID)
}

// Statistics returns a copy of the running order tally.
func (c *Client) Statistics() types.OrderStatistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// RecordFill adds a fill's size to TradedVolume and, if orderID
// corresponds to an order this client is still tracking, advances its
// cumulative filled size. Once that reaches the order's original size
// the order is resolved Filled, removed from tracking, and reported
// back to the caller so it can be dropped from the strategy's active
// list; ok is false for every fill that doesn't complete an order.
func (c *Client) RecordFill(orderID string, size decimal.Decimal) (types.PendingOrder, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TradedVolume = c.stats.TradedVolume.Add(size)

	tracked, ok := c.pending[orderID]
	if !ok {
		return types.PendingOrder{}, false
	}
	tracked.filled = tracked.filled.Add(size)
	if tracked.filled.LessThan(tracked.order.Size) {
		return types.PendingOrder{}, false
	}
	delete(c.pending, orderID)
	tracked.order.Resolution = types.ResolutionFilled
	c.stats.Successful++
	return tracked.order, true
}

// RecordOrderEvent folds a streamed MyOrder transition into the running
// order tally. Only a CANCELLATION is terminal in this wire shape (a
// fill is observed as a MyTrade, handled by RecordFill instead); every
// other status is an in-flight update the order client has nothing to
// do with. A given OrderID is resolved at most once — a duplicate
// CANCELLATION for an already-resolved or untracked order is a no-op.
func (c *Client) RecordOrderEvent(evt types.MyOrder) (types.PendingOrder, bool) {
	if evt.Status != "CANCELLATION" {
		return types.PendingOrder{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tracked, ok := c.pending[evt.OrderID]
	if !ok {
		return types.PendingOrder{}, false
	}
	delete(c.pending, evt.OrderID)
	tracked.order.Resolution = types.ResolutionCancelled
	c.stats.Failed++
	return tracked.order, true
}

func (c *Client) recordPlacement() {
	c.mu.Lock()
	c.stats.Placed++
	c.mu.Unlock()
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	c.stats.Successful++
	c.mu.Unlock()
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.stats.Failed++
	c.mu.Unlock()
}
