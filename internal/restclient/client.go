// Package restclient is the shared REST transport used by the
// initial-state synchronizer and the order client: a resty.Client with
// a fixed base URL, timeout and retry policy, plus the raw GET/POST/
// DELETE calls those two layers build on.
package restclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/links234/streamcore/pkg/types"
)

// Client wraps the REST endpoints the streaming core consumes:
// GET /book and the order endpoints used by the order client.
type Client struct {
	http *resty.Client
}

// New builds a Client against baseURL with the given request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	h := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= 500)
		})
	return &Client{http: h}
}

type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wireOrderBook struct {
	AssetID string      `json:"asset_id"`
	Market  string      `json:"market"`
	Hash    string      `json:"hash"`
	Bids    []wireLevel `json:"bids"`
	Asks    []wireLevel `json:"asks"`
}

// NotFoundError marks "no orderbook exists for this asset" — the
// synchronizer treats this as success-with-empty, not a failure.
type NotFoundError struct {
	AssetID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no orderbook exists for asset %s", e.AssetID)
}

// ClientError wraps a non-retryable 4xx (other than 429) response.
type ClientError struct {
	AssetID    string
	StatusCode int
	Body       string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("asset %s: client error %d: %s", e.AssetID, e.StatusCode, e.Body)
}

// RateLimitedError wraps a 429 response.
type RateLimitedError struct {
	AssetID string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("asset %s: rate limited (429)", e.AssetID)
}

// GetOrderBook fetches one asset's current book over REST, used both by
// the initial-state synchronizer and by the order book manager's
// hash-mismatch self-heal.
func (c *Client) GetOrderBook(ctx context.Context, assetID string) (types.OrderBookSnapshot, error) {
	var body wireOrderBook
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", assetID).
		SetResult(&body).
		Get("/book")
	if err != nil {
		return types.OrderBookSnapshot{}, fmt.Errorf("get order book: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound || strings.Contains(strings.ToLower(resp.String()), "no orderbook"):
		return types.OrderBookSnapshot{AssetID: assetID}, &NotFoundError{AssetID: assetID}
	case resp.StatusCode() == http.StatusOK:
	case resp.StatusCode() == http.StatusTooManyRequests:
		return types.OrderBookSnapshot{}, &RateLimitedError{AssetID: assetID}
	case resp.StatusCode() >= 400 && resp.StatusCode() < 500:
		return types.OrderBookSnapshot{}, &ClientError{AssetID: assetID, StatusCode: resp.StatusCode(), Body: resp.String()}
	default:
		return types.OrderBookSnapshot{}, fmt.Errorf("get order book: unexpected status %d", resp.StatusCode())
	}

	bids, err := parseLevels(body.Bids)
	if err != nil {
		return types.OrderBookSnapshot{}, fmt.Errorf("parse bids: %w", err)
	}
	asks, err := parseLevels(body.Asks)
	if err != nil {
		return types.OrderBookSnapshot{}, fmt.Errorf("parse asks: %w", err)
	}

	return types.OrderBookSnapshot{
		AssetID: assetID,
		Market:  body.Market,
		Bids:    bids,
		Asks:    asks,
		Hash:    body.Hash,
		AsOf:    time.Now(),
	}, nil
}

func parseLevels(levels []wireLevel) ([]types.PriceLevel, error) {
	out := make([]types.PriceLevel, 0, len(levels))
	for _, l := range levels {
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			return nil, err
		}
		size, err := decimal.NewFromString(l.Size)
		if err != nil {
			return nil, err
		}
		if size.IsZero() {
			continue
		}
		out = append(out, types.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

// PlaceOrderRequest is the signed payload the order client submits.
type PlaceOrderRequest struct {
	Headers map[string]string
	Body    interface{}
}

// PostOrder submits a signed order and parses the exchange's response.
func (c *Client) PostOrder(ctx context.Context, req PlaceOrderRequest) (orderID string, status string, err error) {
	var result struct {
		OrderID string `json:"orderID"`
		Status  string `json:"status"`
		Error   string `json:"error"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(req.Headers).
		SetBody(req.Body).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return "", "", fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", "", &ClientError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	if result.Error != "" {
		return "", "", fmt.Errorf("order rejected: %s", result.Error)
	}
	return result.OrderID, result.Status, nil
}

// CancelOrder cancels one order by id.
func (c *Client) CancelOrder(ctx context.Context, headers map[string]string, orderID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		Delete("/order/" + orderID)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return &ClientError{AssetID: orderID, StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}
