// Package decoder turns raw WebSocket frame bytes from the market and
// user channels into typed types.StreamEvent values. Decoding never
// panics and never stops the stream: a malformed frame becomes a
// DecodeError, an unrecognized but well-formed frame becomes an
// UnknownVariant, and both are logged with a first-five-detailed-then-
// coalesced cadence instead of flooding the log on a bad feed.
package decoder

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/links234/streamcore/pkg/types"
)

// DecodeError wraps a frame that failed to parse as any known shape.
type DecodeError struct {
	EventType string
	Raw       []byte
	Cause     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q frame: %v", e.EventType, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// UnknownVariant is a well-formed frame whose event_type the decoder
// does not recognize. It is not an error; the decoder simply counts it.
type UnknownVariant struct {
	EventType string
}

func (e *UnknownVariant) Error() string {
	return fmt.Sprintf("unknown event_type %q", e.EventType)
}

// envelope peeks the discriminator field common to every frame kind.
type envelope struct {
	EventType string `json:"event_type"`
}

type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wireBookEvent struct {
	EventType string      `json:"event_type"`
	AssetID   string      `json:"asset_id"`
	Market    string      `json:"market"`
	Hash      string      `json:"hash"`
	Buys      []wireLevel `json:"buys"`
	Sells     []wireLevel `json:"sells"`
}

type wirePriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

type wirePriceChangeEvent struct {
	EventType    string            `json:"event_type"`
	Market       string            `json:"market"`
	Hash         string            `json:"hash"`
	PriceChanges []wirePriceChange `json:"price_changes"`
}

type wireTradeEvent struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	TradeID   string `json:"trade_id"`
}

type wireLastTradePrice struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
}

type wireTickSizeChange struct {
	EventType   string `json:"event_type"`
	AssetID     string `json:"asset_id"`
	NewTickSize string `json:"new_tick_size"`
}

type wireOrderEvent struct {
	EventType string `json:"event_type"`
	OrderID   string `json:"id"`
	AssetID   string `json:"asset_id"`
	Status    string `json:"type"` // PLACEMENT, UPDATE, CANCELLATION
	Price     string `json:"price"`
	Size      string `json:"original_size"`
	Side      string `json:"side"`
}

type wireUserTradeEvent struct {
	EventType string `json:"event_type"`
	OrderID   string `json:"maker_order_id"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	TradeID   string `json:"trade_id"`
}

// Decoder decodes frames for one channel (market or user) and keeps a
// running count of parse failures so it can log the first few in full
// detail and coalesce the rest. One Decoder should not be shared between
// the market and user channels — each gets its own counters.
type Decoder struct {
	logger      *slog.Logger
	errCount    atomic.Uint64
	unknownMu   sync.Mutex
	unknownKind map[string]*atomic.Uint64
}

// New creates a Decoder that logs through logger.
func New(logger *slog.Logger) *Decoder {
	return &Decoder{logger: logger, unknownKind: make(map[string]*atomic.Uint64)}
}

// Decode parses one raw frame into a StreamEvent. A nil event with a
// nil error means the frame was a recognized-but-uninteresting control
// frame (e.g. a bare "PONG" text payload) and should simply be dropped.
func (d *Decoder) Decode(raw []byte) (*types.StreamEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Not even JSON — could be a bare heartbeat string; not an error.
		return nil, nil
	}

	now := time.Now()
	switch env.EventType {
	case "book":
		return d.decodeBook(raw, now)
	case "price_change":
		return d.decodePriceChange(raw, now)
	case "trade":
		return d.decodeTrade(raw, now)
	case "last_trade_price":
		return d.decodeLastTradePrice(raw, now)
	case "tick_size_change":
		return d.decodeTickSizeChange(raw, now)
	case "order":
		return d.decodeOrder(raw, now)
	case "user_trade":
		return d.decodeUserTrade(raw, now)
	case "":
		return nil, nil
	default:
		d.countUnknown(env.EventType)
		return nil, nil
	}
}

func (d *Decoder) decodeBook(raw []byte, now time.Time) (*types.StreamEvent, error) {
	var w wireBookEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, d.fail("book", raw, err)
	}
	bids, err := parseLevels(w.Buys)
	if err != nil {
		return nil, d.fail("book", raw, err)
	}
	asks, err := parseLevels(w.Sells)
	if err != nil {
		return nil, d.fail("book", raw, err)
	}
	snap := &types.OrderBookSnapshot{
		AssetID: w.AssetID,
		Market:  w.Market,
		Bids:    bids,
		Asks:    asks,
		Hash:    w.Hash,
		AsOf:    now,
	}
	return &types.StreamEvent{Kind: types.EventBook, AssetID: w.AssetID, Timestamp: now, Book: snap}, nil
}

func (d *Decoder) decodePriceChange(raw []byte, now time.Time) (*types.StreamEvent, error) {
	var w wirePriceChangeEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, d.fail("price_change", raw, err)
	}
	if len(w.PriceChanges) == 0 {
		return nil, nil
	}
	assetID := w.PriceChanges[0].AssetID
	changes := make([]types.PriceChange, 0, len(w.PriceChanges))
	var bestBid, bestAsk *decimal.Decimal
	for _, pc := range w.PriceChanges {
		price, err := decimal.NewFromString(pc.Price)
		if err != nil {
			return nil, d.fail("price_change", raw, err)
		}
		size, err := decimal.NewFromString(pc.Size)
		if err != nil {
			return nil, d.fail("price_change", raw, err)
		}
		side := types.Side(pc.Side)
		if !side.Valid() {
			return nil, d.fail("price_change", raw, fmt.Errorf("invalid side %q", pc.Side))
		}
		changes = append(changes, types.PriceChange{Side: side, Price: price, Size: size})
		if pc.BestBid != "" {
			if v, err := decimal.NewFromString(pc.BestBid); err == nil {
				bestBid = &v
			}
		}
		if pc.BestAsk != "" {
			if v, err := decimal.NewFromString(pc.BestAsk); err == nil {
				bestAsk = &v
			}
		}
	}
	set := &types.PriceChangeSet{AssetID: assetID, Hash: w.Hash, Changes: changes, BestBid: bestBid, BestAsk: bestAsk}
	return &types.StreamEvent{Kind: types.EventPriceChange, AssetID: assetID, Timestamp: now, PriceChangeSet: set}, nil
}

func (d *Decoder) decodeTrade(raw []byte, now time.Time) (*types.StreamEvent, error) {
	var w wireTradeEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, d.fail("trade", raw, err)
	}
	price, err := decimal.NewFromString(w.Price)
	if err != nil {
		return nil, d.fail("trade", raw, err)
	}
	size, err := decimal.NewFromString(w.Size)
	if err != nil {
		return nil, d.fail("trade", raw, err)
	}
	t := &types.Trade{AssetID: w.AssetID, Price: price, Size: size, Side: types.Side(w.Side), TradeID: w.TradeID, Timestamp: now}
	return &types.StreamEvent{Kind: types.EventTrade, AssetID: w.AssetID, Timestamp: now, Trade: t}, nil
}

func (d *Decoder) decodeLastTradePrice(raw []byte, now time.Time) (*types.StreamEvent, error) {
	var w wireLastTradePrice
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, d.fail("last_trade_price", raw, err)
	}
	price, err := decimal.NewFromString(w.Price)
	if err != nil {
		return nil, d.fail("last_trade_price", raw, err)
	}
	return &types.StreamEvent{Kind: types.EventLastTradePrice, AssetID: w.AssetID, Timestamp: now, LastTradePrice: &price}, nil
}

func (d *Decoder) decodeTickSizeChange(raw []byte, now time.Time) (*types.StreamEvent, error) {
	var w wireTickSizeChange
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, d.fail("tick_size_change", raw, err)
	}
	tick, err := decimal.NewFromString(w.NewTickSize)
	if err != nil {
		return nil, d.fail("tick_size_change", raw, err)
	}
	return &types.StreamEvent{Kind: types.EventTickSizeChange, AssetID: w.AssetID, Timestamp: now, TickSize: &tick}, nil
}

func (d *Decoder) decodeOrder(raw []byte, now time.Time) (*types.StreamEvent, error) {
	var w wireOrderEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, d.fail("order", raw, err)
	}
	price, err := decimal.NewFromString(w.Price)
	if err != nil {
		return nil, d.fail("order", raw, err)
	}
	size, err := decimal.NewFromString(w.Size)
	if err != nil {
		return nil, d.fail("order", raw, err)
	}
	o := &types.MyOrder{
		OrderID: w.OrderID, AssetID: w.AssetID, Status: w.Status,
		Price: price, Size: size, Side: types.Side(w.Side), Timestamp: now,
	}
	return &types.StreamEvent{Kind: types.EventMyOrder, AssetID: w.AssetID, Timestamp: now, MyOrder: o}, nil
}

func (d *Decoder) decodeUserTrade(raw []byte, now time.Time) (*types.StreamEvent, error) {
	var w wireUserTradeEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, d.fail("user_trade", raw, err)
	}
	price, err := decimal.NewFromString(w.Price)
	if err != nil {
		return nil, d.fail("user_trade", raw, err)
	}
	size, err := decimal.NewFromString(w.Size)
	if err != nil {
		return nil, d.fail("user_trade", raw, err)
	}
	t := &types.MyTrade{
		OrderID: w.OrderID, AssetID: w.AssetID, Price: price, Size: size,
		Side: types.Side(w.Side), TradeID: w.TradeID, Timestamp: now,
	}
	return &types.StreamEvent{Kind: types.EventMyTrade, AssetID: w.AssetID, Timestamp: now, MyTrade: t}, nil
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

// fail records a decode failure and returns it as a *DecodeError,
// applying the first-five-detailed / suppress-at-ten / every-hundredth-
// thereafter log cadence.
func (d *Decoder) fail(eventType string, raw []byte, cause error) error {
	n := d.errCount.Add(1)
	de := &DecodeError{EventType: eventType, Raw: raw, Cause: cause}
	switch {
	case n <= 5:
		d.logger.Error("decode failed", "event_type", eventType, "error", cause, "count", n)
	case n == 10:
		d.logger.Warn("suppressing further decode error details after 10 errors", "event_type", eventType)
	case n%100 == 0:
		d.logger.Warn("decode errors continuing", "event_type", eventType, "total", n)
	}
	return de
}

func (d *Decoder) countUnknown(eventType string) {
	d.unknownMu.Lock()
	counter, ok := d.unknownKind[eventType]
	if !ok {
		counter = &atomic.Uint64{}
		d.unknownKind[eventType] = counter
	}
	d.unknownMu.Unlock()
	n := counter.Add(1)
	switch {
	case n <= 5:
		d.logger.Debug("unknown event_type", "event_type", eventType, "count", n)
	case n == 10:
		d.logger.Warn("suppressing further unknown-variant logs after 10", "event_type", eventType)
	case n%100 == 0:
		d.logger.Warn("unknown-variant frames continuing", "event_type", eventType, "total", n)
	}
}
