// Package types holds the wire and domain types shared across the
// streaming core: prices and sizes are always shopspring/decimal values,
// never float64, so nothing in a consensus-sensitive path (book state,
// hashes, order sizing) can drift due to binary floating point.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is which side of the book an order or price level sits on.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// PriceLevel is one rung of a price ladder. Size is always positive;
// zero-size levels are removed, never represented.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

func (l PriceLevel) String() string {
	return fmt.Sprintf("%s@%s", l.Size.String(), l.Price.String())
}

// OrderBookSnapshot is a full two-sided view of one asset's book at an
// instant. Bids and asks are not required to be sorted by the producer;
// consumers that need sorted order call Summary() on the engine's book.
type OrderBookSnapshot struct {
	AssetID string
	Market  string
	Bids    []PriceLevel
	Asks    []PriceLevel
	Hash    string
	AsOf    time.Time
}

// EventKind tags the variant of a StreamEvent.
type EventKind string

const (
	EventBook           EventKind = "book"
	EventPriceChange    EventKind = "price_change"
	EventTrade          EventKind = "trade"
	EventLastTradePrice EventKind = "last_trade_price"
	EventTickSizeChange EventKind = "tick_size_change"
	EventMyOrder        EventKind = "my_order"
	EventMyTrade        EventKind = "my_trade"
)

// PriceChange is one incremental delta to a single price level: the new
// absolute size resting at Price, not a delta amount.
type PriceChange struct {
	Side  Side
	Price decimal.Decimal
	Size  decimal.Decimal
}

// PriceChangeSet carries a batch of price-level deltas for one asset
// plus the server's best-bid/best-ask hint, mirroring the wire format's
// batched price_change frames.
type PriceChangeSet struct {
	AssetID string
	Hash    string
	Changes []PriceChange
	BestBid *decimal.Decimal
	BestAsk *decimal.Decimal
}

// Trade is a public trade print on the market feed.
type Trade struct {
	AssetID   string
	Price     decimal.Decimal
	Size      decimal.Decimal
	Side      Side
	TradeID   string
	Timestamp time.Time
}

// MyOrder reports a status transition for one of the caller's own orders.
type MyOrder struct {
	OrderID   string
	AssetID   string
	Status    string // PLACEMENT, UPDATE, CANCELLATION per the external order-event wire format
	Price     decimal.Decimal
	Size      decimal.Decimal
	Side      Side
	Timestamp time.Time
}

// MyTrade reports a fill against one of the caller's own orders.
type MyTrade struct {
	OrderID   string
	AssetID   string
	Price     decimal.Decimal
	Size      decimal.Decimal
	Side      Side
	TradeID   string
	Timestamp time.Time
}

// StreamEvent is the closed tagged union the decoder produces and the
// streamer broadcasts. Exactly one of the typed fields is populated,
// selected by Kind.
type StreamEvent struct {
	Kind      EventKind
	AssetID   string
	Timestamp time.Time

	Book           *OrderBookSnapshot
	PriceChangeSet *PriceChangeSet
	Trade          *Trade
	LastTradePrice *decimal.Decimal
	TickSize       *decimal.Decimal
	MyOrder        *MyOrder
	MyTrade        *MyTrade
}

// Subscription describes what a streamer connection listens to.
// UserMarkets and MarketAssets are distinct identifier spaces and must
// never be merged or compared against one another.
type Subscription struct {
	MarketAssets []string
	UserMarkets  []string
	UserAuth     *UserAuth
}

// UserAuth is the credential triple sent in the user-feed subscribe
// frame. The core never generates or stores these; it only forwards
// whatever the caller supplies.
type UserAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// OrderResolution is the terminal or pending state of a PendingOrder.
type OrderResolution string

const (
	ResolutionPending    OrderResolution = "pending"
	ResolutionAccepted   OrderResolution = "accepted"
	ResolutionRejected   OrderResolution = "rejected"
	ResolutionSuperseded OrderResolution = "superseded"
	// ResolutionFilled and ResolutionCancelled are the terminal states a
	// PendingOrder reaches only once it has lived on the book: the
	// former once MyTrade fills cover its full size, the latter once a
	// CANCELLATION MyOrder event arrives for it.
	ResolutionFilled    OrderResolution = "filled"
	ResolutionCancelled OrderResolution = "cancelled"
)

// PendingOrder is a client-local record of an order the strategy runtime
// has submitted but not yet resolved.
type PendingOrder struct {
	ClientID    string
	AssetID     string
	Side        Side
	Price       decimal.Decimal
	Size        decimal.Decimal
	SubmittedAt time.Time
	Resolution  OrderResolution
	ExchangeID  string // set once accepted
}

// OrderStatistics is a running tally an order client exposes to callers.
type OrderStatistics struct {
	Placed       int64
	Successful   int64
	Failed       int64
	TradedVolume decimal.Decimal
}

// WSSubscribeMsg is the frame sent to open a market or user subscription.
type WSSubscribeMsg struct {
	Type     string    `json:"type"`
	AssetIDs []string  `json:"assets_ids,omitempty"`
	Markets  []string  `json:"markets,omitempty"`
	Auth     *UserAuth `json:"auth,omitempty"`
}

// WSUpdateMsg adjusts an existing subscription without a full resend.
type WSUpdateMsg struct {
	Operation string   `json:"operation"`
	AssetIDs  []string `json:"assets_ids,omitempty"`
	Markets   []string `json:"markets,omitempty"`
}
