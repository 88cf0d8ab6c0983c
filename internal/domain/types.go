package domain

import "time"

// Side represents the order side (buy or sell).
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusExpired
}

// Order represents a limit order on a P2P trading venue.
// Prices are in ticks (int64 minor units) to avoid floating-point issues;
// amounts are in the instrument's base units.
type Order struct {
	OrderID         string      `json:"order_id"`
	TraderID        string      `json:"trader_id"`
	Symbol          string      `json:"symbol"`
	Side            Side        `json:"side"`
	Price           int64       `json:"price"`
	Amount          int64       `json:"amount"`
	FilledAmount    int64       `json:"filled_amount"`
	RemainingAmount int64       `json:"remaining_amount"`
	Status          OrderStatus `json:"status"`
	Network         string      `json:"network"`
	FeeRateBps      int64       `json:"fee_rate_bps"`
	ExpiresAt       time.Time   `json:"expires_at"`
	CreatedAt       time.Time   `json:"created_at"`
	SequenceID      uint64      `json:"sequence_id"`
}

// Trade represents a match between a buy and a sell order.
// Immutable once created. Price is the midpoint of the two limit prices,
// rounded down to the instrument's tick size. The order with the lower
// lexicographic ID is the maker, so fee assignment is reproducible.
type Trade struct {
	TradeID      string    `json:"trade_id"`
	Symbol       string    `json:"symbol"`
	BuyOrderID   string    `json:"buy_order_id"`
	SellOrderID  string    `json:"sell_order_id"`
	Amount       int64     `json:"amount"`
	Price        int64     `json:"price"`
	Fee          int64     `json:"fee"`
	MakerOrderID string    `json:"maker_order_id"`
	TakerOrderID string    `json:"taker_order_id"`
	Network      string    `json:"network"`
	Timestamp    time.Time `json:"timestamp"`
	SequenceID   uint64    `json:"sequence_id"`
}

// Value returns the notional value of the trade in minor units.
func (t *Trade) Value() int64 {
	return t.Amount * t.Price
}

// PriceLevel is an aggregated price level in the order book snapshot.
type PriceLevel struct {
	Price      int64 `json:"price"`
	Amount     int64 `json:"amount"`
	OrderCount int   `json:"order_count"`
	Value      int64 `json:"value"`
}

// OrderBookSnapshot is an aggregated view of one instrument's book.
// Spread is best ask minus best bid, 0 when either side is empty.
type OrderBookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Spread    int64        `json:"spread"`
	LastPrice int64        `json:"last_price"`
}

// OrderAction labels order operations for metrics.
type OrderAction string

const (
	OrderActionNew    OrderAction = "new"
	OrderActionCancel OrderAction = "cancel"
)

// TradeEvent carries executed trades plus the updated taker order downstream.
type TradeEvent struct {
	Trades     []*Trade
	TakerOrder *Order
}
