package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nathanyu/p2p-exchange/internal/domain"
	"github.com/nathanyu/p2p-exchange/internal/orderbook"
	"github.com/nathanyu/p2p-exchange/internal/sequencer"
	"github.com/nathanyu/p2p-exchange/internal/store"
	"github.com/nathanyu/p2p-exchange/internal/telemetry"
)

// instrument bundles one order book with the lock that serializes all
// matching on it. Instruments are independent: matching runs in parallel
// across symbols and strictly serialized within one.
type instrument struct {
	mu   sync.Mutex
	book *orderbook.OrderBook
}

// Config holds the engine's tunables.
type Config struct {
	// DefaultFeeRateBps applies to orders that carry no fee rate.
	DefaultFeeRateBps int64
	// TickSizes maps symbol -> minimum price increment. Symbols not listed
	// use a tick of 1.
	TickSizes map[string]int64
	// BufferSize sizes the TradeOut channel.
	BufferSize int
}

// Engine is the matching engine. It maintains per-instrument order books,
// matches incoming orders in price-time priority and emits Trade events.
type Engine struct {
	mu          sync.RWMutex
	instruments map[string]*instrument

	orders store.OrderStore
	seq    *sequencer.Sequencer
	cfg    Config
	log    *slog.Logger

	// TradeOut carries executed trades downstream (settlement, trade tape).
	TradeOut chan *domain.TradeEvent
}

// NewEngine creates a matching engine over the given order store.
func NewEngine(orders store.OrderStore, seq *sequencer.Sequencer, cfg Config) *Engine {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	return &Engine{
		instruments: make(map[string]*instrument),
		orders:      orders,
		seq:         seq,
		cfg:         cfg,
		log:         telemetry.Component("matching"),
		TradeOut:    make(chan *domain.TradeEvent, cfg.BufferSize),
	}
}

// getOrCreateInstrument returns the instrument for a symbol, creating it if
// needed.
func (e *Engine) getOrCreateInstrument(symbol string) *instrument {
	e.mu.RLock()
	inst, exists := e.instruments[symbol]
	e.mu.RUnlock()
	if exists {
		return inst
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if inst, exists = e.instruments[symbol]; exists {
		return inst
	}
	tick := e.cfg.TickSizes[symbol]
	inst = &instrument{book: orderbook.NewOrderBook(symbol, tick)}
	e.instruments[symbol] = inst
	return inst
}

// PlaceOrder validates and accepts a new order, attempts immediate matching
// against the opposite side, and rests any remainder in the book. Malformed
// orders are rejected synchronously and never partially applied.
func (e *Engine) PlaceOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	now := time.Now()
	if err := validateOrder(order, now); err != nil {
		return nil, err
	}

	if order.OrderID == "" {
		order.OrderID = uuid.New().String()
	}
	if order.FeeRateBps == 0 {
		order.FeeRateBps = e.cfg.DefaultFeeRateBps
	}
	order.FilledAmount = 0
	order.RemainingAmount = order.Amount
	order.Status = domain.OrderStatusOpen
	order.CreatedAt = now
	order.SequenceID = e.seq.NextInbound()

	inst := e.getOrCreateInstrument(order.Symbol)
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if err := e.orders.Save(ctx, order); err != nil {
		return nil, err
	}

	// A persist failure aborts the placement before any trade is emitted;
	// the store stays the source of truth and the book is rebuilt from it
	// on restart.
	fills := inst.book.MatchIncoming(order)
	trades := make([]*domain.Trade, 0, len(fills))
	for _, fill := range fills {
		trade := e.buildTrade(inst.book, order, fill.Maker, fill.Amount, now)
		trades = append(trades, trade)
		if err := e.orders.Update(ctx, fill.Maker); err != nil {
			return nil, fmt.Errorf("failed to persist maker fill %s: %w", fill.Maker.OrderID, err)
		}
	}

	if order.RemainingAmount > 0 {
		inst.book.AddOrder(order)
	}
	if err := e.orders.Update(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to persist order %s: %w", order.OrderID, err)
	}

	if len(trades) > 0 {
		e.emit(&domain.TradeEvent{Trades: trades, TakerOrder: order})
	}

	e.log.Info("order placed",
		"order_id", order.OrderID,
		"symbol", order.Symbol,
		"side", order.Side,
		"price", order.Price,
		"amount", order.Amount,
		"fills", len(trades),
	)
	return order, nil
}

// CancelOrder removes a resting order. Only the original trader may cancel;
// cancelling a terminal order is a no-op. When a match on the same
// instrument is in flight the call fails with Conflict and the caller
// retries after the match resolves.
func (e *Engine) CancelOrder(ctx context.Context, orderID, requester string) (*domain.Order, error) {
	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.TraderID != requester {
		return nil, fmt.Errorf("order %s belongs to another trader: %w", orderID, domain.ErrForbidden)
	}
	if order.Status.Terminal() {
		return order, nil
	}

	inst := e.getOrCreateInstrument(order.Symbol)
	if !inst.mu.TryLock() {
		return nil, fmt.Errorf("order %s: match in flight: %w", orderID, domain.ErrConflict)
	}
	defer inst.mu.Unlock()

	resting := inst.book.RemoveOrder(orderID)
	if resting == nil {
		// Re-read: the order may have gone terminal before we took the lock.
		if order, err = e.orders.Get(ctx, orderID); err != nil {
			return nil, err
		}
		if order.Status.Terminal() {
			return order, nil
		}
	} else {
		order = resting
	}

	order.Status = domain.OrderStatusCancelled
	if err := e.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	e.log.Info("order cancelled", "order_id", orderID, "trader_id", requester)
	return order, nil
}

// ExecuteMatch explicitly matches two named orders. Both must be open or
// partial, on the same instrument and on opposing sides. The matched amount
// is min of both remainders; the price is the tick-rounded midpoint of the
// two limit prices. All-or-nothing: a failed validation leaves both orders
// untouched.
func (e *Engine) ExecuteMatch(ctx context.Context, buyOrderID, sellOrderID string) (*domain.Trade, error) {
	buy, err := e.orders.Get(ctx, buyOrderID)
	if err != nil {
		return nil, err
	}
	sell, err := e.orders.Get(ctx, sellOrderID)
	if err != nil {
		return nil, err
	}

	if buy.Side != domain.SideBuy || sell.Side != domain.SideSell {
		return nil, fmt.Errorf("invalid order type for match: %w", domain.ErrInvalidState)
	}
	if buy.Symbol != sell.Symbol {
		return nil, fmt.Errorf("orders are on different instruments: %w", domain.ErrInvalidState)
	}

	inst := e.getOrCreateInstrument(buy.Symbol)
	inst.mu.Lock()
	defer inst.mu.Unlock()

	// Prefer the live book entries so fill state stays consistent.
	if resting := inst.book.Resting(buyOrderID); resting != nil {
		buy = resting
	}
	if resting := inst.book.Resting(sellOrderID); resting != nil {
		sell = resting
	}

	now := time.Now()
	for _, order := range []*domain.Order{buy, sell} {
		if order.Status.Terminal() {
			return nil, fmt.Errorf("order %s is %s: %w", order.OrderID, order.Status, domain.ErrInvalidState)
		}
		if !order.ExpiresAt.IsZero() && order.ExpiresAt.Before(now) {
			return nil, fmt.Errorf("order %s has expired: %w", order.OrderID, domain.ErrInvalidState)
		}
	}

	matchAmount := min(buy.RemainingAmount, sell.RemainingAmount)
	if matchAmount <= 0 {
		return nil, fmt.Errorf("no remaining amount to match: %w", domain.ErrInvalidState)
	}

	for _, order := range []*domain.Order{buy, sell} {
		order.FilledAmount += matchAmount
		order.RemainingAmount -= matchAmount
		if order.RemainingAmount == 0 {
			order.Status = domain.OrderStatusFilled
		} else {
			order.Status = domain.OrderStatusPartial
		}
	}
	inst.book.Reduce(buyOrderID, matchAmount)
	inst.book.Reduce(sellOrderID, matchAmount)

	trade := e.buildTrade(inst.book, buy, sell, matchAmount, now)
	if err := e.orders.Update(ctx, buy); err != nil {
		return nil, err
	}
	if err := e.orders.Update(ctx, sell); err != nil {
		return nil, err
	}

	e.emit(&domain.TradeEvent{Trades: []*domain.Trade{trade}})
	e.log.Info("explicit match executed",
		"trade_id", trade.TradeID,
		"buy_order_id", buyOrderID,
		"sell_order_id", sellOrderID,
		"amount", matchAmount,
		"price", trade.Price,
	)
	return trade, nil
}

// GetOrderBook returns an aggregated snapshot of one instrument's book.
func (e *Engine) GetOrderBook(symbol string, depth int) *domain.OrderBookSnapshot {
	e.mu.RLock()
	inst, exists := e.instruments[symbol]
	e.mu.RUnlock()
	if !exists {
		return &domain.OrderBookSnapshot{
			Symbol: symbol,
			Bids:   []domain.PriceLevel{},
			Asks:   []domain.PriceLevel{},
		}
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.book.Snapshot(depth)
}

// GetOrder returns an order by ID.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return e.orders.Get(ctx, orderID)
}

// ExpireSweep marks orders whose expiry has passed as expired and removes
// them from the book. Idempotent; matches already in flight complete because
// expiry is only checked here and at submit/match time.
func (e *Engine) ExpireSweep(ctx context.Context, now time.Time) int {
	orders, err := e.orders.List(ctx)
	if err != nil {
		e.log.Error("expire sweep failed to list orders", "error", err)
		return 0
	}

	expired := 0
	for _, order := range orders {
		if order.Status.Terminal() || order.ExpiresAt.IsZero() || !order.ExpiresAt.Before(now) {
			continue
		}

		inst := e.getOrCreateInstrument(order.Symbol)
		inst.mu.Lock()
		if resting := inst.book.RemoveOrder(order.OrderID); resting != nil {
			order = resting
		}
		order.Status = domain.OrderStatusExpired
		if err := e.orders.Update(ctx, order); err != nil {
			e.log.Error("failed to persist expiry", "order_id", order.OrderID, "error", err)
		} else {
			expired++
		}
		inst.mu.Unlock()
	}

	if expired > 0 {
		e.log.Info("expire sweep finished", "expired", expired)
	}
	return expired
}

// buildTrade assembles the immutable Trade record for one fill. The order
// with the lower lexicographic ID is the maker; the fee is the matched value
// times the taker's fee rate.
func (e *Engine) buildTrade(book *orderbook.OrderBook, a, b *domain.Order, amount int64, ts time.Time) *domain.Trade {
	buy, sell := a, b
	if buy.Side != domain.SideBuy {
		buy, sell = b, a
	}

	maker, taker := buy, sell
	if sell.OrderID < buy.OrderID {
		maker, taker = sell, buy
	}

	price := book.MidPrice(buy.Price, sell.Price)
	trade := &domain.Trade{
		TradeID:      uuid.New().String(),
		Symbol:       buy.Symbol,
		BuyOrderID:   buy.OrderID,
		SellOrderID:  sell.OrderID,
		Amount:       amount,
		Price:        price,
		Fee:          amount * price * taker.FeeRateBps / 10_000,
		MakerOrderID: maker.OrderID,
		TakerOrderID: taker.OrderID,
		Network:      buy.Network,
		Timestamp:    ts,
		SequenceID:   e.seq.NextOutbound(),
	}
	book.SetLastPrice(price)
	return trade
}

// emit sends a trade event downstream without blocking the matching path.
func (e *Engine) emit(event *domain.TradeEvent) {
	select {
	case e.TradeOut <- event:
	default:
		e.log.Warn("trade output channel full, dropping event")
	}
}

func validateOrder(order *domain.Order, now time.Time) error {
	if order == nil {
		return fmt.Errorf("order is nil: %w", domain.ErrValidation)
	}
	if order.Symbol == "" {
		return fmt.Errorf("symbol is required: %w", domain.ErrValidation)
	}
	if order.TraderID == "" {
		return fmt.Errorf("trader_id is required: %w", domain.ErrValidation)
	}
	if order.Side != domain.SideBuy && order.Side != domain.SideSell {
		return fmt.Errorf("side must be buy or sell: %w", domain.ErrValidation)
	}
	if order.Price <= 0 {
		return fmt.Errorf("price must be positive: %w", domain.ErrValidation)
	}
	if order.Amount <= 0 {
		return fmt.Errorf("amount must be positive: %w", domain.ErrValidation)
	}
	if !order.ExpiresAt.IsZero() && order.ExpiresAt.Before(now) {
		return fmt.Errorf("expiry is in the past: %w", domain.ErrValidation)
	}
	return nil
}
