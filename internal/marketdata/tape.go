package marketdata

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nathanyu/p2p-exchange/internal/domain"
	"github.com/nathanyu/p2p-exchange/internal/telemetry"
)

const ringBufferCapacity = 256

// RingBuffer is a fixed-size circular buffer of trades.
type RingBuffer struct {
	data  [ringBufferCapacity]*domain.Trade
	head  int // next write position
	count int
}

// Push adds a trade to the ring buffer.
func (rb *RingBuffer) Push(t *domain.Trade) {
	rb.data[rb.head] = t
	rb.head = (rb.head + 1) % ringBufferCapacity
	if rb.count < ringBufferCapacity {
		rb.count++
	}
}

// GetRecent returns the N most recent trades in chronological order.
func (rb *RingBuffer) GetRecent(n int) []*domain.Trade {
	if n <= 0 || rb.count == 0 {
		return nil
	}
	if n > rb.count {
		n = rb.count
	}

	result := make([]*domain.Trade, n)
	start := (rb.head - n + ringBufferCapacity) % ringBufferCapacity
	for i := 0; i < n; i++ {
		idx := (start + i) % ringBufferCapacity
		result[i] = rb.data[idx]
	}
	return result
}

// Tape receives trade events and maintains the trade history: a per-symbol
// ring of recent trades plus the full queryable log.
type Tape struct {
	mu sync.RWMutex

	// Per-symbol recent trades
	recent map[string]*RingBuffer

	// Full trade log (for querying)
	trades []*domain.Trade

	// Channel to receive trade events
	TradeIn chan *domain.TradeEvent

	log  *slog.Logger
	done chan struct{}
}

// NewTape creates a new trade tape.
func NewTape(bufferSize int) *Tape {
	return &Tape{
		recent:  make(map[string]*RingBuffer),
		TradeIn: make(chan *domain.TradeEvent, bufferSize),
		log:     telemetry.Component("marketdata"),
		done:    make(chan struct{}),
	}
}

// Start begins the tape's application loop.
func (t *Tape) Start() {
	go t.run()
}

// Stop shuts down the tape.
func (t *Tape) Stop() {
	close(t.done)
}

// run is the main application loop.
func (t *Tape) run() {
	t.log.Info("trade tape started")
	for {
		select {
		case event := <-t.TradeIn:
			t.record(event)
		case <-t.done:
			t.log.Info("trade tape stopped")
			return
		}
	}
}

// record appends the event's trades to the log and ring buffers.
func (t *Tape) record(event *domain.TradeEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, trade := range event.Trades {
		t.trades = append(t.trades, trade)

		rb, exists := t.recent[trade.Symbol]
		if !exists {
			rb = &RingBuffer{}
			t.recent[trade.Symbol] = rb
		}
		rb.Push(trade)
	}
}

// GetRecent returns the most recent trades for a symbol.
func (t *Tape) GetRecent(symbol string, count int) []*domain.Trade {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rb, exists := t.recent[symbol]
	if !exists {
		return nil
	}
	return rb.GetRecent(count)
}

// GetTrade returns a trade by ID, or nil.
func (t *Tape) GetTrade(tradeID string) *domain.Trade {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, trade := range t.trades {
		if trade.TradeID == tradeID {
			return trade
		}
	}
	return nil
}

// GetTrades returns trades matching the filter criteria.
func (t *Tape) GetTrades(symbol, orderID string, since time.Time) []*domain.Trade {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var result []*domain.Trade
	for _, trade := range t.trades {
		if symbol != "" && trade.Symbol != symbol {
			continue
		}
		if orderID != "" && trade.BuyOrderID != orderID && trade.SellOrderID != orderID {
			continue
		}
		if !since.IsZero() && trade.Timestamp.Before(since) {
			continue
		}
		result = append(result, trade)
	}
	return result
}
