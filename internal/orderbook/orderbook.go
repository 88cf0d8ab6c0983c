package orderbook

import (
	"container/list"
	"sort"

	"github.com/nathanyu/p2p-exchange/internal/domain"
)

// orderEntry maps an order to its linked list element for O(1) cancel.
type orderEntry struct {
	order   *domain.Order
	element *list.Element
	level   *bookLevel
}

// bookLevel is a price level in one side of the book.
// It holds a doubly-linked list of orders at this price (FIFO).
type bookLevel struct {
	Price       int64
	TotalVolume int64
	Orders      *list.List // of *domain.Order
}

// Book represents one side (buy or sell) of an order book.
type Book struct {
	Side      domain.Side
	LimitMap  map[int64]*bookLevel // price -> level
	bestPrice int64                // best bid (highest buy) or best ask (lowest sell)
	hasOrders bool
}

// NewBook creates a new order book side.
func NewBook(side domain.Side) *Book {
	return &Book{
		Side:     side,
		LimitMap: make(map[int64]*bookLevel),
	}
}

// BestPrice returns the best price on this side, or 0 if empty.
func (b *Book) BestPrice() int64 {
	if !b.hasOrders {
		return 0
	}
	return b.bestPrice
}

// HasOrders returns whether this side has any resting orders.
func (b *Book) HasOrders() bool {
	return b.hasOrders
}

// addOrder appends an order to the tail of the price level's linked list.
func (b *Book) addOrder(order *domain.Order) *list.Element {
	level, exists := b.LimitMap[order.Price]
	if !exists {
		level = &bookLevel{
			Price:  order.Price,
			Orders: list.New(),
		}
		b.LimitMap[order.Price] = level
	}

	level.TotalVolume += order.RemainingAmount
	elem := level.Orders.PushBack(order)

	b.refreshBestPrice()
	return elem
}

// removeOrder removes an order from its price level.
func (b *Book) removeOrder(entry *orderEntry) {
	level := entry.level
	level.Orders.Remove(entry.element)
	level.TotalVolume -= entry.order.RemainingAmount

	if level.Orders.Len() == 0 {
		delete(b.LimitMap, level.Price)
	}

	b.refreshBestPrice()
}

// refreshBestPrice recalculates the best price.
func (b *Book) refreshBestPrice() {
	if len(b.LimitMap) == 0 {
		b.hasOrders = false
		b.bestPrice = 0
		return
	}

	b.hasOrders = true
	if b.Side == domain.SideBuy {
		best := int64(0)
		for price := range b.LimitMap {
			if price > best {
				best = price
			}
		}
		b.bestPrice = best
	} else {
		best := int64(1<<62 - 1)
		for price := range b.LimitMap {
			if price < best {
				best = price
			}
		}
		b.bestPrice = best
	}
}

// Fill records one maker order consumed (fully or partially) by an incoming
// taker. Amount is the matched amount at the instant of matching.
type Fill struct {
	Maker  *domain.Order
	Amount int64
}

// OrderBook holds the full two-sided book for a single instrument.
// All access is serialized by the matching engine's per-instrument lock.
type OrderBook struct {
	Symbol    string
	TickSize  int64
	BuyBook   *Book
	SellBook  *Book
	OrderMap  map[string]*orderEntry // orderID -> entry for O(1) lookup/cancel
	lastPrice int64
}

// NewOrderBook creates a new order book for an instrument. tickSize is the
// minimum price increment; trade prices are rounded to a multiple of it.
func NewOrderBook(symbol string, tickSize int64) *OrderBook {
	if tickSize <= 0 {
		tickSize = 1
	}
	return &OrderBook{
		Symbol:   symbol,
		TickSize: tickSize,
		BuyBook:  NewBook(domain.SideBuy),
		SellBook: NewBook(domain.SideSell),
		OrderMap: make(map[string]*orderEntry),
	}
}

// AddOrder adds a resting order to the appropriate side of the book.
func (ob *OrderBook) AddOrder(order *domain.Order) {
	book := ob.sideBook(order.Side)
	elem := book.addOrder(order)
	level := book.LimitMap[order.Price]
	ob.OrderMap[order.OrderID] = &orderEntry{
		order:   order,
		element: elem,
		level:   level,
	}
}

// Resting returns the resting order with the given ID, or nil.
func (ob *OrderBook) Resting(orderID string) *domain.Order {
	entry, exists := ob.OrderMap[orderID]
	if !exists {
		return nil
	}
	return entry.order
}

// RemoveOrder removes an order from the book by ID and returns it; nil when
// not resting. The caller decides the resulting order status (cancelled or
// expired).
func (ob *OrderBook) RemoveOrder(orderID string) *domain.Order {
	entry, exists := ob.OrderMap[orderID]
	if !exists {
		return nil
	}

	ob.sideBook(entry.order.Side).removeOrder(entry)
	delete(ob.OrderMap, orderID)
	return entry.order
}

// Reduce decrements a resting order's remaining amount after an explicit
// match, keeping the level volume consistent and dropping the order once
// fully filled.
func (ob *OrderBook) Reduce(orderID string, amount int64) {
	entry, exists := ob.OrderMap[orderID]
	if !exists {
		return
	}

	entry.level.TotalVolume -= amount
	if entry.order.RemainingAmount == 0 {
		entry.level.Orders.Remove(entry.element)
		if entry.level.Orders.Len() == 0 {
			book := ob.sideBook(entry.order.Side)
			delete(book.LimitMap, entry.level.Price)
			book.refreshBestPrice()
		}
		delete(ob.OrderMap, orderID)
	}
}

// MatchIncoming matches an incoming taker against the opposite side in
// price-time priority and returns the fills. Order quantities and statuses
// are updated in place; trade construction is the engine's concern.
func (ob *OrderBook) MatchIncoming(taker *domain.Order) []Fill {
	var oppositeBook *Book
	if taker.Side == domain.SideBuy {
		oppositeBook = ob.SellBook
	} else {
		oppositeBook = ob.BuyBook
	}

	var fills []Fill

	for taker.RemainingAmount > 0 && oppositeBook.HasOrders() {
		bestPrice := oppositeBook.BestPrice()

		// Check price match
		if taker.Side == domain.SideBuy && taker.Price < bestPrice {
			break // buy price too low
		}
		if taker.Side == domain.SideSell && taker.Price > bestPrice {
			break // sell price too high
		}

		level := oppositeBook.LimitMap[bestPrice]

		// FIFO: consume from head of the linked list at this price level
		for taker.RemainingAmount > 0 && level.Orders.Len() > 0 {
			front := level.Orders.Front()
			maker := front.Value.(*domain.Order)

			matchAmount := min(taker.RemainingAmount, maker.RemainingAmount)

			taker.FilledAmount += matchAmount
			taker.RemainingAmount -= matchAmount
			maker.FilledAmount += matchAmount
			maker.RemainingAmount -= matchAmount

			level.TotalVolume -= matchAmount

			if maker.RemainingAmount == 0 {
				maker.Status = domain.OrderStatusFilled
				level.Orders.Remove(front)
				delete(ob.OrderMap, maker.OrderID)
			} else {
				maker.Status = domain.OrderStatusPartial
			}

			if taker.RemainingAmount == 0 {
				taker.Status = domain.OrderStatusFilled
			} else {
				taker.Status = domain.OrderStatusPartial
			}

			fills = append(fills, Fill{Maker: maker, Amount: matchAmount})
		}

		// Clean up empty price level
		if level.Orders.Len() == 0 {
			delete(oppositeBook.LimitMap, bestPrice)
			oppositeBook.refreshBestPrice()
		}
	}

	return fills
}

// MidPrice returns the midpoint of two limit prices rounded down to the
// book's tick size.
func (ob *OrderBook) MidPrice(buyPrice, sellPrice int64) int64 {
	mid := (buyPrice + sellPrice) / 2
	return mid - mid%ob.TickSize
}

// SetLastPrice records the most recent trade price.
func (ob *OrderBook) SetLastPrice(price int64) {
	ob.lastPrice = price
}

// LastPrice returns the most recent trade price, 0 if no trades yet.
func (ob *OrderBook) LastPrice() int64 {
	return ob.lastPrice
}

// Snapshot returns an aggregated view of the book: levels with total amount,
// order count and value, plus spread and last trade price.
func (ob *OrderBook) Snapshot(depth int) *domain.OrderBookSnapshot {
	snapshot := &domain.OrderBookSnapshot{
		Symbol:    ob.Symbol,
		Bids:      aggregateLevels(ob.BuyBook, depth, true),
		Asks:      aggregateLevels(ob.SellBook, depth, false),
		LastPrice: ob.lastPrice,
	}
	if ob.BuyBook.HasOrders() && ob.SellBook.HasOrders() {
		snapshot.Spread = ob.SellBook.BestPrice() - ob.BuyBook.BestPrice()
	}
	return snapshot
}

func (ob *OrderBook) sideBook(side domain.Side) *Book {
	if side == domain.SideBuy {
		return ob.BuyBook
	}
	return ob.SellBook
}

// aggregateLevels collects price levels sorted by price.
// For bids: descending (highest first). For asks: ascending (lowest first).
func aggregateLevels(book *Book, depth int, descending bool) []domain.PriceLevel {
	prices := make([]int64, 0, len(book.LimitMap))
	for price := range book.LimitMap {
		prices = append(prices, price)
	}

	if descending {
		sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
	} else {
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	}

	if depth > 0 && len(prices) > depth {
		prices = prices[:depth]
	}

	levels := make([]domain.PriceLevel, len(prices))
	for i, price := range prices {
		level := book.LimitMap[price]
		levels[i] = domain.PriceLevel{
			Price:      price,
			Amount:     level.TotalVolume,
			OrderCount: level.Orders.Len(),
			Value:      level.TotalVolume * price,
		}
	}
	return levels
}
