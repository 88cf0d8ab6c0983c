package marketdata

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanyu/p2p-exchange/internal/domain"
)

func newTrade(id, symbol, buyID, sellID string, ts time.Time) *domain.Trade {
	return &domain.Trade{
		TradeID:     id,
		Symbol:      symbol,
		BuyOrderID:  buyID,
		SellOrderID: sellID,
		Amount:      100,
		Price:       855,
		Timestamp:   ts,
	}
}

func TestRingBuffer(t *testing.T) {
	rb := &RingBuffer{}
	assert.Nil(t, rb.GetRecent(5))

	now := time.Now()
	for i := 0; i < 3; i++ {
		rb.Push(newTrade(fmt.Sprintf("t%d", i), "USDT-TWD", "b", "s", now))
	}

	recent := rb.GetRecent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "t1", recent[0].TradeID)
	assert.Equal(t, "t2", recent[1].TradeID)

	// Asking for more than stored caps at the stored count.
	assert.Len(t, rb.GetRecent(10), 3)
}

func TestRingBuffer_Wraps(t *testing.T) {
	rb := &RingBuffer{}
	now := time.Now()

	for i := 0; i < ringBufferCapacity+10; i++ {
		rb.Push(newTrade(fmt.Sprintf("t%d", i), "USDT-TWD", "b", "s", now))
	}

	recent := rb.GetRecent(ringBufferCapacity)
	require.Len(t, recent, ringBufferCapacity)
	// The oldest surviving trade is the 10th.
	assert.Equal(t, "t10", recent[0].TradeID)
	assert.Equal(t, fmt.Sprintf("t%d", ringBufferCapacity+9), recent[len(recent)-1].TradeID)
}

func TestTape_RecordAndQuery(t *testing.T) {
	tape := NewTape(16)
	now := time.Now()

	tape.record(&domain.TradeEvent{Trades: []*domain.Trade{
		newTrade("t1", "USDT-TWD", "b1", "s1", now.Add(-2*time.Hour)),
		newTrade("t2", "USDT-TWD", "b2", "s1", now.Add(-time.Hour)),
	}})
	tape.record(&domain.TradeEvent{Trades: []*domain.Trade{
		newTrade("t3", "BTC-USD", "b3", "s3", now),
	}})

	t.Run("by trade id", func(t *testing.T) {
		trade := tape.GetTrade("t2")
		require.NotNil(t, trade)
		assert.Equal(t, "b2", trade.BuyOrderID)
		assert.Nil(t, tape.GetTrade("missing"))
	})

	t.Run("by symbol", func(t *testing.T) {
		trades := tape.GetTrades("USDT-TWD", "", time.Time{})
		assert.Len(t, trades, 2)
	})

	t.Run("by order id", func(t *testing.T) {
		trades := tape.GetTrades("", "s1", time.Time{})
		assert.Len(t, trades, 2)

		trades = tape.GetTrades("", "b3", time.Time{})
		require.Len(t, trades, 1)
		assert.Equal(t, "t3", trades[0].TradeID)
	})

	t.Run("since", func(t *testing.T) {
		trades := tape.GetTrades("", "", now.Add(-90*time.Minute))
		assert.Len(t, trades, 2)
	})

	t.Run("recent per symbol", func(t *testing.T) {
		recent := tape.GetRecent("USDT-TWD", 10)
		require.Len(t, recent, 2)
		assert.Equal(t, "t1", recent[0].TradeID)
		assert.Nil(t, tape.GetRecent("ETH-USD", 10))
	})
}

func TestTape_ChannelFeed(t *testing.T) {
	tape := NewTape(16)
	tape.Start()
	defer tape.Stop()

	tape.TradeIn <- &domain.TradeEvent{Trades: []*domain.Trade{
		newTrade("t1", "USDT-TWD", "b1", "s1", time.Now()),
	}}

	require.Eventually(t, func() bool {
		return tape.GetTrade("t1") != nil
	}, time.Second, 10*time.Millisecond)
}
