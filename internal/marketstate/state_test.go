package marketstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/futbot/gofut/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func tick(price float64, at time.Time) domain.Tick {
	return domain.Tick{Exchange: "test", Symbol: "BTCUSDT", Price: price, Timestamp: at}
}

func candle(openTime time.Time, open, close float64, closed bool) domain.Candle {
	return domain.Candle{
		Exchange: "test", Symbol: "BTCUSDT", Interval: time.Minute,
		Open: open, High: max(open, close), Low: min(open, close), Close: close,
		IsClosed: closed, OpenTime: openTime,
	}
}

func TestApplyTickDropsStrictlyOlder(t *testing.T) {
	state := NewMarketState(20)

	require.True(t, state.ApplyTick(tick(100, t0.Add(2*time.Second))))
	assert.False(t, state.ApplyTick(tick(99, t0.Add(time.Second))), "older tick must be dropped")

	price, ok := state.Book("test", "BTCUSDT").LastPrice()
	require.True(t, ok)
	assert.Equal(t, 100.0, price, "out-of-order tick must not regress the price")
}

func TestApplyTickDropsExactDuplicate(t *testing.T) {
	state := NewMarketState(20)

	require.True(t, state.ApplyTick(tick(100, t0)))
	assert.False(t, state.ApplyTick(tick(100, t0)), "replayed tick must be idempotent")
	assert.True(t, state.ApplyTick(tick(101, t0)), "same timestamp with new price is a new tick")
}

func TestCandleMergeAndRollover(t *testing.T) {
	state := NewMarketState(20)
	book := state.Book("test", "BTCUSDT")

	// Open candle updates merge in place.
	state.ApplyCandle(candle(t0, 100, 101, false))
	state.ApplyCandle(candle(t0, 100, 103, false))
	open, ok := book.OpenCandle(time.Minute)
	require.True(t, ok)
	assert.Equal(t, 103.0, open.Close)
	assert.Empty(t, book.ClosedCandles(time.Minute, 10))

	// A newer open time freezes the previous candle.
	state.ApplyCandle(candle(t0.Add(time.Minute), 103, 104, false))
	closed := book.ClosedCandles(time.Minute, 10)
	require.Len(t, closed, 1)
	assert.Equal(t, 103.0, closed[0].Close)
	assert.True(t, closed[0].IsClosed)

	// Explicit close freezes without waiting for the next open.
	state.ApplyCandle(candle(t0.Add(time.Minute), 103, 105, true))
	closed = book.ClosedCandles(time.Minute, 10)
	require.Len(t, closed, 2)
	assert.Equal(t, 105.0, closed[1].Close)
	_, ok = book.OpenCandle(time.Minute)
	assert.False(t, ok)
}

func TestCandleHistoryBounded(t *testing.T) {
	state := NewMarketState(5)
	book := state.Book("test", "BTCUSDT")

	for i := 0; i < 12; i++ {
		state.ApplyCandle(candle(t0.Add(time.Duration(i)*time.Minute), float64(i), float64(i)+1, true))
	}

	closed := book.ClosedCandles(time.Minute, 100)
	require.Len(t, closed, 5, "history must stay at capacity")
	assert.Equal(t, 8.0, closed[0].Close, "oldest retained candle")
	assert.Equal(t, 12.0, closed[4].Close, "newest candle")
}

func TestClosesReturnsOldestFirst(t *testing.T) {
	state := NewMarketState(20)
	book := state.Book("test", "BTCUSDT")

	for i := 0; i < 4; i++ {
		state.ApplyCandle(candle(t0.Add(time.Duration(i)*time.Minute), 100, 100+float64(i), true))
	}

	assert.Equal(t, []float64{101, 102, 103}, book.Closes(time.Minute, 3))
	assert.Equal(t, []float64{100, 101, 102, 103}, book.Closes(time.Minute, 10),
		"short history returns what exists")
}

func TestOrderbookReplacedWholesale(t *testing.T) {
	state := NewMarketState(20)
	book := state.Book("test", "BTCUSDT")

	state.ApplyOrderbook(domain.OrderbookSnapshot{
		Exchange: "test", Symbol: "BTCUSDT",
		BestBid: 99, BestAsk: 100, BidVolume: 5, AskVolume: 1, Timestamp: t0.Add(time.Second),
	})
	state.ApplyOrderbook(domain.OrderbookSnapshot{
		Exchange: "test", Symbol: "BTCUSDT",
		BestBid: 98, BestAsk: 99, BidVolume: 2, AskVolume: 2, Timestamp: t0,
	})

	snap, ok := book.Orderbook()
	require.True(t, ok)
	assert.Equal(t, 99.0, snap.BestBid, "older snapshot must not overwrite newer")
}
