package conditions

import (
	"time"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/marketstate"
	"github.com/futbot/gofut/internal/timeutil"
)

// Shared test fixtures for the rule families.

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const (
	testExchange = "test"
	testSymbol   = "BTCUSDT"
	testInterval = time.Minute
)

var testIv = timeutil.D(testInterval)

// newBook returns an empty per-symbol book backed by fresh market state.
func newBook() *marketstate.Book {
	return marketstate.NewMarketState(32).Book(testExchange, testSymbol)
}

// seedCloses appends one closed candle per close price, one interval apart,
// with flat bodies unless open differs.
func seedCloses(book *marketstate.Book, closes ...float64) {
	for i, c := range closes {
		book.ApplyCandle(domain.Candle{
			Exchange: testExchange, Symbol: testSymbol, Interval: testInterval,
			Open: c, High: c, Low: c, Close: c,
			IsClosed: true, OpenTime: base.Add(time.Duration(i) * testInterval),
		})
	}
}

// seedCandle appends one closed candle with an explicit body.
func seedCandle(book *marketstate.Book, seq int, open, close float64) {
	high, low := open, close
	if close > open {
		high, low = close, open
	}
	book.ApplyCandle(domain.Candle{
		Exchange: testExchange, Symbol: testSymbol, Interval: testInterval,
		Open: open, High: high, Low: low, Close: close,
		IsClosed: true, OpenTime: base.Add(time.Duration(seq) * testInterval),
	})
}

// seedTick applies a live tick n seconds after the fixture start.
func seedTick(book *marketstate.Book, price float64, n int) {
	book.ApplyTick(domain.Tick{
		Exchange: testExchange, Symbol: testSymbol,
		Price: price, Timestamp: base.Add(time.Duration(n) * time.Second),
	})
}

// seedBookTicker applies a top-of-book snapshot n seconds after start.
func seedBookTicker(book *marketstate.Book, bid, ask, bidVol, askVol float64, n int) {
	book.ApplyOrderbook(domain.OrderbookSnapshot{
		Exchange: testExchange, Symbol: testSymbol,
		BestBid: bid, BestAsk: ask, BidVolume: bidVol, AskVolume: askVol,
		Timestamp: base.Add(time.Duration(n) * time.Second),
	})
}

func openLong(entry, size float64) *domain.Position {
	return &domain.Position{
		ID: "pos-1", Exchange: testExchange, Symbol: testSymbol,
		Side: domain.SideLong, EntryPrice: entry,
		InitialSize: size, Size: size, Leverage: 5,
		OpenTime: base, State: domain.PositionStateOpen,
	}
}

func input(book *marketstate.Book, pos *domain.Position, candleClosed bool) Input {
	return Input{Book: book, Position: pos, Now: base, CandleClosed: candleClosed}
}
