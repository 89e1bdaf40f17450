package marketstate

import (
	"sync"
	"time"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/metrics"
)

// MarketState is the canonical latest-known view per (exchange, symbol) plus
// bounded candle history for lookback rules. It is owned by ingestion on the
// write side; conditions read through Book views. Strictly older data is
// dropped and counted, never re-ordered (last write wins).
type MarketState struct {
	mu      sync.RWMutex
	books   map[string]*Book
	history int
}

// NewMarketState creates a state whose candle history per (symbol, interval)
// holds historyLen closed candles (the maximum rule lookback).
func NewMarketState(historyLen int) *MarketState {
	if historyLen <= 0 {
		historyLen = 20
	}
	return &MarketState{
		books:   make(map[string]*Book),
		history: historyLen,
	}
}

// Book returns the per-(exchange, symbol) view, creating it on first use.
func (m *MarketState) Book(exchange, symbol string) *Book {
	key := exchange + ":" + symbol
	m.mu.RLock()
	b, ok := m.books[key]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.books[key]; ok {
		return b
	}
	b = newBook(exchange, symbol, m.history)
	m.books[key] = b
	return b
}

// Books returns all known per-symbol views.
func (m *MarketState) Books() []*Book {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Book, 0, len(m.books))
	for _, b := range m.books {
		out = append(out, b)
	}
	return out
}

// ApplyTick routes a tick to its book. It returns true if the tick was
// accepted (newer than, or concurrent-but-different from, the stored one).
func (m *MarketState) ApplyTick(t domain.Tick) bool {
	return m.Book(t.Exchange, t.Symbol).ApplyTick(t)
}

// ApplyCandle routes a candle update to its book.
func (m *MarketState) ApplyCandle(c domain.Candle) {
	m.Book(c.Exchange, c.Symbol).ApplyCandle(c)
}

// ApplyOrderbook routes an orderbook snapshot to its book.
func (m *MarketState) ApplyOrderbook(o domain.OrderbookSnapshot) {
	m.Book(o.Exchange, o.Symbol).ApplyOrderbook(o)
}

// Book is the mutable market view for one (exchange, symbol). All mutation
// goes through Apply*; readers take the read lock via the accessor methods.
type Book struct {
	exchange string
	symbol   string

	last *lastPrice // lock-free hot path for current price

	mu      sync.RWMutex
	tick    domain.Tick
	hasTick bool
	book    domain.OrderbookSnapshot
	hasBook bool

	// interval -> open candle + closed history ring
	series     map[time.Duration]*candleSeries
	historyLen int
}

type candleSeries struct {
	open    *domain.Candle
	history *candleRing
}

func newBook(exchange, symbol string, historyLen int) *Book {
	return &Book{
		exchange:   exchange,
		symbol:     symbol,
		last:       newLastPrice(),
		series:     make(map[time.Duration]*candleSeries),
		historyLen: historyLen,
	}
}

// Exchange returns the exchange this book tracks.
func (b *Book) Exchange() string { return b.exchange }

// Symbol returns the symbol this book tracks.
func (b *Book) Symbol() string { return b.symbol }

// ApplyTick stores the tick if it is not strictly older than the current
// one. An exact duplicate (same timestamp and price) is dropped so replays
// cannot produce duplicate signals.
func (b *Book) ApplyTick(t domain.Tick) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hasTick {
		if t.Timestamp.Before(b.tick.Timestamp) {
			metrics.TicksDroppedOld.Add(1)
			return false
		}
		if t.Timestamp.Equal(b.tick.Timestamp) && t.Price == b.tick.Price {
			metrics.TicksDroppedDup.Add(1)
			return false
		}
	}
	b.tick = t
	b.hasTick = true
	b.last.Store(t.Price, t.Timestamp)
	metrics.TicksApplied.Add(1)
	return true
}

// ApplyCandle merges an update into the open candle for its interval, or
// rolls the interval: a newer open time freezes the previous candle into
// history and starts a new one. Updates for already-frozen intervals are
// dropped.
func (b *Book) ApplyCandle(c domain.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.series[c.Interval]
	if !ok {
		s = &candleSeries{history: newCandleRing(b.historyLen)}
		b.series[c.Interval] = s
	}

	switch {
	case s.open == nil:
		if c.IsClosed {
			s.history.push(c)
			return
		}
		cc := c
		s.open = &cc
	case c.OpenTime.Equal(s.open.OpenTime):
		cc := c
		s.open = &cc
		if c.IsClosed {
			s.history.push(*s.open)
			s.open = nil
		}
	case c.OpenTime.After(s.open.OpenTime):
		// Interval boundary: freeze the previous candle.
		s.open.IsClosed = true
		s.history.push(*s.open)
		s.open = nil
		if c.IsClosed {
			s.history.push(c)
			return
		}
		cc := c
		s.open = &cc
	default:
		// Strictly older candle: drop, same policy as ticks.
		metrics.TicksDroppedOld.Add(1)
	}
}

// ApplyOrderbook replaces the snapshot wholesale; no partial merge.
func (b *Book) ApplyOrderbook(o domain.OrderbookSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hasBook && o.Timestamp.Before(b.book.Timestamp) {
		return
	}
	b.book = o
	b.hasBook = true
}

// LastTick returns the newest tick seen, if any.
func (b *Book) LastTick() (domain.Tick, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tick, b.hasTick
}

// LastPrice returns the newest trade price without taking the book lock.
func (b *Book) LastPrice() (float64, bool) {
	return b.last.Load()
}

// Orderbook returns the current top-of-book snapshot, if any.
func (b *Book) Orderbook() (domain.OrderbookSnapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.book, b.hasBook
}

// OpenCandle returns the currently forming candle for an interval.
func (b *Book) OpenCandle(interval time.Duration) (domain.Candle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.series[interval]
	if s == nil || s.open == nil {
		return domain.Candle{}, false
	}
	return *s.open, true
}

// ClosedCandles returns up to n most recent closed candles for an interval,
// oldest first. It returns fewer (possibly zero) when history is short;
// lookback rules treat short history as "not fired", never as an error.
func (b *Book) ClosedCandles(interval time.Duration, n int) []domain.Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.series[interval]
	if s == nil {
		return nil
	}
	return s.history.tail(n)
}

// Closes returns the close prices of up to n most recent closed candles,
// oldest first.
func (b *Book) Closes(interval time.Duration, n int) []float64 {
	candles := b.ClosedCandles(interval, n)
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
