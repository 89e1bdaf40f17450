package domain

import "time"

// Tick is a single trade/price update. Ticks are immutable; a newer tick for
// the same (exchange, symbol) supersedes the previous one, it never merges.
type Tick struct {
	Exchange  string
	Symbol    string
	Price     float64
	Volume    float64
	Timestamp time.Time
}

// Key returns the (exchange, symbol) routing key.
func (t Tick) Key() string {
	return t.Exchange + ":" + t.Symbol
}

// Candle is an OHLCV aggregate over a fixed interval. While the interval is
// open the candle is mutated in place; at the interval boundary it is frozen
// (IsClosed=true) and appended to history.
type Candle struct {
	Exchange string
	Symbol   string
	Interval time.Duration
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	IsClosed bool
	OpenTime time.Time
}

// Merge folds a price/volume update into an open candle.
func (c *Candle) Merge(price, volume float64) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Volume += volume
}

// IsBullish reports whether the candle closed above its open.
func (c Candle) IsBullish() bool { return c.Close > c.Open }

// IsBearish reports whether the candle closed below its open.
func (c Candle) IsBearish() bool { return c.Close < c.Open }

// OrderbookSnapshot is the top of book for one (exchange, symbol). Snapshots
// are replaced wholesale on every update; there is no partial merge.
type OrderbookSnapshot struct {
	Exchange  string
	Symbol    string
	BestBid   float64
	BestAsk   float64
	BidVolume float64
	AskVolume float64
	Timestamp time.Time
}

// Spread returns bestAsk - bestBid. A zero (or crossed) spread is a signal
// in its own right for the orderbook entry rule.
func (o OrderbookSnapshot) Spread() float64 {
	return o.BestAsk - o.BestBid
}

// Imbalance returns bidVolume / askVolume, or 0 when the ask side is empty.
func (o OrderbookSnapshot) Imbalance() float64 {
	if o.AskVolume <= 0 {
		return 0
	}
	return o.BidVolume / o.AskVolume
}
