package marketstate

import (
	"sync/atomic"
	"time"
)

// lastPrice publishes the newest trade price through an atomic pointer so
// hot-path readers (risk checks, PnL marks) never contend with ingestion.
type lastPrice struct {
	p atomic.Pointer[priceStamp]
}

type priceStamp struct {
	price float64
	at    time.Time
}

func newLastPrice() *lastPrice {
	return &lastPrice{}
}

func (l *lastPrice) Store(price float64, at time.Time) {
	l.p.Store(&priceStamp{price: price, at: at})
}

func (l *lastPrice) Load() (float64, bool) {
	s := l.p.Load()
	if s == nil {
		return 0, false
	}
	return s.price, true
}

func (l *lastPrice) LoadStamped() (float64, time.Time, bool) {
	s := l.p.Load()
	if s == nil {
		return 0, time.Time{}, false
	}
	return s.price, s.at, true
}
