package marketstate

import "github.com/futbot/gofut/internal/domain"

// candleRing is a fixed-capacity FIFO of closed candles. Pushing past
// capacity evicts the oldest entry.
type candleRing struct {
	buf   []domain.Candle
	head  int // index of the oldest entry
	count int
}

func newCandleRing(capacity int) *candleRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &candleRing{buf: make([]domain.Candle, capacity)}
}

func (r *candleRing) push(c domain.Candle) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = c
		r.count++
		return
	}
	r.buf[r.head] = c
	r.head = (r.head + 1) % len(r.buf)
}

func (r *candleRing) len() int { return r.count }

// tail returns the n newest entries, oldest first. n <= 0 or n > len
// returns everything.
func (r *candleRing) tail(n int) []domain.Candle {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]domain.Candle, 0, n)
	start := r.count - n
	for i := start; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}
