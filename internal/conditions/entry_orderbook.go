package conditions

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/timeutil"
)

// OrderbookMode selects which top-of-book pattern the rule watches.
type OrderbookMode string

const (
	// ModeImbalance fires on a sustained bid/ask volume imbalance.
	ModeImbalance OrderbookMode = "imbalance"
	// ModeQuoteTicks fires when the mid quote has moved a number of tick
	// sizes away from the current candle's open.
	ModeQuoteTicks OrderbookMode = "quote_ticks"
	// ModeZeroSpread fires on a locked book (best ask at or through the
	// best bid), a burst-of-liquidity tell on thin futures books.
	ModeZeroSpread OrderbookMode = "zero_spread"
)

// OrderbookEntryConfig configures a top-of-book entry rule.
type OrderbookEntryConfig struct {
	// Mode defaults to imbalance when empty.
	Mode OrderbookMode `yaml:"mode"`
	// Ratio is the minimum bid/ask volume ratio (long) or ask/bid ratio
	// (short) that counts as imbalanced. Imbalance mode only.
	Ratio float64 `yaml:"ratio"`
	// MinVolume is the minimum combined top-of-book volume; thinner books
	// are ignored as noise. Imbalance mode only.
	MinVolume float64 `yaml:"min_volume"`
	// MaxSpread caps the absolute bid/ask spread; wider (or crossed) books
	// are ignored. Imbalance mode only.
	MaxSpread float64 `yaml:"max_spread"`
	// TickSize and TickThreshold define the quote-tick pattern: the mid
	// quote must sit at least TickThreshold tick sizes above (long) or
	// below (short) the current candle's open. Quote-ticks mode only.
	TickSize      float64           `yaml:"tick_size"`
	TickThreshold int               `yaml:"tick_threshold"`
	Interval      timeutil.Duration `yaml:"interval"`
	// Consecutive is how many distinct snapshots in a row must agree.
	Consecutive int         `yaml:"consecutive"`
	Side        domain.Side `yaml:"side"`
}

func (c OrderbookEntryConfig) mode() OrderbookMode {
	if c.Mode == "" {
		return ModeImbalance
	}
	return c.Mode
}

func (c OrderbookEntryConfig) validate() error {
	switch c.mode() {
	case ModeImbalance:
		if c.Ratio <= 1 {
			return errors.Errorf("orderbook: ratio must be > 1, got %g", c.Ratio)
		}
	case ModeQuoteTicks:
		if c.TickSize <= 0 {
			return errors.Errorf("orderbook: tick_size must be positive, got %g", c.TickSize)
		}
		if c.TickThreshold < 1 {
			return errors.Errorf("orderbook: tick_threshold must be >= 1, got %d", c.TickThreshold)
		}
		if c.Interval.Duration <= 0 {
			return errors.New("orderbook: interval must be positive")
		}
	case ModeZeroSpread:
	default:
		return errors.Errorf("orderbook: unknown mode %q", c.Mode)
	}
	if c.Consecutive < 1 {
		return errors.Errorf("orderbook: consecutive must be >= 1, got %d", c.Consecutive)
	}
	switch c.Side {
	case domain.SideLong, domain.SideShort:
	default:
		return errors.Errorf("orderbook: unknown side %q", c.Side)
	}
	return nil
}

// OrderbookEntry fires after N consecutive distinct snapshots match the
// configured pattern. In imbalance mode a zero or crossed spread resets
// the streak: a locked book carries no directional information there and
// stale counts must not survive it. Zero-spread mode inverts that and
// counts exactly those snapshots.
type OrderbookEntry struct {
	id  string
	cfg OrderbookEntryConfig

	streak   int
	lastSeen time.Time
}

// NewOrderbookEntry builds the rule, rejecting malformed config up front.
func NewOrderbookEntry(id string, cfg OrderbookEntryConfig) (*OrderbookEntry, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &OrderbookEntry{id: id, cfg: cfg}, nil
}

func (o *OrderbookEntry) ID() string { return o.id }

func (o *OrderbookEntry) Evaluate(in Input) (Outcome, error) {
	book, ok := in.Book.Orderbook()
	if !ok {
		return Outcome{}, nil
	}
	if !book.Timestamp.After(o.lastSeen) {
		return Outcome{}, nil // same snapshot as last pass
	}
	o.lastSeen = book.Timestamp

	match, detail := o.match(in, book)
	if !match {
		o.streak = 0
		return Outcome{}, nil
	}

	o.streak++
	if o.streak < o.cfg.Consecutive {
		return Outcome{}, nil
	}

	o.streak = 0
	return Outcome{
		Fired:  true,
		Side:   o.cfg.Side,
		Reason: fmt.Sprintf("orderbook %s: %s x%d", o.cfg.mode(), detail, o.cfg.Consecutive),
	}, nil
}

func (o *OrderbookEntry) match(in Input, book domain.OrderbookSnapshot) (bool, string) {
	switch o.cfg.mode() {
	case ModeZeroSpread:
		if book.Spread() > 0 {
			return false, ""
		}
		return true, fmt.Sprintf("spread=%.8f", book.Spread())
	case ModeQuoteTicks:
		return o.matchQuoteTicks(in, book)
	default:
		return o.matchImbalance(book)
	}
}

func (o *OrderbookEntry) matchImbalance(book domain.OrderbookSnapshot) (bool, string) {
	spread := book.Spread()
	if spread <= 0 || (o.cfg.MaxSpread > 0 && spread > o.cfg.MaxSpread) {
		return false, ""
	}
	if book.BidVolume+book.AskVolume < o.cfg.MinVolume {
		return false, ""
	}

	var ratio float64
	switch o.cfg.Side {
	case domain.SideLong:
		if book.AskVolume <= 0 {
			return false, ""
		}
		ratio = book.BidVolume / book.AskVolume
	case domain.SideShort:
		if book.BidVolume <= 0 {
			return false, ""
		}
		ratio = book.AskVolume / book.BidVolume
	}

	if ratio < o.cfg.Ratio {
		return false, ""
	}
	return true, fmt.Sprintf("ratio=%.3f", ratio)
}

// matchQuoteTicks compares the mid quote against the current candle's open
// (the previous close), the same base the quote-watch pattern re-arms on
// at every candle boundary.
func (o *OrderbookEntry) matchQuoteTicks(in Input, book domain.OrderbookSnapshot) (bool, string) {
	candles := in.Book.ClosedCandles(o.cfg.Interval.Duration, 1)
	if len(candles) == 0 {
		return false, ""
	}
	base := candles[0].Close

	mid := (book.BestBid + book.BestAsk) / 2
	ticks := int((mid - base) / o.cfg.TickSize)

	switch o.cfg.Side {
	case domain.SideLong:
		if ticks < o.cfg.TickThreshold {
			return false, ""
		}
	case domain.SideShort:
		if ticks > -o.cfg.TickThreshold {
			return false, ""
		}
	}
	return true, fmt.Sprintf("base=%.4f mid=%.4f ticks=%d", base, mid, ticks)
}
