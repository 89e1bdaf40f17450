package conditions

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// OrderbookExitConfig configures the adverse-imbalance exit.
type OrderbookExitConfig struct {
	// Ratio is the minimum adverse volume ratio (ask/bid against a long,
	// bid/ask against a short) that counts as pressure.
	Ratio float64 `yaml:"ratio"`
	// Consecutive is how many distinct snapshots in a row must show
	// adverse pressure before the exit fires.
	Consecutive int `yaml:"consecutive"`
}

func (c OrderbookExitConfig) validate() error {
	if c.Ratio <= 1 {
		return errors.Errorf("orderbook exit: ratio must be > 1, got %g", c.Ratio)
	}
	if c.Consecutive < 1 {
		return errors.Errorf("orderbook exit: consecutive must be >= 1, got %d", c.Consecutive)
	}
	return nil
}

// OrderbookExit closes the full position after N consecutive distinct
// snapshots show top-of-book volume stacked against it. One clean snapshot
// resets the streak, and the streak resets when the position changes.
type OrderbookExit struct {
	id  string
	cfg OrderbookExitConfig

	posID    string
	streak   int
	lastSeen time.Time
}

// NewOrderbookExit builds the rule, rejecting malformed config up front.
func NewOrderbookExit(id string, cfg OrderbookExitConfig) (*OrderbookExit, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &OrderbookExit{id: id, cfg: cfg}, nil
}

func (o *OrderbookExit) ID() string { return o.id }

func (o *OrderbookExit) Evaluate(in Input) (Outcome, error) {
	pos := in.Position
	if pos == nil || !pos.IsOpen() {
		o.posID, o.streak = "", 0
		return Outcome{}, nil
	}
	if pos.ID != o.posID {
		o.posID, o.streak = pos.ID, 0
	}

	book, ok := in.Book.Orderbook()
	if !ok {
		return Outcome{}, nil
	}
	if !book.Timestamp.After(o.lastSeen) {
		return Outcome{}, nil
	}
	o.lastSeen = book.Timestamp

	var ratio float64
	if pos.Side.IsLong() {
		if book.BidVolume <= 0 {
			return Outcome{}, nil
		}
		ratio = book.AskVolume / book.BidVolume
	} else {
		if book.AskVolume <= 0 {
			return Outcome{}, nil
		}
		ratio = book.BidVolume / book.AskVolume
	}

	if ratio < o.cfg.Ratio {
		o.streak = 0
		return Outcome{}, nil
	}

	o.streak++
	if o.streak < o.cfg.Consecutive {
		return Outcome{}, nil
	}

	o.streak = 0
	return Outcome{
		Fired:         true,
		Side:          pos.Side.Opposite(),
		CloseFraction: 1,
		Reason:        fmt.Sprintf("adverse orderbook pressure: ratio=%.3f x%d", ratio, o.cfg.Consecutive),
	}, nil
}
