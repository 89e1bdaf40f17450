package conditions

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/futbot/gofut/internal/domain"
)

// TickEntryConfig configures a consecutive-tick momentum entry.
type TickEntryConfig struct {
	// Consecutive is how many strictly directional price changes in a row
	// are required: rises for long, falls for short.
	Consecutive int         `yaml:"consecutive"`
	Side        domain.Side `yaml:"side"`
}

func (c TickEntryConfig) validate() error {
	if c.Consecutive < 1 {
		return errors.Errorf("tick: consecutive must be >= 1, got %d", c.Consecutive)
	}
	switch c.Side {
	case domain.SideLong, domain.SideShort:
	default:
		return errors.Errorf("tick: unknown side %q", c.Side)
	}
	return nil
}

// TickEntry fires after N consecutive same-direction price changes.
// Unchanged prices neither extend nor break the streak; an opposite move
// resets it. Each distinct tick is counted once, keyed by timestamp.
type TickEntry struct {
	id  string
	cfg TickEntryConfig

	lastSeen  time.Time
	lastPrice float64
	havePrice bool
	streak    int
}

// NewTickEntry builds the rule, rejecting malformed config up front.
func NewTickEntry(id string, cfg TickEntryConfig) (*TickEntry, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &TickEntry{id: id, cfg: cfg}, nil
}

func (t *TickEntry) ID() string { return t.id }

func (t *TickEntry) Evaluate(in Input) (Outcome, error) {
	tick, ok := in.Book.LastTick()
	if !ok {
		return Outcome{}, nil
	}
	if !tick.Timestamp.After(t.lastSeen) {
		return Outcome{}, nil // same tick as last pass
	}
	t.lastSeen = tick.Timestamp

	if !t.havePrice {
		t.lastPrice, t.havePrice = tick.Price, true
		return Outcome{}, nil
	}

	delta := tick.Price - t.lastPrice
	t.lastPrice = tick.Price

	switch {
	case delta == 0:
		return Outcome{}, nil
	case (t.cfg.Side == domain.SideLong) == (delta > 0):
		t.streak++
	default:
		t.streak = 0
		return Outcome{}, nil
	}

	if t.streak < t.cfg.Consecutive {
		return Outcome{}, nil
	}

	t.streak = 0
	return Outcome{
		Fired:  true,
		Side:   t.cfg.Side,
		Reason: fmt.Sprintf("tick momentum: %d consecutive %s ticks", t.cfg.Consecutive, t.cfg.Side),
	}, nil
}
