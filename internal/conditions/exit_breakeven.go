package conditions

import (
	"fmt"

	"github.com/pkg/errors"
)

// BreakevenConfig configures the two-stage breakeven stop.
type BreakevenConfig struct {
	// ArmPct is the unrealized profit percentage that moves the stop to
	// the entry price.
	ArmPct float64 `yaml:"arm_pct"`
	// LockPct is the (higher) profit percentage that ratchets the stop up
	// to lock in LockStopPct of profit.
	LockPct float64 `yaml:"lock_pct"`
	// LockStopPct is the profit percentage the second stage protects.
	LockStopPct float64 `yaml:"lock_stop_pct"`
}

func (c BreakevenConfig) validate() error {
	if c.ArmPct <= 0 {
		return errors.Errorf("breakeven: arm_pct must be positive, got %g", c.ArmPct)
	}
	if c.LockPct <= c.ArmPct {
		return errors.Errorf("breakeven: lock_pct %g must exceed arm_pct %g", c.LockPct, c.ArmPct)
	}
	if c.LockStopPct < 0 || c.LockStopPct >= c.LockPct {
		return errors.Errorf("breakeven: lock_stop_pct %g must be in [0, lock_pct)", c.LockStopPct)
	}
	return nil
}

// BreakevenExit is a two-stage protective stop. Reaching ArmPct profit
// arms a stop at the entry price; reaching LockPct ratchets it up to
// protect LockStopPct of profit. The stop level only ever moves in the
// position's favor, and the exit fires a full close when profit falls back
// to the current stop level.
type BreakevenExit struct {
	id  string
	cfg BreakevenConfig

	posID   string
	stage   int // 0 disarmed, 1 breakeven, 2 profit lock
	stopPct float64
}

// NewBreakevenExit builds the rule, rejecting malformed config up front.
func NewBreakevenExit(id string, cfg BreakevenConfig) (*BreakevenExit, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &BreakevenExit{id: id, cfg: cfg}, nil
}

func (b *BreakevenExit) ID() string { return b.id }

func (b *BreakevenExit) Evaluate(in Input) (Outcome, error) {
	pos := in.Position
	if pos == nil || !pos.IsOpen() {
		b.posID, b.stage, b.stopPct = "", 0, 0
		return Outcome{}, nil
	}
	if pos.ID != b.posID {
		b.posID, b.stage, b.stopPct = pos.ID, 0, 0
	}

	price, ok := in.Book.LastPrice()
	if !ok {
		return Outcome{}, nil
	}
	profit := pos.UnrealizedPnLPct(price)

	// Ratchet up, never down.
	if b.stage < 2 && profit >= b.cfg.LockPct {
		b.stage, b.stopPct = 2, b.cfg.LockStopPct
	} else if b.stage < 1 && profit >= b.cfg.ArmPct {
		b.stage, b.stopPct = 1, 0
	}

	if b.stage == 0 || profit > b.stopPct {
		return Outcome{}, nil
	}

	return Outcome{
		Fired:         true,
		Side:          pos.Side.Opposite(),
		CloseFraction: 1,
		Reason:        fmt.Sprintf("breakeven stop stage %d: profit=%.4f%% stop=%.4f%%", b.stage, profit, b.stopPct),
	}, nil
}
