package conditions

import (
	"fmt"

	"github.com/pkg/errors"
)

// TrailingConfig configures the trailing-stop exit.
type TrailingConfig struct {
	// ActivationPct is the unrealized profit percentage that arms the stop.
	ActivationPct float64 `yaml:"activation_pct"`
	// RetracePct is how far price may retrace from the best level, as a
	// percentage of that level, before the stop fires.
	RetracePct float64 `yaml:"retrace_pct"`
}

func (c TrailingConfig) validate() error {
	if c.ActivationPct <= 0 {
		return errors.Errorf("trailing: activation_pct must be positive, got %g", c.ActivationPct)
	}
	if c.RetracePct <= 0 {
		return errors.Errorf("trailing: retrace_pct must be positive, got %g", c.RetracePct)
	}
	return nil
}

// TrailingExit arms once unrealized profit reaches the activation
// threshold, then tracks the best price seen since (highest for longs,
// lowest for shorts). It fires a full close when price retraces the
// configured percentage from that extreme. The extreme only ratchets in
// the position's favor and all state resets when the position changes.
type TrailingExit struct {
	id  string
	cfg TrailingConfig

	posID   string
	armed   bool
	extreme float64
}

// NewTrailingExit builds the rule, rejecting malformed config up front.
func NewTrailingExit(id string, cfg TrailingConfig) (*TrailingExit, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &TrailingExit{id: id, cfg: cfg}, nil
}

func (t *TrailingExit) ID() string { return t.id }

func (t *TrailingExit) Evaluate(in Input) (Outcome, error) {
	pos := in.Position
	if pos == nil || !pos.IsOpen() {
		t.posID, t.armed, t.extreme = "", false, 0
		return Outcome{}, nil
	}
	if pos.ID != t.posID {
		t.posID, t.armed, t.extreme = pos.ID, false, 0
	}

	price, ok := in.Book.LastPrice()
	if !ok {
		return Outcome{}, nil
	}

	if !t.armed {
		if pos.UnrealizedPnLPct(price) < t.cfg.ActivationPct {
			return Outcome{}, nil
		}
		t.armed = true
		t.extreme = price
		return Outcome{}, nil
	}

	if pos.Side.IsLong() {
		if price > t.extreme {
			t.extreme = price
			return Outcome{}, nil
		}
		retrace := (t.extreme - price) / t.extreme * 100
		if retrace < t.cfg.RetracePct {
			return Outcome{}, nil
		}
	} else {
		if price < t.extreme {
			t.extreme = price
			return Outcome{}, nil
		}
		retrace := (price - t.extreme) / t.extreme * 100
		if retrace < t.cfg.RetracePct {
			return Outcome{}, nil
		}
	}

	return Outcome{
		Fired:         true,
		Side:          pos.Side.Opposite(),
		CloseFraction: 1,
		Reason:        fmt.Sprintf("trailing stop: extreme=%.8g price=%.8g retrace>=%.4f%%", t.extreme, price, t.cfg.RetracePct),
	}, nil
}
