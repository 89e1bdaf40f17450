package conditions

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/timeutil"
)

// PCSRung is one rung of the partial-close ladder. A rung fires on either
// leg: profit reaching TriggerPct, or loss reaching StopLossPct.
type PCSRung struct {
	Enabled bool `yaml:"enabled"`
	// TriggerPct is the unrealized profit percentage at which the rung fires.
	TriggerPct float64 `yaml:"trigger_pct"`
	// StopLossPct is the (negative) unrealized profit percentage at which
	// the rung fires on the loss side. Zero disables the loss leg.
	StopLossPct float64 `yaml:"stop_loss_pct"`
	// CloseFraction is the fraction of the position's initial size to close.
	CloseFraction float64 `yaml:"close_fraction"`
}

// PCSConfig configures the partial-close ladder exit.
type PCSConfig struct {
	// Interval is the candle interval whose closes drive rungs two and up.
	Interval timeutil.Duration `yaml:"interval"`
	// Rungs holds up to MaxPCSStage rungs in ascending trigger order.
	Rungs []PCSRung `yaml:"rungs"`
}

func (c PCSConfig) validate() error {
	if len(c.Rungs) == 0 || len(c.Rungs) > domain.MaxPCSStage {
		return errors.Errorf("pcs: rung count must be 1..%d, got %d", domain.MaxPCSStage, len(c.Rungs))
	}
	if c.Interval.Duration <= 0 {
		return errors.New("pcs: interval must be positive")
	}
	total := decimal.Zero
	lastTrigger := decimal.NewFromInt(-1 << 30)
	lastStop := decimal.NewFromInt(1 << 30)
	for i, r := range c.Rungs {
		if !r.Enabled {
			continue
		}
		trig := decimal.NewFromFloat(r.TriggerPct)
		if trig.LessThanOrEqual(lastTrigger) {
			return errors.Errorf("pcs: rung %d trigger %g not strictly ascending", i+1, r.TriggerPct)
		}
		lastTrigger = trig
		if r.StopLossPct != 0 {
			if r.StopLossPct > 0 {
				return errors.Errorf("pcs: rung %d stop loss %g must be negative", i+1, r.StopLossPct)
			}
			stop := decimal.NewFromFloat(r.StopLossPct)
			if stop.GreaterThanOrEqual(lastStop) {
				return errors.Errorf("pcs: rung %d stop loss %g not strictly descending", i+1, r.StopLossPct)
			}
			lastStop = stop
		}
		frac := decimal.NewFromFloat(r.CloseFraction)
		if frac.LessThanOrEqual(decimal.Zero) || frac.GreaterThan(decimal.NewFromInt(1)) {
			return errors.Errorf("pcs: rung %d close fraction %g out of (0,1]", i+1, r.CloseFraction)
		}
		total = total.Add(frac)
	}
	if total.GreaterThan(decimal.NewFromInt(1)) {
		return errors.Errorf("pcs: enabled close fractions sum to %s, must not exceed 1", total)
	}
	return nil
}

// PCSExit is the partial-close ladder. Each enabled rung closes a fraction
// of the position's initial size once unrealized profit reaches its
// trigger or falls to its stop. Rungs fire in ascending order, at most one
// per evaluation pass,
// and a position's current stage is the highest confirmed rung, so a rung
// never fires twice. The first rung reacts to live ticks; higher rungs are
// judged on candle closes only, which keeps later, larger rungs from being
// picked off by intra-candle spikes.
type PCSExit struct {
	id  string
	cfg PCSConfig
}

// NewPCSExit builds the ladder, rejecting malformed config up front.
func NewPCSExit(id string, cfg PCSConfig) (*PCSExit, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &PCSExit{id: id, cfg: cfg}, nil
}

func (p *PCSExit) ID() string { return p.id }

func (p *PCSExit) Evaluate(in Input) (Outcome, error) {
	pos := in.Position
	if pos == nil || !pos.IsOpen() {
		return Outcome{}, nil
	}

	// Next enabled rung strictly above the confirmed stage.
	next := 0
	for i := pos.Stage; i < len(p.cfg.Rungs); i++ {
		if p.cfg.Rungs[i].Enabled {
			next = i + 1
			break
		}
	}
	if next == 0 {
		return Outcome{}, nil // ladder exhausted
	}
	rung := p.cfg.Rungs[next-1]

	price, ok := p.judgePrice(in, next)
	if !ok {
		return Outcome{}, nil
	}

	profit := pos.UnrealizedPnLPct(price)
	var reason string
	switch {
	case rung.StopLossPct != 0 && profit <= rung.StopLossPct:
		reason = fmt.Sprintf("pcs rung %d: profit=%.4f%% stop=%.4f%%", next, profit, rung.StopLossPct)
	case profit >= rung.TriggerPct:
		reason = fmt.Sprintf("pcs rung %d: profit=%.4f%% trigger=%.4f%%", next, profit, rung.TriggerPct)
	default:
		return Outcome{}, nil
	}

	return Outcome{
		Fired:         true,
		Side:          pos.Side.Opposite(),
		Stage:         next,
		CloseFraction: rung.CloseFraction,
		Reason:        reason,
	}, nil
}

// judgePrice picks the price a rung is judged against: live ticks for the
// first rung, the latest candle close (on candle-close passes only) for
// the rest.
func (p *PCSExit) judgePrice(in Input, rung int) (float64, bool) {
	if rung == 1 {
		return in.Book.LastPrice()
	}
	if !in.CandleClosed {
		return 0, false
	}
	candles := in.Book.ClosedCandles(p.cfg.Interval.Duration, 1)
	if len(candles) == 0 {
		return 0, false
	}
	return candles[0].Close, true
}
