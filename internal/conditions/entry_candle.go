package conditions

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/timeutil"
)

// CandleEntryConfig configures a consecutive-candle pattern entry.
type CandleEntryConfig struct {
	Interval timeutil.Duration `yaml:"interval"`
	// Consecutive is how many closed candles in a row must match the side:
	// bullish bodies for long, bearish for short.
	Consecutive int         `yaml:"consecutive"`
	Side        domain.Side `yaml:"side"`
}

func (c CandleEntryConfig) validate() error {
	if c.Consecutive < 1 {
		return errors.Errorf("candle: consecutive must be >= 1, got %d", c.Consecutive)
	}
	if c.Interval.Duration <= 0 {
		return errors.New("candle: interval must be positive")
	}
	switch c.Side {
	case domain.SideLong, domain.SideShort:
	default:
		return errors.Errorf("candle: unknown side %q", c.Side)
	}
	return nil
}

// CandleEntry fires when the last N closed candles all have directional
// bodies matching the side. It fires at most once per closed candle: a run
// of N+1 matching candles yields two signals, not N+1 re-fires per pass.
type CandleEntry struct {
	id  string
	cfg CandleEntryConfig

	lastFired time.Time
}

// NewCandleEntry builds the rule, rejecting malformed config up front.
func NewCandleEntry(id string, cfg CandleEntryConfig) (*CandleEntry, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &CandleEntry{id: id, cfg: cfg}, nil
}

func (c *CandleEntry) ID() string { return c.id }

func (c *CandleEntry) Evaluate(in Input) (Outcome, error) {
	candles := in.Book.ClosedCandles(c.cfg.Interval.Duration, c.cfg.Consecutive)
	if len(candles) < c.cfg.Consecutive {
		return Outcome{}, nil
	}

	newest := candles[len(candles)-1]
	if !c.lastFired.IsZero() && !newest.OpenTime.After(c.lastFired) {
		return Outcome{}, nil
	}

	for _, candle := range candles {
		match := candle.IsBullish()
		if c.cfg.Side == domain.SideShort {
			match = candle.IsBearish()
		}
		if !match {
			return Outcome{}, nil
		}
	}

	c.lastFired = newest.OpenTime
	return Outcome{
		Fired:  true,
		Side:   c.cfg.Side,
		Reason: fmt.Sprintf("candle pattern: %d consecutive %s candles", c.cfg.Consecutive, c.cfg.Side),
	}, nil
}
