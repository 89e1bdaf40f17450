package conditions

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/timeutil"
)

// ChannelConfig configures a price-channel breakout entry.
type ChannelConfig struct {
	Interval timeutil.Duration `yaml:"interval"`
	Period   int               `yaml:"period"`
	Side     domain.Side       `yaml:"side"`
}

func (c ChannelConfig) validate() error {
	if c.Period < 1 {
		return errors.Errorf("channel: period must be >= 1, got %d", c.Period)
	}
	if c.Interval.Duration <= 0 {
		return errors.New("channel: interval must be positive")
	}
	switch c.Side {
	case domain.SideLong, domain.SideShort:
	default:
		return errors.Errorf("channel: unknown side %q", c.Side)
	}
	return nil
}

// ChannelEntry fires when the live price breaks out of the high/low channel
// of the last N closed candles: above the channel high for longs, below the
// channel low for shorts. After firing it latches until price re-enters the
// channel, so a sustained breakout produces exactly one signal.
type ChannelEntry struct {
	id  string
	cfg ChannelConfig

	latched bool
}

// NewChannelEntry builds the rule, rejecting malformed config up front.
func NewChannelEntry(id string, cfg ChannelConfig) (*ChannelEntry, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &ChannelEntry{id: id, cfg: cfg}, nil
}

func (c *ChannelEntry) ID() string { return c.id }

func (c *ChannelEntry) Evaluate(in Input) (Outcome, error) {
	candles := in.Book.ClosedCandles(c.cfg.Interval.Duration, c.cfg.Period)
	if len(candles) < c.cfg.Period {
		return Outcome{}, nil
	}
	price, ok := in.Book.LastPrice()
	if !ok {
		return Outcome{}, nil
	}

	high, low := channelBounds(candles)

	var broke bool
	switch c.cfg.Side {
	case domain.SideLong:
		broke = price > high
	case domain.SideShort:
		broke = price < low
	}

	if !broke {
		if price <= high && price >= low {
			c.latched = false // back inside the channel, re-arm
		}
		return Outcome{}, nil
	}
	if c.latched {
		return Outcome{}, nil
	}

	c.latched = true
	return Outcome{
		Fired:  true,
		Side:   c.cfg.Side,
		Reason: fmt.Sprintf("channel breakout: price=%.8g high=%.8g low=%.8g", price, high, low),
	}, nil
}

func channelBounds(candles []domain.Candle) (high, low float64) {
	high, low = candles[0].High, candles[0].Low
	for _, c := range candles[1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low
}
