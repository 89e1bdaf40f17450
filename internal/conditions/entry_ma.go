package conditions

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/timeutil"
)

// MAVariant selects how price is compared against the moving average.
type MAVariant string

const (
	MACloseAbove      MAVariant = "close_above"
	MACloseBelow      MAVariant = "close_below"
	MAOpenAbove       MAVariant = "open_above"
	MAOpenBelow       MAVariant = "open_below"
	MACrossUp         MAVariant = "cross_up"
	MACrossDown       MAVariant = "cross_down"
	MACrossUpStrict   MAVariant = "cross_up_strict"
	MACrossDownStrict MAVariant = "cross_down_strict"
)

// MAConfig configures a moving-average entry rule.
type MAConfig struct {
	Interval timeutil.Duration `yaml:"interval"`
	Period   int               `yaml:"period"`
	Variant  MAVariant         `yaml:"variant"`
	Side     domain.Side       `yaml:"side"`
}

func (c MAConfig) validate() error {
	if c.Period < 1 {
		return errors.Errorf("ma: period must be >= 1, got %d", c.Period)
	}
	if c.Interval.Duration <= 0 {
		return errors.New("ma: interval must be positive")
	}
	switch c.Variant {
	case MACloseAbove, MACloseBelow, MAOpenAbove, MAOpenBelow,
		MACrossUp, MACrossDown, MACrossUpStrict, MACrossDownStrict:
	default:
		return errors.Errorf("ma: unknown variant %q", c.Variant)
	}
	switch c.Side {
	case domain.SideLong, domain.SideShort:
	default:
		return errors.Errorf("ma: unknown side %q", c.Side)
	}
	return nil
}

// MAEntry fires when price relates to a simple moving average of closed
// candles per the configured variant. Comparison variants fire at most once
// per closed candle; cross variants additionally require the previous
// candle to sit on the other side of its own average.
type MAEntry struct {
	id  string
	cfg MAConfig

	lastFired time.Time // open time of the candle we last fired on
}

// NewMAEntry builds the rule, rejecting malformed config up front.
func NewMAEntry(id string, cfg MAConfig) (*MAEntry, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &MAEntry{id: id, cfg: cfg}, nil
}

func (m *MAEntry) ID() string { return m.id }

func (m *MAEntry) Evaluate(in Input) (Outcome, error) {
	// Cross variants need one extra candle of history.
	need := m.cfg.Period
	if m.isCross() {
		need++
	}
	candles := in.Book.ClosedCandles(m.cfg.Interval.Duration, need)
	if len(candles) < need {
		return Outcome{}, nil
	}

	curr := candles[len(candles)-1]
	if !m.lastFired.IsZero() && !curr.OpenTime.After(m.lastFired) {
		return Outcome{}, nil // already fired on this candle
	}

	ma := sma(closesOf(candles[len(candles)-m.cfg.Period:]))

	fired := false
	switch m.cfg.Variant {
	case MACloseAbove:
		fired = curr.Close > ma
	case MACloseBelow:
		fired = curr.Close < ma
	case MAOpenAbove:
		fired = curr.Open > ma
	case MAOpenBelow:
		fired = curr.Open < ma
	default:
		prevWindow := candles[len(candles)-m.cfg.Period-1 : len(candles)-1]
		prevMA := sma(closesOf(prevWindow))
		prev := candles[len(candles)-2]
		switch m.cfg.Variant {
		case MACrossUp:
			fired = prev.Close <= prevMA && curr.Close > ma
		case MACrossDown:
			fired = prev.Close >= prevMA && curr.Close < ma
		case MACrossUpStrict:
			fired = prev.Close < prevMA && curr.Close > ma
		case MACrossDownStrict:
			fired = prev.Close > prevMA && curr.Close < ma
		}
	}
	if !fired {
		return Outcome{}, nil
	}

	m.lastFired = curr.OpenTime
	return Outcome{
		Fired:  true,
		Side:   m.cfg.Side,
		Reason: fmt.Sprintf("%s: close=%.8g ma(%d)=%.8g", m.cfg.Variant, curr.Close, m.cfg.Period, ma),
	}, nil
}

func (m *MAEntry) isCross() bool {
	switch m.cfg.Variant {
	case MACrossUp, MACrossDown, MACrossUpStrict, MACrossDownStrict:
		return true
	}
	return false
}

func closesOf(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func sma(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
