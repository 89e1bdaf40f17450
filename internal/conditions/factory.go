package conditions

import (
	"github.com/pkg/errors"
)

// Rule type names as they appear in configuration.
const (
	TypeMA            = "ma"
	TypeChannel       = "channel"
	TypeOrderbook     = "orderbook"
	TypeTick          = "tick"
	TypeCandle        = "candle"
	TypePCS           = "pcs"
	TypeTrailing      = "trailing"
	TypeOrderbookExit = "orderbook_exit"
	TypeBreakeven     = "breakeven"
)

// RuleConfig declares one rule instance. Exactly the section matching Type
// must be present.
type RuleConfig struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`

	MA            *MAConfig             `yaml:"ma,omitempty"`
	Channel       *ChannelConfig        `yaml:"channel,omitempty"`
	Orderbook     *OrderbookEntryConfig `yaml:"orderbook,omitempty"`
	Tick          *TickEntryConfig      `yaml:"tick,omitempty"`
	Candle        *CandleEntryConfig    `yaml:"candle,omitempty"`
	PCS           *PCSConfig            `yaml:"pcs,omitempty"`
	Trailing      *TrailingConfig       `yaml:"trailing,omitempty"`
	OrderbookExit *OrderbookExitConfig  `yaml:"orderbook_exit,omitempty"`
	Breakeven     *BreakevenConfig      `yaml:"breakeven,omitempty"`
}

// Build constructs a fresh rule instance from its declaration. Instances
// are stateful, so callers build one per (exchange, symbol) and never
// share them across evaluators.
func Build(cfg RuleConfig) (Condition, error) {
	if cfg.ID == "" {
		return nil, errors.New("rule: id is required")
	}
	switch cfg.Type {
	case TypeMA:
		if cfg.MA == nil {
			return nil, errors.Errorf("rule %s: missing ma section", cfg.ID)
		}
		return NewMAEntry(cfg.ID, *cfg.MA)
	case TypeChannel:
		if cfg.Channel == nil {
			return nil, errors.Errorf("rule %s: missing channel section", cfg.ID)
		}
		return NewChannelEntry(cfg.ID, *cfg.Channel)
	case TypeOrderbook:
		if cfg.Orderbook == nil {
			return nil, errors.Errorf("rule %s: missing orderbook section", cfg.ID)
		}
		return NewOrderbookEntry(cfg.ID, *cfg.Orderbook)
	case TypeTick:
		if cfg.Tick == nil {
			return nil, errors.Errorf("rule %s: missing tick section", cfg.ID)
		}
		return NewTickEntry(cfg.ID, *cfg.Tick)
	case TypeCandle:
		if cfg.Candle == nil {
			return nil, errors.Errorf("rule %s: missing candle section", cfg.ID)
		}
		return NewCandleEntry(cfg.ID, *cfg.Candle)
	case TypePCS:
		if cfg.PCS == nil {
			return nil, errors.Errorf("rule %s: missing pcs section", cfg.ID)
		}
		return NewPCSExit(cfg.ID, *cfg.PCS)
	case TypeTrailing:
		if cfg.Trailing == nil {
			return nil, errors.Errorf("rule %s: missing trailing section", cfg.ID)
		}
		return NewTrailingExit(cfg.ID, *cfg.Trailing)
	case TypeOrderbookExit:
		if cfg.OrderbookExit == nil {
			return nil, errors.Errorf("rule %s: missing orderbook_exit section", cfg.ID)
		}
		return NewOrderbookExit(cfg.ID, *cfg.OrderbookExit)
	case TypeBreakeven:
		if cfg.Breakeven == nil {
			return nil, errors.Errorf("rule %s: missing breakeven section", cfg.ID)
		}
		return NewBreakevenExit(cfg.ID, *cfg.Breakeven)
	default:
		return nil, errors.Errorf("rule %s: unknown type %q", cfg.ID, cfg.Type)
	}
}

// BuildSet constructs a combined set from declarations.
func BuildSet(id string, mode CombineMode, cfgs []RuleConfig) (*Set, error) {
	members := make([]Condition, 0, len(cfgs))
	for _, rc := range cfgs {
		c, err := Build(rc)
		if err != nil {
			return nil, err
		}
		members = append(members, c)
	}
	return NewSet(id, mode, members...), nil
}
