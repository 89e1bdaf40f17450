package config

import (
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/futbot/gofut/internal/conditions"
	"github.com/futbot/gofut/internal/timeutil"
)

// Config is the full application configuration, loaded from YAML with a
// small set of environment overrides for secrets and deploy-site knobs.
type Config struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// MetricsAddr serves expvar and pprof; empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
	// APIAddr serves the control-plane HTTP API; empty disables it.
	APIAddr string `yaml:"api_addr"`

	// DryRun routes orders to the paper venue instead of a live exchange.
	DryRun bool `yaml:"dry_run"`

	// JournalPath is the SQLite trade journal file.
	JournalPath string `yaml:"journal_path"`
	// SnapshotDir holds position snapshots for crash recovery.
	SnapshotDir string `yaml:"snapshot_dir"`
	// SecretDir holds the encrypted credential store.
	SecretDir string `yaml:"secret_dir"`

	// EventBufferSize is the per-subscriber event queue depth.
	EventBufferSize int `yaml:"event_buffer_size"`
	// FallbackInterval drives evaluation passes when markets go quiet.
	FallbackInterval timeutil.Duration `yaml:"fallback_interval"`
	// CandleHistory is how many closed candles each symbol retains.
	CandleHistory int `yaml:"candle_history"`

	Exchanges []ExchangeConfig `yaml:"exchanges"`
	Symbols   []SymbolConfig   `yaml:"symbols"`
	Risk      RiskConfig       `yaml:"risk"`
	Time      TimeControl      `yaml:"time_control"`

	// Entries and Exits declare the rule instances built per symbol.
	Entries   []conditions.RuleConfig `yaml:"entries"`
	Exits     []conditions.RuleConfig `yaml:"exits"`
	EntryMode conditions.CombineMode  `yaml:"entry_mode"`
	ExitMode  conditions.CombineMode  `yaml:"exit_mode"`
}

// ExchangeConfig describes one venue connection.
type ExchangeConfig struct {
	Name string `yaml:"name"`
	// WSURL is the market-data stream endpoint.
	WSURL string `yaml:"ws_url"`
	// RESTURL is the base URL for kline backfill and order reconciliation.
	RESTURL string `yaml:"rest_url"`
	// APIKeyName names the credential in the secret store; the key itself
	// never appears in config files.
	APIKeyName string `yaml:"api_key_name"`
	// OrdersPerSecond rate-limits order submission; zero means no limit.
	OrdersPerSecond float64 `yaml:"orders_per_second"`
}

// SymbolConfig binds a traded symbol to its venue.
type SymbolConfig struct {
	Exchange string `yaml:"exchange"`
	Symbol   string `yaml:"symbol"`
	Leverage int    `yaml:"leverage"`
	// EntrySize is the position size opened on an entry signal.
	EntrySize float64 `yaml:"entry_size"`
	// CandleInterval is the sub-interval backfilled and streamed for rules.
	CandleInterval timeutil.Duration `yaml:"candle_interval"`
}

// RiskConfig bounds what the engine may do regardless of what rules want.
type RiskConfig struct {
	MaxLeverage     int     `yaml:"max_leverage"`
	MaxPositions    int     `yaml:"max_positions"`
	MaxPositionSize float64 `yaml:"max_position_size"`
	// DailyLossLimit halts new entries once realized losses for the UTC
	// day reach this amount (quote currency). Zero disables the check.
	DailyLossLimit float64 `yaml:"daily_loss_limit"`
	// MaxConsecutiveErrors trips the circuit breaker. Zero disables it.
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`
	// OrderTimeout bounds a single order submission attempt.
	OrderTimeout timeutil.Duration `yaml:"order_timeout"`
	// OrderRetries is how many times a failed submission is retried.
	OrderRetries int `yaml:"order_retries"`
}

// TimeControl gates when entries are allowed. Exits always run.
type TimeControl struct {
	// Run24h disables all windows and trades around the clock.
	Run24h bool `yaml:"run_24h"`
	// Windows lists the weekly spans during which entries may fire.
	Windows []TimeWindow `yaml:"windows"`
	// ForceCloseTime, as "HH:MM" UTC, flattens all positions daily.
	// Empty disables the force close.
	ForceCloseTime string `yaml:"force_close_time"`
}

// TimeWindow is one weekly entry window. Start and End are "HH:MM" UTC;
// End at or before Start wraps past midnight.
type TimeWindow struct {
	Weekday time.Weekday `yaml:"weekday"`
	Start   string       `yaml:"start"`
	End     string       `yaml:"end"`
}

// Default returns a config with conservative operational defaults. Rule
// and symbol sections have no defaults; an empty strategy is a config
// error caught by Validate.
func Default() *Config {
	return &Config{
		LogLevel:         "info",
		JournalPath:      "data/journal.db",
		SnapshotDir:      "data/snapshots",
		SecretDir:        "data/secrets",
		EventBufferSize:  1024,
		FallbackInterval: timeutil.D(time.Second),
		CandleHistory:    20,
		EntryMode:        conditions.CombineOR,
		ExitMode:         conditions.CombineOR,
		Risk: RiskConfig{
			MaxLeverage:          20,
			MaxPositions:         1,
			MaxPositionSize:      1000,
			MaxConsecutiveErrors: 5,
			OrderTimeout:         timeutil.D(5 * time.Second),
			OrderRetries:         3,
		},
		Time: TimeControl{Run24h: true},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "validate config %s", path)
	}
	return cfg, nil
}

// applyEnv lets deployments override deploy-site knobs without editing
// the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("FUTBOT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FUTBOT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("FUTBOT_API_ADDR"); v != "" {
		cfg.APIAddr = v
	}
	if v := os.Getenv("FUTBOT_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DryRun = b
		}
	}
}

// Validate rejects configurations the engine cannot run safely.
func (c *Config) Validate() error {
	if c.EventBufferSize < 1 {
		return errors.New("event_buffer_size must be >= 1")
	}
	if c.FallbackInterval.Duration <= 0 {
		return errors.New("fallback_interval must be positive")
	}
	if c.CandleHistory < 1 {
		return errors.New("candle_history must be >= 1")
	}
	if len(c.Symbols) == 0 {
		return errors.New("at least one symbol is required")
	}

	venues := make(map[string]bool, len(c.Exchanges))
	for i, ex := range c.Exchanges {
		if ex.Name == "" {
			return errors.Errorf("exchanges[%d]: name is required", i)
		}
		if venues[ex.Name] {
			return errors.Errorf("exchanges[%d]: duplicate name %q", i, ex.Name)
		}
		venues[ex.Name] = true
	}

	seen := make(map[string]bool, len(c.Symbols))
	for i, s := range c.Symbols {
		if s.Symbol == "" || s.Exchange == "" {
			return errors.Errorf("symbols[%d]: exchange and symbol are required", i)
		}
		if !c.DryRun && !venues[s.Exchange] {
			return errors.Errorf("symbols[%d]: unknown exchange %q", i, s.Exchange)
		}
		key := s.Exchange + ":" + s.Symbol
		if seen[key] {
			return errors.Errorf("symbols[%d]: duplicate %s", i, key)
		}
		seen[key] = true
		if s.Leverage < 1 {
			return errors.Errorf("symbols[%d]: leverage must be >= 1", i)
		}
		if s.EntrySize <= 0 {
			return errors.Errorf("symbols[%d]: entry_size must be positive", i)
		}
		if s.CandleInterval.Duration <= 0 {
			return errors.Errorf("symbols[%d]: candle_interval must be positive", i)
		}
		if c.Risk.MaxLeverage > 0 && s.Leverage > c.Risk.MaxLeverage {
			return errors.Errorf("symbols[%d]: leverage %d exceeds risk.max_leverage %d", i, s.Leverage, c.Risk.MaxLeverage)
		}
	}

	if c.Risk.MaxPositions < 1 {
		return errors.New("risk.max_positions must be >= 1")
	}
	if c.Risk.OrderTimeout.Duration <= 0 {
		return errors.New("risk.order_timeout must be positive")
	}
	if c.Risk.OrderRetries < 0 {
		return errors.New("risk.order_retries must be >= 0")
	}

	switch c.EntryMode {
	case conditions.CombineAND, conditions.CombineOR:
	default:
		return errors.Errorf("entry_mode must be AND or OR, got %q", c.EntryMode)
	}
	switch c.ExitMode {
	case conditions.CombineAND, conditions.CombineOR:
	default:
		return errors.Errorf("exit_mode must be AND or OR, got %q", c.ExitMode)
	}

	// Building each rule runs its own validation.
	for _, rc := range append(append([]conditions.RuleConfig{}, c.Entries...), c.Exits...) {
		if _, err := conditions.Build(rc); err != nil {
			return err
		}
	}

	if err := c.Time.validate(); err != nil {
		return err
	}
	return nil
}

func (t TimeControl) validate() error {
	for i, w := range t.Windows {
		if w.Weekday < time.Sunday || w.Weekday > time.Saturday {
			return errors.Errorf("time_control.windows[%d]: bad weekday %d", i, w.Weekday)
		}
		if _, err := parseClock(w.Start); err != nil {
			return errors.Wrapf(err, "time_control.windows[%d].start", i)
		}
		if _, err := parseClock(w.End); err != nil {
			return errors.Wrapf(err, "time_control.windows[%d].end", i)
		}
	}
	if t.ForceCloseTime != "" {
		if _, err := parseClock(t.ForceCloseTime); err != nil {
			return errors.Wrap(err, "time_control.force_close_time")
		}
	}
	return nil
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	tt, err := time.Parse("15:04", s)
	if err != nil {
		return 0, errors.Errorf("bad clock time %q, want HH:MM", s)
	}
	return tt.Hour()*60 + tt.Minute(), nil
}

// EntriesAllowed reports whether new entries may fire at now (UTC).
func (t TimeControl) EntriesAllowed(now time.Time) bool {
	if t.Run24h {
		return true
	}
	if len(t.Windows) == 0 {
		return false
	}
	now = now.UTC()
	minute := now.Hour()*60 + now.Minute()
	for _, w := range t.Windows {
		start, err1 := parseClock(w.Start)
		end, err2 := parseClock(w.End)
		if err1 != nil || err2 != nil {
			continue
		}
		if start < end {
			if now.Weekday() == w.Weekday && minute >= start && minute < end {
				return true
			}
			continue
		}
		// Wraps past midnight: the tail belongs to the next weekday.
		if now.Weekday() == w.Weekday && minute >= start {
			return true
		}
		if now.Weekday() == (w.Weekday+1)%7 && minute < end {
			return true
		}
	}
	return false
}

// ForceCloseDue reports whether now falls on the daily force-close minute.
func (t TimeControl) ForceCloseDue(now time.Time) bool {
	if t.ForceCloseTime == "" {
		return false
	}
	target, err := parseClock(t.ForceCloseTime)
	if err != nil {
		return false
	}
	now = now.UTC()
	return now.Hour()*60+now.Minute() == target
}

// SymbolFor returns the config for one (exchange, symbol) slot.
func (c *Config) SymbolFor(exchange, symbol string) (SymbolConfig, bool) {
	for _, s := range c.Symbols {
		if s.Exchange == exchange && s.Symbol == symbol {
			return s, true
		}
	}
	return SymbolConfig{}, false
}

// ExchangeFor returns the venue config by name.
func (c *Config) ExchangeFor(name string) (ExchangeConfig, bool) {
	for _, e := range c.Exchanges {
		if e.Name == name {
			return e, true
		}
	}
	return ExchangeConfig{}, false
}

// Store hands out the current config and swaps it atomically on reload.
// Components read a consistent snapshot per pass; a reload never tears.
type Store struct {
	p atomic.Pointer[Config]
}

// NewStore creates a store seeded with cfg.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.p.Store(cfg)
	return s
}

// Get returns the current config snapshot.
func (s *Store) Get() *Config { return s.p.Load() }

// Swap installs a new validated config and returns the previous one.
func (s *Store) Swap(cfg *Config) *Config { return s.p.Swap(cfg) }
