package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/futbot/gofut/internal/conditions"
	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/timeutil"
)

func validConfig() *Config {
	cfg := Default()
	cfg.DryRun = true
	cfg.Symbols = []SymbolConfig{{
		Exchange: "binance", Symbol: "BTCUSDT",
		Leverage: 5, EntrySize: 10, CandleInterval: timeutil.D(time.Minute),
	}}
	cfg.Entries = []conditions.RuleConfig{{
		ID: "ma-long", Type: conditions.TypeMA,
		MA: &conditions.MAConfig{
			Interval: timeutil.D(time.Minute), Period: 5,
			Variant: conditions.MACloseAbove, Side: domain.SideLong,
		},
	}}
	return cfg
}

func TestValidateAcceptsWorkingConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no symbols", func(c *Config) { c.Symbols = nil }},
		{"zero leverage", func(c *Config) { c.Symbols[0].Leverage = 0 }},
		{"negative entry size", func(c *Config) { c.Symbols[0].EntrySize = -1 }},
		{"leverage above risk cap", func(c *Config) {
			c.Risk.MaxLeverage = 3
			c.Symbols[0].Leverage = 5
		}},
		{"duplicate symbol", func(c *Config) {
			c.Symbols = append(c.Symbols, c.Symbols[0])
		}},
		{"live run without exchange block", func(c *Config) { c.DryRun = false }},
		{"bad entry mode", func(c *Config) { c.EntryMode = "XOR" }},
		{"rule without section", func(c *Config) {
			c.Entries = []conditions.RuleConfig{{ID: "r", Type: conditions.TypeChannel}}
		}},
		{"bad ladder", func(c *Config) {
			c.Exits = []conditions.RuleConfig{{
				ID: "pcs", Type: conditions.TypePCS,
				PCS: &conditions.PCSConfig{Interval: timeutil.D(time.Minute), Rungs: []conditions.PCSRung{
					{Enabled: true, TriggerPct: 1, CloseFraction: 0.7},
					{Enabled: true, TriggerPct: 2, CloseFraction: 0.7},
				}},
			}}
		}},
		{"bad force close time", func(c *Config) { c.Time.ForceCloseTime = "25:99" }},
		{"zero order timeout", func(c *Config) { c.Risk.OrderTimeout = timeutil.Duration{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
dry_run: true
symbols:
  - exchange: binance
    symbol: BTCUSDT
    leverage: 5
    entry_size: 10
    candle_interval: 1m
entries:
  - id: tick-long
    type: tick
    tick:
      consecutive: 3
      side: long
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.True(t, cfg.DryRun)
	require.Len(t, cfg.Symbols, 1)
	require.Equal(t, time.Minute, cfg.Symbols[0].CandleInterval.Duration)
	// Untouched defaults survive.
	require.Equal(t, 1024, cfg.EventBufferSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("FUTBOT_LOG_LEVEL", "warn")
	t.Setenv("FUTBOT_DRY_RUN", "true")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
symbols:
  - exchange: binance
    symbol: BTCUSDT
    leverage: 5
    entry_size: 10
    candle_interval: 1m
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.LogLevel)
	require.True(t, cfg.DryRun)
}

func TestEntriesAllowedWithinWindow(t *testing.T) {
	tc := TimeControl{Windows: []TimeWindow{
		{Weekday: time.Monday, Start: "09:00", End: "17:00"},
	}}

	monday := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) // a Monday
	require.True(t, tc.EntriesAllowed(monday))
	require.False(t, tc.EntriesAllowed(monday.Add(8*time.Hour)), "17:00 end is exclusive")
	require.False(t, tc.EntriesAllowed(monday.Add(24*time.Hour)), "Tuesday")
}

func TestEntriesAllowedWrapsPastMidnight(t *testing.T) {
	tc := TimeControl{Windows: []TimeWindow{
		{Weekday: time.Monday, Start: "22:00", End: "02:00"},
	}}

	monday23 := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	require.True(t, tc.EntriesAllowed(monday23))

	tuesday01 := monday23.Add(2 * time.Hour)
	require.True(t, tc.EntriesAllowed(tuesday01), "tail of the window belongs to Tuesday")

	tuesday03 := monday23.Add(4 * time.Hour)
	require.False(t, tc.EntriesAllowed(tuesday03))

	monday21 := monday23.Add(-2 * time.Hour)
	require.False(t, tc.EntriesAllowed(monday21))
}

func TestRun24hIgnoresWindows(t *testing.T) {
	tc := TimeControl{Run24h: true, Windows: []TimeWindow{
		{Weekday: time.Monday, Start: "09:00", End: "10:00"},
	}}
	sunday := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	require.True(t, tc.EntriesAllowed(sunday))
}

func TestForceCloseDueMatchesExactMinute(t *testing.T) {
	tc := TimeControl{ForceCloseTime: "23:50"}

	at := time.Date(2026, 3, 2, 23, 50, 30, 0, time.UTC)
	require.True(t, tc.ForceCloseDue(at))
	require.False(t, tc.ForceCloseDue(at.Add(time.Minute)))
	require.False(t, tc.ForceCloseDue(at.Add(-time.Minute)))

	require.False(t, TimeControl{}.ForceCloseDue(at))
}

func TestStoreSwapIsVisibleToReaders(t *testing.T) {
	a := validConfig()
	store := NewStore(a)
	require.Same(t, a, store.Get())

	b := validConfig()
	b.LogLevel = "debug"
	old := store.Swap(b)
	require.Same(t, a, old)
	require.Same(t, b, store.Get())
}
