package signalproc

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/futbot/gofut/internal/conditions"
	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/events"
	"github.com/futbot/gofut/internal/marketstate"
	"github.com/futbot/gofut/internal/timeutil"
	"github.com/futbot/gofut/internal/config"
)

const (
	testExchange = "test"
	testSymbol   = "BTCUSDT"
)

var noon = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) // a Monday

// stubPositions is a swappable PositionSource.
type stubPositions struct {
	mu  sync.Mutex
	pos *domain.Position
}

func (s *stubPositions) PositionFor(string, string) *domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos == nil {
		return nil
	}
	cp := *s.pos
	return &cp
}

func (s *stubPositions) set(pos *domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = pos
}

type fixture struct {
	proc    *Processor
	ev      *evaluator
	state   *marketstate.MarketState
	pos     *stubPositions
	signals *sink
}

// sink collects signals published on the bus.
type sink struct {
	mu   sync.Mutex
	sigs []domain.Signal
}

func (s *sink) add(sig domain.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sigs = append(s.sigs, sig)
}

func (s *sink) all() []domain.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Signal(nil), s.sigs...)
}

// settle gives the bus delivery goroutine time to drain before a
// nothing-happened assertion.
func (s *sink) settle() []domain.Signal {
	time.Sleep(50 * time.Millisecond)
	return s.all()
}

func (s *sink) waitLen(t *testing.T, n int) []domain.Signal {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := s.all(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d signals, have %d", n, len(s.all()))
	return nil
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.DryRun = true
	cfg.Symbols = []config.SymbolConfig{{
		Exchange: testExchange, Symbol: testSymbol,
		Leverage: 5, EntrySize: 10, CandleInterval: timeutil.D(time.Minute),
	}}
	cfg.Entries = []conditions.RuleConfig{{
		ID: "tick-long", Type: conditions.TypeTick,
		Tick: &conditions.TickEntryConfig{Consecutive: 1, Side: domain.SideLong},
	}}
	cfg.Exits = []conditions.RuleConfig{{
		ID: "pcs", Type: conditions.TypePCS,
		PCS: &conditions.PCSConfig{
			Interval: timeutil.D(time.Minute),
			Rungs: []conditions.PCSRung{
				{Enabled: true, TriggerPct: 1, CloseFraction: 0.5},
			},
		},
	}}
	if mutate != nil {
		mutate(cfg)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	bus := events.NewBus(64)
	state := marketstate.NewMarketState(16)
	pos := &stubPositions{}

	proc, err := New(bus, state, config.NewStore(cfg), pos, logrus.NewEntry(log))
	require.NoError(t, err)

	signals := &sink{}
	bus.Subscribe(events.TopicSignal, func(_ events.Topic, payload any) {
		if sig, ok := payload.(domain.Signal); ok {
			signals.add(sig)
		}
	})

	return &fixture{
		proc:    proc,
		ev:      proc.evaluators[testExchange+":"+testSymbol],
		state:   state,
		pos:     pos,
		signals: signals,
	}
}

func (f *fixture) tick(price float64, n int) {
	f.state.Book(testExchange, testSymbol).ApplyTick(domain.Tick{
		Exchange: testExchange, Symbol: testSymbol,
		Price: price, Timestamp: noon.Add(time.Duration(n) * time.Second),
	})
}

func openLong(entry float64) *domain.Position {
	return &domain.Position{
		ID: "pos-1", Exchange: testExchange, Symbol: testSymbol,
		Side: domain.SideLong, EntryPrice: entry,
		InitialSize: 10, Size: 10, Leverage: 5,
		OpenTime: noon, State: domain.PositionStateOpen,
	}
}

func TestPassEmitsEntrySignal(t *testing.T) {
	f := newFixture(t, nil)

	f.tick(100, 1)
	f.proc.pass(f.ev, noon) // baseline tick
	f.tick(101, 2)
	f.proc.pass(f.ev, noon.Add(time.Second))

	sigs := f.signals.waitLen(t, 1)
	require.Equal(t, domain.SignalEntry, sigs[0].Kind)
	require.Equal(t, "tick-long", sigs[0].RuleID)
	require.Equal(t, domain.SideLong, sigs[0].Side)
	require.Equal(t, 101.0, sigs[0].Price)
}

func TestExitRunsBeforeAndSuppressesEntry(t *testing.T) {
	f := newFixture(t, nil)
	f.pos.set(openLong(100))

	// Price rises enough to satisfy both the entry rule and the first
	// ladder rung; only the exit may fire.
	f.tick(100, 1)
	f.proc.pass(f.ev, noon)
	f.tick(102, 2)
	f.proc.pass(f.ev, noon.Add(time.Second))

	f.signals.waitLen(t, 1)
	sigs := f.signals.settle()
	require.Len(t, sigs, 1)
	require.Equal(t, domain.SignalExit, sigs[0].Kind)
	require.Equal(t, "pcs", sigs[0].RuleID)
	require.Equal(t, 1, sigs[0].Stage)
	require.Equal(t, 0.5, sigs[0].CloseFraction)
}

func TestEntriesGatedByTimeControl(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Time = config.TimeControl{Windows: []config.TimeWindow{
			{Weekday: time.Monday, Start: "09:00", End: "11:00"},
		}}
	})

	f.tick(100, 1)
	f.proc.pass(f.ev, noon)
	f.tick(101, 2)
	f.proc.pass(f.ev, noon.Add(time.Second)) // 12:00, outside the window
	require.Empty(t, f.signals.settle())

	// Exits are never time-gated.
	f.pos.set(openLong(100))
	f.tick(102, 3)
	f.proc.pass(f.ev, noon.Add(2*time.Second))
	sigs := f.signals.waitLen(t, 1)
	require.Equal(t, domain.SignalExit, sigs[0].Kind)
}

func TestMidTransitionSlotIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	pending := openLong(100)
	pending.State = domain.PositionStatePendingEntry
	f.pos.set(pending)

	f.tick(100, 1)
	f.proc.pass(f.ev, noon)
	f.tick(102, 2)
	f.proc.pass(f.ev, noon.Add(time.Second))

	require.Empty(t, f.signals.settle(), "no signals while the engine settles the slot")
}

func TestForceCloseFiresOncePerDay(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Time.ForceCloseTime = "12:00"
	})
	f.pos.set(openLong(100))
	f.tick(100, 1)

	f.proc.pass(f.ev, noon)
	f.proc.pass(f.ev, noon.Add(30*time.Second)) // still 12:00

	f.signals.waitLen(t, 1)
	sigs := f.signals.settle()
	require.Len(t, sigs, 1, "force close latched for the day")
	require.True(t, sigs[0].Emergency)
	require.Equal(t, "force_close_time", sigs[0].RuleID)
	require.Equal(t, 1.0, sigs[0].CloseFraction)

	// Next day, same minute: fires again.
	f.proc.pass(f.ev, noon.Add(24*time.Hour))
	sigs = f.signals.waitLen(t, 2)
	require.True(t, sigs[1].Emergency)
}

func TestRuleErrorDoesNotSuppressHealthyMembers(t *testing.T) {
	f := newFixture(t, nil)

	// An erroring member ahead of a healthy one: the healthy rule still
	// runs and its fire still becomes a signal.
	f.ev.entries = conditions.NewSet("entries", conditions.CombineOR,
		&erroring{}, mustTick(t))

	f.tick(100, 1)
	f.proc.pass(f.ev, noon) // baseline tick
	f.tick(101, 2)
	f.proc.pass(f.ev, noon.Add(time.Second))

	sigs := f.signals.waitLen(t, 1)
	require.Equal(t, domain.SignalEntry, sigs[0].Kind)
	require.Equal(t, "tick-long", sigs[0].RuleID)

	// The evaluator keeps working on later passes too.
	f.tick(102, 3)
	f.proc.pass(f.ev, noon.Add(2*time.Second))
	f.tick(103, 4)
	f.proc.pass(f.ev, noon.Add(3*time.Second))
	f.signals.waitLen(t, 2)
}

type erroring struct{}

func (e *erroring) ID() string { return "erroring" }
func (e *erroring) Evaluate(conditions.Input) (conditions.Outcome, error) {
	return conditions.Outcome{}, errors.New("orderbook history unavailable")
}

func mustTick(t *testing.T) conditions.Condition {
	t.Helper()
	c, err := conditions.NewTickEntry("tick-long", conditions.TickEntryConfig{
		Consecutive: 1, Side: domain.SideLong,
	})
	require.NoError(t, err)
	return c
}
