// Package signalproc turns market state into trade signals. Each traded
// symbol gets one evaluator goroutine that owns that symbol's rule
// instances, so rule latches never need locks and signal order per symbol
// is total.
package signalproc

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/conditions"
	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/events"
	"github.com/futbot/gofut/internal/marketstate"
	"github.com/futbot/gofut/internal/metrics"
	"github.com/futbot/gofut/internal/config"
	"github.com/futbot/gofut/pkg/sigchan"
	"github.com/futbot/gofut/pkg/syncgroup"
)

// PositionSource is the engine's read surface: the current position for a
// slot, or nil when the slot is empty or mid-transition.
type PositionSource interface {
	PositionFor(exchange, symbol string) *domain.Position
}

// Processor owns one evaluator per configured symbol. Evaluators wake on
// market-data events for their symbol and on a fallback ticker so quiet
// markets still get exit passes.
type Processor struct {
	bus       *events.Bus
	state     *marketstate.MarketState
	store     *config.Store
	positions PositionSource
	log       *logrus.Entry

	evaluators map[string]*evaluator
	tokens     []events.Token
	group      *syncgroup.Group
}

type evaluator struct {
	exchange string
	symbol   string
	entries  *conditions.Set
	exits    *conditions.Set

	wake         *sigchan.Chan
	candleClosed atomic.Bool // a closed candle arrived since the last pass
	forcedDay    atomic.Int64 // YYYYMMDD of the last force-close fire
}

// New builds the processor and its per-symbol rule instances from the
// current config. Rule sets are fixed for the processor's lifetime;
// limits and time control are re-read from the store every pass.
func New(bus *events.Bus, state *marketstate.MarketState, store *config.Store, positions PositionSource, log *logrus.Entry) (*Processor, error) {
	cfg := store.Get()
	p := &Processor{
		bus:        bus,
		state:      state,
		store:      store,
		positions:  positions,
		log:        log,
		evaluators: make(map[string]*evaluator, len(cfg.Symbols)),
		group:      syncgroup.New(),
	}

	for _, sym := range cfg.Symbols {
		entries, err := conditions.BuildSet("entries", cfg.EntryMode, cfg.Entries)
		if err != nil {
			return nil, err
		}
		exits, err := conditions.BuildSet("exits", cfg.ExitMode, cfg.Exits)
		if err != nil {
			return nil, err
		}
		key := sym.Exchange + ":" + sym.Symbol
		p.evaluators[key] = &evaluator{
			exchange: sym.Exchange,
			symbol:   sym.Symbol,
			entries:  entries,
			exits:    exits,
			wake:     sigchan.New(1),
		}
	}
	return p, nil
}

// Start subscribes to market data and launches the evaluators. It returns
// immediately; Stop tears everything down.
func (p *Processor) Start(ctx context.Context) {
	p.tokens = append(p.tokens,
		p.bus.Subscribe(events.TopicTick, func(_ events.Topic, payload any) {
			if t, ok := payload.(domain.Tick); ok {
				p.wakeFor(t.Exchange, t.Symbol, false)
			}
		}),
		p.bus.Subscribe(events.TopicCandle, func(_ events.Topic, payload any) {
			if c, ok := payload.(domain.Candle); ok {
				p.wakeFor(c.Exchange, c.Symbol, c.IsClosed)
			}
		}),
		p.bus.Subscribe(events.TopicOrderbook, func(_ events.Topic, payload any) {
			if o, ok := payload.(domain.OrderbookSnapshot); ok {
				p.wakeFor(o.Exchange, o.Symbol, false)
			}
		}),
	)

	for _, ev := range p.evaluators {
		ev := ev
		p.group.Go(func() { p.run(ctx, ev) })
	}
}

// Stop unsubscribes and waits for the evaluators to drain.
func (p *Processor) Stop() {
	for _, tok := range p.tokens {
		p.bus.Unsubscribe(tok)
	}
	p.group.Wait()
}

func (p *Processor) wakeFor(exchange, symbol string, candleClosed bool) {
	ev, ok := p.evaluators[exchange+":"+symbol]
	if !ok {
		return
	}
	if candleClosed {
		ev.candleClosed.Store(true)
	}
	ev.wake.Emit()
}

func (p *Processor) run(ctx context.Context, ev *evaluator) {
	interval := p.store.Get().FallbackInterval.Duration
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ev.wake.C():
		case <-ticker.C:
		}
		p.pass(ev, time.Now())
	}
}

// pass runs one evaluation. Exits run first and an exit fire skips the
// entry side entirely, so one pass can never both close and reopen.
func (p *Processor) pass(ev *evaluator, now time.Time) {
	cfg := p.store.Get()
	in := conditions.Input{
		Book:         p.state.Book(ev.exchange, ev.symbol),
		Now:          now,
		CandleClosed: ev.candleClosed.Swap(false),
	}

	pos := p.positions.PositionFor(ev.exchange, ev.symbol)
	if pos != nil && pos.IsOpen() {
		in.Position = pos

		if cfg.Time.ForceCloseDue(now) && p.markForced(ev, now) {
			p.emitForceClose(ev, now)
			return
		}

		out := p.evaluate(ev.exits, in)
		if out.Fired {
			p.emitExit(ev, pos, out, now)
			return
		}
		return
	}

	if pos != nil {
		return // slot mid-transition, let the engine settle it
	}
	if !cfg.Time.EntriesAllowed(now) {
		return
	}

	out := p.evaluate(ev.entries, in)
	if out.Fired {
		p.emitEntry(ev, out, now)
	}
}

// evaluate logs and counts rule errors without discarding the outcome: the
// set's error boundary is per member, so the outcome it returns already
// reflects every rule that could be evaluated.
func (p *Processor) evaluate(set *conditions.Set, in conditions.Input) conditions.Outcome {
	out, err := set.Evaluate(in)
	if err != nil {
		metrics.RuleEvalErrors.Add(1)
		p.log.WithError(err).WithFields(logrus.Fields{
			"set":    set.ID(),
			"symbol": in.Book.Symbol(),
		}).Error("rule evaluation failed")
	}
	return out
}

func (p *Processor) emitEntry(ev *evaluator, out conditions.Outcome, now time.Time) {
	price, _ := p.state.Book(ev.exchange, ev.symbol).LastPrice()
	metrics.SignalsEntry.Add(1)
	p.bus.Publish(events.TopicSignal, domain.Signal{
		Kind:     domain.SignalEntry,
		RuleID:   out.RuleID,
		Exchange: ev.exchange,
		Symbol:   ev.symbol,
		Side:     out.Side,
		Price:    price,
		Time:     now,
		Meta:     map[string]string{"reason": out.Reason},
	})
}

func (p *Processor) emitExit(ev *evaluator, pos *domain.Position, out conditions.Outcome, now time.Time) {
	price, _ := p.state.Book(ev.exchange, ev.symbol).LastPrice()
	metrics.SignalsExit.Add(1)
	p.bus.Publish(events.TopicSignal, domain.Signal{
		Kind:          domain.SignalExit,
		RuleID:        out.RuleID,
		Exchange:      ev.exchange,
		Symbol:        ev.symbol,
		Side:          out.Side,
		Price:         price,
		Time:          now,
		Stage:         out.Stage,
		CloseFraction: out.CloseFraction,
		Meta:          map[string]string{"reason": out.Reason},
	})
}

func (p *Processor) emitForceClose(ev *evaluator, now time.Time) {
	price, _ := p.state.Book(ev.exchange, ev.symbol).LastPrice()
	metrics.SignalsExit.Add(1)
	p.log.WithField("symbol", ev.symbol).Warn("daily force close")
	p.bus.Publish(events.TopicSignal, domain.Signal{
		Kind:          domain.SignalExit,
		RuleID:        "force_close_time",
		Exchange:      ev.exchange,
		Symbol:        ev.symbol,
		Price:         price,
		Time:          now,
		CloseFraction: 1,
		Emergency:     true,
	})
}

// markForced latches the force close to once per UTC day.
func (p *Processor) markForced(ev *evaluator, now time.Time) bool {
	now = now.UTC()
	key := int64(now.Year()*10000 + int(now.Month())*100 + now.Day())
	return ev.forcedDay.Swap(key) != key
}
