// Package engine owns positions. It is the only component that talks to
// venues, the single writer of position state, and the place where a
// signal either becomes an order or a recorded denial.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/connector"
	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/events"
	"github.com/futbot/gofut/internal/marketstate"
	"github.com/futbot/gofut/internal/metrics"
	"github.com/futbot/gofut/internal/risk"
	"github.com/futbot/gofut/internal/config"
	"github.com/futbot/gofut/pkg/persistence"
	"github.com/futbot/gofut/pkg/syncgroup"
)

// Journal records confirmed fills. Implemented by the SQLite trade
// journal; a nil-safe no-op is used in tests.
type Journal interface {
	RecordTrade(t events.TradeEvent) error
}

// Engine consumes signals and drives the per-slot position state machine:
//
//	NONE -> PENDING_ENTRY -> OPEN -> (PARTIALLY_CLOSED <-> OPEN) -> CLOSED
//
// Every slot is served by one goroutine, so order submission, stage
// advancement, and snapshotting for a slot are strictly serialized.
type Engine struct {
	bus     *events.Bus
	state   *marketstate.MarketState
	riskMgr *risk.Manager
	store   *config.Store
	venues  map[string]connector.Connector
	journal Journal
	persist persistence.Service
	log     *logrus.Entry

	slots   map[string]*slot
	token   events.Token
	group   *syncgroup.Group
	running atomic.Bool

	// admitMu serializes admission across slots: the max-positions check
	// and the slot claim must be atomic with respect to other entries.
	admitMu sync.Mutex
}

type slot struct {
	exchange string
	symbol   string
	queue    chan domain.Signal
	snapshot persistence.Store

	// pos is owned by the slot goroutine. Readers go through published,
	// which always holds a copy.
	pos       *domain.Position
	published atomic.Pointer[domain.Position]

	// ops carries reconciliation adjustments into the slot goroutine so
	// position state keeps a single writer.
	ops chan func()
}

// New builds the engine. venues maps exchange name to its connector;
// journal and persist may not be nil.
func New(bus *events.Bus, state *marketstate.MarketState, riskMgr *risk.Manager,
	store *config.Store, venues map[string]connector.Connector,
	journal Journal, persist persistence.Service, log *logrus.Entry) *Engine {

	e := &Engine{
		bus:     bus,
		state:   state,
		riskMgr: riskMgr,
		store:   store,
		venues:  venues,
		journal: journal,
		persist: persist,
		log:     log,
		slots:   make(map[string]*slot),
		group:   syncgroup.New(),
	}
	for _, sym := range store.Get().Symbols {
		e.slots[slotKey(sym.Exchange, sym.Symbol)] = &slot{
			exchange: sym.Exchange,
			symbol:   sym.Symbol,
			queue:    make(chan domain.Signal, 16),
			ops:      make(chan func(), 4),
			snapshot: persist.NewStore("position", sym.Exchange+"_"+sym.Symbol, "snapshot"),
		}
	}
	return e
}

// Start restores snapshots, reconciles them against the venues, and begins
// consuming signals.
func (e *Engine) Start(ctx context.Context) error {
	for _, s := range e.slots {
		e.restore(s)
	}
	if err := e.Reconcile(ctx); err != nil {
		e.log.WithError(err).Warn("initial reconciliation incomplete")
	}

	e.token = e.bus.Subscribe(events.TopicSignal, func(_ events.Topic, payload any) {
		sig, ok := payload.(domain.Signal)
		if !ok {
			return
		}
		e.dispatch(sig)
	})

	e.running.Store(true)
	for _, s := range e.slots {
		s := s
		e.group.Go(func() { e.serve(ctx, s) })
	}
	e.group.Go(func() { e.reconcileLoop(ctx) })
	return nil
}

// Stop detaches from the bus and waits for slot goroutines to finish
// their current signal.
func (e *Engine) Stop() {
	e.bus.Unsubscribe(e.token)
	e.group.Wait()
}

// PositionFor returns a copy of the slot's current position, or nil when
// the slot is flat.
func (e *Engine) PositionFor(exchange, symbol string) *domain.Position {
	s, ok := e.slots[slotKey(exchange, symbol)]
	if !ok {
		return nil
	}
	pos := s.published.Load()
	if pos == nil {
		return nil
	}
	cp := *pos
	return &cp
}

// OpenPositions returns copies of all live positions.
func (e *Engine) OpenPositions() []domain.Position {
	out := make([]domain.Position, 0, len(e.slots))
	for _, s := range e.slots {
		if p := e.PositionFor(s.exchange, s.symbol); p != nil && p.IsOpen() {
			out = append(out, *p)
		}
	}
	return out
}

// openCount counts slots holding live or pending positions.
func (e *Engine) openCount() int {
	n := 0
	for _, s := range e.slots {
		if p := e.PositionFor(s.exchange, s.symbol); p != nil && p.State != domain.PositionStateClosed {
			n++
		}
	}
	return n
}

// dispatch routes a signal to its slot. A full queue means the slot is
// busy with an order; queued-behind signals would act on stale state, so
// the newest wins and the rest are dropped.
func (e *Engine) dispatch(sig domain.Signal) {
	s, ok := e.slots[sig.Key()]
	if !ok {
		return
	}
	for {
		select {
		case s.queue <- sig:
			return
		default:
			select {
			case <-s.queue: // drop the oldest queued signal
			default:
			}
		}
	}
}

func (e *Engine) serve(ctx context.Context, s *slot) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-s.ops:
			op()
		case sig := <-s.queue:
			e.handle(ctx, s, sig)
		}
	}
}

func (e *Engine) handle(ctx context.Context, s *slot, sig domain.Signal) {
	switch {
	case sig.Emergency:
		e.emergencyClose(ctx, s, sig)
	case sig.Kind == domain.SignalEntry:
		e.enter(ctx, s, sig)
	case sig.Kind == domain.SignalExit:
		e.exit(ctx, s, sig)
	}
}

// enter opens a position if risk admits the signal and the slot is flat.
// Admission and the slot claim happen under one lock: two slots deciding
// concurrently must not both pass the position-count check before either
// has claimed its slot. The claimed PENDING_ENTRY position is what the
// count sees, so the lock is released before the order goes out.
func (e *Engine) enter(ctx context.Context, s *slot, sig domain.Signal) {
	if s.pos != nil && s.pos.State != domain.PositionStateClosed {
		return // slot occupied; entry signals do not stack
	}

	e.admitMu.Lock()
	if reason := e.riskMgr.Admit(sig, e.openCount(), time.Now()); reason != "" {
		e.admitMu.Unlock()
		e.bus.Publish(events.TopicRiskDenied, events.RiskDeniedEvent{
			Signal:    sig,
			Reason:    reason,
			Timestamp: time.Now(),
		})
		return
	}

	size, leverage, ok := e.riskMgr.EntrySize(s.exchange, s.symbol)
	if !ok {
		e.admitMu.Unlock()
		return
	}
	venue, ok := e.venues[s.exchange]
	if !ok {
		e.admitMu.Unlock()
		e.log.WithField("exchange", s.exchange).Error("no connector for exchange")
		return
	}

	s.pos = &domain.Position{
		ID:       uuid.NewString(),
		Exchange: s.exchange,
		Symbol:   s.symbol,
		Side:     sig.Side,
		Leverage: leverage,
		State:    domain.PositionStatePendingEntry,
	}
	e.publishSlot(s)
	e.admitMu.Unlock()

	res, err := e.submit(ctx, venue, connector.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Exchange:      s.exchange,
		Symbol:        s.symbol,
		Side:          sig.Side,
		Size:          size,
		Leverage:      leverage,
	})
	if err != nil {
		e.riskMgr.RecordOrderError()
		e.log.WithError(err).WithField("symbol", s.symbol).Error("entry order failed")
		e.emitTrade(events.TradeEvent{
			Kind: "entry_failed", Exchange: s.exchange, Symbol: s.symbol,
			Side: sig.Side, Size: size, RuleID: sig.RuleID,
			Err: err.Error(), Timestamp: time.Now(),
		})
		s.pos = nil
		e.publishSlot(s)
		return
	}
	e.riskMgr.RecordOrderSuccess()

	s.pos.EntryPrice = res.AvgPrice
	s.pos.InitialSize = res.FilledSize
	s.pos.Size = res.FilledSize
	s.pos.OpenTime = res.Timestamp
	s.pos.State = domain.PositionStateOpen
	e.publishSlot(s)
	e.persistSlot(s)

	e.emitTrade(events.TradeEvent{
		Kind: "entry", Exchange: s.exchange, Symbol: s.symbol,
		Side: sig.Side, Size: res.FilledSize, Price: res.AvgPrice,
		OrderID: res.OrderID, RuleID: sig.RuleID, Timestamp: res.Timestamp,
	})
	e.publishPosition(s)
}

// exit handles ladder rungs and full closes. The rung's stage is applied
// to the position only after the venue confirms the fill: an unconfirmed
// rung must stay eligible to fire again.
func (e *Engine) exit(ctx context.Context, s *slot, sig domain.Signal) {
	pos := s.pos
	if pos == nil || !pos.IsOpen() {
		return
	}
	if sig.Stage > 0 && sig.Stage <= pos.Stage {
		return // stale rung, already confirmed
	}

	venue, ok := e.venues[s.exchange]
	if !ok {
		return
	}

	closeSize := e.riskMgr.CloseSize(pos, sig.CloseFraction)
	if closeSize <= 0 {
		return
	}

	res, err := e.submit(ctx, venue, connector.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Exchange:      s.exchange,
		Symbol:        s.symbol,
		Side:          pos.Side.Opposite(),
		Size:          closeSize,
		ReduceOnly:    true,
	})
	if err != nil {
		e.riskMgr.RecordOrderError()
		e.log.WithError(err).WithFields(logrus.Fields{
			"symbol": s.symbol, "stage": sig.Stage,
		}).Error("exit order failed")
		e.emitTrade(events.TradeEvent{
			Kind: "exit_failed", Exchange: s.exchange, Symbol: s.symbol,
			Side: pos.Side.Opposite(), Size: closeSize, Stage: sig.Stage,
			RuleID: sig.RuleID, Err: err.Error(), Timestamp: time.Now(),
		})
		return
	}
	e.riskMgr.RecordOrderSuccess()

	e.applyFill(s, sig, res)
}

// applyFill folds a confirmed close into the position.
func (e *Engine) applyFill(s *slot, sig domain.Signal, res connector.OrderResult) {
	pos := s.pos
	pos.Size -= res.FilledSize
	if sig.Stage > 0 {
		pos.Stage = sig.Stage
		metrics.RungFires.Add(1)
	}

	kind := "partial_close"
	if pos.Size <= 1e-9 {
		pos.Size = 0
		pos.State = domain.PositionStateClosed
		kind = "close"
	} else {
		pos.State = domain.PositionStatePartiallyClosed
	}

	pnl := realizedPnL(pos.Side, pos.EntryPrice, res.AvgPrice, res.FilledSize)
	e.riskMgr.RecordRealizedPnL(res.Timestamp, pnl)

	e.emitTrade(events.TradeEvent{
		Kind: kind, Exchange: s.exchange, Symbol: s.symbol,
		Side: pos.Side.Opposite(), Size: res.FilledSize, Price: res.AvgPrice,
		OrderID: res.OrderID, Stage: sig.Stage, RuleID: sig.RuleID,
		PnL: pnl, Timestamp: res.Timestamp,
	})

	if pos.State == domain.PositionStateClosed {
		s.pos = nil
	}
	e.publishSlot(s)
	e.persistSlot(s)
	e.publishPosition(s)
}

// emergencyClose flattens the slot immediately, bypassing admission and
// rung sequencing. A failed emergency close is retried by the next signal;
// the breaker still counts the error.
func (e *Engine) emergencyClose(ctx context.Context, s *slot, sig domain.Signal) {
	pos := s.pos
	if pos == nil || !pos.IsOpen() {
		return
	}
	venue, ok := e.venues[s.exchange]
	if !ok {
		return
	}

	metrics.EmergencyCloses.Add(1)
	e.bus.Publish(events.TopicEmergencyClose, events.EmergencyCloseEvent{
		Exchange:  s.exchange,
		Symbol:    s.symbol,
		Reason:    sig.RuleID,
		Timestamp: time.Now(),
	})

	res, err := e.submit(ctx, venue, connector.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Exchange:      s.exchange,
		Symbol:        s.symbol,
		Side:          pos.Side.Opposite(),
		Size:          pos.Size,
		ReduceOnly:    true,
	})
	if err != nil {
		e.riskMgr.RecordOrderError()
		e.log.WithError(err).WithField("symbol", s.symbol).Error("emergency close failed")
		return
	}
	e.riskMgr.RecordOrderSuccess()

	sig.Stage = 0
	sig.CloseFraction = 1
	e.applyFill(s, sig, res)
}

// submit places one order with bounded retries. Only errors the connector
// marks retryable are retried, always under the same client order ID, so
// a venue that accepted the first attempt rejects the duplicate instead of
// doubling the position.
func (e *Engine) submit(ctx context.Context, venue connector.Connector, req connector.OrderRequest) (connector.OrderResult, error) {
	rc := e.store.Get().Risk
	backoff := 250 * time.Millisecond

	var res connector.OrderResult
	var err error
	for attempt := 0; attempt <= rc.OrderRetries; attempt++ {
		if attempt > 0 {
			metrics.OrderRetries.Add(1)
			wait := backoff
			if after, ok := connector.RetryAfter(err); ok {
				wait = after
			}
			select {
			case <-ctx.Done():
				return connector.OrderResult{}, ctx.Err()
			case <-time.After(wait):
			}
			backoff *= 2
		}

		attemptCtx, cancel := context.WithTimeout(ctx, rc.OrderTimeout.Duration)
		res, err = venue.SubmitOrder(attemptCtx, req)
		cancel()
		if err == nil {
			return res, nil
		}
		if !connector.Retryable(err) {
			return connector.OrderResult{}, err
		}
	}
	return connector.OrderResult{}, err
}

func (e *Engine) emitTrade(t events.TradeEvent) {
	if err := e.journal.RecordTrade(t); err != nil {
		e.log.WithError(err).Warn("journal write failed")
	}
	e.bus.Publish(events.TopicTrade, t)
}

func (e *Engine) publishPosition(s *slot) {
	var pos domain.Position
	if s.pos != nil {
		pos = *s.pos
	} else {
		pos = domain.Position{
			Exchange: s.exchange, Symbol: s.symbol,
			State: domain.PositionStateClosed,
		}
	}
	e.bus.Publish(events.TopicPositionUpdate, events.PositionUpdateEvent{
		Position:  pos,
		Timestamp: time.Now(),
	})
}

// publishSlot refreshes the copy PositionFor reads.
func (e *Engine) publishSlot(s *slot) {
	if s.pos == nil {
		s.published.Store(nil)
		return
	}
	cp := *s.pos
	s.published.Store(&cp)
}

func (e *Engine) persistSlot(s *slot) {
	var snap domain.Position
	if s.pos != nil {
		snap = *s.pos
	} else {
		snap = domain.Position{
			Exchange: s.exchange, Symbol: s.symbol,
			State: domain.PositionStateClosed,
		}
	}
	if err := s.snapshot.Save(snap); err != nil {
		e.log.WithError(err).Warn("snapshot save failed")
		return
	}
	metrics.SnapshotSaves.Add(1)
}

func (e *Engine) restore(s *slot) {
	var snap domain.Position
	err := s.snapshot.Load(&snap)
	if err != nil {
		if err != persistence.ErrNotExists {
			e.log.WithError(err).Warn("snapshot load failed")
		}
		e.publishSlot(s)
		return
	}
	metrics.SnapshotLoads.Add(1)
	if snap.IsOpen() {
		s.pos = &snap
		e.log.WithFields(logrus.Fields{
			"symbol": s.symbol, "side": snap.Side, "size": snap.Size, "stage": snap.Stage,
		}).Info("restored position from snapshot")
	}
	e.publishSlot(s)
}

func realizedPnL(side domain.Side, entry, exit, size float64) float64 {
	diff := exit - entry
	if side == domain.SideShort {
		diff = -diff
	}
	return diff * size
}

func slotKey(exchange, symbol string) string {
	return exchange + ":" + symbol
}
