package risk

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/metrics"
	"github.com/futbot/gofut/internal/config"
)

// Denial reasons reported on rejected admissions. These are stable strings:
// they appear in events, the journal, and operator dashboards.
const (
	DenyHalted          = "halted"
	DenyMaxPositions    = "max_positions"
	DenyMaxLeverage     = "max_leverage"
	DenyMaxPositionSize = "max_position_size"
	DenyDailyLossLimit  = "daily_loss_limit"
	DenyUnknownSymbol   = "unknown_symbol"
)

// Manager is the admission gate between signals and orders. Every entry
// passes through Admit before the engine may submit; exits are never
// blocked, and emergency closes bypass even the circuit breaker.
type Manager struct {
	store   *config.Store
	breaker *CircuitBreaker
	log     *logrus.Entry
}

// NewManager builds the admission gate.
func NewManager(store *config.Store, breaker *CircuitBreaker, log *logrus.Entry) *Manager {
	return &Manager{store: store, breaker: breaker, log: log}
}

// Breaker exposes the circuit breaker for the engine's order-result hooks
// and the control plane's resume endpoint.
func (m *Manager) Breaker() *CircuitBreaker { return m.breaker }

// Admit checks an entry signal against the risk limits. openPositions is
// the engine's current count of live position slots. An empty reason means
// the entry is admitted.
func (m *Manager) Admit(sig domain.Signal, openPositions int, now time.Time) (reason string) {
	defer func() {
		if reason == "" {
			metrics.AdmissionsOK.Add(1)
		} else {
			metrics.AdmissionsDenied.Add(1)
			m.log.WithFields(logrus.Fields{
				"rule":   sig.RuleID,
				"symbol": sig.Symbol,
				"reason": reason,
			}).Warn("entry denied")
		}
	}()

	// A new UTC day clears yesterday's loss-limit trip before the halt
	// check reads it.
	m.breaker.Tick(now)

	if halted, why := m.breaker.Halted(); halted {
		if why == "daily loss limit" {
			return DenyDailyLossLimit
		}
		return DenyHalted
	}

	cfg := m.store.Get()
	sym, ok := cfg.SymbolFor(sig.Exchange, sig.Symbol)
	if !ok {
		return DenyUnknownSymbol
	}
	if cfg.Risk.MaxPositions > 0 && openPositions >= cfg.Risk.MaxPositions {
		return DenyMaxPositions
	}
	if cfg.Risk.MaxLeverage > 0 && sym.Leverage > cfg.Risk.MaxLeverage {
		return DenyMaxLeverage
	}
	if cfg.Risk.MaxPositionSize > 0 && sym.EntrySize > cfg.Risk.MaxPositionSize {
		return DenyMaxPositionSize
	}
	if cfg.Risk.DailyLossLimit > 0 &&
		m.breaker.DailyPnL(now) <= -cfg.Risk.DailyLossLimit {
		return DenyDailyLossLimit
	}
	return ""
}

// EntrySize returns the size and leverage a new position opens with.
func (m *Manager) EntrySize(exchange, symbol string) (size float64, leverage int, ok bool) {
	sym, ok := m.store.Get().SymbolFor(exchange, symbol)
	if !ok {
		return 0, 0, false
	}
	return sym.EntrySize, sym.Leverage, true
}

// CloseSize converts a ladder rung's close fraction into an order size.
// The fraction applies to the position's initial size, computed in decimal
// so twelve rungs of repeated float arithmetic cannot over- or under-close,
// then capped at the remaining size. The final enabled rung closing
// whatever remains is the cap, not a special case.
func (m *Manager) CloseSize(pos *domain.Position, fraction float64) float64 {
	if fraction >= 1 {
		return pos.Size
	}
	want := decimal.NewFromFloat(pos.InitialSize).
		Mul(decimal.NewFromFloat(fraction))
	remaining := decimal.NewFromFloat(pos.Size)
	if want.GreaterThan(remaining) {
		want = remaining
	}
	f, _ := want.Float64()
	return f
}

// RecordOrderError feeds the circuit breaker after a failed submission.
func (m *Manager) RecordOrderError() { m.breaker.RecordOrderError() }

// RecordOrderSuccess resets the breaker's error streak.
func (m *Manager) RecordOrderSuccess() { m.breaker.RecordOrderSuccess() }

// RecordRealizedPnL feeds a fill's realized PnL into the daily loss check.
func (m *Manager) RecordRealizedPnL(now time.Time, pnl float64) {
	m.breaker.RecordRealizedPnL(now, pnl)
}
