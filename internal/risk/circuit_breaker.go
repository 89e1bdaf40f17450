package risk

import (
	"sync/atomic"
	"time"
)

// CircuitBreaker halts new entries after repeated order failures or once
// realized losses for the UTC day breach the limit. It is read on the hot
// admission path, so everything is atomic; the daily PnL counter rolls
// over lazily when a new UTC day is first observed.
type CircuitBreaker struct {
	maxConsecutiveErrors int64
	dailyLossLimit       float64 // quote currency, positive number

	halted            atomic.Bool
	haltReason        atomic.Pointer[string]
	consecutiveErrors atomic.Int64
	dailyPnLMilli     atomic.Int64 // realized PnL in 1/1000 quote units
	dayKey            atomic.Int64 // YYYYMMDD of the counter's UTC day
}

// NewCircuitBreaker builds a breaker. Zero maxConsecutiveErrors disables
// the error trip; zero dailyLossLimit disables the loss trip.
func NewCircuitBreaker(maxConsecutiveErrors int, dailyLossLimit float64) *CircuitBreaker {
	return &CircuitBreaker{
		maxConsecutiveErrors: int64(maxConsecutiveErrors),
		dailyLossLimit:       dailyLossLimit,
	}
}

// Halted reports whether entries are blocked, with the trip reason.
func (cb *CircuitBreaker) Halted() (bool, string) {
	if !cb.halted.Load() {
		return false, ""
	}
	if r := cb.haltReason.Load(); r != nil {
		return true, *r
	}
	return true, "halted"
}

// RecordOrderError counts a failed order. Reaching the consecutive-error
// limit trips the breaker.
func (cb *CircuitBreaker) RecordOrderError() {
	n := cb.consecutiveErrors.Add(1)
	if cb.maxConsecutiveErrors > 0 && n >= cb.maxConsecutiveErrors {
		cb.trip("consecutive order errors")
	}
}

// RecordOrderSuccess resets the consecutive-error streak.
func (cb *CircuitBreaker) RecordOrderSuccess() {
	cb.consecutiveErrors.Store(0)
}

// RecordRealizedPnL folds a fill's realized PnL into the daily counter and
// trips the breaker when the day's losses breach the limit.
func (cb *CircuitBreaker) RecordRealizedPnL(now time.Time, pnl float64) {
	cb.rollDayIfNeeded(now)
	total := cb.dailyPnLMilli.Add(int64(pnl * 1000))
	if cb.dailyLossLimit > 0 && float64(total)/1000 <= -cb.dailyLossLimit {
		cb.trip("daily loss limit")
	}
}

// DailyPnL returns the realized PnL accumulated for now's UTC day.
func (cb *CircuitBreaker) DailyPnL(now time.Time) float64 {
	cb.rollDayIfNeeded(now)
	return float64(cb.dailyPnLMilli.Load()) / 1000
}

// Tick observes the current time, rolling the daily counter (and clearing
// a previous day's loss-limit trip) once a new UTC day begins.
func (cb *CircuitBreaker) Tick(now time.Time) {
	cb.rollDayIfNeeded(now)
}

// Pause trips the breaker manually (operator action via the control plane).
func (cb *CircuitBreaker) Pause() {
	cb.trip("paused by operator")
}

// Resume clears a trip manually (operator action via the control plane).
func (cb *CircuitBreaker) Resume() {
	cb.consecutiveErrors.Store(0)
	cb.haltReason.Store(nil)
	cb.halted.Store(false)
}

func (cb *CircuitBreaker) trip(reason string) {
	cb.haltReason.Store(&reason)
	cb.halted.Store(true)
}

// rollDayIfNeeded resets the daily counter when the UTC day changes. CAS
// on the day key makes exactly one caller perform the reset.
func (cb *CircuitBreaker) rollDayIfNeeded(now time.Time) {
	now = now.UTC()
	key := int64(now.Year()*10000 + int(now.Month())*100 + now.Day())
	old := cb.dayKey.Load()
	if old == key {
		return
	}
	if cb.dayKey.CompareAndSwap(old, key) {
		cb.dailyPnLMilli.Store(0)
		// A loss-limit trip belongs to its day; error trips persist.
		if h, reason := cb.Halted(); h && reason == "daily loss limit" {
			cb.Resume()
		}
	}
}
