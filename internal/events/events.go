package events

import (
	"time"

	"github.com/futbot/gofut/internal/domain"
)

// Payloads published on the bus. Market data topics carry the domain value
// directly (domain.Tick, domain.Candle, domain.OrderbookSnapshot) and
// TopicSignal carries domain.Signal; the structs below cover the
// engine-facing topics consumed by presentation collaborators.

// TradeEvent reports one order round-trip with the exchange, successful or
// not. Err is the flattened error string so subscribers outside the process
// can render it.
type TradeEvent struct {
	Kind      string // "entry", "partial_close", "close", "emergency_close"
	Exchange  string
	Symbol    string
	Side      domain.Side
	Size      float64
	Price     float64
	OrderID   string
	Stage     int
	RuleID    string
	// PnL is the realized profit of a closing fill, zero for entries.
	PnL       float64
	Err       string
	Timestamp time.Time
}

// PositionUpdateEvent carries a copy of the position after a state change.
type PositionUpdateEvent struct {
	Position  domain.Position
	Timestamp time.Time
}

// RiskDeniedEvent reports an admission denial. Denials are normal control
// flow, not errors; position state is unchanged.
type RiskDeniedEvent struct {
	Signal    domain.Signal
	Reason    string
	Timestamp time.Time
}

// EmergencyCloseEvent reports a requested or completed emergency close.
type EmergencyCloseEvent struct {
	Exchange  string
	Symbol    string
	Reason    string
	Timestamp time.Time
}
