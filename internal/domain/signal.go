package domain

import "time"

// SignalKind separates entry proposals from exit requests.
type SignalKind string

const (
	SignalEntry SignalKind = "entry"
	SignalExit  SignalKind = "exit"
)

// Signal is an ephemeral trading proposal emitted by the signal processor.
// It is published once and never persisted.
type Signal struct {
	Kind     SignalKind
	RuleID   string
	Exchange string
	Symbol   string
	Side     Side
	Price    float64 // reference price at evaluation time
	Strength float64 // 0..1
	Time     time.Time

	// Stage is set on PCS exit signals: the rung proposed to fire next.
	Stage int
	// CloseFraction is the fraction of the initial size the exit wants to
	// close (1 for full exits).
	CloseFraction float64
	// Emergency marks a full-close request that bypasses rung sequencing
	// and risk admission.
	Emergency bool

	Meta map[string]string
}

// Key returns the (exchange, symbol) slot key the signal targets.
func (s Signal) Key() string {
	return s.Exchange + ":" + s.Symbol
}
