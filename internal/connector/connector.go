// Package connector abstracts the futures venues the engine trades on.
// Implementations translate venue-specific transports and error shapes
// into the one contract the engine understands.
package connector

import (
	"context"
	"time"

	"github.com/futbot/gofut/internal/domain"
)

// OrderRequest is a single order submission. ClientOrderID is generated by
// the engine and echoed by the venue, which makes retries idempotent on
// venues that deduplicate by client ID.
type OrderRequest struct {
	ClientOrderID string
	Exchange      string
	Symbol        string
	Side          domain.Side
	// Size is in contracts. Market orders only; the decision core does not
	// work resting orders.
	Size     float64
	Leverage int
	// ReduceOnly marks closes so a retried close can never flip the
	// position.
	ReduceOnly bool
}

// OrderResult reports a confirmed fill.
type OrderResult struct {
	OrderID    string
	FilledSize float64
	AvgPrice   float64
	Timestamp  time.Time
}

// VenuePosition is a position as the venue reports it, used to reconcile
// local state after restarts and missed fills.
type VenuePosition struct {
	Symbol     string
	Side       domain.Side
	Size       float64
	EntryPrice float64
}

// Connector is one venue's trading surface. SubmitOrder must respect ctx
// for timeout and return the typed errors from this package so callers can
// decide what is retryable.
type Connector interface {
	Name() string
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	Positions(ctx context.Context) ([]VenuePosition, error)
}
