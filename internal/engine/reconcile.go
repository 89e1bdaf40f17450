package engine

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/connector"
	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/metrics"
)

const reconcileInterval = 30 * time.Second

// reconcileLoop keeps local position state aligned with the venues. A
// missed fill or a restart mid-order leaves the venue as the source of
// truth, so divergence always resolves toward the venue.
func (e *Engine) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := e.Reconcile(ctx); err != nil {
			metrics.ReconcileErrors.Add(1)
			e.log.WithError(err).Warn("reconciliation failed")
		}
	}
}

// Reconcile polls every venue once and adjusts diverged slots. It is also
// called at startup, before signal consumption begins, and by the control
// plane on demand.
func (e *Engine) Reconcile(ctx context.Context) error {
	metrics.ReconcileRuns.Add(1)

	var firstErr error
	for exchange, venue := range e.venues {
		venuePositions, err := venue.Positions(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		bySymbol := make(map[string]connector.VenuePosition, len(venuePositions))
		for _, vp := range venuePositions {
			bySymbol[vp.Symbol] = vp
		}

		for _, s := range e.slots {
			if s.exchange != exchange {
				continue
			}
			vp, onVenue := bySymbol[s.symbol]
			e.adjust(ctx, s, vp, onVenue)
		}
	}
	return firstErr
}

// adjust hands the divergence check to the slot goroutine. During startup,
// before the slot goroutines exist, it applies inline; once running, a
// full ops queue just defers the fix to the next reconcile tick.
func (e *Engine) adjust(ctx context.Context, s *slot, vp connector.VenuePosition, onVenue bool) {
	if !e.running.Load() {
		e.applyVenueState(s, vp, onVenue)
		return
	}
	select {
	case s.ops <- func() { e.applyVenueState(s, vp, onVenue) }:
	case <-ctx.Done():
	default:
	}
}

func (e *Engine) applyVenueState(s *slot, vp connector.VenuePosition, onVenue bool) {
	local := s.pos
	localOpen := local != nil && local.IsOpen()

	switch {
	case !localOpen && !onVenue:
		return

	case localOpen && !onVenue:
		// Venue says flat: the close we thought failed actually filled.
		e.log.WithFields(logrus.Fields{
			"symbol": s.symbol, "size": local.Size,
		}).Warn("position gone on venue, closing locally")
		s.pos = nil
		e.publishSlot(s)
		e.persistSlot(s)
		e.publishPosition(s)

	case !localOpen && onVenue:
		// Unknown venue position: adopt it so exits can manage it.
		e.log.WithFields(logrus.Fields{
			"symbol": s.symbol, "side": vp.Side, "size": vp.Size,
		}).Warn("adopting untracked venue position")
		s.pos = &domain.Position{
			ID:          "adopted-" + s.symbol,
			Exchange:    s.exchange,
			Symbol:      s.symbol,
			Side:        vp.Side,
			EntryPrice:  vp.EntryPrice,
			InitialSize: vp.Size,
			Size:        vp.Size,
			OpenTime:    time.Now(),
			State:       domain.PositionStateOpen,
		}
		e.publishSlot(s)
		e.persistSlot(s)
		e.publishPosition(s)

	default:
		if math.Abs(local.Size-vp.Size) < 1e-9 && local.Side == vp.Side {
			return
		}
		e.log.WithFields(logrus.Fields{
			"symbol": s.symbol, "local": local.Size, "venue": vp.Size,
		}).Warn("position size diverged, adopting venue size")
		local.Side = vp.Side
		local.Size = vp.Size
		if local.Size < local.InitialSize {
			local.State = domain.PositionStatePartiallyClosed
		}
		e.publishSlot(s)
		e.persistSlot(s)
		e.publishPosition(s)
	}
}
