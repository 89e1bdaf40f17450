package connector

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/marketstate"
)

// Paper is an in-process venue that fills every order instantly at the
// last traded price. It keeps its own position book so reconciliation
// paths can be exercised against it exactly like a live venue.
type Paper struct {
	name  string
	state *marketstate.MarketState
	log   *logrus.Entry

	mu        sync.Mutex
	positions map[string]*VenuePosition // by symbol
	seenIDs   map[string]OrderResult    // client order ID dedup
	seq       int64
}

// NewPaper creates a paper venue that marks fills against state.
func NewPaper(name string, state *marketstate.MarketState, log *logrus.Entry) *Paper {
	return &Paper{
		name:      name,
		state:     state,
		log:       log,
		positions: make(map[string]*VenuePosition),
		seenIDs:   make(map[string]OrderResult),
	}
}

func (p *Paper) Name() string { return p.name }

// SubmitOrder fills at the book's last price. Requests repeating a client
// order ID return the original fill, mirroring venue-side deduplication.
func (p *Paper) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{}, &NetworkError{Venue: p.name, Err: err}
	}
	if req.Size <= 0 {
		return OrderResult{}, &RejectedError{Venue: p.name, Code: "bad_size", Reason: "size must be positive"}
	}

	price, ok := p.state.Book(req.Exchange, req.Symbol).LastPrice()
	if !ok {
		return OrderResult{}, &RejectedError{Venue: p.name, Code: "no_price", Reason: "no market data for symbol"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, dup := p.seenIDs[req.ClientOrderID]; dup && req.ClientOrderID != "" {
		return prev, nil
	}

	if err := p.apply(req, price); err != nil {
		return OrderResult{}, err
	}

	p.seq++
	res := OrderResult{
		OrderID:    "paper-" + strconv.FormatInt(p.seq, 10),
		FilledSize: req.Size,
		AvgPrice:   price,
		Timestamp:  time.Now(),
	}
	if req.ClientOrderID != "" {
		p.seenIDs[req.ClientOrderID] = res
	}
	p.log.WithFields(logrus.Fields{
		"symbol": req.Symbol,
		"side":   req.Side,
		"size":   req.Size,
		"price":  price,
	}).Debug("paper fill")
	return res, nil
}

var _ Connector = (*Paper)(nil)

func (p *Paper) apply(req OrderRequest, price float64) error {
	pos := p.positions[req.Symbol]

	if req.ReduceOnly {
		if pos == nil || pos.Side != req.Side.Opposite() {
			return &RejectedError{Venue: p.name, Code: "reduce_only", Reason: "no opposing position"}
		}
		if req.Size > pos.Size+1e-9 {
			return &RejectedError{Venue: p.name, Code: "reduce_only", Reason: "close exceeds position size"}
		}
		pos.Size -= req.Size
		if pos.Size <= 1e-9 {
			delete(p.positions, req.Symbol)
		}
		return nil
	}

	if pos != nil {
		return &RejectedError{Venue: p.name, Code: "position_exists", Reason: "one position per symbol"}
	}
	p.positions[req.Symbol] = &VenuePosition{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Size:       req.Size,
		EntryPrice: price,
	}
	return nil
}

// Positions reports the venue-side position book.
func (p *Paper) Positions(ctx context.Context) ([]VenuePosition, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "paper positions")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]VenuePosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}

// SetPosition seeds a venue-side position. Tests and recovery drills use
// it to create divergence for reconciliation to resolve.
func (p *Paper) SetPosition(symbol string, side domain.Side, size, entryPrice float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if size <= 0 {
		delete(p.positions, symbol)
		return
	}
	p.positions[symbol] = &VenuePosition{Symbol: symbol, Side: side, Size: size, EntryPrice: entryPrice}
}
