package domain

import "time"

// Side is the direction of a position or signal.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the closing direction for a side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

func (s Side) IsLong() bool  { return s == SideLong }
func (s Side) IsShort() bool { return s == SideShort }

// PositionState is the lifecycle state of a per-(exchange, symbol) slot.
//
//	NONE -> PENDING_ENTRY -> OPEN -> (PARTIALLY_CLOSED <-> OPEN) -> CLOSED
//
// Any non-terminal state may jump straight to CLOSED via emergency close.
type PositionState string

const (
	PositionStateNone            PositionState = "none"
	PositionStatePendingEntry    PositionState = "pending_entry"
	PositionStateOpen            PositionState = "open"
	PositionStatePartiallyClosed PositionState = "partially_closed"
	PositionStateClosed          PositionState = "closed"
)

// MaxPCSStage is the number of rungs in the partial-close ladder.
const MaxPCSStage = 12

// Position is the engine-owned record of one open futures position.
// Stage counts the PCS rungs that have fired; it only ever increases while
// the position lives and resets by the position closing.
type Position struct {
	ID          string        `json:"id"`
	Exchange    string        `json:"exchange"`
	Symbol      string        `json:"symbol"`
	Side        Side          `json:"side"`
	EntryPrice  float64       `json:"entry_price"`
	InitialSize float64       `json:"initial_size"`
	Size        float64       `json:"size"` // remaining size
	Leverage    int           `json:"leverage"`
	OpenTime    time.Time     `json:"open_time"`
	Stage       int           `json:"stage"` // 0..MaxPCSStage, monotonic
	State       PositionState `json:"state"`
}

// Key returns the (exchange, symbol) slot key.
func (p *Position) Key() string {
	return p.Exchange + ":" + p.Symbol
}

// IsOpen reports whether the position holds size on the exchange.
func (p *Position) IsOpen() bool {
	return p.State == PositionStateOpen || p.State == PositionStatePartiallyClosed
}

// UnrealizedPnLPct returns the signed unrealized PnL as a percentage of
// the entry price (2.0 = +2%). Shorts profit when price falls.
func (p *Position) UnrealizedPnLPct(currentPrice float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	move := (currentPrice - p.EntryPrice) / p.EntryPrice * 100
	if p.Side == SideShort {
		move = -move
	}
	return move
}

// UnrealizedPnL returns the unrealized PnL in quote currency for the
// remaining size.
func (p *Position) UnrealizedPnL(currentPrice float64) float64 {
	diff := currentPrice - p.EntryPrice
	if p.Side == SideShort {
		diff = -diff
	}
	return diff * p.Size
}
