package conditions

import (
	"errors"
	"time"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/marketstate"
)

// Input is everything a rule may inspect during one evaluation pass. The
// book belongs to the same (exchange, symbol) as the condition instance;
// Position is nil for entry passes. CandleClosed marks passes triggered by
// a candle boundary, which gates rules that only act on closed candles.
type Input struct {
	Book         *marketstate.Book
	Position     *domain.Position
	Now          time.Time
	CandleClosed bool
}

// Outcome is the result of one rule evaluation. A non-fired outcome carries
// no other meaning; Stage and CloseFraction are only set by ladder exits.
type Outcome struct {
	Fired         bool
	RuleID        string
	Side          domain.Side
	Stage         int
	CloseFraction float64
	Reason        string
}

// Condition is a single stateful rule instance bound to one
// (exchange, symbol). Instances are owned by exactly one evaluator
// goroutine, so implementations keep latches and counters without locking.
// Evaluate must treat insufficient history as not-fired, not as an error.
type Condition interface {
	ID() string
	Evaluate(in Input) (Outcome, error)
}

// CombineMode selects how a rule set merges member outcomes.
type CombineMode string

const (
	// CombineAND fires only when every member fires, on the same side.
	CombineAND CombineMode = "AND"
	// CombineOR fires on the first member that fires.
	CombineOR CombineMode = "OR"
)

// Set combines several conditions under one mode. A set is itself a
// Condition, so sets nest if a strategy ever needs it.
type Set struct {
	id      string
	mode    CombineMode
	members []Condition
}

// NewSet builds a combined rule set.
func NewSet(id string, mode CombineMode, members ...Condition) *Set {
	return &Set{id: id, mode: mode, members: members}
}

func (s *Set) ID() string { return s.id }

// Evaluate applies the combine mode. Under AND, members disagreeing on side
// is treated as not-fired. Under OR, evaluation stops at the first fire so
// earlier members take precedence.
//
// The error boundary is per member: a failing rule is treated as not-fired
// and the remaining members still run, so one broken rule cannot suppress
// the rest of the set. Member errors are joined and returned alongside the
// outcome for the caller to log.
func (s *Set) Evaluate(in Input) (Outcome, error) {
	if len(s.members) == 0 {
		return Outcome{}, nil
	}

	switch s.mode {
	case CombineOR:
		var errs []error
		for _, c := range s.members {
			out, err := c.Evaluate(in)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if out.Fired {
				if out.RuleID == "" {
					out.RuleID = c.ID()
				}
				return out, errors.Join(errs...)
			}
		}
		return Outcome{}, errors.Join(errs...)
	default: // AND
		var first Outcome
		fired := true
		var errs []error
		for i, c := range s.members {
			out, err := c.Evaluate(in)
			if err != nil {
				// An unevaluable member cannot agree, so the AND pass
				// fails, but the remaining members still run.
				errs = append(errs, err)
				fired = false
				continue
			}
			if !out.Fired {
				fired = false
				continue
			}
			if i == 0 {
				first = out
				if first.RuleID == "" {
					first.RuleID = c.ID()
				}
				continue
			}
			if out.Side != first.Side {
				fired = false
			}
		}
		if !fired {
			return Outcome{}, errors.Join(errs...)
		}
		return first, errors.Join(errs...)
	}
}
