package journal

import "github.com/futbot/gofut/internal/events"

// RecordTrade satisfies the engine's Journal interface.
func (j *Journal) RecordTrade(t events.TradeEvent) error {
	return j.insert(Record{
		Kind:      t.Kind,
		Exchange:  t.Exchange,
		Symbol:    t.Symbol,
		Side:      string(t.Side),
		Size:      t.Size,
		Price:     t.Price,
		OrderID:   t.OrderID,
		Stage:     t.Stage,
		RuleID:    t.RuleID,
		PnL:       t.PnL,
		Err:       t.Err,
		CreatedAt: t.Timestamp,
	})
}
