package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/events"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func trade(kind string, pnl float64, at time.Time) events.TradeEvent {
	return events.TradeEvent{
		Kind:      kind,
		Exchange:  "test",
		Symbol:    "BTCUSDT",
		Side:      domain.SideLong,
		Size:      10,
		Price:     100,
		OrderID:   "ord-1",
		RuleID:    "pcs",
		PnL:       pnl,
		Timestamp: at,
	}
}

func TestRecordAndRecentTrades(t *testing.T) {
	j := openTemp(t)
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordTrade(trade("entry", 0, at)))
	require.NoError(t, j.RecordTrade(trade("partial_close", 12.5, at.Add(time.Minute))))
	require.NoError(t, j.RecordTrade(trade("close", -4, at.Add(2*time.Minute))))

	got, err := j.RecentTrades(10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Newest first.
	require.Equal(t, "close", got[0].Kind)
	require.Equal(t, "partial_close", got[1].Kind)
	require.Equal(t, "entry", got[2].Kind)
	require.Equal(t, 12.5, got[1].PnL)
	require.Equal(t, "BTCUSDT", got[0].Symbol)
	require.Equal(t, string(domain.SideLong), got[0].Side)
}

func TestRecentTradesHonorsLimit(t *testing.T) {
	j := openTemp(t)
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, j.RecordTrade(trade("entry", 0, at.Add(time.Duration(i)*time.Second))))
	}

	got, err := j.RecentTrades(2)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestDailyRealizedPnLSumsOneUTCDay(t *testing.T) {
	j := openTemp(t)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordTrade(trade("close", 30, day.Add(9*time.Hour))))
	require.NoError(t, j.RecordTrade(trade("partial_close", -10, day.Add(23*time.Hour+59*time.Minute))))
	// Previous and next day must not count.
	require.NoError(t, j.RecordTrade(trade("close", 500, day.Add(-time.Minute))))
	require.NoError(t, j.RecordTrade(trade("close", 500, day.Add(24*time.Hour))))

	pnl, err := j.DailyRealizedPnL(day.Add(12 * time.Hour))
	require.NoError(t, err)
	require.InDelta(t, 20, pnl, 1e-9)
}

func TestDailyRealizedPnLSkipsFailedOrders(t *testing.T) {
	j := openTemp(t)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordTrade(trade("close", 15, day.Add(time.Hour))))
	failed := trade("close", -99, day.Add(2*time.Hour))
	failed.Err = "order rejected"
	require.NoError(t, j.RecordTrade(failed))

	pnl, err := j.DailyRealizedPnL(day)
	require.NoError(t, err)
	require.InDelta(t, 15, pnl, 1e-9)
}

func TestDailyRealizedPnLEmptyDayIsZero(t *testing.T) {
	j := openTemp(t)
	pnl, err := j.DailyRealizedPnL(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Zero(t, pnl)
}
