package conditions

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/futbot/gofut/internal/domain"
)

func TestMACloseAboveFiresOncePerCandle(t *testing.T) {
	book := newBook()
	rule, err := NewMAEntry("ma-long", MAConfig{
		Interval: testIv, Period: 5, Variant: MACloseAbove, Side: domain.SideLong,
	})
	require.NoError(t, err)

	seedCloses(book, 100, 101, 102, 103, 104) // MA(5)=102, close=104

	out, err := rule.Evaluate(input(book, nil, true))
	require.NoError(t, err)
	require.True(t, out.Fired)
	require.Equal(t, domain.SideLong, out.Side)

	// Same candle, second pass: latched.
	out, err = rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.False(t, out.Fired)

	// Next candle still above its average: fires again.
	seedCandle(book, 5, 104, 105)
	out, err = rule.Evaluate(input(book, nil, true))
	require.NoError(t, err)
	require.True(t, out.Fired)
}

func TestMACrossUpRequiresActualCross(t *testing.T) {
	book := newBook()
	rule, err := NewMAEntry("ma-cross", MAConfig{
		Interval: testIv, Period: 3, Variant: MACrossUp, Side: domain.SideLong,
	})
	require.NoError(t, err)

	// Steady decline: price sits below its average the whole way.
	seedCloses(book, 100, 99, 98, 97, 96, 95)
	out, err := rule.Evaluate(input(book, nil, true))
	require.NoError(t, err)
	require.False(t, out.Fired)

	// One candle punches through the average from below.
	seedCandle(book, 6, 95, 105)
	out, err = rule.Evaluate(input(book, nil, true))
	require.NoError(t, err)
	require.True(t, out.Fired)
}

func TestMAInsufficientHistoryIsNotFired(t *testing.T) {
	book := newBook()
	rule, err := NewMAEntry("ma", MAConfig{
		Interval: testIv, Period: 5, Variant: MACloseAbove, Side: domain.SideLong,
	})
	require.NoError(t, err)

	seedCloses(book, 100, 101, 102)
	out, err := rule.Evaluate(input(book, nil, true))
	require.NoError(t, err)
	require.False(t, out.Fired)
}

func TestChannelBreakoutLatchesUntilReentry(t *testing.T) {
	book := newBook()
	rule, err := NewChannelEntry("chan-long", ChannelConfig{
		Interval: testIv, Period: 3, Side: domain.SideLong,
	})
	require.NoError(t, err)

	seedCandle(book, 0, 100, 101)
	seedCandle(book, 1, 101, 102)
	seedCandle(book, 2, 102, 101) // channel high=102, low=100

	seedTick(book, 103, 1)
	out, err := rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.True(t, out.Fired, "first breakout above channel high")

	// Sustained breakout produces exactly one signal.
	seedTick(book, 104, 2)
	out, err = rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.False(t, out.Fired)

	// Back inside the channel re-arms the latch.
	seedTick(book, 101, 3)
	out, err = rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.False(t, out.Fired)

	seedTick(book, 103, 4)
	out, err = rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.True(t, out.Fired, "fresh breakout after re-entry")
}

func TestOrderbookEntryNeedsConsecutiveDistinctSnapshots(t *testing.T) {
	book := newBook()
	rule, err := NewOrderbookEntry("ob-long", OrderbookEntryConfig{
		Ratio: 2, MinVolume: 5, Consecutive: 2, Side: domain.SideLong,
	})
	require.NoError(t, err)

	seedBookTicker(book, 100, 100.5, 10, 4, 1) // imbalance 2.5
	out, err := rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.False(t, out.Fired, "streak of one")

	// Same snapshot re-evaluated does not extend the streak.
	out, err = rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.False(t, out.Fired)

	seedBookTicker(book, 100, 100.5, 12, 4, 2)
	out, err = rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.True(t, out.Fired)
	require.Equal(t, domain.SideLong, out.Side)
}

func TestOrderbookEntryZeroSpreadResetsStreak(t *testing.T) {
	book := newBook()
	rule, err := NewOrderbookEntry("ob-long", OrderbookEntryConfig{
		Ratio: 2, Consecutive: 2, Side: domain.SideLong,
	})
	require.NoError(t, err)

	seedBookTicker(book, 100, 100.5, 10, 4, 1)
	_, err = rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)

	seedBookTicker(book, 100, 100, 10, 4, 2) // crossed/zero spread
	out, err := rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.False(t, out.Fired)

	// Streak starts over: one good snapshot is not enough.
	seedBookTicker(book, 100, 100.5, 10, 4, 3)
	out, err = rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.False(t, out.Fired)

	seedBookTicker(book, 100, 100.5, 11, 4, 4)
	out, err = rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.True(t, out.Fired)
}

func TestOrderbookEntryZeroSpreadMode(t *testing.T) {
	book := newBook()
	rule, err := NewOrderbookEntry("ob-locked", OrderbookEntryConfig{
		Mode: ModeZeroSpread, Consecutive: 2, Side: domain.SideLong,
	})
	require.NoError(t, err)

	seedBookTicker(book, 100, 100, 10, 4, 1) // locked book
	out, err := rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.False(t, out.Fired, "streak of one")

	// A normal spread resets the count.
	seedBookTicker(book, 100, 100.5, 10, 4, 2)
	_, err = rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)

	seedBookTicker(book, 100, 100, 10, 4, 3)
	out, err = rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.False(t, out.Fired)

	seedBookTicker(book, 100.2, 100, 10, 4, 4) // crossed
	out, err = rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.True(t, out.Fired)
	require.Equal(t, domain.SideLong, out.Side)
}

func TestOrderbookEntryQuoteTickPattern(t *testing.T) {
	book := newBook()
	rule, err := NewOrderbookEntry("ob-ticks", OrderbookEntryConfig{
		Mode: ModeQuoteTicks, TickSize: 0.5, TickThreshold: 3,
		Interval: testIv, Consecutive: 1, Side: domain.SideLong,
	})
	require.NoError(t, err)

	seedCandle(book, 0, 99, 100) // base = previous close = 100

	seedBookTicker(book, 101, 101.2, 10, 10, 1) // mid 101.1, 2 ticks up
	out, err := rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.False(t, out.Fired, "two ticks short of the threshold")

	seedBookTicker(book, 101.5, 101.7, 10, 10, 2) // mid 101.6, 3 ticks up
	out, err = rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.True(t, out.Fired)
	require.Equal(t, domain.SideLong, out.Side)
}

func TestOrderbookEntryQuoteTickPatternShort(t *testing.T) {
	book := newBook()
	rule, err := NewOrderbookEntry("ob-ticks-short", OrderbookEntryConfig{
		Mode: ModeQuoteTicks, TickSize: 0.5, TickThreshold: 2,
		Interval: testIv, Consecutive: 1, Side: domain.SideShort,
	})
	require.NoError(t, err)

	seedCandle(book, 0, 101, 100) // base = 100

	seedBookTicker(book, 98.8, 99, 10, 10, 1) // mid 98.9, -2 ticks
	out, err := rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.True(t, out.Fired)
	require.Equal(t, domain.SideShort, out.Side)

	// A move back toward the base does not fire.
	seedBookTicker(book, 99.4, 99.6, 10, 10, 2) // mid 99.5, -1 tick
	out, err = rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.False(t, out.Fired)
}

func TestOrderbookEntryQuoteTickPatternNeedsBaseCandle(t *testing.T) {
	book := newBook()
	rule, err := NewOrderbookEntry("ob-ticks", OrderbookEntryConfig{
		Mode: ModeQuoteTicks, TickSize: 0.5, TickThreshold: 1,
		Interval: testIv, Consecutive: 1, Side: domain.SideLong,
	})
	require.NoError(t, err)

	seedBookTicker(book, 105, 105.2, 10, 10, 1)
	out, err := rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.False(t, out.Fired, "no closed candle to anchor the base price")
}

func TestOrderbookEntryConfigRejectsBadModes(t *testing.T) {
	cases := []struct {
		name string
		cfg  OrderbookEntryConfig
	}{
		{"unknown mode", OrderbookEntryConfig{Mode: "depth", Consecutive: 1, Side: domain.SideLong}},
		{"quote ticks without tick size", OrderbookEntryConfig{
			Mode: ModeQuoteTicks, TickThreshold: 2, Interval: testIv, Consecutive: 1, Side: domain.SideLong,
		}},
		{"quote ticks zero threshold", OrderbookEntryConfig{
			Mode: ModeQuoteTicks, TickSize: 0.5, Interval: testIv, Consecutive: 1, Side: domain.SideLong,
		}},
		{"quote ticks without interval", OrderbookEntryConfig{
			Mode: ModeQuoteTicks, TickSize: 0.5, TickThreshold: 2, Consecutive: 1, Side: domain.SideLong,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewOrderbookEntry("bad", tc.cfg)
			require.Error(t, err)
		})
	}
}

func TestTickEntryDirectionalStreak(t *testing.T) {
	book := newBook()
	rule, err := NewTickEntry("tick-long", TickEntryConfig{
		Consecutive: 3, Side: domain.SideLong,
	})
	require.NoError(t, err)

	eval := func(price float64, n int) Outcome {
		seedTick(book, price, n)
		out, err := rule.Evaluate(input(book, nil, false))
		require.NoError(t, err)
		return out
	}

	require.False(t, eval(100, 1).Fired) // baseline
	require.False(t, eval(101, 2).Fired)
	require.False(t, eval(102, 3).Fired)
	require.True(t, eval(103, 4).Fired, "third consecutive rise")
}

func TestTickEntryUnchangedPriceIsNeutral(t *testing.T) {
	book := newBook()
	rule, err := NewTickEntry("tick-long", TickEntryConfig{
		Consecutive: 3, Side: domain.SideLong,
	})
	require.NoError(t, err)

	prices := []float64{100, 101, 101, 102, 103}
	var last Outcome
	for i, p := range prices {
		seedTick(book, p, i+1)
		out, err := rule.Evaluate(input(book, nil, false))
		require.NoError(t, err)
		last = out
	}
	require.True(t, last.Fired, "unchanged tick neither breaks nor extends the streak")
}

func TestTickEntryOppositeMoveResets(t *testing.T) {
	book := newBook()
	rule, err := NewTickEntry("tick-long", TickEntryConfig{
		Consecutive: 2, Side: domain.SideLong,
	})
	require.NoError(t, err)

	prices := []float64{100, 101, 99, 100} // rise, fall, rise: streak 1
	for i, p := range prices {
		seedTick(book, p, i+1)
		out, err := rule.Evaluate(input(book, nil, false))
		require.NoError(t, err)
		require.False(t, out.Fired)
	}

	seedTick(book, 101, 5)
	out, err := rule.Evaluate(input(book, nil, false))
	require.NoError(t, err)
	require.True(t, out.Fired)
}

func TestCandleEntryConsecutiveBullish(t *testing.T) {
	book := newBook()
	rule, err := NewCandleEntry("candle-long", CandleEntryConfig{
		Interval: testIv, Consecutive: 2, Side: domain.SideLong,
	})
	require.NoError(t, err)

	seedCandle(book, 0, 100, 101)
	seedCandle(book, 1, 101, 102)
	out, err := rule.Evaluate(input(book, nil, true))
	require.NoError(t, err)
	require.True(t, out.Fired)

	// Once per candle.
	out, err = rule.Evaluate(input(book, nil, true))
	require.NoError(t, err)
	require.False(t, out.Fired)

	// A bearish candle breaks the pattern.
	seedCandle(book, 2, 102, 101)
	out, err = rule.Evaluate(input(book, nil, true))
	require.NoError(t, err)
	require.False(t, out.Fired)

	seedCandle(book, 3, 101, 102)
	seedCandle(book, 4, 102, 103)
	out, err = rule.Evaluate(input(book, nil, true))
	require.NoError(t, err)
	require.True(t, out.Fired)
}
