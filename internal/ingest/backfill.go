package ingest

import (
	"context"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/marketstate"
)

// Backfiller seeds candle history over REST so lookback rules have a full
// window at startup instead of idling until the stream fills one.
type Backfiller struct {
	exchange string
	client   *resty.Client
	state    *marketstate.MarketState
	log      *logrus.Entry
}

// NewBackfiller builds a backfiller against a venue's REST base URL.
func NewBackfiller(exchange, baseURL string, state *marketstate.MarketState, log *logrus.Entry) *Backfiller {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
		})
	return &Backfiller{exchange: exchange, client: client, state: state, log: log}
}

// Backfill loads the most recent limit closed candles for one symbol. The
// youngest candle the venue returns is still forming and is applied as
// open, so the stream's next kline update merges into it cleanly.
func (b *Backfiller) Backfill(ctx context.Context, symbol string, interval time.Duration, limit int) error {
	var raw [][]any
	resp, err := b.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": intervalToken(interval),
			"limit":    strconv.Itoa(limit + 1),
		}).
		SetResult(&raw).
		Get("/fapi/v1/klines")
	if err != nil {
		return errors.Wrapf(err, "backfill %s", symbol)
	}
	if resp.IsError() {
		return errors.Errorf("backfill %s: status %d", symbol, resp.StatusCode())
	}

	applied := 0
	for i, row := range raw {
		candle, err := parseKlineRow(row)
		if err != nil {
			b.log.WithError(err).Debug("skipping malformed kline row")
			continue
		}
		candle.Exchange = b.exchange
		candle.Symbol = symbol
		candle.Interval = interval
		candle.IsClosed = i < len(raw)-1
		b.state.ApplyCandle(candle)
		applied++
	}

	b.log.WithFields(logrus.Fields{
		"symbol": symbol, "candles": applied,
	}).Info("candle history backfilled")
	return nil
}

// parseKlineRow decodes one venue kline row:
// [openTime, open, high, low, close, volume, ...].
func parseKlineRow(row []any) (domain.Candle, error) {
	if len(row) < 6 {
		return domain.Candle{}, errors.Errorf("kline row has %d fields", len(row))
	}
	openMs, ok := row[0].(float64)
	if !ok {
		return domain.Candle{}, errors.New("kline open time is not a number")
	}

	vals := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := row[i].(string)
		if !ok {
			return domain.Candle{}, errors.Errorf("kline field %d is not a string", i)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Candle{}, errors.Wrapf(err, "kline field %d", i)
		}
		vals[i-1] = v
	}

	return domain.Candle{
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
		OpenTime: time.UnixMilli(int64(openMs)),
	}, nil
}
