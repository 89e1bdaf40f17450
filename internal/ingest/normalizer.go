package ingest

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/events"
)

// Combined-stream envelope: {"stream":"btcusdt@aggTrade","data":{...}}.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type aggTradeMsg struct {
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

type klineMsg struct {
	Symbol string `json:"s"`
	Kline  struct {
		OpenTime int64  `json:"t"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		IsClosed bool   `json:"x"`
	} `json:"k"`
}

type bookTickerMsg struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
	EventMs  int64  `json:"E"`
}

// handleMessage normalizes one raw frame into domain values, applies them
// to market state, and publishes them. State is updated before publishing:
// a subscriber woken by the event must see it reflected in the book.
func (s *Stream) handleMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.WithError(err).Debug("unparseable stream frame")
		return
	}

	switch {
	case strings.Contains(env.Stream, "@aggTrade"):
		s.handleTrade(env.Data)
	case strings.Contains(env.Stream, "@kline"):
		s.handleKline(env.Data)
	case strings.Contains(env.Stream, "@bookTicker"):
		s.handleBookTicker(env.Data)
	}
}

func (s *Stream) handleTrade(data []byte) {
	var msg aggTradeMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil {
		return
	}
	volume, _ := strconv.ParseFloat(msg.Quantity, 64)

	tick := domain.Tick{
		Exchange:  s.exchange,
		Symbol:    msg.Symbol,
		Price:     price,
		Volume:    volume,
		Timestamp: time.UnixMilli(msg.TradeTime),
	}
	if s.state.ApplyTick(tick) {
		s.bus.Publish(events.TopicTick, tick)
	}
}

func (s *Stream) handleKline(data []byte) {
	var msg klineMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	k := msg.Kline
	open, err1 := strconv.ParseFloat(k.Open, 64)
	high, err2 := strconv.ParseFloat(k.High, 64)
	low, err3 := strconv.ParseFloat(k.Low, 64)
	cls, err4 := strconv.ParseFloat(k.Close, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return
	}
	volume, _ := strconv.ParseFloat(k.Volume, 64)

	candle := domain.Candle{
		Exchange: s.exchange,
		Symbol:   msg.Symbol,
		Interval: s.interval,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    cls,
		Volume:   volume,
		IsClosed: k.IsClosed,
		OpenTime: time.UnixMilli(k.OpenTime),
	}
	s.state.ApplyCandle(candle)
	s.bus.Publish(events.TopicCandle, candle)
}

func (s *Stream) handleBookTicker(data []byte) {
	var msg bookTickerMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	bid, err1 := strconv.ParseFloat(msg.BidPrice, 64)
	ask, err2 := strconv.ParseFloat(msg.AskPrice, 64)
	if err1 != nil || err2 != nil {
		return
	}
	bidVol, _ := strconv.ParseFloat(msg.BidQty, 64)
	askVol, _ := strconv.ParseFloat(msg.AskQty, 64)

	snap := domain.OrderbookSnapshot{
		Exchange:  s.exchange,
		Symbol:    msg.Symbol,
		BestBid:   bid,
		BestAsk:   ask,
		BidVolume: bidVol,
		AskVolume: askVol,
		Timestamp: time.UnixMilli(msg.EventMs),
	}
	s.state.ApplyOrderbook(snap)
	s.bus.Publish(events.TopicOrderbook, snap)
}

// intervalToken renders a duration as the venue's kline interval token.
func intervalToken(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return strconv.Itoa(int(d/(24*time.Hour))) + "d"
	case d >= time.Hour:
		return strconv.Itoa(int(d/time.Hour)) + "h"
	default:
		return strconv.Itoa(int(d/time.Minute)) + "m"
	}
}
