// Package ingest owns market data: the websocket stream, its normalizer,
// and REST candle backfill. Everything it learns is applied to market
// state first and then published on the bus, so by the time an evaluator
// wakes, the state already reflects the event that woke it.
package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/events"
	"github.com/futbot/gofut/internal/marketstate"
	"github.com/futbot/gofut/pkg/sigchan"
	"github.com/futbot/gofut/pkg/syncgroup"
)

const (
	reconnectCooldown = 5 * time.Second
	pingInterval      = 30 * time.Second
	readTimeout       = 90 * time.Second
	writeTimeout      = 10 * time.Second
)

// Stream maintains one websocket connection to a venue's combined market
// stream and keeps it alive. Disconnects trigger a signal-driven
// reconnector with a cooldown; candle history lost during the gap is
// repaired by the next backfill run, not by the stream.
type Stream struct {
	exchange string
	url      string
	symbols  []string
	interval time.Duration
	state    *marketstate.MarketState
	bus      events.Publisher
	log      *logrus.Entry

	connMu sync.Mutex
	conn   *websocket.Conn

	reconnect *sigchan.Chan
	group     *syncgroup.Group
}

// NewStream builds a stream for one venue. symbols are the venue-native
// names to subscribe; interval selects the kline stream.
func NewStream(exchange, url string, symbols []string, interval time.Duration,
	state *marketstate.MarketState, bus events.Publisher, log *logrus.Entry) *Stream {
	return &Stream{
		exchange:  exchange,
		url:       url,
		symbols:   symbols,
		interval:  interval,
		state:     state,
		bus:       bus,
		log:       log,
		reconnect: sigchan.New(1),
		group:     syncgroup.New(),
	}
}

// Start connects and launches the reconnector. The first dial failure is
// returned; later failures are retried forever until ctx ends.
func (s *Stream) Start(ctx context.Context) error {
	if err := s.dial(ctx); err != nil {
		return err
	}
	s.group.Go(func() { s.reconnector(ctx) })
	return nil
}

// Stop closes the connection and waits for the goroutines.
func (s *Stream) Stop() {
	s.closeConn()
	s.group.Wait()
}

func (s *Stream) reconnector(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.closeConn()
			return
		case <-s.reconnect.C():
		}

		s.log.Warnf("stream disconnected, reconnecting in %s", reconnectCooldown)
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectCooldown):
		}

		if err := s.dial(ctx); err != nil {
			s.log.WithError(err).Error("reconnect failed")
			s.reconnect.Emit()
		}
	}
}

// dial opens the connection, subscribes, and starts the read and ping
// loops for this connection's lifetime.
func (s *Stream) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.streamURL(), nil)
	if err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.connMu.Unlock()

	connCtx, cancel := context.WithCancel(ctx)
	s.group.Go(func() {
		defer cancel()
		s.readLoop(conn)
	})
	s.group.Go(func() { s.pingLoop(connCtx, conn) })

	s.log.WithField("symbols", len(s.symbols)).Info("stream connected")
	return nil
}

// streamURL builds the combined-stream URL covering trades, klines, and
// the book ticker for every symbol.
func (s *Stream) streamURL() string {
	parts := make([]string, 0, len(s.symbols)*3)
	for _, sym := range s.symbols {
		lower := strings.ToLower(sym)
		parts = append(parts,
			lower+"@aggTrade",
			lower+"@kline_"+intervalToken(s.interval),
			lower+"@bookTicker",
		)
	}
	return s.url + "/stream?streams=" + strings.Join(parts, "/")
}

func (s *Stream) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.reconnect.Emit()
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		s.handleMessage(data)
	}
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.reconnect.Emit()
				return
			}
		}
	}
}

func (s *Stream) closeConn() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
