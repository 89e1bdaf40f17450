package events

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/metrics"
)

// Topic identifies one fan-out channel on the bus.
type Topic string

const (
	TopicTick           Topic = "TICK_DATA"
	TopicCandle         Topic = "CANDLE_DATA"
	TopicOrderbook      Topic = "ORDERBOOK_DATA"
	TopicSignal         Topic = "SIGNAL"
	TopicTrade          Topic = "TRADE"
	TopicPositionUpdate Topic = "POSITION_UPDATE"
	TopicRiskDenied     Topic = "RISK_DENIED"
	TopicEmergencyClose Topic = "EMERGENCY_CLOSE"
)

// lossy reports whether a slow subscriber on this topic may drop backlog
// (newest wins). Trade and position topics instead apply backpressure to the
// publisher: those events must never be silently lost.
func (t Topic) lossy() bool {
	switch t {
	case TopicTrade, TopicPositionUpdate, TopicEmergencyClose:
		return false
	}
	return true
}

// Handler consumes one published payload. Handlers run on the subscriber's
// own delivery goroutine; a panicking handler is isolated and logged, it
// never blocks or kills ingestion.
type Handler func(topic Topic, payload any)

// Token identifies a subscription for Unsubscribe.
type Token uint64

// Bus is the process-wide publish/subscribe fan-out. It holds no business
// state. Each subscriber gets a bounded queue and a dedicated delivery
// goroutine, so publishing never runs subscriber code inline.
type Bus struct {
	log *logrus.Entry

	mu     sync.RWMutex
	next   Token
	subs   map[Topic][]*subscription
	closed bool

	bufferSize int
}

type subscription struct {
	token   Token
	topic   Topic
	handler Handler
	queue   chan any
	done    chan struct{}
}

// NewBus creates a bus whose subscribers each buffer up to bufferSize
// pending events. bufferSize <= 0 falls back to a small default.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{
		log:        logrus.WithField("component", "eventbus"),
		subs:       make(map[Topic][]*subscription),
		bufferSize: bufferSize,
	}
}

// Subscribe registers a handler for a topic and returns a token for
// Unsubscribe. Delivery is FIFO per subscriber relative to publish order.
func (b *Bus) Subscribe(topic Topic, handler Handler) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	sub := &subscription{
		token:   b.next,
		topic:   topic,
		handler: handler,
		queue:   make(chan any, b.bufferSize),
		done:    make(chan struct{}),
	}
	b.subs[topic] = append(b.subs[topic], sub)

	go sub.run(b.log)
	return sub.token
}

// Unsubscribe removes a subscription. Events already queued are still
// delivered before the delivery goroutine exits.
func (b *Bus) Unsubscribe(token Token) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subs {
		for i, sub := range subs {
			if sub.token != token {
				continue
			}
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			close(sub.queue)
			return
		}
	}
}

// Publish fans a payload out to every current subscriber of topic.
// For lossy (market data) topics a full subscriber queue sheds its oldest
// entry so the newest value wins; for trade/position topics Publish blocks
// until the subscriber drains, applying backpressure to the producer.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	subs := b.subs[topic]
	if len(subs) == 0 {
		b.mu.RUnlock()
		return
	}
	// Snapshot so concurrent Subscribe/Unsubscribe cannot corrupt iteration.
	snapshot := make([]*subscription, len(subs))
	copy(snapshot, subs)
	b.mu.RUnlock()

	for _, sub := range snapshot {
		sub.deliver(topic, payload, b.log)
	}
}

// Close stops all subscriptions. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.queue)
		}
	}
	b.subs = make(map[Topic][]*subscription)
}

func (sub *subscription) deliver(topic Topic, payload any, log *logrus.Entry) {
	defer func() {
		// A concurrently closed queue makes the send below panic; treat it
		// as an unsubscribe race, not an error.
		if r := recover(); r != nil {
			metrics.EventsDropped.Add(1)
		}
	}()

	if !topic.lossy() {
		select {
		case sub.queue <- payload:
		case <-sub.done:
		}
		return
	}

	for {
		select {
		case sub.queue <- payload:
			return
		default:
		}
		// Queue full: shed the oldest entry, newest wins.
		select {
		case <-sub.queue:
			metrics.EventsDropped.Add(1)
			log.Warnf("subscriber backlog full on %s, dropped oldest event", topic)
		default:
		}
	}
}

func (sub *subscription) run(log *logrus.Entry) {
	defer close(sub.done)
	for payload := range sub.queue {
		sub.invoke(payload, log)
	}
}

func (sub *subscription) invoke(payload any, log *logrus.Entry) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.Add(1)
			log.Errorf("handler panic on %s: %v\n%s", sub.topic, r, debug.Stack())
		}
	}()
	sub.handler(sub.topic, payload)
}

// Publisher is the narrow publish-only view handed to producers.
type Publisher interface {
	Publish(topic Topic, payload any)
}

var _ Publisher = (*Bus)(nil)

// String implements fmt.Stringer for log readability.
func (t Topic) String() string { return string(t) }

var _ fmt.Stringer = Topic("")
