package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	var mu sync.Mutex
	got := make(map[int]int)
	for i := 0; i < 3; i++ {
		i := i
		bus.Subscribe(TopicTrade, func(_ Topic, payload any) {
			mu.Lock()
			got[i] += payload.(int)
			mu.Unlock()
		})
	}

	bus.Publish(TopicTrade, 7)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})
	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < 3; i++ {
		assert.Equal(t, 7, got[i])
	}
}

func TestBusLosslessTopicPreservesOrder(t *testing.T) {
	bus := NewBus(4)
	defer bus.Close()

	var mu sync.Mutex
	var got []int
	bus.Subscribe(TopicPositionUpdate, func(_ Topic, payload any) {
		mu.Lock()
		got = append(got, payload.(int))
		mu.Unlock()
	})

	const n = 100
	for i := 0; i < n; i++ {
		bus.Publish(TopicPositionUpdate, i)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	})
	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		require.Equal(t, i, v, "lossless topic must deliver in publish order")
	}
}

func TestBusLossyTopicDropsOldestUnderBackpressure(t *testing.T) {
	bus := NewBus(2)
	defer bus.Close()

	release := make(chan struct{})
	var mu sync.Mutex
	var got []int
	bus.Subscribe(TopicTick, func(_ Topic, payload any) {
		<-release
		mu.Lock()
		got = append(got, payload.(int))
		mu.Unlock()
	})

	// The handler is stuck, so the queue fills and old entries are shed.
	for i := 0; i < 50; i++ {
		bus.Publish(TopicTick, i)
	}
	close(release)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1] == 49
	})
	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, len(got), 50, "lossy topic should have shed load")
	assert.Equal(t, 49, got[len(got)-1], "newest event must survive")
}

func TestBusHandlerPanicDoesNotKillDelivery(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	var mu sync.Mutex
	var got []int
	bus.Subscribe(TopicTrade, func(_ Topic, payload any) {
		if payload.(int) == 0 {
			panic("boom")
		}
		mu.Lock()
		got = append(got, payload.(int))
		mu.Unlock()
	})

	bus.Publish(TopicTrade, 0)
	bus.Publish(TopicTrade, 1)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == 1
	})
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	token := bus.Subscribe(TopicTrade, func(_ Topic, _ any) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(TopicTrade, 1)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	bus.Unsubscribe(token)
	bus.Publish(TopicTrade, 2)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}
