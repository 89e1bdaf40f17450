package shutdown

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler is one teardown step. It must respect ctx: the manager will not
// wait past the context deadline.
type Handler func(ctx context.Context)

// Manager collects teardown steps and runs them concurrently on shutdown,
// bounded by the caller's context.
type Manager struct {
	mu       sync.Mutex
	handlers []Handler
	log      *logrus.Entry
}

// NewManager creates an empty manager.
func NewManager(log *logrus.Entry) *Manager {
	return &Manager{log: log}
}

// OnShutdown registers a teardown step. Registration order does not imply
// execution order; steps with ordering constraints belong in one handler.
func (m *Manager) OnShutdown(h Handler) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Shutdown runs all registered steps and blocks until they finish or ctx
// expires, whichever comes first.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	handlers := m.handlers
	m.mu.Unlock()

	if len(handlers) == 0 {
		return
	}
	m.log.Infof("shutting down, %d steps", len(handlers))

	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for _, h := range handlers {
		go func(h Handler) {
			defer wg.Done()
			h(ctx)
		}(h)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("shutdown complete")
	case <-ctx.Done():
		m.log.Warnf("shutdown timed out: %v", ctx.Err())
	}
}
