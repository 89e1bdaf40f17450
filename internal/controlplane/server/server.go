// Package server is the operator-facing HTTP API: status, positions,
// trade history, pause/resume, and emergency close. It observes and
// nudges the engine; it never trades on its own.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/events"
	"github.com/futbot/gofut/internal/journal"
	"github.com/futbot/gofut/internal/risk"
	"github.com/futbot/gofut/pkg/cache"
	"github.com/futbot/gofut/internal/config"
)

// Engine is the surface the control plane needs from the trading engine.
type Engine interface {
	OpenPositions() []domain.Position
	Reconcile(ctx context.Context) error
}

// Server wires the HTTP handlers to their collaborators.
type Server struct {
	engine  Engine
	riskMgr *risk.Manager
	journal *journal.Journal
	bus     events.Publisher
	store   *config.Store
	log     *logrus.Entry
	started time.Time

	// trades caches journal reads so dashboard polling does not contend
	// with the engine's writer connection.
	trades *cache.InMemory[int, []journal.Record]

	reload func() error
}

// New builds the server.
func New(engine Engine, riskMgr *risk.Manager, j *journal.Journal,
	bus events.Publisher, store *config.Store, log *logrus.Entry) *Server {
	return &Server{
		engine:  engine,
		riskMgr: riskMgr,
		journal: j,
		bus:     bus,
		store:   store,
		log:     log,
		started: time.Now(),
		trades:  cache.NewInMemory[int, []journal.Record](2 * time.Second),
	}
}

// OnReload installs the config-reload hook invoked by POST /reload. It
// shares the SIGHUP path, so the same validation and rule-topology
// checks apply.
func (s *Server) OnReload(fn func() error) { s.reload = fn }

// Router assembles the gin handler tree.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api/v1")
	api.GET("/status", s.handleStatus)
	api.GET("/positions", s.handlePositions)
	api.GET("/trades", s.handleTrades)
	api.POST("/pause", s.handlePause)
	api.POST("/resume", s.handleResume)
	api.POST("/close", s.handleClose)
	api.POST("/reconcile", s.handleReconcile)
	api.POST("/reload", s.handleReload)
	return r
}

// Start serves the API until ctx ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("control plane server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		s.trades.Close()
	}()
	s.log.WithField("addr", addr).Info("control plane listening")
	return srv
}
