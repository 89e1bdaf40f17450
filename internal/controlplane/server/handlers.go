package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/events"
)

func (s *Server) handleStatus(c *gin.Context) {
	halted, reason := s.riskMgr.Breaker().Halted()
	now := time.Now()
	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds":  int(time.Since(s.started).Seconds()),
		"halted":          halted,
		"halt_reason":     reason,
		"daily_pnl":       s.riskMgr.Breaker().DailyPnL(now),
		"open_positions":  len(s.engine.OpenPositions()),
		"entries_allowed": s.store.Get().Time.EntriesAllowed(now),
		"dry_run":         s.store.Get().DryRun,
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.engine.OpenPositions()})
}

func (s *Server) handleTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if trades, ok := s.trades.Get(limit); ok {
		c.JSON(http.StatusOK, gin.H{"trades": trades})
		return
	}
	trades, err := s.journal.RecentTrades(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.trades.Set(limit, trades, 0)
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// handlePause trips the breaker manually. Open positions stay managed;
// only new entries stop.
func (s *Server) handlePause(c *gin.Context) {
	s.riskMgr.Breaker().Pause()
	s.log.Warn("entries paused by operator")
	c.JSON(http.StatusOK, gin.H{"halted": true})
}

func (s *Server) handleResume(c *gin.Context) {
	s.riskMgr.Breaker().Resume()
	s.log.Info("entries resumed by operator")
	c.JSON(http.StatusOK, gin.H{"halted": false})
}

type closeRequest struct {
	Exchange string `json:"exchange" binding:"required"`
	Symbol   string `json:"symbol" binding:"required"`
}

// handleClose requests an emergency close for one slot. The close rides
// the normal signal path so it serializes with whatever the slot is doing.
func (s *Server) handleClose(c *gin.Context) {
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.log.WithField("symbol", req.Symbol).Warn("emergency close requested by operator")
	s.bus.Publish(events.TopicSignal, domain.Signal{
		Kind:          domain.SignalExit,
		RuleID:        "operator_close",
		Exchange:      req.Exchange,
		Symbol:        req.Symbol,
		Time:          time.Now(),
		CloseFraction: 1,
		Emergency:     true,
	})
	c.JSON(http.StatusAccepted, gin.H{"requested": true})
}

func (s *Server) handleReload(c *gin.Context) {
	if s.reload == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reload not configured"})
		return
	}
	if err := s.reload(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	s.log.Info("config reloaded by operator")
	c.JSON(http.StatusOK, gin.H{"reloaded": true})
}

func (s *Server) handleReconcile(c *gin.Context) {
	if err := s.engine.Reconcile(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reconciled": true})
}
