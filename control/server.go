// Package control exposes the operator HTTP surface: status, manual heal and
// monitoring toggles.
package control

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"autoheal/ai"
	"autoheal/memory"
	"autoheal/models"
	"autoheal/remediation"
	"autoheal/state"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("component", "control")

// Healer runs remediation for a manual trigger
type Healer interface {
	Handle(ctx context.Context, event models.FailureEvent) (models.RemediationRecord, error)
	InFlight() bool
}

// Scheduler toggles the probe schedule
type Scheduler interface {
	Start(ctx context.Context) bool
	Stop() bool
}

// History reads past remediation runs
type History interface {
	Recent(limit int) []models.RemediationRecord
	Get(id string) (models.RemediationRecord, error)
	GetStats() memory.Stats
}

// ProviderLister reports the configured AI providers
type ProviderLister interface {
	Providers() []ai.ProviderStatus
}

// Deps wires a Server
type Deps struct {
	State     *state.State
	Healer    Healer
	Scheduler Scheduler
	History   History
	Providers ProviderLister
	TargetURL string
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Target     string              `json:"target"`
	State      state.Snapshot      `json:"state"`
	InFlight   bool                `json:"in_flight"`
	Providers  []ai.ProviderStatus `json:"providers"`
	Stats      memory.Stats        `json:"stats"`
	ServerTime time.Time           `json:"server_time"`
}

// Server serves the control endpoints
type Server struct {
	deps    Deps
	router  *gin.Engine
	started time.Time

	// runCtx parents manual runs and monitoring so they outlive the request
	runCtx context.Context
}

// NewServer builds the router. runCtx bounds runs started through the API.
func NewServer(runCtx context.Context, deps Deps) *Server {
	s := &Server{deps: deps, started: time.Now(), runCtx: runCtx}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.GET("/history", s.handleHistory)
	r.GET("/history/:id", s.handleRecord)
	r.POST("/heal", s.handleHeal)
	r.POST("/queue/drain", s.handleDrainQueue)
	r.POST("/monitoring/start", s.handleMonitoringStart)
	r.POST("/monitoring/stop", s.handleMonitoringStop)

	s.router = r
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("control server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info("control server stopped")
		return nil
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := StatusResponse{
		Target:     s.deps.TargetURL,
		State:      s.deps.State.Snapshot(),
		InFlight:   s.deps.Healer.InFlight(),
		ServerTime: time.Now(),
	}
	if s.deps.Providers != nil {
		resp.Providers = s.deps.Providers.Providers()
	}
	if s.deps.History != nil {
		resp.Stats = s.deps.History.GetStats()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	records := []models.RemediationRecord{}
	if s.deps.History != nil {
		records = s.deps.History.Recent(limit)
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) handleRecord(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": memory.ErrRecordNotFound.Error()})
		return
	}
	rec, err := s.deps.History.Get(c.Param("id"))
	if errors.Is(err, memory.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// handleDrainQueue hands the queued diagnoses to the operator and empties the queue
func (s *Server) handleDrainQueue(c *gin.Context) {
	fixes := s.deps.State.DrainFixQueue()
	logger.WithField("count", len(fixes)).Info("fix queue drained")
	c.JSON(http.StatusOK, gin.H{"fixes": fixes})
}

func (s *Server) handleHeal(c *gin.Context) {
	statusCode := 0
	if last, ok := s.deps.State.LastCheck(); ok && last.StatusCode != nil {
		statusCode = *last.StatusCode
	}
	event := models.NewFailureEvent(models.ManualTrigger, statusCode, s.deps.TargetURL, time.Now())

	rec, err := s.deps.Healer.Handle(s.runCtx, event)
	if errors.Is(err, remediation.ErrRemediationInFlight) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "record": rec})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleMonitoringStart(c *gin.Context) {
	changed := s.deps.Scheduler.Start(s.runCtx)
	c.JSON(http.StatusOK, gin.H{"monitoring_active": s.deps.State.MonitoringActive(), "changed": changed})
}

func (s *Server) handleMonitoringStop(c *gin.Context) {
	changed := s.deps.Scheduler.Stop()
	c.JSON(http.StatusOK, gin.H{"monitoring_active": s.deps.State.MonitoringActive(), "changed": changed})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Round(time.Millisecond),
		}).Debug("request")
	}
}
