// Package api 提供只读状态接口，以及熔断器手动触发 / 复位和 kill switch
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gosignal/internal/domain"
	"github.com/betbot/gosignal/internal/executor"
	"github.com/betbot/gosignal/internal/journal"
	"github.com/betbot/gosignal/internal/orchestrator"
	"github.com/betbot/gosignal/internal/resolution"
	"github.com/betbot/gosignal/internal/risk"
)

var log = logrus.WithField("component", "api")

// ExecutorView 执行器状态与 kill switch
type ExecutorView interface {
	Stats() executor.Stats
	SetKillSwitch(on bool)
}

// OrchestratorView 编排器状态
type OrchestratorView interface {
	Stats() orchestrator.Stats
	LastCycle() orchestrator.CycleReport
}

// PositionView 仓位查询
type PositionView interface {
	All() []domain.Position
	ByStatus(status domain.PositionStatus) []domain.Position
}

// BreakerControl 熔断器控制
type BreakerControl interface {
	Stats() risk.BreakerStats
	ForceTrip(reason string)
	Reset()
}

// JournalView 执行日志查询
type JournalView interface {
	Executions(ctx context.Context, f journal.Filter) ([]journal.ExecutionRecord, error)
	Resolutions(ctx context.Context, limit int) ([]domain.ResolutionEvent, error)
}

// ResolutionView 结算监控状态
type ResolutionView interface {
	Stats() resolution.Stats
}

// Deps 接口依赖；Journal / Resolution / Metrics 可为 nil
type Deps struct {
	Executor     ExecutorView
	Orchestrator OrchestratorView
	Positions    PositionView
	Breaker      BreakerControl
	Journal      JournalView
	Resolution   ResolutionView
	Metrics      http.Handler
}

// Server 状态 API
type Server struct {
	deps    Deps
	started time.Time
}

// New 创建状态 API
func New(deps Deps) *Server {
	return &Server{deps: deps, started: time.Now()}
}

// Router gin 路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/positions", s.handlePositions)
	api.GET("/executions", s.handleExecutions)
	api.GET("/resolutions", s.handleResolutions)

	breaker := api.Group("/breaker")
	breaker.POST("/trip", s.handleBreakerTrip)
	breaker.POST("/reset", s.handleBreakerReset)

	api.POST("/kill", s.handleKill)
	return r
}

// Start 在后台监听；ctx 结束时优雅关闭
func (s *Server) Start(ctx context.Context, addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Infof("[API] 状态接口监听 %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Errorf("[API] 监听失败")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return srv
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func queryLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) handleStatus(c *gin.Context) {
	out := gin.H{
		"uptime_sec": int(time.Since(s.started).Seconds()),
	}
	if s.deps.Executor != nil {
		out["executor"] = s.deps.Executor.Stats()
	}
	if s.deps.Orchestrator != nil {
		out["orchestrator"] = s.deps.Orchestrator.Stats()
		out["last_cycle"] = s.deps.Orchestrator.LastCycle()
	}
	if s.deps.Breaker != nil {
		out["breaker"] = s.deps.Breaker.Stats()
	}
	if s.deps.Resolution != nil {
		out["resolution"] = s.deps.Resolution.Stats()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handlePositions(c *gin.Context) {
	if s.deps.Positions == nil {
		writeError(c, http.StatusServiceUnavailable, "positions unavailable")
		return
	}
	status := strings.ToUpper(strings.TrimSpace(c.Query("status")))
	var list []domain.Position
	switch domain.PositionStatus(status) {
	case "":
		list = s.deps.Positions.All()
	case domain.PositionOpen, domain.PositionClosing, domain.PositionClosed, domain.PositionRedeemable:
		list = s.deps.Positions.ByStatus(domain.PositionStatus(status))
	default:
		writeError(c, http.StatusBadRequest, "unknown status "+status)
		return
	}
	if market := c.Query("market"); market != "" {
		filtered := list[:0:0]
		for _, p := range list {
			if p.MarketID == market {
				filtered = append(filtered, p)
			}
		}
		list = filtered
	}
	c.JSON(http.StatusOK, gin.H{"count": len(list), "positions": list})
}

func (s *Server) handleExecutions(c *gin.Context) {
	if s.deps.Journal == nil {
		writeError(c, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	failed, _ := strconv.ParseBool(c.DefaultQuery("failed", "false"))
	rows, err := s.deps.Journal.Executions(c.Request.Context(), journal.Filter{
		Strategy:    c.Query("strategy"),
		MarketID:    c.Query("market"),
		OnlyFailure: failed,
		Limit:       queryLimit(c),
	})
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(rows), "executions": rows})
}

func (s *Server) handleResolutions(c *gin.Context) {
	if s.deps.Journal == nil {
		writeError(c, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	evs, err := s.deps.Journal.Resolutions(c.Request.Context(), queryLimit(c))
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(evs), "resolutions": evs})
}

type tripRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleBreakerTrip(c *gin.Context) {
	if s.deps.Breaker == nil {
		writeError(c, http.StatusServiceUnavailable, "breaker unavailable")
		return
	}
	var req tripRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json body")
			return
		}
	}
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = "api"
	}
	s.deps.Breaker.ForceTrip(req.Reason)
	log.Warnf("[API] 手动触发熔断: %s", req.Reason)
	c.JSON(http.StatusOK, s.deps.Breaker.Stats())
}

func (s *Server) handleBreakerReset(c *gin.Context) {
	if s.deps.Breaker == nil {
		writeError(c, http.StatusServiceUnavailable, "breaker unavailable")
		return
	}
	s.deps.Breaker.Reset()
	log.Warnf("[API] 手动复位熔断器")
	c.JSON(http.StatusOK, s.deps.Breaker.Stats())
}

type killRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleKill(c *gin.Context) {
	if s.deps.Executor == nil {
		writeError(c, http.StatusServiceUnavailable, "executor unavailable")
		return
	}
	var req killRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		writeError(c, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}
	s.deps.Executor.SetKillSwitch(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"kill_switch": *req.Enabled})
}
