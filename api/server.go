package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"quantbt/backtest"
	"quantbt/broadcast"
	"quantbt/jobs"
)

// Server HTTP服务器
type Server struct {
	engine *gin.Engine
	server *http.Server
	jobs   *jobs.Manager
	hub    *broadcast.Hub
	base   *backtest.PlanDocument
	log    zerolog.Logger
}

// NewServer 创建服务器. base is the plan used for requests without a body;
// hub may be nil to disable the websocket feed.
func NewServer(m *jobs.Manager, hub *broadcast.Hub, base *backtest.PlanDocument, port int, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(loggerMiddleware(log))

	s := &Server{
		engine: engine,
		jobs:   m,
		hub:    hub,
		base:   base,
		log:    log,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	handler := NewHandler(s.jobs, s.base)

	api := s.engine.Group("/api")
	{
		// 提交任务
		api.POST("/backtests", handler.SubmitBacktest)
		api.POST("/optimizations", handler.SubmitOptimization)

		// 任务查询
		api.GET("/jobs", handler.ListJobs)
		api.GET("/jobs/:id", handler.GetJob)
		api.GET("/jobs/:id/result", handler.GetResult)
		api.DELETE("/jobs/:id", handler.CancelJob)
	}

	// 健康检查
	s.engine.GET("/health", func(c *gin.Context) {
		clients := 0
		if s.hub != nil {
			clients = s.hub.Clients()
		}
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"jobs":       len(s.jobs.List()),
			"ws_clients": clients,
		})
	})

	// 交易信号推送
	if s.hub != nil {
		s.engine.GET("/ws/signals", gin.WrapH(s.hub))
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start 启动服务器
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("api listening")
	s.log.Info().Msg("routes: POST /api/backtests, POST /api/optimizations, GET /api/jobs[/:id[/result]], DELETE /api/jobs/:id, GET /ws/signals")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// loggerMiddleware 日志中间件
func loggerMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		ev := log.Debug()
		if status >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// corsMiddleware CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
