// Package web 回测、滚动验证与策略晋升的 HTTP API
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quantgate/backtest"
	"quantgate/database"
	"quantgate/promotion"
	"quantgate/walkforward"
)

// RunStore 滚动验证结果存取
type RunStore interface {
	GetRun(ctx context.Context, runID string) (*walkforward.ValidationResult, error)
	ListRuns(ctx context.Context, filter *database.RunFilter) ([]*walkforward.ValidationResult, error)
	MarkRunPassed(ctx context.Context, runID string, passed bool) error
}

// EventStore 已持久化的领域事件
type EventStore interface {
	GetEvents(ctx context.Context, filter *database.EventFilter) ([]*database.EventRecord, error)
}

// Services 处理器依赖
type Services struct {
	Runner    *backtest.Runner
	Validator *walkforward.Validator
	Engine    *promotion.Engine
	Runs      RunStore   // 可为空
	Events    EventStore // 可为空
	Hub       *WebSocketHub
	Health    func(ctx context.Context) error // 可为空

	ReportsDir string

	// 请求未指定时使用
	DefaultFolds      int
	DefaultWindowDays int
}

type handlers struct {
	*Services
}

// SetupRoutes 设置路由
func SetupRoutes(r *gin.Engine, s *Services) {
	h := &handlers{Services: s}

	r.GET("/health", h.health)

	// Prometheus metrics 端点
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.Hub != nil {
		r.GET("/ws", s.Hub.handleWebSocket)
	}

	api := r.Group("/api/v1")
	{
		api.POST("/backtests", h.runBacktest)
		api.POST("/walkforward", h.runWalkForward)
		api.GET("/walkforward/:run_id", h.getRun)
		api.GET("/events", h.listEvents)

		strategies := api.Group("/strategies")
		{
			strategies.GET("", h.listStrategies)
			strategies.POST("", h.registerStrategy)
			strategies.GET("/:name", h.getStrategy)
			strategies.POST("/:name/promote/backtest", h.promoteToBacktest)
			strategies.POST("/:name/promote/paper", h.promoteToPaper)
			strategies.POST("/:name/promote/live", h.promoteToLive)
			strategies.POST("/:name/retire", h.retire)
			strategies.POST("/:name/paper-trades", h.recordPaperTrade)
			strategies.GET("/:name/runs", h.listRuns)
		}
	}
}

func (h *handlers) health(c *gin.Context) {
	if h.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// NewRouter 创建 gin 引擎
func NewRouter(s *Services, debug bool) *gin.Engine {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), GinLoggerMiddleware(debug))
	SetupRoutes(r, s)
	return r
}
