package web

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"quantgate/database"
	"quantgate/logger"
	"quantgate/walkforward"
)

// listStrategies 已注册的策略元数据，附带可回测的策略名
func (h *handlers) listStrategies(c *gin.Context) {
	list, err := h.Engine.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"strategies": list,
		"available":  h.Runner.Strategies().List(),
	})
}

type registerRequest struct {
	Name string `json:"name" binding:"required"`
}

// registerStrategy 以 development 状态登记策略
func (h *handlers) registerStrategy(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数错误: "+err.Error())
		return
	}
	meta, err := h.Engine.Register(c.Request.Context(), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "strategy": meta})
}

func (h *handlers) getStrategy(c *gin.Context) {
	meta, err := h.Engine.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "strategy": meta})
}

// promoteBacktestRequest 引用已保存的 run_id，或内联一次滚动验证
type promoteBacktestRequest struct {
	RunID          string `json:"run_id"`
	Symbol         string `json:"symbol"`
	Start          string `json:"start"`
	End            string `json:"end"`
	NFolds         *int   `json:"n_folds"`
	TestWindowDays *int   `json:"test_window_days"`
}

// promoteToBacktest development -> backtest
func (h *handlers) promoteToBacktest(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	var req promoteBacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数错误: "+err.Error())
		return
	}

	var result *walkforward.ValidationResult
	switch {
	case req.RunID != "":
		if h.Runs == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"success": false, "error": "未配置验证结果存储"})
			return
		}
		run, err := h.Runs.GetRun(ctx, req.RunID)
		if err != nil {
			respondError(c, err)
			return
		}
		if run.StrategyName != name {
			badRequest(c, "run "+req.RunID+" 属于策略 "+run.StrategyName)
			return
		}
		result = run
	default:
		if req.Symbol == "" {
			badRequest(c, "需要 run_id 或 symbol/start/end")
			return
		}
		wf, err := h.walkForwardRequest(name, WalkForwardRequest{
			Symbol:         req.Symbol,
			Start:          req.Start,
			End:            req.End,
			NFolds:         req.NFolds,
			TestWindowDays: req.TestWindowDays,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		if result, err = h.Validator.Validate(ctx, wf); err != nil {
			respondError(c, err)
			return
		}
	}

	approved, err := h.Engine.PromoteToBacktest(ctx, name, result)
	if err != nil {
		respondError(c, err)
		return
	}
	if h.Runs != nil && result.RunID != "" {
		if err := h.Runs.MarkRunPassed(ctx, result.RunID, approved); err != nil {
			logger.Warn("⚠️ 更新验证记录 %s 失败: %v", result.RunID, err)
		}
	}
	h.respondPromotion(c, name, approved)
}

func (h *handlers) promoteToPaper(c *gin.Context) {
	name := c.Param("name")
	if err := h.Engine.PromoteToPaper(c.Request.Context(), name); err != nil {
		respondError(c, err)
		return
	}
	h.respondPromotion(c, name, true)
}

func (h *handlers) promoteToLive(c *gin.Context) {
	name := c.Param("name")
	approved, err := h.Engine.PromoteToLive(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	h.respondPromotion(c, name, approved)
}

type retireRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *handlers) retire(c *gin.Context) {
	var req retireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数错误: "+err.Error())
		return
	}
	name := c.Param("name")
	if err := h.Engine.Retire(c.Request.Context(), name, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	h.respondPromotion(c, name, true)
}

type paperTradeRequest struct {
	PnL decimal.Decimal `json:"pnl"`
}

// recordPaperTrade 累计模拟盘成交
func (h *handlers) recordPaperTrade(c *gin.Context) {
	var req paperTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数错误: "+err.Error())
		return
	}
	name := c.Param("name")
	if err := h.Engine.RecordPaperTrade(c.Request.Context(), name, req.PnL); err != nil {
		respondError(c, err)
		return
	}
	meta, err := h.Engine.Get(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "strategy": meta})
}

// respondPromotion 返回转换结果与最新元数据，被拒绝仍为 200
func (h *handlers) respondPromotion(c *gin.Context, name string, approved bool) {
	meta, err := h.Engine.Get(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{"success": true, "approved": approved, "strategy": meta}
	if rec, ok := meta.LastRecord(); ok {
		resp["reason"] = rec.Reason
	}
	c.JSON(http.StatusOK, resp)
}

// listRuns 策略的历史验证记录
func (h *handlers) listRuns(c *gin.Context) {
	if h.Runs == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"success": false, "error": "未配置验证结果存储"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	runs, err := h.Runs.ListRuns(c.Request.Context(), &database.RunFilter{
		Strategy: c.Param("name"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "runs": runs})
}

// listEvents 已持久化的领域事件
func (h *handlers) listEvents(c *gin.Context) {
	if h.Events == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"success": false, "error": "未启用事件持久化"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	records, err := h.Events.GetEvents(c.Request.Context(), &database.EventFilter{
		Type:     c.Query("type"),
		Severity: c.Query("severity"),
		Strategy: c.Query("strategy"),
		Limit:    limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "events": records})
}
