package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quantgate/backtest"
	"quantgate/logger"
	"quantgate/walkforward"
)

// BacktestRequest 回测请求
type BacktestRequest struct {
	Strategy   string `json:"strategy" binding:"required"`
	Symbol     string `json:"symbol" binding:"required"`
	Start      string `json:"start"`
	End        string `json:"end"`
	SaveReport bool   `json:"save_report"` // 同时写入报告目录
}

// BacktestResponse 回测响应
type BacktestResponse struct {
	Success    bool             `json:"success"`
	Result     *backtest.Result `json:"result,omitempty"`
	ReportPath string           `json:"report_path,omitempty"`
}

// runBacktest 运行回测
// ?format=csv|html|markdown 时直接返回导出的报告
func (h *handlers) runBacktest(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数错误: "+err.Error())
		return
	}
	format, err := backtest.ParseFormat(c.Query("format"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	start, end, err := parseRange(req.Start, req.End)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.Runner.Run(c.Request.Context(), backtest.Request{
		Strategy: req.Strategy,
		Symbol:   req.Symbol,
		Start:    start,
		End:      end,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	resp := BacktestResponse{Success: true, Result: result}
	if req.SaveReport && h.ReportsDir != "" {
		path, err := backtest.GenerateReport(h.ReportsDir, result)
		if err != nil {
			logger.Warn("⚠️ 生成回测报告失败: %v", err)
		} else {
			resp.ReportPath = path
		}
	}

	if format != backtest.FormatJSON {
		c.Header("Content-Type", format.ContentType())
		c.Status(http.StatusOK)
		if err := backtest.Export(c.Writer, result, format); err != nil {
			logger.Error("❌ 导出回测报告失败: %v", err)
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

// WalkForwardRequest 滚动验证请求，n_folds 与 test_window_days 缺省时使用配置值
type WalkForwardRequest struct {
	Strategy       string `json:"strategy" binding:"required"`
	Symbol         string `json:"symbol" binding:"required"`
	Start          string `json:"start" binding:"required"`
	End            string `json:"end" binding:"required"`
	NFolds         *int   `json:"n_folds"`
	TestWindowDays *int   `json:"test_window_days"`
}

func (h *handlers) walkForwardRequest(strategyName string, req WalkForwardRequest) (walkforward.Request, error) {
	start, end, err := parseRange(req.Start, req.End)
	if err != nil {
		return walkforward.Request{}, err
	}
	wf := walkforward.Request{
		Strategy:       strategyName,
		Symbol:         req.Symbol,
		Start:          start,
		End:            end,
		NFolds:         h.DefaultFolds,
		TestWindowDays: h.DefaultWindowDays,
	}
	if req.NFolds != nil {
		wf.NFolds = *req.NFolds
	}
	if req.TestWindowDays != nil {
		wf.TestWindowDays = *req.TestWindowDays
	}
	return wf, nil
}

// runWalkForward 运行滚动验证
func (h *handlers) runWalkForward(c *gin.Context) {
	var req WalkForwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数错误: "+err.Error())
		return
	}
	wf, err := h.walkForwardRequest(req.Strategy, req)
	if err != nil {
		respondError(c, err)
		return
	}
	result, err := h.Validator.Validate(c.Request.Context(), wf)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

// getRun 查询已保存的滚动验证结果
func (h *handlers) getRun(c *gin.Context) {
	if h.Runs == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"success": false, "error": "未配置验证结果存储"})
		return
	}
	run, err := h.Runs.GetRun(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": run})
}
