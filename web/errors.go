package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"quantgate/backtest"
	"quantgate/database"
	"quantgate/market"
	"quantgate/promotion"
)

// statusFor 把领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	var notFound *backtest.StrategyNotFoundError
	switch {
	case errors.Is(err, market.ErrConfig):
		return http.StatusBadRequest
	case errors.As(err, &notFound), errors.Is(err, promotion.ErrNotFound), errors.Is(err, database.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, market.ErrData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, market.ErrState), errors.Is(err, promotion.ErrConcurrentUpdate), errors.Is(err, promotion.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= 500 {
		c.Error(err)
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}

// parseDate 接受 2006-01-02 或 RFC3339，空字符串返回零值
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// parseRange 解析 [start, end) 两端
func parseRange(start, end string) (time.Time, time.Time, error) {
	s, err := parseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, &market.ConfigError{Field: "start", Value: start, Reason: "日期格式应为 YYYY-MM-DD 或 RFC3339"}
	}
	e, err := parseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, &market.ConfigError{Field: "end", Value: end, Reason: "日期格式应为 YYYY-MM-DD 或 RFC3339"}
	}
	return s, e, nil
}
