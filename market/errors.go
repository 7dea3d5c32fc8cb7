package market

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// 错误分类，使用 errors.Is 判断
var (
	// ErrData 历史数据缺失或不合法，运行开始前终止
	ErrData = errors.New("data error")
	// ErrStrategy 策略查找或信号生成失败
	ErrStrategy = errors.New("strategy error")
	// ErrConfig 参数或阈值不合法，任何工作开始前终止
	ErrConfig = errors.New("config error")
	// ErrState 晋升前置状态不满足
	ErrState = errors.New("state error")
)

// NotFoundError 数据源在给定区间内没有任何 bar
type NotFoundError struct {
	Symbol string
	Start  time.Time
	End    time.Time
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("未找到 %s 的历史数据 [%s, %s)", e.Symbol, FormatDate(e.Start), FormatDate(e.End))
}

func (e *NotFoundError) Unwrap() error { return ErrData }

// SchemaError 数据缺少必需的 OHLCV 列
type SchemaError struct {
	Source  string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s 缺少必需列: %s", e.Source, strings.Join(e.Missing, ", "))
}

func (e *SchemaError) Unwrap() error { return ErrData }

// ConfigError 配置或请求参数不合法
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置错误 %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// RequiredColumns bar 数据必需的列名
var RequiredColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

// MissingColumns 返回 have 中缺少的必需列
func MissingColumns(have []string) []string {
	set := make(map[string]bool, len(have))
	for _, c := range have {
		set[strings.ToLower(strings.TrimSpace(c))] = true
	}
	var missing []string
	for _, c := range RequiredColumns {
		if !set[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

// FormatDate 日期格式化，零值输出 "-"
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}
