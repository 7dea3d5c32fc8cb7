package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"
)

// Format 报告导出格式
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
)

// ParseFormat 解析导出格式，空字符串视为 json
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatHTML, FormatMarkdown:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("不支持的报告格式: %s", s)
}

// ContentType HTTP 响应类型
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	}
	return "application/json; charset=utf-8"
}

// Extension 文件扩展名
func (f Format) Extension() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// Export 按格式导出，仅依赖 result 内容
func Export(w io.Writer, result *Result, f Format) error {
	switch f {
	case FormatCSV:
		return WriteTradesCSV(w, result.Report)
	case FormatHTML:
		return RenderHTML(w, result)
	case FormatMarkdown:
		return RenderMarkdown(w, result)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
}

// GenerateReport 写入 Markdown 报告与权益曲线 CSV，返回报告路径
func GenerateReport(dir string, result *Result) (string, error) {
	if dir == "" {
		dir = filepath.Join("backtest", "reports")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	base := fmt.Sprintf("%s_%s_%s", result.Strategy, result.Symbol, time.Now().Format("2006-01-02_15-04-05"))
	reportPath := filepath.Join(dir, base+".md")
	if err := writeFile(reportPath, func(w io.Writer) error { return RenderMarkdown(w, result) }); err != nil {
		return "", err
	}
	equityPath := filepath.Join(dir, base+"_equity.csv")
	if err := writeFile(equityPath, func(w io.Writer) error { return WriteEquityCSV(w, result.Report) }); err != nil {
		return "", err
	}
	return reportPath, nil
}

func writeFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建文件失败: %w", err)
	}
	if err := render(f); err != nil {
		f.Close()
		return fmt.Errorf("写入 %s 失败: %w", path, err)
	}
	return f.Close()
}

// WriteTradesCSV 导出成交账本
func WriteTradesCSV(w io.Writer, report *BacktestReport) error {
	writer := csv.NewWriter(w)
	header := []string{"symbol", "side", "entry_time", "exit_time", "entry_price", "exit_price",
		"size", "pnl", "commission", "exit_reason", "r_multiple"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, t := range report.Trades {
		r := ""
		if t.RMultiple.Valid {
			r = t.RMultiple.Decimal.String()
		}
		record := []string{
			t.Symbol,
			string(t.Side),
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			t.EntryPrice.String(),
			t.ExitPrice.String(),
			t.Size.String(),
			t.PnL.StringFixed(2),
			t.Commission.StringFixed(4),
			string(t.ExitReason),
			r,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteEquityCSV 导出逐日权益序列
func WriteEquityCSV(w io.Writer, report *BacktestReport) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"date", "equity", "peak_equity", "cumulative_pnl", "drawdown"}); err != nil {
		return err
	}
	s := report.Equity
	for i := 0; i < s.Len(); i++ {
		record := []string{
			s.Dates[i].Format("2006-01-02"),
			s.Equity[i].StringFixed(2),
			s.PeakEquity[i].StringFixed(2),
			s.CumulativePnL[i].StringFixed(2),
			s.Drawdown(i).StringFixed(4),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// reportView 模板数据
type reportView struct {
	Strategy   string
	Symbol     string
	StartDate  string
	EndDate    string
	Bars       int
	Errors     int
	R          *BacktestReport
	TopTrades  []Trade
	Conclusion []string
}

func newReportView(result *Result) reportView {
	r := result.Report
	top := r.Trades
	if len(top) > 20 {
		top = top[:20]
	}
	return reportView{
		Strategy:   result.Strategy,
		Symbol:     result.Symbol,
		StartDate:  result.Start.Format("2006-01-02"),
		EndDate:    result.End.Format("2006-01-02"),
		Bars:       result.Bars,
		Errors:     result.SignalErrors,
		R:          r,
		TopTrades:  top,
		Conclusion: conclusions(r),
	}
}

// conclusions 按收益、回撤、夏普、胜率、利润因子给出评语
func conclusions(m *BacktestReport) []string {
	if m.TotalTrades == 0 {
		return []string{"⚠️ 回测区间内没有产生交易"}
	}
	var out []string

	switch {
	case m.TotalReturn > 50:
		out = append(out, "✅ 策略表现优秀，总收益率超过 50%")
	case m.TotalReturn > 20:
		out = append(out, "✅ 策略表现良好，总收益率超过 20%")
	case m.TotalReturn > 0:
		out = append(out, "⚠️ 策略盈利，但收益率较低")
	default:
		out = append(out, "❌ 策略亏损，需要优化参数或更换策略")
	}

	switch {
	case m.MaxDrawdown < 10:
		out = append(out, "✅ 风险控制良好，最大回撤小于 10%")
	case m.MaxDrawdown < 20:
		out = append(out, "⚠️ 风险适中，最大回撤在 10-20% 之间")
	default:
		out = append(out, "❌ 风险较高，最大回撤超过 20%")
	}

	switch {
	case m.SharpeRatio > 2:
		out = append(out, "✅ 风险调整收益优秀，夏普比率 > 2")
	case m.SharpeRatio > 1:
		out = append(out, "✅ 风险调整收益良好，夏普比率 > 1")
	case m.SharpeRatio > 0:
		out = append(out, "⚠️ 风险调整收益一般，夏普比率 < 1")
	default:
		out = append(out, "❌ 风险调整收益差，夏普比率为负")
	}

	if m.WinRate > 55 {
		out = append(out, "✅ 胜率良好，超过 55%")
	} else {
		out = append(out, "⚠️ 胜率较低，需要优化策略")
	}

	switch {
	case m.ProfitFactor > 2:
		out = append(out, "✅ 利润因子优秀，盈利能力强")
	case m.ProfitFactor > 1:
		out = append(out, "⚠️ 利润因子一般")
	default:
		out = append(out, "❌ 利润因子 < 1，平均亏损大于平均盈利")
	}
	return out
}

const markdownTemplate = `# {{.Strategy}} 策略回测报告

## 执行摘要

- **交易对**: {{.Symbol}}
- **回测期间**: {{.StartDate}} 至 {{.EndDate}} ({{.Bars}} 根K线)
- **初始资金**: ${{.R.InitialBalance.StringFixed 2}}
- **最终资金**: ${{.R.FinalBalance.StringFixed 2}}
- **总收益率**: {{printf "%.2f" .R.TotalReturn}}%
- **最大回撤**: {{printf "%.2f" .R.MaxDrawdown}}%
- **夏普比率**: {{printf "%.4f" .R.SharpeRatio}}
- **信号失败**: {{.Errors}}

## 风险调整收益

| 指标 | 数值 |
|------|------|
| 夏普比率 | {{printf "%.4f" .R.SharpeRatio}} |
| 索提诺比率 | {{printf "%.4f" .R.SortinoRatio}} |
| 卡玛比率 | {{printf "%.4f" .R.CalmarRatio}} |
| 恢复因子 | {{printf "%.4f" .R.RecoveryFactor}} |

## 回撤

| 指标 | 数值 |
|------|------|
| 最大回撤 | {{printf "%.2f" .R.MaxDrawdown}}% |
| 最大回撤金额 | ${{.R.MaxDrawdownAmount.StringFixed 2}} |
| 最大回撤持续 | {{.R.MaxDrawdownDuration}} |
| 最大连续亏损 | {{.R.MaxConsecutiveLosses}} 天 (${{.R.ConsecutiveLossAmount.StringFixed 2}}) |

## 交易指标

| 指标 | 数值 |
|------|------|
| 总交易次数 | {{.R.TotalTrades}} |
| 盈利 / 亏损 | {{.R.WinningTrades}} / {{.R.LosingTrades}} |
| 胜率 | {{printf "%.2f" .R.WinRate}}% |
| 利润因子 | {{printf "%.4f" .R.ProfitFactor}} |
| 平均盈利 | ${{.R.AvgWin.StringFixed 2}} |
| 平均亏损 | ${{.R.AvgLoss.StringFixed 2}} |
| 最大单笔盈利 | ${{.R.LargestWin.StringFixed 2}} |
| 最大单笔亏损 | ${{.R.LargestLoss.StringFixed 2}} |
| 期望值 | ${{.R.Expectancy.StringFixed 2}} |
| 手续费合计 | ${{.R.TotalCommission.StringFixed 2}} |

## 交易明细（前20笔）

| 平仓时间 | 方向 | 开仓价 | 平仓价 | 数量 | 盈亏 | 原因 |
|------|------|------|------|------|------|------|
{{range .TopTrades}}| {{.ExitTime.Format "2006-01-02 15:04"}} | {{.Side}} | {{.EntryPrice}} | {{.ExitPrice}} | {{.Size}} | {{.PnL.StringFixed 2}} | {{.ExitReason}} |
{{end}}
## 高级风险指标

| 指标 | 数值 |
|------|------|
| VaR (95%) | {{printf "%.2f" .R.Risk.VaR95}}% |
| VaR (99%) | {{printf "%.2f" .R.Risk.VaR99}}% |
| CVaR (95%) | {{printf "%.2f" .R.Risk.CVaR95}}% |
| CVaR (99%) | {{printf "%.2f" .R.Risk.CVaR99}}% |

## 结论
{{range .Conclusion}}
{{.}}
{{end}}
---

*本报告由 quantgate 回测系统自动生成*
`

const htmlTemplate = `<!DOCTYPE html>
<html lang="zh-CN">
<head><meta charset="utf-8"><title>{{.Strategy}} {{.Symbol}} 回测报告</title></head>
<body>
<h1>{{.Strategy}} 策略回测报告</h1>
<p>{{.Symbol}} | {{.StartDate}} 至 {{.EndDate}} | {{.Bars}} 根K线</p>
<table>
<tr><th>初始资金</th><td>{{.R.InitialBalance.StringFixed 2}}</td></tr>
<tr><th>最终资金</th><td>{{.R.FinalBalance.StringFixed 2}}</td></tr>
<tr><th>总收益率</th><td>{{printf "%.2f" .R.TotalReturn}}%</td></tr>
<tr><th>夏普比率</th><td>{{printf "%.4f" .R.SharpeRatio}}</td></tr>
<tr><th>索提诺比率</th><td>{{printf "%.4f" .R.SortinoRatio}}</td></tr>
<tr><th>卡玛比率</th><td>{{printf "%.4f" .R.CalmarRatio}}</td></tr>
<tr><th>最大回撤</th><td>{{printf "%.2f" .R.MaxDrawdown}}%</td></tr>
<tr><th>胜率</th><td>{{printf "%.2f" .R.WinRate}}%</td></tr>
<tr><th>利润因子</th><td>{{printf "%.4f" .R.ProfitFactor}}</td></tr>
<tr><th>交易次数</th><td>{{.R.TotalTrades}}</td></tr>
</table>
<h2>交易明细</h2>
<table>
<tr><th>平仓时间</th><th>方向</th><th>开仓价</th><th>平仓价</th><th>盈亏</th><th>原因</th></tr>
{{range .TopTrades}}<tr><td>{{.ExitTime.Format "2006-01-02 15:04"}}</td><td>{{.Side}}</td><td>{{.EntryPrice}}</td><td>{{.ExitPrice}}</td><td>{{.PnL.StringFixed 2}}</td><td>{{.ExitReason}}</td></tr>
{{end}}</table>
<h2>结论</h2>
<ul>{{range .Conclusion}}<li>{{.}}</li>{{end}}</ul>
</body>
</html>
`

var (
	markdownTmpl = template.Must(template.New("markdown").Parse(markdownTemplate))
	htmlTmpl     = htmltemplate.Must(htmltemplate.New("html").Parse(htmlTemplate))
)

// RenderMarkdown 渲染 Markdown 报告
func RenderMarkdown(w io.Writer, result *Result) error {
	return markdownTmpl.Execute(w, newReportView(result))
}

// RenderHTML 渲染 HTML 报告，策略名等字段会被转义
func RenderHTML(w io.Writer, result *Result) error {
	return htmlTmpl.Execute(w, newReportView(result))
}
