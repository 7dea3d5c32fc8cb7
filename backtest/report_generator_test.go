package backtest

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"quantgate/market"
)

func sampleResult(t *testing.T) *Result {
	t.Helper()
	bars := barsFromCloses("BTCUSDT", 100, 104, 99, 97, 103, 108)
	strat := &scripted{name: "<script>", signals: map[int]*market.Signal{
		0: long(90, 103),
		2: {Side: market.Long},
		4: {Side: market.Flat},
	}}
	r, _ := newTestRunner(t, testConfig(), bars, strat)
	res, err := r.Run(context.Background(), Request{Strategy: "<script>", Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	return res
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{"": FormatJSON, "CSV": FormatCSV, "html": FormatHTML, "md": FormatMarkdown, "markdown": FormatMarkdown}
	for in, want := range tests {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("不支持的格式应返回错误")
	}
}

func TestExportFormats(t *testing.T) {
	res := sampleResult(t)
	if res.Report.TotalTrades != 2 {
		t.Fatalf("期望 2 笔交易, 得到 %d", res.Report.TotalTrades)
	}

	var buf bytes.Buffer
	if err := Export(&buf, res, FormatJSON); err != nil {
		t.Fatalf("JSON 导出失败: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("JSON 无法解析: %v", err)
	}
	if decoded["strategy"] != "<script>" {
		t.Errorf("JSON 缺少策略名")
	}

	buf.Reset()
	if err := Export(&buf, res, FormatCSV); err != nil {
		t.Fatalf("CSV 导出失败: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("CSV 无法解析: %v", err)
	}
	if len(records) != 3 || records[0][0] != "symbol" || records[1][9] != string(ExitTakeProfit) {
		t.Errorf("CSV 内容不正确: %v", records)
	}

	buf.Reset()
	if err := Export(&buf, res, FormatMarkdown); err != nil {
		t.Fatalf("Markdown 导出失败: %v", err)
	}
	md := buf.String()
	for _, want := range []string{"# <script> 策略回测报告", "| 总交易次数 | 2 |", "take_profit"} {
		if !strings.Contains(md, want) {
			t.Errorf("Markdown 缺少 %q", want)
		}
	}

	buf.Reset()
	if err := Export(&buf, res, FormatHTML); err != nil {
		t.Fatalf("HTML 导出失败: %v", err)
	}
	html := buf.String()
	if strings.Contains(html, "<h1><script>") || !strings.Contains(html, "&lt;script&gt;") {
		t.Errorf("HTML 应转义策略名")
	}
}

func TestWriteEquityCSV(t *testing.T) {
	res := sampleResult(t)
	var buf bytes.Buffer
	if err := WriteEquityCSV(&buf, res.Report); err != nil {
		t.Fatalf("导出失败: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != res.Report.Equity.Len()+1 {
		t.Errorf("行数不正确: %d", len(records))
	}
}

func TestGenerateReport(t *testing.T) {
	res := sampleResult(t)
	dir := t.TempDir()
	path, err := GenerateReport(dir, res)
	if err != nil {
		t.Fatalf("生成报告失败: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("报告文件不存在: %v", err)
	}
	if _, err := os.Stat(strings.TrimSuffix(path, ".md") + "_equity.csv"); err != nil {
		t.Errorf("权益曲线文件不存在: %v", err)
	}
}

func TestConclusionsNoTrades(t *testing.T) {
	got := conclusions(&BacktestReport{})
	if len(got) != 1 {
		t.Errorf("无交易时只给出一条结论, 得到 %v", got)
	}
}
