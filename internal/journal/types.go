package journal

import (
	"time"

	"set-portfolio/internal/backtest"
	"set-portfolio/internal/optimize"
)

// EventType 表示运行日志事件类型。
type EventType string

const (
	EventAllocation      EventType = "allocation"
	EventPerformance     EventType = "performance"
	EventBacktestSummary EventType = "backtest_summary"
	EventGainWarning     EventType = "gain_warning"
	EventUpsideRanking   EventType = "upside_ranking"
	EventFetchFailure    EventType = "fetch_failure"
	EventError           EventType = "error"
)

// Event 封装通用运行事件。
type Event struct {
	RunID     string      `json:"run_id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// AllocationEntry 为单只股票的持仓。
type AllocationEntry struct {
	Symbol string  `json:"symbol"`
	Shares int     `json:"shares"`
	Price  float64 `json:"price"`
	Weight float64 `json:"weight"`
}

// AllocationPayload 记录最新一期的离散分配。
type AllocationPayload struct {
	AsOf     string            `json:"as_of"`
	Capital  float64           `json:"capital"`
	Leftover float64           `json:"leftover"`
	Entries  []AllocationEntry `json:"entries"`
}

// PerformancePayload 记录优化结果。
type PerformancePayload struct {
	Performance optimize.Performance `json:"performance"`
	Weights     map[string]float64   `json:"weights"`
}

// BacktestSummaryPayload 记录回测汇总。
type BacktestSummaryPayload struct {
	HoldingDays     int              `json:"holding_days"`
	IncludeLeftover bool             `json:"include_leftover"`
	Warnings        int              `json:"warnings"`
	Metrics         backtest.Metrics `json:"metrics"`
}

// UpsideEntry 为排名中的一行。
type UpsideEntry struct {
	Symbol    string   `json:"symbol"`
	UpsidePct *float64 `json:"upside_pct"`
}

// UpsideRankingPayload 记录目标价筛选结果。
type UpsideRankingPayload struct {
	Requested int           `json:"requested"`
	Fetched   int           `json:"fetched"`
	Failed    int           `json:"failed"`
	Rows      []UpsideEntry `json:"rows"`
}

// FetchFailurePayload 记录行情获取失败。
type FetchFailurePayload struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
