package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"set-portfolio/internal/series"
)

// Record 为一个纳入结果的回测窗口。
type Record struct {
	BuyDate  time.Time `json:"buy_date"`
	SellDate time.Time `json:"sell_date"`
	Gain     float64   `json:"gain"`
}

// Result 汇总回测结果，Records 与价格索引保持相同顺序。
type Result struct {
	Records  []Record
	Outcomes []WindowOutcome
	Warnings []GainWarning
	Metrics  Metrics
}

// Engine 在历史上的每个交易日按固定权重重新建仓，持有固定天数后计算盈亏。
type Engine struct {
	cfg       Config
	allocator Allocator
	recorder  WarningRecorder
	logger    *zap.Logger
}

// NewEngine 构建回测引擎。
func NewEngine(cfg Config, allocator Allocator, recorder WarningRecorder, logger *zap.Logger) (*Engine, error) {
	if allocator == nil {
		return nil, errors.New("backtest: allocator 不能为空")
	}
	if cfg.Capital <= 0 {
		return nil, fmt.Errorf("backtest: 资金必须大于0，当前 %.2f", cfg.Capital)
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		cfg:       cfg.normalize(),
		allocator: allocator,
		recorder:  recorder,
		logger:    logger,
	}, nil
}

// Run 对价格索引中的每个日期执行单窗口回测。
// 卖出日缺失与分配不可行两种情况只跳过当前窗口，其余错误终止整个回测。
func (e *Engine) Run(ctx context.Context, prices *series.Table, weights map[string]float64) (Result, error) {
	if prices == nil {
		return Result{}, errors.New("backtest: 价格数据不能为空")
	}

	positive := make(map[string]float64, len(weights))
	symbols := make([]string, 0, len(weights))
	for sym, w := range weights {
		if w > 0 {
			positive[sym] = w
			symbols = append(symbols, sym)
		}
	}
	if len(positive) == 0 {
		return Result{}, errors.New("backtest: 没有正权重股票")
	}

	restricted, err := prices.Restrict(symbols)
	if err != nil {
		return Result{}, fmt.Errorf("backtest: %w", err)
	}

	dates := restricted.Dates()
	result := Result{
		Records:  make([]Record, 0, len(dates)),
		Outcomes: make([]WindowOutcome, 0, len(dates)),
	}

	for _, buy := range dates {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		outcome, err := e.evaluateWindow(ctx, restricted, positive, buy)
		if err != nil {
			return Result{}, err
		}
		result.Outcomes = append(result.Outcomes, outcome)
		result.Warnings = append(result.Warnings, outcome.Warnings...)

		if outcome.Status != WindowIncluded {
			continue
		}
		result.Records = append(result.Records, Record{
			BuyDate:  outcome.BuyDate,
			SellDate: outcome.SellDate,
			Gain:     outcome.Gain,
		})
	}

	result.Metrics = calculateMetrics(result.Outcomes, e.cfg.Capital)

	e.logger.Info("回测完成",
		zap.Int("windows", result.Metrics.Windows),
		zap.Int("included", result.Metrics.Included),
		zap.Int("skipped_missing_date", result.Metrics.SkippedMissingDate),
		zap.Int("skipped_infeasible", result.Metrics.SkippedInfeasible),
		zap.Int("warnings", len(result.Warnings)),
		zap.Float64("mean_gain", result.Metrics.MeanGain),
		zap.Bool("include_leftover", e.cfg.IncludeLeftover),
	)

	return result, nil
}
